// Command shipments runs the monthly close-out: it creates one shipment per
// matching sales order in the given month and seeds next month's orders.
//
// Usage: shipments [year month]   (defaults to the current month)
package main

import (
	"context"
	"os"
	"strconv"
	"time"

	"sos_sheet_sync/internal/app"
	"sos_sheet_sync/internal/shipments"

	"github.com/rs/zerolog/log"
)

func main() {
	app.SetupEnvironment()

	year, month := targetMonth(os.Args[1:])
	ctx := context.Background()

	session := app.InitializeSession(ctx)
	sosClient, _ := app.InitializeClients(ctx, session)

	runner := shipments.NewRunner(sosClient, shipments.Config{
		MaxShipments: envInt("MAX_SHIPMENTS", 10),
	})

	summary, err := runner.Run(ctx, year, month)
	if err != nil {
		log.Fatal().Err(err).Msg("Monthly shipment run failed")
	}

	log.Info().
		Int("orders_matched", summary.OrdersMatched).
		Int("shipments_created", summary.ShipmentsCreated).
		Int("next_orders_created", summary.NextOrdersCreated).
		Int("failures", summary.Failures).
		Msg("Monthly shipment run complete")
	if summary.Failures > 0 {
		os.Exit(1)
	}
}

func targetMonth(args []string) (int, time.Month) {
	now := time.Now()
	if len(args) < 2 {
		return now.Year(), now.Month()
	}

	year, err := strconv.Atoi(args[0])
	if err != nil {
		log.Fatal().Str("arg", args[0]).Msg("Usage: shipments [year month]")
	}
	monthNum, err := strconv.Atoi(args[1])
	if err != nil || monthNum < 1 || monthNum > 12 {
		log.Fatal().Str("arg", args[1]).Msg("Month must be 1-12")
	}
	return year, time.Month(monthNum)
}

func envInt(key string, defaultValue int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return defaultValue
	}
	return value
}
