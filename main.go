package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"sos_sheet_sync/internal/app"
	"sos_sheet_sync/internal/dedup"
	"sos_sheet_sync/internal/extract"
	"sos_sheet_sync/internal/monitor"
	"sos_sheet_sync/internal/reconcile"
	"sos_sheet_sync/internal/resolve"

	"github.com/rs/zerolog/log"
)

func main() {
	app.SetupEnvironment()
	log.Debug().Msg("Starting application")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session := app.InitializeSession(ctx)
	sosClient, sheetsClient := app.InitializeClients(ctx, session)
	notifier := app.InitializeNotificationClient()

	searchMaxResults := getEnvInt("SEARCH_MAX_RESULTS", 50)
	resolver := resolve.NewResolver(sosClient, searchMaxResults)
	engine := reconcile.NewEngine(sosClient)

	spreadsheetID := app.GetRequiredEnv("SPREADSHEET_ID")
	sheetNames := splitList(app.GetEnvWithDefault("SHEET_NAMES", "Orders"))
	if len(sheetNames) == 0 {
		log.Fatal().Msg("SHEET_NAMES resolved to an empty list")
	}

	pollInterval := time.Duration(getEnvInt("POLL_INTERVAL_SECONDS", 60)) * time.Second
	maxAttempts := getEnvInt("ROW_RETRY_ATTEMPTS", 3)
	retention := time.Duration(getEnvInt("DEDUP_RETENTION_DAYS", 90)) * 24 * time.Hour

	log.Info().
		Str("spreadsheet", spreadsheetID).
		Strs("sheets", sheetNames).
		Dur("interval", pollInterval).
		Msg("Starting sheet-to-order sync. Running immediately and then on every tick...")

	var wg sync.WaitGroup
	for _, sheetName := range sheetNames {
		store := app.InitializeDedupStore(sheetName)
		defer store.Close()

		tracker, err := dedup.NewTracker(store, maxAttempts, retention)
		if err != nil {
			log.Fatal().Err(err).Str("sheet", sheetName).Msg("Failed to initialize row tracker")
		}

		m := monitor.New(monitor.Config{
			SpreadsheetID:    spreadsheetID,
			SheetName:        sheetName,
			ReadRange:        sheetName + "!A1:Z1000",
			MarkerText:       app.GetEnvWithDefault("MARKER_TEXT", "Done?"),
			OrderColumn:      getEnvInt("ORDER_COLUMN", 1),
			Layout:           extract.DefaultLayout,
			PollInterval:     pollInterval,
			SearchMaxResults: searchMaxResults,
		}, sheetsClient, tracker, resolver, engine, session, notifier)

		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Run(ctx)
		}()
	}

	wg.Wait()
	log.Info().Msg("All sheet monitors stopped, shutting down")
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getEnvInt(key string, defaultValue int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		log.Warn().Str("key", key).Str("value", raw).Msg("Ignoring non-numeric environment variable")
		return defaultValue
	}
	return value
}
