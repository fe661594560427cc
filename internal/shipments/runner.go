package shipments

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"sos_sheet_sync/internal/sos"

	"github.com/rs/zerolog/log"
)

// API is the slice of the SOS client the runner needs.
type API interface {
	ListSalesOrders(ctx context.Context, query url.Values) (*sos.SearchResult, error)
	CreateShipment(ctx context.Context, shipment *sos.Shipment) (*sos.Shipment, error)
	CreateSalesOrder(ctx context.Context, order *sos.SalesOrder) (*sos.SalesOrder, error)
}

// Config tunes the monthly run.
type Config struct {
	PageSize     int
	MaxShipments int
	// ListRetries and RetryBackoff govern the paged list call, the one
	// network operation the whole run depends on. Backoff is linear:
	// attempt n waits n * RetryBackoff.
	ListRetries  int
	RetryBackoff time.Duration
	// PlaceholderItem seeds next month's skeleton order with one line.
	PlaceholderItem sos.Ref
}

// Summary reports what a run did.
type Summary struct {
	OrdersMatched     int
	ShipmentsCreated  int
	NextOrdersCreated int
	Failures          int
}

// Runner drives one monthly close-out.
type Runner struct {
	api   API
	cfg   Config
	sleep func(time.Duration)
}

func NewRunner(api API, cfg Config) *Runner {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 200
	}
	if cfg.MaxShipments <= 0 {
		cfg.MaxShipments = 10
	}
	if cfg.ListRetries <= 0 {
		cfg.ListRetries = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 3 * time.Second
	}
	if cfg.PlaceholderItem.ID == 0 {
		cfg.PlaceholderItem = sos.Ref{ID: 2, Name: "Toilet Paper Roll"}
	}
	return &Runner{api: api, cfg: cfg, sleep: time.Sleep}
}

// Run creates shipments for the month's matching orders, then one skeleton
// sales order per shipment for the following month. Per-order failures are
// counted, not fatal.
func (r *Runner) Run(ctx context.Context, year int, month time.Month) (*Summary, error) {
	orders, err := r.FetchMonthOrders(ctx, year, month)
	if err != nil {
		return nil, err
	}

	summary := &Summary{OrdersMatched: len(orders)}
	if len(orders) > r.cfg.MaxShipments {
		log.Info().
			Int("matched", len(orders)).
			Int("cap", r.cfg.MaxShipments).
			Msg("Capping shipment creation")
		orders = orders[:r.cfg.MaxShipments]
	}

	for _, order := range orders {
		shipment, err := BuildShipment(&order, year, month)
		if err != nil {
			log.Error().Err(err).Str("order_number", order.Number).Msg("Cannot build shipment from order")
			summary.Failures++
			continue
		}

		created, err := r.api.CreateShipment(ctx, shipment)
		if err != nil {
			log.Error().Err(err).Str("order_number", order.Number).Msg("Shipment creation failed")
			summary.Failures++
			continue
		}
		summary.ShipmentsCreated++
		log.Info().
			Str("shipment_number", created.Number).
			Int("shipment_id", created.ID).
			Str("order_number", order.Number).
			Msg("Created shipment")

		// Only a fulfilled order earns next month's skeleton.
		next, err := r.buildNextOrder(&order, year, month)
		if err != nil {
			log.Warn().Err(err).Str("order_number", order.Number).Msg("Cannot build next month's order")
			continue
		}
		createdOrder, err := r.api.CreateSalesOrder(ctx, next)
		if err != nil {
			log.Warn().Err(err).Str("order_number", order.Number).Msg("Next month's order creation failed")
			continue
		}
		summary.NextOrdersCreated++
		log.Info().
			Str("new_number", createdOrder.Number).
			Int("new_id", createdOrder.ID).
			Msg("Created next month's sales order")
	}

	return summary, nil
}

// FetchMonthOrders pages through the month's orders and keeps the ones whose
// number references the month.
func (r *Runner) FetchMonthOrders(ctx context.Context, year int, month time.Month) ([]sos.SalesOrder, error) {
	dateFrom, dateTo := MonthRange(year, month)
	log.Info().
		Str("from", dateFrom).
		Str("to", dateTo).
		Msg("Fetching sales orders for month")

	var orders []sos.SalesOrder
	cursor := 0
	for {
		q := url.Values{}
		q.Set("start", strconv.Itoa(cursor))
		q.Set("maxresults", strconv.Itoa(r.cfg.PageSize))
		q.Set("dateFrom", dateFrom)
		q.Set("dateTo", dateTo)

		result, err := r.listPage(ctx, q)
		if err != nil {
			return nil, err
		}
		if len(result.Orders) == 0 {
			break
		}

		orders = append(orders, result.Orders...)
		log.Debug().
			Int("page", len(result.Orders)).
			Int("total_count", result.TotalCount).
			Msg("Retrieved order page")

		if len(result.Orders) < r.cfg.PageSize {
			break
		}
		cursor += len(result.Orders)
	}

	var matched []sos.SalesOrder
	for _, order := range orders {
		if NumberMatchesMonth(order.Number, month) {
			matched = append(matched, order)
		}
	}
	log.Info().
		Int("fetched", len(orders)).
		Int("matched", len(matched)).
		Msg("Filtered orders by month token")
	return matched, nil
}

func (r *Runner) listPage(ctx context.Context, q url.Values) (*sos.SearchResult, error) {
	var lastErr error
	for attempt := 1; attempt <= r.cfg.ListRetries; attempt++ {
		result, err := r.api.ListSalesOrders(ctx, q)
		if err == nil {
			return result, nil
		}
		lastErr = err
		log.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("max_attempts", r.cfg.ListRetries).
			Msg("Order list page failed")
		if attempt < r.cfg.ListRetries {
			r.sleep(time.Duration(attempt) * r.cfg.RetryBackoff)
		}
	}
	return nil, fmt.Errorf("failed to list sales orders after %d attempts: %w", r.cfg.ListRetries, lastErr)
}

// BuildShipment derives the shipment document from an order: its lines that
// carry an item, its customer and location, a linked-transaction header back
// to the order, and a ship date of midday on the first of the next month.
func BuildShipment(order *sos.SalesOrder, year int, month time.Month) (*sos.Shipment, error) {
	var lines []sos.OrderLine
	for _, line := range order.Lines {
		if line.Item == nil {
			continue
		}
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("sales order %q has no item lines", order.Number)
	}
	if order.Customer == nil {
		return nil, fmt.Errorf("sales order %q is missing its customer", order.Number)
	}
	if order.Location == nil {
		return nil, fmt.Errorf("sales order %q is missing its location", order.Number)
	}

	shipDate := firstOfNextMonth(year, month)
	shipment := &sos.Shipment{
		Number:          ShipmentNumber(order.Number),
		Date:            shipDate,
		ShipBy:          shipDate,
		Customer:        order.Customer,
		Location:        order.Location,
		CustomerPO:      order.CustomerPO,
		CustomerMessage: fmt.Sprintf("Shipment created from Sales Order #%s", order.Number),
		Comment:         "Auto-generated by monthly close-out",
		Billing:         order.Billing,
		Shipping:        order.Shipping,
		Lines:           lines,
	}
	if order.ID != 0 {
		shipment.LinkedTx = &sos.LinkedTx{
			ID:              order.ID,
			TransactionType: "SalesOrder",
			RefNumber:       order.Number,
		}
	}
	return shipment, nil
}

// buildNextOrder is the skeleton for the following month: same customer and
// location, the month token in the number advanced, one placeholder line.
func (r *Runner) buildNextOrder(order *sos.SalesOrder, year int, month time.Month) (*sos.SalesOrder, error) {
	if order.Customer == nil || order.Location == nil {
		return nil, fmt.Errorf("sales order %q is missing customer or location", order.Number)
	}

	nextFirst := firstOfNextMonth(year, month)
	placeholder := r.cfg.PlaceholderItem
	return &sos.SalesOrder{
		Number:     NextMonthNumber(order.Number, month),
		Date:       nextFirst,
		Customer:   order.Customer,
		Location:   order.Location,
		CustomerPO: order.CustomerPO,
		Billing:    order.Billing,
		Shipping:   order.Shipping,
		Lines: []sos.OrderLine{
			{
				LineNumber:  1,
				Item:        &placeholder,
				Description: placeholder.Name,
				Quantity:    1,
				UnitPrice:   0,
				Amount:      0,
				DueDate:     nextFirst[:10],
			},
		},
	}, nil
}
