// Package reconcile merges extracted item requests into a remote sales
// order through a read-modify-write cycle.
package reconcile

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"sos_sheet_sync/internal/extract"
	"sos_sheet_sync/internal/sos"

	"github.com/rs/zerolog/log"
)

// priceTolerance is the smallest unit price delta treated as a real change.
const priceTolerance = 0.001

// OrderService is the slice of the SOS client the engine needs.
type OrderService interface {
	GetSalesOrder(ctx context.Context, id int) (*sos.SalesOrder, error)
	UpdateSalesOrder(ctx context.Context, order *sos.SalesOrder) error
	GetItem(ctx context.Context, itemID string) (*sos.Item, error)
}

// Summary reports what one merge changed.
type Summary struct {
	OrderID         int
	OrderNumber     string
	ItemsAdded      int
	ItemsUpdated    int
	PricesUpdated   int
	AmountsUpdated  int
	DueDatesUpdated int
	// PriceFailures lists item ids whose price lookup failed. Those lines
	// are still written with price 0: a visible $0 line an operator can fix
	// beats a silently missing one.
	PriceFailures []string
}

// Engine performs order merges. One instance is shared across sheet loops;
// a per-order lock serializes merges that resolve to the same remote order,
// since the PUT is a whole-document replace with no server-side locking.
type Engine struct {
	api OrderService
	now func() time.Time

	mu         sync.Mutex
	orderLocks map[int]*sync.Mutex
}

func NewEngine(api OrderService) *Engine {
	return &Engine{
		api:        api,
		now:        time.Now,
		orderLocks: make(map[int]*sync.Mutex),
	}
}

func (e *Engine) lockOrder(orderID int) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.orderLocks[orderID]
	if !ok {
		lock = &sync.Mutex{}
		e.orderLocks[orderID] = lock
	}
	return lock
}

// Merge fetches the order, applies every item request to its line
// collection, and PUTs the whole order back. A read failure aborts before
// anything is written; a write failure leaves the remote order unchanged.
func (e *Engine) Merge(ctx context.Context, orderID int, items []extract.ItemRequest) (*Summary, error) {
	lock := e.lockOrder(orderID)
	lock.Lock()
	defer lock.Unlock()

	order, err := e.api.GetSalesOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to read sales order %d: %w", orderID, err)
	}

	summary := &Summary{OrderID: orderID, OrderNumber: order.Number}
	for _, req := range items {
		e.applyRequest(ctx, order, req, summary)
	}

	if err := e.api.UpdateSalesOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("failed to write sales order %d: %w", orderID, err)
	}

	log.Info().
		Int("order_id", orderID).
		Str("order_number", order.Number).
		Int("items_added", summary.ItemsAdded).
		Int("items_updated", summary.ItemsUpdated).
		Int("prices_updated", summary.PricesUpdated).
		Int("price_failures", len(summary.PriceFailures)).
		Msg("Merged items into sales order")
	return summary, nil
}

func (e *Engine) applyRequest(ctx context.Context, order *sos.SalesOrder, req extract.ItemRequest, summary *Summary) {
	price, priceOK := e.lookupPrice(ctx, req, summary)

	if !req.ForceNewLine {
		for i := range order.Lines {
			if order.Lines[i].ItemID() == req.ItemID {
				e.incrementLine(&order.Lines[i], req, price, priceOK, summary)
				return
			}
		}
	}

	e.appendLine(order, req, price, summary)
}

// incrementLine folds a request into an existing line: quantity added,
// price refreshed only past the tolerance, amount always recomputed because
// the quantity changed, due date always overwritten.
func (e *Engine) incrementLine(line *sos.OrderLine, req extract.ItemRequest, price float64, priceOK bool, summary *Summary) {
	line.Quantity += req.Quantity

	if priceOK && math.Abs(line.UnitPrice-price) > priceTolerance {
		log.Debug().
			Int("line", line.LineNumber).
			Float64("old_price", line.UnitPrice).
			Float64("new_price", price).
			Msg("Unit price changed, updating line")
		line.UnitPrice = price
		summary.PricesUpdated++
	}

	line.Amount = round2(line.Quantity * line.UnitPrice)
	summary.AmountsUpdated++

	line.DueDate = e.dueDate(req)
	summary.DueDatesUpdated++

	summary.ItemsUpdated++
}

func (e *Engine) appendLine(order *sos.SalesOrder, req extract.ItemRequest, price float64, summary *Summary) {
	line := sos.OrderLine{
		LineNumber:  order.NextLineNumber(),
		Item:        itemRef(req),
		Description: req.DisplayName,
		Quantity:    req.Quantity,
		UnitPrice:   price,
		Amount:      round2(req.Quantity * price),
		DueDate:     e.dueDate(req),
	}
	order.Lines = append(order.Lines, line)
	summary.ItemsAdded++

	log.Debug().
		Int("order_id", order.ID).
		Int("line", line.LineNumber).
		Str("item_id", req.ItemID).
		Float64("quantity", req.Quantity).
		Float64("unitprice", price).
		Msg("Appended new order line")
}

// lookupPrice fetches the item's current price. Failures degrade to price 0
// and are reported, never dropped.
func (e *Engine) lookupPrice(ctx context.Context, req extract.ItemRequest, summary *Summary) (float64, bool) {
	item, err := e.api.GetItem(ctx, req.ItemID)
	if err != nil {
		log.Warn().
			Err(err).
			Str("item_id", req.ItemID).
			Str("item_name", req.DisplayName).
			Msg("Price lookup failed, writing line with price 0")
		summary.PriceFailures = append(summary.PriceFailures, req.ItemID)
		return 0, false
	}
	if item.BasePrice < 0 {
		log.Warn().
			Str("item_id", req.ItemID).
			Float64("price", item.BasePrice).
			Msg("Negative base price from item lookup, treating as 0")
		return 0, true
	}
	return item.BasePrice, true
}

func (e *Engine) dueDate(req extract.ItemRequest) string {
	if req.RowDate != nil {
		return req.RowDate.Format("2006-01-02")
	}
	return e.now().Format("2006-01-02")
}

func itemRef(req extract.ItemRequest) *sos.Ref {
	id, _ := strconv.Atoi(req.ItemID)
	return &sos.Ref{ID: id, Name: req.DisplayName}
}

// round2 is the only rounding in the pipeline: amounts are money.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
