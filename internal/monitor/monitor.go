// Package monitor runs the per-sheet polling loop: fetch, diff, select new
// completed rows, and push each one through resolution and reconciliation.
package monitor

import (
	"context"
	"errors"
	"time"

	"sos_sheet_sync/internal/config"
	"sos_sheet_sync/internal/dedup"
	"sos_sheet_sync/internal/extract"
	"sos_sheet_sync/internal/notifications"
	"sos_sheet_sync/internal/reconcile"
	"sos_sheet_sync/internal/retry"
	"sos_sheet_sync/internal/search"
	"sos_sheet_sync/internal/sheets"
	"sos_sheet_sync/internal/snapshot"
	"sos_sheet_sync/internal/sos"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config describes one monitored sheet.
type Config struct {
	SpreadsheetID string
	SheetName     string
	// ReadRange is the full A1 range fetched each cycle.
	ReadRange string
	// MarkerText is the completion column header, normally "Done?".
	MarkerText string
	// OrderColumn is the 0-indexed cell holding the order identifier the
	// search patterns are built from.
	OrderColumn  int
	Layout       extract.Layout
	PollInterval time.Duration
	// SearchMaxResults bounds each per-pattern order search.
	SearchMaxResults int
}

// SheetService is the slice of the sheets client the monitor needs.
type SheetService interface {
	ReadSnapshot(ctx context.Context, spreadsheetID, readRange string) (snapshot.Snapshot, error)
	ColorRow(ctx context.Context, spreadsheetID, sheetName string, rowNumber, width int, color sheets.RowColor) error
}

// OrderResolver maps search patterns to a single sales order.
type OrderResolver interface {
	Resolve(ctx context.Context, patterns []string) (*sos.SalesOrder, error)
}

// Merger applies item requests to a resolved order.
type Merger interface {
	Merge(ctx context.Context, orderID int, items []extract.ItemRequest) (*reconcile.Summary, error)
}

// Session revalidates credentials after an authentication failure.
type Session interface {
	EnsureValid(ctx context.Context) error
}

// Notifier pushes row and cycle outcomes. notifications.Client implements it.
type Notifier interface {
	NotifyRowFailure(ctx context.Context, outcome notifications.RowOutcome)
	NotifyCycleSummary(ctx context.Context, sheetName string, outcomes []notifications.RowOutcome)
}

// Monitor owns the polling loop for one sheet. Not safe for concurrent use;
// run one Monitor per sheet, each on its own goroutine.
type Monitor struct {
	cfg        Config
	sheets     SheetService
	tracker    *dedup.Tracker
	resolver   OrderResolver
	merger     Merger
	session    Session
	notifier   Notifier
	resilience config.ResilienceConfig

	lastFingerprint string
}

func New(cfg Config, sheetSvc SheetService, tracker *dedup.Tracker, resolver OrderResolver, merger Merger, session Session, notifier Notifier) *Monitor {
	if cfg.MarkerText == "" {
		cfg.MarkerText = "Done?"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Minute
	}
	if cfg.SearchMaxResults <= 0 {
		cfg.SearchMaxResults = 50
	}
	return &Monitor{
		cfg:        cfg,
		sheets:     sheetSvc,
		tracker:    tracker,
		resolver:   resolver,
		merger:     merger,
		session:    session,
		notifier:   notifier,
		resilience: config.DefaultResilienceConfig,
	}
}

// Run polls until ctx is cancelled: one immediate cycle, then one per tick.
func (m *Monitor) Run(ctx context.Context) {
	log.Info().
		Str("sheet", m.cfg.SheetName).
		Dur("interval", m.cfg.PollInterval).
		Msg("Starting sheet monitor")

	m.RunCycle(ctx)

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("sheet", m.cfg.SheetName).Msg("Sheet monitor stopped")
			return
		case <-ticker.C:
			m.RunCycle(ctx)
		}
	}
}

// RunCycle executes one poll cycle. Row failures are contained to their row;
// only a fetch that keeps failing stalls the cycle.
func (m *Monitor) RunCycle(ctx context.Context) {
	cycleID := uuid.NewString()[:8]
	logger := log.With().
		Str("cycle", cycleID).
		Str("sheet", m.cfg.SheetName).
		Logger()

	snap, err := retry.WithRetry(ctx, m.resilience.SnapshotFetch, func(ctx context.Context) (snapshot.Snapshot, error) {
		return m.sheets.ReadSnapshot(ctx, m.cfg.SpreadsheetID, m.cfg.ReadRange)
	})
	if err != nil {
		// Only a cancelled context gets here; the fetch itself retries forever.
		logger.Warn().Err(err).Msg("Snapshot fetch abandoned")
		return
	}

	fingerprint := snapshot.Fingerprint(snap, "")
	if fingerprint == m.lastFingerprint {
		logger.Debug().Msg("Sheet unchanged since last cycle")
		return
	}
	m.lastFingerprint = fingerprint

	completed := snapshot.CompletedRows(snap, m.cfg.MarkerText)
	fresh, err := m.tracker.SelectNew(completed)
	if err != nil {
		logger.Error().Err(err).Msg("Row selection failed, skipping cycle")
		m.lastFingerprint = ""
		return
	}

	logger.Debug().
		Int("completed", len(completed)).
		Int("fresh", len(fresh)).
		Msg("Selected rows for processing")

	var outcomes []notifications.RowOutcome
	rowsFailed := false
	for _, row := range fresh {
		outcome := m.processRow(ctx, logger, snap, row)
		outcomes = append(outcomes, outcome)
		m.recordOutcome(ctx, logger, row, outcome)
		if outcome.Err != nil {
			rowsFailed = true
		}

		if errors.Is(outcome.Err, sos.ErrUnauthorized) {
			// The token is dead; nothing else will succeed this cycle.
			// Revalidate, forget the fingerprint so the next cycle is not
			// short-circuited, and let the failed rows retry then.
			logger.Warn().Msg("Authentication failure, revalidating session and ending cycle")
			if authErr := m.session.EnsureValid(ctx); authErr != nil {
				logger.Error().Err(authErr).Msg("Session revalidation failed")
			}
			m.lastFingerprint = ""
			break
		}
	}

	// A failed row stays eligible for its bounded retry, which only happens
	// through SelectNew. The unchanged-sheet gate must not stand in the way,
	// so only clean cycles keep their fingerprint.
	if rowsFailed {
		m.lastFingerprint = ""
	}

	if m.notifier != nil {
		m.notifier.NotifyCycleSummary(ctx, m.cfg.SheetName, outcomes)
	}
	if len(outcomes) > 0 {
		logger.Info().
			Int("rows", len(outcomes)).
			Msg("Cycle complete")
	}
}

func (m *Monitor) processRow(ctx context.Context, logger zerolog.Logger, snap snapshot.Snapshot, row snapshot.CompletedRow) notifications.RowOutcome {
	outcome := notifications.RowOutcome{
		SheetName: m.cfg.SheetName,
		RowNumber: row.RowNumber,
	}

	patterns, err := search.BuildPatterns(row.Cell(m.cfg.OrderColumn), row.Cell(m.cfg.Layout.DateColumn))
	if err != nil {
		outcome.Err = err
		logger.Warn().Err(err).Int("row", row.RowNumber).Msg("Row has no usable search patterns")
		return outcome
	}

	order, err := m.resolver.Resolve(ctx, patterns)
	if err != nil {
		outcome.Err = err
		logger.Warn().Err(err).Int("row", row.RowNumber).Strs("patterns", patterns).Msg("Order resolution failed")
		return outcome
	}
	outcome.OrderNumber = order.Number

	items := extract.Extract(snap, row, m.cfg.Layout)
	if len(items) == 0 {
		logger.Info().Int("row", row.RowNumber).Msg("Row carries no item requests, nothing to merge")
		return outcome
	}

	summary, err := m.merger.Merge(ctx, order.ID, items)
	if err != nil {
		outcome.Err = err
		logger.Error().Err(err).Int("row", row.RowNumber).Int("order_id", order.ID).Msg("Merge failed")
		return outcome
	}

	outcome.ItemsAdded = summary.ItemsAdded
	outcome.ItemsMerged = summary.ItemsUpdated
	logger.Info().
		Int("row", row.RowNumber).
		Str("order_number", summary.OrderNumber).
		Int("items_added", summary.ItemsAdded).
		Int("items_updated", summary.ItemsUpdated).
		Msg("Row synced")
	return outcome
}

// recordOutcome persists the row's dedup status, paints the feedback color,
// and pushes a failure notification. All best effort beyond the store write.
func (m *Monitor) recordOutcome(ctx context.Context, logger zerolog.Logger, row snapshot.CompletedRow, outcome notifications.RowOutcome) {
	color := sheets.SuccessColor
	if outcome.Err != nil {
		color = sheets.ErrorColor
		if err := m.tracker.MarkFailed(row); err != nil {
			logger.Error().Err(err).Int("row", row.RowNumber).Msg("Failed to record row failure")
		}
		if m.notifier != nil {
			m.notifier.NotifyRowFailure(ctx, outcome)
		}
	} else {
		if err := m.tracker.MarkSucceeded(row); err != nil {
			logger.Error().Err(err).Int("row", row.RowNumber).Msg("Failed to record row success")
		}
	}

	width := len(row.Cells)
	_, err := retry.WithRetry(ctx, m.resilience.SheetWrite, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, m.sheets.ColorRow(ctx, m.cfg.SpreadsheetID, m.cfg.SheetName, row.RowNumber, width, color)
	})
	if err != nil {
		logger.Warn().Err(err).Int("row", row.RowNumber).Msg("Row coloring failed, continuing")
	}
}
