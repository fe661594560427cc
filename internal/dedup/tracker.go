// Package dedup decides which completed rows are genuinely new. Row
// signatures are persisted so a restart neither replays handled rows nor
// skips rows completed while the process was down.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"sos_sheet_sync/internal/snapshot"

	"github.com/rs/zerolog/log"
)

// signatureCells caps how many leading cells feed the signature, so trailing
// scratch columns do not change a row's identity.
const signatureCells = 8

// Row statuses held in the store. A row is marked seen the moment it is
// emitted; success and failure are recorded separately so transient
// failures can be retried without ever reprocessing a success.
const (
	StatusBoot      = "boot"      // present at first fetch over a fresh store, assumed already handled
	StatusInFlight  = "in_flight" // emitted this cycle, outcome not yet reported
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Record is one signature's durable state.
type Record struct {
	Signature string
	Status    string
	Attempts  int
	LastSeen  time.Time
}

// Store persists signature records. SQLiteStore is the production
// implementation; tests substitute an in-memory map.
type Store interface {
	Get(signature string) (*Record, error)
	Upsert(rec Record) error
	Count() (int, error)
	Prune(before time.Time) error
	Close() error
}

// Signature fingerprints a completed row from its position and leading cell
// values. Equal signatures mean "same logical row, already seen".
func Signature(row snapshot.CompletedRow) string {
	h := sha256.New()
	h.Write([]byte(strconv.Itoa(row.RowNumber)))
	n := len(row.Cells)
	if n > signatureCells {
		n = signatureCells
	}
	for _, cell := range row.Cells[:n] {
		h.Write([]byte{0})
		h.Write([]byte(cell))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Tracker selects new rows across poll cycles for one sheet. A single loop
// owns it; it is not safe for concurrent use.
type Tracker struct {
	store       Store
	maxAttempts int
	retention   time.Duration
	freshStore  bool
	primed      bool
	previous    map[string]bool
}

// NewTracker wraps a store. maxAttempts bounds how many times a failing row
// is re-emitted; retention bounds how long unseen signatures are kept.
func NewTracker(store Store, maxAttempts int, retention time.Duration) (*Tracker, error) {
	count, err := store.Count()
	if err != nil {
		return nil, fmt.Errorf("failed to inspect dedup store: %w", err)
	}
	return &Tracker{
		store:       store,
		maxAttempts: maxAttempts,
		retention:   retention,
		freshStore:  count == 0,
	}, nil
}

// SelectNew returns the rows from the current completed set that should be
// processed this cycle.
//
// The first cycle over a fresh store emits nothing: rows already marked done
// at boot are assumed handled by a human. Over a non-fresh store the first
// cycle behaves like any other, which is what makes restarts safe.
func (t *Tracker) SelectNew(current []snapshot.CompletedRow) ([]snapshot.CompletedRow, error) {
	defer func() {
		next := make(map[string]bool, len(current))
		for _, row := range current {
			next[Signature(row)] = true
		}
		t.previous = next
	}()

	if !t.primed {
		t.primed = true
		if t.freshStore {
			for _, row := range current {
				rec := Record{Signature: Signature(row), Status: StatusBoot, LastSeen: time.Now()}
				if err := t.store.Upsert(rec); err != nil {
					return nil, fmt.Errorf("failed to record boot row: %w", err)
				}
			}
			log.Info().
				Int("existing_completed", len(current)).
				Msg("First cycle over a fresh store, existing completed rows recorded as handled")
			return nil, nil
		}
	}

	var fresh []snapshot.CompletedRow
	for _, row := range current {
		sig := Signature(row)
		rec, err := t.store.Get(sig)
		if err != nil {
			return nil, fmt.Errorf("failed to look up row signature: %w", err)
		}

		switch {
		case rec == nil:
			// Second guard: a signature that was completed last cycle but
			// somehow missed the store round-trips without being new.
			if t.previous[sig] {
				log.Debug().Int("row", row.RowNumber).Msg("Row completed in previous cycle, not new")
				if err := t.markSeen(sig, StatusSucceeded, 0); err != nil {
					return nil, err
				}
				continue
			}
			if err := t.markSeen(sig, StatusInFlight, 1); err != nil {
				return nil, err
			}
			fresh = append(fresh, row)

		case rec.Status == StatusFailed && rec.Attempts < t.maxAttempts:
			log.Info().
				Int("row", row.RowNumber).
				Int("attempts", rec.Attempts).
				Int("max_attempts", t.maxAttempts).
				Msg("Retrying previously failed row")
			if err := t.markSeen(sig, StatusInFlight, rec.Attempts+1); err != nil {
				return nil, err
			}
			fresh = append(fresh, row)

		default:
			// Handled, in flight, boot, or failed past its attempt budget.
			if err := t.markSeen(sig, rec.Status, rec.Attempts); err != nil {
				return nil, err
			}
		}
	}

	if err := t.store.Prune(time.Now().Add(-t.retention)); err != nil {
		log.Warn().Err(err).Msg("Failed to prune dedup store")
	}
	return fresh, nil
}

// MarkSucceeded records a processed row's success so it is never emitted again.
func (t *Tracker) MarkSucceeded(row snapshot.CompletedRow) error {
	rec, err := t.store.Get(Signature(row))
	if err != nil {
		return err
	}
	attempts := 1
	if rec != nil {
		attempts = rec.Attempts
	}
	return t.markSeen(Signature(row), StatusSucceeded, attempts)
}

// MarkFailed records a row failure; the row stays eligible for bounded retry.
func (t *Tracker) MarkFailed(row snapshot.CompletedRow) error {
	rec, err := t.store.Get(Signature(row))
	if err != nil {
		return err
	}
	attempts := 1
	if rec != nil {
		attempts = rec.Attempts
	}
	return t.markSeen(Signature(row), StatusFailed, attempts)
}

func (t *Tracker) markSeen(sig, status string, attempts int) error {
	err := t.store.Upsert(Record{
		Signature: sig,
		Status:    status,
		Attempts:  attempts,
		LastSeen:  time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to persist row signature: %w", err)
	}
	return nil
}
