package dedup

import (
	"testing"
	"time"

	"sos_sheet_sync/internal/snapshot"
)

// memStore is a map-backed Store for tests.
type memStore struct {
	records map[string]Record
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string]Record)}
}

func (m *memStore) Get(sig string) (*Record, error) {
	rec, ok := m.records[sig]
	if !ok {
		return nil, nil
	}
	copied := rec
	return &copied, nil
}

func (m *memStore) Upsert(rec Record) error {
	m.records[rec.Signature] = rec
	return nil
}

func (m *memStore) Count() (int, error) { return len(m.records), nil }

func (m *memStore) Prune(before time.Time) error {
	for sig, rec := range m.records {
		if rec.LastSeen.Before(before) {
			delete(m.records, sig)
		}
	}
	return nil
}

func (m *memStore) Close() error { return nil }

func row(num int, cells ...string) snapshot.CompletedRow {
	return snapshot.CompletedRow{RowNumber: num, Cells: cells}
}

func newTestTracker(t *testing.T, store Store) *Tracker {
	t.Helper()
	tracker, err := NewTracker(store, 3, 30*24*time.Hour)
	if err != nil {
		t.Fatalf("NewTracker: %v", err)
	}
	return tracker
}

func TestFirstCycleSuppression(t *testing.T) {
	tracker := newTestTracker(t, newMemStore())

	completed := []snapshot.CompletedRow{row(2, "2025-09-15", "HA 101", "yes"), row(3, "2025-09-16", "HA 102", "yes")}
	fresh, err := tracker.SelectNew(completed)
	if err != nil {
		t.Fatalf("SelectNew: %v", err)
	}
	if len(fresh) != 0 {
		t.Errorf("Expected no rows on first cycle over fresh store, got %d", len(fresh))
	}

	// The same set again still yields nothing.
	fresh, err = tracker.SelectNew(completed)
	if err != nil {
		t.Fatalf("SelectNew: %v", err)
	}
	if len(fresh) != 0 {
		t.Errorf("Expected no rows on second cycle with unchanged set, got %d", len(fresh))
	}
}

func TestNewRowEmittedOnce(t *testing.T) {
	tracker := newTestTracker(t, newMemStore())

	base := []snapshot.CompletedRow{row(2, "2025-09-15", "HA 101", "yes")}
	if _, err := tracker.SelectNew(base); err != nil {
		t.Fatalf("SelectNew: %v", err)
	}

	added := append(base, row(3, "2025-09-16", "HA 102", "yes"))
	fresh, err := tracker.SelectNew(added)
	if err != nil {
		t.Fatalf("SelectNew: %v", err)
	}
	if len(fresh) != 1 || fresh[0].RowNumber != 3 {
		t.Fatalf("Expected only row 3 to be new, got %v", fresh)
	}
	if err := tracker.MarkSucceeded(fresh[0]); err != nil {
		t.Fatalf("MarkSucceeded: %v", err)
	}

	// Repeated cycles with the same completed set never re-emit.
	for i := 0; i < 5; i++ {
		fresh, err = tracker.SelectNew(added)
		if err != nil {
			t.Fatalf("SelectNew: %v", err)
		}
		if len(fresh) != 0 {
			t.Fatalf("Cycle %d: expected no new rows, got %d", i, len(fresh))
		}
	}
}

func TestFailedRowRetriedUpToBudget(t *testing.T) {
	tracker := newTestTracker(t, newMemStore())
	if _, err := tracker.SelectNew(nil); err != nil {
		t.Fatalf("SelectNew: %v", err)
	}

	target := row(2, "2025-09-15", "HA 101", "yes")
	set := []snapshot.CompletedRow{target}

	emissions := 0
	for i := 0; i < 10; i++ {
		fresh, err := tracker.SelectNew(set)
		if err != nil {
			t.Fatalf("SelectNew: %v", err)
		}
		for _, r := range fresh {
			emissions++
			if err := tracker.MarkFailed(r); err != nil {
				t.Fatalf("MarkFailed: %v", err)
			}
		}
	}

	if emissions != 3 {
		t.Errorf("Expected 3 emissions (max attempts), got %d", emissions)
	}
}

func TestSucceededRowNotRetried(t *testing.T) {
	tracker := newTestTracker(t, newMemStore())
	if _, err := tracker.SelectNew(nil); err != nil {
		t.Fatalf("SelectNew: %v", err)
	}

	target := row(2, "2025-09-15", "HA 101", "yes")
	fresh, err := tracker.SelectNew([]snapshot.CompletedRow{target})
	if err != nil {
		t.Fatalf("SelectNew: %v", err)
	}
	if len(fresh) != 1 {
		t.Fatalf("Expected 1 new row, got %d", len(fresh))
	}
	if err := tracker.MarkSucceeded(fresh[0]); err != nil {
		t.Fatalf("MarkSucceeded: %v", err)
	}

	fresh, err = tracker.SelectNew([]snapshot.CompletedRow{target})
	if err != nil {
		t.Fatalf("SelectNew: %v", err)
	}
	if len(fresh) != 0 {
		t.Error("Expected succeeded row not to be re-emitted")
	}
}

func TestRestartOverPopulatedStore(t *testing.T) {
	store := newMemStore()
	tracker := newTestTracker(t, store)
	if _, err := tracker.SelectNew(nil); err != nil {
		t.Fatalf("SelectNew: %v", err)
	}

	handled := row(2, "2025-09-15", "HA 101", "yes")
	fresh, err := tracker.SelectNew([]snapshot.CompletedRow{handled})
	if err != nil {
		t.Fatalf("SelectNew: %v", err)
	}
	if err := tracker.MarkSucceeded(fresh[0]); err != nil {
		t.Fatalf("MarkSucceeded: %v", err)
	}

	// Simulate a restart with the same store: handled rows stay handled,
	// rows completed during downtime are picked up on the first cycle.
	restarted := newTestTracker(t, store)
	downtime := row(3, "2025-09-16", "HA 102", "yes")
	fresh, err = restarted.SelectNew([]snapshot.CompletedRow{handled, downtime})
	if err != nil {
		t.Fatalf("SelectNew: %v", err)
	}
	if len(fresh) != 1 || fresh[0].RowNumber != 3 {
		t.Fatalf("Expected only the downtime row after restart, got %v", fresh)
	}
}

func TestSignatureDependsOnPositionAndContent(t *testing.T) {
	a := Signature(row(2, "x", "y"))
	if a != Signature(row(2, "x", "y")) {
		t.Error("Expected equal rows to share a signature")
	}
	if a == Signature(row(3, "x", "y")) {
		t.Error("Expected row number to affect the signature")
	}
	if a == Signature(row(2, "x", "z")) {
		t.Error("Expected cell content to affect the signature")
	}
	// Trailing columns beyond the signature window do not change identity.
	long := row(2, "a", "b", "c", "d", "e", "f", "g", "h", "scratch1")
	long2 := row(2, "a", "b", "c", "d", "e", "f", "g", "h", "scratch2")
	if Signature(long) != Signature(long2) {
		t.Error("Expected trailing scratch columns to be ignored")
	}
}
