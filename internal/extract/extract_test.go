package extract

import (
	"testing"
	"time"

	"sos_sheet_sync/internal/snapshot"
)

func testSnapshot() snapshot.Snapshot {
	return snapshot.Snapshot{
		{"", "", "", "", "42", "7", "0"},
		{"", "", "", "", "Widget", "Gadget", "None"},
		{"Date", "Order", "Done?", "", "", "", ""},
	}
}

func TestExtractScenarioRow(t *testing.T) {
	row := snapshot.CompletedRow{
		RowNumber: 4,
		Cells:     []string{"2025-09-15", "HA 101", "", "", "3"},
	}

	requests := Extract(testSnapshot(), row, DefaultLayout)
	if len(requests) != 1 {
		t.Fatalf("Expected 1 request, got %d", len(requests))
	}

	req := requests[0]
	if req.ItemID != "42" {
		t.Errorf("Expected item id 42, got %s", req.ItemID)
	}
	if req.Quantity != 3.0 {
		t.Errorf("Expected quantity 3.0, got %f", req.Quantity)
	}
	if req.DisplayName != "Widget" {
		t.Errorf("Expected name Widget, got %s", req.DisplayName)
	}
	if !req.ForceNewLine {
		t.Error("Expected force-new-line policy from default layout")
	}
	if req.RowDate == nil {
		t.Fatal("Expected row date to be parsed")
	}
	want := time.Date(2025, 9, 15, 0, 0, 0, 0, time.UTC)
	if !req.RowDate.Equal(want) {
		t.Errorf("Expected row date %v, got %v", want, *req.RowDate)
	}
}

func TestExtractSentinelExcluded(t *testing.T) {
	row := snapshot.CompletedRow{
		RowNumber: 4,
		Cells:     []string{"2025-09-15", "HA 101", "", "", "", "", "9999"},
	}

	requests := Extract(testSnapshot(), row, DefaultLayout)
	for _, req := range requests {
		if req.ItemID == "0" {
			t.Fatal("Sentinel item id 0 must never be extracted")
		}
	}
	if len(requests) != 0 {
		t.Errorf("Expected no requests, got %d", len(requests))
	}
}

func TestExtractSkipsBadQuantities(t *testing.T) {
	row := snapshot.CompletedRow{
		RowNumber: 4,
		Cells:     []string{"2025-09-15", "HA 101", "", "", "lots", "0", ""},
	}

	requests := Extract(testSnapshot(), row, DefaultLayout)
	if len(requests) != 0 {
		t.Errorf("Expected non-numeric and zero quantities to be skipped, got %d requests", len(requests))
	}
}

func TestExtractFractionalQuantity(t *testing.T) {
	row := snapshot.CompletedRow{
		RowNumber: 4,
		Cells:     []string{"2025-09-15", "HA 101", "", "", "1.5", "2"},
	}

	requests := Extract(testSnapshot(), row, DefaultLayout)
	if len(requests) != 2 {
		t.Fatalf("Expected 2 requests, got %d", len(requests))
	}
	if requests[0].Quantity != 1.5 {
		t.Errorf("Expected fractional quantity 1.5, got %f", requests[0].Quantity)
	}
	if requests[1].ItemID != "7" || requests[1].Quantity != 2 {
		t.Errorf("Expected item 7 qty 2, got %s qty %f", requests[1].ItemID, requests[1].Quantity)
	}
}

func TestExtractMissingMetadataColumn(t *testing.T) {
	// Quantity beyond the metadata row's width has no item id.
	row := snapshot.CompletedRow{
		RowNumber: 4,
		Cells:     []string{"2025-09-15", "HA 101", "", "", "", "", "", "5"},
	}

	requests := Extract(testSnapshot(), row, DefaultLayout)
	if len(requests) != 0 {
		t.Errorf("Expected no requests for column without item id, got %d", len(requests))
	}
}

func TestExtractBadRowDate(t *testing.T) {
	row := snapshot.CompletedRow{
		RowNumber: 4,
		Cells:     []string{"sometime", "HA 101", "", "", "2"},
	}

	requests := Extract(testSnapshot(), row, DefaultLayout)
	if len(requests) != 1 {
		t.Fatalf("Expected 1 request, got %d", len(requests))
	}
	if requests[0].RowDate != nil {
		t.Error("Expected nil row date for unparseable date cell")
	}
}
