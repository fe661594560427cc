package search

import (
	"testing"
	"time"
)

func TestBuildPatternsOrdering(t *testing.T) {
	patterns, err := BuildPatterns("HA 101", "2025-09-15")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	expected := []string{
		"HA 101 September",
		"HA 101  September",
		"HA 101 Sep",
		"HA 101  Sep",
	}
	if len(patterns) != len(expected) {
		t.Fatalf("Expected %d patterns, got %d", len(expected), len(patterns))
	}
	for i, want := range expected {
		if patterns[i] != want {
			t.Errorf("Pattern %d: expected %q, got %q", i, want, patterns[i])
		}
	}
}

func TestBuildPatternsTrimsIdentifier(t *testing.T) {
	patterns, err := BuildPatterns("  BR 3  ", "2025-01-02")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if patterns[0] != "BR 3 January" {
		t.Errorf("Expected trimmed identifier, got %q", patterns[0])
	}
}

func TestBuildPatternsUnparseableDate(t *testing.T) {
	if _, err := BuildPatterns("HA 101", "next tuesday"); err == nil {
		t.Error("Expected error for unparseable date, got nil")
	}
	if _, err := BuildPatterns("HA 101", ""); err == nil {
		t.Error("Expected error for empty date, got nil")
	}
}

func TestBuildPatternsEmptyIdentifier(t *testing.T) {
	if _, err := BuildPatterns("   ", "2025-09-15"); err == nil {
		t.Error("Expected error for empty identifier, got nil")
	}
}

func TestParseSheetDateFormats(t *testing.T) {
	tests := []struct {
		cell string
		want time.Time
	}{
		{"2025-09-15", time.Date(2025, 9, 15, 0, 0, 0, 0, time.UTC)},
		{"09/15/2025", time.Date(2025, 9, 15, 0, 0, 0, 0, time.UTC)},
		{"09-15-2025", time.Date(2025, 9, 15, 0, 0, 0, 0, time.UTC)},
		{"2025/09/15", time.Date(2025, 9, 15, 0, 0, 0, 0, time.UTC)},
		{"09/15/25", time.Date(2025, 9, 15, 0, 0, 0, 0, time.UTC)},
		{" 2025-09-15 ", time.Date(2025, 9, 15, 0, 0, 0, 0, time.UTC)},
	}
	for _, test := range tests {
		got, err := ParseSheetDate(test.cell)
		if err != nil {
			t.Errorf("ParseSheetDate(%q): unexpected error %v", test.cell, err)
			continue
		}
		if !got.Equal(test.want) {
			t.Errorf("ParseSheetDate(%q) = %v, want %v", test.cell, got, test.want)
		}
	}
}

func TestParseSheetDateFirstFormatWins(t *testing.T) {
	// 03/04/2025 is ambiguous; the US layout is earlier in the list.
	got, err := ParseSheetDate("03/04/2025")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if got.Month() != time.March || got.Day() != 4 {
		t.Errorf("Expected March 4, got %v", got)
	}
}
