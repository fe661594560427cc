package search

import (
	"fmt"
	"strings"
	"time"
)

// sheetDateFormats is the fixed, ordered list of layouts tried against
// free-text date cells. First layout that parses wins, so the ambiguous
// MM/DD vs DD/MM forms resolve US-style first, matching how the historical
// sheet was filled in.
var sheetDateFormats = []string{
	"2006-01-02",
	"01/02/2006",
	"02/01/2006",
	"01-02-2006",
	"02-01-2006",
	"2006/01/02",
	"01/02/06",
	"02/01/06",
	"01-02-06",
	"02-01-06",
}

// ParseSheetDate parses a date cell against the fixed format list. An empty
// or unparseable cell is an error, never defaulted to today: a guessed date
// here would route line items onto the wrong order.
func ParseSheetDate(cell string) (time.Time, error) {
	trimmed := strings.TrimSpace(cell)
	if trimmed == "" {
		return time.Time{}, fmt.Errorf("date cell is empty")
	}
	for _, layout := range sheetDateFormats {
		if t, err := time.Parse(layout, trimmed); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date format %q", trimmed)
}

// BuildPatterns derives the candidate sales order search strings for a row.
// The identifier is combined with the month of the date cell, full name
// first, then the 3-letter abbreviation, each with a single- and a
// double-space variant. The double space is not an accident: a run of
// historical order numbers was typed with two spaces before the month, and
// the remote search matches literally.
//
// The returned slice is in strict priority order.
func BuildPatterns(identifier, dateCell string) ([]string, error) {
	id := strings.TrimSpace(identifier)
	if id == "" {
		return nil, fmt.Errorf("identifier cell is empty")
	}

	date, err := ParseSheetDate(dateCell)
	if err != nil {
		return nil, fmt.Errorf("could not build search string: %w", err)
	}

	full := date.Month().String()
	abbrev := full[:3]

	return []string{
		id + " " + full,
		id + "  " + full,
		id + " " + abbrev,
		id + "  " + abbrev,
	}, nil
}
