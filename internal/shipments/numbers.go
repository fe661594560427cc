// Package shipments implements the monthly close-out: turn a month's sales
// orders into shipments and seed next month's skeleton orders.
package shipments

import (
	"strings"
	"time"
)

const (
	// numberPrefix distinguishes generated shipment numbers from hand-entered
	// ones.
	numberPrefix = "* "
	// maxNumberLen is the service's practical limit on document numbers,
	// enforced after prefixing.
	maxNumberLen = 21
)

// monthTokens are the substrings accepted as a month reference inside an
// order number, lowercase. September carries both historical spellings.
var monthTokens = map[time.Month][]string{
	time.January:   {"january", "jan"},
	time.February:  {"february", "feb"},
	time.March:     {"march", "mar"},
	time.April:     {"april", "apr"},
	time.May:       {"may"},
	time.June:      {"june", "jun"},
	time.July:      {"july", "jul"},
	time.August:    {"august", "aug"},
	time.September: {"september", "sept", "sep"},
	time.October:   {"october", "oct"},
	time.November:  {"november", "nov"},
	time.December:  {"december", "dec"},
}

// normalizeReplacements shortens the long month names that push numbers past
// the length cap. Only the three that actually appear in historical numbers.
var normalizeReplacements = []struct {
	long string
	abbr string
}{
	{"september", "Sept"},
	{"october", "Oct"},
	{"november", "Nov"},
}

// NumberMatchesMonth reports whether an order number references the month.
func NumberMatchesMonth(number string, month time.Month) bool {
	if number == "" {
		return false
	}
	hay := strings.ToLower(number)
	for _, token := range monthTokens[month] {
		if strings.Contains(hay, token) {
			return true
		}
	}
	return false
}

// NormalizeMonths replaces long month names with their short forms,
// case-insensitively, preserving the rest of the string.
func NormalizeMonths(s string) string {
	for _, rep := range normalizeReplacements {
		s = replaceFold(s, rep.long, rep.abbr)
	}
	return s
}

func replaceFold(s, old, new string) string {
	var b strings.Builder
	lower := strings.ToLower(s)
	for {
		i := strings.Index(lower, old)
		if i < 0 {
			b.WriteString(s)
			return b.String()
		}
		b.WriteString(s[:i])
		b.WriteString(new)
		s = s[i+len(old):]
		lower = lower[i+len(old):]
	}
}

// ShipmentNumber derives a shipment number from a sales order number:
// normalized months, the generated-document prefix, hard length cap.
func ShipmentNumber(soNumber string) string {
	base := NormalizeMonths(strings.TrimSpace(soNumber))
	combined := numberPrefix + base
	if len(combined) > maxNumberLen {
		combined = combined[:maxNumberLen]
	}
	return combined
}

// NextMonthNumber rewrites an order number for the month after the given
// one: the month token is replaced in place with the next month's 3-letter
// abbreviation, or appended when the number carries no month at all.
func NextMonthNumber(original string, month time.Month) string {
	next := month%12 + 1
	abbr := time.Month(next).String()[:3]

	if original == "" {
		return abbr
	}
	if start, end, ok := detectMonth(original); ok {
		return original[:start] + abbr + original[end:]
	}
	sep := " "
	if strings.HasSuffix(original, " ") {
		sep = ""
	}
	return original + sep + abbr
}

// detectMonth finds the span of the month token in text, case-insensitively.
// Earliest occurrence wins; at the same position the longest token wins, so
// "September" is replaced whole rather than leaving "tember" behind.
func detectMonth(text string) (start, end int, ok bool) {
	lower := strings.ToLower(text)
	best := -1
	bestLen := 0
	for _, tokens := range monthTokens {
		for _, token := range tokens {
			i := strings.Index(lower, token)
			if i < 0 {
				continue
			}
			if best == -1 || i < best || (i == best && len(token) > bestLen) {
				best = i
				bestLen = len(token)
			}
		}
	}
	if best == -1 {
		return 0, 0, false
	}
	return best, best + bestLen, true
}

// MonthRange returns the inclusive dateFrom/dateTo bounds for a month.
func MonthRange(year int, month time.Month) (string, string) {
	start := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, -1)
	return start.Format("2006-01-02") + "T00:00:00", end.Format("2006-01-02") + "T23:59:59"
}

// firstOfNextMonth is the ship-by / order date stamped on generated
// documents: midday on the first, midday so timezone drift cannot move it
// across a date boundary in the UI.
func firstOfNextMonth(year int, month time.Month) string {
	first := time.Date(year, month, 1, 12, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
	return first.Format("2006-01-02T15:04:05")
}
