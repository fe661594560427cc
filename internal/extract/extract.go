// Package extract turns a completed sheet row plus the sheet's item
// metadata rows into line item requests.
package extract

import (
	"strconv"
	"strings"
	"time"

	"sos_sheet_sync/internal/search"
	"sos_sheet_sync/internal/snapshot"

	"github.com/rs/zerolog/log"
)

// noItemSentinel marks a metadata column that carries no orderable item.
const noItemSentinel = "0"

// ItemRequest is one (item, quantity) pair derived from a row.
type ItemRequest struct {
	ItemID       string
	Quantity     float64
	DisplayName  string
	ForceNewLine bool
	RowDate      *time.Time
}

// Layout describes where the extractor finds things in a snapshot.
type Layout struct {
	// ItemIDRow and ItemNameRow are 0-indexed snapshot rows holding the
	// column-positional item catalog.
	ItemIDRow   int
	ItemNameRow int
	// ColumnOffset is the first data column; columns before it hold row
	// metadata (date, order identifier, marker).
	ColumnOffset int
	// DateColumn holds the row's free-text date, stamped onto due dates.
	DateColumn int
	// ForceNewLine, when set, makes every request append a fresh order
	// line instead of incrementing a matching one.
	ForceNewLine bool
}

// DefaultLayout matches the production sheet: item ids in row 1, names in
// row 2, data from column D onward, date in column A.
var DefaultLayout = Layout{
	ItemIDRow:    0,
	ItemNameRow:  1,
	ColumnOffset: 3,
	DateColumn:   0,
	ForceNewLine: true,
}

// Extract walks the row's data columns against the metadata rows and emits
// one request per orderable, positive-quantity cell. Bad cells are skipped
// with a warning; they never fail the row.
func Extract(snap snapshot.Snapshot, row snapshot.CompletedRow, layout Layout) []ItemRequest {
	if layout.ItemIDRow >= len(snap) {
		log.Warn().
			Int("item_id_row", layout.ItemIDRow).
			Int("rows", len(snap)).
			Msg("Snapshot too short for item metadata, nothing to extract")
		return nil
	}
	idRow := snap[layout.ItemIDRow]
	var nameRow []string
	if layout.ItemNameRow < len(snap) {
		nameRow = snap[layout.ItemNameRow]
	}

	rowDate := parseRowDate(row, layout.DateColumn)

	var requests []ItemRequest
	for col := layout.ColumnOffset; col < len(row.Cells); col++ {
		qtyCell := strings.TrimSpace(row.Cells[col])
		if qtyCell == "" {
			continue
		}

		quantity, err := strconv.ParseFloat(qtyCell, 64)
		if err != nil {
			log.Warn().
				Int("row", row.RowNumber).
				Int("column", col).
				Str("value", qtyCell).
				Msg("Skipping non-numeric quantity cell")
			continue
		}
		if quantity <= 0 {
			continue
		}

		itemID := cellAt(idRow, col)
		if itemID == "" {
			log.Warn().
				Int("row", row.RowNumber).
				Int("column", col).
				Msg("Quantity present but no item id in metadata row, skipping")
			continue
		}
		if itemID == noItemSentinel {
			continue
		}

		requests = append(requests, ItemRequest{
			ItemID:       itemID,
			Quantity:     quantity,
			DisplayName:  cellAt(nameRow, col),
			ForceNewLine: layout.ForceNewLine,
			RowDate:      rowDate,
		})
	}

	log.Debug().
		Int("row", row.RowNumber).
		Int("requests", len(requests)).
		Msg("Extracted item requests")
	return requests
}

func parseRowDate(row snapshot.CompletedRow, dateColumn int) *time.Time {
	cell := row.Cell(dateColumn)
	if cell == "" {
		return nil
	}
	date, err := search.ParseSheetDate(cell)
	if err != nil {
		log.Warn().
			Int("row", row.RowNumber).
			Str("value", cell).
			Msg("Row date unparseable, due dates will default to today")
		return nil
	}
	return &date
}

func cellAt(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}
