// Package snapshot turns raw spreadsheet reads into change-detected,
// completion-filtered row sets.
package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// Snapshot is one full read of a sheet: ordered rows of ordered cell
// strings. Immutable once fetched; the next poll supersedes it.
type Snapshot [][]string

// CompletedRow is a row flagged done at fetch time. RowNumber is 1-indexed
// and refers to the row's position in the snapshot it came from.
type CompletedRow struct {
	RowNumber    int
	Cells        []string
	MarkerColumn int
}

// Marker locates the "Done?" column within a snapshot.
type Marker struct {
	Row    int
	Column int
}

// Fingerprint hashes the flattened snapshot. Cells are length-prefixed so
// cell content can never masquerade as a cell or row boundary. The optional
// salt (normally a fetch timestamp string) defeats false negatives from
// eventually consistent reads; pass "" for a pure content hash.
func Fingerprint(snap Snapshot, salt string) string {
	h := sha256.New()
	for _, row := range snap {
		for _, cell := range row {
			h.Write([]byte(strconv.Itoa(len(cell))))
			h.Write([]byte{':'})
			h.Write([]byte(cell))
		}
		h.Write([]byte{'\n'})
	}
	if salt != "" {
		h.Write([]byte(salt))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// LocateMarker scans every cell for the marker text, case-insensitively and
// trimmed. The whole sheet is scanned, not just the first row, because
// operators have moved the header around before.
func LocateMarker(snap Snapshot, markerText string) (Marker, bool) {
	want := strings.ToLower(strings.TrimSpace(markerText))
	for r, row := range snap {
		for c, cell := range row {
			if strings.ToLower(strings.TrimSpace(cell)) == want {
				return Marker{Row: r, Column: c}, true
			}
		}
	}
	return Marker{}, false
}

// FilterCompleted returns the rows strictly below the marker row whose
// marker-column cell is "yes" (case-insensitive, trimmed).
func FilterCompleted(snap Snapshot, marker Marker) []CompletedRow {
	var completed []CompletedRow
	for r, row := range snap {
		if r <= marker.Row {
			continue
		}
		if marker.Column >= len(row) {
			continue
		}
		if strings.ToLower(strings.TrimSpace(row[marker.Column])) != "yes" {
			continue
		}
		cells := make([]string, len(row))
		copy(cells, row)
		completed = append(completed, CompletedRow{
			RowNumber:    r + 1,
			Cells:        cells,
			MarkerColumn: marker.Column,
		})
	}
	return completed
}

// CompletedRows is the one-call form: locate the marker, then filter. A
// missing marker is a configuration problem, not a fatal error; it is
// logged and yields an empty set.
func CompletedRows(snap Snapshot, markerText string) []CompletedRow {
	marker, found := LocateMarker(snap, markerText)
	if !found {
		log.Warn().
			Str("marker", markerText).
			Msg("Marker column not found in sheet, no rows will be processed")
		return nil
	}
	return FilterCompleted(snap, marker)
}

// Cell returns the trimmed cell at idx, or "" when the row is too short.
func (r CompletedRow) Cell(idx int) string {
	if idx < 0 || idx >= len(r.Cells) {
		return ""
	}
	return strings.TrimSpace(r.Cells[idx])
}

// Width returns the widest row of the snapshot, used to size the colored
// feedback range.
func Width(snap Snapshot) int {
	width := 0
	for _, row := range snap {
		if len(row) > width {
			width = len(row)
		}
	}
	return width
}
