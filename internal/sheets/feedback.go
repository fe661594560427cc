package sheets

import (
	"context"
	"fmt"

	"google.golang.org/api/sheets/v4"

	"github.com/rs/zerolog/log"
)

// RowColor is a normalized RGB background applied to a whole row.
type RowColor struct {
	Red   float64
	Green float64
	Blue  float64
}

// Light blue marks a successfully synced row, light red a failed one.
var (
	SuccessColor = RowColor{Red: 0.8, Green: 0.9, Blue: 1.0}
	ErrorColor   = RowColor{Red: 1.0, Green: 0.8, Blue: 0.8}
)

// ColorRow paints the background of one 1-indexed row across width columns.
// Best effort: callers log failures but never fail a cycle over coloring.
func (c *Client) ColorRow(ctx context.Context, spreadsheetID, sheetName string, rowNumber, width int, color RowColor) error {
	if width <= 0 {
		width = 26
	}

	sheetID, err := c.sheetID(ctx, spreadsheetID, sheetName)
	if err != nil {
		return err
	}

	request := &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{
			{
				RepeatCell: &sheets.RepeatCellRequest{
					Range: &sheets.GridRange{
						SheetId:          sheetID,
						StartRowIndex:    int64(rowNumber - 1),
						EndRowIndex:      int64(rowNumber),
						StartColumnIndex: 0,
						EndColumnIndex:   int64(width),
					},
					Cell: &sheets.CellData{
						UserEnteredFormat: &sheets.CellFormat{
							BackgroundColor: &sheets.Color{
								Red:   color.Red,
								Green: color.Green,
								Blue:  color.Blue,
							},
						},
					},
					Fields: "userEnteredFormat.backgroundColor",
				},
			},
		},
	}

	_, err = c.service.Spreadsheets.BatchUpdate(spreadsheetID, request).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to color row %d: %w", rowNumber, err)
	}

	log.Debug().
		Int("row", rowNumber).
		Int("width", width).
		Str("sheet", sheetName).
		Msg("Colored row")
	return nil
}
