// Package sheets wraps the Google Sheets API for snapshot reads and row
// coloring feedback.
package sheets

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"sos_sheet_sync/internal/snapshot"
)

type Client struct {
	service *sheets.Service

	mu       sync.Mutex
	sheetIDs map[string]int64
}

func NewClient(ctx context.Context, credentialsFile string) (*Client, error) {
	service, err := sheets.NewService(ctx, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}

	return &Client{
		service:  service,
		sheetIDs: make(map[string]int64),
	}, nil
}

// ReadSnapshot fetches the full value matrix for a range and converts it to
// string cells. The API returns untyped values; everything downstream works
// on their string form.
func (c *Client) ReadSnapshot(ctx context.Context, spreadsheetID, range_ string) (snapshot.Snapshot, error) {
	resp, err := c.service.Spreadsheets.Values.Get(spreadsheetID, range_).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet: %w", err)
	}

	snap := make(snapshot.Snapshot, 0, len(resp.Values))
	for _, row := range resp.Values {
		cells := make([]string, len(row))
		for i, cell := range row {
			if cell != nil {
				cells[i] = fmt.Sprintf("%v", cell)
			}
		}
		snap = append(snap, cells)
	}
	return snap, nil
}

// sheetID resolves and caches the numeric sheet id for a tab title, needed
// by formatting requests.
func (c *Client) sheetID(ctx context.Context, spreadsheetID, sheetName string) (int64, error) {
	key := spreadsheetID + "!" + sheetName

	c.mu.Lock()
	id, ok := c.sheetIDs[key]
	c.mu.Unlock()
	if ok {
		return id, nil
	}

	resp, err := c.service.Spreadsheets.Get(spreadsheetID).
		Fields("sheets.properties").
		Context(ctx).
		Do()
	if err != nil {
		return 0, fmt.Errorf("failed to fetch spreadsheet metadata: %w", err)
	}

	for _, sheet := range resp.Sheets {
		if sheet.Properties != nil && sheet.Properties.Title == sheetName {
			c.mu.Lock()
			c.sheetIDs[key] = sheet.Properties.SheetId
			c.mu.Unlock()
			return sheet.Properties.SheetId, nil
		}
	}
	return 0, fmt.Errorf("sheet %q not found in spreadsheet %s", sheetName, spreadsheetID)
}
