package config

import (
	"time"

	"sos_sheet_sync/internal/retry"
)

// ResilienceConfig groups the retry profiles for the three classes of
// blocking work the daemon does.
type ResilienceConfig struct {
	// SnapshotFetch covers the whole-sheet read driving each poll cycle.
	// It retries forever: a transient outage should stall the cycle, not
	// kill the process.
	SnapshotFetch retry.Config
	// OrderAPI covers SOS search/read/write/item calls.
	OrderAPI retry.Config
	// SheetWrite covers row coloring feedback.
	SheetWrite retry.Config
}

var DefaultResilienceConfig = ResilienceConfig{
	SnapshotFetch: retry.Config{
		BaseDelay:     5 * time.Second,
		MaxDelay:      60 * time.Second,
		Timeout:       30 * time.Second,
		InfiniteRetry: true,
	},
	OrderAPI: retry.Config{
		MaxRetries: 2,
		BaseDelay:  1 * time.Second,
		MaxDelay:   15 * time.Second,
		Timeout:    30 * time.Second,
	},
	SheetWrite: retry.Config{
		MaxRetries: 3,
		BaseDelay:  2 * time.Second,
		MaxDelay:   30 * time.Second,
		Timeout:    15 * time.Second,
	},
}
