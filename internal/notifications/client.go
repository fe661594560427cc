// Package notifications pushes sync outcomes to an ntfy topic so failures
// surface somewhere other than the logs.
package notifications

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

type Client struct {
	httpClient *http.Client
	baseURL    string
	topic      string
	enabled    bool
	priority   string
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	// Circuit breaker state
	failures    int
	lastFailure time.Time
	circuitOpen bool
	mutex       sync.Mutex
	// Metrics
	totalSent    int64
	totalFailed  int64
	totalRetries int64
}

// RowOutcome describes one processed sheet row for notification purposes.
type RowOutcome struct {
	SheetName   string
	RowNumber   int
	OrderNumber string
	ItemsAdded  int
	ItemsMerged int
	Err         error
}

type NotificationError struct {
	Type       string
	StatusCode int
	Attempt    int
	Underlying error
}

func (e *NotificationError) Error() string {
	return fmt.Sprintf("notification failed [%s] attempt %d: %v", e.Type, e.Attempt, e.Underlying)
}

func (e *NotificationError) IsRetryable() bool {
	switch e.Type {
	case "network", "server", "timeout", "rate_limit":
		return true
	case "auth", "client":
		return false
	default:
		return e.StatusCode >= 500
	}
}

func NewClient(baseURL, topic string, enabled bool, priority string, maxRetries int, baseDelay, maxDelay time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		baseURL:    baseURL,
		topic:      topic,
		enabled:    enabled,
		priority:   priority,
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		maxDelay:   maxDelay,
	}
}

// NotifyRowFailure pushes a single-row failure. Fire and forget: sync work
// never blocks on the notification channel.
func (c *Client) NotifyRowFailure(ctx context.Context, outcome RowOutcome) {
	if !c.enabled {
		return
	}
	message := c.formatRowFailure(outcome)
	c.sendAsync(ctx, message)
}

// NotifyCycleSummary pushes a digest of a poll cycle that did work. Cycles
// where nothing happened stay silent.
func (c *Client) NotifyCycleSummary(ctx context.Context, sheetName string, outcomes []RowOutcome) {
	if !c.enabled || len(outcomes) == 0 {
		return
	}
	message := c.formatCycleSummary(sheetName, outcomes)
	c.sendAsync(ctx, message)
}

func (c *Client) sendAsync(ctx context.Context, message string) {
	go func() {
		if err := c.Send(ctx, message); err != nil {
			log.Warn().Err(err).Msg("Async notification failed")
		}
	}()
}

// Send posts message to the configured topic with bounded retry and a
// circuit breaker guarding against a dead ntfy endpoint.
func (c *Client) Send(ctx context.Context, message string) error {
	if !c.enabled {
		log.Debug().Msg("Notifications disabled, skipping")
		return nil
	}

	if c.isCircuitOpen() {
		log.Warn().Msg("Circuit breaker open, skipping notification")
		return &NotificationError{
			Type:       "circuit_open",
			Underlying: fmt.Errorf("circuit breaker is open"),
		}
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.calculateBackoff(attempt)
			log.Debug().
				Int("attempt", attempt).
				Dur("delay", delay).
				Msg("Retrying notification after delay")

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			c.incrementRetries()
		}

		err := c.post(ctx, message, attempt+1)
		if err == nil {
			c.recordSuccess()
			return nil
		}

		lastErr = err

		if notifErr, ok := err.(*NotificationError); ok && !notifErr.IsRetryable() {
			log.Warn().
				Err(err).
				Int("attempt", attempt+1).
				Msg("Non-retryable error, giving up")
			c.recordFailure()
			return err
		}

		log.Warn().
			Err(err).
			Int("attempt", attempt+1).
			Int("max_retries", c.maxRetries).
			Msg("Notification attempt failed")
	}

	c.recordFailure()
	return &NotificationError{
		Type:       "max_retries_exceeded",
		Attempt:    c.maxRetries + 1,
		Underlying: lastErr,
	}
}

func (c *Client) post(ctx context.Context, message string, attempt int) error {
	url := fmt.Sprintf("%s/%s", c.baseURL, c.topic)

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBufferString(message))
	if err != nil {
		return &NotificationError{Type: "client", Attempt: attempt, Underlying: err}
	}

	req.Header.Set("Content-Type", "text/plain")
	if c.priority != "" {
		req.Header.Set("Priority", c.priority)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &NotificationError{Type: "network", Attempt: attempt, Underlying: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return &NotificationError{
			Type:       categorizeHTTPError(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Attempt:    attempt,
			Underlying: fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status),
		}
	}

	log.Debug().
		Int("status_code", resp.StatusCode).
		Int("attempt", attempt).
		Msg("Notification sent")
	return nil
}

func (c *Client) formatRowFailure(outcome RowOutcome) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Sheet sync: row %d on %q failed\n", outcome.RowNumber, outcome.SheetName))
	if outcome.OrderNumber != "" {
		sb.WriteString(fmt.Sprintf("Order: %s\n", outcome.OrderNumber))
	}
	if outcome.Err != nil {
		sb.WriteString(outcome.Err.Error())
	}
	return strings.TrimSuffix(sb.String(), "\n")
}

func (c *Client) formatCycleSummary(sheetName string, outcomes []RowOutcome) string {
	succeeded, failed := 0, 0
	added, merged := 0, 0
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
			continue
		}
		succeeded++
		added += o.ItemsAdded
		merged += o.ItemsMerged
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Sheet sync %q: %d row(s) processed\n", sheetName, len(outcomes)))
	sb.WriteString(fmt.Sprintf("OK %d, failed %d, lines added %d, lines merged %d\n", succeeded, failed, added, merged))

	maxRowsToShow := 10
	shown := 0
	for _, o := range outcomes {
		if o.Err == nil {
			continue
		}
		if shown == maxRowsToShow {
			sb.WriteString(fmt.Sprintf("... and %d more failures\n", failed-shown))
			break
		}
		sb.WriteString(fmt.Sprintf("row %d: %v\n", o.RowNumber, o.Err))
		shown++
	}
	return strings.TrimSuffix(sb.String(), "\n")
}

// Circuit breaker and retry helpers

func (c *Client) isCircuitOpen() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if !c.circuitOpen {
		return false
	}

	// Half-open after a quiet period
	if time.Since(c.lastFailure) > 30*time.Second {
		c.circuitOpen = false
		c.failures = 0
		log.Info().Msg("Circuit breaker moving to half-open state")
	}
	return c.circuitOpen
}

func (c *Client) recordSuccess() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.totalSent++
	if c.circuitOpen {
		c.circuitOpen = false
		c.failures = 0
		log.Info().Msg("Circuit breaker closed after successful notification")
	}
}

func (c *Client) recordFailure() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.totalFailed++
	c.failures++
	c.lastFailure = time.Now()

	if c.failures >= 5 && !c.circuitOpen {
		c.circuitOpen = true
		log.Warn().
			Int("failures", c.failures).
			Msg("Circuit breaker opened due to consecutive failures")
	}
}

func (c *Client) incrementRetries() {
	c.mutex.Lock()
	c.totalRetries++
	c.mutex.Unlock()
}

func (c *Client) calculateBackoff(attempt int) time.Duration {
	base := float64(c.baseDelay)
	backoff := base * math.Pow(2, float64(attempt-1))

	// Jitter of +/-25%
	jitter := rand.Float64()*0.5 - 0.25
	backoff = backoff * (1 + jitter)

	maxBackoff := float64(c.maxDelay)
	if backoff > maxBackoff {
		backoff = maxBackoff
	}
	return time.Duration(backoff)
}

func categorizeHTTPError(statusCode int) string {
	switch {
	case statusCode == 401 || statusCode == 403:
		return "auth"
	case statusCode == 429:
		return "rate_limit"
	case statusCode >= 400 && statusCode < 500:
		return "client"
	case statusCode >= 500:
		return "server"
	default:
		return "unknown"
	}
}

// Metrics returns totals for sent, failed, and retried notifications.
func (c *Client) Metrics() (sent, failed, retries int64) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.totalSent, c.totalFailed, c.totalRetries
}
