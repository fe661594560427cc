package sos

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

const defaultBaseURL = "https://api.sosinventory.com/api/v2"

// ErrUnauthorized reports a 401-class response: the bearer token is invalid
// or expired. Callers are expected to re-validate the session and give up
// on the current cycle rather than retry the call blindly.
var ErrUnauthorized = errors.New("sos: authentication failed, token invalid or expired")

// TokenSource supplies the current bearer credential for each request. The
// auth session implements this; the client never stores a token itself.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// Client is a thin SOS Inventory v2 REST client. One instance is shared by
// every sheet loop; it holds no per-order state.
type Client struct {
	baseURL      string
	tokens       TokenSource
	client       *http.Client
	apiCallCount int64
}

func NewClient(tokens TokenSource) *Client {
	return &Client{
		baseURL: defaultBaseURL,
		tokens:  tokens,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// NewClientWithBaseURL is used by tests to point the client at a local server.
func NewClientWithBaseURL(tokens TokenSource, baseURL string) *Client {
	c := NewClient(tokens)
	c.baseURL = baseURL
	return c
}

// APICallCount returns the number of requests issued since construction.
// Safe across sheet loops, which share one client.
func (c *Client) APICallCount() int64 {
	return atomic.LoadInt64(&c.apiCallCount)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	token, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to obtain access token: %w", err)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	atomic.AddInt64(&c.apiCallCount, 1)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, ErrUnauthorized
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	return respBody, nil
}

// SearchResult is one page of a sales order list/search call.
type SearchResult struct {
	Count      int
	TotalCount int
	Orders     []SalesOrder
}

// ListSalesOrders issues GET /salesorder with arbitrary query parameters
// (query, maxresults, start, dateFrom, dateTo, ...).
func (c *Client) ListSalesOrders(ctx context.Context, query url.Values) (*SearchResult, error) {
	body, err := c.do(ctx, http.MethodGet, "/salesorder", query, nil)
	if err != nil {
		return nil, err
	}

	var env listEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("failed to decode sales order list: %w", err)
	}

	result := &SearchResult{Count: env.Count, TotalCount: env.TotalCount}
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &result.Orders); err != nil {
			return nil, fmt.Errorf("failed to decode sales order data: %w", err)
		}
	}
	return result, nil
}

// SearchSalesOrders searches by the free-text query parameter, which the
// service matches against number, comment, customerPO and customer name.
func (c *Client) SearchSalesOrders(ctx context.Context, search string, maxResults int) (*SearchResult, error) {
	q := url.Values{}
	q.Set("query", search)
	q.Set("maxresults", strconv.Itoa(maxResults))
	return c.ListSalesOrders(ctx, q)
}

// GetSalesOrder fetches the full order document by id.
func (c *Client) GetSalesOrder(ctx context.Context, id int) (*SalesOrder, error) {
	body, err := c.do(ctx, http.MethodGet, "/salesorder/"+strconv.Itoa(id), nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeSalesOrder(body)
}

// UpdateSalesOrder PUTs the full order back. The service replaces the whole
// writable document, so order must carry every header field that should
// survive (SalesOrder.MarshalJSON handles the echo and the read-only strip).
func (c *Client) UpdateSalesOrder(ctx context.Context, order *SalesOrder) error {
	_, err := c.do(ctx, http.MethodPut, "/salesorder/"+strconv.Itoa(order.ID), nil, order)
	if err != nil {
		return fmt.Errorf("failed to update sales order %d: %w", order.ID, err)
	}
	return nil
}

// CreateSalesOrder POSTs a new order and returns the created document.
func (c *Client) CreateSalesOrder(ctx context.Context, order *SalesOrder) (*SalesOrder, error) {
	body, err := c.do(ctx, http.MethodPost, "/salesorder", nil, order)
	if err != nil {
		return nil, fmt.Errorf("failed to create sales order: %w", err)
	}
	return decodeSalesOrder(body)
}

// CreateShipment POSTs a new shipment document.
func (c *Client) CreateShipment(ctx context.Context, shipment *Shipment) (*Shipment, error) {
	body, err := c.do(ctx, http.MethodPost, "/shipment", nil, shipment)
	if err != nil {
		return nil, fmt.Errorf("failed to create shipment: %w", err)
	}

	var env objectEnvelope
	if err := json.Unmarshal(body, &env); err == nil && len(env.Data) > 0 {
		body = env.Data
	}
	var created Shipment
	if err := json.Unmarshal(body, &created); err != nil {
		return nil, fmt.Errorf("failed to decode created shipment: %w", err)
	}
	return &created, nil
}

// GetItem fetches an item record, primarily for its base price. Prices are
// deliberately not cached: a stale price silently propagates into order
// amounts, so every reconciliation pays for a fresh lookup.
func (c *Client) GetItem(ctx context.Context, itemID string) (*Item, error) {
	body, err := c.do(ctx, http.MethodGet, "/item/"+url.PathEscape(itemID), nil, nil)
	if err != nil {
		return nil, err
	}

	var env objectEnvelope
	if err := json.Unmarshal(body, &env); err == nil && len(env.Data) > 0 {
		body = env.Data
	}
	var item Item
	if err := json.Unmarshal(body, &item); err != nil {
		return nil, fmt.Errorf("failed to decode item %s: %w", itemID, err)
	}
	return &item, nil
}

// TestConnection is the cheap probe used to validate the current token: a
// one-result sales order list.
func (c *Client) TestConnection(ctx context.Context) error {
	q := url.Values{}
	q.Set("maxresults", "1")
	_, err := c.ListSalesOrders(ctx, q)
	if err != nil {
		log.Debug().Err(err).Msg("SOS connection test failed")
		return err
	}
	return nil
}

func decodeSalesOrder(body json.RawMessage) (*SalesOrder, error) {
	var env objectEnvelope
	if err := json.Unmarshal(body, &env); err == nil && len(env.Data) > 0 {
		body = env.Data
	}
	var order SalesOrder
	if err := json.Unmarshal(body, &order); err != nil {
		return nil, fmt.Errorf("failed to decode sales order: %w", err)
	}
	return &order, nil
}
