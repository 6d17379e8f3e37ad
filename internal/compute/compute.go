// Package compute fetches the outbox a compute node produced for a
// sequenced tx.
package compute

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/roach88/murelay/internal/ir"
	"github.com/roach88/murelay/internal/metrics"
	"github.com/roach88/murelay/internal/nodes"
)

var (
	// ErrUnavailable covers transport failures and 5xx responses.
	// Callers may retry.
	ErrUnavailable = errors.New("compute: node unavailable")

	// ErrExecution means the node evaluated the tx and reported an error.
	ErrExecution = errors.New("compute: execution error")
)

// maxResultBody caps the size of a result document.
const maxResultBody = 16 << 20

// Result is the document a node returns for a tx.
type Result struct {
	Messages []ir.Message `json:"messages"`
	Error    string       `json:"error,omitempty"`
}

// Client fetches results over HTTP.
type Client struct {
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// NewClient creates a compute client.
func NewClient(opts ...Option) *Client {
	c := &Client{httpClient: &http.Client{Timeout: 60 * time.Second}}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchMessages returns the outbox node produced for tx on processID.
// Entries without an id get their content-addressed id. A nil outbox is
// returned as an empty slice.
func (c *Client) FetchMessages(ctx context.Context, node nodes.Node, processID string, tx ir.SequencedTx) ([]ir.Message, error) {
	msgs, err := c.fetch(ctx, node, processID, tx)
	metrics.ComputeFetches.WithLabelValues(node.Name, fetchResult(err)).Inc()
	if err != nil {
		return nil, fmt.Errorf("fetch result %s from %s: %w", tx.TxID, node.Name, err)
	}
	return msgs, nil
}

func (c *Client) fetch(ctx context.Context, node nodes.Node, processID string, tx ir.SequencedTx) ([]ir.Message, error) {
	u := fmt.Sprintf("%s/result/%s?process-id=%s",
		strings.TrimRight(node.URL, "/"), url.PathEscape(tx.TxID), url.QueryEscape(processID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", ir.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResultBody))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("%w: status %d: %s", ErrExecution, resp.StatusCode, errorText(body))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("%w: unexpected status %d", ErrUnavailable, resp.StatusCode)
	}

	var result Result
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("%w: malformed result: %v", ErrExecution, err)
	}
	if result.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrExecution, result.Error)
	}

	outbox := make([]ir.Message, 0, len(result.Messages))
	for i, m := range result.Messages {
		m, err := ir.WithID(m)
		if err != nil {
			return nil, fmt.Errorf("%w: outbox entry %d: %v", ErrExecution, i, err)
		}
		outbox = append(outbox, m)
	}
	return outbox, nil
}

func errorText(body []byte) string {
	var r Result
	if json.Unmarshal(body, &r) == nil && r.Error != "" {
		return r.Error
	}
	text := strings.TrimSpace(string(body))
	if len(text) > 512 {
		text = text[:512]
	}
	return text
}

func fetchResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrExecution):
		return "error"
	default:
		return "unavailable"
	}
}
