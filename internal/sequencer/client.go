package sequencer

import (
	"bytes"
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
	"github.com/roach88/murelay/internal/signer"
)

// maxErrorBody caps how much of an error response is quoted.
const maxErrorBody = 4 << 10

// Client is an HTTP sequencer client.
type Client struct {
	baseURL    string
	signer     *signer.Signer
	httpClient *http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// NewClient creates a client for the sequencer at baseURL.
func NewClient(baseURL string, s *signer.Signer, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		signer:     s,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FindTx looks up the tx the sequencer assigned to msg.
// It never writes.
func (c *Client) FindTx(ctx context.Context, msg ir.Message) (ir.SequencedTx, error) {
	u := fmt.Sprintf("%s/messages/%s?process-id=%s",
		c.baseURL, url.PathEscape(msg.ID), url.QueryEscape(msg.ProcessID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return ir.SequencedTx{}, fmt.Errorf("find tx: %w", err)
	}

	var tx ir.SequencedTx
	if err := c.do(req, &tx); err != nil {
		return ir.SequencedTx{}, fmt.Errorf("find tx %s: %w", msg.ID, err)
	}
	return tx, nil
}

// BuildAndSign signs msg with the client's key.
func (c *Client) BuildAndSign(msg ir.Message) (ir.SignedInteraction, error) {
	return BuildAndSign(c.signer, msg)
}

// WriteInteraction submits a signed interaction and returns its tx.
func (c *Client) WriteInteraction(ctx context.Context, si ir.SignedInteraction) (ir.SequencedTx, error) {
	body, err := json.Marshal(si)
	if err != nil {
		return ir.SequencedTx{}, fmt.Errorf("write interaction: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/", bytes.NewReader(body))
	if err != nil {
		return ir.SequencedTx{}, fmt.Errorf("write interaction: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var tx ir.SequencedTx
	err = c.do(req, &tx)
	if errors.Is(err, ErrNotFound) {
		err = fmt.Errorf("%w: submit endpoint not found", ErrRejected)
	}
	metrics.SequencerSubmissions.WithLabelValues(submissionResult(err)).Inc()
	if err != nil {
		return ir.SequencedTx{}, fmt.Errorf("write interaction %s: %w", si.Message.ID, err)
	}
	return tx, nil
}

// do sends req and decodes a 2xx JSON body into out. Status codes map
// onto the package sentinels.
func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", ir.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, readErrorBody(resp.Body))
	case resp.StatusCode >= 400:
		return fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, readErrorBody(resp.Body))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("%w: unexpected status %d", ErrUnavailable, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %w", ErrUnavailable, err)
	}
	return nil
}

func readErrorBody(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &body) == nil && body.Error != "" {
		return body.Error
	}
	return strings.TrimSpace(string(data))
}

func submissionResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrRejected):
		return "rejected"
	default:
		return "unavailable"
	}
}
