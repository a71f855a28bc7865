// Package network submits signed state channel envelopes to a Reality L0
// node and classifies what happened to them.
package network

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/hive-statechannel/pkg/chain"
)

const maxResponseBytes = 1 << 20

// APIError is returned by probes when the node responds with a non-2xx status.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("l0 api %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("l0 api %d: %s (%s)", e.Status, e.Message, e.Code)
}

// Client talks to one L0 node.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures the client.
type Option func(*Client)

// WithTimeout sets the per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a client for the node at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: slog.Default().With("component", "l0-client"),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Submit posts env to the channel at address and classifies the result.
// It never retries; callers decide based on the Outcome.
func (c *Client) Submit(ctx context.Context, address string, env *chain.Envelope) Outcome {
	body, err := json.Marshal(WireBody(env))
	if err != nil {
		return Outcome{Kind: Rejected, Reason: ReasonMalformedSchema, Err: fmt.Errorf("%w: marshal: %v", ErrRejected, err)}
	}

	// Once the full request is on the wire the node may have processed it,
	// even if we never see the response.
	var written atomic.Bool
	trace := &httptrace.ClientTrace{
		WroteRequest: func(info httptrace.WroteRequestInfo) {
			if info.Err == nil {
				written.Store(true)
			}
		},
	}

	endpoint := c.baseURL + "/state-channels/" + url.PathEscape(address) + "/snapshot"
	req, err := http.NewRequestWithContext(httptrace.WithClientTrace(ctx, trace), http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Outcome{Kind: TransientFailure, Err: fmt.Errorf("%w: build request: %v", ErrTransient, err)}
	}
	requestID := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", requestID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if written.Load() {
			c.logger.WarnContext(ctx, "submission outcome unknown", "request_id", requestID, "error", err)
			return Outcome{Kind: AmbiguousFailure, Err: fmt.Errorf("%w: %v", ErrAmbiguous, err)}
		}
		return Outcome{Kind: TransientFailure, Err: fmt.Errorf("%w: %v", ErrTransient, err)}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	out := classify(resp.StatusCode, raw, env.Hash())

	c.logger.DebugContext(ctx, "snapshot submitted",
		"request_id", requestID,
		"status", resp.StatusCode,
		"outcome", out.Kind.String(),
		"reason", out.Reason.String(),
	)
	return out
}

func classify(status int, raw []byte, envHash chain.Hash) Outcome {
	if status >= 200 && status < 300 {
		var ok acceptedBody
		_ = json.Unmarshal(raw, &ok)
		return Outcome{Kind: Accepted, Status: status, Ordinal: ok.Ordinal}
	}

	var eb ErrorBody
	_ = json.Unmarshal(raw, &eb)
	apiErr := &APIError{Status: status, Code: eb.Code, Message: eb.Message}

	switch {
	case status == http.StatusConflict:
		if eb.Code == codeDuplicateSnapshot {
			return Outcome{Kind: Accepted, Status: status}
		}
		out := Outcome{Kind: Rejected, Reason: ReasonChainMismatch, Status: status}
		if remote, err := chain.ParseHash(eb.LastSnapshotHash); err == nil {
			if remote == envHash {
				// Our previous attempt landed; the ack was lost.
				return Outcome{Kind: Accepted, Status: status}
			}
			out.RemoteHash = &remote
		}
		out.Err = fmt.Errorf("%w: %v", chain.ErrChainMismatch, apiErr)
		return out
	case status == http.StatusUnauthorized || status == http.StatusForbidden || eb.Code == codeInvalidSignature:
		return Outcome{Kind: Rejected, Reason: ReasonSignatureRejected, Status: status, Err: fmt.Errorf("%w: %v", ErrSignatureRejected, apiErr)}
	case status == http.StatusTooManyRequests || status >= 500:
		return Outcome{Kind: TransientFailure, Status: status, Err: fmt.Errorf("%w: %v", ErrTransient, apiErr)}
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return Outcome{Kind: Rejected, Reason: ReasonMalformedSchema, Status: status, Err: fmt.Errorf("%w: %v", ErrRejected, apiErr)}
	case status >= 400:
		return Outcome{Kind: Rejected, Reason: ReasonOther, Status: status, Err: fmt.Errorf("%w: %v", ErrRejected, apiErr)}
	}
	return Outcome{Kind: TransientFailure, Status: status, Err: fmt.Errorf("%w: unexpected status %d", ErrTransient, status)}
}

func (c *Client) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		var eb ErrorBody
		if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&eb); err == nil {
			return &APIError{Status: resp.StatusCode, Code: eb.Code, Message: eb.Message}
		}
		return &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}

	if out != nil {
		return json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(out)
	}
	return nil
}

// ClusterInfo calls GET /cluster/info.
func (c *Client) ClusterInfo(ctx context.Context) ([]ClusterNode, error) {
	var out []ClusterNode
	if err := c.do(ctx, http.MethodGet, "/cluster/info", &out); err != nil {
		return nil, fmt.Errorf("cluster info: %w", err)
	}
	c.logger.DebugContext(ctx, "cluster info", "nodes", len(out))
	return out, nil
}

// Healthy reports whether the node answers cluster info.
func (c *Client) Healthy(ctx context.Context) bool {
	_, err := c.ClusterInfo(ctx)
	return err == nil
}

// LatestOrdinal calls GET /global-snapshots/latest/ordinal.
func (c *Client) LatestOrdinal(ctx context.Context) (uint64, error) {
	var out ordinalBody
	if err := c.do(ctx, http.MethodGet, "/global-snapshots/latest/ordinal", &out); err != nil {
		return 0, fmt.Errorf("latest ordinal: %w", err)
	}
	return out.Value, nil
}

// LatestSnapshot returns the node's head for the channel at address. A
// channel the node has never seen reports the genesis hash.
func (c *Client) LatestSnapshot(ctx context.Context, address string) (ChannelHead, error) {
	var out channelHeadBody
	err := c.do(ctx, http.MethodGet, "/state-channels/"+url.PathEscape(address)+"/snapshots/latest", &out)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
		return ChannelHead{Hash: chain.Genesis}, nil
	}
	if err != nil {
		return ChannelHead{}, fmt.Errorf("latest snapshot: %w", err)
	}

	h, err := chain.ParseHash(out.Hash)
	if err != nil {
		return ChannelHead{}, fmt.Errorf("latest snapshot: %w", err)
	}
	return ChannelHead{Hash: h, Ordinal: out.Ordinal}, nil
}
