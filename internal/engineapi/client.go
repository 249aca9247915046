// Package engineapi is an HTTP client for the engine's prompt submission,
// queue status and liveness endpoints.
package engineapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	submitPath = "/prompt"
	queuePath  = "/api/queue"
	pingPath   = "/"

	// DefaultTimeout bounds a single request to the engine.
	DefaultTimeout = 30 * time.Second

	// maxBodySize caps how much of an engine response is read.
	maxBodySize = 1 << 20

	// maxLoggedBody caps the response text kept in a log record.
	maxLoggedBody = 256
)

// StatusError is returned when the engine answers with a non-2xx status.
// Body holds the engine's response text verbatim.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("engine returned %d", e.Code)
	}
	return fmt.Sprintf("engine returned %d: %s", e.Code, e.Body)
}

// SubmitResponse is the engine's answer to an accepted submission.
type SubmitResponse struct {
	PromptID   string         `json:"prompt_id"`
	Number     int            `json:"number"`
	NodeErrors map[string]any `json:"node_errors,omitempty"`
}

// QueueStatus holds the engine's pending and running counts.
type QueueStatus struct {
	Pending int `json:"queue_pending"`
	Running int `json:"queue_running"`
}

// Client talks to one engine instance.
type Client struct {
	baseURL  string
	clientID string
	http     *http.Client
	logger   *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client. Its transport is
// still wrapped for tracing.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithLogger sets the logger for responses the client tolerates but cannot
// read.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// New creates a client for the engine at baseURL. Every submission carries
// the same client id for the lifetime of the client.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		clientID: uuid.NewString(),
		http:     &http.Client{Timeout: DefaultTimeout},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	base := c.http.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	hc := *c.http
	hc.Transport = otelhttp.NewTransport(base)
	c.http = &hc
	return c
}

// BaseURL returns the engine address.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// ClientID returns the id sent with every submission.
func (c *Client) ClientID() string {
	return c.clientID
}

// Submit posts graph to the engine. A transport failure is returned as is;
// a non-2xx answer is returned as *StatusError. Success only means the
// engine queued the graph, not that it will execute. A 2xx body that is not
// a submission response is logged and yields an empty PromptID.
func (c *Client) Submit(ctx context.Context, graph any) (*SubmitResponse, error) {
	payload, err := json.Marshal(map[string]any{
		"prompt":    graph,
		"client_id": c.clientID,
	})
	if err != nil {
		return nil, fmt.Errorf("encode submission: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+submitPath, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build submission: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var resp SubmitResponse
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &resp); err != nil {
			text := string(body)
			if len(text) > maxLoggedBody {
				text = text[:maxLoggedBody]
			}
			c.logger.Warn("engine accepted submission with unreadable response",
				"error", err, "body", text)
			return &SubmitResponse{}, nil
		}
	}
	return &resp, nil
}

// QueueStatus returns the number of pending and running prompts.
func (c *Client) QueueStatus(ctx context.Context) (QueueStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+queuePath, nil)
	if err != nil {
		return QueueStatus{}, fmt.Errorf("build queue request: %w", err)
	}

	body, err := c.do(req)
	if err != nil {
		return QueueStatus{}, err
	}

	var raw struct {
		Pending []json.RawMessage `json:"queue_pending"`
		Running []json.RawMessage `json:"queue_running"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return QueueStatus{}, fmt.Errorf("decode queue response: %w", err)
	}
	return QueueStatus{Pending: len(raw.Pending), Running: len(raw.Running)}, nil
}

// Ping checks that the engine answers HTTP.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+pingPath, nil)
	if err != nil {
		return fmt.Errorf("build ping: %w", err)
	}
	_, err = c.do(req)
	return err
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", req.URL.Path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return body, nil
}
