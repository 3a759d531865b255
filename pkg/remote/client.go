// Package remote invokes the opaque HTTP operations behind each onboarding stage.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukex/sellflow/pkg/models"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderRunID          = "X-Run-ID"

	defaultTimeout  = 60 * time.Second
	maxResponseBody = 32 << 20 // generated images travel as base64
)

// Request is one remote call issued on behalf of a stage.
type Request struct {
	RunID          string
	StageID        string
	Operation      models.OperationSpec
	Payload        map[string]any
	IdempotencyKey string
}

// Response is the raw outcome of a remote call that reached the server.
// Body is nil when the response was not a JSON object.
type Response struct {
	StatusCode int
	Body       map[string]any
	Raw        []byte
}

// Structured reports whether the server answered with a JSON object.
func (r *Response) Structured() bool {
	return r != nil && r.Body != nil
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// TransportError is returned when a call never produced an HTTP response.
type TransportError struct {
	Operation string
	Err       error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s request failed: %v", e.Operation, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the call was cut short by a deadline.
func (e *TransportError) Timeout() bool {
	return errors.Is(e.Err, context.DeadlineExceeded)
}

// Invoker issues stage operations. Implementations must call the remote side exactly once.
type Invoker interface {
	Invoke(ctx context.Context, req Request) (*Response, error)
}

// HTTPClient invokes operations as JSON requests.
type HTTPClient struct {
	client *http.Client
	logger *slog.Logger
}

// NewHTTPClient creates an instrumented HTTP invoker.
func NewHTTPClient(logger *slog.Logger) *HTTPClient {
	return &HTTPClient{
		client: &http.Client{
			Timeout:   defaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger.With("module", "remote_client"),
	}
}

// NewHTTPClientWith wraps an existing http.Client, mostly for tests.
func NewHTTPClientWith(client *http.Client, logger *slog.Logger) *HTTPClient {
	return &HTTPClient{client: client, logger: logger.With("module", "remote_client")}
}

// Invoke performs exactly one HTTP request. Non-2xx statuses are returned as responses,
// not errors; only failures to obtain a response produce a *TransportError.
func (c *HTTPClient) Invoke(ctx context.Context, req Request) (*Response, error) {
	if req.Operation.Timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, req.Operation.Timeout)
		defer cancel()
	}

	body, err := json.Marshal(req.Payload)
	if err != nil {
		return nil, &TransportError{Operation: req.Operation.Name, Err: fmt.Errorf("failed to encode payload: %w", err)}
	}

	method := req.Operation.Method
	if method == "" {
		method = http.MethodPost
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.Operation.URL, bytes.NewReader(body))
	if err != nil {
		return nil, &TransportError{Operation: req.Operation.Name, Err: fmt.Errorf("failed to create request: %w", err)}
	}

	for key, value := range req.Operation.Headers {
		httpReq.Header.Set(key, value)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	if req.RunID != "" {
		httpReq.Header.Set(HeaderRunID, req.RunID)
	}

	if req.IdempotencyKey != "" {
		httpReq.Header.Set(HeaderIdempotencyKey, req.IdempotencyKey)
	}

	logger := c.logger.With("operation", req.Operation.Name, "stage_id", req.StageID, "run_id", req.RunID)
	started := time.Now()

	resp, err := c.client.Do(httpReq)
	if err != nil {
		logger.WarnContext(ctx, "Remote operation failed", "error", err, "elapsed", time.Since(started))

		return nil, &TransportError{Operation: req.Operation.Name, Err: err}
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, &TransportError{Operation: req.Operation.Name, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	out := &Response{StatusCode: resp.StatusCode, Raw: raw}

	var parsed map[string]any
	if err := json.Unmarshal(raw, &parsed); err == nil {
		out.Body = parsed
	}

	logger.DebugContext(ctx, "Remote operation answered",
		"status_code", resp.StatusCode,
		"structured", out.Structured(),
		"elapsed", time.Since(started))

	return out, nil
}
