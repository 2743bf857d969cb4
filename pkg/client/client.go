// Package client talks to a running mock server: the control plane over
// HTTP and object callbacks over a websocket.
package client

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

	"github.com/0x1a0b/mockserver-sub001/pkg/model"
	"github.com/0x1a0b/mockserver-sub001/pkg/requestlog"
)

// DefaultTimeout bounds each control plane call.
const DefaultTimeout = 30 * time.Second

// ErrVerificationFailed is wrapped by VerificationError.
var ErrVerificationFailed = errors.New("verification failed")

// ClearType selects what Clear removes.
type ClearType string

// Clear types.
const (
	ClearAll          ClearType = "all"
	ClearLog          ClearType = "log"
	ClearExpectations ClearType = "expectations"
)

// RetrieveType selects what Retrieve returns.
type RetrieveType string

// Retrieve types.
const (
	RetrieveActiveExpectations   RetrieveType = "active_expectations"
	RetrieveRecordedExpectations RetrieveType = "recorded_expectations"
	RetrieveRequests             RetrieveType = "requests"
	RetrieveRequestResponses     RetrieveType = "request_responses"
	RetrieveLogs                 RetrieveType = "logs"
)

// Retrieve formats.
const (
	FormatJSON       = "json"
	FormatLogEntries = "log_entries"
)

// APIError is an error response from the control plane.
type APIError struct {
	StatusCode int
	ErrorCode  string
	Message    string
}

func (e *APIError) Error() string {
	return e.Message
}

// VerificationError carries the server's explanation of a failed verify.
type VerificationError struct {
	Message string
}

func (e *VerificationError) Error() string { return e.Message }

func (e *VerificationError) Unwrap() error { return ErrVerificationFailed }

// Client calls the control plane.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the HTTP timeout for the client.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// New creates a client for the server at baseURL, e.g. http://localhost:1080.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the server URL the client talks to.
func (c *Client) BaseURL() string { return c.baseURL }

// Upsert stores expectations and returns them with their assigned IDs.
func (c *Client) Upsert(ctx context.Context, exps ...*model.Expectation) ([]*model.Expectation, error) {
	body, err := json.Marshal(exps)
	if err != nil {
		return nil, fmt.Errorf("failed to encode expectations: %w", err)
	}
	return c.UpsertJSON(ctx, body)
}

// UpsertJSON stores expectations given as a JSON object or array.
func (c *Client) UpsertJSON(ctx context.Context, body []byte) ([]*model.Expectation, error) {
	var stored []*model.Expectation
	if err := c.call(ctx, "/expectation", nil, body, http.StatusCreated, &stored); err != nil {
		return nil, err
	}
	return stored, nil
}

// Clear removes expectations and/or log entries selected by pattern. A nil
// pattern clears everything of the given type.
func (c *Client) Clear(ctx context.Context, pattern *model.HTTPRequest, typ ClearType) error {
	body, err := encodePattern(pattern)
	if err != nil {
		return err
	}
	q := url.Values{}
	if typ != "" {
		q.Set("type", string(typ))
	}
	return c.call(ctx, "/clear", q, body, http.StatusOK, nil)
}

// ClearByID removes one expectation.
func (c *Client) ClearByID(ctx context.Context, id string) error {
	body, err := json.Marshal(map[string]string{"id": id})
	if err != nil {
		return fmt.Errorf("failed to encode id: %w", err)
	}
	return c.call(ctx, "/clear", url.Values{"type": {string(ClearExpectations)}}, body, http.StatusOK, nil)
}

// Reset removes every expectation and log entry.
func (c *Client) Reset(ctx context.Context) error {
	return c.call(ctx, "/reset", nil, nil, http.StatusOK, nil)
}

// Retrieve returns the raw response body for a retrieve call.
func (c *Client) Retrieve(ctx context.Context, typ RetrieveType, format string, pattern *model.HTTPRequest) ([]byte, error) {
	body, err := encodePattern(pattern)
	if err != nil {
		return nil, err
	}
	q := url.Values{}
	if typ != "" {
		q.Set("type", string(typ))
	}
	if format != "" {
		q.Set("format", format)
	}
	resp, err := c.do(ctx, "/retrieve", q, body)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, parseError(resp)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return raw, nil
}

// ActiveExpectations returns stored expectations selected by pattern.
func (c *Client) ActiveExpectations(ctx context.Context, pattern *model.HTTPRequest) ([]*model.Expectation, error) {
	return retrieveAs[*model.Expectation](ctx, c, RetrieveActiveExpectations, pattern)
}

// RecordedExpectations returns expectations built from forwarded traffic.
func (c *Client) RecordedExpectations(ctx context.Context, pattern *model.HTTPRequest) ([]*model.Expectation, error) {
	return retrieveAs[*model.Expectation](ctx, c, RetrieveRecordedExpectations, pattern)
}

// Requests returns received requests selected by pattern.
func (c *Client) Requests(ctx context.Context, pattern *model.HTTPRequest) ([]*model.HTTPRequest, error) {
	return retrieveAs[*model.HTTPRequest](ctx, c, RetrieveRequests, pattern)
}

// RequestResponses returns request and response pairs selected by pattern.
func (c *Client) RequestResponses(ctx context.Context, pattern *model.HTTPRequest) ([]requestlog.RequestResponse, error) {
	return retrieveAs[requestlog.RequestResponse](ctx, c, RetrieveRequestResponses, pattern)
}

// Logs returns the server's log messages as text.
func (c *Client) Logs(ctx context.Context, pattern *model.HTTPRequest) (string, error) {
	raw, err := c.Retrieve(ctx, RetrieveLogs, FormatJSON, pattern)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func retrieveAs[T any](ctx context.Context, c *Client, typ RetrieveType, pattern *model.HTTPRequest) ([]T, error) {
	raw, err := c.Retrieve(ctx, typ, FormatJSON, pattern)
	if err != nil {
		return nil, err
	}
	var out []T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return out, nil
}

// Verify checks that requests matching pattern were received within times.
// A nil times means at least once. A failed check returns a
// *VerificationError.
func (c *Client) Verify(ctx context.Context, pattern *model.HTTPRequest, times *requestlog.VerificationTimes) error {
	body, err := json.Marshal(requestlog.Verification{HTTPRequest: pattern, Times: times})
	if err != nil {
		return fmt.Errorf("failed to encode verification: %w", err)
	}
	return c.verify(ctx, "/verify", body)
}

// VerifySequence checks that requests matching patterns were received in
// order.
func (c *Client) VerifySequence(ctx context.Context, patterns ...*model.HTTPRequest) error {
	body, err := json.Marshal(requestlog.VerificationSequence{HTTPRequests: patterns})
	if err != nil {
		return fmt.Errorf("failed to encode verification: %w", err)
	}
	return c.verify(ctx, "/verifySequence", body)
}

func (c *Client) verify(ctx context.Context, path string, body []byte) error {
	resp, err := c.do(ctx, path, nil, body)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusAccepted:
		return nil
	case http.StatusNotAcceptable:
		msg, _ := io.ReadAll(resp.Body)
		return &VerificationError{Message: string(msg)}
	default:
		return parseError(resp)
	}
}

// Status returns the ports the server is listening on.
func (c *Client) Status(ctx context.Context) ([]int, error) {
	var st struct {
		Ports []int `json:"ports"`
	}
	if err := c.call(ctx, "/status", nil, nil, http.StatusOK, &st); err != nil {
		return nil, err
	}
	return st.Ports, nil
}

// Stop asks the server to shut down.
func (c *Client) Stop(ctx context.Context) error {
	return c.call(ctx, "/stop", nil, nil, http.StatusOK, nil)
}

func encodePattern(pattern *model.HTTPRequest) ([]byte, error) {
	if pattern == nil {
		return nil, nil
	}
	body, err := json.Marshal(pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request pattern: %w", err)
	}
	return body, nil
}

// call performs one control plane request and decodes the reply into out
// when it is non-nil.
func (c *Client) call(ctx context.Context, path string, q url.Values, body []byte, want int, out any) error {
	resp, err := c.do(ctx, path, q, body)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != want {
		return parseError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// do performs a PUT against the prefixed control path.
func (c *Client) do(ctx context.Context, path string, q url.Values, body []byte) (*http.Response, error) {
	fullURL := c.baseURL + "/mockserver" + path
	if len(q) > 0 {
		fullURL += "?" + q.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, fullURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &APIError{
			ErrorCode: "connection_error",
			Message:   fmt.Sprintf("cannot connect to mockserver at %s: %v", c.baseURL, err),
		}
	}
	return resp, nil
}

// parseError parses an error response from the control plane.
func parseError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var errResp struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Message != "" {
		return &APIError{
			StatusCode: resp.StatusCode,
			ErrorCode:  errResp.Error,
			Message:    errResp.Message,
		}
	}
	return &APIError{
		StatusCode: resp.StatusCode,
		ErrorCode:  "unknown_error",
		Message:    fmt.Sprintf("server returned status %d: %s", resp.StatusCode, string(body)),
	}
}
