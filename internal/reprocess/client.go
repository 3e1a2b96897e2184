// Package reprocess implements the bulk call-log reprocessing core:
// scope estimation, job submission, durable handle tracking and the
// resumable status polling loop.
package reprocess

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/calldeck/internal/models"
	"golang.org/x/time/rate"
)

const (
	// DefaultTimeout is the default per-request HTTP timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultRateLimit is the default rate limit (requests per second).
	DefaultRateLimit = 10
)

// BackendClient is the processing-backend surface the tracking core
// depends on. Tests substitute a fake.
type BackendClient interface {
	// Count returns how many call logs the filter set would touch.
	Count(ctx context.Context, filters *models.ReprocessFilters) (int, error)

	// Submit creates a reprocess job and returns its request id.
	Submit(ctx context.Context, filters *models.ReprocessFilters) (string, error)

	// Status fetches the current snapshot for a request id. Returns
	// models.ErrJobNotFound when the backend has no record of the id.
	Status(ctx context.Context, requestID string, projectID string) (*models.JobStatus, error)
}

// APIError represents a non-2xx response from the processing backend.
type APIError struct {
	StatusCode int
	Message    string
	Endpoint   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend error %d on %s: %s", e.StatusCode, e.Endpoint, e.Message)
}

// Client is an HTTP client for the call-log processing backend.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     arbor.ILogger
	limiter    *rate.Limiter
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithAPIKey sets the backend API key.
func WithAPIKey(apiKey string) ClientOption {
	return func(c *Client) {
		c.apiKey = apiKey
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithLogger sets a logger.
func WithLogger(logger arbor.ILogger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRateLimit sets a custom rate limit.
func WithRateLimit(requestsPerSecond int) ClientOption {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
	}
}

// WithTimeout sets the per-request HTTP timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// NewClient creates a new processing-backend client.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		limiter: rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

type countResponse struct {
	Count int `json:"count"`
}

type submitResponse struct {
	RequestID string          `json:"request_id"`
	Filters   json.RawMessage `json:"filters"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Count implements BackendClient.
// GET /reprocess/count
func (c *Client) Count(ctx context.Context, filters *models.ReprocessFilters) (int, error) {
	var result countResponse
	if err := c.do(ctx, http.MethodGet, "/reprocess/count", filterQuery(filters), nil, &result); err != nil {
		return 0, err
	}
	return result.Count, nil
}

// Submit implements BackendClient.
// POST /reprocess
func (c *Client) Submit(ctx context.Context, filters *models.ReprocessFilters) (string, error) {
	from, to := filters.NormalizedRange()
	body := map[string]interface{}{
		"from_date":         from.Format(time.RFC3339),
		"to_date":           to.Format(time.RFC3339),
		"reprocess_type":    string(filters.Scope),
		"reprocess_options": string(filters.Targets),
		"agent_id":          filters.Owner.AgentID,
		"project_id":        filters.Owner.ProjectID,
	}
	if len(filters.TranscriptionFields) > 0 {
		body["transcription_fields"] = filters.TranscriptionFields
	}
	if len(filters.MetricsFields) > 0 {
		body["metrics_fields"] = filters.MetricsFields
	}

	var result submitResponse
	if err := c.do(ctx, http.MethodPost, "/reprocess", nil, body, &result); err != nil {
		return "", err
	}
	if result.RequestID == "" {
		return "", fmt.Errorf("backend returned empty request_id")
	}
	return result.RequestID, nil
}

// Status implements BackendClient.
// GET /reprocess/status/{request_id}
func (c *Client) Status(ctx context.Context, requestID string, projectID string) (*models.JobStatus, error) {
	params := url.Values{}
	if projectID != "" {
		params.Set("project_id", projectID)
	}

	var result models.JobStatus
	err := c.do(ctx, http.MethodGet, "/reprocess/status/"+url.PathEscape(requestID), params, nil, &result)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil, models.ErrJobNotFound
		}
		return nil, err
	}

	result.RequestID = requestID
	return &result, nil
}

// filterQuery builds the count endpoint query string. Field subsets are
// JSON-encoded arrays per the backend contract.
func filterQuery(filters *models.ReprocessFilters) url.Values {
	from, to := filters.NormalizedRange()

	params := url.Values{}
	params.Set("from_date", from.Format(time.RFC3339))
	params.Set("to_date", to.Format(time.RFC3339))
	params.Set("reprocess_type", string(filters.Scope))
	params.Set("reprocess_options", string(filters.Targets))
	if filters.Owner.AgentID != "" {
		params.Set("agent_id", filters.Owner.AgentID)
	}
	if filters.Owner.ProjectID != "" {
		params.Set("project_id", filters.Owner.ProjectID)
	}
	if len(filters.TranscriptionFields) > 0 {
		if encoded, err := json.Marshal(filters.TranscriptionFields); err == nil {
			params.Set("transcription_fields", string(encoded))
		}
	}
	if len(filters.MetricsFields) > 0 {
		if encoded, err := json.Marshal(filters.MetricsFields); err == nil {
			params.Set("metrics_fields", string(encoded))
		}
	}

	return params
}

// do performs one backend request with rate limiting and decodes the
// JSON response into result.
func (c *Client) do(ctx context.Context, method, path string, params url.Values, body interface{}, result interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter wait: %w", err)
	}

	reqURL := c.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	if c.logger != nil {
		c.logger.Debug().
			Str("method", method).
			Str("path", path).
			Msg("Processing backend request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		message := readErrorMessage(resp.Body)
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    message,
			Endpoint:   path,
		}
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}

// readErrorMessage extracts the {error} field from a non-2xx body,
// falling back to the raw body text.
func readErrorMessage(body io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil || len(raw) == 0 {
		return "no response body"
	}

	var parsed errorResponse
	if err := json.Unmarshal(raw, &parsed); err == nil && parsed.Error != "" {
		return parsed.Error
	}
	return string(raw)
}
