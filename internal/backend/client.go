// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/jeranaias/inkwell/chat"
)

// Configuration constants for the assistant API.
const (
	// DefaultBaseURL is the base URL for the assistant API.
	DefaultBaseURL = "https://api.inkwell.app/api/v1"

	// DefaultTimeout is the default timeout for non-streaming API requests.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxRetries is the default number of retry attempts for transient errors.
	DefaultMaxRetries = 3

	// retryBaseDelay is the base delay for exponential backoff.
	retryBaseDelay = 500 * time.Millisecond

	// retryMaxDelay is the maximum delay for exponential backoff.
	retryMaxDelay = 10 * time.Second

	// MaxResponseSize is the maximum allowed response body size.
	// SECURITY: Response size limit prevents memory exhaustion attacks.
	MaxResponseSize = 10 * 1024 * 1024 // 10MB limit

	// userAgent identifies this client on the wire.
	userAgent = "inkwell/0.3.0"
)

// PERFORMANCE: Connection pooling reduces TCP handshake overhead.
// A single shared transport backs both request classes; the non-streaming
// client adds a timeout, the streaming client is bounded by context only.
// SECURITY: TLS 1.2+ enforced, verification required.
var sharedTransport = &http.Transport{
	MaxIdleConns:        100,
	MaxIdleConnsPerHost: 10,
	IdleConnTimeout:     90 * time.Second,
	TLSHandshakeTimeout: 10 * time.Second,
	TLSClientConfig: &tls.Config{
		MinVersion: tls.VersionTLS12,
	},
}

// Error variables for common API failures.
var (
	// ErrAuthFailed indicates authentication failed (invalid or expired token).
	ErrAuthFailed = errors.New("authentication failed")

	// ErrRateLimited indicates too many requests were made.
	ErrRateLimited = errors.New("rate limited")

	// ErrNotFound indicates the requested resource does not exist.
	ErrNotFound = errors.New("not found")
)

// APIError represents an error response from the assistant API.
type APIError struct {
	Code    string
	Message string
	Status  int
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("API error [%s] (HTTP %d): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("API error (HTTP %d): %s", e.Status, e.Message)
}

// apiErrorResponse represents an error response body from the API.
type apiErrorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// =============================================================================
// WIRE TYPES
// =============================================================================

// SessionInfo is the wire representation of a session.
type SessionInfo struct {
	ID           int64     `json:"id"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
}

// ToSession converts the wire representation to a domain session.
func (s *SessionInfo) ToSession() *chat.Session {
	return &chat.Session{
		ID:           s.ID,
		Title:        s.Title,
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
		MessageCount: s.MessageCount,
	}
}

// MessageRecord is the wire representation of a persisted message.
type MessageRecord struct {
	ID        int64          `json:"id"`
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	Module    string         `json:"module_type"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// ToMessage converts the wire representation to a domain message.
func (m *MessageRecord) ToMessage() *chat.Message {
	return &chat.Message{
		ID:        m.ID,
		Role:      chat.Role(m.Role),
		Module:    chat.ModuleType(m.Module),
		Content:   m.Content,
		Metadata:  m.Metadata,
		Timestamp: m.CreatedAt,
	}
}

// DocumentStatus reports the progress of a server-side document ingestion job.
type DocumentStatus struct {
	ID       int64   `json:"id"`
	Status   string  `json:"status"` // "pending", "processing", "ready", "failed"
	Progress float64 `json:"progress"`
}

// IsReady reports whether ingestion finished successfully.
func (d *DocumentStatus) IsReady() bool {
	return d.Status == "ready"
}

// IsFailed reports whether ingestion failed server-side.
func (d *DocumentStatus) IsFailed() bool {
	return d.Status == "failed"
}

// Request/response envelopes.
type createSessionRequest struct {
	Title string `json:"title"`
}

type sessionsResponse struct {
	Sessions []SessionInfo `json:"sessions"`
}

type messagesResponse struct {
	Messages []MessageRecord `json:"messages"`
}

type feedbackRequest struct {
	Rating int `json:"rating"`
}

// =============================================================================
// CLIENT
// =============================================================================

// Client is a client for the assistant REST and streaming API.
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
	streamer   *http.Client
	maxRetries int
	limiter    *rate.Limiter
}

// NewClient creates a new API client with the given bearer token.
//
// An empty token is allowed; requests are then sent unauthenticated, which
// self-hosted backends accept and the hosted one rejects with ErrAuthFailed.
func NewClient(token string) *Client {
	return &Client{
		token:   strings.TrimSpace(token),
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Transport: sharedTransport,
			Timeout:   DefaultTimeout,
		},
		// No timeout for streaming - bounded via context
		streamer: &http.Client{
			Transport: sharedTransport,
		},
		maxRetries: DefaultMaxRetries,
		// Client-side pacing keeps bursts of cache-miss reloads polite.
		limiter: rate.NewLimiter(rate.Limit(10), 20),
	}
}

// WithBaseURL sets a custom base URL for the API.
func (c *Client) WithBaseURL(url string) *Client {
	c.baseURL = strings.TrimSuffix(url, "/")
	return c
}

// WithTimeout sets the non-streaming request timeout.
func (c *Client) WithTimeout(timeout time.Duration) *Client {
	c.httpClient.Timeout = timeout
	return c
}

// WithMaxRetries sets the maximum number of retry attempts.
func (c *Client) WithMaxRetries(maxRetries int) *Client {
	c.maxRetries = maxRetries
	return c
}

// WithRateLimit overrides the client-side request pacing.
func (c *Client) WithRateLimit(perSecond float64, burst int) *Client {
	c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	return c
}

// IsConfigured returns true if the client has a token configured.
func (c *Client) IsConfigured() bool {
	return c.token != ""
}

// TokenMasked returns a masked version of the token for display.
// SECURITY: Never exposes token fragments - use fingerprint instead.
func (c *Client) TokenMasked() string {
	if c.token == "" {
		return "[not set]"
	}
	return fmt.Sprintf("[REDACTED, length=%d, fingerprint=%s]", len(c.token), c.tokenFingerprint())
}

// tokenFingerprint returns a short hash identifier of the token for logging.
// SECURITY: Uses SHA-256 so logs never carry token material.
func (c *Client) tokenFingerprint() string {
	if c.token == "" {
		return "none"
	}
	h := sha256.Sum256([]byte(c.token))
	return hex.EncodeToString(h[:4])
}

// setHeaders sets the required headers for API requests.
func (c *Client) setHeaders(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
}

// =============================================================================
// REQUEST PLUMBING
// =============================================================================

// readResponse reads the response body with size limits.
//
// SECURITY: Response size limit prevents memory exhaustion attacks.
func readResponse(resp *http.Response) ([]byte, error) {
	limitedReader := io.LimitReader(resp.Body, MaxResponseSize)
	body, err := io.ReadAll(limitedReader)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if int64(len(body)) == MaxResponseSize {
		return nil, fmt.Errorf("response exceeded maximum size of %d bytes", MaxResponseSize)
	}

	return body, nil
}

// doJSON performs a single JSON request/response round trip. A non-2xx status
// is converted to an error via handleErrorResponse; out may be nil for
// operations without a response body.
//
// SECURITY: Clears Authorization header after the request to keep it out of
// request logging paths.
func (c *Client) doJSON(ctx context.Context, method, url string, in, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var bodyReader io.Reader
	if in != nil {
		bodyBytes, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	c.setHeaders(req)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	req.Header.Del("Authorization")
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	log.Printf("API Response: %s %s -> %d (%v)", method, req.URL.Path, resp.StatusCode, time.Since(start).Round(time.Millisecond))

	body, err := readResponse(resp)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return handleErrorResponse(resp.StatusCode, body)
	}

	if out != nil && len(body) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}

// handleErrorResponse converts HTTP error responses to appropriate Go errors.
func handleErrorResponse(statusCode int, body []byte) error {
	// Try to parse a structured error body first
	var apiErr apiErrorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		e := &APIError{
			Code:    apiErr.Error.Code,
			Message: apiErr.Error.Message,
			Status:  statusCode,
		}

		switch statusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: %s", ErrAuthFailed, e.Message)
		case http.StatusNotFound:
			return fmt.Errorf("%w: %s", ErrNotFound, e.Message)
		case http.StatusTooManyRequests:
			return fmt.Errorf("%w: %s", ErrRateLimited, e.Message)
		default:
			return e
		}
	}

	// Fallback for unparseable error responses
	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrAuthFailed
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusTooManyRequests:
		return ErrRateLimited
	default:
		return &APIError{
			Message: strings.TrimSpace(string(body)),
			Status:  statusCode,
		}
	}
}

// isRetryable determines if an error should trigger a retry.
func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	// Rate limiting is retryable
	if errors.Is(err, ErrRateLimited) {
		return true
	}

	// Server errors are retryable, client errors are not
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= 500 && apiErr.Status < 600
	}

	// Auth and missing-resource failures never resolve by retrying
	if errors.Is(err, ErrAuthFailed) || errors.Is(err, ErrNotFound) {
		return false
	}

	// Anything else is a transport-level failure worth one more try
	return true
}

// calculateBackoff returns the delay to wait before the next retry.
func (c *Client) calculateBackoff(attempt int) time.Duration {
	// Exponential backoff: 500ms, 1000ms, 2000ms, etc.
	delay := retryBaseDelay * time.Duration(1<<uint(attempt))
	if delay > retryMaxDelay {
		delay = retryMaxDelay
	}
	return delay
}

// withRetry runs fn up to maxRetries times with exponential backoff between
// attempts. Only read-style operations go through here; writes that must not
// be duplicated are issued exactly once by their callers.
func (c *Client) withRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.calculateBackoff(attempt)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// =============================================================================
// SESSION OPERATIONS
// =============================================================================

// CreateSession creates a new session with the given title. Issued exactly
// once; a retried create could leave duplicate sessions server-side.
func (c *Client) CreateSession(ctx context.Context, title string) (*SessionInfo, error) {
	var info SessionInfo
	url := c.baseURL + "/sessions"
	if err := c.doJSON(ctx, http.MethodPost, url, createSessionRequest{Title: title}, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// ListSessions retrieves all sessions, most recently updated first.
func (c *Client) ListSessions(ctx context.Context) ([]SessionInfo, error) {
	var out sessionsResponse
	url := c.baseURL + "/sessions"
	err := c.withRetry(ctx, func() error {
		return c.doJSON(ctx, http.MethodGet, url, nil, &out)
	})
	if err != nil {
		return nil, err
	}
	return out.Sessions, nil
}

// Messages retrieves the ordered message list of one session.
func (c *Client) Messages(ctx context.Context, sessionID int64) ([]MessageRecord, error) {
	var out messagesResponse
	url := fmt.Sprintf("%s/sessions/%d/messages", c.baseURL, sessionID)
	err := c.withRetry(ctx, func() error {
		return c.doJSON(ctx, http.MethodGet, url, nil, &out)
	})
	if err != nil {
		return nil, err
	}
	return out.Messages, nil
}

// DeleteSession deletes a session and its messages.
func (c *Client) DeleteSession(ctx context.Context, sessionID int64) error {
	url := fmt.Sprintf("%s/sessions/%d", c.baseURL, sessionID)
	return c.withRetry(ctx, func() error {
		return c.doJSON(ctx, http.MethodDelete, url, nil, nil)
	})
}

// =============================================================================
// MESSAGE OPERATIONS
// =============================================================================

// SendMessage performs a one-shot, non-streaming exchange and returns the
// complete assistant message. This is the fallback path when the streaming
// endpoint cannot be established; it is attempted exactly once.
func (c *Client) SendMessage(ctx context.Context, sessionID int64, payload Payload) (*MessageRecord, error) {
	var record MessageRecord
	url := fmt.Sprintf("%s/sessions/%d/message", c.baseURL, sessionID)
	if err := c.doJSON(ctx, http.MethodPost, url, payload, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// SendFeedback records a rating for a message. Issued exactly once; retry
// scheduling for failed feedback writes belongs to the offline queue, not
// the transport.
func (c *Client) SendFeedback(ctx context.Context, messageID int64, rating int) error {
	url := fmt.Sprintf("%s/messages/%d/feedback", c.baseURL, messageID)
	return c.doJSON(ctx, http.MethodPost, url, feedbackRequest{Rating: rating}, nil)
}

// =============================================================================
// DOCUMENT OPERATIONS
// =============================================================================

// DocumentStatus reports the current state of a document ingestion job.
func (c *Client) DocumentStatus(ctx context.Context, documentID int64) (*DocumentStatus, error) {
	var status DocumentStatus
	url := fmt.Sprintf("%s/documents/%d/status", c.baseURL, documentID)
	err := c.withRetry(ctx, func() error {
		return c.doJSON(ctx, http.MethodGet, url, nil, &status)
	})
	if err != nil {
		return nil, err
	}
	return &status, nil
}
