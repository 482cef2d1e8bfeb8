// Package remote is the HTTP client for the remote bibliographic library
// (Zotero Web API v3 semantics): paginated item listings, version headers
// for incremental fetches, and optimistic-concurrency tag writes.
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
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/starford/refsync/internal/apperr"
)

// Library types.
const (
	LibraryUser  = "user"
	LibraryGroup = "group"
)

const (
	defaultBaseURL  = "https://api.zotero.org"
	defaultPageSize = 100
	apiVersion      = "3"
)

// HTTPError is a non-success response the client could not map to a
// sentinel error.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

// Options configures a Client.
type Options struct {
	BaseURL     string
	LibraryType string
	LibraryID   string
	APIKey      string
	PageSize    int
	MaxRetries  int
	HTTPClient  *http.Client
	Logger      *slog.Logger
}

// Client talks to one remote library.
type Client struct {
	baseURL    string
	prefix     string
	apiKey     string
	pageSize   int
	httpClient *http.Client
	logger     *slog.Logger
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// NewClient validates opts and returns a Client. A missing library identity
// is reported as apperr.ErrConfiguration.
func NewClient(opts Options) (*Client, error) {
	libID := strings.TrimSpace(opts.LibraryID)
	if libID == "" {
		return nil, fmt.Errorf("%w: remote library id is required", apperr.ErrConfiguration)
	}
	var prefix string
	switch opts.LibraryType {
	case "", LibraryUser:
		prefix = "/users/" + url.PathEscape(libID)
	case LibraryGroup:
		prefix = "/groups/" + url.PathEscape(libID)
	default:
		return nil, fmt.Errorf("%w: unknown library type %q", apperr.ErrConfiguration, opts.LibraryType)
	}

	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	pageSize := opts.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = defaultPageSize
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxRetries := opts.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Client{
		baseURL:    baseURL,
		prefix:     prefix,
		apiKey:     strings.TrimSpace(opts.APIKey),
		pageSize:   pageSize,
		httpClient: httpClient,
		logger:     logger,
		maxRetries: maxRetries,
		baseDelay:  250 * time.Millisecond,
		maxDelay:   30 * time.Second,
	}, nil
}

type response struct {
	status int
	header http.Header
	body   []byte
}

// do performs one logical request, retrying transport errors, 429 and 5xx.
// Any other status is returned to the caller for mapping.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, headers map[string]string, body any) (*response, error) {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("remote: encode body: %w", err)
		}
	}
	target := c.baseURL + c.prefix + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	for attempt := 0; ; attempt++ {
		var bodyReader io.Reader
		if bodyBytes != nil {
			bodyReader = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, target, bodyReader)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Zotero-API-Version", apiVersion)
		if c.apiKey != "" {
			req.Header.Set("Zotero-API-Key", c.apiKey)
		}
		correlation := uuid.NewString()
		req.Header.Set("X-Correlation-Id", correlation)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt < c.maxRetries && ctx.Err() == nil {
				c.logger.Debug("remote: transport error, retrying",
					slog.String("path", path),
					slog.Int("attempt", attempt+1),
					slog.String("error", err.Error()))
				if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return nil, waitErr
				}
				continue
			}
			return nil, fmt.Errorf("remote: %s %s: %w", method, path, err)
		}
		payload, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return nil, fmt.Errorf("remote: read body: %w", readErr)
		}

		retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		if retryable && attempt < c.maxRetries {
			hint := resp.Header.Get("Retry-After")
			if hint == "" {
				hint = resp.Header.Get("Backoff")
			}
			c.logger.Debug("remote: retryable status",
				slog.String("path", path),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempt", attempt+1),
				slog.String("correlation_id", correlation))
			if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, hint)); waitErr != nil {
				return nil, waitErr
			}
			continue
		}

		if backoff := parseRetryAfter(resp.Header.Get("Backoff")); backoff > 0 && resp.StatusCode < 300 {
			// The server asks for a pause even on success.
			c.logger.Info("remote: backoff requested", slog.Duration("delay", backoff))
			if waitErr := waitWithContext(ctx, min(backoff, c.maxDelay)); waitErr != nil {
				return nil, waitErr
			}
		}
		return &response{status: resp.StatusCode, header: resp.Header, body: payload}, nil
	}
}

func (c *Client) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	maxDelay := c.maxDelay
	if retryAfter := parseRetryAfter(retryAfterHeader); retryAfter > 0 {
		if retryAfter > maxDelay {
			return maxDelay
		}
		return retryAfter
	}
	delay := c.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	return delay
}

func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if ts, err := time.Parse(time.RFC1123, header); err == nil {
		if delta := time.Until(ts); delta > 0 {
			return delta
		}
	}
	return 0
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// statusError maps a final non-success status to an error.
func statusError(r *response, what string) error {
	msg := strings.TrimSpace(string(r.body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	switch r.status {
	case http.StatusNotFound:
		return fmt.Errorf("remote: %s: %w", what, apperr.ErrNotFound)
	case http.StatusPreconditionFailed, http.StatusConflict:
		return fmt.Errorf("remote: %s: %w", what, apperr.ErrConflict)
	case http.StatusForbidden:
		return fmt.Errorf("remote: %s: %w", what, apperr.ErrForbidden)
	}
	return fmt.Errorf("remote: %s: %w", what, &HTTPError{StatusCode: r.status, Message: msg})
}

func headerVersion(h http.Header) int64 {
	v, err := strconv.ParseInt(strings.TrimSpace(h.Get("Last-Modified-Version")), 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// IsHTTPStatus reports whether err carries an HTTPError with the given code.
func IsHTTPStatus(err error, code int) bool {
	var he *HTTPError
	return errors.As(err, &he) && he.StatusCode == code
}
