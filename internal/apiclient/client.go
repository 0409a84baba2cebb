// Package apiclient is the HTTP transport to the remote issue-tracking API.
//
// Every request carries a correlation id and shares one cookie jar, so the
// CSRF cookie issued by the API travels with later mutating requests.
// Authenticated requests read the bearer token from the session store; a
// 401/403 on such a request is reported as apperr.SessionExpiredError and
// fans out to the registered expiry hooks before the caller sees it.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/joescharf/ait/internal/apperr"
	"github.com/joescharf/ait/internal/store"
)

// Header names understood by the API.
const (
	HeaderCSRF      = "X-CSRFToken"
	HeaderRequestID = "X-Request-ID"
)

// maxBodyBytes bounds how much of a response is buffered.
const maxBodyBytes = 8 << 20

// ExpiryHook is called when an authenticated request is rejected with 401/403.
type ExpiryHook func(ctx context.Context, status int)

// Config configures a Client.
type Config struct {
	BaseURL string
	// Timeout bounds each request. Zero means no client-side timeout.
	Timeout time.Duration
}

// Client issues requests against the API base URL.
type Client struct {
	base     *url.URL
	http     *http.Client
	sessions store.SessionStore
	logger   *zap.Logger

	mu    sync.RWMutex
	hooks []ExpiryHook
}

// New builds a Client. sessions supplies bearer tokens for authenticated
// requests; logger may be nil.
func New(cfg Config, sessions store.SessionStore, logger *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("api base URL is not configured (set api.base_url)")
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse api base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("api base URL must be http or https: %s", cfg.BaseURL)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		base:     base,
		http:     &http.Client{Jar: jar, Timeout: cfg.Timeout},
		sessions: sessions,
		logger:   logger.Named("api"),
	}, nil
}

// OnSessionExpired registers a hook run on every 401/403 to an authenticated request.
func (c *Client) OnSessionExpired(h ExpiryHook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, h)
}

// Request describes one API call.
type Request struct {
	Method string
	Path   string
	Query  url.Values

	// JSON is encoded as the request body when non-nil.
	JSON any
	// Body and ContentType are used for non-JSON payloads such as multipart forms.
	Body        io.Reader
	ContentType string

	// Authenticated attaches the stored bearer token and enables session expiry handling.
	Authenticated bool
	// RequireCSRF makes the request fail locally when CSRFToken is empty.
	RequireCSRF bool
	CSRFToken   string
}

// Response is a fully-read API response.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// OK reports a 2xx status.
func (r *Response) OK() bool { return r.Status >= 200 && r.Status < 300 }

// Decode unmarshals the JSON body into v. An empty body leaves v untouched.
func (r *Response) Decode(v any) error {
	if len(bytes.TrimSpace(r.Body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// ErrorMessage extracts the server's human-readable error from the body.
func (r *Response) ErrorMessage() string {
	return ErrorMessage(r.Body, r.Status)
}

// URL returns the absolute URL for an API path.
func (c *Client) URL(path string) string {
	return c.resolve(path, nil).String()
}

func (c *Client) resolve(path string, q url.Values) *url.URL {
	u := c.base.JoinPath(path)
	if strings.HasSuffix(path, "/") && !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	if len(q) > 0 {
		u.RawQuery = q.Encode()
	}
	return u
}

// Do performs req. Non-2xx statuses are returned as a Response, not an error,
// except 401/403 on authenticated requests which yield SessionExpiredError.
// Transport failures yield NetworkError.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	if req.RequireCSRF && req.CSRFToken == "" {
		return nil, &apperr.ValidationError{
			Fields:  []string{"csrf_token"},
			Message: "security token missing, refresh the page and try again",
		}
	}

	var bearer string
	if req.Authenticated {
		if c.sessions == nil {
			return nil, &apperr.SessionExpiredError{}
		}
		sess, err := c.sessions.GetSession(ctx)
		if err != nil {
			return nil, fmt.Errorf("read session: %w", err)
		}
		if !sess.Authenticated() {
			// Cleared behind our back (another process logged out).
			c.expire(ctx, 0)
			return nil, &apperr.SessionExpiredError{}
		}
		bearer = sess.AccessToken
	}

	body, contentType, err := encodeBody(req)
	if err != nil {
		return nil, err
	}

	u := c.resolve(req.Path, req.Query)
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	requestID := ulid.Make().String()
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set(HeaderRequestID, requestID)
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	if bearer != "" {
		httpReq.Header.Set("Authorization", "Bearer "+bearer)
	}
	if req.CSRFToken != "" {
		httpReq.Header.Set(HeaderCSRF, req.CSRFToken)
		// Django checks the Referer on HTTPS requests carrying a CSRF token.
		httpReq.Header.Set("Referer", c.base.String())
	}

	start := time.Now()
	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		c.logger.Debug("request failed",
			zap.String("request_id", requestID),
			zap.String("method", req.Method),
			zap.String("path", u.Path),
			zap.Error(err),
		)
		return nil, &apperr.NetworkError{Err: err}
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBodyBytes))
	if err != nil {
		return nil, &apperr.NetworkError{Err: fmt.Errorf("read response: %w", err)}
	}

	c.logger.Debug("request",
		zap.String("request_id", requestID),
		zap.String("method", req.Method),
		zap.String("path", u.Path),
		zap.Int("status", httpResp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)

	resp := &Response{Status: httpResp.StatusCode, Header: httpResp.Header, Body: data}

	if req.Authenticated && apperr.IsSessionExpiredStatus(resp.Status) {
		c.logger.Info("session rejected by server", zap.Int("status", resp.Status))
		c.expire(ctx, resp.Status)
		return resp, &apperr.SessionExpiredError{Status: resp.Status}
	}
	return resp, nil
}

func (c *Client) expire(ctx context.Context, status int) {
	c.mu.RLock()
	hooks := make([]ExpiryHook, len(c.hooks))
	copy(hooks, c.hooks)
	c.mu.RUnlock()

	for _, h := range hooks {
		h(ctx, status)
	}
}

func encodeBody(req Request) (io.Reader, string, error) {
	switch {
	case req.JSON != nil:
		data, err := json.Marshal(req.JSON)
		if err != nil {
			return nil, "", fmt.Errorf("encode request: %w", err)
		}
		return bytes.NewReader(data), "application/json", nil
	case req.Body != nil:
		return req.Body, req.ContentType, nil
	default:
		return nil, "", nil
	}
}
