package remote

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Ensure Client implements API at compile time.
var _ API = (*Client)(nil)

// Client talks to the Obra Diário HTTP API.
type Client struct {
	baseURL   *url.URL
	http      *http.Client
	token     func() string
	userAgent string
}

const (
	defaultUserAgent = "obrasyncd/0.1"
	requestTimeout   = 15 * time.Second
)

// NewClient builds a Client for the given base URL. The token func is read
// on every request so re-authentication takes effect without rebuilding the
// client.
func NewClient(baseURL string, token func() string) (*Client, error) {
	base, err := parseBaseURL(baseURL)
	if err != nil {
		return nil, err
	}
	if token == nil {
		token = func() string { return "" }
	}
	return &Client{
		baseURL: base,
		http: &http.Client{
			Timeout: requestTimeout,
		},
		token:     token,
		userAgent: defaultUserAgent,
	}, nil
}

func parseBaseURL(raw string) (*url.URL, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("base URL is empty")
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "https://" + trimmed
	}
	base, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}
	if base.Host == "" {
		return nil, fmt.Errorf("base URL %q has no host", raw)
	}
	return base, nil
}

// apiResponse is the envelope every endpoint replies with.
type apiResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// CreateObra creates a work site.
func (c *Client) CreateObra(ctx context.Context, payload json.RawMessage) error {
	return c.do(ctx, http.MethodPost, "/api/obras", payload)
}

// UpdateObra updates a work site.
func (c *Client) UpdateObra(ctx context.Context, entityID string, payload json.RawMessage) error {
	return c.do(ctx, http.MethodPut, "/api/obras/"+url.PathEscape(entityID), payload)
}

// DeleteObra removes a work site.
func (c *Client) DeleteObra(ctx context.Context, entityID string) error {
	return c.do(ctx, http.MethodDelete, "/api/obras/"+url.PathEscape(entityID), nil)
}

// CreateUser creates a user.
func (c *Client) CreateUser(ctx context.Context, payload json.RawMessage) error {
	return c.do(ctx, http.MethodPost, "/api/users", payload)
}

// UpdateUser updates a user.
func (c *Client) UpdateUser(ctx context.Context, entityID string, payload json.RawMessage) error {
	return c.do(ctx, http.MethodPut, "/api/users/"+url.PathEscape(entityID), payload)
}

// DeleteUser removes a user.
func (c *Client) DeleteUser(ctx context.Context, entityID string) error {
	return c.do(ctx, http.MethodDelete, "/api/users/"+url.PathEscape(entityID), nil)
}

// CreateForm submits a new daily-log service form.
func (c *Client) CreateForm(ctx context.Context, payload json.RawMessage) error {
	return c.do(ctx, http.MethodPost, "/api/forms", payload)
}

// UpdateForm updates an existing service form.
func (c *Client) UpdateForm(ctx context.Context, entityID string, payload json.RawMessage) error {
	return c.do(ctx, http.MethodPut, "/api/forms/"+url.PathEscape(entityID), payload)
}

// SendEmail asks the backend to send a notification email.
func (c *Client) SendEmail(ctx context.Context, payload json.RawMessage) error {
	return c.do(ctx, http.MethodPost, "/api/notifications/email", payload)
}

// ValidateSession checks that the current token is still accepted.
func (c *Client) ValidateSession(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/api/session", nil)
}

// Ping probes backend reachability. Used by the connectivity monitor; any
// HTTP response at all counts as reachable, so auth and permanent errors do
// not mean offline.
func (c *Client) Ping(ctx context.Context) error {
	err := c.do(ctx, http.MethodGet, "/api/health", nil)
	if err == nil {
		return nil
	}
	var remoteErr *Error
	if stderrors.As(err, &remoteErr) && remoteErr.StatusCode > 0 {
		return nil
	}
	return err
}

// do performs one request and classifies any failure.
func (c *Client) do(ctx context.Context, method, path string, payload json.RawMessage) error {
	endpoint := c.baseURL.JoinPath(path)

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), body)
	if err != nil {
		return &Error{Kind: KindPermanent, Message: fmt.Sprintf("build request: %v", err)}
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// Transport failure: DNS, refused connection, timeout.
		return &Error{Kind: KindTransient, Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &Error{Kind: KindTransient, StatusCode: resp.StatusCode, Message: fmt.Sprintf("read response: %v", err)}
	}

	var parsed apiResponse
	if len(raw) > 0 {
		// A body that is not the JSON envelope is tolerated; status code
		// classification still applies.
		_ = json.Unmarshal(raw, &parsed)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if len(raw) == 0 || parsed.Success {
			return nil
		}
		// 2xx with success:false is a rejection by the backend.
		return &Error{Kind: KindPermanent, StatusCode: resp.StatusCode, Message: rejectionMessage(parsed)}
	}

	return classifyStatus(resp.StatusCode, rejectionMessage(parsed))
}

func rejectionMessage(parsed apiResponse) string {
	if parsed.Error != "" {
		return parsed.Error
	}
	return "request rejected"
}

// classifyStatus maps an HTTP status to an error kind. This is the single
// place failure classification happens.
func classifyStatus(status int, message string) *Error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &Error{Kind: KindAuth, StatusCode: status, Message: message}
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests || status >= 500:
		return &Error{Kind: KindTransient, StatusCode: status, Message: message}
	default:
		return &Error{Kind: KindPermanent, StatusCode: status, Message: message}
	}
}
