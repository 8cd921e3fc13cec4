// Package widget is the adapter's boundary to the v2 membership widget.
//
// In the browser the widget fetches the member and announces readiness.
// Server-side the same boundary is a Client for the vendor's member API,
// a Loader that fills persistent storage before the post-ready batch, and
// the script tags that load either widget build into the page.
package widget

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hazyhaar/msadapter/internal/store"
	"github.com/hazyhaar/msadapter/session"
)

// DefaultBaseURL is the vendor member API.
const DefaultBaseURL = "https://client.memberstack.com"

// maxResponseBody caps member API responses.
const maxResponseBody int64 = 1 << 20

var (
	// ErrUnauthorized means the member token was rejected.
	ErrUnauthorized = errors.New("widget: member token rejected")
	// ErrNoToken means no member token was supplied.
	ErrNoToken = errors.New("widget: no member token")
)

// Client talks to the member API on behalf of one site (public key).
type Client struct {
	baseURL   string
	publicKey string
	http      *http.Client
	breaker   *Breaker
	cache     *store.Store
	cacheTTL  time.Duration
	logger    *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at another API host. Empty keeps the
// default.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }

// WithBreaker replaces the default breaker.
func WithBreaker(b *Breaker) Option { return func(c *Client) { c.breaker = b } }

// WithCache caches member snapshots in s for ttl.
func WithCache(s *store.Store, ttl time.Duration) Option {
	return func(c *Client) {
		c.cache = s
		c.cacheTTL = ttl
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(c *Client) { c.logger = l } }

// NewClient builds a client for the site identified by publicKey.
func NewClient(publicKey string, opts ...Option) *Client {
	c := &Client{
		baseURL:   DefaultBaseURL,
		publicKey: publicKey,
		http:      &http.Client{Timeout: 5 * time.Second},
		breaker:   NewBreaker(),
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Breaker exposes the breaker for health reporting.
func (c *Client) Breaker() *Breaker { return c.breaker }

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error,omitempty"`
}

// do calls the API and returns the unwrapped data field.
func (c *Client) do(ctx context.Context, method, path, token string, body any) (json.RawMessage, error) {
	if token == "" {
		return nil, ErrNoToken
	}
	if !c.breaker.Allow() {
		return nil, &ErrCircuitOpen{Service: c.baseURL}
	}

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("widget: encode %s: %w", path, err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return nil, fmt.Errorf("widget: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	if c.publicKey != "" {
		req.Header.Set("X-API-Key", c.publicKey)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.breaker.Failure()
		return nil, fmt.Errorf("widget: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		c.breaker.Failure()
		return nil, fmt.Errorf("widget: read %s: %w", path, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		// The upstream answered; a bad token is not an outage.
		c.breaker.Success()
		return nil, ErrUnauthorized
	case resp.StatusCode >= 500:
		c.breaker.Failure()
		return nil, fmt.Errorf("widget: %s %s: status %d", method, path, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		c.breaker.Success()
		return nil, fmt.Errorf("widget: %s %s: status %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(raw))
	}
	c.breaker.Success()

	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("widget: decode %s: %w", path, err)
	}
	return env.Data, nil
}

// MemberRaw returns the member snapshot as JSON, from cache when fresh.
// A null member means the token does not belong to a live session.
func (c *Client) MemberRaw(ctx context.Context, token string) (json.RawMessage, error) {
	if c.cache != nil && token != "" {
		if raw, err := c.cache.GetMember(ctx, token); err == nil {
			return raw, nil
		} else if !errors.Is(err, store.ErrNotFound) {
			c.logger.Warn("widget: member cache read failed", "error", err)
		}
	}
	raw, err := c.do(ctx, http.MethodGet, "/member", token, nil)
	if err != nil {
		return nil, err
	}
	if isNull(raw) {
		return nil, ErrUnauthorized
	}
	if c.cache != nil {
		if err := c.cache.PutMember(ctx, token, raw, c.cacheTTL); err != nil {
			c.logger.Warn("widget: member cache write failed", "error", err)
		}
	}
	return raw, nil
}

// CurrentMember returns the decoded member snapshot.
func (c *Client) CurrentMember(ctx context.Context, token string) (*session.Member, error) {
	raw, err := c.MemberRaw(ctx, token)
	if err != nil {
		return nil, err
	}
	var m session.Member
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("widget: decode member: %w", err)
	}
	return &m, nil
}

// Logout ends the member session upstream and drops the cached snapshot.
func (c *Client) Logout(ctx context.Context, token string) error {
	c.forget(ctx, token)
	_, err := c.do(ctx, http.MethodPost, "/member/logout", token, nil)
	if errors.Is(err, ErrUnauthorized) {
		return nil
	}
	return err
}

// MemberJSON returns the member's free-form JSON store.
func (c *Client) MemberJSON(ctx context.Context, token string) (map[string]any, error) {
	raw, err := c.do(ctx, http.MethodGet, "/member/json", token, nil)
	if err != nil {
		return nil, err
	}
	return decodeObject(raw)
}

// UpdateMemberJSON replaces the member's JSON store and returns the stored
// value.
func (c *Client) UpdateMemberJSON(ctx context.Context, token string, data map[string]any) (map[string]any, error) {
	if data == nil {
		data = map[string]any{}
	}
	raw, err := c.do(ctx, http.MethodPost, "/member/json", token, map[string]any{"json": data})
	if err != nil {
		return nil, err
	}
	c.forget(ctx, token)
	return decodeObject(raw)
}

func (c *Client) forget(ctx context.Context, token string) {
	if c.cache == nil || token == "" {
		return
	}
	if err := c.cache.DeleteMember(ctx, token); err != nil {
		c.logger.Warn("widget: member cache delete failed", "error", err)
	}
}

func isNull(raw json.RawMessage) bool {
	s := bytes.TrimSpace(raw)
	return len(s) == 0 || bytes.Equal(s, []byte("null"))
}

func decodeObject(raw json.RawMessage) (map[string]any, error) {
	out := map[string]any{}
	if isNull(raw) {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("widget: decode json store: %w", err)
	}
	return out, nil
}
