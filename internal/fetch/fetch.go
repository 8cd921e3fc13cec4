// Package fetch acquires a page for scanning: a plain HTTP GET, escalated
// to a headless browser render when the static HTML is a JavaScript shell.
package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// maxBody caps page downloads.
const maxBody int64 = 10 << 20

// Page is one fetched document.
type Page struct {
	URL        string
	StatusCode int
	HTML       []byte
	Rendered   bool
	Sufficient bool
}

// Fetcher performs HTTP GETs and, when configured, browser renders.
type Fetcher struct {
	client   *http.Client
	ua       string
	cookies  []*http.Cookie
	renderer *Renderer
	logger   *slog.Logger
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithClient sets the HTTP client.
func WithClient(c *http.Client) Option { return func(f *Fetcher) { f.client = c } }

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option { return func(f *Fetcher) { f.ua = ua } }

// WithCookies sends cookies with every request, e.g. a member session to
// scan a page as that member.
func WithCookies(c ...*http.Cookie) Option {
	return func(f *Fetcher) { f.cookies = append(f.cookies, c...) }
}

// WithRenderer enables escalation to a headless browser.
func WithRenderer(r *Renderer) Option { return func(f *Fetcher) { f.renderer = r } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(f *Fetcher) { f.logger = l } }

// New returns a Fetcher with a 30s HTTP timeout.
func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		client: &http.Client{Timeout: 30 * time.Second},
		ua:     "Mozilla/5.0 (compatible; msadapter-scan/1.0)",
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Fetch GETs pageURL.
func (f *Fetcher) Fetch(ctx context.Context, pageURL string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch: new request: %w", err)
	}
	req.Header.Set("User-Agent", f.ua)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")
	for _, c := range f.cookies {
		req.AddCookie(c)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: do: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("fetch: read body: %w", err)
	}
	p := &Page{
		URL:        pageURL,
		StatusCode: resp.StatusCode,
		HTML:       body,
		Sufficient: IsSufficient(body),
	}
	f.logger.Debug("fetch: fetched", "url", pageURL, "status", resp.StatusCode,
		"size", len(body), "sufficient", p.Sufficient)
	return p, nil
}

// Get fetches pageURL and renders it in the browser when the static HTML
// is not sufficient and a renderer is configured. A failed render falls
// back to the static page.
func (f *Fetcher) Get(ctx context.Context, pageURL string) (*Page, error) {
	p, err := f.Fetch(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	if p.Sufficient || f.renderer == nil {
		return p, nil
	}
	out, err := f.renderer.Render(ctx, pageURL, f.cookies)
	if err != nil {
		f.logger.Warn("fetch: render failed, using static html", "url", pageURL, "error", err)
		return p, nil
	}
	p.HTML = out
	p.Rendered = true
	p.Sufficient = IsSufficient(out)
	return p, nil
}
