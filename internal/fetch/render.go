package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// RenderConfig configures the headless browser.
type RenderConfig struct {
	// RemoteURL is the DevTools WebSocket of an existing Chrome. Empty
	// launches a local headless Chrome.
	RemoteURL string
	// Timeout bounds navigation plus load. Default: 30s.
	Timeout time.Duration
	Logger  *slog.Logger
}

// Renderer renders pages in headless Chrome with stealth evasions. The
// browser starts on first use.
type Renderer struct {
	cfg     RenderConfig
	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
}

// NewRenderer returns an idle renderer.
func NewRenderer(cfg RenderConfig) *Renderer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Renderer{cfg: cfg}
}

func (r *Renderer) ensure() (*rod.Browser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.browser != nil {
		return r.browser, nil
	}
	ws := r.cfg.RemoteURL
	if ws == "" {
		l := launcher.New().Headless(true).Set("disable-blink-features", "AutomationControlled")
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("fetch: launch chrome: %w", err)
		}
		ws = u
		r.lnch = l
		r.cfg.Logger.Info("fetch: launched local chrome")
	}
	b := rod.New().ControlURL(ws)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("fetch: connect chrome: %w", err)
	}
	r.browser = b
	return b, nil
}

// Render navigates to pageURL with cookies set and returns the serialized
// DOM once the page has loaded.
func (r *Renderer) Render(ctx context.Context, pageURL string, cookies []*http.Cookie) ([]byte, error) {
	b, err := r.ensure()
	if err != nil {
		return nil, err
	}
	page, err := stealth.Page(b)
	if err != nil {
		return nil, fmt.Errorf("fetch: open tab: %w", err)
	}
	defer page.Close()

	if len(cookies) > 0 {
		params := make([]*proto.NetworkCookieParam, 0, len(cookies))
		for _, c := range cookies {
			params = append(params, &proto.NetworkCookieParam{Name: c.Name, Value: c.Value, URL: pageURL})
		}
		if err := page.SetCookies(params); err != nil {
			return nil, fmt.Errorf("fetch: set cookies: %w", err)
		}
	}

	navCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()
	p := page.Context(navCtx)
	if err := p.Navigate(pageURL); err != nil {
		return nil, fmt.Errorf("fetch: navigate %s: %w", pageURL, err)
	}
	if err := p.WaitLoad(); err != nil {
		r.cfg.Logger.Warn("fetch: wait load", "url", pageURL, "error", err)
	}
	res, err := p.Eval(`() => document.documentElement.outerHTML`)
	if err != nil {
		return nil, fmt.Errorf("fetch: serialize dom: %w", err)
	}
	return []byte(res.Value.Str()), nil
}

// Close shuts the browser down.
func (r *Renderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.browser != nil {
		r.browser.Close()
		r.browser = nil
	}
	if r.lnch != nil {
		r.lnch.Cleanup()
		r.lnch = nil
	}
	return nil
}
