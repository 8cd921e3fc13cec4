// Package adapter sequences the v1-to-v2 migration for one page: version
// selection, widget build injection, the two rewrite batches and the legacy
// API bridge. It also serves it all as an HTML-rewriting reverse proxy.
package adapter

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/net/html"

	"github.com/hazyhaar/msadapter/bridge"
	"github.com/hazyhaar/msadapter/dom"
	"github.com/hazyhaar/msadapter/internal/store"
	"github.com/hazyhaar/msadapter/observability"
	"github.com/hazyhaar/msadapter/planid"
	"github.com/hazyhaar/msadapter/rewrite"
	"github.com/hazyhaar/msadapter/session"
	"github.com/hazyhaar/msadapter/version"
	"github.com/hazyhaar/msadapter/widget"
)

// ErrNoDocument is returned by Process for a page without a parsed
// document.
var ErrNoDocument = errors.New("adapter: page has no document")

// Adapter holds the shared, immutable configuration. Per-page state lives
// on Page and Outcome.
type Adapter struct {
	cfg      *Config
	selector version.Selector
	mapping  *planid.Holder
	scripts  widget.Scripts
	client   *widget.Client
	loader   *widget.Loader
	store    *store.Store
	metrics  *observability.MetricsManager
	events   *observability.EventLogger
	logger   *slog.Logger
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithWidget enables member loading through the vendor API.
func WithWidget(c *widget.Client) Option { return func(a *Adapter) { a.client = c } }

// WithStore records every run.
func WithStore(s *store.Store) Option { return func(a *Adapter) { a.store = s } }

// WithMetrics records run metrics.
func WithMetrics(m *observability.MetricsManager) Option {
	return func(a *Adapter) { a.metrics = m }
}

// WithEvents records ambiguous links, widget and rule failures.
func WithEvents(e *observability.EventLogger) Option { return func(a *Adapter) { a.events = e } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(a *Adapter) { a.logger = l } }

// New builds an Adapter. cfg is copied with defaults applied; mapping may
// be nil for an empty table.
func New(cfg *Config, mapping *planid.Holder, opts ...Option) *Adapter {
	c := Config{}
	if cfg != nil {
		c = *cfg
	}
	c.defaults()
	if mapping == nil {
		mapping = planid.NewHolder(nil)
	}
	a := &Adapter{
		cfg:     &c,
		mapping: mapping,
		scripts: widget.Scripts{
			V1URL:     c.Widget.V1ScriptURL,
			V2URL:     c.Widget.V2ScriptURL,
			AppIDV1:   c.Widget.AppIDV1,
			AppID:     c.Widget.AppID,
			PublicKey: c.Widget.PublicKey,
		},
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(a)
	}
	a.selector = version.Selector{Forced: c.Forced(), Logger: a.logger}
	if a.client != nil {
		a.loader = &widget.Loader{Client: a.client, Logger: a.logger}
	}
	return a
}

// Config returns the effective configuration.
func (a *Adapter) Config() Config { return *a.cfg }

// Mapping returns the current mapping table.
func (a *Adapter) Mapping() *planid.Table { return a.mapping.Load() }

// Page is one page view.
type Page struct {
	URL *url.URL
	Doc *dom.Document
	// Cookies is session-scoped browser storage: the remembered mode and
	// the legacy cookies live here.
	Cookies session.Storage
	// Persistent is the v2 widget's storage for this request, seeded from
	// the member cookie.
	Persistent *session.MemoryStorage
	// Offline pages never reach the member API; Persistent is used as is.
	Offline bool
}

// NewPage builds a page for an incoming request. Cookie writes go to h.
func NewPage(r *http.Request, h http.Header, doc *dom.Document) *Page {
	seed := map[string]string{}
	if ck, err := r.Cookie(session.KeyMemberID); err == nil && ck.Value != "" {
		seed[session.KeyMemberID] = ck.Value
	}
	return &Page{
		URL:        r.URL,
		Doc:        doc,
		Cookies:    session.NewCookieStorage(r, h),
		Persistent: session.NewMemoryStorage(seed),
	}
}

// Outcome is the per-page result of Process.
type Outcome struct {
	Selection version.Selection
	// Mode is the version the page runs in.
	Mode          version.Mode
	Authenticated bool
	PreLoad       rewrite.Report
	PostReady     rewrite.Report
	// Bridge is the legacy API for the page, nil in v1 mode.
	Bridge *bridge.API
	// WidgetErr is why the member snapshot could not be loaded. It never
	// fails the page.
	WidgetErr error
	Duration  time.Duration
}

// Process runs the adapter over page.Doc in place.
func (a *Adapter) Process(ctx context.Context, page *Page) (*Outcome, error) {
	if page == nil || page.Doc == nil {
		return nil, ErrNoDocument
	}
	start := time.Now()
	if page.Persistent == nil {
		page.Persistent = session.NewMemoryStorage(nil)
	}
	if page.Cookies == nil {
		page.Cookies = session.NewMemoryStorage(nil)
	}
	u := page.URL
	if u == nil {
		u = &url.URL{Path: "/"}
	}
	log := a.logger.With("url", u.Path)

	sel := a.selector.Select(u, page.Cookies)
	out := &Outcome{Selection: sel, Mode: sel.Mode}
	log.Debug("adapter: version selected", "mode", sel.Mode, "source", sel.Source)

	if sel.Mode != version.V2 {
		a.scripts.Inject(page.Doc, version.V1)
		if sel.URLRewritten {
			page.Doc.PrependToHead(dom.Script("", bootstrapScript(sel, nil)))
		}
		out.Duration = time.Since(start)
		a.record(ctx, u, out)
		return out, nil
	}

	oracle := &session.Oracle{Persistent: page.Persistent, Cookies: page.Cookies, Logger: log}
	// A mode remembered in the session means an earlier page already
	// entered v2 and cleared the legacy session.
	if sel.Source != version.SourceSession {
		oracle.ClearLegacySession()
	}

	env := &rewrite.Env{
		Doc:        page.Doc,
		Table:      a.mapping.Load(),
		Oracle:     oracle,
		LoginURL:   a.cfg.LoginURL,
		ProfileURL: a.cfg.ProfileURL,
		Locale:     a.cfg.Locale,
		Logger:     log,
	}
	out.PreLoad = rewrite.PreLoad(env)
	a.scripts.Inject(page.Doc, version.V2)

	if !page.Offline {
		// A rejected token already cleared the session: the page renders
		// anonymous and that is not a widget failure.
		if err := a.loadMember(ctx, oracle.Token(), page.Persistent); err != nil && !errors.Is(err, widget.ErrUnauthorized) {
			out.WidgetErr = err
			log.Warn("adapter: widget failed to load, continuing with stored session", "error", err)
		}
	}
	var w bridge.Widget
	if !page.Offline {
		w = a.bind(oracle)
	}
	out.Bridge = bridge.New(oracle, w, env.Table, log)
	out.Bridge.Complete(out.Bridge.Payload())

	out.PostReady = rewrite.PostReady(env)
	out.Authenticated = oracle.IsAuthenticated()

	page.Doc.PrependToHead(dom.Script("", bootstrapScript(sel, page.Persistent.Removed())))
	page.Doc.AppendToHead(dom.Script(a.cfg.BridgePath+"/legacy.js", "",
		html.Attribute{Key: "data-bridge", Val: a.cfg.BridgePath}))

	out.Duration = time.Since(start)
	a.record(ctx, u, out)
	return out, nil
}

// loadMember waits at most ReadyTimeout for the member snapshot.
func (a *Adapter) loadMember(ctx context.Context, token string, st session.Storage) error {
	if a.loader == nil || token == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, a.cfg.ReadyTimeout)
	defer cancel()
	start := time.Now()
	err := a.loader.Load(ctx, token, st)
	a.metrics.Duration(observability.MetricWidgetLoadMs, time.Since(start), nil)
	return err
}

// bind returns the widget session for the member still signed in after the
// load, or nil. A token the member API rejected is gone from the session by
// then and is never bound.
func (a *Adapter) bind(oracle *session.Oracle) bridge.Widget {
	if a.client == nil || !oracle.IsAuthenticated() {
		return nil
	}
	return a.client.Bind(oracle.Token())
}

// BridgeAPI builds the legacy API for a bridge request. It satisfies
// bridge.Factory.
func (a *Adapter) BridgeAPI(w http.ResponseWriter, r *http.Request) *bridge.API {
	page := NewPage(r, w.Header(), nil)
	oracle := &session.Oracle{Persistent: page.Persistent, Cookies: page.Cookies, Logger: a.logger}

	if err := a.loadMember(r.Context(), oracle.Token(), page.Persistent); err != nil && !errors.Is(err, widget.ErrUnauthorized) {
		a.logger.Warn("adapter: bridge member load failed", "error", err)
	}
	api := bridge.New(oracle, a.bind(oracle), a.mapping.Load(), a.logger)
	api.Complete(api.Payload())
	return api
}
