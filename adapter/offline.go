package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/hazyhaar/msadapter/dom"
	"github.com/hazyhaar/msadapter/rewrite"
	"github.com/hazyhaar/msadapter/session"
	"github.com/hazyhaar/msadapter/version"
)

// offlineToken stands in for the member cookie when a snapshot is supplied
// directly.
const offlineToken = "offline"

// RewriteRequest is a standalone rewrite of one HTML document.
type RewriteRequest struct {
	HTML string `json:"html"`
	// URL is the page address, query included. Default "/".
	URL string `json:"url,omitempty"`
	// Mode, when set, is taken as the mode remembered in session storage.
	Mode string `json:"mode,omitempty"`
	// Member is a v2 member snapshot. Its presence makes the page
	// authenticated.
	Member json.RawMessage `json:"member,omitempty"`
}

// RewriteResult is the rewritten document and what was done to it.
type RewriteResult struct {
	HTML          string         `json:"html"`
	Mode          version.Mode   `json:"mode"`
	Source        version.Source `json:"source"`
	Authenticated bool           `json:"authenticated"`
	PreLoad       rewrite.Report `json:"pre_load"`
	PostReady     rewrite.Report `json:"post_ready"`
}

// RewriteHTML runs Process over req.HTML without reaching the member API.
func (a *Adapter) RewriteHTML(ctx context.Context, req RewriteRequest) (*RewriteResult, error) {
	doc, err := dom.ParseString(req.HTML)
	if err != nil {
		return nil, fmt.Errorf("adapter: parse html: %w", err)
	}
	raw := req.URL
	if raw == "" {
		raw = "/"
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("adapter: parse url: %w", err)
	}

	cookies := session.NewMemoryStorage(nil)
	if req.Mode != "" {
		m, ok := version.ParseMode(req.Mode)
		if !ok {
			return nil, fmt.Errorf("adapter: invalid mode %q: must be v1 or v2", req.Mode)
		}
		cookies.Set(version.SessionKey, string(m))
	}
	seed := map[string]string{}
	if len(req.Member) > 0 && string(req.Member) != "null" {
		seed[session.KeyMemberID] = offlineToken
		seed[session.KeyMember] = string(req.Member)
	}

	page := &Page{
		URL:        u,
		Doc:        doc,
		Cookies:    cookies,
		Persistent: session.NewMemoryStorage(seed),
		Offline:    true,
	}
	out, err := a.Process(ctx, page)
	if err != nil {
		return nil, err
	}
	return &RewriteResult{
		HTML:          doc.String(),
		Mode:          out.Mode,
		Source:        out.Selection.Source,
		Authenticated: out.Authenticated,
		PreLoad:       out.PreLoad,
		PostReady:     out.PostReady,
	}, nil
}

// SelectVersion resolves the mode for rawURL given the mode remembered in
// session storage (may be empty).
func (a *Adapter) SelectVersion(rawURL, remembered string) (version.Selection, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return version.Selection{}, fmt.Errorf("adapter: parse url: %w", err)
	}
	st := session.NewMemoryStorage(nil)
	if remembered != "" {
		st.Set(version.SessionKey, remembered)
	}
	return a.selector.Select(u, st), nil
}
