// Package rewrite converts legacy (v1) widget markup into the syntax the v2
// widget understands.
//
// Every rule selects all of its matches first, then mutates them, and
// returns how many elements it changed. A rule is keyed on the legacy
// pattern it removes, so running it again over its own output changes
// nothing. Per-element failures (unknown identifier, malformed href,
// missing member data) are logged and leave that element untouched.
//
// The orchestrator runs two fixed batches: PreLoad, as soon as the
// document is parsed, and PostReady, once the widget has populated the
// member session.
package rewrite

import (
	"log/slog"

	"golang.org/x/net/html"

	"github.com/hazyhaar/msadapter/dom"
	"github.com/hazyhaar/msadapter/planid"
	"github.com/hazyhaar/msadapter/session"
)

// DefaultProfileURL is where login links point once a member is signed in.
const DefaultProfileURL = "/profile-page"

// Env is everything a rule may read. It is built once per page.
type Env struct {
	Doc    *dom.Document
	Table  *planid.Table
	Oracle *session.Oracle

	// LoginURL is the site's login page; empty disables the
	// login-url-to-profile rule.
	LoginURL   string
	ProfileURL string
	// Locale drives signup date formatting (BCP 47, default en-US).
	Locale string

	Logger *slog.Logger

	// redirects are the anchors the pre-load batch rewrote from the
	// membership-redirect hash. The same Env must serve both batches.
	redirects []*html.Node
}

func (e *Env) log() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e *Env) profileURL() string {
	if e.ProfileURL != "" {
		return e.ProfileURL
	}
	return DefaultProfileURL
}

func (e *Env) authenticated() bool {
	return e.Oracle.IsAuthenticated()
}

// found emits the count-bearing diagnostic for a rule with matches.
func (e *Env) found(rule string, n int) {
	if n > 0 {
		e.log().Warn("rewrite: legacy markup found", "rule", rule, "count", n)
	}
}

// resolve maps an old identifier through the table and the classifier.
// Failures are logged against rule and reported as !ok.
func (e *Env) resolve(rule, oldID string) (newID, attr string, ok bool) {
	newID, attr, err := e.Table.Resolve(oldID)
	if err != nil {
		e.log().Error("rewrite: cannot resolve identifier", "rule", rule, "old_id", oldID, "error", err)
		return "", "", false
	}
	return newID, attr, true
}

// Rule is one named rewrite.
type Rule struct {
	Name  string
	Apply func(*Env) int
}
