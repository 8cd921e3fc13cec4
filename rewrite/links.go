package rewrite

import (
	"regexp"
	"strings"

	"github.com/hazyhaar/msadapter/dom"
	"golang.org/x/net/html"
)

var (
	hashSignupRe     = regexp.MustCompile(`^#/ms/signup/(.+)$`)
	relativeSignupRe = regexp.MustCompile(`^(.+)#/ms/signup/(.+)$`)
)

// hashLinks rewrites anchors whose href equals href to href="#" plus the
// given attribute.
func hashLinks(e *Env, rule, href, attr, val string) int {
	return len(rewriteHashLinks(e, rule, href, attr, val))
}

func rewriteHashLinks(e *Env, rule, href, attr, val string) []*html.Node {
	nodes := e.Doc.QueryAll(`a[href="` + href + `"]`)
	e.found(rule, len(nodes))
	for _, n := range nodes {
		dom.SetAttr(n, "href", "#")
		dom.SetAttr(n, attr, val)
	}
	return nodes
}

func passwordResetLinks(e *Env) int {
	return hashLinks(e, "password-reset-link", hrefPasswordReset, attrModal, modalForgotPassword)
}

func hashLoginLinks(e *Env) int {
	return hashLinks(e, "hash-login-link", hrefLogin, attrModal, modalLogin)
}

func hashProfileLinks(e *Env) int {
	return hashLinks(e, "hash-profile-link", hrefProfile, attrModal, modalProfile)
}

// loginRedirectLinks turns both legacy redirect hashes into the
// login-redirect action. Former membership-redirect links are remembered
// so hide-on-auth can still find them once their href is gone.
func loginRedirectLinks(e *Env) int {
	redirects := rewriteHashLinks(e, "membership-redirect-link", hrefMembershipRedirect, attrAction, actionLoginRedirect)
	e.redirects = append(e.redirects, redirects...)
	return len(redirects) +
		hashLinks(e, "member-page-default-link", hrefMemberPageDefault, attrAction, actionLoginRedirect)
}

func logoutLinks(e *Env) int {
	return hashLinks(e, "logout-link", hrefLogout, attrAction, actionLogout)
}

// hashSignupLinks: <a href="#/ms/signup/<old>"> opens the signup modal for
// the mapped plan or price.
func hashSignupLinks(e *Env) int {
	nodes := e.Doc.QueryAll(`a[href^="#/ms/signup/"]`)
	e.found("hash-signup-link", len(nodes))
	changed := 0
	for _, n := range nodes {
		href, _ := dom.Attr(n, "href")
		m := hashSignupRe.FindStringSubmatch(href)
		if m == nil {
			e.log().Error("rewrite: cannot extract id from signup href", "rule", "hash-signup-link", "href", href)
			continue
		}
		newID, attr, ok := e.resolve("hash-signup-link", m[1])
		if !ok {
			continue
		}
		dom.SetAttr(n, "href", "#")
		dom.SetAttr(n, attrModal, modalSignup)
		dom.SetAttr(n, attr, newID)
		changed++
	}
	return changed
}

// relativeSignupLinks: <a href="/pricing#/ms/signup/<old>"> keeps the page
// URL and carries the mapped plan or price. Hash-only hrefs belong to
// hashSignupLinks.
func relativeSignupLinks(e *Env) int {
	var nodes []*html.Node
	for _, n := range e.Doc.QueryAll(`a[href*="#/ms/signup/"]`) {
		if href, _ := dom.Attr(n, "href"); !strings.HasPrefix(href, "#") {
			nodes = append(nodes, n)
		}
	}
	e.found("relative-signup-link", len(nodes))
	changed := 0
	for _, n := range nodes {
		href, _ := dom.Attr(n, "href")
		m := relativeSignupRe.FindStringSubmatch(href)
		if m == nil {
			e.log().Error("rewrite: cannot extract base url and id from signup href", "rule", "relative-signup-link", "href", href)
			continue
		}
		newID, attr, ok := e.resolve("relative-signup-link", m[2])
		if !ok {
			continue
		}
		dom.SetAttr(n, "href", m[1])
		dom.SetAttr(n, attr, newID)
		changed++
	}
	return changed
}

// contentLinks: href="<base>#/ms/content/<type>" becomes href="<base>" with
// data-ms-content="<type>", split on the first marker. An empty base
// becomes "#".
func contentLinks(e *Env) int {
	nodes := e.Doc.QueryAll(`[href*="#/ms/content/"]`)
	e.found("content-link", len(nodes))
	changed := 0
	for _, n := range nodes {
		href, _ := dom.Attr(n, "href")
		base, suffix, _ := strings.Cut(href, contentMarker)
		if suffix == "" {
			e.log().Error("rewrite: content href has no content type", "rule", "content-link", "href", href)
			continue
		}
		if base == "" {
			base = "#"
		}
		dom.SetAttr(n, "href", base)
		dom.SetAttr(n, attrContent, suffix)
		changed++
	}
	return changed
}

// linkPatterns are the href shapes the pre-load batch rewrites, used to
// detect hrefs that match more than one of them.
var linkPatterns = []struct {
	name  string
	match func(href string) bool
}{
	{"password-reset-link", equals(hrefPasswordReset)},
	{"hash-signup-link", hashSignupRe.MatchString},
	{"relative-signup-link", func(h string) bool { return !strings.HasPrefix(h, "#") && relativeSignupRe.MatchString(h) }},
	{"hash-login-link", equals(hrefLogin)},
	{"hash-profile-link", equals(hrefProfile)},
	{"membership-redirect-link", equals(hrefMembershipRedirect)},
	{"member-page-default-link", equals(hrefMemberPageDefault)},
	{"logout-link", equals(hrefLogout)},
	{"content-link", func(h string) bool { return strings.Contains(h, contentMarker) }},
}

func equals(s string) func(string) bool {
	return func(h string) bool { return h == s }
}

// Ambiguity is an href matched by several link rules.
type Ambiguity struct {
	Href  string
	Rules []string
}

// findAmbiguous lists hrefs that match more than one link pattern. They are
// reported, not resolved: the first rule in batch order wins.
func findAmbiguous(e *Env) []Ambiguity {
	var out []Ambiguity
	for _, n := range e.Doc.QueryAll(`[href]`) {
		href, _ := dom.Attr(n, "href")
		var rules []string
		for _, p := range linkPatterns {
			if p.match(href) {
				rules = append(rules, p.name)
			}
		}
		if len(rules) > 1 {
			e.log().Warn("rewrite: href matches several legacy patterns, earlier rule wins", "href", href, "rules", rules)
			out = append(out, Ambiguity{Href: href, Rules: rules})
		}
	}
	return out
}
