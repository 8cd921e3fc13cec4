package rewrite

import (
	"strings"

	"github.com/hazyhaar/msadapter/dom"
	"github.com/hazyhaar/msadapter/session"
	"golang.org/x/net/html"
)

// blank is written when a member field has no value, so placeholder text
// disappears without collapsing the element.
const blank = " "

// setText writes s as n's text and reports whether anything changed.
func setText(n *html.Node, s string) bool {
	if n.FirstChild != nil && n.FirstChild == n.LastChild &&
		n.FirstChild.Type == html.TextNode && n.FirstChild.Data == s {
		return false
	}
	dom.SetText(n, s)
	return true
}

// member returns the current member for a member-data rule, logging why
// it is unavailable.
func (e *Env) member(rule string) *session.Member {
	if !e.authenticated() {
		e.log().Debug("rewrite: member not authenticated, skipping", "rule", rule)
		return nil
	}
	m := e.Oracle.CurrentMember()
	if m == nil {
		e.log().Error("rewrite: member data unavailable", "rule", rule)
	}
	return m
}

// memberDataFields fills [data-ms-member^="membership."] from the member's
// first plan connection.
func memberDataFields(e *Env) int {
	nodes := e.Doc.QueryAll(`[data-ms-member^="membership."]`)
	if len(nodes) == 0 {
		return 0
	}
	m := e.member("member-data")
	if m == nil {
		return 0
	}
	plan, ok := m.FirstPlan()
	if !ok {
		e.log().Error("rewrite: member has no plan connections", "rule", "member-data", "member_id", m.ID)
		return 0
	}
	e.found("member-data", len(nodes))

	changed := 0
	for _, n := range nodes {
		path, _ := dom.Attr(n, attrMember)
		val, ok := membershipField(e, plan, strings.TrimPrefix(path, membershipPrefix))
		if !ok {
			e.log().Error("rewrite: unknown member property", "rule", "member-data", "path", path)
			continue
		}
		if val == "" {
			continue
		}
		if setText(n, val) {
			changed++
		}
	}
	return changed
}

func membershipField(e *Env, plan session.PlanConnection, field string) (string, bool) {
	switch field {
	case "name":
		if name, ok := e.Table.DisplayName(plan.PlanID); ok && name != "" {
			return name, true
		}
		return blank, true
	case "amount":
		if amt, ok := plan.Payment.AmountString(); ok && amt != "0" {
			return amt, true
		}
		return blank, true
	case "status":
		return strings.ToLower(plan.Status), true
	}
	return "", false
}

// signupDates formats the member's creation date into
// [data-ms-member="signup-date.DateTimeFormat()"].
func signupDates(e *Env) int {
	nodes := e.Doc.QueryAll(`[data-ms-member="signup-date.DateTimeFormat()"]`)
	if len(nodes) == 0 {
		return 0
	}
	m := e.member("signup-date")
	if m == nil {
		return 0
	}
	formatted, err := FormatSignupDate(m.CreatedAt, e.Locale)
	if err != nil {
		e.log().Error("rewrite: cannot format signup date", "rule", "signup-date", "created_at", m.CreatedAt, "error", err)
		return 0
	}
	e.found("signup-date", len(nodes))
	changed := 0
	for _, n := range nodes {
		if setText(n, formatted) {
			changed++
		}
	}
	return changed
}

// rewriteOnAuth replaces the text of [data-ms-rewrite] elements with the
// attribute value for signed-in members.
func rewriteOnAuth(e *Env) int {
	nodes := e.Doc.QueryAll(`[data-ms-rewrite]`)
	if len(nodes) == 0 {
		return 0
	}
	if !e.authenticated() {
		e.log().Debug("rewrite: member not authenticated, skipping", "rule", "rewrite-on-auth")
		return 0
	}
	e.found("rewrite-on-auth", len(nodes))
	changed := 0
	for _, n := range nodes {
		val, _ := dom.Attr(n, attrRewrite)
		if val == "" {
			continue
		}
		if setText(n, val) {
			changed++
		}
	}
	return changed
}

// loginURLToProfile points links to the login page at the profile page once
// the member is signed in.
func loginURLToProfile(e *Env) int {
	if e.LoginURL == "" || e.LoginURL == e.profileURL() {
		return 0
	}
	if !e.authenticated() {
		return 0
	}
	var nodes []*html.Node
	for _, n := range e.Doc.QueryAll(`a[href]`) {
		if href, _ := dom.Attr(n, "href"); href == e.LoginURL {
			nodes = append(nodes, n)
		}
	}
	e.found("login-url-to-profile", len(nodes))
	for _, n := range nodes {
		dom.SetAttr(n, "href", e.profileURL())
	}
	return len(nodes)
}

// hideOnAuth hides login modals for signed-in members, and profile modals
// and membership-redirect links for everyone else. A redirect link is
// either still raw or was rewritten by the pre-load batch; other
// login-redirect actions stay visible. The matching attributes stay.
func hideOnAuth(e *Env) int {
	var nodes []*html.Node
	if e.authenticated() {
		nodes = e.Doc.QueryAll(`[data-ms-modal="login"], [ms-modal="login"]`)
	} else {
		nodes = e.Doc.QueryAll(`[data-ms-modal="profile"], [ms-modal="profile"], a[href="` + hrefMembershipRedirect + `"]`)
		nodes = append(nodes, e.redirects...)
	}
	changed := 0
	for _, n := range nodes {
		if dom.Hidden(n) {
			continue
		}
		dom.Hide(n)
		changed++
	}
	if changed > 0 {
		e.log().Warn("rewrite: elements hidden for auth state", "rule", "hide-on-auth", "count", changed, "authenticated", e.authenticated())
	}
	return changed
}
