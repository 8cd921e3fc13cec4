package rewrite

import (
	"github.com/hazyhaar/msadapter/dom"
)

// logoutAttributes: [data-ms-logout] and [ms-logout] become
// data-ms-action="logout".
func logoutAttributes(e *Env) int {
	nodes := e.Doc.QueryAll(`[data-ms-logout], [ms-logout]`)
	e.found("logout-attr", len(nodes))
	for _, n := range nodes {
		dom.RemoveAttr(n, attrLogoutData)
		dom.RemoveAttr(n, attrLogout)
		dom.SetAttr(n, attrAction, actionLogout)
	}
	return len(nodes)
}

// swapToModal replaces legacy attribute attr with data-ms-modal=modal.
func swapToModal(e *Env, rule, attr, modal string) int {
	nodes := e.Doc.QueryAll("[" + attr + "]")
	e.found(rule, len(nodes))
	for _, n := range nodes {
		dom.RemoveAttr(n, attr)
		dom.SetAttr(n, attrModal, modal)
	}
	return len(nodes)
}

func forgotAttributes(e *Env) int {
	return swapToModal(e, "forgot-attr", attrForgot, modalForgotPassword)
}

func loginAttributes(e *Env) int {
	return swapToModal(e, "login-attr", attrLogin, modalLogin)
}

func signupAttributes(e *Env) int {
	return swapToModal(e, "signup-attr", attrSignup, modalSignup)
}

// memberPageAttributes: data-ms-member="member-page" becomes
// data-ms-action="login-redirect".
func memberPageAttributes(e *Env) int {
	nodes := e.Doc.QueryAll(`[data-ms-member="member-page"]`)
	e.found("member-page-attr", len(nodes))
	for _, n := range nodes {
		dom.RemoveAttr(n, attrMember)
		dom.SetAttr(n, attrAction, actionLoginRedirect)
	}
	return len(nodes)
}

// planAttributes: data-ms-plan="<old>" becomes the classified attribute
// carrying the mapped id.
func planAttributes(e *Env) int {
	nodes := e.Doc.QueryAll(`[data-ms-plan]`)
	e.found("plan-attr", len(nodes))
	changed := 0
	for _, n := range nodes {
		oldID, _ := dom.Attr(n, attrPlan)
		newID, attr, ok := e.resolve("plan-attr", oldID)
		if !ok {
			continue
		}
		dom.RemoveAttr(n, attrPlan)
		dom.SetAttr(n, attr, newID)
		changed++
	}
	return changed
}

// membershipAttributes resolves like planAttributes; anchors with href="#"
// additionally open the signup modal.
func membershipAttributes(e *Env) int {
	nodes := e.Doc.QueryAll(`[data-ms-membership]`)
	e.found("membership-attr", len(nodes))
	changed := 0
	for _, n := range nodes {
		oldID, _ := dom.Attr(n, attrMembership)
		newID, attr, ok := e.resolve("membership-attr", oldID)
		if !ok {
			continue
		}
		dom.RemoveAttr(n, attrMembership)
		dom.SetAttr(n, attr, newID)
		if href, _ := dom.Attr(n, "href"); dom.IsTag(n, "a") && href == "#" {
			dom.SetAttr(n, attrModal, modalSignup)
		}
		changed++
	}
	return changed
}
