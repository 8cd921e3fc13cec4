// Package bridge exposes the legacy (v1) widget API on top of the v2 widget.
//
// The v1 surface is small: onReady, getToken, reload, logout and
// selectMembership, plus getMetaData/updateMetaData on the onReady payload.
// API implements it in Go; legacy.js publishes the same names as
// window.MemberStack in the page and calls back into Handler.
package bridge

import (
	"context"
	"log/slog"
	"strings"

	"github.com/hazyhaar/msadapter/planid"
	"github.com/hazyhaar/msadapter/session"
)

// Widget is the part of the v2 widget the bridge calls through to.
type Widget interface {
	CurrentMember(ctx context.Context) (*session.Member, error)
	Logout(ctx context.Context) error
	MemberCookie() string
	MemberJSON(ctx context.Context) (map[string]any, error)
	UpdateMemberJSON(ctx context.Context, data map[string]any) (map[string]any, error)
}

// LegacyPlan is a v2 plan connection in the v1 plan shape.
type LegacyPlan struct {
	// Amount is "" for free plans, the payment amount otherwise.
	Amount            any    `json:"amount"`
	CancelAtPeriodEnd bool   `json:"cancel_at_period_end"`
	ID                string `json:"id"`
	Name              string `json:"name"`
	SignupDate        string `json:"signupDate"`
	Status            string `json:"status"`
}

// ReadyPayload is what v1 onReady resolved with.
type ReadyPayload struct {
	Email      string      `json:"email"`
	LoggedIn   bool        `json:"loggedIn"`
	MemberPage *string     `json:"memberPage"`
	Membership *LegacyPlan `json:"membership"`
}

// API is the v1 surface for one page. Widget may be nil when the v2 widget
// could not be reached; calls then degrade to storage-only answers.
type API struct {
	oracle *session.Oracle
	widget Widget
	table  *planid.Table
	logger *slog.Logger
	ready  *Signal[ReadyPayload]
}

// New builds an API over the member session.
func New(oracle *session.Oracle, w Widget, table *planid.Table, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{
		oracle: oracle,
		widget: w,
		table:  table,
		logger: logger,
		ready:  NewSignal[ReadyPayload](),
	}
}

// Payload derives the onReady payload from the member session.
func (a *API) Payload() ReadyPayload {
	p := ReadyPayload{LoggedIn: a.oracle.IsAuthenticated()}
	m := a.oracle.CurrentMember()
	if m == nil {
		return p
	}
	p.Email = m.Auth.Email
	if plan, ok := m.FirstPlan(); ok {
		p.Membership = a.adaptPlan(plan, m.CreatedAt)
	}
	return p
}

func (a *API) adaptPlan(plan session.PlanConnection, createdAt string) *LegacyPlan {
	lp := &LegacyPlan{
		CancelAtPeriodEnd: plan.Payment.Cancelling(),
		ID:                plan.PlanID,
		Name:              plan.PlanID,
		SignupDate:        createdAt,
		Status:            strings.ToLower(plan.Status),
	}
	if name, ok := a.table.DisplayName(plan.PlanID); ok && name != "" {
		lp.Name = name
	}
	switch {
	case strings.EqualFold(plan.Type, "FREE"):
		lp.Amount = ""
	case plan.Payment != nil && plan.Payment.Amount != nil:
		lp.Amount = *plan.Payment.Amount
	default:
		lp.Amount = ""
	}
	return lp
}

// Complete resolves onReady. Only the first call has an effect.
func (a *API) Complete(p ReadyPayload) bool {
	return a.ready.Complete(p)
}

// Ready exposes the onReady signal to the entry sequencer.
func (a *API) Ready() *Signal[ReadyPayload] { return a.ready }

// OnReady returns the onReady payload. It waits for Complete until ctx
// ends, then resolves from storage. It never fails and every call returns
// the same value.
func (a *API) OnReady(ctx context.Context) ReadyPayload {
	if p, ok := a.ready.Value(); ok {
		return p
	}
	if p, err := a.ready.Wait(ctx); err == nil {
		return p
	}
	a.Complete(a.Payload())
	p, _ := a.ready.Value()
	return p
}

// GetToken returns the v2 member token.
func (a *API) GetToken() string {
	if a.widget != nil {
		if tok := a.widget.MemberCookie(); tok != "" {
			return tok
		}
	}
	return a.oracle.Token()
}

// Reload has no v2 equivalent.
func (a *API) Reload() {
	a.logger.Debug("bridge: reload is a no-op under v2")
}

// SelectMembership has no v2 equivalent.
func (a *API) SelectMembership() {
	a.logger.Debug("bridge: selectMembership is a no-op under v2")
}

// Logout signs the member out through the widget.
func (a *API) Logout(ctx context.Context) error {
	if a.widget == nil {
		a.logger.Warn("bridge: logout called without a widget session")
		return nil
	}
	return a.widget.Logout(ctx)
}

// MetaData returns the member's JSON metadata, empty when signed out.
func (a *API) MetaData(ctx context.Context) (map[string]any, error) {
	if !a.oracle.IsAuthenticated() || a.widget == nil {
		a.logger.Warn("bridge: getMetaData called while member is not authenticated, returning empty object")
		return map[string]any{}, nil
	}
	m, err := a.widget.MemberJSON(ctx)
	if err != nil {
		return nil, err
	}
	if m == nil {
		m = map[string]any{}
	}
	return m, nil
}

// UpdateMetaData replaces the member's JSON metadata. Signed-out calls
// are ignored.
func (a *API) UpdateMetaData(ctx context.Context, data map[string]any) (map[string]any, error) {
	if !a.oracle.IsAuthenticated() || a.widget == nil {
		a.logger.Warn("bridge: updateMetaData called while member is not authenticated, ignoring")
		return nil, nil
	}
	return a.widget.UpdateMemberJSON(ctx, data)
}
