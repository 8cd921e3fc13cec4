package session

import (
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"
)

// Persistent storage keys written by the v2 widget.
const (
	KeyMemberID = "_ms-mid"
	KeyMember   = "_ms-mem"
)

// Legacy v1 session artefacts.
var (
	LegacyCookies    = []string{"__ms", "__stripe_mid", "__stripe_sid"}
	LegacyStorageKey = "memberstack"
)

// Member is the v2 widget's view of the authenticated member. Only the
// fields the adapter projects are decoded.
type Member struct {
	ID              string           `json:"id"`
	Auth            Auth             `json:"auth"`
	CreatedAt       string           `json:"createdAt"`
	MetaData        map[string]any   `json:"metaData,omitempty"`
	CustomFields    map[string]any   `json:"customFields,omitempty"`
	PlanConnections []PlanConnection `json:"planConnections"`
}

type Auth struct {
	Email string `json:"email"`
}

// PlanConnection links a member to one plan.
type PlanConnection struct {
	ID      string   `json:"id"`
	PlanID  string   `json:"planId"`
	Status  string   `json:"status"`
	Type    string   `json:"type"`
	Payment *Payment `json:"payment,omitempty"`
}

// Payment is the optional billing part of a plan connection.
type Payment struct {
	Amount       *float64        `json:"amount,omitempty"`
	Currency     string          `json:"currency,omitempty"`
	CancelAtDate json.RawMessage `json:"cancelAtDate,omitempty"`
}

// AmountString renders the payment amount the way a JavaScript String()
// would: integers without a decimal point. ok is false when there is no
// amount.
func (p *Payment) AmountString() (string, bool) {
	if p == nil || p.Amount == nil {
		return "", false
	}
	return strconv.FormatFloat(*p.Amount, 'f', -1, 64), true
}

// Cancelling reports whether a cancellation date is set.
func (p *Payment) Cancelling() bool {
	if p == nil || len(p.CancelAtDate) == 0 {
		return false
	}
	s := strings.TrimSpace(string(p.CancelAtDate))
	return s != "null" && s != `""` && s != "0" && s != "false"
}

// FirstPlan returns the first plan connection.
func (m *Member) FirstPlan() (PlanConnection, bool) {
	if m == nil || len(m.PlanConnections) == 0 {
		return PlanConnection{}, false
	}
	return m.PlanConnections[0], true
}

// Oracle answers authentication questions from client storage. It never
// writes persistent storage except through ClearLegacySession.
type Oracle struct {
	Persistent Storage
	Cookies    Storage
	Logger     *slog.Logger
}

func (o *Oracle) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

// IsAuthenticated reports whether a v2 session id is present.
func (o *Oracle) IsAuthenticated() bool {
	if o == nil || o.Persistent == nil {
		return false
	}
	_, ok := o.Persistent.Get(KeyMemberID)
	return ok
}

// CurrentMember returns the stored member snapshot, or nil when the member
// is not authenticated or the stored blob cannot be decoded.
func (o *Oracle) CurrentMember() *Member {
	if !o.IsAuthenticated() {
		return nil
	}
	raw, ok := o.Persistent.Get(KeyMember)
	if !ok || strings.TrimSpace(raw) == "" {
		o.logger().Warn("session: member id present but no member blob")
		return nil
	}
	var m Member
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		o.logger().Warn("session: malformed member blob, treating as unauthenticated", "error", err)
		return nil
	}
	return &m
}

// Token returns the v2 session id.
func (o *Oracle) Token() string {
	if o == nil || o.Persistent == nil {
		return ""
	}
	v, _ := o.Persistent.Get(KeyMemberID)
	return v
}

// ClearLegacySession deletes the v1 cookies and the v1 persistent key.
func (o *Oracle) ClearLegacySession() {
	if o == nil {
		return
	}
	if o.Cookies != nil {
		for _, name := range LegacyCookies {
			o.Cookies.Remove(name)
		}
	}
	if o.Persistent != nil {
		o.Persistent.Remove(LegacyStorageKey)
	}
	o.logger().Debug("session: legacy session cleared")
}
