package rewrite

import (
	"fmt"
	"runtime/debug"
)

// Batch names a rule batch.
type Batch string

const (
	BatchPreLoad   Batch = "pre-load"
	BatchPostReady Batch = "post-ready"
)

// RuleCount is the number of elements one rule changed.
type RuleCount struct {
	Rule  string `json:"rule"`
	Count int    `json:"count"`
}

// Report summarises one batch run.
type Report struct {
	Batch     Batch       `json:"batch"`
	Total     int         `json:"total"`
	Counts    []RuleCount `json:"counts"`
	Ambiguous []Ambiguity `json:"ambiguous,omitempty"`
	// Failed lists rules that panicked and were counted as 0.
	Failed []string `json:"failed,omitempty"`
}

// Count returns the count recorded for rule.
func (r Report) Count(rule string) int {
	for _, c := range r.Counts {
		if c.Rule == rule {
			return c.Count
		}
	}
	return 0
}

// PreLoadRules is the pre-widget-load batch in execution order. Both signup
// link rules run (their selectors are disjoint); the content rule runs last
// so that link rules keyed on a legacy hash see their hrefs first.
func PreLoadRules() []Rule {
	return []Rule{
		{"logout-attr", logoutAttributes},
		{"forgot-attr", forgotAttributes},
		{"login-attr", loginAttributes},
		{"signup-attr", signupAttributes},
		{"member-page-attr", memberPageAttributes},
		{"password-reset-link", passwordResetLinks},
		{"hash-signup-link", hashSignupLinks},
		{"relative-signup-link", relativeSignupLinks},
		{"hash-login-link", hashLoginLinks},
		{"hash-profile-link", hashProfileLinks},
		{"login-redirect-link", loginRedirectLinks},
		{"logout-link", logoutLinks},
		{"plan-attr", planAttributes},
		{"membership-attr", membershipAttributes},
		{"content-link", contentLinks},
	}
}

// PostReadyRules is the post-widget-ready batch in execution order.
func PostReadyRules() []Rule {
	return []Rule{
		{"member-data", memberDataFields},
		{"signup-date", signupDates},
		{"rewrite-on-auth", rewriteOnAuth},
		{"login-url-to-profile", loginURLToProfile},
		{"hide-on-auth", hideOnAuth},
	}
}

// PreLoad reports ambiguous hrefs, then runs the pre-load batch.
func PreLoad(e *Env) Report {
	amb := findAmbiguous(e)
	r := Run(e, BatchPreLoad, PreLoadRules())
	r.Ambiguous = amb
	return r
}

// PostReady runs the post-ready batch. The member session must already be
// populated.
func PostReady(e *Env) Report {
	return Run(e, BatchPostReady, PostReadyRules())
}

// Run applies rules in order. A panicking rule is logged, counted as 0 and
// does not stop the batch.
func Run(e *Env, batch Batch, rules []Rule) Report {
	r := Report{Batch: batch, Counts: make([]RuleCount, 0, len(rules))}
	for _, rule := range rules {
		n, err := apply(e, rule)
		if err != nil {
			e.log().Error("rewrite: rule failed", "batch", batch, "rule", rule.Name, "error", err)
			r.Failed = append(r.Failed, rule.Name)
		}
		r.Counts = append(r.Counts, RuleCount{Rule: rule.Name, Count: n})
		r.Total += n
	}
	e.log().Info("rewrite: batch complete", "batch", batch, "total", r.Total, "rules", len(rules))
	return r
}

func apply(e *Env, rule Rule) (n int, err error) {
	defer func() {
		if p := recover(); p != nil {
			e.log().Debug("rewrite: rule panic stack", "rule", rule.Name, "stack", string(debug.Stack()))
			n, err = 0, fmt.Errorf("panic: %v", p)
		}
	}()
	return rule.Apply(e), nil
}
