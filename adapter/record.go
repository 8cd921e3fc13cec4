package adapter

import (
	"context"
	"net/url"
	"strings"

	"github.com/hazyhaar/msadapter/internal/store"
	"github.com/hazyhaar/msadapter/observability"
	"github.com/hazyhaar/msadapter/rewrite"
)

// record persists the run, its metrics and notable events. Failures are
// logged by the sinks and never reach the page.
func (a *Adapter) record(ctx context.Context, u *url.URL, out *Outcome) {
	ctx = context.WithoutCancel(ctx)
	mode := string(out.Mode)

	a.metrics.Duration(observability.MetricPageDurationMs, out.Duration, map[string]string{"mode": mode})
	for _, r := range []rewrite.Report{out.PreLoad, out.PostReady} {
		if r.Batch == "" {
			continue
		}
		a.metrics.Count(observability.MetricBatchChanges, r.Total, map[string]string{"batch": string(r.Batch)})
		for _, c := range r.Counts {
			if c.Count > 0 {
				a.metrics.Count(observability.MetricRuleChanges, c.Count,
					map[string]string{"batch": string(r.Batch), "rule": c.Rule})
			}
		}
		for _, rule := range r.Failed {
			a.events.Log(ctx, observability.Event{Type: observability.EventRuleFailed, PageURL: u.Path, Rule: rule})
		}
	}
	if n := len(out.PreLoad.Ambiguous); n > 0 {
		a.metrics.Count(observability.MetricAmbiguousLinks, n, nil)
		for _, amb := range out.PreLoad.Ambiguous {
			a.events.Log(ctx, observability.Event{
				Type:    observability.EventAmbiguousLink,
				PageURL: u.Path,
				Rule:    strings.Join(amb.Rules, ","),
				Detail:  amb.Href,
			})
		}
	}
	if out.WidgetErr != nil {
		a.metrics.Count(observability.MetricWidgetFailures, 1, nil)
		a.events.Log(ctx, observability.Event{Type: observability.EventWidgetFailed, PageURL: u.Path, Detail: out.WidgetErr.Error()})
	}

	if a.store == nil {
		return
	}
	run := &store.Run{
		URL:       u.Path,
		Mode:      mode,
		Source:    string(out.Selection.Source),
		Authed:    out.Authenticated,
		PreTotal:  out.PreLoad.Total,
		PostTotal: out.PostReady.Total,
		Ambiguous: len(out.PreLoad.Ambiguous),
		Failed:    len(out.PreLoad.Failed) + len(out.PostReady.Failed),
		Duration:  out.Duration,
	}
	if out.WidgetErr != nil {
		run.WidgetErr = out.WidgetErr.Error()
	}
	if err := a.store.RecordRun(ctx, run); err != nil {
		a.logger.Error("adapter: record run failed", "error", err)
	}
}
