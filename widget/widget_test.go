package widget

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/msadapter/dbopen"
	"github.com/hazyhaar/msadapter/dom"
	"github.com/hazyhaar/msadapter/internal/store"
	"github.com/hazyhaar/msadapter/session"
	"github.com/hazyhaar/msadapter/version"
)

const member = `{"id":"mem_sb_1","auth":{"email":"ada@example.com"},"createdAt":"2025-06-24T10:00:00.000Z","planConnections":[{"planId":"pln_gold","status":"ACTIVE","type":"SUBSCRIPTION"}]}`

// fakeAPI mimics the member API for token "tok_good".
type fakeAPI struct {
	mu       sync.Mutex
	json     map[string]any
	hits     atomic.Int32
	logouts  atomic.Int32
	failWith int
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.hits.Add(1)
	if f.failWith != 0 {
		w.WriteHeader(f.failWith)
		return
	}
	if r.Header.Get("X-API-Key") != "pk_test" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if r.Header.Get("Authorization") != "Bearer tok_good" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/member":
		io.WriteString(w, `{"data":`+member+`}`)
	case r.Method == http.MethodPost && r.URL.Path == "/member/logout":
		f.logouts.Add(1)
		io.WriteString(w, `{"data":null}`)
	case r.Method == http.MethodGet && r.URL.Path == "/member/json":
		f.mu.Lock()
		defer f.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]any{"data": f.json})
	case r.Method == http.MethodPost && r.URL.Path == "/member/json":
		var req struct {
			JSON map[string]any `json:"json"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		f.json = req.JSON
		f.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]any{"data": req.JSON})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newClient(t *testing.T, api http.Handler, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	opts = append([]Option{
		WithBaseURL(srv.URL),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}, opts...)
	return NewClient("pk_test", opts...)
}

func TestClient_CurrentMember(t *testing.T) {
	c := newClient(t, &fakeAPI{})
	m, err := c.CurrentMember(context.Background(), "tok_good")
	if err != nil {
		t.Fatal(err)
	}
	if m.Auth.Email != "ada@example.com" || len(m.PlanConnections) != 1 {
		t.Fatalf("member = %+v", m)
	}
}

func TestClient_Unauthorized(t *testing.T) {
	c := newClient(t, &fakeAPI{})
	if _, err := c.CurrentMember(context.Background(), "tok_bad"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
	if _, err := c.CurrentMember(context.Background(), ""); !errors.Is(err, ErrNoToken) {
		t.Fatalf("err = %v, want ErrNoToken", err)
	}
	if c.Breaker().State() != BreakerClosed {
		t.Fatal("rejected tokens must not trip the breaker")
	}
}

func TestClient_CachesMember(t *testing.T) {
	st, err := store.New(dbopen.OpenMemory(t))
	if err != nil {
		t.Fatal(err)
	}
	api := &fakeAPI{}
	c := newClient(t, api, WithCache(st, time.Minute))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := c.MemberRaw(ctx, "tok_good"); err != nil {
			t.Fatal(err)
		}
	}
	if n := api.hits.Load(); n != 1 {
		t.Fatalf("upstream hits = %d, want 1", n)
	}

	if err := c.Logout(ctx, "tok_good"); err != nil {
		t.Fatal(err)
	}
	if _, err := st.GetMember(ctx, "tok_good"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("logout must drop the cached member, err = %v", err)
	}
	if api.logouts.Load() != 1 {
		t.Fatal("logout not forwarded")
	}
}

func TestClient_BreakerOpensOnOutage(t *testing.T) {
	api := &fakeAPI{failWith: http.StatusBadGateway}
	c := newClient(t, api, WithBreaker(NewBreaker(WithBreakerThreshold(2))))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := c.MemberRaw(ctx, "tok_good"); err == nil {
			t.Fatal("expected upstream error")
		}
	}
	_, err := c.MemberRaw(ctx, "tok_good")
	var open *ErrCircuitOpen
	if !errors.As(err, &open) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if n := api.hits.Load(); n != 2 {
		t.Fatalf("upstream hits = %d, want 2", n)
	}
}

func TestSession_MemberJSON(t *testing.T) {
	c := newClient(t, &fakeAPI{})
	s := c.Bind("tok_good")
	ctx := context.Background()

	md, err := s.MemberJSON(ctx)
	if err != nil || len(md) != 0 {
		t.Fatalf("empty json store = %v, %v", md, err)
	}
	if _, err := s.UpdateMemberJSON(ctx, map[string]any{"theme": "dark"}); err != nil {
		t.Fatal(err)
	}
	md, err = s.MemberJSON(ctx)
	if err != nil || md["theme"] != "dark" {
		t.Fatalf("json store = %v, %v", md, err)
	}
	if s.MemberCookie() != "tok_good" {
		t.Fatalf("MemberCookie = %q", s.MemberCookie())
	}
}

func TestLoader(t *testing.T) {
	l := &Loader{Client: newClient(t, &fakeAPI{})}
	ctx := context.Background()

	st := session.NewMemoryStorage(map[string]string{session.KeyMemberID: "tok_good"})
	if err := l.Load(ctx, "tok_good", st); err != nil {
		t.Fatal(err)
	}
	o := &session.Oracle{Persistent: st}
	if m := o.CurrentMember(); m == nil || m.ID != "mem_sb_1" {
		t.Fatalf("member after load = %+v", m)
	}

	st = session.NewMemoryStorage(map[string]string{session.KeyMemberID: "tok_bad", session.KeyMember: "{}"})
	if err := l.Load(ctx, "tok_bad", st); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v", err)
	}
	if _, ok := st.Get(session.KeyMemberID); ok {
		t.Fatal("rejected token must clear the session id")
	}

	if err := l.Load(ctx, "", session.NewMemoryStorage(nil)); err != nil {
		t.Fatalf("no token: err = %v", err)
	}
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	now := time.Unix(1000, 0)
	b := NewBreaker(
		WithBreakerThreshold(1),
		WithBreakerResetTimeout(time.Second),
		WithBreakerHalfOpenMax(1),
		WithBreakerClock(func() time.Time { return now }),
	)
	b.Failure()
	if b.Allow() {
		t.Fatal("breaker should be open")
	}
	now = now.Add(time.Second)
	if b.State() != BreakerHalfOpen {
		t.Fatalf("state = %v, want half-open", b.State())
	}
	b.Success()
	if b.State() != BreakerClosed {
		t.Fatalf("state = %v, want closed", b.State())
	}
}

func TestScripts(t *testing.T) {
	s := Scripts{AppIDV1: "app_v1", AppID: "app_v2", PublicKey: "pk_test"}

	doc, _ := dom.ParseString("<html><head></head><body></body></html>")
	s.Inject(doc, version.V2)
	out := doc.String()
	for _, want := range []string{DefaultV2ScriptURL, `data-memberstack-app="app_v2"`, `data-memberstack-public-key="pk_test"`} {
		if !strings.Contains(out, want) {
			t.Errorf("v2 page missing %q:\n%s", want, out)
		}
	}

	doc, _ = dom.ParseString("<html><head></head><body></body></html>")
	s.Inject(doc, version.V1)
	out = doc.String()
	if !strings.Contains(out, DefaultV1ScriptURL) || !strings.Contains(out, `data-memberstack-id="app_v1"`) {
		t.Errorf("v1 page:\n%s", out)
	}
}
