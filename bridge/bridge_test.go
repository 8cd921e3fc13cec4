package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/hazyhaar/msadapter/planid"
	"github.com/hazyhaar/msadapter/session"
)

const memberJSON = `{
	"id": "mem_sb_1",
	"auth": {"email": "ada@example.com"},
	"createdAt": "2025-06-24T10:00:00.000Z",
	"planConnections": [
		{"id": "con_1", "planId": "pln_gold", "status": "ACTIVE", "type": "SUBSCRIPTION",
		 "payment": {"amount": 29.99, "cancelAtDate": "2025-12-01"}}
	]
}`

var testTable = planid.NewTable([]planid.Entry{
	{DisplayName: "Gold plan", OldID: "mem_gold", NewID: "pln_gold"},
})

type fakeWidget struct {
	mu        sync.Mutex
	cookie    string
	meta      map[string]any
	logouts   int
	updateErr error
}

func (f *fakeWidget) CurrentMember(ctx context.Context) (*session.Member, error) { return nil, nil }

func (f *fakeWidget) Logout(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logouts++
	return nil
}

func (f *fakeWidget) MemberCookie() string { return f.cookie }

func (f *fakeWidget) MemberJSON(ctx context.Context) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.meta, nil
}

func (f *fakeWidget) UpdateMemberJSON(ctx context.Context, data map[string]any) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	f.meta = data
	return data, nil
}

func quietLogger(buf *bytes.Buffer) *slog.Logger {
	if buf == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func newAPI(persistent map[string]string, w Widget, buf *bytes.Buffer) *API {
	logger := quietLogger(buf)
	oracle := &session.Oracle{Persistent: session.NewMemoryStorage(persistent), Logger: logger}
	return New(oracle, w, testTable, logger)
}

func authed() map[string]string {
	return map[string]string{session.KeyMemberID: "tok_1", session.KeyMember: memberJSON}
}

func TestSignal_FirstCompleteWins(t *testing.T) {
	s := NewSignal[int]()
	if _, ok := s.Value(); ok {
		t.Fatal("fresh signal must not have a value")
	}
	if !s.Complete(1) {
		t.Fatal("first Complete must win")
	}
	if s.Complete(2) {
		t.Fatal("second Complete must be ignored")
	}
	v, err := s.Wait(context.Background())
	if err != nil || v != 1 {
		t.Fatalf("Wait = %d, %v", v, err)
	}
}

func TestSignal_WaitHonoursContext(t *testing.T) {
	s := NewSignal[string]()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := s.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}

func TestSignal_ReleasesAllWaiters(t *testing.T) {
	s := NewSignal[int]()
	var wg sync.WaitGroup
	got := make([]int, 5)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i], _ = s.Wait(context.Background())
		}(i)
	}
	s.Complete(7)
	wg.Wait()
	for i, v := range got {
		if v != 7 {
			t.Fatalf("waiter %d got %d", i, v)
		}
	}
}

func TestPayload_Authenticated(t *testing.T) {
	a := newAPI(authed(), nil, nil)
	got := a.Payload()
	want := ReadyPayload{
		Email:    "ada@example.com",
		LoggedIn: true,
		Membership: &LegacyPlan{
			Amount:            29.99,
			CancelAtPeriodEnd: true,
			ID:                "pln_gold",
			Name:              "Gold plan",
			SignupDate:        "2025-06-24T10:00:00.000Z",
			Status:            "active",
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Payload mismatch (-want +got):\n%s", diff)
	}
}

func TestPayload_FreePlanHasBlankAmount(t *testing.T) {
	p := authed()
	p[session.KeyMember] = `{"auth":{"email":"x@y.z"},"planConnections":[{"planId":"pln_free","status":"ACTIVE","type":"FREE"}]}`
	got := newAPI(p, nil, nil).Payload()
	if got.Membership == nil || got.Membership.Amount != "" {
		t.Fatalf("membership = %+v", got.Membership)
	}
	if got.Membership.Name != "pln_free" {
		t.Fatalf("unknown plan name should fall back to plan id, got %q", got.Membership.Name)
	}
}

func TestPayload_Anonymous(t *testing.T) {
	got := newAPI(nil, nil, nil).Payload()
	if diff := cmp.Diff(ReadyPayload{}, got); diff != "" {
		t.Fatalf("anonymous payload mismatch (-want +got):\n%s", diff)
	}
}

func TestOnReady_Memoized(t *testing.T) {
	a := newAPI(authed(), nil, nil)
	a.Complete(ReadyPayload{Email: "first@example.com", LoggedIn: true})
	a.Complete(ReadyPayload{Email: "second@example.com"})
	for i := 0; i < 3; i++ {
		if got := a.OnReady(context.Background()); got.Email != "first@example.com" {
			t.Fatalf("call %d: email = %q", i, got.Email)
		}
	}
}

func TestOnReady_FallsBackToStorage(t *testing.T) {
	a := newAPI(authed(), nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	got := a.OnReady(ctx)
	if !got.LoggedIn || got.Email != "ada@example.com" {
		t.Fatalf("fallback payload = %+v", got)
	}
	if again := a.OnReady(context.Background()); again.Email != got.Email {
		t.Fatal("fallback must be memoized")
	}
}

func TestGetToken(t *testing.T) {
	if got := newAPI(authed(), &fakeWidget{cookie: "tok_widget"}, nil).GetToken(); got != "tok_widget" {
		t.Fatalf("widget token = %q", got)
	}
	if got := newAPI(authed(), &fakeWidget{}, nil).GetToken(); got != "tok_1" {
		t.Fatalf("storage token = %q", got)
	}
	if got := newAPI(nil, nil, nil).GetToken(); got != "" {
		t.Fatalf("anonymous token = %q", got)
	}
}

func TestMetaData_Anonymous(t *testing.T) {
	var buf bytes.Buffer
	a := newAPI(nil, &fakeWidget{meta: map[string]any{"a": 1}}, &buf)
	md, err := a.MetaData(context.Background())
	if err != nil || len(md) != 0 {
		t.Fatalf("MetaData = %v, %v", md, err)
	}
	if !strings.Contains(buf.String(), "not authenticated") {
		t.Fatalf("expected warning, log:\n%s", buf.String())
	}
	upd, err := a.UpdateMetaData(context.Background(), map[string]any{"b": 2})
	if err != nil || upd != nil {
		t.Fatalf("UpdateMetaData = %v, %v", upd, err)
	}
}

func TestLegacy_Has(t *testing.T) {
	l := newAPI(nil, nil, nil).Legacy()
	for _, name := range []string{CapOnReady, CapGetToken, CapReload, CapLogout, CapSelectMembership, CapGetMetaData, CapUpdateMetaData} {
		if !l.Has(name) {
			t.Errorf("Has(%q) = false", name)
		}
	}
	if l.Has("getMember") {
		t.Error("unknown capability must not be offered")
	}
	l.Reload = nil
	if l.Has(CapReload) {
		t.Error("nil capability must not be offered")
	}
	if len(l.Names()) != 6 {
		t.Errorf("Names = %v", l.Names())
	}
}

func newServer(t *testing.T, persistent map[string]string, w Widget) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(Handler(func(http.ResponseWriter, *http.Request) *API {
		a := newAPI(persistent, w, nil)
		a.Complete(a.Payload())
		return a
	}, quietLogger(nil)))
	t.Cleanup(srv.Close)
	return srv
}

func TestHandler_Ready(t *testing.T) {
	srv := newServer(t, authed(), &fakeWidget{})
	resp, err := http.Get(srv.URL + "/ready")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var got ReadyPayload
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if !got.LoggedIn || got.Membership == nil || got.Membership.Name != "Gold plan" {
		t.Fatalf("ready = %+v", got)
	}
}

func TestHandler_MetaDataRoundTrip(t *testing.T) {
	fw := &fakeWidget{meta: map[string]any{}}
	srv := newServer(t, authed(), fw)

	resp, err := http.Post(srv.URL+"/metadata", "application/json", strings.NewReader(`{"theme":"dark"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update status = %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/metadata")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var md map[string]any
	json.NewDecoder(resp.Body).Decode(&md)
	if md["theme"] != "dark" {
		t.Fatalf("metadata = %v", md)
	}
}

func TestHandler_UpdateFailure(t *testing.T) {
	srv := newServer(t, authed(), &fakeWidget{updateErr: errors.New("boom")})
	resp, err := http.Post(srv.URL+"/metadata", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestHandler_BadBody(t *testing.T) {
	srv := newServer(t, authed(), &fakeWidget{})
	resp, err := http.Post(srv.URL+"/metadata", "application/json", strings.NewReader(`not json`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestHandler_Logout(t *testing.T) {
	fw := &fakeWidget{}
	srv := newServer(t, authed(), fw)
	resp, err := http.Post(srv.URL+"/logout", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	fw.mu.Lock()
	n := fw.logouts
	fw.mu.Unlock()
	if resp.StatusCode != http.StatusNoContent || n != 1 {
		t.Fatalf("status = %d, logouts = %d", resp.StatusCode, n)
	}
}

func TestHandler_LegacyJS(t *testing.T) {
	srv := newServer(t, nil, nil)
	resp, err := http.Get(srv.URL + "/legacy.js")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "window.MemberStack") {
		t.Fatal("legacy.js must define window.MemberStack")
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/javascript") {
		t.Fatalf("content type = %q", ct)
	}
}
