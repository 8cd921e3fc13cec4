package session

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

const memberJSON = `{
	"id": "mem_sb_1",
	"auth": {"email": "ada@example.com"},
	"createdAt": "2025-06-24T10:00:00.000Z",
	"metaData": {"theme": "dark"},
	"planConnections": [
		{"id": "con_1", "planId": "pln_gold", "status": "ACTIVE", "type": "SUBSCRIPTION",
		 "payment": {"amount": 2999, "currency": "usd", "cancelAtDate": null}}
	]
}`

func TestMemoryStorage(t *testing.T) {
	m := NewMemoryStorage(map[string]string{"a": "1", "b": "2"})
	if v, ok := m.Get("a"); !ok || v != "1" {
		t.Fatalf("Get(a) = %q, %v", v, ok)
	}
	m.Set("c", "3")
	m.Remove("a")
	m.Remove("a")
	m.Remove("missing")
	if _, ok := m.Get("a"); ok {
		t.Fatal("a should be removed")
	}
	if diff := cmp.Diff([]string{"a", "missing"}, m.Removed()); diff != "" {
		t.Fatalf("Removed mismatch (-want +got):\n%s", diff)
	}
}

func TestCookieStorage(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: "__ms", Value: "legacy"})
	h := http.Header{}
	c := NewCookieStorage(r, h)

	if v, ok := c.Get("__ms"); !ok || v != "legacy" {
		t.Fatalf("Get(__ms) = %q, %v", v, ok)
	}
	c.Remove("__ms")
	if _, ok := c.Get("__ms"); ok {
		t.Fatal("removed cookie must not be readable")
	}
	c.Set("ms-adapter", "v2")
	if v, _ := c.Get("ms-adapter"); v != "v2" {
		t.Fatalf("Get(ms-adapter) = %q", v)
	}

	set := h.Values("Set-Cookie")
	if len(set) != 2 {
		t.Fatalf("Set-Cookie = %v", set)
	}
	if !strings.HasPrefix(set[0], "__ms=;") || !strings.Contains(set[0], "Path=/") ||
		!strings.Contains(set[0], "Expires=Thu, 01 Jan 1970 00:00:00 GMT") {
		t.Errorf("expiry cookie = %q", set[0])
	}
	if !strings.HasPrefix(set[1], "ms-adapter=v2") || strings.Contains(set[1], "Expires") {
		t.Errorf("session cookie = %q", set[1])
	}
}

func TestOracle_CurrentMember(t *testing.T) {
	tests := []struct {
		name     string
		seed     map[string]string
		wantAuth bool
		wantID   string
	}{
		{"unauthenticated", nil, false, ""},
		{"authenticated", map[string]string{KeyMemberID: "tok", KeyMember: memberJSON}, true, "mem_sb_1"},
		{"malformed blob fails open", map[string]string{KeyMemberID: "tok", KeyMember: "{nope"}, true, ""},
		{"missing blob", map[string]string{KeyMemberID: "tok"}, true, ""},
		{"blob without session id", map[string]string{KeyMember: memberJSON}, false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := &Oracle{Persistent: NewMemoryStorage(tt.seed)}
			if got := o.IsAuthenticated(); got != tt.wantAuth {
				t.Fatalf("IsAuthenticated = %v, want %v", got, tt.wantAuth)
			}
			m := o.CurrentMember()
			switch {
			case tt.wantID == "" && m != nil:
				t.Fatalf("CurrentMember = %+v, want nil", m)
			case tt.wantID != "" && (m == nil || m.ID != tt.wantID):
				t.Fatalf("CurrentMember = %+v, want id %s", m, tt.wantID)
			}
		})
	}
}

func TestMember_Fields(t *testing.T) {
	var m Member
	if err := json.Unmarshal([]byte(memberJSON), &m); err != nil {
		t.Fatal(err)
	}
	p, ok := m.FirstPlan()
	if !ok {
		t.Fatal("expected a plan connection")
	}
	if amt, ok := p.Payment.AmountString(); !ok || amt != "2999" {
		t.Fatalf("AmountString = %q, %v", amt, ok)
	}
	if p.Payment.Cancelling() {
		t.Fatal("null cancelAtDate is not a cancellation")
	}
	var none *Payment
	if _, ok := none.AmountString(); ok {
		t.Fatal("nil payment has no amount")
	}
	half := 12.5
	if s, _ := (&Payment{Amount: &half}).AmountString(); s != "12.5" {
		t.Fatalf("AmountString = %q", s)
	}
	if !(&Payment{CancelAtDate: json.RawMessage(`1719230000`)}).Cancelling() {
		t.Fatal("timestamp cancelAtDate is a cancellation")
	}
}

func TestOracle_ClearLegacySession(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	h := http.Header{}
	p := NewMemoryStorage(map[string]string{LegacyStorageKey: "{}", KeyMemberID: "tok"})
	o := &Oracle{Persistent: p, Cookies: NewCookieStorage(r, h)}

	o.ClearLegacySession()

	if _, ok := p.Get(LegacyStorageKey); ok {
		t.Fatal("legacy storage key should be removed")
	}
	if !o.IsAuthenticated() {
		t.Fatal("v2 session must survive legacy cleanup")
	}
	var names []string
	for _, c := range (&http.Response{Header: h}).Cookies() {
		if c.MaxAge >= 0 || c.Path != "/" {
			t.Errorf("cookie %s not expired on /: %+v", c.Name, c)
		}
		names = append(names, c.Name)
	}
	if diff := cmp.Diff(LegacyCookies, names); diff != "" {
		t.Fatalf("expired cookies mismatch (-want +got):\n%s", diff)
	}
}
