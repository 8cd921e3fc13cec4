package version

import (
	"net/url"
	"testing"
)

type mapStore map[string]string

func (m mapStore) Get(k string) (string, bool) { v, ok := m[k]; return v, ok }
func (m mapStore) Set(k, v string)             { m[k] = v }

func mustURL(t *testing.T, s string) *url.URL {
	t.Helper()
	u, err := url.Parse(s)
	if err != nil {
		t.Fatal(err)
	}
	return u
}

func TestFromQuery(t *testing.T) {
	for in, want := range map[string]Mode{
		"true": V2, "v2": V2, "false": V1, "v1": V1, "garbage": V1, "": V1, "TRUE": V1,
	} {
		if got := FromQuery(in); got != want {
			t.Errorf("FromQuery(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestSelect_QueryStripsOnlyAdapter(t *testing.T) {
	store := mapStore{}
	s := &Selector{}
	sel := s.Select(mustURL(t, "/x?adapter=true&foo=bar"), store)

	if sel.Mode != V2 || sel.Source != SourceQuery {
		t.Fatalf("Select = %+v", sel)
	}
	if sel.CleanURL != "/x?foo=bar" || !sel.URLRewritten {
		t.Fatalf("CleanURL = %q (rewritten=%v)", sel.CleanURL, sel.URLRewritten)
	}
	if store[SessionKey] != "v2" {
		t.Fatalf("session = %q, want v2", store[SessionKey])
	}
}

func TestSelect_CleanURLShapes(t *testing.T) {
	tests := map[string]string{
		"/x?adapter=v1":                       "/x",
		"/x?a=1&adapter=v2&b=2":               "/x?a=1&b=2",
		"/x?b=2&a=1&adapter":                  "/x?b=2&a=1",
		"/?adapter=true":                      "/",
		"/p%20q?adapter=true&z=%2F&adapter=x": "/p%20q?z=%2F",
	}
	s := &Selector{}
	for in, want := range tests {
		sel := s.Select(mustURL(t, in), mapStore{})
		if sel.CleanURL != want {
			t.Errorf("Select(%q).CleanURL = %q, want %q", in, sel.CleanURL, want)
		}
	}
}

func TestSelect_Precedence(t *testing.T) {
	tests := []struct {
		name   string
		url    string
		stored string
		forced Mode
		want   Mode
		source Source
	}{
		{"query beats session", "/?adapter=v1", "v2", V2, V1, SourceQuery},
		{"query garbage is v1", "/?adapter=yes", "", V2, V1, SourceQuery},
		{"session beats forced", "/", "v1", V2, V1, SourceSession},
		{"legacy true ignored", "/", "true", V2, V2, SourceForced},
		{"legacy true ignored no forced", "/", "true", "", V1, SourceDefault},
		{"forced", "/", "", V2, V2, SourceForced},
		{"invalid forced ignored", "/", "", Mode("v3"), V1, SourceDefault},
		{"default", "/", "", "", V1, SourceDefault},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := mapStore{}
			if tt.stored != "" {
				store[SessionKey] = tt.stored
			}
			sel := (&Selector{Forced: tt.forced}).Select(mustURL(t, tt.url), store)
			if sel.Mode != tt.want || sel.Source != tt.source {
				t.Fatalf("Select = %+v, want mode %s from %s", sel, tt.want, tt.source)
			}
		})
	}
}

func TestSelect_PersistsAcrossLoads(t *testing.T) {
	store := mapStore{SessionKey: "v1"}
	s := &Selector{Forced: V1}

	first := s.Select(mustURL(t, "/a?adapter=v2"), store)
	second := s.Select(mustURL(t, first.CleanURL), store)

	if first.Mode != V2 || second.Mode != V2 || second.Source != SourceSession {
		t.Fatalf("first=%+v second=%+v", first, second)
	}
	if second.URLRewritten {
		t.Fatal("second load must not rewrite the URL")
	}
}

func TestStripParam(t *testing.T) {
	if got := StripParam("", "adapter"); got != "" {
		t.Fatalf("StripParam(empty) = %q", got)
	}
	if got := StripParam("a=1&&adapter=1&b", "adapter"); got != "a=1&b" {
		t.Fatalf("StripParam = %q", got)
	}
}
