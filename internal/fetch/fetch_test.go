package fetch

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const article = `<!DOCTYPE html>
<html>
<head><title>Pricing</title><script>var big = "` + "xxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxx" + `";</script></head>
<body>
<main>
<h1>Plans</h1>
<p>Lorem ipsum dolor sit amet, consectetur adipiscing elit. Sed do eiusmod tempor incididunt ut labore et dolore magna aliqua. Ut enim ad minim veniam, quis nostrud exercitation ullamco laboris nisi ut aliquip ex ea commodo consequat.</p>
<p>Duis aute irure dolor in reprehenderit in voluptate velit esse cillum dolore eu fugiat nulla pariatur.</p>
<a href="#/ms/signup/mem_gold">Join</a>
</main>
</body>
</html>`

const shell = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>App</title></head>
<body>
<div id="root"></div>
<script src="/static/js/main.chunk.js"></script>
<script>window.__BOOT__ = {"some": "padding", "to": "get", "past": "the", "length": "floor", "of": "the", "check": "here"};</script>
</body>
</html>`

func TestIsSufficient(t *testing.T) {
	tests := []struct {
		name string
		page string
		want bool
	}{
		{"static article", article, true},
		{"spa shell", shell, false},
		{"too short", `<html><body>hi</body></html>`, false},
		{"empty body", `<!DOCTYPE html><html><head></head><body></body></html>`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsSufficient([]byte(tt.page)); got != tt.want {
				t.Fatalf("IsSufficient = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestVisibleTextSkipsScripts(t *testing.T) {
	n := visibleText([]byte(`<div>Hello World</div><script>var notText = 1;</script><style>p{}</style>`))
	if n != len("HelloWorld") {
		t.Fatalf("visibleText = %d, want %d", n, len("HelloWorld"))
	}
}

func TestFetch_SendsCookies(t *testing.T) {
	var gotCookie string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("_ms-mid"); err == nil {
			gotCookie = c.Value
		}
		io.WriteString(w, article)
	}))
	defer srv.Close()

	f := New(
		WithCookies(&http.Cookie{Name: "_ms-mid", Value: "tok_1"}),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	p, err := f.Get(context.Background(), srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	if gotCookie != "tok_1" {
		t.Fatalf("cookie = %q", gotCookie)
	}
	if p.StatusCode != http.StatusOK || !p.Sufficient || p.Rendered {
		t.Fatalf("page = %+v", p)
	}
	if !strings.Contains(string(p.HTML), "#/ms/signup/mem_gold") {
		t.Fatal("body not captured")
	}
}

func TestGet_ShellWithoutRendererKeepsStatic(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, shell)
	}))
	defer srv.Close()

	p, err := New(WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))).Get(context.Background(), srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	if p.Sufficient || p.Rendered {
		t.Fatalf("page = %+v", p)
	}
}
