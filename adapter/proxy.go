package adapter

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"

	"github.com/hazyhaar/msadapter/dom"
	"github.com/hazyhaar/msadapter/shield"
	"github.com/hazyhaar/msadapter/version"
)

type ctxKey string

const inboundURLKey ctxKey = "adapter_inbound_url"

// Proxy returns a reverse proxy to upstream that runs Process over every
// HTML page it relays.
func (a *Adapter) Proxy(upstream *url.URL) *httputil.ReverseProxy {
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(upstream)
			pr.SetXForwarded()
			// Only gzip is decoded for rewriting; ask for nothing else.
			if acceptsGzip(pr.In.Header.Get("Accept-Encoding")) {
				pr.Out.Header.Set("Accept-Encoding", "gzip")
			} else {
				pr.Out.Header.Del("Accept-Encoding")
			}
			pr.Out = pr.Out.WithContext(context.WithValue(pr.Out.Context(), inboundURLKey, pr.In.URL))
		},
		ModifyResponse: a.modifyResponse,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			shield.GetLogger(r.Context()).Error("adapter: upstream unavailable", "error", err)
			http.Error(w, "upstream unavailable", http.StatusBadGateway)
		},
	}
}

func acceptsGzip(h string) bool {
	for _, part := range strings.Split(h, ",") {
		enc, _, _ := strings.Cut(strings.TrimSpace(part), ";")
		if strings.EqualFold(enc, "gzip") {
			return true
		}
	}
	return false
}

func isHTML(resp *http.Response) bool {
	mt, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	return err == nil && mt == "text/html"
}

func rewritable(resp *http.Response) bool {
	if resp.Request == nil || resp.Request.Method != http.MethodGet {
		return false
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 ||
		resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusPartialContent {
		return false
	}
	if !isHTML(resp) {
		return false
	}
	switch strings.ToLower(resp.Header.Get("Content-Encoding")) {
	case "", "identity", "gzip":
		return true
	}
	return false
}

func (a *Adapter) modifyResponse(resp *http.Response) error {
	if !rewritable(resp) {
		return nil
	}
	ctx := resp.Request.Context()
	log := shield.GetLogger(ctx)

	body, skip, err := a.readPage(resp)
	if err != nil {
		return fmt.Errorf("adapter: read page: %w", err)
	}
	if skip != "" {
		log.Warn("adapter: page not rewritable, passing through", "reason", skip, "limit", a.cfg.MaxPageBytes)
		return nil
	}

	doc, err := dom.Parse(bytes.NewReader(body))
	if err != nil {
		log.Warn("adapter: unparsable page, passing through", "error", err)
		setBody(resp, body)
		return nil
	}

	page := NewPage(resp.Request, resp.Header, doc)
	if u, ok := ctx.Value(inboundURLKey).(*url.URL); ok {
		page.URL = u
	}
	out, err := a.Process(ctx, page)
	if err != nil {
		setBody(resp, body)
		return nil
	}

	var buf bytes.Buffer
	if err := doc.Render(&buf); err != nil {
		return fmt.Errorf("adapter: render page: %w", err)
	}
	setBody(resp, buf.Bytes())
	resp.Header.Del("ETag")
	resp.Header.Del("Last-Modified")
	resp.Header.Add("Vary", "Cookie")
	if out.Mode == version.V2 {
		resp.Header.Set("Cache-Control", "private, no-cache")
	}
	return nil
}

// readPage reads the decoded body. When the page cannot be rewritten,
// skip says why and resp carries the original bytes, still encoded, so the
// page streams through as is. err is only an upstream read failure.
func (a *Adapter) readPage(resp *http.Response) (body []byte, skip string, err error) {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, a.cfg.MaxPageBytes+1))
	if err != nil {
		resp.Body.Close()
		return nil, "", err
	}
	if int64(len(raw)) > a.cfg.MaxPageBytes {
		resp.Body = struct {
			io.Reader
			io.Closer
		}{io.MultiReader(bytes.NewReader(raw), resp.Body), resp.Body}
		return nil, "page too large", nil
	}
	resp.Body.Close()

	if !strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") {
		return raw, "", nil
	}
	decoded, skip := a.gunzip(raw)
	if skip != "" {
		setBody(resp, raw)
		return nil, skip, nil
	}
	resp.Header.Del("Content-Encoding")
	return decoded, "", nil
}

func (a *Adapter) gunzip(raw []byte) ([]byte, string) {
	zr, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, "corrupt gzip stream"
	}
	defer zr.Close()
	decoded, err := io.ReadAll(io.LimitReader(zr, a.cfg.MaxPageBytes+1))
	if err != nil {
		return nil, "corrupt gzip stream"
	}
	if int64(len(decoded)) > a.cfg.MaxPageBytes {
		return nil, "decoded page too large"
	}
	return decoded, ""
}

func setBody(resp *http.Response, b []byte) {
	resp.Body = io.NopCloser(bytes.NewReader(b))
	resp.ContentLength = int64(len(b))
	resp.Header.Set("Content-Length", strconv.Itoa(len(b)))
}
