// Package version decides, per page load, whether the page runs against the
// legacy widget (v1) or the current one (v2).
//
// Precedence: the "adapter" query parameter, then the mode remembered in
// session storage, then the forced version from configuration, then v1.
package version

import (
	"log/slog"
	"net/url"
	"strings"
)

// Mode is the widget generation governing a page view.
type Mode string

const (
	V1 Mode = "v1"
	V2 Mode = "v2"
)

const (
	// QueryParam is the page query parameter that forces a mode.
	QueryParam = "adapter"
	// SessionKey is the session storage key remembering the mode.
	SessionKey = "ms-adapter"
)

// Source tells where a selection came from.
type Source string

const (
	SourceQuery   Source = "query"
	SourceSession Source = "session"
	SourceForced  Source = "forced"
	SourceDefault Source = "default"
)

// ParseMode accepts exactly "v1" or "v2".
func ParseMode(s string) (Mode, bool) {
	switch Mode(s) {
	case V1, V2:
		return Mode(s), true
	}
	return "", false
}

// FromQuery maps a query parameter value to a mode: "true" and "v2" select
// v2, anything else selects v1.
func FromQuery(v string) Mode {
	if v == "true" || v == string(V2) {
		return V2
	}
	return V1
}

// Store is the session-scoped storage the selector persists into.
type Store interface {
	Get(key string) (string, bool)
	Set(key, value string)
}

// Selector resolves the mode. It holds no per-page state.
type Selector struct {
	Forced Mode
	Logger *slog.Logger
}

// Selection is the outcome of one Select call.
type Selection struct {
	Mode   Mode
	Source Source
	// CleanURL is the request URI with the adapter parameter stripped. It
	// equals the original URI when URLRewritten is false.
	CleanURL     string
	URLRewritten bool
}

// Select resolves the mode for u. When the query parameter is present the
// resolved mode is written to store and CleanURL drops that parameter.
func (s *Selector) Select(u *url.URL, store Store) Selection {
	log := s.Logger
	if log == nil {
		log = slog.Default()
	}
	orig := requestURI(u)

	if raw, ok := queryValue(u.RawQuery, QueryParam); ok {
		mode := FromQuery(raw)
		if store != nil {
			store.Set(SessionKey, string(mode))
		}
		clean := requestURI(&url.URL{Path: u.Path, RawPath: u.RawPath, RawQuery: StripParam(u.RawQuery, QueryParam)})
		log.Info("version: adapter parameter found, persisting mode", "mode", mode, "value", raw)
		return Selection{Mode: mode, Source: SourceQuery, CleanURL: clean, URLRewritten: true}
	}

	if store != nil {
		if stored, ok := store.Get(SessionKey); ok {
			if mode, valid := ParseMode(stored); valid {
				return Selection{Mode: mode, Source: SourceSession, CleanURL: orig}
			}
			log.Debug("version: ignoring invalid stored mode", "value", stored)
		}
	}

	if s.Forced != "" {
		if mode, valid := ParseMode(string(s.Forced)); valid {
			log.Info("version: using forced version", "mode", mode)
			return Selection{Mode: mode, Source: SourceForced, CleanURL: orig}
		}
	}

	return Selection{Mode: V1, Source: SourceDefault, CleanURL: orig}
}

func requestURI(u *url.URL) string {
	p := u.EscapedPath()
	if p == "" {
		p = "/"
	}
	if u.RawQuery != "" {
		p += "?" + u.RawQuery
	}
	return p
}

// queryValue returns the first value of key in a raw query, keeping the
// parameter present even when its value is empty.
func queryValue(rawQuery, key string) (string, bool) {
	for _, part := range strings.Split(rawQuery, "&") {
		if part == "" {
			continue
		}
		k, v, _ := strings.Cut(part, "=")
		if uk, err := url.QueryUnescape(k); err == nil && uk == key {
			uv, err := url.QueryUnescape(v)
			if err != nil {
				uv = v
			}
			return uv, true
		}
	}
	return "", false
}

// StripParam removes every occurrence of key from rawQuery and keeps the
// other parameters byte-for-byte and in order.
func StripParam(rawQuery, key string) string {
	if rawQuery == "" {
		return ""
	}
	parts := strings.Split(rawQuery, "&")
	kept := parts[:0]
	for _, part := range parts {
		if part == "" {
			continue
		}
		k, _, _ := strings.Cut(part, "=")
		if uk, err := url.QueryUnescape(k); err == nil && uk == key {
			continue
		}
		kept = append(kept, part)
	}
	return strings.Join(kept, "&")
}
