// Package session reads the client-side storage the membership widget keeps
// and answers whether a v2 member is authenticated.
//
// Two storage areas exist. Persistent storage holds the v2 session id and
// the serialized member; on the server it is a request-scoped MemoryStorage
// seeded from cookies and filled by the widget loader. Cookie storage maps
// onto the request cookies and the response Set-Cookie headers.
package session

import (
	"net/http"
	"sync"
	"time"
)

// Storage is a string key/value area.
type Storage interface {
	Get(key string) (string, bool)
	Set(key, value string)
	Remove(key string)
}

// MemoryStorage is an in-memory Storage that remembers which keys were
// removed, so removals can be replayed in the browser.
type MemoryStorage struct {
	mu      sync.RWMutex
	data    map[string]string
	removed []string
}

// NewMemoryStorage returns a storage seeded with a copy of seed.
func NewMemoryStorage(seed map[string]string) *MemoryStorage {
	m := &MemoryStorage{data: make(map[string]string, len(seed))}
	for k, v := range seed {
		m.data[k] = v
	}
	return m
}

func (m *MemoryStorage) Get(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok
}

func (m *MemoryStorage) Set(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
}

func (m *MemoryStorage) Remove(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	for _, k := range m.removed {
		if k == key {
			return
		}
	}
	m.removed = append(m.removed, key)
}

// Removed returns the keys removed so far, in removal order.
func (m *MemoryStorage) Removed() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.removed...)
}

// CookieStorage reads request cookies and writes Set-Cookie headers. Writes
// are visible to later reads on the same value.
type CookieStorage struct {
	req     *http.Request
	header  http.Header
	mu      sync.Mutex
	overlay map[string]*string
}

// NewCookieStorage binds a storage to the incoming request and the
// outgoing response header.
func NewCookieStorage(r *http.Request, h http.Header) *CookieStorage {
	return &CookieStorage{req: r, header: h, overlay: make(map[string]*string)}
}

func (c *CookieStorage) Get(key string) (string, bool) {
	c.mu.Lock()
	v, ok := c.overlay[key]
	c.mu.Unlock()
	if ok {
		if v == nil {
			return "", false
		}
		return *v, true
	}
	if c.req == nil {
		return "", false
	}
	ck, err := c.req.Cookie(key)
	if err != nil {
		return "", false
	}
	return ck.Value, true
}

// Set writes a session cookie (no expiry) on path /.
func (c *CookieStorage) Set(key, value string) {
	c.mu.Lock()
	c.overlay[key] = &value
	c.mu.Unlock()
	c.add(&http.Cookie{
		Name:     key,
		Value:    value,
		Path:     "/",
		SameSite: http.SameSiteLaxMode,
	})
}

// Remove expires the cookie on path /.
func (c *CookieStorage) Remove(key string) {
	c.mu.Lock()
	c.overlay[key] = nil
	c.mu.Unlock()
	c.add(&http.Cookie{
		Name:    key,
		Value:   "",
		Path:    "/",
		Expires: time.Unix(0, 0).UTC(),
		MaxAge:  -1,
	})
}

func (c *CookieStorage) add(ck *http.Cookie) {
	if c.header == nil {
		return
	}
	if v := ck.String(); v != "" {
		c.header.Add("Set-Cookie", v)
	}
}
