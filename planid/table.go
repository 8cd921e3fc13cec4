package planid

import (
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/microcosm-cc/bluemonday"
	"gopkg.in/yaml.v3"
)

var (
	// ErrMappingMiss means an old identifier has no entry in the table.
	ErrMappingMiss = errors.New("planid: no mapping for identifier")
	// ErrFormatInvalid means a mapped identifier has neither prefix.
	ErrFormatInvalid = errors.New("planid: unknown identifier format")
)

// Entry correlates a v1 membership with its v2 plan or price.
type Entry struct {
	DisplayName string `json:"name" yaml:"name" koanf:"name"`
	OldID       string `json:"oldId" yaml:"oldId" koanf:"oldId"`
	NewID       string `json:"newId" yaml:"newId" koanf:"newId"`
}

// Table is an immutable, ordered mapping table. Lookups by old id are
// first-match.
type Table struct {
	entries []Entry
	byOld   map[string]int
	byNew   map[string]int
}

var plainText = bluemonday.StrictPolicy()

// NewTable builds a table from entries. Display names are reduced to plain
// text since rules write them as element text; the sanitizer escapes
// entities, which are decoded again here.
func NewTable(entries []Entry) *Table {
	t := &Table{
		entries: make([]Entry, 0, len(entries)),
		byOld:   make(map[string]int, len(entries)),
		byNew:   make(map[string]int, len(entries)),
	}
	for _, e := range entries {
		e.OldID = strings.TrimSpace(e.OldID)
		e.NewID = strings.TrimSpace(e.NewID)
		e.DisplayName = strings.TrimSpace(html.UnescapeString(plainText.Sanitize(e.DisplayName)))
		idx := len(t.entries)
		t.entries = append(t.entries, e)
		if _, dup := t.byOld[e.OldID]; !dup && e.OldID != "" {
			t.byOld[e.OldID] = idx
		}
		if _, dup := t.byNew[e.NewID]; !dup && e.NewID != "" {
			t.byNew[e.NewID] = idx
		}
	}
	return t
}

// Len returns the number of entries.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.entries)
}

// Entries returns a copy of the entries in table order.
func (t *Table) Entries() []Entry {
	if t == nil {
		return nil
	}
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Lookup returns the first entry whose OldID equals oldID.
func (t *Table) Lookup(oldID string) (Entry, bool) {
	if t == nil {
		return Entry{}, false
	}
	idx, ok := t.byOld[oldID]
	if !ok {
		return Entry{}, false
	}
	return t.entries[idx], true
}

// DisplayName returns the display name of the entry whose NewID is planID.
func (t *Table) DisplayName(planID string) (string, bool) {
	if t == nil {
		return "", false
	}
	idx, ok := t.byNew[planID]
	if !ok {
		return "", false
	}
	return t.entries[idx].DisplayName, true
}

// Resolve maps oldID to its new identifier and the attribute that carries
// it. Errors wrap ErrMappingMiss or ErrFormatInvalid.
func (t *Table) Resolve(oldID string) (newID, attr string, err error) {
	e, ok := t.Lookup(oldID)
	if !ok || e.NewID == "" {
		return "", "", fmt.Errorf("%w: %q", ErrMappingMiss, oldID)
	}
	attr, ok = Classify(e.NewID)
	if !ok {
		return "", "", fmt.Errorf("%w: %q (old id %q)", ErrFormatInvalid, e.NewID, oldID)
	}
	return e.NewID, attr, nil
}

// LoadFile reads a mapping table from a JSON or YAML file. The file holds
// a plain list of {name, oldId, newId} records.
func LoadFile(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("planid: read %s: %w", path, err)
	}
	var entries []Entry
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &entries)
	default:
		err = yaml.Unmarshal(data, &entries)
	}
	if err != nil {
		return nil, fmt.Errorf("planid: decode %s: %w", path, err)
	}
	return NewTable(entries), nil
}

// Holder publishes the current table. Readers take one table per page and
// keep it for the whole page; reloads swap the pointer.
type Holder struct {
	cur atomic.Pointer[Table]
}

// NewHolder returns a holder publishing t.
func NewHolder(t *Table) *Holder {
	h := &Holder{}
	h.Store(t)
	return h
}

// Load returns the current table, never nil.
func (h *Holder) Load() *Table {
	if t := h.cur.Load(); t != nil {
		return t
	}
	return NewTable(nil)
}

// Store publishes t.
func (h *Holder) Store(t *Table) {
	if t == nil {
		t = NewTable(nil)
	}
	h.cur.Store(t)
}
