package dom

import (
	"strings"

	"golang.org/x/net/html"
)

// QueryAll returns the elements matching selector, in document order and
// without duplicates. Supported grammar, enough for legacy markup:
//   - tag:            "a"
//   - presence:       "[data-ms-plan]"
//   - exact value:    `[href="#/ms/login"]`
//   - prefix:         `[data-ms-member^="membership."]`
//   - substring:      `[href*="#/ms/content/"]`
//   - compound:       `a[href="#"][data-ms-modal]`
//   - lists:          `[data-ms-modal="login"], [ms-modal="login"]`
//
// Attribute names may contain ':' (data-ms-plan:add) without escaping.
// The whole result is selected before any caller mutates the tree.
func (d *Document) QueryAll(selector string) []*html.Node {
	var alts []compound
	for _, part := range splitList(selector) {
		if c, ok := parseCompound(part); ok {
			alts = append(alts, c)
		}
	}
	if len(alts) == 0 {
		return nil
	}

	var out []*html.Node
	walk(d.Root, func(n *html.Node) bool {
		if n.Type != html.ElementNode {
			return true
		}
		for _, c := range alts {
			if c.matches(n) {
				out = append(out, n)
				break
			}
		}
		return true
	})
	return out
}

type attrOp byte

const (
	opExists attrOp = 0
	opEquals attrOp = '='
	opPrefix attrOp = '^'
	opSubstr attrOp = '*'
)

type attrCond struct {
	key string
	op  attrOp
	val string
}

type compound struct {
	tag   string
	attrs []attrCond
}

func (c compound) matches(n *html.Node) bool {
	if c.tag != "" && n.Data != c.tag {
		return false
	}
	for _, cond := range c.attrs {
		v, ok := Attr(n, cond.key)
		if !ok {
			return false
		}
		switch cond.op {
		case opEquals:
			if v != cond.val {
				return false
			}
		case opPrefix:
			if !strings.HasPrefix(v, cond.val) {
				return false
			}
		case opSubstr:
			if !strings.Contains(v, cond.val) {
				return false
			}
		}
	}
	return true
}

// splitList splits a selector list on commas outside quotes and brackets.
func splitList(sel string) []string {
	var parts []string
	var quote byte
	depth := 0
	start := 0
	for i := 0; i < len(sel); i++ {
		ch := sel[i]
		switch {
		case quote != 0:
			if ch == quote {
				quote = 0
			}
		case ch == '"' || ch == '\'':
			quote = ch
		case ch == '[':
			depth++
		case ch == ']':
			depth--
		case ch == ',' && depth == 0:
			parts = append(parts, sel[start:i])
			start = i + 1
		}
	}
	parts = append(parts, sel[start:])
	return parts
}

// parseCompound parses `tag[attr op "val"]...`.
func parseCompound(s string) (compound, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return compound{}, false
	}
	var c compound
	i := strings.IndexByte(s, '[')
	if i < 0 {
		c.tag = strings.ToLower(s)
		return c, true
	}
	c.tag = strings.ToLower(strings.TrimSpace(s[:i]))
	rest := s[i:]
	for rest != "" {
		if rest[0] != '[' {
			return compound{}, false
		}
		end := closingBracket(rest)
		if end < 0 {
			return compound{}, false
		}
		cond, ok := parseAttrCond(rest[1:end])
		if !ok {
			return compound{}, false
		}
		c.attrs = append(c.attrs, cond)
		rest = strings.TrimSpace(rest[end+1:])
	}
	return c, true
}

func closingBracket(s string) int {
	var quote byte
	for i := 1; i < len(s); i++ {
		ch := s[i]
		switch {
		case quote != 0:
			if ch == quote {
				quote = 0
			}
		case ch == '"' || ch == '\'':
			quote = ch
		case ch == ']':
			return i
		}
	}
	return -1
}

func parseAttrCond(body string) (attrCond, bool) {
	eq := strings.IndexByte(body, '=')
	if eq < 0 {
		key := strings.ToLower(strings.TrimSpace(body))
		return attrCond{key: key, op: opExists}, key != ""
	}
	key := body[:eq]
	op := opEquals
	if eq > 0 {
		switch body[eq-1] {
		case '^':
			op, key = opPrefix, body[:eq-1]
		case '*':
			op, key = opSubstr, body[:eq-1]
		}
	}
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" {
		return attrCond{}, false
	}
	val := strings.TrimSpace(body[eq+1:])
	if len(val) >= 2 && (val[0] == '"' || val[0] == '\'') && val[len(val)-1] == val[0] {
		val = val[1 : len(val)-1]
	}
	return attrCond{key: key, op: op, val: val}, true
}
