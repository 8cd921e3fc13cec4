package fetch

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
)

// shellMarkers are empty mount points of client-rendered apps.
var shellMarkers = []string{
	`<div id="root"></div>`,
	`<div id="app"></div>`,
	`<div id="__next"></div>`,
	`<noscript>you need to enable javascript`,
	`<noscript>enable javascript`,
}

// IsSufficient reports whether static HTML carries enough rendered content
// to be scanned as is. Pages that look like a JavaScript shell (little
// visible text, or an empty app mount point) need the browser.
func IsSufficient(page []byte) bool {
	if len(page) < 256 {
		return false
	}
	lower := bytes.ToLower(page)
	for _, m := range shellMarkers {
		if bytes.Contains(lower, []byte(m)) {
			return false
		}
	}
	text := visibleText(page)
	if text < 200 {
		return false
	}
	return float64(text)/float64(len(page)) >= 0.10
}

// visibleText counts non-space bytes of text outside script and style.
func visibleText(page []byte) int {
	z := html.NewTokenizer(bytes.NewReader(page))
	skip := 0
	n := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			return n
		case html.StartTagToken:
			name, _ := z.TagName()
			if isRawText(name) {
				skip++
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			if isRawText(name) && skip > 0 {
				skip--
			}
		case html.TextToken:
			if skip == 0 {
				n += len(strings.Join(strings.Fields(string(z.Text())), ""))
			}
		}
	}
}

func isRawText(tag []byte) bool {
	s := string(tag)
	return s == "script" || s == "style" || s == "template"
}
