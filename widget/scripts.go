package widget

import (
	"golang.org/x/net/html"

	"github.com/hazyhaar/msadapter/dom"
	"github.com/hazyhaar/msadapter/version"
)

// Default widget builds.
const (
	DefaultV1ScriptURL = "https://static.memberstack.com/scripts/v1/memberstack.js"
	DefaultV2ScriptURL = "https://static.memberstack.com/scripts/v2/memberstack.js"
)

// Scripts describes the two widget builds a page may load.
type Scripts struct {
	V1URL     string
	V2URL     string
	AppIDV1   string
	AppID     string
	PublicKey string
}

// Tag returns the <script> element loading the widget build for mode.
func (s Scripts) Tag(mode version.Mode) *html.Node {
	if mode == version.V2 {
		src := s.V2URL
		if src == "" {
			src = DefaultV2ScriptURL
		}
		attrs := []html.Attribute{{Key: "data-memberstack-app", Val: s.AppID}}
		if s.PublicKey != "" {
			attrs = append(attrs, html.Attribute{Key: "data-memberstack-public-key", Val: s.PublicKey})
		}
		return dom.Script(src, "", attrs...)
	}
	src := s.V1URL
	if src == "" {
		src = DefaultV1ScriptURL
	}
	return dom.Script(src, "", html.Attribute{Key: "data-memberstack-id", Val: s.AppIDV1})
}

// Inject appends the widget build for mode to <head>.
func (s Scripts) Inject(doc *dom.Document, mode version.Mode) {
	doc.AppendToHead(s.Tag(mode))
}
