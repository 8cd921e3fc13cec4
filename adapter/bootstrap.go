package adapter

import (
	"encoding/json"
	"strings"

	"github.com/hazyhaar/msadapter/version"
)

// bootstrapScript is the inline script placed first in <head>. It mirrors
// the selected mode into sessionStorage, drops the adapter parameter from
// the address bar, and replays storage removals done server-side.
func bootstrapScript(sel version.Selection, removed []string) string {
	var b strings.Builder
	b.WriteString("(function(){try{")
	b.WriteString("sessionStorage.setItem(")
	b.WriteString(jsString(version.SessionKey))
	b.WriteString(",")
	b.WriteString(jsString(string(sel.Mode)))
	b.WriteString(");")
	if sel.URLRewritten {
		b.WriteString("history.replaceState(history.state,\"\",")
		b.WriteString(jsString(sel.CleanURL))
		b.WriteString(");")
	}
	for _, k := range removed {
		b.WriteString("localStorage.removeItem(")
		b.WriteString(jsString(k))
		b.WriteString(");")
	}
	b.WriteString("}catch(e){}})();")
	return b.String()
}

// jsString quotes s as a JavaScript string literal safe inside <script>.
func jsString(s string) string {
	q, _ := json.Marshal(s)
	return string(q)
}
