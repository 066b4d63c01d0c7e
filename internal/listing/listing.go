// Package listing renders the HTML page served for directory requests.
package listing

import (
	"log"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/net/html"
)

const backgroundStyle = "<style>" +
	"body::before { content: ''; position: fixed; top: 0; left: 0; width: 100%; height: 100%; " +
	"background-image: url('https://upload.wikimedia.org/wikipedia/commons/9/98/Logo_udinus1.jpg'); " +
	"background-size: 30%; background-repeat: no-repeat; background-position: center; opacity: 0.5; z-index: -1; }" +
	"</style>"

// Render builds the listing page for entries. The Back button is emitted
// only when hasParent is true. Entry names are escaped before embedding.
func Render(entries []string, hasParent bool) string {
	var b strings.Builder

	b.WriteString("<html><head>")
	b.WriteString(backgroundStyle)
	b.WriteString("</head><body><h1>Directory Listing</h1>")

	if hasParent {
		b.WriteString(`<button onclick="goBack()">Back</button><br>`)
	}

	b.WriteString("<ul>")
	for _, name := range entries {
		escaped := html.EscapeString(name)
		b.WriteString(`<li><a href="`)
		b.WriteString(escaped)
		b.WriteString(`">`)
		b.WriteString(escaped)
		b.WriteString("</a></li>")
	}
	b.WriteString("</ul>")

	b.WriteString("<script>function goBack() { window.history.back(); }</script>")
	b.WriteString("</body></html>")
	return b.String()
}

// Filter returns names that match none of the glob patterns.
// Invalid patterns are logged and ignored.
func Filter(names []string, patterns []string) []string {
	if len(patterns) == 0 {
		return names
	}

	kept := make([]string, 0, len(names))
	for _, name := range names {
		if !hidden(name, patterns) {
			kept = append(kept, name)
		}
	}
	return kept
}

func hidden(name string, patterns []string) bool {
	for _, p := range patterns {
		ok, err := doublestar.Match(p, name)
		if err != nil {
			log.Printf("listing: bad exclude pattern %q: %v", p, err)
			continue
		}
		if ok {
			return true
		}
	}
	return false
}
