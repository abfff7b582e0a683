// Package detector decides when a statically fetched page is only a
// JavaScript shell and must be rendered in a browser instead.
package detector

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/jobboard-crawler/internal/crawler"
)

const (
	defaultMinTextLength  = 2048
	scriptCoveragePercent = 25
)

// Heuristic flags pages whose markup suggests client-side rendering.
type Heuristic struct {
	// MinTextLength is the visible text size below which script-heavy pages
	// are promoted.
	MinTextLength int
}

// NewHeuristic creates a detector. Zero selects the default threshold.
func NewHeuristic(minTextLength int) *Heuristic {
	if minTextLength <= 0 {
		minTextLength = defaultMinTextLength
	}
	return &Heuristic{MinTextLength: minTextLength}
}

var shellMarkers = [][]byte{
	[]byte(`id="__next"`),
	[]byte(`id="__nuxt"`),
	[]byte(`id="root"></div>`),
	[]byte(`id="app"></div>`),
	[]byte("data-reactroot"),
	[]byte("ng-version="),
	[]byte("enable javascript"),
}

// ShouldPromote reports whether snap needs a browser render. Non-200
// responses are left to the static path so their status is preserved.
func (h *Heuristic) ShouldPromote(snap crawler.Snapshot) bool {
	if snap.StatusCode != http.StatusOK {
		return false
	}
	body := bytes.TrimSpace(snap.Body)
	if len(body) == 0 {
		return true
	}
	lower := bytes.ToLower(body)
	for _, marker := range shellMarkers {
		if bytes.Contains(lower, marker) {
			return true
		}
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return false
	}
	scripts := 0
	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		if html, err := goquery.OuterHtml(s); err == nil {
			scripts += len(html)
		}
	})
	if scripts == 0 {
		return false
	}
	doc.Find("script, style, noscript").Remove()
	text := strings.Join(strings.Fields(doc.Find("body").Text()), " ")
	if len(text) >= h.MinTextLength {
		return false
	}
	return scripts*100/len(body) >= scriptCoveragePercent
}
