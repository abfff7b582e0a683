// Package dom adapts goquery selections to the crawler.Document interface.
package dom

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/jobboard-crawler/internal/crawler"
)

// Document is an immutable snapshot of a rendered page.
type Document struct {
	url string
	doc *goquery.Document
}

var _ crawler.Document = (*Document)(nil)

// Parse builds a Document from raw HTML.
func Parse(pageURL string, r io.Reader) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse html %s: %w", pageURL, err)
	}
	return &Document{url: pageURL, doc: doc}, nil
}

// ParseBytes is Parse over an in-memory body.
func ParseBytes(pageURL string, body []byte) (*Document, error) {
	return Parse(pageURL, bytes.NewReader(body))
}

// ParseString is Parse over an HTML string.
func ParseString(pageURL, html string) (*Document, error) {
	return Parse(pageURL, strings.NewReader(html))
}

// URL returns the address the snapshot was taken from.
func (d *Document) URL() string { return d.url }

// Has reports whether selector matches at least one element.
func (d *Document) Has(selector string) bool {
	return d.doc.Find(selector).Length() > 0
}

// QueryFirst returns the first element matching selector.
func (d *Document) QueryFirst(selector string) (crawler.Element, bool) {
	sel := d.doc.Find(selector).First()
	if sel.Length() == 0 {
		return nil, false
	}
	return element{sel: sel}, true
}

// QueryAll returns every element matching selector in document order.
func (d *Document) QueryAll(selector string) []crawler.Element {
	sel := d.doc.Find(selector)
	out := make([]crawler.Element, 0, sel.Length())
	sel.Each(func(_ int, s *goquery.Selection) {
		out = append(out, element{sel: s})
	})
	return out
}

type element struct {
	sel *goquery.Selection
}

// Text returns the element text with runs of whitespace collapsed.
func (e element) Text() string {
	return strings.Join(strings.Fields(e.sel.Text()), " ")
}

func (e element) Attr(name string) (string, bool) {
	v, ok := e.sel.Attr(name)
	return strings.TrimSpace(v), ok
}
