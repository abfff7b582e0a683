// Package extractor turns a loaded detail page into a structured record.
package extractor

import (
	"net/url"
	"time"

	"github.com/JakeFAU/jobboard-crawler/internal/crawler"
)

// Field names understood by ToRecord.
const (
	FieldContactName  = "contact_name"
	FieldContactTitle = "contact_title"
	FieldProfileURL   = "profile_url"
)

// FieldRule locates one field. An empty Attr reads the element text.
type FieldRule struct {
	Name     string `mapstructure:"name"`
	Selector string `mapstructure:"selector"`
	Attr     string `mapstructure:"attr"`
	Required bool   `mapstructure:"required"`
}

// DefaultRules match the founder block found on job-board role pages.
func DefaultRules() []FieldRule {
	return []FieldRule{
		{Name: FieldContactName, Selector: `.founder-name, [class*="founder"] h3`, Required: true},
		{Name: FieldContactTitle, Selector: `.founder-title, [class*="founder"] .title`},
		{Name: FieldProfileURL, Selector: `a[href*="linkedin.com"]`, Attr: "href"},
	}
}

// PartialRecord holds whatever fields could be located. Absent fields are
// empty strings.
type PartialRecord struct {
	Fields   map[string]string
	Warnings []crawler.ExtractionWarning
}

// Extract applies rules to doc. Missing selectors are recorded as warnings;
// extraction never fails.
func Extract(doc crawler.Document, rules []FieldRule) PartialRecord {
	out := PartialRecord{Fields: make(map[string]string, len(rules))}
	for _, rule := range rules {
		value, ok := readField(doc, rule)
		if !ok {
			out.Fields[rule.Name] = ""
			out.Warnings = append(out.Warnings, crawler.ExtractionWarning{
				Field:    rule.Name,
				Selector: rule.Selector,
				Required: rule.Required,
			})
			continue
		}
		out.Fields[rule.Name] = value
	}
	return out
}

func readField(doc crawler.Document, rule FieldRule) (string, bool) {
	el, ok := doc.QueryFirst(rule.Selector)
	if !ok {
		return "", false
	}
	if rule.Attr == "" {
		text := el.Text()
		return text, text != ""
	}
	value, ok := el.Attr(rule.Attr)
	if !ok || value == "" {
		return "", false
	}
	if rule.Attr == "href" || rule.Attr == "src" {
		value = resolve(doc.URL(), value)
	}
	return value, true
}

func resolve(base, ref string) string {
	baseURL, err := url.Parse(base)
	if err != nil {
		return ref
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return baseURL.ResolveReference(refURL).String()
}

// ToRecord maps a partial record onto the record for target.
func ToRecord(target crawler.DetailTarget, partial PartialRecord, now time.Time) crawler.ExtractedRecord {
	return crawler.ExtractedRecord{
		Index:        target.Index,
		RoleURL:      target.URL,
		ContactName:  partial.Fields[FieldContactName],
		ContactTitle: partial.Fields[FieldContactTitle],
		ProfileURL:   partial.Fields[FieldProfileURL],
		Warnings:     partial.Warnings,
		ExtractedAt:  now,
	}
}
