// Package planner discovers the detail pages linked from a listing page.
package planner

import (
	"context"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/jobboard-crawler/internal/crawler"
)

// DefaultListingSelector matches role links on job-board listing pages.
const DefaultListingSelector = `a[href*="/jobs/"]`

// Loader loads a page and waits for required selectors.
type Loader interface {
	Load(ctx context.Context, url string, requiredSelectors []string, timeout time.Duration) (crawler.Document, error)
}

// Config bounds discovery.
type Config struct {
	ListingSelector string
	// LinkContains keeps only links whose URL contains the substring.
	LinkContains string
	// MaxTargets caps the number of targets; zero means no cap.
	MaxTargets int
	Timeout    time.Duration
}

// Planner turns a seed URL into an ordered list of detail targets.
type Planner struct {
	cfg    Config
	logger *zap.Logger
}

// New constructs a Planner.
func New(cfg Config, logger *zap.Logger) *Planner {
	if cfg.ListingSelector == "" {
		cfg.ListingSelector = DefaultListingSelector
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Planner{cfg: cfg, logger: logger.Named("planner")}
}

// Discover loads seedURL, waiting for the listing selector, and returns its
// listing links in first-seen order. A seed that cannot be loaded yields
// *crawler.DiscoveryError. Links removed by filtering may leave zero targets.
func (p *Planner) Discover(ctx context.Context, loader Loader, seedURL string) ([]crawler.DetailTarget, error) {
	doc, err := loader.Load(ctx, seedURL, []string{p.cfg.ListingSelector}, p.cfg.Timeout)
	if err != nil {
		return nil, &crawler.DiscoveryError{SeedURL: seedURL, Err: err}
	}

	base, err := url.Parse(doc.URL())
	if err != nil || base.Host == "" {
		base, err = url.Parse(seedURL)
		if err != nil {
			return nil, &crawler.DiscoveryError{SeedURL: seedURL, Err: err}
		}
	}

	seen := make(map[string]struct{})
	targets := make([]crawler.DetailTarget, 0)
	for _, el := range doc.QueryAll(p.cfg.ListingSelector) {
		href, ok := el.Attr("href")
		if !ok || href == "" {
			continue
		}
		link, ok := normalize(base, href)
		if !ok {
			continue
		}
		if p.cfg.LinkContains != "" && !strings.Contains(link, p.cfg.LinkContains) {
			continue
		}
		if _, dup := seen[link]; dup {
			continue
		}
		seen[link] = struct{}{}
		targets = append(targets, crawler.DetailTarget{URL: link, Index: len(targets)})
		if p.cfg.MaxTargets > 0 && len(targets) >= p.cfg.MaxTargets {
			break
		}
	}

	p.logger.Info("discovery finished",
		zap.String("seed_url", seedURL),
		zap.Int("targets", len(targets)),
	)
	return targets, nil
}

func normalize(base *url.URL, href string) (string, bool) {
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	abs := base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return "", false
	}
	abs.Fragment = ""
	abs.RawFragment = ""
	return abs.String(), true
}
