// Package fetcher loads pages through a browser session and waits for the
// elements a caller depends on.
package fetcher

import (
	"context"
	"time"

	"github.com/JakeFAU/jobboard-crawler/internal/crawler"
)

// DefaultNavigationTimeout bounds a single navigation when none is configured.
const DefaultNavigationTimeout = 30 * time.Second

// Config controls navigation limits.
type Config struct {
	NavigationTimeout time.Duration
}

// Fetcher drives one session. It is not safe for concurrent use: the
// session's navigation state belongs to whoever holds the Fetcher.
type Fetcher struct {
	session crawler.Session
	cfg     Config
}

// New wraps session.
func New(session crawler.Session, cfg Config) *Fetcher {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = DefaultNavigationTimeout
	}
	return &Fetcher{session: session, cfg: cfg}
}

// Load navigates to url and waits up to timeout for every required selector
// to match at least one element. Failures are returned as *crawler.FetchError.
func (f *Fetcher) Load(
	ctx context.Context,
	url string,
	requiredSelectors []string,
	timeout time.Duration,
) (crawler.Document, error) {
	navCtx, cancelNav := context.WithTimeout(ctx, f.cfg.NavigationTimeout)
	err := f.session.Navigate(navCtx, url)
	cancelNav()
	if err != nil {
		return nil, crawler.NewFetchError(url, "", err)
	}

	waitCtx := ctx
	if timeout > 0 {
		var cancelWait context.CancelFunc
		waitCtx, cancelWait = context.WithTimeout(ctx, timeout)
		defer cancelWait()
	}
	for _, selector := range requiredSelectors {
		if err := f.session.WaitForSelector(waitCtx, selector); err != nil {
			return nil, crawler.NewFetchError(url, selector, err)
		}
	}

	doc, err := f.session.Document(ctx)
	if err != nil {
		return nil, crawler.NewFetchError(url, "", err)
	}
	return doc, nil
}
