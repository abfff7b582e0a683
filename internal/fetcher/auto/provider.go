// Package auto serves pages statically and falls back to a browser only for
// pages that need client-side rendering.
package auto

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/jobboard-crawler/internal/crawler"
	"github.com/JakeFAU/jobboard-crawler/internal/metrics"
)

// Promotion reasons reported in logs and metrics.
const (
	ReasonShell           = "shell"
	ReasonSelectorMissing = "selector_missing"
)

// Detector inspects a static response and decides whether to re-render it.
type Detector interface {
	ShouldPromote(snap crawler.Snapshot) bool
}

// Provider pairs a static provider with a browser provider.
type Provider struct {
	static   crawler.SessionProvider
	browser  crawler.SessionProvider
	detector Detector
	logger   *zap.Logger
}

var _ crawler.SessionProvider = (*Provider)(nil)

// New builds a Provider. A nil detector promotes only on missing selectors.
func New(static, browser crawler.SessionProvider, detector Detector, logger *zap.Logger) (*Provider, error) {
	if static == nil || browser == nil {
		return nil, errors.New("auto provider requires static and browser providers")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	return &Provider{
		static:   static,
		browser:  browser,
		detector: detector,
		logger:   logger.Named("auto_fetcher"),
	}, nil
}

// NewSession opens a static session. Browser tabs are only opened on promotion.
func (p *Provider) NewSession(ctx context.Context) (crawler.Session, error) {
	static, err := p.static.NewSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("new auto session: %w", err)
	}
	return &session{provider: p, static: static, active: static}, nil
}

type session struct {
	provider *Provider
	static   crawler.Session
	browser  crawler.Session
	active   crawler.Session
	url      string
}

func (s *session) Navigate(ctx context.Context, url string) error {
	s.url = url
	s.active = s.static
	if err := s.static.Navigate(ctx, url); err != nil {
		return err
	}
	if s.provider.detector == nil {
		return nil
	}
	src, ok := s.static.(crawler.SnapshotSource)
	if !ok {
		return nil
	}
	if snap, ok := src.Snapshot(); ok && s.provider.detector.ShouldPromote(snap) {
		return s.promote(ctx, ReasonShell)
	}
	return nil
}

// WaitForSelector retries a selector that is missing from the static body
// against the rendered page.
func (s *session) WaitForSelector(ctx context.Context, selector string) error {
	err := s.active.WaitForSelector(ctx, selector)
	if err == nil || s.active != s.static || !errors.Is(err, crawler.ErrElementMissing) {
		return err
	}
	if err := s.promote(ctx, ReasonSelectorMissing); err != nil {
		return err
	}
	return s.active.WaitForSelector(ctx, selector)
}

func (s *session) Document(ctx context.Context) (crawler.Document, error) {
	return s.active.Document(ctx)
}

func (s *session) Close() error {
	var errs []error
	if err := s.static.Close(); err != nil {
		errs = append(errs, err)
	}
	if s.browser != nil {
		if err := s.browser.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *session) promote(ctx context.Context, reason string) error {
	if s.url == "" {
		return errors.New("promote: no page loaded")
	}
	if s.browser == nil {
		browser, err := s.provider.browser.NewSession(ctx)
		if err != nil {
			return fmt.Errorf("promote %s: %w", s.url, err)
		}
		s.browser = browser
	}
	s.provider.logger.Debug("rendering page in browser",
		zap.String("url", s.url),
		zap.String("reason", reason),
	)
	metrics.ObservePromotion(s.url, reason)
	if err := s.browser.Navigate(ctx, s.url); err != nil {
		return err
	}
	s.active = s.browser
	return nil
}
