// Package headless provides browser sessions backed by chromedp and headless Chrome.
package headless

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/jobboard-crawler/internal/crawler"
	"github.com/JakeFAU/jobboard-crawler/internal/dom"
)

const (
	defaultNavigationTimeout = 45 * time.Second
	defaultWindowWidth       = 1920
	defaultWindowHeight      = 1080
)

// Config controls the browser process and tab limits.
type Config struct {
	MaxTabs           int
	UserAgent         string
	NavigationTimeout time.Duration
	ExecPath          string
	WindowWidth       int
	WindowHeight      int
	NoSandbox         bool
}

// Provider owns one Chrome process and hands out tabs as sessions.
type Provider struct {
	cfg           Config
	limiter       chan struct{}
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	logger        *zap.Logger
}

var _ crawler.SessionProvider = (*Provider)(nil)

// New launches headless Chrome and returns a Provider.
func New(cfg Config, logger *zap.Logger) (*Provider, error) {
	if cfg.MaxTabs < 0 {
		return nil, fmt.Errorf("max tabs must be >= 0")
	}
	cfg = withDefaults(cfg)
	if logger == nil {
		logger = zap.NewNop()
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocatorOptions(cfg)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}

	var limiter chan struct{}
	if cfg.MaxTabs > 0 {
		limiter = make(chan struct{}, cfg.MaxTabs)
	}
	return &Provider{
		cfg:           cfg,
		limiter:       limiter,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		logger:        logger.Named("headless"),
	}, nil
}

func withDefaults(cfg Config) Config {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavigationTimeout
	}
	if cfg.WindowWidth <= 0 {
		cfg.WindowWidth = defaultWindowWidth
	}
	if cfg.WindowHeight <= 0 {
		cfg.WindowHeight = defaultWindowHeight
	}
	return cfg
}

func allocatorOptions(cfg Config) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.WindowSize(cfg.WindowWidth, cfg.WindowHeight),
	)
	if cfg.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	return opts
}

// Close shuts down the browser.
func (p *Provider) Close() {
	p.browserCancel()
	p.allocCancel()
}

var _ crawler.TrySessionProvider = (*Provider)(nil)

// NewSession opens a new tab, waiting for a free slot. The caller must Close it.
func (p *Provider) NewSession(ctx context.Context) (crawler.Session, error) {
	if err := p.acquire(ctx); err != nil {
		return nil, err
	}
	return p.openTab()
}

// TryNewSession opens a tab only if a slot is free right now.
func (p *Provider) TryNewSession(ctx context.Context) (crawler.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !p.tryAcquire() {
		return nil, crawler.ErrNoFreeSession
	}
	return p.openTab()
}

func (p *Provider) openTab() (crawler.Session, error) {
	tabCtx, tabCancel := chromedp.NewContext(p.browserCtx)
	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		p.release()
		return nil, fmt.Errorf("open tab: %w", err)
	}
	p.logger.Debug("tab opened")
	return &session{
		tabCtx:     tabCtx,
		tabCancel:  tabCancel,
		release:    p.release,
		navTimeout: p.cfg.NavigationTimeout,
		userAgent:  p.cfg.UserAgent,
	}, nil
}

func (p *Provider) acquire(ctx context.Context) error {
	if p.limiter == nil {
		return nil
	}
	select {
	case p.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("tab slot wait canceled: %w", ctx.Err())
	}
}

func (p *Provider) tryAcquire() bool {
	if p.limiter == nil {
		return true
	}
	select {
	case p.limiter <- struct{}{}:
		return true
	default:
		return false
	}
}

func (p *Provider) release() {
	if p.limiter == nil {
		return
	}
	select {
	case <-p.limiter:
	default:
	}
}

type session struct {
	tabCtx     context.Context
	tabCancel  context.CancelFunc
	release    func()
	navTimeout time.Duration
	userAgent  string
	prepared   bool
	closed     bool
}

func (s *session) Navigate(ctx context.Context, url string) error {
	actions := make([]chromedp.Action, 0, 2)
	if !s.prepared {
		actions = append(actions, s.prepare())
	}
	actions = append(actions, chromedp.Navigate(url))
	if err := s.run(ctx, s.navTimeout, actions...); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	s.prepared = true
	return nil
}

func (s *session) WaitForSelector(ctx context.Context, selector string) error {
	if err := s.run(ctx, 0, chromedp.WaitReady(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("wait for %q: %w", selector, err)
	}
	return nil
}

func (s *session) Document(ctx context.Context) (crawler.Document, error) {
	var (
		html     string
		location string
	)
	err := s.run(ctx, s.navTimeout,
		chromedp.Location(&location),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return nil, fmt.Errorf("snapshot document: %w", err)
	}
	doc, err := dom.ParseString(location, html)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.tabCancel()
	s.release()
	return nil
}

func (s *session) prepare() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if s.userAgent != "" {
			if err := emulation.SetUserAgentOverride(s.userAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

// run executes actions in the tab bounded by the caller's deadline and an
// optional limit. The tab itself outlives the call.
func (s *session) run(ctx context.Context, limit time.Duration, actions ...chromedp.Action) error {
	if s.closed {
		return errors.New("session closed")
	}
	deadline, hasDeadline := ctx.Deadline()
	if limit > 0 {
		if limitDeadline := time.Now().Add(limit); !hasDeadline || limitDeadline.Before(deadline) {
			deadline, hasDeadline = limitDeadline, true
		}
	}

	var (
		taskCtx context.Context
		cancel  context.CancelFunc
	)
	if hasDeadline {
		taskCtx, cancel = context.WithDeadline(s.tabCtx, deadline)
	} else {
		taskCtx, cancel = context.WithCancel(s.tabCtx)
	}
	defer cancel()

	stopForward := forwardCancel(ctx, cancel)
	defer stopForward()

	err := chromedp.Run(taskCtx, actions...)
	if err == nil {
		return nil
	}
	if errors.Is(taskCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", strings.TrimSpace(err.Error()), context.DeadlineExceeded)
	}
	return err
}

// forwardCancel propagates explicit cancellation of parent. Deadlines are
// already carried by the task context.
func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			if errors.Is(parent.Err(), context.Canceled) {
				cancel()
			}
		case <-done:
		}
	}()
	return func() { close(done) }
}
