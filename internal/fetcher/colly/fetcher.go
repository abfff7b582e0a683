// Package collyfetcher provides static (no JavaScript) sessions built on gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/jobboard-crawler/internal/crawler"
	"github.com/JakeFAU/jobboard-crawler/internal/dom"
)

const defaultTimeout = 15 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	Headers       http.Header
}

// Provider hands out sessions that share one HTTP transport.
type Provider struct {
	cfg           Config
	baseCollector *colly.Collector
}

var _ crawler.SessionProvider = (*Provider)(nil)

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Provider.
func New(cfg Config) *Provider {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	c := colly.NewCollector(colly.Async(false))
	c.WithTransport(newHTTPTransport())
	c.AllowURLRevisit = true
	c.SetRequestTimeout(cfg.Timeout)
	c.IgnoreRobotsTxt = !cfg.RespectRobots
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	return &Provider{cfg: cfg, baseCollector: c}
}

// NewSession returns a session. Static sessions hold no remote resources.
func (p *Provider) NewSession(ctx context.Context) (crawler.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("new static session: %w", err)
	}
	return &session{provider: p}, nil
}

// page is the outcome of one visit.
type page struct {
	url    string
	status int
	body   []byte
	err    error
}

type session struct {
	provider *Provider
	current  *page
	doc      *dom.Document
}

func (s *session) Navigate(ctx context.Context, url string) error {
	s.current, s.doc = nil, nil

	timeout := s.provider.cfg.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if timeout <= 0 {
		return fmt.Errorf("navigate %s: %w", url, context.DeadlineExceeded)
	}

	visitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result := &page{url: url}
	collector := s.provider.baseCollector.Clone()
	collector.Context = visitCtx
	s.provider.configureCollectorHooks(collector, result)

	if err := runCollector(visitCtx, collector, url, result); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	s.current = result
	return nil
}

// WaitForSelector checks the fetched body once; static pages never change
// after load so absence is final.
func (s *session) WaitForSelector(ctx context.Context, selector string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("wait for %q: %w", selector, err)
	}
	doc, err := s.document()
	if err != nil {
		return err
	}
	if !doc.Has(selector) {
		return fmt.Errorf("wait for %q: %w", selector, crawler.ErrElementMissing)
	}
	return nil
}

func (s *session) Document(context.Context) (crawler.Document, error) {
	doc, err := s.document()
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// Snapshot returns the raw response of the last successful navigation.
func (s *session) Snapshot() (crawler.Snapshot, bool) {
	if s.current == nil {
		return crawler.Snapshot{}, false
	}
	return crawler.Snapshot{
		URL:        s.current.url,
		StatusCode: s.current.status,
		Body:       append([]byte(nil), s.current.body...),
	}, true
}

func (s *session) Close() error {
	s.current, s.doc = nil, nil
	return nil
}

func (s *session) document() (*dom.Document, error) {
	if s.doc != nil {
		return s.doc, nil
	}
	if s.current == nil {
		return nil, errors.New("no page loaded")
	}
	doc, err := dom.ParseBytes(s.current.url, s.current.body)
	if err != nil {
		return nil, err
	}
	s.doc = doc
	return doc, nil
}

func (p *Provider) configureCollectorHooks(hooks collectorHooks, result *page) {
	hooks.OnRequest(func(r *colly.Request) {
		for key, values := range p.cfg.Headers {
			for _, v := range values {
				r.Headers.Add(key, v)
			}
		}
	})

	hooks.OnResponse(func(r *colly.Response) {
		result.url = r.Request.URL.String()
		result.status = r.StatusCode
		result.body = append([]byte(nil), r.Body...)
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		result.err = err
	})
}

func runCollector(ctx context.Context, collector *colly.Collector, url string, result *page) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err == nil {
			err = result.err
		}
		if err == nil {
			return nil
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() && !errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("colly visit timed out: %v: %w", err, context.DeadlineExceeded)
		}
		return fmt.Errorf("colly visit failed: %w", err)
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
