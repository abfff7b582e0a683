package auto

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/jobboard-crawler/internal/crawler"
)

type fakeDocument struct{ url string }

func (d fakeDocument) URL() string                             { return d.url }
func (fakeDocument) QueryFirst(string) (crawler.Element, bool) { return nil, false }
func (fakeDocument) QueryAll(string) []crawler.Element         { return nil }

type fakeSession struct {
	name      string
	body      string
	selectors map[string]bool
	navErr    error
	navigated []string
	closed    bool
	closeErr  error
}

func (s *fakeSession) Navigate(_ context.Context, url string) error {
	s.navigated = append(s.navigated, url)
	return s.navErr
}

func (s *fakeSession) WaitForSelector(_ context.Context, selector string) error {
	if s.selectors[selector] {
		return nil
	}
	return crawler.ErrElementMissing
}

func (s *fakeSession) Document(context.Context) (crawler.Document, error) {
	return fakeDocument{url: s.name}, nil
}

func (s *fakeSession) Snapshot() (crawler.Snapshot, bool) {
	if len(s.navigated) == 0 {
		return crawler.Snapshot{}, false
	}
	return crawler.Snapshot{URL: s.navigated[len(s.navigated)-1], StatusCode: 200, Body: []byte(s.body)}, true
}

func (s *fakeSession) Close() error {
	s.closed = true
	return s.closeErr
}

type fakeProvider struct {
	session *fakeSession
	err     error
	opened  int
}

func (p *fakeProvider) NewSession(context.Context) (crawler.Session, error) {
	if p.err != nil {
		return nil, p.err
	}
	p.opened++
	return p.session, nil
}

type bodyDetector string

func (d bodyDetector) ShouldPromote(snap crawler.Snapshot) bool {
	return string(snap.Body) == string(d)
}

func newProviders(staticBody string, staticSelectors, browserSelectors map[string]bool) (*fakeProvider, *fakeProvider) {
	static := &fakeProvider{session: &fakeSession{name: "static", body: staticBody, selectors: staticSelectors}}
	browser := &fakeProvider{session: &fakeSession{name: "browser", selectors: browserSelectors}}
	return static, browser
}

func TestNewRequiresProviders(t *testing.T) {
	t.Parallel()

	_, err := New(nil, &fakeProvider{}, nil, nil)
	require.Error(t, err)
	_, err = New(&fakeProvider{}, nil, nil, nil)
	require.Error(t, err)
}

func TestStaticPageStaysStatic(t *testing.T) {
	t.Parallel()

	static, browser := newProviders("<p>ok</p>", map[string]bool{".founder": true}, nil)
	p, err := New(static, browser, bodyDetector("shell"), nil)
	require.NoError(t, err)

	ctx := context.Background()
	s, err := p.NewSession(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Navigate(ctx, "https://jobs.example.com/r/1"))
	require.NoError(t, s.WaitForSelector(ctx, ".founder"))

	doc, err := s.Document(ctx)
	require.NoError(t, err)
	require.Equal(t, "static", doc.URL())
	require.Zero(t, browser.opened)

	require.NoError(t, s.Close())
	require.True(t, static.session.closed)
	require.False(t, browser.session.closed)
}

func TestShellPageIsPromotedOnNavigate(t *testing.T) {
	t.Parallel()

	static, browser := newProviders("shell", nil, map[string]bool{".founder": true})
	p, err := New(static, browser, bodyDetector("shell"), nil)
	require.NoError(t, err)

	ctx := context.Background()
	s, err := p.NewSession(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Navigate(ctx, "https://jobs.example.com/r/2"))
	require.Equal(t, []string{"https://jobs.example.com/r/2"}, browser.session.navigated)
	require.NoError(t, s.WaitForSelector(ctx, ".founder"))

	doc, err := s.Document(ctx)
	require.NoError(t, err)
	require.Equal(t, "browser", doc.URL())

	// Later shells reuse the same browser tab.
	require.NoError(t, s.Navigate(ctx, "https://jobs.example.com/r/3"))
	require.Equal(t, 1, browser.opened)
	require.Len(t, browser.session.navigated, 2)

	require.NoError(t, s.Close())
	require.True(t, static.session.closed)
	require.True(t, browser.session.closed)
}

func TestMissingSelectorPromotes(t *testing.T) {
	t.Parallel()

	static, browser := newProviders("<p>ok</p>", nil, map[string]bool{".founder": true})
	p, err := New(static, browser, nil, nil)
	require.NoError(t, err)

	ctx := context.Background()
	s, err := p.NewSession(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Navigate(ctx, "https://jobs.example.com/r/4"))
	require.Zero(t, browser.opened)

	require.NoError(t, s.WaitForSelector(ctx, ".founder"))
	require.Equal(t, 1, browser.opened)

	// Absence in the browser is final.
	err = s.WaitForSelector(ctx, ".missing")
	require.ErrorIs(t, err, crawler.ErrElementMissing)
	require.Equal(t, 1, browser.opened)
}

func TestNavigationErrorsPropagate(t *testing.T) {
	t.Parallel()

	static, browser := newProviders("", nil, nil)
	static.session.navErr = errors.New("connection refused")
	p, err := New(static, browser, bodyDetector(""), nil)
	require.NoError(t, err)

	ctx := context.Background()
	s, err := p.NewSession(ctx)
	require.NoError(t, err)
	require.ErrorContains(t, s.Navigate(ctx, "https://jobs.example.com/r/5"), "connection refused")
	require.Zero(t, browser.opened)
}

func TestPromotionFailures(t *testing.T) {
	t.Parallel()

	static, browser := newProviders("shell", nil, nil)
	browser.err = errors.New("no chrome")
	p, err := New(static, browser, bodyDetector("shell"), nil)
	require.NoError(t, err)

	ctx := context.Background()
	s, err := p.NewSession(ctx)
	require.NoError(t, err)
	require.ErrorContains(t, s.Navigate(ctx, "https://jobs.example.com/r/6"), "no chrome")

	unloaded, err := p.NewSession(ctx)
	require.NoError(t, err)
	require.ErrorContains(t, unloaded.WaitForSelector(ctx, ".founder"), "no page loaded")
}

func TestCloseJoinsErrors(t *testing.T) {
	t.Parallel()

	static, browser := newProviders("shell", nil, nil)
	static.session.closeErr = errors.New("static close")
	browser.session.closeErr = errors.New("browser close")
	p, err := New(static, browser, bodyDetector("shell"), nil)
	require.NoError(t, err)

	ctx := context.Background()
	s, err := p.NewSession(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Navigate(ctx, "https://jobs.example.com/r/7"))

	err = s.Close()
	require.ErrorContains(t, err, "static close")
	require.ErrorContains(t, err, "browser close")
}

func TestStaticSessionErrorIsWrapped(t *testing.T) {
	t.Parallel()

	static := &fakeProvider{err: context.Canceled}
	p, err := New(static, &fakeProvider{}, nil, nil)
	require.NoError(t, err)
	_, err = p.NewSession(context.Background())
	require.ErrorIs(t, err, context.Canceled)
}

// saturatedProvider models a browser whose tab pool is full: NewSession
// waits until the caller gives up.
type saturatedProvider struct{}

func (saturatedProvider) NewSession(ctx context.Context) (crawler.Session, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestPromotionWaitIsBoundedByCallerDeadline(t *testing.T) {
	t.Parallel()

	static := &fakeProvider{session: &fakeSession{name: "static", body: "shell"}}
	p, err := New(static, saturatedProvider{}, bodyDetector("shell"), nil)
	require.NoError(t, err)

	s, err := p.NewSession(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = s.Navigate(ctx, "https://jobs.example.com/r/8")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, crawler.FetchTimeout, crawler.NewFetchError("u", "", err).Kind)
	require.NoError(t, s.Close())
}
