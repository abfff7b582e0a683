package headless

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/jobboard-crawler/internal/crawler"
)

func TestNewRejectsNegativeTabs(t *testing.T) {
	t.Parallel()

	_, err := New(Config{MaxTabs: -1}, nil)
	require.Error(t, err)
}

func TestWithDefaults(t *testing.T) {
	t.Parallel()

	cfg := withDefaults(Config{})
	require.Equal(t, defaultNavigationTimeout, cfg.NavigationTimeout)
	require.Equal(t, 1920, cfg.WindowWidth)
	require.Equal(t, 1080, cfg.WindowHeight)

	cfg = withDefaults(Config{NavigationTimeout: time.Second, WindowWidth: 800, WindowHeight: 600})
	require.Equal(t, time.Second, cfg.NavigationTimeout)
	require.Equal(t, 800, cfg.WindowWidth)
	require.Equal(t, 600, cfg.WindowHeight)
}

func TestAllocatorOptionsGrowWithConfig(t *testing.T) {
	t.Parallel()

	base := len(allocatorOptions(withDefaults(Config{})))
	full := len(allocatorOptions(withDefaults(Config{NoSandbox: true, UserAgent: "ua", ExecPath: "/usr/bin/chromium"})))
	require.Equal(t, base+3, full)
	require.Greater(t, base, len(chromedp.DefaultExecAllocatorOptions))
}

func TestProviderLimiter(t *testing.T) {
	t.Parallel()

	p := &Provider{limiter: make(chan struct{}, 1)}
	require.NoError(t, p.acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := p.acquire(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	p.release()
	require.NoError(t, p.acquire(context.Background()))
	p.release()
	p.release()

	unbounded := &Provider{}
	require.NoError(t, unbounded.acquire(context.Background()))
	unbounded.release()
}

func TestProviderTryAcquireNeverWaits(t *testing.T) {
	t.Parallel()

	p := &Provider{limiter: make(chan struct{}, 2)}
	require.True(t, p.tryAcquire())
	require.True(t, p.tryAcquire())
	require.False(t, p.tryAcquire())

	_, err := p.TryNewSession(context.Background())
	require.ErrorIs(t, err, crawler.ErrNoFreeSession)

	canceled, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.TryNewSession(canceled)
	require.ErrorIs(t, err, context.Canceled)

	p.release()
	require.True(t, p.tryAcquire())
	require.True(t, (&Provider{}).tryAcquire())
}

func TestForwardCancelOnlyPropagatesCancellation(t *testing.T) {
	t.Parallel()

	parent, cancelParent := context.WithCancel(context.Background())
	child, cancelChild := context.WithCancel(context.Background())
	defer cancelChild()
	stop := forwardCancel(parent, cancelChild)
	defer stop()
	cancelParent()
	require.Eventually(t, func() bool { return errors.Is(child.Err(), context.Canceled) },
		time.Second, 5*time.Millisecond)

	expired, cancelExpired := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancelExpired()
	other, cancelOther := context.WithCancel(context.Background())
	defer cancelOther()
	stopOther := forwardCancel(expired, cancelOther)
	<-expired.Done()
	time.Sleep(10 * time.Millisecond)
	stopOther()
	require.NoError(t, other.Err())
}

func TestClosedSessionRefusesWork(t *testing.T) {
	t.Parallel()

	released := 0
	s := &session{
		tabCtx:    context.Background(),
		tabCancel: func() {},
		release:   func() { released++ },
	}
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	require.Equal(t, 1, released)
	require.Error(t, s.Navigate(context.Background(), "https://example.com"))
}
