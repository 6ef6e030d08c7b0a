package browser

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tuhinx/bubt-annex-routine/internal/routine"
)

func TestNewDisabledWithoutSlots(t *testing.T) {
	t.Parallel()

	_, err := New(Config{MaxParallel: 0}, zap.NewNop())
	require.ErrorIs(t, err, ErrBrowserDisabled)
}

func TestWithDefaults(t *testing.T) {
	t.Parallel()

	cfg := withDefaults(Config{})
	require.Equal(t, DefaultUserAgent, cfg.UserAgent)
	require.Equal(t, 1280, cfg.ViewportWidth)
	require.Equal(t, 800, cfg.ViewportHeight)
	require.Equal(t, 60*time.Second, cfg.NavigationTimeout)
	require.Equal(t, 30*time.Second, cfg.ChallengeTimeout)
	require.Equal(t, 90*time.Second, cfg.RenderTimeout)
	require.Equal(t, 15*time.Second, cfg.ContentTimeout)
	require.Equal(t, "table tr td", cfg.ContentSelector)

	kept := withDefaults(Config{UserAgent: "ua", RenderTimeout: time.Second})
	require.Equal(t, "ua", kept.UserAgent)
	require.Equal(t, time.Second, kept.RenderTimeout)
}

func TestAcquireSlotHonorsContext(t *testing.T) {
	t.Parallel()

	s := &Session{sem: make(chan struct{}, 1)}
	release, err := s.acquireSlot(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = s.acquireSlot(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	release2, err := s.acquireSlot(context.Background())
	require.NoError(t, err)
	release2()
}

func TestIdleTrackerCountsInflightRequests(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(0, 0)}
	tracker := newIdleTracker()
	tracker.now = clock.Now
	tracker.last = clock.Now()

	tracker.handle(&network.EventRequestWillBeSent{RequestID: "1"})
	tracker.handle(&network.EventRequestWillBeSent{RequestID: "2"})
	clock.Advance(time.Second)
	require.False(t, tracker.idleFor(500*time.Millisecond))

	tracker.handle(&network.EventLoadingFinished{RequestID: "1"})
	tracker.handle(&network.EventLoadingFailed{RequestID: "2"})
	require.False(t, tracker.idleFor(500*time.Millisecond))

	clock.Advance(600 * time.Millisecond)
	require.True(t, tracker.idleFor(500*time.Millisecond))

	tracker.handle("ignored event")
	require.True(t, tracker.idleFor(500*time.Millisecond))
}

func TestIdleTrackerWaitTimesOut(t *testing.T) {
	t.Parallel()

	tracker := newIdleTracker()
	tracker.handle(&network.EventRequestWillBeSent{RequestID: "stuck"})
	err := tracker.wait(context.Background(), 10*time.Millisecond, 50*time.Millisecond)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestToHTTPCookies(t *testing.T) {
	t.Parallel()

	got := toHTTPCookies([]*network.Cookie{
		{Name: "cf_clearance", Value: "abc", Domain: ".example.edu", Path: "/", Secure: true, HTTPOnly: true},
		nil,
	})
	require.Len(t, got, 1)
	require.Equal(t, "cf_clearance", got[0].Name)
	require.Equal(t, "abc", got[0].Value)
	require.True(t, got[0].HttpOnly)
	require.True(t, got[0].Secure)
}

func TestSessionDiscoverAndRender(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/routines", func(w http.ResponseWriter, _ *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "ok", Path: "/"})
		fmt.Fprint(w, `<html><head><title>Just a moment...</title></head><body>
<script>setTimeout(function(){document.title='Routines';},300)</script>
<table><tr><td>1</td><td>BBA 45</td><td><a href="/routine.php?id=1">View</a></td></tr></table>
</body></html>`)
	})
	mux.HandleFunc("/routine.php", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("id") == "2" {
			fmt.Fprint(w, `<html><body><table><tr><td>No data found</td></tr></table></body></html>`)
			return
		}
		fmt.Fprint(w, `<html><body><div id="c"></div><script>
setTimeout(function(){document.getElementById('c').innerHTML='<table><tr><td>Saturday</td><td>08:30</td></tr></table>';},200)
</script></body></html>`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	s, err := New(Config{
		Headless:         true,
		MaxParallel:      1,
		ChallengeTimeout: 5 * time.Second,
		IdleTimeout:      2 * time.Second,
		ContentTimeout:   5 * time.Second,
		RenderTimeout:    20 * time.Second,
	}, zap.NewNop())
	if errors.Is(err, ErrBrowserDisabled) {
		t.Skip("browser disabled")
	}
	if err != nil {
		t.Skipf("chromedp unavailable: %v", err)
	}
	defer s.Close()

	start := time.Now()
	refs, err := s.Discover(context.Background(), srv.URL+"/routines")
	require.NoError(t, err)
	require.Less(t, time.Since(start), 4*time.Second, "discovery should finish once the challenge title clears")
	require.Equal(t, []routine.DocumentReference{
		{Description: "1 BBA 45 View", SourceURL: srv.URL + "/routine.php?id=1"},
	}, refs)
	require.NotEmpty(t, s.Cookies())

	pdf, err := s.RenderPDF(context.Background(), srv.URL+"/routine.php?id=1")
	require.NoError(t, err)
	require.Equal(t, "%PDF-", string(pdf[:5]))

	_, err = s.RenderPDF(context.Background(), srv.URL+"/routine.php?id=2")
	require.ErrorIs(t, err, routine.ErrNoData)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
