// Package browser drives headless Chrome through challenge-protected listing
// and routine pages.
package browser

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/go-rod/stealth"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/tuhinx/bubt-annex-routine/internal/headless/detector"
	"github.com/tuhinx/bubt-annex-routine/internal/listing"
	"github.com/tuhinx/bubt-annex-routine/internal/routine"
)

// ErrBrowserDisabled indicates the session was configured without any tab slots.
var ErrBrowserDisabled = errors.New("browser disabled")

const webdriverScript = `Object.defineProperty(navigator, 'webdriver', {get: () => undefined})`

// Config controls the browser session.
type Config struct {
	UserAgent         string
	Headless          bool
	ViewportWidth     int
	ViewportHeight    int
	NavigationTimeout time.Duration
	ChallengeTimeout  time.Duration
	ChallengeSettle   time.Duration
	IdleTimeout       time.Duration
	IdleQuiet         time.Duration
	RenderTimeout     time.Duration
	ContentTimeout    time.Duration
	RenderSettle      time.Duration
	ContentSelector   string
	RenderMarker      string
	MaxParallel       int
	RenderQPS         float64
}

// Session owns one Chrome process shared by the listing tab and every
// rendered routine tab, so challenge clearance carries across tabs.
type Session struct {
	cfg           Config
	logger        *zap.Logger
	detector      *detector.Heuristic
	parser        *listing.Parser
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	sem           chan struct{}
	limiter       *rate.Limiter

	mu      sync.RWMutex
	cookies []*http.Cookie
}

// New launches Chrome and returns a ready Session.
func New(cfg Config, logger *zap.Logger) (*Session, error) {
	if cfg.MaxParallel <= 0 {
		return nil, ErrBrowserDisabled
	}
	cfg = withDefaults(cfg)
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("ignore-certificate-errors", true),
		chromedp.WindowSize(cfg.ViewportWidth, cfg.ViewportHeight),
		chromedp.UserAgent(cfg.UserAgent),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}

	var limiter *rate.Limiter
	if cfg.RenderQPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RenderQPS), 1)
	}

	return &Session{
		cfg:           cfg,
		logger:        logger,
		detector:      detector.NewHeuristic(),
		parser:        listing.NewParser(cfg.RenderMarker),
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		sem:           make(chan struct{}, cfg.MaxParallel),
		limiter:       limiter,
	}, nil
}

func withDefaults(cfg Config) Config {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.ViewportWidth <= 0 || cfg.ViewportHeight <= 0 {
		cfg.ViewportWidth, cfg.ViewportHeight = 1280, 800
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 60 * time.Second
	}
	if cfg.ChallengeTimeout <= 0 {
		cfg.ChallengeTimeout = 30 * time.Second
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 15 * time.Second
	}
	if cfg.IdleQuiet <= 0 {
		cfg.IdleQuiet = 500 * time.Millisecond
	}
	if cfg.RenderTimeout <= 0 {
		cfg.RenderTimeout = 90 * time.Second
	}
	if cfg.ContentTimeout <= 0 {
		cfg.ContentTimeout = 15 * time.Second
	}
	if cfg.ContentSelector == "" {
		cfg.ContentSelector = "table tr td"
	}
	return cfg
}

// DefaultUserAgent is a current desktop Chrome user agent.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"

// Close shuts the browser down.
func (s *Session) Close() {
	if s == nil {
		return
	}
	s.browserCancel()
	s.allocCancel()
}

// Discover opens the listing page, waits out any challenge, and returns the
// document references found in its tables.
func (s *Session) Discover(ctx context.Context, listingURL string) ([]routine.DocumentReference, error) {
	release, err := s.acquireSlot(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	tabCtx, cancelTab := chromedp.NewContext(s.browserCtx)
	defer cancelTab()
	stopForward := forwardCancel(ctx, cancelTab)
	defer stopForward()

	idle := newIdleTracker()
	chromedp.ListenTarget(tabCtx, idle.handle)

	// The tab's event loop lives as long as the context of its first Run.
	if err := chromedp.Run(tabCtx); err != nil {
		return nil, &routine.NavigationError{URL: listingURL, Err: fmt.Errorf("open tab: %w", err)}
	}

	navCtx, cancelNav := context.WithTimeout(tabCtx, s.cfg.NavigationTimeout)
	err = chromedp.Run(navCtx, s.prepareTab(), chromedp.Navigate(listingURL))
	cancelNav()
	if err != nil {
		return nil, &routine.NavigationError{URL: listingURL, Err: err}
	}

	logger := s.logger.With(zap.String("url", listingURL))
	if err := s.waitChallenge(tabCtx); err != nil {
		logger.Warn("Challenge wait did not complete", zap.Error(err))
	} else {
		logger.Info("Challenge passed")
	}
	if err := sleepCtx(ctx, s.cfg.ChallengeSettle); err != nil {
		return nil, err
	}
	if err := idle.wait(ctx, s.cfg.IdleQuiet, s.cfg.IdleTimeout); err != nil {
		logger.Warn("Network did not go idle", zap.Error(err))
	}

	readCtx, cancelRead := context.WithTimeout(tabCtx, s.cfg.NavigationTimeout)
	defer cancelRead()
	var (
		html     string
		location string
	)
	if err := chromedp.Run(readCtx,
		chromedp.Location(&location),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	); err != nil {
		return nil, &routine.NavigationError{URL: listingURL, Err: fmt.Errorf("read listing dom: %w", err)}
	}
	s.captureCookies(readCtx, listingURL)

	if location == "" {
		location = listingURL
	}
	refs, err := s.parser.Parse(html, location)
	if err != nil {
		return nil, err
	}
	logger.Info("Listing parsed", zap.Int("references", len(refs)))
	return refs, nil
}

// prepareTab masks automation signals before any page script runs.
func (s *Session) prepareTab() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if err := emulation.SetUserAgentOverride(s.cfg.UserAgent).Do(ctx); err != nil {
			return fmt.Errorf("set user-agent: %w", err)
		}
		if err := emulation.SetDeviceMetricsOverride(int64(s.cfg.ViewportWidth), int64(s.cfg.ViewportHeight), 1, false).Do(ctx); err != nil {
			return fmt.Errorf("set viewport: %w", err)
		}
		for _, script := range []string{stealth.JS, webdriverScript} {
			if _, err := page.AddScriptToEvaluateOnNewDocument(script).Do(ctx); err != nil {
				return fmt.Errorf("add init script: %w", err)
			}
		}
		return nil
	})
}

// waitChallenge polls the document title until the challenge interstitial is gone.
func (s *Session) waitChallenge(tabCtx context.Context) error {
	waitCtx, cancel := context.WithTimeout(tabCtx, s.cfg.ChallengeTimeout)
	defer cancel()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		var title string
		if err := chromedp.Run(waitCtx, chromedp.Title(&title)); err == nil && !s.detector.IsChallengeTitle(title) {
			return nil
		}
		select {
		case <-waitCtx.Done():
			return fmt.Errorf("wait challenge: %w", waitCtx.Err())
		case <-ticker.C:
		}
	}
}

func (s *Session) acquireSlot(ctx context.Context) (func(), error) {
	select {
	case s.sem <- struct{}{}:
		return func() { <-s.sem }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("acquire browser slot: %w", ctx.Err())
	}
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("settle wait: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
