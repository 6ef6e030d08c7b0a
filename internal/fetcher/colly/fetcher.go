// Package collyfetcher downloads routine documents over plain HTTP using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/gocolly/colly/v2"

	"github.com/tuhinx/bubt-annex-routine/internal/headless/detector"
	"github.com/tuhinx/bubt-annex-routine/internal/routine"
)

// Config controls collector behavior.
type Config struct {
	UserAgent    string
	Timeout      time.Duration
	MaxBodyBytes int
}

// Fetcher implements routine.Downloader using the Colly collector.
type Fetcher struct {
	cfg           Config
	detector      *detector.Heuristic
	baseCollector *colly.Collector
	cookieMu      sync.Mutex
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

type fetchResult struct {
	status int
	body   []byte
}

// New builds a Fetcher whose transport mimics a browser TLS handshake.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 64 << 20
	}
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.IgnoreRobotsTxt = true
	c.ParseHTTPErrorResponse = true
	c.MaxBodySize = cfg.MaxBodyBytes
	c.WithTransport(cloudflarebp.AddCloudFlareByPass(newHTTPTransport()))

	return &Fetcher{
		cfg:           cfg,
		detector:      detector.NewHeuristic(),
		baseCollector: c,
	}
}

// SetCookies seeds the shared cookie jar, typically with the clearance
// cookies a browser session earned on rawURL.
func (f *Fetcher) SetCookies(rawURL string, cookies []*http.Cookie) error {
	if len(cookies) == 0 {
		return nil
	}
	f.cookieMu.Lock()
	defer f.cookieMu.Unlock()
	if err := f.baseCollector.SetCookies(rawURL, cookies); err != nil {
		return fmt.Errorf("set cookies: %w", err)
	}
	return nil
}

// Download GETs rawURL and returns the body of a 200 response.
func (f *Fetcher) Download(ctx context.Context, rawURL string) ([]byte, error) {
	var (
		result   fetchResult
		fetchErr error
	)
	collector := f.buildCollector(&result, &fetchErr)
	if err := f.runCollector(ctx, collector, rawURL, &fetchErr); err != nil {
		return nil, err
	}
	if result.status != http.StatusOK {
		if f.detector.IsChallengeBody(result.body) {
			return nil, fmt.Errorf("get %s: status %d: %w", rawURL, result.status, routine.ErrChallenge)
		}
		return nil, fmt.Errorf("get %s: status %d: %w", rawURL, result.status, routine.ErrBadStatus)
	}
	if f.detector.IsChallengeBody(result.body) {
		return nil, fmt.Errorf("get %s: %w", rawURL, routine.ErrChallenge)
	}
	return result.body, nil
}

func (f *Fetcher) buildCollector(result *fetchResult, fetchErr *error) *colly.Collector {
	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.SetRequestTimeout(f.cfg.Timeout)
	f.configureCollectorHooks(collector, result, fetchErr)
	return collector
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, result *fetchResult, fetchErr *error) {
	hooks.OnResponse(func(r *colly.Response) {
		*result = fetchResult{
			status: r.StatusCode,
			body:   append([]byte(nil), r.Body...),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
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
