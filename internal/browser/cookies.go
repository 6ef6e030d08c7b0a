package browser

import (
	"context"
	"net/http"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// Cookies returns the cookies captured from the listing page, including any
// challenge clearance, for reuse by plain HTTP clients.
func (s *Session) Cookies() []*http.Cookie {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*http.Cookie, len(s.cookies))
	copy(out, s.cookies)
	return out
}

func (s *Session) captureCookies(tabCtx context.Context, rawURL string) {
	var cookies []*network.Cookie
	err := chromedp.Run(tabCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cookies, err = network.GetCookies().WithURLs([]string{rawURL}).Do(ctx)
		return err
	}))
	if err != nil {
		s.logger.Warn("Failed to read browser cookies", zap.Error(err))
		return
	}
	converted := toHTTPCookies(cookies)
	s.mu.Lock()
	s.cookies = converted
	s.mu.Unlock()
}

func toHTTPCookies(src []*network.Cookie) []*http.Cookie {
	out := make([]*http.Cookie, 0, len(src))
	for _, c := range src {
		if c == nil {
			continue
		}
		out = append(out, &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HttpOnly: c.HTTPOnly,
		})
	}
	return out
}
