package browser

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/tuhinx/bubt-annex-routine/internal/routine"
)

// A4 paper size in inches.
const (
	a4Width  = 8.27
	a4Height = 11.69
)

// RenderPDF opens rawURL in a new tab, waits for its routine table to load,
// and prints the page to an A4 PDF using screen styles.
func (s *Session) RenderPDF(ctx context.Context, rawURL string) ([]byte, error) {
	release, err := s.acquireSlot(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("render rate limit: %w", err)
		}
	}

	tabCtx, cancelTab := chromedp.NewContext(s.browserCtx)
	defer cancelTab()
	stopForward := forwardCancel(ctx, cancelTab)
	defer stopForward()
	if err := chromedp.Run(tabCtx); err != nil {
		return nil, fmt.Errorf("open tab: %w", err)
	}

	taskCtx, cancelTask := context.WithTimeout(tabCtx, s.cfg.RenderTimeout)
	defer cancelTask()

	if err := chromedp.Run(taskCtx, s.prepareTab(), chromedp.Navigate(rawURL)); err != nil {
		return nil, fmt.Errorf("navigate routine page: %w", err)
	}

	waitCtx, cancelWait := context.WithTimeout(taskCtx, s.cfg.ContentTimeout)
	err = chromedp.Run(waitCtx, chromedp.WaitVisible(s.cfg.ContentSelector, chromedp.ByQuery))
	cancelWait()
	if err != nil {
		return nil, fmt.Errorf("wait %q: %w", s.cfg.ContentSelector, routine.ErrContentTimeout)
	}

	var html string
	if err := chromedp.Run(taskCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return nil, fmt.Errorf("read routine dom: %w", err)
	}
	if s.detector.HasNoData(html) {
		return nil, routine.ErrNoData
	}

	if err := sleepCtx(taskCtx, s.cfg.RenderSettle); err != nil {
		return nil, err
	}

	var pdf []byte
	if err := chromedp.Run(taskCtx,
		emulation.SetEmulatedMedia().WithMedia("screen"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			buf, _, err := page.PrintToPDF().
				WithPrintBackground(true).
				WithPaperWidth(a4Width).
				WithPaperHeight(a4Height).
				Do(ctx)
			if err != nil {
				return fmt.Errorf("print to pdf: %w", err)
			}
			pdf = buf
			return nil
		}),
	); err != nil {
		return nil, fmt.Errorf("export routine page: %w", err)
	}
	return pdf, nil
}
