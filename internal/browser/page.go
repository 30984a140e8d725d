package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	cdppage "github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// Page is a disposable handle over one browser tab. It does not extend the
// Manager's lifetime; Close tears down only this tab.
type Page struct {
	ctx        context.Context
	cancel     context.CancelFunc
	parent     context.Context
	navTimeout time.Duration
	userAgent  string
	stealth    string
	logger     *zap.Logger
	closed     bool
}

// Navigate loads url and waits for the body to be ready. The page's random
// user agent and the stealth script (when configured) are applied before
// the first document loads.
func (p *Page) Navigate(url string) error {
	ctx, cancel := p.opContext(p.navTimeout)
	defer cancel()

	actions := []chromedp.Action{
		p.setupAction(),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	}
	if err := chromedp.Run(ctx, actions...); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

// WaitVisible blocks until sel is visible or the timeout elapses.
func (p *Page) WaitVisible(sel string, timeout time.Duration) error {
	ctx, cancel := p.opContext(timeout)
	defer cancel()
	if err := chromedp.Run(ctx, chromedp.WaitVisible(sel, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("wait visible %q: %w", sel, err)
	}
	return nil
}

// Visible reports whether sel currently matches a rendered, displayed
// element. A missing element is not an error.
func (p *Page) Visible(sel string) (bool, error) {
	ctx, cancel := p.opContext(5 * time.Second)
	defer cancel()

	script := fmt.Sprintf(`(() => {
		const el = document.querySelector(%q);
		if (!el) { return false; }
		const style = window.getComputedStyle(el);
		if (style.display === 'none' || style.visibility === 'hidden') { return false; }
		const rect = el.getBoundingClientRect();
		return rect.width > 0 && rect.height > 0;
	})()`, sel)

	var visible bool
	if err := chromedp.Run(ctx, chromedp.Evaluate(script, &visible)); err != nil {
		return false, fmt.Errorf("visibility probe %q: %w", sel, err)
	}
	return visible, nil
}

// HTML returns the rendered outer HTML of the document.
func (p *Page) HTML() (string, error) {
	ctx, cancel := p.opContext(15 * time.Second)
	defer cancel()

	var html string
	if err := chromedp.Run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("outer html: %w", err)
	}
	return html, nil
}

// Text returns the text content of the first element matching sel.
func (p *Page) Text(sel string) (string, error) {
	ctx, cancel := p.opContext(10 * time.Second)
	defer cancel()

	var text string
	if err := chromedp.Run(ctx, chromedp.Text(sel, &text, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("text %q: %w", sel, err)
	}
	return text, nil
}

// Click clicks the first element matching sel.
func (p *Page) Click(sel string) error {
	ctx, cancel := p.opContext(10 * time.Second)
	defer cancel()
	if err := chromedp.Run(ctx, chromedp.Click(sel, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("click %q: %w", sel, err)
	}
	return nil
}

// Location returns the page's current URL.
func (p *Page) Location() (string, error) {
	ctx, cancel := p.opContext(5 * time.Second)
	defer cancel()

	var loc string
	if err := chromedp.Run(ctx, chromedp.Location(&loc)); err != nil {
		return "", fmt.Errorf("location: %w", err)
	}
	return loc, nil
}

// Run executes raw chromedp actions on this tab, for adapters that need
// more than the convenience methods.
func (p *Page) Run(timeout time.Duration, actions ...chromedp.Action) error {
	ctx, cancel := p.opContext(timeout)
	defer cancel()
	if err := chromedp.Run(ctx, actions...); err != nil {
		return fmt.Errorf("chromedp run: %w", err)
	}
	return nil
}

// Close disposes of the tab. Safe to call more than once.
func (p *Page) Close() {
	if p.closed {
		return
	}
	p.closed = true
	p.cancel()
}

func (p *Page) setupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if p.userAgent != "" {
			if err := emulation.SetUserAgentOverride(p.userAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if p.stealth != "" {
			if _, err := cdppage.AddScriptToEvaluateOnNewDocument(p.stealth).Do(ctx); err != nil {
				p.logger.Warn("stealth script injection failed", zap.Error(err))
			}
		}
		return nil
	})
}

func (p *Page) opContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(p.ctx, timeout)
	if p.parent != nil {
		stop := context.AfterFunc(p.parent, cancel)
		return ctx, func() { stop(); cancel() }
	}
	return ctx, cancel
}
