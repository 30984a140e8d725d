// Package antibot detects CAPTCHA and block-page signals on rendered pages
// and offers best-effort popup dismissal. Detection is pure observation;
// the orchestrator decides what to do with a signal.
package antibot

import (
	"strings"

	"go.uber.org/zap"

	"github.com/regdata/harvester/internal/harvest"
	"github.com/regdata/harvester/internal/telemetry"
)

// PageProber is the slice of a page handle the detector needs. Satisfied by
// *browser.Page.
type PageProber interface {
	Visible(sel string) (bool, error)
	HTML() (string, error)
	Click(sel string) error
}

// Selector and keyword lists are data, not logic: ordered by priority,
// first hit wins.
var captchaSelectors = []string{
	`iframe[src*="recaptcha"]`,
	`iframe[src*="hcaptcha"]`,
	`div[class*="captcha"]`,
	`div[id*="captcha"]`,
	`#captcha`,
	`.g-recaptcha`,
	`.h-captcha`,
}

var blockKeywords = []string{
	"captcha",
	"recaptcha",
	"hcaptcha",
	"verify you are human",
	"unusual traffic",
	"access denied",
}

var defaultDismissSelectors = []string{
	`button.close`,
	`[aria-label*="close" i]`,
	`.modal-close`,
	`div[role="dialog"] button`,
	`button[data-dismiss]`,
}

// Signal identifies the first anti-bot marker found on a page.
type Signal struct {
	// Kind is "captcha" for a visible challenge element, "keyword" for a
	// textual block marker.
	Kind   string
	Marker string
}

// Err converts the signal into the error the pipeline records.
func (s *Signal) Err() error {
	return &harvest.BlockedError{Kind: s.Kind, Marker: s.Marker}
}

// Detector inspects rendered pages for block signals.
type Detector struct {
	selectors []string
	keywords  []string
	logger    *zap.Logger
}

// NewDetector builds a Detector with the default marker lists.
func NewDetector(logger *zap.Logger) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{
		selectors: captchaSelectors,
		keywords:  blockKeywords,
		logger:    logger,
	}
}

// Detect checks, in order, for known CAPTCHA elements that are present and
// visible, then for block keywords in the rendered text. Returns nil when
// neither check triggers. Probe errors on individual selectors are skipped;
// only a failure to read the page at all is an error.
func (d *Detector) Detect(page PageProber) (*Signal, error) {
	for _, sel := range d.selectors {
		visible, err := page.Visible(sel)
		if err != nil {
			continue
		}
		if visible {
			d.logger.Warn("captcha element detected", zap.String("selector", sel))
			telemetry.ObserveBlockSignal("captcha")
			return &Signal{Kind: "captcha", Marker: sel}, nil
		}
	}

	html, err := page.HTML()
	if err != nil {
		return nil, err
	}
	if kw := matchBlockKeyword(html, d.keywords); kw != "" {
		d.logger.Warn("block keyword detected", zap.String("keyword", kw))
		telemetry.ObserveBlockSignal("keyword")
		return &Signal{Kind: "keyword", Marker: kw}, nil
	}
	return nil, nil
}

// DismissPopup tries each selector in priority order and clicks the first
// visible dismiss control. Returns whether a dismissal occurred. Dismissal
// is recovery, not detection, and is always best-effort.
func (d *Detector) DismissPopup(page PageProber, selectors ...string) bool {
	if len(selectors) == 0 {
		selectors = defaultDismissSelectors
	}
	for _, sel := range selectors {
		visible, err := page.Visible(sel)
		if err != nil || !visible {
			continue
		}
		if err := page.Click(sel); err != nil {
			d.logger.Debug("popup dismiss click failed", zap.String("selector", sel), zap.Error(err))
			continue
		}
		d.logger.Info("dismissed popup", zap.String("selector", sel))
		return true
	}
	return false
}

func matchBlockKeyword(html string, keywords []string) string {
	lower := strings.ToLower(html)
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return kw
		}
	}
	return ""
}
