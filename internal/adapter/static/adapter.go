// Package static implements a SiteAdapter for server-rendered sources
// using colly. JavaScript-heavy sources need a browser-backed adapter;
// this one covers plain HTML registries and doubles as the reference
// implementation of the adapter contract.
package static

import (
	"context"
	"fmt"
	"net/http"
	neturl "net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/regdata/harvester/internal/harvest"
	"github.com/regdata/harvester/internal/policy/pacing"
)

// Config controls the adapter.
type Config struct {
	// BaseURL is the registry root, e.g. "https://registry.example.com".
	BaseURL string
	// SearchPath is the listing URL template with %s for the term and %d
	// for the page number.
	SearchPath string
	UserAgent  string
	Timeout    time.Duration
	// RequiredFields drives the completeness annotation on enriched
	// records. Defaults to drug_name, approval_number, manufacturer.
	RequiredFields []string
	// AlreadyHave, when set, lets callers skip items that exist in a
	// previous artifact. A skipped item still produces a record.
	AlreadyHave func(key string) bool
}

// Adapter discovers candidates from paginated listing tables and enriches
// them from label/value detail pages.
type Adapter struct {
	cfg       Config
	required  []string
	pacer     *pacing.Pacer
	logger    *zap.Logger
	base      *colly.Collector
	nowFn     func() time.Time
}

// New builds an Adapter. pacer may be nil to disable inter-page delays.
func New(cfg Config, pacer *pacing.Pacer, logger *zap.Logger) (*Adapter, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if cfg.SearchPath == "" {
		cfg.SearchPath = "/search?keyword=%s&page=%d"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	required := cfg.RequiredFields
	if len(required) == 0 {
		required = defaultRequiredFields
	}

	c := colly.NewCollector(colly.Async(false))
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	c.SetRequestTimeout(cfg.Timeout)

	return &Adapter{
		cfg:      cfg,
		required: required,
		pacer:    pacer,
		logger:   logger,
		base:     c,
		nowFn:    time.Now,
	}, nil
}

// Discover walks listing pages from opts.StartPage through opts.EndPage
// and returns one candidate per result row. EndPage 0 means "until a page
// comes back empty".
func (a *Adapter) Discover(ctx context.Context, term string, opts harvest.RunOptions) ([]harvest.Candidate, error) {
	opts = opts.Normalized()

	var all []harvest.Candidate
	for page := opts.StartPage; opts.EndPage == 0 || page <= opts.EndPage; page++ {
		if page > opts.StartPage && a.pacer != nil {
			if err := a.pacer.Sleep(ctx); err != nil {
				return nil, err
			}
		}

		rows, err := a.fetchListing(ctx, term, page)
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			if page == opts.StartPage {
				a.logger.Info("no results for term", zap.String("term", term))
			}
			break
		}
		all = append(all, rows...)
		a.logger.Debug("listing page parsed",
			zap.String("term", term),
			zap.Int("page", page),
			zap.Int("rows", len(rows)),
		)
	}
	return all, nil
}

func (a *Adapter) fetchListing(ctx context.Context, term string, page int) ([]harvest.Candidate, error) {
	url := a.cfg.BaseURL + fmt.Sprintf(a.cfg.SearchPath, neturl.QueryEscape(term), page)

	var (
		rows     []harvest.Candidate
		fetchErr error
	)
	collector := a.newCollector(ctx, &fetchErr)
	collector.OnHTML("table tbody tr", func(e *colly.HTMLElement) {
		if cand, ok := a.parseRow(e, term, page, len(rows)); ok {
			rows = append(rows, cand)
		}
	})

	if err := collector.Visit(url); err != nil {
		return nil, harvest.Transient("listing fetch", err)
	}
	collector.Wait()
	if fetchErr != nil {
		return nil, fetchErr
	}
	return rows, nil
}

// parseRow maps the listing columns to candidate fields. The stable key is
// the approval number when the row carries one, otherwise a page/row
// ordinal.
func (a *Adapter) parseRow(e *colly.HTMLElement, term string, page, ordinal int) (harvest.Candidate, bool) {
	cells := e.ChildTexts("td")
	if len(cells) == 0 {
		return harvest.Candidate{}, false
	}

	fields := map[string]string{"term": term}
	for i, name := range listingColumns {
		if i < len(cells) {
			if v := strings.TrimSpace(cells[i]); v != "" {
				fields[name] = v
			}
		}
	}
	if href := e.ChildAttr("a[href]", "href"); href != "" {
		fields["detail_url"] = e.Request.AbsoluteURL(href)
	}

	key := fields["approval_number"]
	if key == "" {
		key = fmt.Sprintf("p%d-r%d", page, ordinal)
	}
	return harvest.Candidate{Key: key, Fields: fields}, true
}

// Enrich fetches the candidate's detail page and maps its label/value
// pairs to canonical field names. Items the caller already holds come back
// as skipped; a detail page with no recognizable fields comes back as
// no_data rather than an error, since the page itself was served fine.
func (a *Adapter) Enrich(ctx context.Context, cand harvest.Candidate) (harvest.Record, error) {
	term := cand.Field("term")

	if a.cfg.AlreadyHave != nil && a.cfg.AlreadyHave(cand.Key) {
		return harvest.Record{
			Term:       term,
			Status:     harvest.StatusSkipped,
			Fields:     map[string]string{"approval_number": cand.Key},
			CapturedAt: a.nowFn(),
		}, nil
	}

	detailURL := cand.Field("detail_url")
	if detailURL == "" {
		return harvest.Record{}, fmt.Errorf("candidate %s has no detail url", cand.Key)
	}

	pairs, err := a.fetchDetail(ctx, detailURL)
	if err != nil {
		return harvest.Record{}, err
	}

	fields := mapLabels(pairs)
	if len(fields) == 0 {
		return harvest.Record{
			Term:       term,
			Status:     harvest.StatusNoData,
			Fields:     map[string]string{"approval_number": cand.Key, "detail_url": detailURL},
			CapturedAt: a.nowFn(),
		}, nil
	}

	if fields["approval_number"] == "" {
		fields["approval_number"] = cand.Key
	}
	annotateCompleteness(fields, a.required)

	return harvest.Record{
		Term:       term,
		Status:     harvest.StatusSuccess,
		Fields:     fields,
		CapturedAt: a.nowFn(),
	}, nil
}

// fetchDetail collects label/value pairs from table rows and dt/dd lists.
func (a *Adapter) fetchDetail(ctx context.Context, url string) ([]labelValue, error) {
	var (
		pairs    []labelValue
		fetchErr error
	)
	collector := a.newCollector(ctx, &fetchErr)
	collector.OnHTML("table tr", func(e *colly.HTMLElement) {
		cells := e.ChildTexts("th, td")
		if len(cells) >= 2 {
			pairs = append(pairs, labelValue{label: cells[0], value: cells[1]})
		}
	})
	collector.OnHTML("dl", func(e *colly.HTMLElement) {
		labels := e.ChildTexts("dt")
		values := e.ChildTexts("dd")
		for i := range labels {
			if i < len(values) {
				pairs = append(pairs, labelValue{label: labels[i], value: values[i]})
			}
		}
	})

	if err := collector.Visit(url); err != nil {
		return nil, harvest.Transient("detail fetch", err)
	}
	collector.Wait()
	if fetchErr != nil {
		return nil, fetchErr
	}
	return pairs, nil
}

// newCollector clones the base collector and wires context cancellation
// plus HTTP error mapping. Server-side errors are tagged transient so the
// retry policy picks them up.
func (a *Adapter) newCollector(ctx context.Context, fetchErr *error) *colly.Collector {
	collector := a.base.Clone()
	collector.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
		}
	})
	collector.OnError(func(r *colly.Response, err error) {
		if ctx.Err() != nil {
			*fetchErr = ctx.Err()
			return
		}
		if r != nil && r.StatusCode >= http.StatusBadRequest {
			*fetchErr = harvest.Transient("fetch", fmt.Errorf("%s returned %d", r.Request.URL, r.StatusCode))
			return
		}
		*fetchErr = harvest.Transient("fetch", err)
	})
	return collector
}

type labelValue struct {
	label string
	value string
}
