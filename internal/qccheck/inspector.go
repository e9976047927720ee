package qccheck

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"ignisos/api/internal/browser"
)

// ErrUnavailable means no headless browser is installed.
var ErrUnavailable = errors.New("qc inspection unavailable")

// Report is what one page load revealed about a site.
type Report struct {
	FinalURL        string        `json:"finalUrl"`
	Title           string        `json:"title"`
	MetaDescription string        `json:"metaDescription"`
	HasFavicon      bool          `json:"hasFavicon"`
	HasViewport     bool          `json:"hasViewport"`
	LoadTime        time.Duration `json:"-"`
	LoadTimeMS      int64         `json:"loadTimeMs"`
}

type pageFacts struct {
	Description string `json:"description"`
	Favicon     bool   `json:"favicon"`
	Viewport    bool   `json:"viewport"`
}

const factsScript = `(() => {
	const meta = document.querySelector('meta[name="description"]');
	return {
		description: meta ? (meta.getAttribute('content') || '') : '',
		favicon: !!document.querySelector('link[rel~="icon"]'),
		viewport: !!document.querySelector('meta[name="viewport"]'),
	};
})()`

type Inspector struct {
	budget  time.Duration
	timeout time.Duration
}

// NewInspector returns an inspector that passes the speed check when a page
// finishes loading within budget.
func NewInspector(budget time.Duration) *Inspector {
	if budget <= 0 {
		budget = 3 * time.Second
	}
	return &Inspector{budget: budget, timeout: 45 * time.Second}
}

func (i *Inspector) Budget() time.Duration {
	return i.budget
}

// Inspect loads target in headless Chrome and reports what it found.
func (i *Inspector) Inspect(ctx context.Context, target string) (Report, error) {
	if _, err := url.ParseRequestURI(target); err != nil {
		return Report{}, fmt.Errorf("invalid url %q: %w", target, err)
	}
	ctx, cancelTimeout := context.WithTimeout(ctx, i.timeout)
	defer cancelTimeout()

	taskCtx, cancel, err := browser.NewContext(ctx)
	if err != nil {
		if errors.Is(err, browser.ErrChromeMissing) {
			return Report{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return Report{}, err
	}
	defer cancel()

	var report Report
	var facts pageFacts
	started := time.Now()
	err = chromedp.Run(taskCtx,
		chromedp.Navigate(target),
		chromedp.WaitReady("body"),
		chromedp.ActionFunc(func(context.Context) error {
			report.LoadTime = time.Since(started)
			return nil
		}),
		chromedp.Location(&report.FinalURL),
		chromedp.Title(&report.Title),
		chromedp.Evaluate(factsScript, &facts),
	)
	if err != nil {
		return Report{}, fmt.Errorf("inspect %s: %w", target, err)
	}
	report.MetaDescription = strings.TrimSpace(facts.Description)
	report.HasFavicon = facts.Favicon
	report.HasViewport = facts.Viewport
	report.LoadTimeMS = report.LoadTime.Milliseconds()
	log.Printf("qc: inspected %s in %s", target, report.LoadTime.Round(time.Millisecond))
	return report, nil
}

// Apply overwrites the automatically verifiable checks from report.
func Apply(checks map[string]bool, report Report, budget time.Duration) {
	checks["ssl"] = strings.HasPrefix(report.FinalURL, "https://")
	checks["speed"] = report.LoadTime > 0 && report.LoadTime <= budget
	checks["seo"] = strings.TrimSpace(report.Title) != "" && report.MetaDescription != ""
	checks["favicon"] = report.HasFavicon
	checks["responsive"] = report.HasViewport
}
