// Package browser starts headless Chrome sessions for PDF rendering and
// site inspection.
package browser

import (
	"context"
	"errors"
	"fmt"
	"os/exec"

	"github.com/chromedp/chromedp"
)

var ErrChromeMissing = errors.New("chromium not installed")

// candidates are checked in order on PATH.
var candidates = []string{"chromium-browser", "chromium", "google-chrome", "google-chrome-stable"}

// Locate returns the first Chrome binary found on PATH.
func Locate() (string, error) {
	for _, name := range candidates {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}
	return "", ErrChromeMissing
}

// NewContext returns a chromedp context backed by a fresh headless browser.
// The cancel func tears down both the tab and the browser process.
func NewContext(parent context.Context) (context.Context, context.CancelFunc, error) {
	path, err := Locate()
	if err != nil {
		return nil, nil, err
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.ExecPath(path),
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-setuid-sandbox", true),
	)

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(parent, opts...)
	taskCtx, cancelTask := chromedp.NewContext(allocCtx)
	cancel := func() {
		cancelTask()
		cancelAlloc()
	}
	return taskCtx, cancel, nil
}

// DataURL encodes html for chromedp.Navigate. Spaces become %20, not '+'.
func DataURL(html string) string {
	return "data:text/html;charset=utf-8," + percentEncode(html)
}

func percentEncode(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9',
			c == '-', c == '_', c == '.', c == '~':
			out = append(out, c)
		default:
			out = append(out, fmt.Sprintf("%%%02X", c)...)
		}
	}
	return string(out)
}
