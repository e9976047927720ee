package export

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"ignisos/api/internal/browser"
	"ignisos/api/internal/locale"
	"ignisos/api/internal/store"
)

// DataStore defines the interface for data access
type DataStore interface {
	GetWeek(ctx context.Context, userID, weekID string) (store.Week, error)
	ListWeeklyTasks(ctx context.Context, userID, weekID string) ([]store.WeeklyTask, error)
}

type converter func(ctx context.Context, html string) ([]byte, error)

// Service provides weekly report export
type Service struct {
	store    DataStore
	location *time.Location
	now      func() time.Time
	pdf      converter
	docx     converter
}

func NewService(store DataStore, location *time.Location) *Service {
	if location == nil {
		location = time.UTC
	}
	return &Service{
		store:    store,
		location: location,
		now:      time.Now,
		pdf:      renderPDF,
		docx:     renderDOCX,
	}
}

func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	if !req.Format.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, req.Format)
	}
	week, err := s.store.GetWeek(ctx, req.UserID, req.WeekID)
	if err != nil {
		return nil, fmt.Errorf("get week: %w", err)
	}
	tasks, err := s.store.ListWeeklyTasks(ctx, req.UserID, req.WeekID)
	if err != nil {
		return nil, fmt.Errorf("list weekly tasks: %w", err)
	}

	data := TemplateData{
		WeekName:    week.Name,
		GeneratedAt: locale.ShortDate(s.now().In(s.location)) + " " + locale.Clock(s.now().In(s.location)),
		Total:       len(tasks),
		Days:        groupByDay(tasks),
	}
	for _, task := range tasks {
		if task.Status == "listo" {
			data.Done++
		}
	}

	html, err := RenderWeeklyHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	base := sanitizeFilename(week.Name)
	switch req.Format {
	case FormatPDF:
		out, err := s.pdf(ctx, html)
		if err != nil {
			return nil, err
		}
		return &Result{Data: out, Filename: base + ".pdf", MimeType: "application/pdf"}, nil
	case FormatDOCX:
		out, err := s.docx(ctx, html)
		if err != nil {
			return nil, err
		}
		return &Result{Data: out, Filename: base + ".docx", MimeType: "application/vnd.openxmlformats-officedocument.wordprocessingml.document"}, nil
	default:
		return &Result{Data: []byte(html), Filename: base + ".html", MimeType: "text/html; charset=utf-8"}, nil
	}
}

// renderPDF prints html to a Letter-sized PDF in headless Chrome.
func renderPDF(ctx context.Context, html string) ([]byte, error) {
	ctx, cancelTimeout := context.WithTimeout(ctx, 30*time.Second)
	defer cancelTimeout()

	taskCtx, cancel, err := browser.NewContext(ctx)
	if err != nil {
		if errors.Is(err, browser.ErrChromeMissing) {
			return nil, fmt.Errorf("%w: %v", ErrPDFDependencyMissing, err)
		}
		return nil, err
	}
	defer cancel()

	var pdfData []byte
	err = chromedp.Run(taskCtx,
		chromedp.Navigate(browser.DataURL(html)),
		chromedp.WaitReady("body"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			pdfData, _, err = page.PrintToPDF().
				WithPrintBackground(true).
				WithPaperWidth(8.5).
				WithPaperHeight(11.0).
				WithMarginTop(0.6).
				WithMarginBottom(0.6).
				WithMarginLeft(0.6).
				WithMarginRight(0.6).
				Do(ctx)
			return err
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("chrome pdf generation failed: %w", err)
	}
	return pdfData, nil
}

// renderDOCX converts html with pandoc.
func renderDOCX(ctx context.Context, html string) ([]byte, error) {
	if _, err := exec.LookPath("pandoc"); err != nil {
		return nil, fmt.Errorf("%w: pandoc not installed", ErrDOCXDependencyMissing)
	}

	cmd := exec.CommandContext(ctx, "pandoc", "-f", "html", "-t", "docx", "--standalone", "-o", "-")
	cmd.Stdin = strings.NewReader(html)

	output, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("pandoc failed: %s", string(exitErr.Stderr))
		}
		return nil, fmt.Errorf("pandoc execution failed: %w", err)
	}
	return output, nil
}

// sanitizeFilename keeps ASCII letters, digits, '-' and '_'; spaces become
// hyphens and accented vowels lose their accent.
func sanitizeFilename(title string) string {
	var b strings.Builder
	for _, r := range title {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteByte('-')
		default:
			if plain, ok := unaccent[r]; ok {
				b.WriteRune(plain)
			}
		}
	}
	result := b.String()
	if len(result) > 50 {
		result = result[:50]
	}
	if result == "" {
		result = "semana"
	}
	return result
}

var unaccent = map[rune]rune{
	'á': 'a', 'é': 'e', 'í': 'i', 'ó': 'o', 'ú': 'u', 'ñ': 'n', 'ü': 'u',
	'Á': 'A', 'É': 'E', 'Í': 'I', 'Ó': 'O', 'Ú': 'U', 'Ñ': 'N', 'Ü': 'U',
}
