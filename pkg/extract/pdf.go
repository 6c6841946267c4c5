package extract

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PDFEngine prefers the poppler pdftotext tool and falls back to the pure Go
// reader when the tool is missing or yields nothing.
type PDFEngine struct {
	runner    Runner
	pdftotext string
	logger    *slog.Logger
}

func (e *PDFEngine) Extract(ctx context.Context, path string) (string, error) {
	text, err := e.withPdftotext(ctx, path)
	if err == nil && strings.TrimSpace(text) != "" {
		return text, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		e.logger.Debug("pdftotext unavailable, using go reader", "err", err)
	}
	return e.withGoReader(path)
}

func (e *PDFEngine) withPdftotext(ctx context.Context, path string) (string, error) {
	bin, err := e.runner.LookPath(e.pdftotext)
	if err != nil {
		return "", fmt.Errorf("pdftotext not found: %w", err)
	}
	out, err := e.runner.Run(ctx, bin, "-layout", "-enc", "UTF-8", path, "-")
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// withGoReader joins the plain text of every readable page with newlines.
// A PDF without a text layer yields an empty string, not an error.
func (e *PDFEngine) withGoReader(path string) (string, error) {
	file, reader, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	defer file.Close()

	pages := make([]string, 0, reader.NumPage())
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			e.logger.Debug("skip unreadable pdf page", "page", i, "err", err)
			continue
		}
		pages = append(pages, text)
	}
	return strings.Join(pages, "\n"), nil
}
