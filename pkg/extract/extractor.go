// Package extract turns stored documents into raw text. Each supported
// format is handled by an Engine; Router picks the engine from the
// document type and tags every failure with a Kind.
package extract

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// Extractor returns the text of the file at path.
type Extractor interface {
	Extract(ctx context.Context, path, documentType string) (string, error)
}

// Engine extracts one format.
type Engine interface {
	Extract(ctx context.Context, path string) (string, error)
}

type Format string

const (
	FormatPDF   Format = "pdf"
	FormatImage Format = "image"
	FormatWord  Format = "word"
)

// FormatFor maps a document type (extension, with or without dot) to a format.
func FormatFor(documentType string) (Format, bool) {
	switch NormalizeType(documentType) {
	case "pdf":
		return FormatPDF, true
	case "jpg", "jpeg", "png", "tif", "tiff", "bmp", "webp":
		return FormatImage, true
	case "doc", "docx":
		return FormatWord, true
	default:
		return "", false
	}
}

// NormalizeType lower-cases a type tag and strips a leading dot.
func NormalizeType(documentType string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(documentType)), ".")
}

// Runner executes external tools such as pdftotext and tesseract.
type Runner interface {
	LookPath(name string) (string, error)
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) LookPath(name string) (string, error) { return exec.LookPath(name) }

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%s: %w: %s", name, err, msg)
		}
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}

// Config tunes the engines built by NewRouter.
type Config struct {
	PdftotextPath string
	TesseractPath string
	OCRLanguage   string
	Timeout       time.Duration
	Runner        Runner
	Logger        *slog.Logger
}

// Router dispatches on document type.
type Router struct {
	engines map[string]Engine
	timeout time.Duration
	logger  *slog.Logger
}

// NewRouter wires the PDF, image and Word engines.
func NewRouter(cfg Config) *Router {
	runner := cfg.Runner
	if runner == nil {
		runner = execRunner{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	r := &Router{engines: make(map[string]Engine), timeout: timeout, logger: logger}
	r.Register(&PDFEngine{runner: runner, pdftotext: orDefault(cfg.PdftotextPath, "pdftotext"), logger: logger}, "pdf")
	r.Register(&OCREngine{runner: runner, tesseract: orDefault(cfg.TesseractPath, "tesseract"), lang: orDefault(cfg.OCRLanguage, "eng")},
		"jpg", "jpeg", "png", "tif", "tiff", "bmp", "webp")
	r.Register(DocxEngine{}, "docx")
	r.Register(legacyDocEngine{}, "doc")
	return r
}

// Register routes the given document types to e, replacing earlier engines.
func (r *Router) Register(e Engine, documentTypes ...string) *Router {
	for _, t := range documentTypes {
		r.engines[NormalizeType(t)] = e
	}
	return r
}

func (r *Router) Extract(ctx context.Context, path, documentType string) (string, error) {
	docType := NormalizeType(documentType)
	if _, ok := FormatFor(docType); !ok {
		return "", unsupported(docType)
	}
	engine, ok := r.engines[docType]
	if !ok || engine == nil {
		return "", unsupported(docType)
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	text, err := engine.Extract(ctx, path)
	if err != nil {
		return "", failed(docType, err)
	}
	text = normalizeText(text)
	r.logger.Debug("text extracted", "document_type", docType, "chars", len(text), "elapsed_ms", time.Since(start).Milliseconds())
	return text, nil
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return strings.TrimSpace(v)
}
