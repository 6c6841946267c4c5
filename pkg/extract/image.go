package extract

import (
	"context"
	"fmt"
)

// OCREngine runs tesseract over a single image.
type OCREngine struct {
	runner    Runner
	tesseract string
	lang      string
}

func (e *OCREngine) Extract(ctx context.Context, path string) (string, error) {
	bin, err := e.runner.LookPath(e.tesseract)
	if err != nil {
		return "", fmt.Errorf("tesseract not found: %w", err)
	}
	// psm 6 treats the page as one uniform block, which suits scanned records.
	out, err := e.runner.Run(ctx, bin, path, "stdout", "-l", e.lang, "--psm", "6")
	if err != nil {
		return "", err
	}
	return string(out), nil
}
