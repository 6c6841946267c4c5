package extract

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
)

const docxBodyPart = "word/document.xml"

// DocxEngine reads the paragraphs of an Office Open XML document.
type DocxEngine struct{}

func (DocxEngine) Extract(ctx context.Context, path string) (string, error) {
	reader, err := zip.OpenReader(path)
	if err != nil {
		return "", fmt.Errorf("open docx: %w", err)
	}
	defer reader.Close()

	for _, file := range reader.File {
		if file.Name != docxBodyPart {
			continue
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}
		rc, err := file.Open()
		if err != nil {
			return "", fmt.Errorf("read docx body: %w", err)
		}
		defer rc.Close()
		return docxText(rc)
	}
	return "", fmt.Errorf("docx: %s missing", docxBodyPart)
}

// docxText walks the WordprocessingML body with the lenient html parser.
// Self-closing tags such as <w:br/> open an element that swallows the rest
// of the run, so breaks and tabs are written when they open.
func docxText(r io.Reader) (string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", fmt.Errorf("parse docx body: %w", err)
	}
	var buf strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.ElementNode {
			switch node.Data {
			case "w:tab":
				buf.WriteString("\t")
			case "w:br", "w:cr":
				buf.WriteString("\n")
			}
		}
		if node.Type == html.TextNode && node.Parent != nil && node.Parent.Data == "w:t" {
			buf.WriteString(node.Data)
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
		if node.Type == html.ElementNode && node.Data == "w:p" {
			buf.WriteString("\n")
		}
	}
	walk(doc)
	return buf.String(), nil
}

var errLegacyDoc = errors.New("legacy .doc binary format is not readable; convert to .docx")

type legacyDocEngine struct{}

func (legacyDocEngine) Extract(context.Context, string) (string, error) {
	return "", errLegacyDoc
}
