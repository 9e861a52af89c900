// File: internal/adapters/content/extractor.go
package content

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/beevik/etree"

	"github.com/karavolt/deskpilot-cli/api/schemas"
)

// Extractor pulls plain text out of produced documents so the pipeline
// can enrich follow-up actions with what was just written. It
// implements schemas.TextExtractor.
type Extractor struct{}

func NewExtractor() *Extractor { return &Extractor{} }

// Extract returns up to maxChars of the document's text. docx packages
// are unzipped and their run text collected; everything else is read as
// plain text.
func (e *Extractor) Extract(ctx context.Context, path string, maxChars int) (string, error) {
	var text string
	var err error
	if strings.EqualFold(filepath.Ext(path), ".docx") {
		text, err = extractDocx(path)
	} else {
		text, err = extractPlain(path)
	}
	if err != nil {
		return "", err
	}
	if maxChars > 0 && len(text) > maxChars {
		text = text[:maxChars]
	}
	return text, nil
}

func extractPlain(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("cannot read document: %w", err)
	}
	return string(data), nil
}

func extractDocx(path string) (string, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return "", fmt.Errorf("cannot open docx package: %w", err)
	}
	defer zr.Close()

	for _, f := range zr.File {
		if f.Name != "word/document.xml" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", fmt.Errorf("cannot open document part: %w", err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return "", fmt.Errorf("cannot read document part: %w", err)
		}

		doc := etree.NewDocument()
		if err := doc.ReadFromBytes(data); err != nil {
			return "", fmt.Errorf("cannot parse document part: %w", err)
		}
		var sb strings.Builder
		for _, p := range doc.FindElements("//p") {
			for _, t := range p.FindElements(".//t") {
				sb.WriteString(t.Text())
			}
			sb.WriteString("\n")
		}
		return sb.String(), nil
	}
	return "", fmt.Errorf("no document part in %q", path)
}

var _ schemas.TextExtractor = (*Extractor)(nil)
