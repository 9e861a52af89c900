// File: internal/adapters/content/builder.go
// Description: Structured document production. Blocks go in, an
// absolute path to a finished document comes out. The docx writer emits
// the minimal OOXML package set by hand; there is no external office
// dependency to fail on.
package content

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/beevik/etree"

	"github.com/karavolt/deskpilot-cli/api/schemas"
)

// Builder implements schemas.ContentBuilder for the formats doc.create
// supports: docx, md and txt.
type Builder struct {
	// outputDir is where produced documents land. Callers pass a
	// guard-approved directory.
	outputDir string
}

// NewBuilder creates a Builder writing into outputDir.
func NewBuilder(outputDir string) *Builder {
	return &Builder{outputDir: outputDir}
}

// Build renders the blocks into a document and returns its absolute
// path. The first heading block names the file; untitled documents get
// "document".
func (b *Builder) Build(ctx context.Context, format string, blocks []schemas.ContentBlock) (string, error) {
	if err := os.MkdirAll(b.outputDir, 0o755); err != nil {
		return "", fmt.Errorf("cannot create output directory: %w", err)
	}
	name := documentName(blocks)

	switch strings.ToLower(format) {
	case "docx":
		path := filepath.Join(b.outputDir, name+".docx")
		data, err := renderDocx(blocks)
		if err != nil {
			return "", err
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return "", fmt.Errorf("cannot write document: %w", err)
		}
		return path, nil
	case "md", "markdown":
		path := filepath.Join(b.outputDir, name+".md")
		if err := os.WriteFile(path, []byte(renderMarkdown(blocks)), 0o644); err != nil {
			return "", fmt.Errorf("cannot write document: %w", err)
		}
		return path, nil
	case "txt", "text":
		path := filepath.Join(b.outputDir, name+".txt")
		if err := os.WriteFile(path, []byte(renderText(blocks)), 0o644); err != nil {
			return "", fmt.Errorf("cannot write document: %w", err)
		}
		return path, nil
	default:
		return "", fmt.Errorf("unsupported document format %q", format)
	}
}

func documentName(blocks []schemas.ContentBlock) string {
	for _, bl := range blocks {
		if bl.Kind == "heading" && strings.TrimSpace(bl.Text) != "" {
			return sanitizeFilename(bl.Text)
		}
	}
	return "document"
}

func sanitizeFilename(s string) string {
	s = strings.TrimSpace(s)
	replacer := strings.NewReplacer("/", "_", "\\", "_", ":", "_", "*", "_", "?", "_", "\"", "_", "<", "_", ">", "_", "|", "_", "\x00", "")
	s = replacer.Replace(s)
	if len(s) > 80 {
		s = s[:80]
	}
	if s == "" {
		return "document"
	}
	return s
}

func renderMarkdown(blocks []schemas.ContentBlock) string {
	var sb strings.Builder
	for _, bl := range blocks {
		switch bl.Kind {
		case "heading":
			level := bl.Level
			if level < 1 {
				level = 1
			}
			if level > 6 {
				level = 6
			}
			sb.WriteString(strings.Repeat("#", level) + " " + bl.Text + "\n\n")
		case "bullet":
			sb.WriteString("- " + bl.Text + "\n")
		case "code":
			sb.WriteString("```\n" + bl.Text + "\n```\n\n")
		default:
			sb.WriteString(bl.Text + "\n\n")
		}
	}
	return sb.String()
}

func renderText(blocks []schemas.ContentBlock) string {
	var sb strings.Builder
	for _, bl := range blocks {
		sb.WriteString(bl.Text + "\n")
		if bl.Kind != "bullet" {
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

const (
	wordNS      = "http://schemas.openxmlformats.org/wordprocessingml/2006/main"
	contentType = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">
  <Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/>
  <Default Extension="xml" ContentType="application/xml"/>
  <Override PartName="/word/document.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/>
</Types>`
	rootRels = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
  <Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument" Target="word/document.xml"/>
</Relationships>`
)

// renderDocx assembles the smallest valid wordprocessing package:
// [Content_Types].xml, _rels/.rels and word/document.xml.
func renderDocx(blocks []schemas.ContentBlock) ([]byte, error) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8" standalone="yes"`)
	root := doc.CreateElement("w:document")
	root.CreateAttr("xmlns:w", wordNS)
	body := root.CreateElement("w:body")

	for _, bl := range blocks {
		p := body.CreateElement("w:p")
		if bl.Kind == "heading" {
			level := bl.Level
			if level < 1 {
				level = 1
			}
			pPr := p.CreateElement("w:pPr")
			style := pPr.CreateElement("w:pStyle")
			style.CreateAttr("w:val", fmt.Sprintf("Heading%d", level))
		}
		if bl.Kind == "bullet" {
			pPr := p.CreateElement("w:pPr")
			style := pPr.CreateElement("w:pStyle")
			style.CreateAttr("w:val", "ListParagraph")
		}
		r := p.CreateElement("w:r")
		if bl.Kind == "code" {
			rPr := r.CreateElement("w:rPr")
			fonts := rPr.CreateElement("w:rFonts")
			fonts.CreateAttr("w:ascii", "Consolas")
		}
		t := r.CreateElement("w:t")
		t.CreateAttr("xml:space", "preserve")
		t.SetText(bl.Text)
	}

	docXML, err := doc.WriteToString()
	if err != nil {
		return nil, fmt.Errorf("cannot serialize document body: %w", err)
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	parts := []struct{ name, data string }{
		{"[Content_Types].xml", contentType},
		{"_rels/.rels", rootRels},
		{"word/document.xml", docXML},
	}
	for _, part := range parts {
		w, err := zw.Create(part.name)
		if err != nil {
			return nil, fmt.Errorf("cannot add %s: %w", part.name, err)
		}
		if _, err := w.Write([]byte(part.data)); err != nil {
			return nil, fmt.Errorf("cannot write %s: %w", part.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("cannot finalize package: %w", err)
	}
	return buf.Bytes(), nil
}
