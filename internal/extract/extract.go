// Package extract implements DocumentExtractor: pulling plain text out of
// a source document so pkg/parser can run against it (§4.1). DOCX/DOCM are
// handled natively via archive/zip + encoding/xml reading
// word/document.xml, interleaving paragraphs and tables in document order.
// PDF extraction is left as a pluggable PDFExtractor interface — full PDF
// text-layout extraction is outside this module's build surface per
// spec.md §1, and is wired in by whatever process embeds this package.
package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/Raathmd/ammonia-desk/internal/apperr"
	"github.com/Raathmd/ammonia-desk/pkg/contracts"
)

// PDFExtractor is the pluggable interface for PDF text extraction. The
// default Extractor ships a stub that always fails with ExtractFailed
// until a real implementation is injected.
type PDFExtractor interface {
	ExtractText(data []byte) (string, error)
}

type stubPDFExtractor struct{}

func (stubPDFExtractor) ExtractText(data []byte) (string, error) {
	return "", fmt.Errorf("pdf text extraction is not configured")
}

// Extractor dispatches by source format.
type Extractor struct {
	pdf PDFExtractor
}

// New builds an Extractor. A nil pdf falls back to the stub.
func New(pdf PDFExtractor) *Extractor {
	if pdf == nil {
		pdf = stubPDFExtractor{}
	}
	return &Extractor{pdf: pdf}
}

// Extract returns the plain text of a document given its bytes, file name,
// and declared format.
func (e *Extractor) Extract(fileName string, format contracts.SourceFormat, data []byte) (string, error) {
	switch format {
	case contracts.FormatTXT:
		return normalizeWhitespace(string(data)), nil
	case contracts.FormatDOCX, contracts.FormatDOCM:
		text, err := extractDocx(data)
		if err != nil {
			return "", &apperr.ExtractFailed{FileName: fileName, Err: err}
		}
		return normalizeWhitespace(text), nil
	case contracts.FormatPDF:
		text, err := e.pdf.ExtractText(data)
		if err != nil {
			return "", &apperr.ExtractFailed{FileName: fileName, Err: err}
		}
		return normalizeWhitespace(text), nil
	default:
		return "", &apperr.UnsupportedFormat{FileName: fileName, Ext: string(format)}
	}
}

// wordDocument mirrors the subset of word/document.xml's schema needed to
// walk paragraphs and table cells in document order.
type wordDocument struct {
	XMLName xml.Name `xml:"http://schemas.openxmlformats.org/wordprocessingml/2006/main document"`
	Body    wordBody `xml:"http://schemas.openxmlformats.org/wordprocessingml/2006/main body"`
}

type wordBody struct {
	XMLName xml.Name    `xml:"http://schemas.openxmlformats.org/wordprocessingml/2006/main body"`
	Content []bodyChild `xml:",any"`
}

type bodyChild struct {
	XMLName xml.Name
	Runs    []run  `xml:"http://schemas.openxmlformats.org/wordprocessingml/2006/main r"`
	Rows    []row  `xml:"http://schemas.openxmlformats.org/wordprocessingml/2006/main tr"`
}

type row struct {
	Cells []cell `xml:"http://schemas.openxmlformats.org/wordprocessingml/2006/main tc"`
}

type cell struct {
	Paragraphs []bodyChild `xml:"http://schemas.openxmlformats.org/wordprocessingml/2006/main p"`
}

type run struct {
	Text []string `xml:"http://schemas.openxmlformats.org/wordprocessingml/2006/main t"`
}

// extractDocx unzips a DOCX/DOCM package and reads word/document.xml,
// interleaving paragraph and table text in document order so a clause
// split across a table row is not silently reordered.
func extractDocx(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open docx zip: %w", err)
	}

	var docXML []byte
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			rc, err := f.Open()
			if err != nil {
				return "", fmt.Errorf("open word/document.xml: %w", err)
			}
			docXML, err = io.ReadAll(rc)
			rc.Close()
			if err != nil {
				return "", fmt.Errorf("read word/document.xml: %w", err)
			}
			break
		}
	}
	if docXML == nil {
		return "", fmt.Errorf("word/document.xml not found in package")
	}

	var doc wordDocument
	if err := xml.Unmarshal(docXML, &doc); err != nil {
		return "", fmt.Errorf("parse word/document.xml: %w", err)
	}

	var sb strings.Builder
	for _, child := range doc.Body.Content {
		writeBodyChild(&sb, child)
	}
	return sb.String(), nil
}

func writeBodyChild(sb *strings.Builder, child bodyChild) {
	switch child.XMLName.Local {
	case "p":
		for _, r := range child.Runs {
			for _, t := range r.Text {
				sb.WriteString(t)
			}
		}
		sb.WriteString("\n")
	case "tbl":
		for _, r := range child.Rows {
			for _, c := range r.Cells {
				for _, p := range c.Paragraphs {
					writeBodyChild(sb, p)
				}
				sb.WriteString("\t")
			}
			sb.WriteString("\n")
		}
	}
}

func normalizeWhitespace(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t")
	}
	return strings.TrimRight(strings.Join(lines, "\n"), "\n")
}
