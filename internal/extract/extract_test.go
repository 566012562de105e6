package extract

import (
	"archive/zip"
	"bytes"
	"testing"

	"github.com/Raathmd/ammonia-desk/internal/apperr"
	"github.com/Raathmd/ammonia-desk/pkg/contracts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDocumentXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
<w:body>
<w:p><w:r><w:t>Section 1. Quantity</w:t></w:r></w:p>
<w:p><w:r><w:t>Minimum of 25000 metric tons FOB.</w:t></w:r></w:p>
</w:body>
</w:document>`

func buildTestDocx(t *testing.T, documentXML string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(documentXML))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestExtractor_Extract_TXTPassthrough(t *testing.T) {
	e := New(nil)
	text, err := e.Extract("a.txt", contracts.FormatTXT, []byte("hello\r\nworld  \n"))
	require.NoError(t, err)
	assert.Equal(t, "hello\nworld", text)
}

func TestExtractor_Extract_DOCXReadsDocumentXML(t *testing.T) {
	e := New(nil)
	data := buildTestDocx(t, sampleDocumentXML)

	text, err := e.Extract("a.docx", contracts.FormatDOCX, data)
	require.NoError(t, err)
	assert.Contains(t, text, "Section 1. Quantity")
	assert.Contains(t, text, "25000 metric tons")
}

func TestExtractor_Extract_UnsupportedFormat(t *testing.T) {
	e := New(nil)
	_, err := e.Extract("a.xyz", "xyz", []byte("x"))
	require.Error(t, err)
	var unsupported *apperr.UnsupportedFormat
	assert.ErrorAs(t, err, &unsupported)
}

func TestExtractor_Extract_PDFStubFails(t *testing.T) {
	e := New(nil)
	_, err := e.Extract("a.pdf", contracts.FormatPDF, []byte("%PDF-1.4"))
	require.Error(t, err)
	var extractFailed *apperr.ExtractFailed
	assert.ErrorAs(t, err, &extractFailed)
}

type fakePDFExtractor struct{ text string }

func (f fakePDFExtractor) ExtractText(data []byte) (string, error) { return f.text, nil }

func TestExtractor_Extract_InjectedPDFExtractor(t *testing.T) {
	e := New(fakePDFExtractor{text: "extracted pdf text"})
	text, err := e.Extract("a.pdf", contracts.FormatPDF, []byte("%PDF-1.4"))
	require.NoError(t, err)
	assert.Equal(t, "extracted pdf text", text)
}
