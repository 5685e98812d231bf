package ingestion

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	pdf "github.com/ledongthuc/pdf"
)

// ParseError means the document bytes could not be read by the PDF library.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse pdf: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Page is the extracted text of one document page, 1-based.
type Page struct {
	Number int
	Text   string
}

// Parser extracts per-page text from a binary document. Mime gating happens
// upstream in the ingestion service; the parser assumes PDF bytes.
type Parser interface {
	Parse(data []byte) ([]Page, error)
}

type pdfParser struct{}

func NewPDFParser() Parser {
	return &pdfParser{}
}

// pdfDocument is the extraction surface of an opened document. The real
// reader sits behind it so the page-loop and fallback logic stay testable
// without binary fixtures.
type pdfDocument interface {
	pageCount() int
	pageText(n int) (string, error)
	documentText() (string, error)
}

func (p *pdfParser) Parse(data []byte) (pages []Page, err error) {
	// The pdf package panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			pages = nil
			err = &ParseError{Err: fmt.Errorf("pdf reader panic: %v", r)}
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, &ParseError{Err: err}
	}
	return extractPages(readerDocument{reader})
}

// extractPages walks the document page by page, skipping pages whose text
// cannot be read. When no page yields at all, the whole document is
// extracted as a single page 1.
func extractPages(doc pdfDocument) ([]Page, error) {
	var pages []Page
	total := doc.pageCount()
	for i := 1; i <= total; i++ {
		text, err := doc.pageText(i)
		if err != nil {
			continue
		}
		pages = append(pages, Page{Number: i, Text: text})
	}
	if len(pages) > 0 {
		return pages, nil
	}

	text, err := doc.documentText()
	if err != nil {
		return nil, &ParseError{Err: err}
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return []Page{}, nil
	}
	return []Page{{Number: 1, Text: text}}, nil
}

type readerDocument struct {
	r *pdf.Reader
}

func (d readerDocument) pageCount() int { return d.r.NumPage() }

func (d readerDocument) pageText(n int) (string, error) {
	page := d.r.Page(n)
	if page.V.IsNull() {
		return "", fmt.Errorf("page %d has no content", n)
	}
	return page.GetPlainText(nil)
}

func (d readerDocument) documentText() (string, error) {
	plain, err := d.r.GetPlainText()
	if err != nil {
		return "", err
	}
	raw, err := io.ReadAll(plain)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
