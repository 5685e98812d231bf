package ingestion

import (
	"errors"
	"fmt"
	"testing"
)

func TestPDFParser_RejectsGarbage(t *testing.T) {
	_, err := NewPDFParser().Parse([]byte("not a pdf at all"))
	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected *ParseError, got %v", err)
	}
}

func TestPDFParser_RejectsEmptyInput(t *testing.T) {
	_, err := NewPDFParser().Parse(nil)
	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected *ParseError, got %v", err)
	}
}

type stubDocument struct {
	count   int
	texts   map[int]string
	pageErr error
	docText string
	docErr  error
}

func (d stubDocument) pageCount() int { return d.count }

func (d stubDocument) pageText(n int) (string, error) {
	if d.pageErr != nil {
		return "", d.pageErr
	}
	return d.texts[n], nil
}

func (d stubDocument) documentText() (string, error) {
	return d.docText, d.docErr
}

func TestExtractPages_PerPageText(t *testing.T) {
	pages, err := extractPages(stubDocument{
		count: 2,
		texts: map[int]string{1: "page one", 2: "page two"},
	})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(pages) != 2 {
		t.Fatalf("expected 2 pages, got %d", len(pages))
	}
	if pages[0].Number != 1 || pages[0].Text != "page one" {
		t.Fatalf("unexpected first page: %+v", pages[0])
	}
	if pages[1].Number != 2 || pages[1].Text != "page two" {
		t.Fatalf("unexpected second page: %+v", pages[1])
	}
}

func TestExtractPages_FallsBackToWholeDocument(t *testing.T) {
	pages, err := extractPages(stubDocument{
		count:   3,
		pageErr: fmt.Errorf("page tree unreadable"),
		docText: "  whole document text \n",
	})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(pages) != 1 {
		t.Fatalf("expected a single fallback page, got %d", len(pages))
	}
	if pages[0].Number != 1 {
		t.Fatalf("fallback page must be numbered 1, got %d", pages[0].Number)
	}
	if pages[0].Text != "whole document text" {
		t.Fatalf("fallback text not trimmed: %q", pages[0].Text)
	}
}

func TestExtractPages_FallbackFailureIsParseError(t *testing.T) {
	_, err := extractPages(stubDocument{
		count:   1,
		pageErr: fmt.Errorf("page tree unreadable"),
		docErr:  fmt.Errorf("font table broken"),
	})
	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected *ParseError, got %v", err)
	}
}

func TestExtractPages_EmptyFallbackYieldsNoPages(t *testing.T) {
	pages, err := extractPages(stubDocument{
		count:   1,
		pageErr: fmt.Errorf("page tree unreadable"),
		docText: "   ",
	})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(pages) != 0 {
		t.Fatalf("expected no pages, got %d", len(pages))
	}
}
