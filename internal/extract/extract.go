// Package extract turns uploaded document files into ordered, page-aware text.
//
// Supported file types: pdf, txt, md. Plain-text formats have no page
// structure and are treated as a single page 1. PDF extraction preserves
// page numbering even for pages that yield no text, so downstream page
// attribution stays aligned with the source document.
package extract

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ErrNoText indicates the document contained no extractable text at all.
var ErrNoText = errors.New("no extractable text")

// ErrUnsupportedType indicates the file type has no extractor.
var ErrUnsupportedType = errors.New("unsupported file type")

// Error wraps an extraction failure with the source filename.
type Error struct {
	Filename string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("extracting %q: %v", e.Filename, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Page is the text of a single source page. Number is 1-based.
// Text may be empty for PDF pages with no extractable text; such pages
// are kept so page numbers stay aligned with the original document.
type Page struct {
	Number int
	Text   string
}

// Pages extracts text from the file at path, dispatching on fileType
// ("pdf", "txt", "md"). It returns at least one page with non-blank text,
// or an Error wrapping ErrNoText if the document yields nothing usable.
func Pages(path, fileType string) ([]Page, error) {
	var (
		pages []Page
		err   error
	)
	switch strings.ToLower(fileType) {
	case "pdf":
		pages, err = pdfPages(path)
	case "txt", "md":
		pages, err = textPages(path)
	default:
		return nil, &Error{Filename: path, Err: fmt.Errorf("%w: %q", ErrUnsupportedType, fileType)}
	}
	if err != nil {
		return nil, err
	}

	if !hasText(pages) {
		return nil, &Error{Filename: path, Err: ErrNoText}
	}
	return pages, nil
}

func hasText(pages []Page) bool {
	for _, p := range pages {
		if strings.TrimSpace(p.Text) != "" {
			return true
		}
	}
	return false
}

// pdfPages extracts text page by page. The pdf library panics on some
// malformed documents, so the whole read is wrapped in a recover.
// Per-page failures produce an empty page rather than aborting the
// document; numbering must stay intact for citation page ranges.
func pdfPages(path string) (pages []Page, err error) {
	defer func() {
		if r := recover(); r != nil {
			pages = nil
			err = &Error{Filename: path, Err: fmt.Errorf("malformed pdf: %v", r)}
		}
	}()

	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, &Error{Filename: path, Err: err}
	}
	defer f.Close()

	n := reader.NumPage()
	pages = make([]Page, 0, n)
	for i := 1; i <= n; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			pages = append(pages, Page{Number: i})
			continue
		}
		text, perr := page.GetPlainText(nil)
		if perr != nil {
			// Keep the page; a single unreadable page must not shift
			// the numbering of the rest.
			pages = append(pages, Page{Number: i})
			continue
		}
		pages = append(pages, Page{Number: i, Text: text})
	}
	return pages, nil
}

// textPages reads a plain-text or markdown file as a single page 1.
func textPages(path string) ([]Page, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Filename: path, Err: err}
	}
	return []Page{{Number: 1, Text: string(data)}}, nil
}
