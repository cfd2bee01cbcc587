package source

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"
)

var (
	ErrEmptyPDF   = errors.New("pdf has no pages")
	ErrNoPDFText  = errors.New("no extractable text found in pdf")
	errPageBroken = errors.New("unreadable page")
)

// Page is the text of one PDF page. Number is 1-based.
type Page struct {
	Number int
	Total  int
	Text   string
}

// Document is an opened PDF file.
type Document struct {
	file   *os.File
	reader *pdf.Reader
}

func OpenPDF(path string) (*Document, error) {
	file, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pdf: %w", err)
	}
	return &Document{file: file, reader: reader}, nil
}

func (d *Document) NumPages() int { return d.reader.NumPage() }

// PageText extracts the plain text of page i (0-based).
func (d *Document) PageText(i int) (text string, err error) {
	// the parser panics on some malformed content streams
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("page %d: %w: %v", i+1, errPageBroken, r)
		}
	}()
	page := d.reader.Page(i + 1)
	if page.V.IsNull() {
		return "", nil
	}
	text, err = page.GetPlainText(nil)
	if err != nil {
		return "", fmt.Errorf("page %d: %w", i+1, err)
	}
	return strings.TrimSpace(text), nil
}

func (d *Document) Close() error {
	return d.file.Close()
}

// EachPDFPage calls fn for every selected page of the PDF at path that has
// text, in selection order. selection "" selects every page. It fails with
// ErrNoPDFText when no selected page has any text.
func EachPDFPage(path, selection string, fn func(Page) error) error {
	doc, err := OpenPDF(path)
	if err != nil {
		return err
	}
	defer doc.Close()

	total := doc.NumPages()
	if total == 0 {
		return ErrEmptyPDF
	}
	indices := allIndices(total)
	if selection != "" {
		if indices, err = ParseSelection(selection, total, "page"); err != nil {
			return err
		}
	}

	found := false
	for _, i := range indices {
		text, err := doc.PageText(i)
		if err != nil {
			return err
		}
		if text == "" {
			continue
		}
		found = true
		if err := fn(Page{Number: i + 1, Total: total, Text: text}); err != nil {
			return err
		}
	}
	if !found {
		return ErrNoPDFText
	}
	return nil
}
