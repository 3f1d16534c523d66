// Package segment turns source PDF documents into stored passage
// chunks: it extracts title and body text, splits the body into
// overlapping fixed-size windows, and atomically replaces the document's
// placeholder row with its chunk rows.
package segment

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// Extraction is the outcome of pulling text from a source document.
// Empty marks a document with no extractable text; that is terminal
// success, not an error, and the file is still recorded as processed.
type Extraction struct {
	Title string
	Body  string
	Empty bool
}

// ExtractPDF reads a PDF and splits its text into a title and body.
// The first non-blank line is the title; the remaining non-blank lines
// are joined with single spaces into the body. A parser failure is a
// retryable error, not an Extraction.
func ExtractPDF(path string) (Extraction, error) {
	text, err := readPlainText(path)
	if err != nil {
		return Extraction{}, fmt.Errorf("failed to extract text from %q: %w", path, err)
	}
	return splitTitleBody(text), nil
}

// readPlainText pulls the raw text out of the PDF. The parser panics on
// some malformed files, so the panic is converted into an error here.
func readPlainText(path string) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf parser panic: %v", r)
		}
	}()

	f, reader, err := pdf.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	plain, err := reader.GetPlainText()
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(plain); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// splitTitleBody applies the title/body policy to raw extracted text.
func splitTitleBody(text string) Extraction {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			lines = append(lines, trimmed)
		}
	}

	if len(lines) == 0 {
		return Extraction{Empty: true}
	}

	return Extraction{
		Title: lines[0],
		Body:  strings.Join(lines[1:], " "),
	}
}
