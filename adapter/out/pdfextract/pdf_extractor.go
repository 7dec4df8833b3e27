// Package pdfextract implements the PDF text extraction capability.
package pdfextract

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
)

// Extractor pulls the plain text layer out of a PDF body. Scanned PDFs
// without a text layer yield an empty string, not an error.
type Extractor struct{}

// NewExtractor creates a PDF text extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract returns the concatenated page text of the PDF.
func (e *Extractor) Extract(ctx context.Context, body []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return "", fmt.Errorf("pdf parse: %w", err)
	}

	text, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("pdf text extraction: %w", err)
	}

	var b strings.Builder
	if _, err := io.Copy(&b, text); err != nil {
		return "", fmt.Errorf("pdf text read: %w", err)
	}
	return strings.TrimSpace(b.String()), nil
}
