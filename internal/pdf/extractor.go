// Package pdfutil turns uploaded bytes into plain text. PDFs go through
// ledongthuc/pdf; plain text is passed through after a UTF-8 check.
package pdfutil

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	pdf "github.com/ledongthuc/pdf"

	"github.com/dharsanguruparan/docchat/internal/model"
)

// ExtractText reads PDF bytes and returns plain text, one page per line
// block.
func ExtractText(data []byte) (string, error) {
	reader := bytes.NewReader(data)
	doc, err := pdf.NewReader(reader, int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("new pdf reader: %w", err)
	}
	var builder strings.Builder
	total := doc.NumPage()
	for page := 1; page <= total; page++ {
		p := doc.Page(page)
		if p.V.IsNull() {
			continue
		}
		content, err := p.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("page %d: %w", page, err)
		}
		builder.WriteString(content)
		builder.WriteString("\n")
	}
	return builder.String(), nil
}

// Extractor dispatches on the sniffed content type of an upload.
type Extractor struct{}

// NewExtractor returns an Extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract returns the text content of data. Every failure wraps
// model.ErrExtraction.
func (e *Extractor) Extract(ctx context.Context, contentType string, data []byte) (text string, err error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %w", model.ErrExtraction, err)
	}
	mediaType, _, _ := strings.Cut(contentType, ";")
	switch strings.TrimSpace(mediaType) {
	case "application/pdf":
		// ledongthuc/pdf panics on some malformed inputs instead of
		// returning an error.
		defer func() {
			if r := recover(); r != nil {
				text, err = "", fmt.Errorf("%w: malformed pdf: %v", model.ErrExtraction, r)
			}
		}()
		text, err = ExtractText(data)
		if err != nil {
			return "", fmt.Errorf("%w: %w", model.ErrExtraction, err)
		}
		return text, nil
	case "text/plain":
		if !utf8.Valid(data) {
			return "", fmt.Errorf("%w: text is not valid utf-8", model.ErrExtraction)
		}
		return string(data), nil
	default:
		return "", fmt.Errorf("%w: unsupported content type %q", model.ErrExtraction, contentType)
	}
}
