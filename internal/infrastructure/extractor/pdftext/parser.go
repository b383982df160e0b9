package pdftext

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/kirillkom/idp-pipeline/internal/core/domain"
)

const engineName = "pdf-text"

// Parser reads the text layer of a PDF page by page. Scanned PDFs without
// a text layer come back empty.
type Parser struct {
	maxPages int
}

// New returns a parser; maxPages <= 0 reads every page.
func New(maxPages int) *Parser {
	return &Parser{maxPages: maxPages}
}

func (p *Parser) ParseDocument(ctx context.Context, path string) (text string, engine string, err error) {
	if _, statErr := os.Stat(path); statErr != nil {
		if errors.Is(statErr, os.ErrNotExist) {
			return "", engineName, domain.WrapError(domain.ErrValidation, "parse pdf", fmt.Errorf("file not found: %s", path))
		}
		return "", engineName, domain.WrapError(domain.ErrInternalStage, "parse pdf", statErr)
	}

	// the pdf package panics on some malformed inputs
	defer func() {
		if r := recover(); r != nil {
			text, engine = "", engineName
			err = domain.WrapError(domain.ErrValidation, "parse pdf", fmt.Errorf("malformed pdf: %v", r))
		}
	}()

	f, reader, err := pdf.Open(path)
	if err != nil {
		return "", engineName, domain.WrapError(domain.ErrValidation, "parse pdf", err)
	}
	defer f.Close()

	pages := reader.NumPage()
	if p.maxPages > 0 && pages > p.maxPages {
		pages = p.maxPages
	}

	var b strings.Builder
	for i := 1; i <= pages; i++ {
		if err := ctx.Err(); err != nil {
			return "", engineName, err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return "", engineName, domain.WrapError(domain.ErrInternalStage, "parse pdf", fmt.Errorf("page %d: %w", i, err))
		}
		pageText = strings.TrimSpace(pageText)
		if pageText == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(pageText)
	}
	return b.String(), engineName, nil
}
