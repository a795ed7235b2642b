package parser

import (
	"context"
	"fmt"
	"os"
	"strings"
	"unicode"

	"github.com/ledongthuc/pdf"
	"github.com/rs/zerolog/log"
	"github.com/seanblong/lecturedocs/pkg/models"
)

// minPageChars is the number of non-whitespace characters below which a
// page's text layer is treated as missing.
const minPageChars = 20

const visionPagePrompt = "Extract all text from this document page. Preserve headings, lists and code blocks."

// readPDFPages returns the text layer of every page, in order.
func readPDFPages(path string) (pages []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	n := r.NumPage()
	pages = make([]string, n)
	for i := 1; i <= n; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			log.Debug().Err(err).Str("path", path).Int("page", i).Msg("no text layer")
			continue
		}
		pages[i-1] = text
	}
	return pages, nil
}

func nonSpaceCount(s string) int {
	n := 0
	for _, r := range s {
		if !unicode.IsSpace(r) {
			n++
		}
	}
	return n
}

// parsePDF extracts each page through the text layer, then OCR on the
// rendered page, then vision on the rendered page.
func (p *Parser) parsePDF(ctx context.Context, path string) models.ParsedDocument {
	pages, err := p.readPages(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("failed to open pdf")
		return failedDoc(models.ArtifactPDF)
	}

	dir, err := os.MkdirTemp(p.tempDir, "pdfpages-")
	if err != nil {
		log.Warn().Err(err).Msg("failed to create page render dir")
		dir = ""
	}
	if dir != "" {
		defer os.RemoveAll(dir)
	}

	var (
		texts   []string
		methods []string
		seen    = map[string]bool{}
	)
	for i, layer := range pages {
		e := p.extractPage(ctx, path, i+1, layer, dir)
		if e.Outcome != OK {
			log.Warn().Err(e.Err).Str("path", path).Int("page", i+1).Msg("page yielded no text")
			continue
		}
		texts = append(texts, strings.TrimSpace(e.Text))
		if !seen[e.Method] {
			seen[e.Method] = true
			methods = append(methods, e.Method)
		}
	}

	if len(texts) == 0 {
		return models.ParsedDocument{Type: models.ArtifactPDF, Method: models.ExtractionFailed, Pages: len(pages)}
	}
	return models.ParsedDocument{
		Content: strings.Join(texts, "\n\n"),
		Type:    models.ArtifactPDF,
		Method:  strings.Join(methods, "+"),
		Pages:   len(pages),
	}
}

func (p *Parser) extractPage(ctx context.Context, path string, page int, layer, dir string) Extraction {
	if nonSpaceCount(layer) >= minPageChars {
		return extracted(layer, "text-layer")
	}

	image, err := p.renderPage(ctx, path, page, dir)
	if err != nil {
		if strings.TrimSpace(layer) != "" {
			return extracted(layer, "text-layer")
		}
		return failed("render", err)
	}

	e := firstOK(
		func() Extraction { return p.ocrText(ctx, image) },
		func() Extraction { return p.visionText(ctx, image, visionPagePrompt) },
	)
	if e.Outcome != OK && strings.TrimSpace(layer) != "" {
		// a short text layer beats nothing
		return extracted(layer, "text-layer")
	}
	return e
}

func (p *Parser) renderPage(ctx context.Context, path string, page int, dir string) (string, error) {
	if dir == "" {
		return "", ErrUnavailable
	}
	cctx, cancel := p.callContext(ctx)
	defer cancel()
	return p.renderer.RenderPage(cctx, path, page, dir)
}
