package parser

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"github.com/seanblong/lecturedocs/pkg/models"
)

// Options wires the external capabilities the parser falls back on. Nil
// capabilities are replaced by disabled ones.
type Options struct {
	OCR      OCR
	Renderer PageRenderer
	Vision   Vision
	STT      SpeechToText
	// Timeout bounds each external extraction call. Zero means no bound.
	Timeout time.Duration
	// TempDir holds rendered PDF pages. Empty uses os.TempDir.
	TempDir string
}

// Parser turns artifacts into text. It never returns an error; failures
// are reported as a ParsedDocument with method "failed".
type Parser struct {
	ocr      OCR
	renderer PageRenderer
	vision   Vision
	stt      SpeechToText
	timeout  time.Duration
	tempDir  string

	readPages func(path string) ([]string, error)
}

func New(opts Options) *Parser {
	p := &Parser{
		ocr:       opts.OCR,
		renderer:  opts.Renderer,
		vision:    opts.Vision,
		stt:       opts.STT,
		timeout:   opts.Timeout,
		tempDir:   opts.TempDir,
		readPages: readPDFPages,
	}
	if p.ocr == nil {
		p.ocr = DisabledOCR{}
	}
	if p.renderer == nil {
		p.renderer = DisabledRenderer{}
	}
	if p.vision == nil {
		p.vision = DisabledVision{}
	}
	if p.stt == nil {
		p.stt = DisabledTranscriber{}
	}
	return p
}

var codeExtensions = map[string]bool{
	".py": true, ".js": true, ".ts": true, ".jsx": true, ".tsx": true, ".sol": true,
	".java": true, ".c": true, ".h": true, ".cpp": true, ".cc": true, ".hpp": true,
	".go": true, ".rs": true, ".rb": true, ".php": true, ".cs": true, ".kt": true,
	".swift": true, ".scala": true, ".sh": true,
}

var imageExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".bmp": true,
	".tif": true, ".tiff": true, ".webp": true,
}

var audioExtensions = map[string]bool{
	".mp3": true, ".wav": true, ".m4a": true, ".mp4": true, ".webm": true,
	".ogg": true, ".flac": true,
}

// DetectType infers an artifact type from the file extension. Unknown
// extensions are treated as text.
func DetectType(path string) models.ArtifactType {
	ext := strings.ToLower(filepath.Ext(path))
	switch {
	case ext == ".pdf":
		return models.ArtifactPDF
	case codeExtensions[ext]:
		return models.ArtifactCode
	case imageExtensions[ext]:
		return models.ArtifactImage
	case audioExtensions[ext]:
		return models.ArtifactAudio
	}
	return models.ArtifactText
}

// Parse extracts text from the artifact at path. hint overrides extension
// based detection when set.
func (p *Parser) Parse(ctx context.Context, path string, hint models.ArtifactType) models.ParsedDocument {
	typ := hint
	if typ == "" {
		typ = DetectType(path)
	}

	var doc models.ParsedDocument
	switch typ {
	case models.ArtifactPDF:
		doc = p.parsePDF(ctx, path)
	case models.ArtifactCode:
		doc = p.parseCode(path)
	case models.ArtifactImage:
		doc = p.parseImage(ctx, path)
	case models.ArtifactAudio:
		doc = p.parseAudio(ctx, path)
	case models.ArtifactTranscript:
		doc = p.parseText(path)
		doc.Type = models.ArtifactTranscript
	default:
		doc = p.parseText(path)
	}

	if doc.Failed() {
		log.Warn().Str("path", path).Str("type", string(typ)).Msg("no content extracted")
	}
	return doc
}

func failedDoc(typ models.ArtifactType) models.ParsedDocument {
	return models.ParsedDocument{Type: typ, Method: models.ExtractionFailed}
}

// readUTF8 reads a file and rejects content that is not valid UTF-8 text.
func readUTF8(path string) (string, bool) {
	b, err := os.ReadFile(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("failed to read file")
		return "", false
	}
	if !utf8.Valid(b) || bytes.IndexByte(b, 0) >= 0 {
		log.Warn().Str("path", path).Msg("file is not UTF-8 text")
		return "", false
	}
	return string(b), true
}

func (p *Parser) parseText(path string) models.ParsedDocument {
	content, ok := readUTF8(path)
	if !ok {
		return failedDoc(models.ArtifactText)
	}
	return models.ParsedDocument{
		Content: content,
		Type:    models.ArtifactText,
		Method:  "utf8",
		Lines:   strings.Count(content, "\n") + 1,
		Words:   len(strings.Fields(content)),
	}
}

func (p *Parser) parseCode(path string) models.ParsedDocument {
	content, ok := readUTF8(path)
	if !ok {
		return failedDoc(models.ArtifactCode)
	}
	return models.ParsedDocument{
		Content:  content,
		Type:     models.ArtifactCode,
		Method:   "utf8",
		Language: guessLang(path),
		Lines:    strings.Count(content, "\n") + 1,
		Symbols:  topLevelSymbols(path, content),
	}
}

const visionImagePrompt = "Extract all text from this image. Preserve the structure and formatting as much as possible."

// parseImage asks the vision capability first and OCR second. An empty
// result is valid; only a failure of both attempts fails the document.
func (p *Parser) parseImage(ctx context.Context, path string) models.ParsedDocument {
	e := firstOK(
		func() Extraction { return p.visionText(ctx, path, visionImagePrompt) },
		func() Extraction { return p.ocrText(ctx, path) },
	)
	if e.Outcome == Failed {
		return failedDoc(models.ArtifactImage)
	}
	return models.ParsedDocument{Content: e.Text, Type: models.ArtifactImage, Method: e.Method}
}

func (p *Parser) parseAudio(ctx context.Context, path string) models.ParsedDocument {
	cctx, cancel := p.callContext(ctx)
	defer cancel()

	t := p.stt.Transcribe(cctx, path, "")
	if t.Placeholder() {
		log.Warn().Str("path", path).Str("method", t.Method).Str("text", t.Text).Msg("speech-to-text unavailable")
		return failedDoc(models.ArtifactAudio)
	}
	return models.ParsedDocument{
		Content:  t.Text,
		Type:     models.ArtifactAudio,
		Method:   t.Method,
		Language: t.Language,
		Words:    len(strings.Fields(t.Text)),
	}
}

func (p *Parser) visionText(ctx context.Context, imagePath, prompt string) Extraction {
	cctx, cancel := p.callContext(ctx)
	defer cancel()

	text, err := p.vision.ExtractTextFromImage(cctx, imagePath, prompt)
	if err != nil {
		return failed("vision", err)
	}
	return extracted(text, "vision")
}

func (p *Parser) ocrText(ctx context.Context, imagePath string) Extraction {
	cctx, cancel := p.callContext(ctx)
	defer cancel()

	res, err := p.ocr.ExtractText(cctx, imagePath, false)
	if err != nil {
		return failed("ocr", err)
	}
	if res.Method == MethodDisabled {
		return failed("ocr", ErrUnavailable)
	}
	return extracted(res.Text, "ocr")
}

func (p *Parser) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.timeout > 0 {
		return context.WithTimeout(ctx, p.timeout)
	}
	return context.WithCancel(ctx)
}

func guessLang(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".sh":
		return "shell"
	case ".py":
		return "python"
	case ".go":
		return "go"
	case ".js", ".jsx":
		return "javascript"
	case ".ts", ".tsx":
		return "typescript"
	case ".java":
		return "java"
	case ".rb":
		return "ruby"
	case ".sol":
		return "solidity"
	case ".cpp", ".cc", ".hpp":
		return "cpp"
	case ".rs":
		return "rust"
	default:
		return strings.TrimPrefix(ext, ".")
	}
}
