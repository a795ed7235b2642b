package parser

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog/log"
	"github.com/seanblong/lecturedocs/internal/ai"
)

// TesseractOCR shells out to the tesseract CLI and reads its TSV output.
type TesseractOCR struct {
	Command  string
	Language string
	Runner   Runner
}

func NewTesseractOCR(command, language string) *TesseractOCR {
	if command == "" {
		command = "tesseract"
	}
	if language == "" {
		language = "eng"
	}
	return &TesseractOCR{Command: command, Language: language, Runner: ExecRunner{}}
}

// ExtractText ignores handwritten; tesseract is used for all images.
func (t *TesseractOCR) ExtractText(ctx context.Context, imagePath string, handwritten bool) (OCRResult, error) {
	out, err := t.Runner.Run(ctx, t.Command, imagePath, "stdout", "-l", t.Language, "tsv")
	if err != nil {
		return OCRResult{Method: "tesseract"}, err
	}
	text, conf := parseTSV(out)
	return OCRResult{Text: text, Confidence: conf, Method: "tesseract"}, nil
}

// parseTSV joins recognised words line by line and averages the word
// confidences, scaled to [0,1]. Confidence is 0 when no word has one.
func parseTSV(out []byte) (string, float64) {
	var (
		sb       strings.Builder
		lineKey  string
		line     []string
		sum      float64
		n        int
		firstRow = true
	)
	flush := func() {
		if len(line) > 0 {
			if sb.Len() > 0 {
				sb.WriteByte('\n')
			}
			sb.WriteString(strings.Join(line, " "))
			line = line[:0]
		}
	}

	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		if firstRow {
			firstRow = false
			if strings.HasPrefix(sc.Text(), "level") {
				continue
			}
		}
		cols := strings.Split(sc.Text(), "\t")
		if len(cols) < 12 {
			continue
		}
		conf, err := strconv.ParseFloat(cols[10], 64)
		word := strings.TrimSpace(cols[11])
		if err != nil || conf <= 0 || word == "" {
			continue
		}
		key := cols[1] + "/" + cols[2] + "/" + cols[3] + "/" + cols[4]
		if key != lineKey {
			flush()
			lineKey = key
		}
		line = append(line, word)
		sum += conf
		n++
	}
	flush()

	if n == 0 {
		return sb.String(), 0
	}
	return sb.String(), sum / float64(n) / 100
}

// PopplerRenderer renders pages with pdftoppm.
type PopplerRenderer struct {
	Command string
	DPI     int
	Runner  Runner
}

func NewPopplerRenderer(command string) *PopplerRenderer {
	if command == "" {
		command = "pdftoppm"
	}
	return &PopplerRenderer{Command: command, DPI: 200, Runner: ExecRunner{}}
}

func (r *PopplerRenderer) RenderPage(ctx context.Context, pdfPath string, page int, outDir string) (string, error) {
	prefix := filepath.Join(outDir, fmt.Sprintf("page-%d", page))
	n := strconv.Itoa(page)
	_, err := r.Runner.Run(ctx, r.Command,
		"-r", strconv.Itoa(r.DPI), "-png", "-singlefile", "-f", n, "-l", n, pdfPath, prefix)
	if err != nil {
		return "", fmt.Errorf("render page %d: %w", page, err)
	}
	return prefix + ".png", nil
}

// Transcriber is the subset of ai.OpenAIClient used for speech-to-text.
type Transcriber interface {
	Transcribe(ctx context.Context, apiKey, audioPath, model, language string) (string, string, error)
}

var _ Transcriber = (*ai.OpenAIClient)(nil)

// WhisperTranscriber sends audio to the OpenAI transcription endpoint,
// rotating through keys on successive calls.
type WhisperTranscriber struct {
	client Transcriber
	keys   []string
	model  string
	cursor atomic.Uint64
}

func NewWhisperTranscriber(client Transcriber, keys []string, model string) *WhisperTranscriber {
	return &WhisperTranscriber{client: client, keys: keys, model: model}
}

func (w *WhisperTranscriber) Transcribe(ctx context.Context, audioPath, language string) Transcript {
	if len(w.keys) == 0 {
		return DisabledTranscriber{}.Transcribe(ctx, audioPath, language)
	}
	key := w.keys[(w.cursor.Add(1)-1)%uint64(len(w.keys))]

	text, detected, err := w.client.Transcribe(ctx, key, audioPath, w.model, language)
	if detected == "" {
		detected = language
	}
	if detected == "" {
		detected = "unknown"
	}
	if err != nil {
		log.Warn().Err(err).Str("path", audioPath).Msg("transcription failed")
		return Transcript{Text: "[Transcription failed: " + err.Error() + "]", Language: detected, Method: MethodError}
	}
	return Transcript{Text: text, Language: detected, Method: "whisper"}
}
