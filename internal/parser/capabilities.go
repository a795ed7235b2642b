package parser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

var ErrUnavailable = errors.New("capability unavailable")

// OCRResult is text read from an image.
type OCRResult struct {
	Text       string
	Confidence float64
	Method     string
}

type OCR interface {
	ExtractText(ctx context.Context, imagePath string, handwritten bool) (OCRResult, error)
}

// PageRenderer rasterises one 1-based PDF page into outDir and returns the
// image path.
type PageRenderer interface {
	RenderPage(ctx context.Context, pdfPath string, page int, outDir string) (string, error)
}

// Vision reads text out of an image with a generation model.
type Vision interface {
	ExtractTextFromImage(ctx context.Context, imagePath, prompt string) (string, error)
}

type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Transcript is the output of speech-to-text. Method is "disabled" or
// "error" when Text is a diagnostic placeholder.
type Transcript struct {
	Text     string
	Segments []Segment
	Language string
	Method   string
}

// Placeholder reports whether the transcript carries no real speech.
func (t Transcript) Placeholder() bool {
	return t.Method == MethodDisabled || t.Method == MethodError
}

// SpeechToText never fails; problems are reported through a placeholder
// transcript.
type SpeechToText interface {
	Transcribe(ctx context.Context, audioPath, language string) Transcript
}

const (
	MethodDisabled = "disabled"
	MethodError    = "error"

	TranscriptionUnavailable = "[Audio transcription unavailable]"
)

// Runner executes external commands.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return out, fmt.Errorf("%s: %w: %s", name, err, msg)
		}
		return out, fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}

type DisabledOCR struct{}

func (DisabledOCR) ExtractText(context.Context, string, bool) (OCRResult, error) {
	return OCRResult{Method: MethodDisabled}, nil
}

type DisabledRenderer struct{}

func (DisabledRenderer) RenderPage(context.Context, string, int, string) (string, error) {
	return "", fmt.Errorf("render page: %w", ErrUnavailable)
}

type DisabledVision struct{}

func (DisabledVision) ExtractTextFromImage(context.Context, string, string) (string, error) {
	return "", fmt.Errorf("vision: %w", ErrUnavailable)
}

type DisabledTranscriber struct{}

func (DisabledTranscriber) Transcribe(_ context.Context, _ string, language string) Transcript {
	if language == "" {
		language = "unknown"
	}
	return Transcript{Text: TranscriptionUnavailable, Language: language, Method: MethodDisabled}
}
