package acquire

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/seanblong/lecturedocs/internal/parser"
)

// ErrTranscriptTooShort is returned when no strategy produced usable text.
var ErrTranscriptTooShort = errors.New("transcript too short")

// MinTranscriptLength is the minimum trimmed length of a usable transcript.
const MinTranscriptLength = 10

type subtitleTrack struct {
	URL string `json:"url"`
	Ext string `json:"ext"`
}

// VideoInfo is the metadata yt-dlp reports for a video.
type VideoInfo struct {
	Title             string                     `json:"title"`
	Description       string                     `json:"description"`
	Duration          float64                    `json:"duration"`
	Thumbnail         string                     `json:"thumbnail,omitempty"`
	Uploader          string                     `json:"uploader,omitempty"`
	Subtitles         map[string][]subtitleTrack `json:"subtitles,omitempty"`
	AutomaticCaptions map[string][]subtitleTrack `json:"automatic_captions,omitempty"`
}

// VideoTranscriber produces a transcript for a video URL: captions first,
// then audio plus speech-to-text, then the video's own metadata.
type VideoTranscriber struct {
	Command  string
	Language string
	Runner   parser.Runner
	STT      parser.SpeechToText
	HTTP     *http.Client
	TempDir  string
}

func NewVideoTranscriber(command string, stt parser.SpeechToText) *VideoTranscriber {
	if command == "" {
		command = "yt-dlp"
	}
	if stt == nil {
		stt = parser.DisabledTranscriber{}
	}
	return &VideoTranscriber{
		Command:  command,
		Language: "en",
		Runner:   parser.ExecRunner{},
		STT:      stt,
		HTTP:     &http.Client{Timeout: 30 * time.Second},
	}
}

// VideoInfo fetches metadata without downloading the video.
func (v *VideoTranscriber) VideoInfo(ctx context.Context, url string) (VideoInfo, error) {
	out, err := v.Runner.Run(ctx, v.Command, "--dump-single-json", "--skip-download", "--no-warnings", url)
	if err != nil {
		return VideoInfo{}, fmt.Errorf("video info: %w", err)
	}
	var info VideoInfo
	if err := json.Unmarshal(out, &info); err != nil {
		return VideoInfo{}, fmt.Errorf("decode video info: %w", err)
	}
	if info.Title == "" {
		info.Title = "Unknown"
	}
	return info, nil
}

// Transcript returns the best available transcript for url.
func (v *VideoTranscriber) Transcript(ctx context.Context, url string) (string, error) {
	logger := log.With().Str("url", url).Logger()

	info, infoErr := v.VideoInfo(ctx, url)
	if infoErr != nil {
		logger.Warn().Err(infoErr).Msg("failed to get video info")
	}

	if infoErr == nil {
		text, err := v.captions(ctx, info)
		switch {
		case err != nil:
			logger.Warn().Err(err).Msg("subtitle extraction failed")
		case text == "":
			logger.Warn().Msg("subtitle content empty, falling back to audio transcription")
		default:
			logger.Info().Int("chars", len(text)).Msg("transcript from subtitles")
			return checkLength(text)
		}
	}

	text, err := v.transcribeAudio(ctx, url)
	if err != nil {
		logger.Warn().Err(err).Msg("audio transcription failed")
	}
	if strings.TrimSpace(text) != "" {
		return checkLength(text)
	}

	logger.Warn().Msg("transcription empty, using video info")
	title, desc := "YouTube Video", ""
	if infoErr == nil {
		title, desc = info.Title, info.Description
	}
	return checkLength(fmt.Sprintf("YouTube Video: %s\n\n%s", title, desc))
}

func checkLength(text string) (string, error) {
	text = strings.TrimSpace(text)
	if len(text) < MinTranscriptLength {
		return "", fmt.Errorf("%w: %d chars", ErrTranscriptTooShort, len(text))
	}
	return text, nil
}

// captions prefers manual subtitles over automatic captions.
func (v *VideoTranscriber) captions(ctx context.Context, info VideoInfo) (string, error) {
	track, ok := pickTrack(info.Subtitles[v.Language])
	if !ok {
		track, ok = pickTrack(info.AutomaticCaptions[v.Language])
	}
	if !ok {
		return "", errors.New("no subtitles available")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, track.URL, nil)
	if err != nil {
		return "", err
	}
	resp, err := v.HTTP.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download subtitles: %s", resp.Status)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return "", err
	}
	return ParseVTT(string(raw)), nil
}

func pickTrack(tracks []subtitleTrack) (subtitleTrack, bool) {
	for _, t := range tracks {
		if t.Ext == "vtt" && t.URL != "" {
			return t, true
		}
	}
	for _, t := range tracks {
		if t.URL != "" {
			return t, true
		}
	}
	return subtitleTrack{}, false
}

// transcribeAudio downloads the audio track and runs speech-to-text on it.
// Placeholder transcripts count as empty.
func (v *VideoTranscriber) transcribeAudio(ctx context.Context, url string) (string, error) {
	dir, err := os.MkdirTemp(v.TempDir, "audio-")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(dir)

	_, err = v.Runner.Run(ctx, v.Command,
		"-f", "bestaudio/best", "-x", "--audio-format", "mp3", "--audio-quality", "192K",
		"--no-warnings", "-o", filepath.Join(dir, "audio.%(ext)s"), url)
	if err != nil {
		return "", fmt.Errorf("download audio: %w", err)
	}

	t := v.STT.Transcribe(ctx, filepath.Join(dir, "audio.mp3"), "")
	if t.Placeholder() || strings.Contains(strings.ToLower(t.Text), "unavailable") {
		return "", fmt.Errorf("speech-to-text %s: %s", t.Method, t.Text)
	}
	return t.Text, nil
}
