// Package chunker splits extracted text into bounded, overlapping chunks.
package chunker

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/seanblong/lecturedocs/pkg/models"
)

const (
	DefaultChunkSize = 1000
	DefaultOverlap   = 200
	DefaultMinLength = 5
)

var codeSourceTypes = map[string]bool{
	"code":       true,
	"python":     true,
	"javascript": true,
	"typescript": true,
	"solidity":   true,
	"go":         true,
	"java":       true,
	"cpp":        true,
}

var codeSignatures = []*regexp.Regexp{
	regexp.MustCompile(`def \w+\(`),
	regexp.MustCompile(`function \w+\(`),
	regexp.MustCompile(`class \w+`),
	regexp.MustCompile(`import \w+`),
	regexp.MustCompile(`\bif\s+\(`),
	regexp.MustCompile(`\bfor\s+\(`),
	regexp.MustCompile(`=>`),
	regexp.MustCompile(`(?m)\{[ \t]*$`),
}

type Options struct {
	// ChunkSize is a soft token budget; a single oversized line or
	// sentence is still emitted whole.
	ChunkSize int
	Overlap   int
	// MinLength is the minimum trimmed length, in characters, of an
	// emitted chunk.
	MinLength    int
	PreserveCode bool
}

func DefaultOptions() Options {
	return Options{
		ChunkSize:    DefaultChunkSize,
		Overlap:      DefaultOverlap,
		MinLength:    DefaultMinLength,
		PreserveCode: true,
	}
}

type Chunker struct {
	opts    Options
	counter TokenCounter
	newID   func() string
}

// New builds a Chunker. A nil counter falls back to word counting.
func New(opts Options, counter TokenCounter) *Chunker {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.Overlap < 0 || opts.Overlap >= opts.ChunkSize {
		opts.Overlap = 0
	}
	if opts.MinLength <= 0 {
		opts.MinLength = DefaultMinLength
	}
	if counter == nil {
		counter = WordCounter{}
	}
	return &Chunker{opts: opts, counter: counter, newID: uuid.NewString}
}

// Chunk splits text into ordered chunks. It never returns an empty slice:
// blank input, or input whose every piece is below the minimum length,
// yields a single placeholder chunk naming the source.
func (c *Chunker) Chunk(text, sourceType, sourceFile string) []models.Chunk {
	if strings.TrimSpace(text) == "" {
		log.Warn().Str("source", sourceFile).Msg("empty text received, emitting placeholder chunk")
		return []models.Chunk{c.placeholder(sourceType, sourceFile)}
	}

	var out []models.Chunk
	if IsCode(text, sourceType) && c.opts.PreserveCode {
		out = c.chunkCode(text, sourceFile)
	} else {
		out = c.chunkText(text, sourceFile)
	}

	if len(out) == 0 {
		log.Warn().Str("source", sourceFile).Msg("no chunk met the minimum length, emitting placeholder chunk")
		return []models.Chunk{c.placeholder(sourceType, sourceFile)}
	}
	return out
}

// IsCode reports whether text should be chunked line by line.
func IsCode(text, sourceType string) bool {
	if codeSourceTypes[strings.ToLower(sourceType)] {
		return true
	}
	for _, re := range codeSignatures {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// window accumulates pieces until the token budget would overflow.
type window struct {
	pieces []string
	start  int // index of pieces[0] in the source sequence
	tokens int
	fresh  int // pieces added since the last emit
}

func (c *Chunker) chunkCode(text, sourceFile string) []models.Chunk {
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	var out []models.Chunk
	c.accumulate(lines, "\n", func(body string, first, last int) {
		out = c.appendChunk(out, body, "code", sourceFile, true, first+1, last+1)
	})
	return out
}

func (c *Chunker) chunkText(text, sourceFile string) []models.Chunk {
	sentences := SplitSentences(text)
	var out []models.Chunk
	c.accumulate(sentences, " ", func(body string, _, _ int) {
		out = c.appendChunk(out, body, "text", sourceFile, false, 0, 0)
	})
	return out
}

// accumulate walks pieces, calling emit with the joined body and the
// inclusive piece span each time a chunk closes. After a close the trailing
// overlap share of the closed chunk seeds the next one.
func (c *Chunker) accumulate(pieces []string, sep string, emit func(body string, first, last int)) {
	var w window
	for i, p := range pieces {
		n := c.counter.Count(p)
		if w.tokens+n > c.opts.ChunkSize && w.fresh > 0 {
			emit(strings.Join(w.pieces, sep), w.start, w.start+len(w.pieces)-1)

			keep := c.overlapCount(len(w.pieces))
			seed := make([]string, keep)
			copy(seed, w.pieces[len(w.pieces)-keep:])
			w = window{
				pieces: seed,
				start:  w.start + len(w.pieces) - keep,
				tokens: c.counter.Count(strings.Join(seed, sep)),
			}
		}
		if len(w.pieces) == 0 {
			w.start = i
		}
		w.pieces = append(w.pieces, p)
		w.tokens += n
		w.fresh++
	}
	if w.fresh > 0 {
		emit(strings.Join(w.pieces, sep), w.start, w.start+len(w.pieces)-1)
	}
}

// overlapCount is the number of trailing pieces carried into the next chunk:
// the overlap/size share of n, rounded up, but never the whole chunk.
func (c *Chunker) overlapCount(n int) int {
	if c.opts.Overlap == 0 || n < 2 {
		return 0
	}
	k := (n*c.opts.Overlap + c.opts.ChunkSize - 1) / c.opts.ChunkSize
	if k > n-1 {
		k = n - 1
	}
	return k
}

func (c *Chunker) appendChunk(out []models.Chunk, body, sourceType, sourceFile string, isCode bool, start, end int) []models.Chunk {
	if utf8.RuneCountInString(strings.TrimSpace(body)) < c.opts.MinLength {
		log.Debug().Str("source", sourceFile).Int("length", len(body)).Msg("dropping chunk below minimum length")
		return out
	}
	return append(out, models.Chunk{
		ID:          c.newID(),
		Content:     body,
		ChunkIndex:  len(out),
		SourceFile:  sourceFile,
		SourceType:  sourceType,
		IsCodeBlock: isCode,
		StartLine:   start,
		EndLine:     end,
	})
}

func (c *Chunker) placeholder(sourceType, sourceFile string) models.Chunk {
	name := sourceFile
	if name == "" {
		name = "file"
	}
	return models.Chunk{
		ID:         c.newID(),
		Content:    fmt.Sprintf("[Content extraction failed for %s]", name),
		ChunkIndex: 0,
		SourceFile: sourceFile,
		SourceType: sourceType,
	}
}

// SplitSentences splits on '.', '!' or '?' followed by whitespace. The
// punctuation stays with its sentence and the whitespace run is dropped.
func SplitSentences(text string) []string {
	var (
		out   []string
		start int
	)
	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		if !isTerminal(runes[i]) || i+1 >= len(runes) || !unicode.IsSpace(runes[i+1]) {
			continue
		}
		if s := strings.TrimSpace(string(runes[start : i+1])); s != "" {
			out = append(out, s)
		}
		j := i + 1
		for j < len(runes) && unicode.IsSpace(runes[j]) {
			j++
		}
		start = j
		i = j - 1
	}
	if start < len(runes) {
		if s := strings.TrimSpace(string(runes[start:])); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func isTerminal(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}
