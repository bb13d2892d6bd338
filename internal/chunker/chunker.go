package chunker

import (
	"regexp"
	"strings"
)

const (
	defaultMaxTokens = 200
	defaultOverlap   = 40
)

// Options controls how text is chunked.
type Options struct {
	MaxTokens int
	Overlap   int
}

// Chunk represents a slice of a policy document.
type Chunk struct {
	Index      int
	Text       string
	TokenCount int
}

var paragraphBreak = regexp.MustCompile(`\n\s*\n`)

func (o Options) withDefaults() Options {
	if o.MaxTokens <= 0 {
		o.MaxTokens = defaultMaxTokens
	}
	if o.Overlap < 0 {
		o.Overlap = 0
	}
	if o.Overlap >= o.MaxTokens {
		o.Overlap = 0
	}
	return o
}

// ChunkParagraphs chunks each blank-line separated paragraph on its own, so a
// chunk never mixes two policy clauses. Within a paragraph it slides a window
// of MaxTokens whitespace-delimited words, overlapping by Overlap. Indices run
// across the whole text.
func ChunkParagraphs(text string, opts Options) []Chunk {
	opts = opts.withDefaults()
	var chunks []Chunk
	for _, para := range paragraphBreak.Split(text, -1) {
		chunks = appendWindows(chunks, strings.Fields(para), opts)
	}
	return chunks
}

func appendWindows(chunks []Chunk, words []string, opts Options) []Chunk {
	if len(words) == 0 {
		return chunks
	}
	step := opts.MaxTokens - opts.Overlap
	for start := 0; start < len(words); start += step {
		end := start + opts.MaxTokens
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, Chunk{
			Index:      len(chunks),
			Text:       strings.Join(words[start:end], " "),
			TokenCount: end - start,
		})
		if end == len(words) {
			break
		}
	}
	return chunks
}
