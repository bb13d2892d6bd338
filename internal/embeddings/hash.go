package embeddings

import (
	"context"
	"errors"
	"math"
	"unicode"
	"unicode/utf16"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// HashEmbedderName identifies the hash vectorizer in logs and stored metadata.
const HashEmbedderName = "simple-text-embedder"

var errEmptyEmbedding = errors.New("embedder returned no vectors")

// HashEmbedder is a deterministic bag-of-words vectorizer. Each whitespace token
// is hashed into one of Dimensions buckets and weighted by 1/(position+1).
// It is not a language model; it exists so the retrieval path works without one.
type HashEmbedder struct{}

// NewHashEmbedder returns the hash vectorizer.
func NewHashEmbedder() *HashEmbedder {
	return &HashEmbedder{}
}

func (*HashEmbedder) Name() string { return HashEmbedderName }

func (*HashEmbedder) Dimensions() int { return Dimensions }

// Embed never fails and ignores ctx.
func (h *HashEmbedder) Embed(_ context.Context, texts []string) ([]Vector, error) {
	out := make([]Vector, len(texts))
	for i, text := range texts {
		out[i] = h.Vectorize(text)
	}
	return out, nil
}

// Vectorize maps text to a unit-length vector of Dimensions elements.
func (*HashEmbedder) Vectorize(text string) Vector {
	acc := make([]float64, Dimensions)
	// Full Unicode lowercasing: final sigma becomes ς and U+0130 becomes i + U+0307.
	// A Caser is stateful, so one is made per call.
	lowered := cases.Lower(language.Und).String(text)
	for i, token := range splitWhitespace(lowered) {
		acc[bucket(token)] += 1 / float64(i+1)
	}
	return normalize(acc)
}

// tokenHash is the 31-multiplier string hash over UTF-16 code units with
// 32-bit signed wraparound.
func tokenHash(token string) int32 {
	var h int32
	for _, c := range utf16.Encode([]rune(token)) {
		h = h*31 + int32(c)
	}
	return h
}

func bucket(token string) int {
	h := int64(tokenHash(token))
	if h < 0 {
		h = -h
	}
	return int(h % Dimensions)
}

// isSpace matches the ECMAScript \s class: space separators, the ASCII controls
// TAB through CR, U+FEFF and the line/paragraph separators. Unlike unicode.IsSpace
// it excludes U+0085.
func isSpace(r rune) bool {
	switch r {
	case '\t', '\n', '\v', '\f', '\r', '\ufeff', '\u2028', '\u2029':
		return true
	}
	return unicode.Is(unicode.Zs, r)
}

// splitWhitespace splits s on runs of whitespace. Unlike strings.Fields it keeps
// the empty leading and trailing tokens, so "" yields [""] and " a" yields ["", "a"].
func splitWhitespace(s string) []string {
	var tokens []string
	start := 0
	inSpace := false
	for i, r := range s {
		if isSpace(r) {
			if !inSpace {
				tokens = append(tokens, s[start:i])
				inSpace = true
			}
			continue
		}
		if inSpace {
			start = i
			inSpace = false
		}
	}
	if inSpace {
		return append(tokens, "")
	}
	return append(tokens, s[start:])
}

// normalize scales acc to unit length. A zero accumulator is returned as the
// zero vector instead of dividing by zero.
func normalize(acc []float64) Vector {
	var sum float64
	for _, v := range acc {
		sum += v * v
	}
	out := make(Vector, len(acc))
	if sum == 0 {
		return out
	}
	norm := math.Sqrt(sum)
	for i, v := range acc {
		out[i] = float32(v / norm)
	}
	return out
}
