package chunker

import (
	"strings"
	"testing"
)

func TestChunkParagraphsOverlap(t *testing.T) {
	text := "one two three four five six seven eight nine ten"
	chunks := ChunkParagraphs(text, Options{MaxTokens: 4, Overlap: 1})
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	if chunks[1].Text != "four five six seven" {
		t.Fatalf("expected overlapping second chunk, got %q", chunks[1].Text)
	}
	if chunks[0].TokenCount != 4 {
		t.Fatalf("expected token count 4, got %d", chunks[0].TokenCount)
	}
}

func TestChunkParagraphsEmptyInput(t *testing.T) {
	chunks := ChunkParagraphs("\n\n \n", Options{MaxTokens: 10})
	if len(chunks) != 0 {
		t.Errorf("expected 0 chunks for empty input, got %d", len(chunks))
	}
}

func TestChunkParagraphsNoOverlap(t *testing.T) {
	text := "one two three four five six"
	chunks := ChunkParagraphs(text, Options{MaxTokens: 3, Overlap: 0})

	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if chunks[0].Text != "one two three" || chunks[1].Text != "four five six" {
		t.Errorf("unexpected chunks: %q, %q", chunks[0].Text, chunks[1].Text)
	}
}

func TestChunkParagraphsDefaults(t *testing.T) {
	text := "word " + strings.Repeat("test ", 500)
	chunks := ChunkParagraphs(text, Options{}) // No options, should use defaults

	if len(chunks) == 0 {
		t.Error("expected chunks with default options")
	}
	for _, chunk := range chunks {
		if chunk.TokenCount > defaultMaxTokens {
			t.Errorf("chunk exceeded default max tokens (%d): got %d", defaultMaxTokens, chunk.TokenCount)
		}
	}
}

func TestChunkParagraphsOverlapNotSmallerThanWindow(t *testing.T) {
	chunks := ChunkParagraphs("a b c d", Options{MaxTokens: 2, Overlap: 5})
	if len(chunks) != 2 {
		t.Fatalf("expected overlap to be ignored, got %d chunks", len(chunks))
	}
}

func TestChunkParagraphs(t *testing.T) {
	text := "Vacation: employees accrue two days per month.\n\n  \nSick leave: ten days per year.\nDoctor note after three days."
	chunks := ChunkParagraphs(text, Options{MaxTokens: 50})
	if len(chunks) != 2 {
		t.Fatalf("expected one chunk per paragraph, got %d", len(chunks))
	}
	if !strings.HasPrefix(chunks[1].Text, "Sick leave") {
		t.Errorf("unexpected second chunk %q", chunks[1].Text)
	}
	if chunks[1].Index != 1 {
		t.Errorf("expected global index 1, got %d", chunks[1].Index)
	}
}
