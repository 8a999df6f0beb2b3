package ingest

import (
	"reflect"
	"strings"
	"testing"
)

func TestSplitSentences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"simple", "One here. Two here! Three here?", []string{"One here.", "Two here!", "Three here?"}},
		{"lower case continues", "Version 2. then more. Next one.", []string{"Version 2. then more.", "Next one."}},
		{"initialism", "Use tools, e.g. Search tools. Done.", []string{"Use tools, e.g. Search tools.", "Done."}},
		{"title", "Ask Dr. Smith. She knows.", []string{"Ask Dr. Smith.", "She knows."}},
		{"empty", "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := splitSentences(tt.in); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("splitSentences(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestChunkTextFits(t *testing.T) {
	text := "First sentence here. Second sentence follows. Third sentence continues. Fourth sentence ends."
	chunks := ChunkText(text, 50, 10)
	if len(chunks) < 2 {
		t.Fatalf("chunks = %q, want several", chunks)
	}
	for _, c := range chunks {
		if len(c) > 50 {
			t.Errorf("chunk %q longer than 50", c)
		}
	}
}

func TestChunkTextOverlap(t *testing.T) {
	text := "Alpha one. Beta two. Gamma three. Delta four."
	// Each sentence is 10-12 chars; size 24 fits two; overlap 12 carries one back.
	chunks := ChunkText(text, 24, 12)
	want := []string{"Alpha one. Beta two.", "Beta two. Gamma three.", "Gamma three. Delta four."}
	if !reflect.DeepEqual(chunks, want) {
		t.Errorf("chunks = %q, want %q", chunks, want)
	}
}

func TestChunkTextNoOverlap(t *testing.T) {
	chunks := ChunkText("Alpha one. Beta two. Gamma three.", 21, 0)
	want := []string{"Alpha one. Beta two.", "Gamma three."}
	if !reflect.DeepEqual(chunks, want) {
		t.Errorf("chunks = %q, want %q", chunks, want)
	}
}

func TestChunkTextLongSentence(t *testing.T) {
	long := strings.Repeat("word ", 50) + "end."
	chunks := ChunkText(long+" Short one.", 40, 10)
	if len(chunks) != 2 {
		t.Fatalf("chunks = %d, want 2", len(chunks))
	}
	if chunks[0] != strings.TrimSpace(long) {
		t.Errorf("oversized sentence should be kept whole")
	}
}

func TestChunkTextNormalizesWhitespace(t *testing.T) {
	chunks := ChunkText("  Line one\n\nstill one.\tTwo.  ", 800, 100)
	if len(chunks) != 1 || chunks[0] != "Line one still one. Two." {
		t.Errorf("chunks = %q", chunks)
	}
}

func TestChunkTextEmpty(t *testing.T) {
	if got := ChunkText(" \n ", 800, 100); got != nil {
		t.Errorf("chunks = %q, want nil", got)
	}
}
