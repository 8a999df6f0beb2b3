package ingest

import (
	"strings"
	"unicode"
)

// ChunkText splits text into chunks of whole sentences no longer than
// size characters where possible. Each chunk after the first starts with
// the trailing sentences of the previous chunk that fit within overlap
// characters. A single sentence longer than size becomes its own chunk.
func ChunkText(text string, size, overlap int) []string {
	sentences := splitSentences(strings.Join(strings.Fields(text), " "))
	if len(sentences) == 0 {
		return nil
	}

	var chunks []string
	i := 0
	for i < len(sentences) {
		n, length := 0, 0
		for j := i; j < len(sentences); j++ {
			add := len(sentences[j])
			if n > 0 {
				add++
			}
			if length+add > size && n > 0 {
				break
			}
			length += add
			n++
		}
		chunks = append(chunks, strings.Join(sentences[i:i+n], " "))

		if i+n >= len(sentences) {
			break
		}

		kept, keptLen := 0, 0
		for k := i + n - 1; k >= i; k-- {
			l := len(sentences[k])
			if k < i+n-1 {
				l++
			}
			if keptLen+l > overlap {
				break
			}
			keptLen += l
			kept++
		}
		i = max(i+n-kept, i+1)
	}
	return chunks
}

// splitSentences breaks normalized text after '.', '!' or '?' when the
// next word starts with an upper-case letter. Abbreviations such as "e.g."
// and "Dr." do not end a sentence.
func splitSentences(text string) []string {
	runes := []rune(text)
	var out []string
	start := 0
	for i := 0; i < len(runes)-2; i++ {
		if !isTerminal(runes[i]) || runes[i+1] != ' ' || !unicode.IsUpper(runes[i+2]) {
			continue
		}
		if runes[i] == '.' && isAbbreviation(runes[:i+1]) {
			continue
		}
		if s := strings.TrimSpace(string(runes[start : i+1])); s != "" {
			out = append(out, s)
		}
		start = i + 2
	}
	if s := strings.TrimSpace(string(runes[start:])); s != "" {
		out = append(out, s)
	}
	return out
}

func isTerminal(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

// isAbbreviation reports whether prefix, which ends in '.', ends with a
// dotted initialism ("e.g.") or a title-case short form ("Dr.", "Mr.").
func isAbbreviation(prefix []rune) bool {
	n := len(prefix)
	// x.y.
	if n >= 4 && isWord(prefix[n-2]) && prefix[n-3] == '.' && isWord(prefix[n-4]) {
		return true
	}
	// Xy.
	if n >= 3 && unicode.IsLower(prefix[n-2]) && unicode.IsUpper(prefix[n-3]) &&
		(n == 3 || !isWord(prefix[n-4])) {
		return true
	}
	return false
}

func isWord(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
