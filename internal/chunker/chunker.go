// Package chunker splits extracted text into overlapping pieces sized for
// embedding.
package chunker

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Chunker splits text into chunks of at most Size characters (runes), each
// sharing roughly Overlap characters with its predecessor. Boundaries fall on
// whitespace; a single word longer than Size is the only thing ever cut.
type Chunker struct {
	Size    int
	Overlap int
}

// New returns a Chunker, clamping overlap below size.
func New(size, overlap int) *Chunker {
	if size <= 0 {
		size = 1000
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	return &Chunker{Size: size, Overlap: overlap}
}

type word struct {
	text  string
	runes int
}

// Split returns the chunks of text in order. Whitespace runs are collapsed
// to single spaces. Empty or blank input yields no chunks.
func (c *Chunker) Split(text string) []string {
	words := splitWords(text, c.Size)
	if len(words) == 0 {
		return nil
	}
	var chunks []string
	start := 0
	for start < len(words) {
		end := start
		length := 0
		for end < len(words) {
			add := words[end].runes
			if end > start {
				add++
			}
			if length+add > c.Size {
				break
			}
			length += add
			end++
		}
		chunks = append(chunks, join(words[start:end]))
		if end >= len(words) {
			break
		}
		start = c.nextStart(words, start, end)
	}
	return chunks
}

// nextStart walks back from end to include up to Overlap characters of
// trailing words, always advancing at least one word.
func (c *Chunker) nextStart(words []word, start, end int) int {
	next := end
	overlap := 0
	for next-1 > start {
		add := words[next-1].runes + 1
		if overlap+add > c.Overlap {
			break
		}
		overlap += add
		next--
	}
	return next
}

func join(words []word) string {
	var b strings.Builder
	for i, w := range words {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(w.text)
	}
	return b.String()
}

// splitWords breaks text on whitespace. Words longer than limit are cut into
// limit-sized pieces so every word fits in a chunk.
func splitWords(text string, limit int) []word {
	fields := strings.FieldsFunc(text, unicode.IsSpace)
	out := make([]word, 0, len(fields))
	for _, f := range fields {
		n := utf8.RuneCountInString(f)
		for n > limit {
			runes := []rune(f)
			out = append(out, word{text: string(runes[:limit]), runes: limit})
			f = string(runes[limit:])
			n -= limit
		}
		out = append(out, word{text: f, runes: n})
	}
	return out
}
