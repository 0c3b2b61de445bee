package chat

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// DefaultChunkSize is the largest message body sent in one piece.
const DefaultChunkSize = 3500

// Split breaks text into chunks of at most max runes, preferring line
// breaks. When more than one chunk results each is prefixed with "[i/n] ";
// the prefix counts against max.
func Split(text string, max int) []string {
	if max <= 0 {
		max = DefaultChunkSize
	}
	if utf8.RuneCountInString(text) <= max {
		return []string{text}
	}

	// The prefix width depends on the chunk count; widen it until the count
	// fits the assumed number of digits.
	n := 2
	var chunks []string
	for {
		body := max - prefixWidth(n)
		if body < 1 {
			body = 1
		}
		chunks = cut(text, body)
		if prefixWidth(len(chunks)) <= prefixWidth(n) {
			break
		}
		n = len(chunks)
	}

	for i := range chunks {
		chunks[i] = fmt.Sprintf("[%d/%d] %s", i+1, len(chunks), chunks[i])
	}
	return chunks
}

// prefixWidth is the widest "[i/n] " prefix for n chunks.
func prefixWidth(n int) int {
	return 2*len(fmt.Sprint(n)) + 4
}

// cut splits text into pieces of at most max runes, breaking after the
// last newline of a piece when there is one.
func cut(text string, max int) []string {
	var chunks []string
	rest := text
	for utf8.RuneCountInString(rest) > max {
		end := byteIndexOfRune(rest, max)
		if nl := strings.LastIndex(rest[:end], "\n"); nl > 0 {
			end = nl + 1
		}
		chunks = append(chunks, strings.TrimRight(rest[:end], "\n"))
		rest = rest[end:]
	}
	if rest != "" {
		chunks = append(chunks, rest)
	}
	return chunks
}

// byteIndexOfRune returns the byte offset of the n-th rune of s.
func byteIndexOfRune(s string, n int) int {
	i := 0
	for pos := range s {
		if i == n {
			return pos
		}
		i++
	}
	return len(s)
}
