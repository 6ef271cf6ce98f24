package utils

import (
	"strings"
	"unicode"
)

// SplitText splits text into chunks of about chunkSize runes, with overlap runes
// shared between neighbours. Cuts move back to the nearest whitespace when one
// is within the last fifth of the chunk.
func SplitText(text string, chunkSize int, overlap int) []string {
	runes := []rune(text)
	if chunkSize <= 0 || len(runes) <= chunkSize {
		return []string{text}
	}
	if overlap < 0 || overlap >= chunkSize {
		overlap = 0
	}

	var chunks []string
	for start := 0; start < len(runes); {
		end := start + chunkSize
		if end >= len(runes) {
			chunks = append(chunks, string(runes[start:]))
			break
		}

		floor := end - chunkSize/5
		for cut := end; cut > floor; cut-- {
			if unicode.IsSpace(runes[cut-1]) {
				end = cut
				break
			}
		}
		chunks = append(chunks, string(runes[start:end]))

		next := end - overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks
}

// Words lowercases text and returns its words of at least minRunes runes
func Words(text string, minRunes int) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) >= minRunes {
			out = append(out, f)
		}
	}
	return out
}
