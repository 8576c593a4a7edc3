package knowledge

import "strings"

const (
	chunkSize    = 1000
	chunkOverlap = 100
)

// SplitDocument splits raw document text into overlapping chunks suitable for
// embedding. Surrounding whitespace is dropped; windows are rune-based so
// multi-byte text never splits inside a character.
func SplitDocument(content string) []string {
	runes := []rune(strings.TrimSpace(content))
	if len(runes) == 0 {
		return nil
	}

	step := chunkSize - chunkOverlap
	var chunks []string
	for start := 0; start < len(runes); start += step {
		end := start + chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return chunks
}
