package voice

import "strings"

const DefaultChunkWords = 5

// Rechunk splits text on single spaces into groups of groupSize words.
// Every chunk but the last keeps one trailing space, so concatenating the
// result reproduces text exactly. Empty text yields no chunks.
func Rechunk(text string, groupSize int) []string {
	if text == "" {
		return nil
	}
	if groupSize <= 0 {
		groupSize = DefaultChunkWords
	}

	words := strings.Split(text, " ")
	out := make([]string, 0, (len(words)+groupSize-1)/groupSize)
	for start := 0; start < len(words); start += groupSize {
		end := min(start+groupSize, len(words))
		chunk := strings.Join(words[start:end], " ")
		if end < len(words) {
			chunk += " "
		}
		out = append(out, chunk)
	}
	return out
}
