package pipeline

import "strings"

// Chunk is one window of transcript text prepared for embedding.
type Chunk struct {
	Text  string
	Order int
}

// ChunkText splits text into windows of at most size characters with the
// given overlap between consecutive windows. Windows prefer to break on a
// space so words stay intact. Overlap must be smaller than size; callers get
// that from config validation.
func ChunkText(text string, size, overlap int) []Chunk {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	runes := []rune(text)
	if size <= 0 || len(runes) <= size {
		return []Chunk{{Text: text, Order: 0}}
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	var chunks []Chunk
	start := 0
	for start < len(runes) {
		end := start + size
		if end >= len(runes) {
			end = len(runes)
		} else {
			// Back off to the last space inside the window, unless that
			// would throw away most of it.
			cut := end
			for cut > start && runes[cut-1] != ' ' {
				cut--
			}
			if cut > start+size/2 {
				end = cut
			}
		}

		chunk := strings.TrimSpace(string(runes[start:end]))
		if chunk != "" {
			chunks = append(chunks, Chunk{Text: chunk, Order: len(chunks)})
		}
		if end == len(runes) {
			break
		}
		next := end - overlap
		if next <= start {
			next = start + 1
		}
		start = next
	}
	return chunks
}
