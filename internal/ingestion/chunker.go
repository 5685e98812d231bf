package ingestion

import "strings"

const (
	DefaultChunkSize    = 1200
	DefaultChunkOverlap = 200
)

// TextChunk is one window of material text. Index is zero-based and local
// to a single chunking run; the ingestion service reassigns a global index
// when it accumulates chunks across pages.
type TextChunk struct {
	Index int
	Text  string
}

type Chunker struct {
	Size    int
	Overlap int
}

func NewChunker(size, overlap int) *Chunker {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = DefaultChunkOverlap
	}
	return &Chunker{Size: size, Overlap: overlap}
}

// NormalizeText collapses all whitespace runs to single spaces.
func NormalizeText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// Split emits overlapping windows of the normalized text. Consecutive
// windows share Overlap runes; window arithmetic is in runes so multi-byte
// text never splits mid-character. The advance is clamped so a bad overlap
// configuration can never stall the loop.
func (c *Chunker) Split(text string) []TextChunk {
	runes := []rune(NormalizeText(text))
	if len(runes) == 0 {
		return nil
	}

	advance := c.Size - c.Overlap
	if advance <= 0 {
		advance = c.Size
	}

	var chunks []TextChunk
	for start := 0; start < len(runes); start += advance {
		end := start + c.Size
		if end > len(runes) {
			end = len(runes)
		}
		piece := strings.TrimSpace(string(runes[start:end]))
		if piece != "" {
			chunks = append(chunks, TextChunk{Index: len(chunks), Text: piece})
		}
		if end == len(runes) {
			break
		}
	}
	return chunks
}
