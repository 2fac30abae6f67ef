// Package chunker splits plain text into fixed-size word windows.
package chunker

import "strings"

// DefaultWordsPerChunk is used when a non-positive window size is configured.
const DefaultWordsPerChunk = 300

// Split tokenizes text on whitespace and partitions the words into
// consecutive, non-overlapping windows of wordsPerChunk words. The last
// window may be shorter. Words inside a chunk are joined with single spaces.
// Whitespace-only input yields no chunks.
func Split(text string, wordsPerChunk int) []string {
	if wordsPerChunk <= 0 {
		wordsPerChunk = DefaultWordsPerChunk
	}

	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	chunks := make([]string, 0, (len(words)+wordsPerChunk-1)/wordsPerChunk)
	for start := 0; start < len(words); start += wordsPerChunk {
		end := min(start+wordsPerChunk, len(words))
		chunk := strings.TrimSpace(strings.Join(words[start:end], " "))
		if chunk == "" {
			continue
		}
		chunks = append(chunks, chunk)
	}
	return chunks
}

// Chunker carries a configured window size so it can be injected where a
// splitting strategy is needed.
type Chunker struct {
	WordsPerChunk int
}

// New returns a Chunker with the given window size.
func New(wordsPerChunk int) *Chunker {
	if wordsPerChunk <= 0 {
		wordsPerChunk = DefaultWordsPerChunk
	}
	return &Chunker{WordsPerChunk: wordsPerChunk}
}

// Chunk splits text using the configured window size.
func (c *Chunker) Chunk(text string) []string {
	return Split(text, c.WordsPerChunk)
}
