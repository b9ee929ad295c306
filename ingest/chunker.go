// Package ingest splits legal texts into chunks and indexes them into the
// vector knowledge base.
package ingest

import (
	"fmt"
	"maps"
	"strings"
	"unicode"
)

// Document is a source text to be indexed.
type Document struct {
	ID       string            `json:"id"`
	Title    string            `json:"title,omitempty"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Chunk is a bounded slice of a document.
type Chunk struct {
	ID         string            `json:"id"`
	DocumentID string            `json:"document_id"`
	Content    string            `json:"content"`
	Ordinal    int               `json:"ordinal"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

type chunkOptions struct {
	size    int
	overlap int
	sep     string
}

// ChunkOption customizes a Chunker.
type ChunkOption func(*chunkOptions)

// WithChunkSize sets the maximum chunk length in runes.
func WithChunkSize(size int) ChunkOption {
	return func(o *chunkOptions) {
		if size > 0 {
			o.size = size
		}
	}
}

// WithOverlap sets how many runes consecutive windows of a long paragraph share.
func WithOverlap(overlap int) ChunkOption {
	return func(o *chunkOptions) {
		if overlap >= 0 {
			o.overlap = overlap
		}
	}
}

func WithSeparator(sep string) ChunkOption {
	return func(o *chunkOptions) {
		if sep != "" {
			o.sep = sep
		}
	}
}

// Chunker splits on a separator, packs short paragraphs together and windows
// paragraphs longer than the chunk size. Lengths are counted in runes so
// accented text is never cut inside a character.
type Chunker struct {
	size    int
	overlap int
	sep     string
}

func NewChunker(opts ...ChunkOption) *Chunker {
	o := &chunkOptions{size: 1200, overlap: 150, sep: "\n\n"}
	for _, opt := range opts {
		opt(o)
	}
	if o.overlap >= o.size {
		o.overlap = o.size / 4
	}
	return &Chunker{size: o.size, overlap: o.overlap, sep: o.sep}
}

// Chunk returns the chunks of doc. Chunk IDs derive from the document ID and
// the ordinal, so indexing the same document twice overwrites its chunks.
func (c *Chunker) Chunk(doc Document) []Chunk {
	var (
		chunks  []Chunk
		pending []rune
	)
	flush := func() {
		text := strings.TrimSpace(string(pending))
		pending = pending[:0]
		if text == "" {
			return
		}
		chunks = append(chunks, c.newChunk(doc, len(chunks)+1, text))
	}

	for _, part := range strings.Split(doc.Content, c.sep) {
		runes := []rune(strings.TrimSpace(part))
		if len(runes) == 0 {
			continue
		}
		if len(pending) > 0 && len(pending)+len(c.sep)+len(runes) > c.size {
			flush()
		}
		if len(runes) <= c.size {
			if len(pending) > 0 {
				pending = append(pending, []rune(c.sep)...)
			}
			pending = append(pending, runes...)
			continue
		}
		for len(runes) > c.size {
			end := c.cut(runes)
			pending = append(pending, runes[:end]...)
			flush()
			runes = runes[max(end-c.overlap, 1):]
		}
		pending = append(pending, runes...)
	}
	flush()
	return chunks
}

// cut prefers to end a window at the last whitespace in its final fifth.
func (c *Chunker) cut(runes []rune) int {
	floor := c.size - c.size/5
	for i := c.size; i > floor; i-- {
		if unicode.IsSpace(runes[i-1]) {
			return i
		}
	}
	return c.size
}

func (c *Chunker) newChunk(doc Document, ordinal int, text string) Chunk {
	return Chunk{
		ID:         fmt.Sprintf("%s#%d", doc.ID, ordinal),
		DocumentID: doc.ID,
		Content:    text,
		Ordinal:    ordinal,
		Metadata:   maps.Clone(doc.Metadata),
	}
}
