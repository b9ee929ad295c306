package ingest

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"strings"

	errorskg "github.com/sweetpotato0/lexcrag/errors"
	"github.com/sweetpotato0/lexcrag/legal"
	"github.com/sweetpotato0/lexcrag/pkg/logging"
	"github.com/sweetpotato0/lexcrag/pkg/telemetry"
	"github.com/sweetpotato0/lexcrag/rag/preprocess"
	"github.com/sweetpotato0/lexcrag/vector"
	"go.opentelemetry.io/otel/attribute"
)

const defaultBatchSize = 32

// Stats summarises an indexing run.
type Stats struct {
	Documents int `json:"documents"`
	Chunks    int `json:"chunks"`
	Skipped   int `json:"skipped"`
}

type Option func(*Indexer)

func WithChunker(c *Chunker) Option {
	return func(ix *Indexer) {
		if c != nil {
			ix.chunker = c
		}
	}
}

func WithBatchSize(n int) Option {
	return func(ix *Indexer) {
		if n > 0 {
			ix.batch = n
		}
	}
}

// WithDefaults sets metadata applied to every document that does not set the
// key itself, e.g. the authority or jurisdiction of a whole corpus.
func WithDefaults(meta map[string]string) Option {
	return func(ix *Indexer) { ix.defaults = maps.Clone(meta) }
}

func WithLogger(l *slog.Logger) Option {
	return func(ix *Indexer) { ix.logger = l }
}

// Indexer embeds document chunks and writes them to a vector store.
type Indexer struct {
	embedder vector.Embedder
	store    vector.VectorStore
	chunker  *Chunker
	batch    int
	defaults map[string]string
	logger   *slog.Logger
}

func NewIndexer(embedder vector.Embedder, store vector.VectorStore, opts ...Option) (*Indexer, error) {
	if embedder == nil || store == nil {
		return nil, fmt.Errorf("indexer needs an embedder and a store: %w", errorskg.ErrInvalidInput)
	}
	ix := &Indexer{
		embedder: embedder,
		store:    store,
		chunker:  NewChunker(),
		batch:    defaultBatchSize,
		logger:   logging.WithComponent("ingest"),
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix, nil
}

// Index chunks, embeds and stores docs. Documents without content are
// skipped; the first embedding or store failure aborts the run.
func (ix *Indexer) Index(ctx context.Context, docs ...Document) (stats Stats, err error) {
	ctx, span := telemetry.Start(ctx, "ingest.index")
	defer func() {
		span.SetAttributes(attribute.Int("ingest.chunks", stats.Chunks))
		telemetry.End(span, err)
	}()

	var chunks []Chunk
	for _, doc := range docs {
		if strings.TrimSpace(doc.Content) == "" || doc.ID == "" {
			stats.Skipped++
			continue
		}
		doc.Metadata = ix.metadata(doc)
		chunks = append(chunks, ix.chunker.Chunk(doc)...)
		stats.Documents++
	}

	for start := 0; start < len(chunks); start += ix.batch {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		batch := chunks[start:min(start+ix.batch, len(chunks))]
		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Content
		}
		vectors, err := ix.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return stats, fmt.Errorf("embed chunks: %w", err)
		}
		if len(vectors) != len(batch) {
			return stats, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(batch))
		}
		for i, c := range batch {
			emb := &vector.Embedding{ID: c.ID, Vector: vectors[i], Text: c.Content, Metadata: c.Metadata}
			if err := ix.store.AddEmbedding(ctx, emb); err != nil {
				return stats, fmt.Errorf("store chunk %s: %w", c.ID, err)
			}
			stats.Chunks++
		}
	}

	ix.logger.InfoContext(ctx, "indexed documents", "documents", stats.Documents, "chunks", stats.Chunks, "skipped", stats.Skipped)
	return stats, nil
}

func (ix *Indexer) metadata(doc Document) map[string]string {
	meta := maps.Clone(ix.defaults)
	if meta == nil {
		meta = make(map[string]string)
	}
	maps.Copy(meta, doc.Metadata)
	if doc.Title != "" {
		meta[vector.MetaTitle] = doc.Title
	}
	if meta[vector.MetaSource] == "" {
		meta[vector.MetaSource] = string(legal.SourceVectorDB)
	}
	return meta
}

var readable = map[string]bool{".txt": true, ".md": true, ".html": true, ".htm": true}

// LoadDir reads every text, markdown and HTML file under dir. HTML is reduced
// to text and all content is cleaned. Document IDs are the slash-separated
// paths relative to dir.
func LoadDir(dir string) ([]Document, error) {
	var docs []Document
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !readable[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		name := filepath.Base(path)
		docs = append(docs, Document{
			ID:      filepath.ToSlash(rel),
			Title:   strings.TrimSuffix(name, filepath.Ext(name)),
			Content: preprocess.Snippet(string(raw)),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", dir, err)
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("no indexable files under %s: %w", dir, errorskg.ErrInvalidInput)
	}
	return docs, nil
}

// IndexDir loads dir and indexes its documents.
func (ix *Indexer) IndexDir(ctx context.Context, dir string) (Stats, error) {
	docs, err := LoadDir(dir)
	if err != nil {
		return Stats{}, err
	}
	return ix.Index(ctx, docs...)
}
