// Package ingest runs the document intake pipeline: dedup check, text
// extraction, chunking, embedding and persistence.
//
// Chunk embedding failures degrade rather than abort: a chunk whose
// embedding fails is skipped, the rest of the document is still
// persisted, and the result reports how many chunks were lost.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/velikanov/kbase/internal/chunk"
	"github.com/velikanov/kbase/internal/embed"
	"github.com/velikanov/kbase/internal/extract"
	"github.com/velikanov/kbase/internal/log"
	"github.com/velikanov/kbase/internal/store"
)

// minTextChars is the floor below which extracted text is treated as
// an empty or unreadable document.
const minTextChars = 10

var (
	// ErrEmptyDocument indicates extraction produced no usable text,
	// typically an empty, protected or corrupted file.
	ErrEmptyDocument = errors.New("document contains no extractable text")

	// ErrNoChunks indicates the extracted text could not be split.
	ErrNoChunks = errors.New("document could not be split into chunks")
)

// DocumentStore is the store surface the pipeline consumes.
type DocumentStore interface {
	HasDocument(ctx context.Context, contentHash string) (bool, error)
	AddDocument(ctx context.Context, filename, contentHash string, uploadedBy int64) (int64, error)
	AddChunk(ctx context.Context, documentID int64, index int, content string, embedding []float32, metadata map[string]any) error
	FinalizeDocument(ctx context.Context, documentID int64, chunkCount int) error
	DeleteDocument(ctx context.Context, documentID int64) (bool, error)
	ListDocuments(ctx context.Context) ([]store.Document, error)
}

// BatchEmbedder embeds a batch of texts with per-item outcomes.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) []embed.BatchResult
}

// Result summarizes one processed document.
type Result struct {
	DocumentID      int64
	Filename        string
	ChunksCreated   int
	ChunksSkipped   int
	TotalTextLength int
}

// Pipeline ingests documents into the knowledge base.
type Pipeline struct {
	store    DocumentStore
	embedder BatchEmbedder
	splitter *chunk.Splitter
	logger   log.Logger
}

// New creates a Pipeline.
func New(s DocumentStore, e BatchEmbedder, splitter *chunk.Splitter, logger log.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{store: s, embedder: e, splitter: splitter, logger: logger}
}

// ProcessFile ingests one file: content-hash dedup, format-aware text
// extraction, chunking, embedding and persistence. The hash covers the
// raw bytes, so the same content under a different filename is still a
// duplicate. Returns store.ErrDuplicateDocument for repeat uploads and
// extract.ErrUnsupportedFormat for unknown extensions.
func (p *Pipeline) ProcessFile(ctx context.Context, data []byte, filename string, uploadedBy int64) (Result, error) {
	sum := sha256.Sum256(data)
	contentHash := hex.EncodeToString(sum[:])

	// Cheap pre-check; the unique constraint still catches concurrent
	// uploads that race past it.
	exists, err := p.store.HasDocument(ctx, contentHash)
	if err != nil {
		return Result{}, fmt.Errorf("checking for duplicate: %w", err)
	}
	if exists {
		return Result{}, fmt.Errorf("%w: hash %s", store.ErrDuplicateDocument, contentHash)
	}

	text, err := extract.FromFile(data, filename)
	if err != nil {
		return Result{}, fmt.Errorf("extracting text from %s: %w", filename, err)
	}
	if len(strings.TrimSpace(text)) < minTextChars {
		return Result{}, fmt.Errorf("%w: %s", ErrEmptyDocument, filename)
	}

	chunks := p.splitter.Split(text)
	if len(chunks) == 0 {
		return Result{}, fmt.Errorf("%w: %s", ErrNoChunks, filename)
	}

	docID, err := p.store.AddDocument(ctx, filename, contentHash, uploadedBy)
	if err != nil {
		return Result{}, err
	}

	results := p.embedder.EmbedBatch(ctx, chunks)

	persisted, skipped := 0, 0
	for i, r := range results {
		if r.Err != nil {
			p.logger.Warn("skipping chunk, embedding failed",
				"filename", filename, "chunk_index", i, "error", r.Err)
			skipped++
			continue
		}

		metadata := map[string]any{
			"filename":     filename,
			"chunk_index":  i,
			"total_chunks": len(chunks),
			"uploaded_by":  uploadedBy,
		}
		if err := p.store.AddChunk(ctx, docID, i, chunks[i], r.Vector, metadata); err != nil {
			// Keep total_chunks honest about what made it in before
			// surfacing the failure.
			if finErr := p.store.FinalizeDocument(ctx, docID, persisted); finErr != nil {
				p.logger.Warn("finalizing document after chunk failure",
					"document_id", docID, "error", finErr)
			}
			return Result{}, fmt.Errorf("persisting chunk %d: %w", i, err)
		}
		persisted++
	}

	// Record how many chunks actually made it, not how many the
	// splitter produced.
	if err := p.store.FinalizeDocument(ctx, docID, persisted); err != nil {
		return Result{}, err
	}

	p.logger.Info("document ingested",
		"filename", filename, "document_id", docID,
		"chunks", persisted, "skipped", skipped, "text_length", len(text))

	return Result{
		DocumentID:      docID,
		Filename:        filename,
		ChunksCreated:   persisted,
		ChunksSkipped:   skipped,
		TotalTextLength: len(text),
	}, nil
}

// Delete removes a document and its chunks. Reports whether the
// document existed.
func (p *Pipeline) Delete(ctx context.Context, documentID int64) (bool, error) {
	return p.store.DeleteDocument(ctx, documentID)
}

// List returns all ingested documents, newest first.
func (p *Pipeline) List(ctx context.Context) ([]store.Document, error) {
	return p.store.ListDocuments(ctx)
}
