// Package store persists documents, embedded chunks and usage records
// in PostgreSQL and exposes vector similarity search via pgvector.
//
// Store is safe for concurrent use by multiple goroutines; concurrency
// is admission-controlled by the underlying connection pool.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"

	"github.com/velikanov/kbase/internal/log"
)

// ErrDuplicateDocument indicates a document with the same content hash
// already exists. The unique constraint on content_hash is the source
// of truth, so concurrent duplicate uploads cannot race past it.
var ErrDuplicateDocument = errors.New("document already uploaded")

// pgUniqueViolation is the PostgreSQL error code for unique_violation.
const pgUniqueViolation = "23505"

// Document is the stored metadata of one ingested file.
type Document struct {
	ID          int64
	Filename    string
	ContentHash string
	UploadedBy  int64
	TotalChunks int
	CreatedAt   time.Time
}

// ChunkMatch is one similarity search hit: a chunk annotated with its
// source filename and cosine similarity in [-1, 1].
type ChunkMatch struct {
	ID         int64
	Content    string
	Metadata   map[string]any
	Filename   string
	Similarity float64
}

// DocumentStats aggregates knowledge base size.
type DocumentStats struct {
	Documents int64
	Chunks    int64
}

// UsageStats aggregates the usage log.
type UsageStats struct {
	QueriesToday int64
	QueriesTotal int64
}

// DBPool is the connection pool surface the store consumes.
// *pgxpool.Pool satisfies it, as does pgxmock in tests.
type DBPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store implements the knowledge store over PostgreSQL + pgvector.
type Store struct {
	pool   DBPool
	logger log.Logger
}

// New creates a Store using the given pool.
func New(pool DBPool, logger log.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}
}

// Close releases the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}

// AddDocument inserts a document row and returns its id. Returns
// ErrDuplicateDocument when content_hash already exists.
func (s *Store) AddDocument(ctx context.Context, filename, contentHash string, uploadedBy int64) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO rag_documents (filename, content_hash, uploaded_by)
		VALUES ($1, $2, $3)
		RETURNING id
	`, filename, contentHash, uploadedBy).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return 0, fmt.Errorf("%w: hash %s", ErrDuplicateDocument, contentHash)
		}
		return 0, fmt.Errorf("inserting document: %w", err)
	}
	return id, nil
}

// HasDocument reports whether a document with the given content hash
// exists. Used as the cheap pre-check before any chunking or embedding
// work; the unique constraint remains the authoritative guard.
func (s *Store) HasDocument(ctx context.Context, contentHash string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM rag_documents WHERE content_hash = $1)
	`, contentHash).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking for duplicate: %w", err)
	}
	return exists, nil
}

// AddChunk appends one immutable chunk row with its embedding.
func (s *Store) AddChunk(ctx context.Context, documentID int64, index int, content string, embedding []float32, metadata map[string]any) error {
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshaling chunk metadata: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO rag_chunks (document_id, chunk_index, content, embedding, metadata)
		VALUES ($1, $2, $3, $4, $5)
	`, documentID, index, content, pgvector.NewVector(embedding), metadataJSON)
	if err != nil {
		return fmt.Errorf("inserting chunk %d of document %d: %w", index, documentID, err)
	}
	return nil
}

// FinalizeDocument records the count of chunks actually persisted.
// This is the only mutation of an existing document row.
func (s *Store) FinalizeDocument(ctx context.Context, documentID int64, chunkCount int) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE rag_documents SET total_chunks = $1 WHERE id = $2
	`, chunkCount, documentID)
	if err != nil {
		return fmt.Errorf("finalizing document %d: %w", documentID, err)
	}
	return nil
}

// Search returns up to limit chunks ordered by descending cosine
// similarity to the query vector. No relevance filtering happens here;
// thresholding is the retrieval engine's responsibility.
func (s *Store) Search(ctx context.Context, queryVector []float32, limit int) ([]ChunkMatch, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT c.id, c.content, c.metadata, d.filename,
		       1 - (c.embedding <=> $1) AS similarity
		FROM rag_chunks c
		JOIN rag_documents d ON c.document_id = d.id
		ORDER BY c.embedding <=> $1
		LIMIT $2
	`, pgvector.NewVector(queryVector), limit)
	if err != nil {
		return nil, fmt.Errorf("searching chunks: %w", err)
	}
	defer rows.Close()

	var matches []ChunkMatch
	for rows.Next() {
		var (
			m            ChunkMatch
			metadataJSON []byte
		)
		if err := rows.Scan(&m.ID, &m.Content, &metadataJSON, &m.Filename, &m.Similarity); err != nil {
			return nil, fmt.Errorf("scanning search row: %w", err)
		}
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &m.Metadata); err != nil {
				s.logger.Warn("failed to parse chunk metadata", "chunk_id", m.ID, "error", err)
				m.Metadata = map[string]any{}
			}
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating search rows: %w", err)
	}

	return matches, nil
}

// DeleteDocument removes a document; the schema cascades the delete to
// all owned chunks. Reports whether a row was actually removed.
func (s *Store) DeleteDocument(ctx context.Context, documentID int64) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM rag_documents WHERE id = $1`, documentID)
	if err != nil {
		return false, fmt.Errorf("deleting document %d: %w", documentID, err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListDocuments returns all documents, newest first.
func (s *Store) ListDocuments(ctx context.Context) ([]Document, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, filename, content_hash, uploaded_by, total_chunks, created_at
		FROM rag_documents
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.ID, &d.Filename, &d.ContentHash, &d.UploadedBy, &d.TotalChunks, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning document row: %w", err)
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating document rows: %w", err)
	}

	return docs, nil
}

// LogUsage appends one usage record. Records are append-only and never
// mutated or deleted.
func (s *Store) LogUsage(ctx context.Context, userID int64, query string, chunksUsed int, responseTimeMS int64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO rag_usage_stats (user_id, query, chunks_used, response_time_ms)
		VALUES ($1, $2, $3, $4)
	`, userID, query, chunksUsed, responseTimeMS)
	if err != nil {
		return fmt.Errorf("logging usage: %w", err)
	}
	return nil
}

// DocumentStats returns knowledge base size counters.
func (s *Store) DocumentStats(ctx context.Context) (DocumentStats, error) {
	var stats DocumentStats
	err := s.pool.QueryRow(ctx, `
		SELECT (SELECT COUNT(*) FROM rag_documents),
		       (SELECT COUNT(*) FROM rag_chunks)
	`).Scan(&stats.Documents, &stats.Chunks)
	if err != nil {
		return DocumentStats{}, fmt.Errorf("counting documents: %w", err)
	}
	return stats, nil
}

// UsageStats returns query counters for today and overall.
func (s *Store) UsageStats(ctx context.Context) (UsageStats, error) {
	var stats UsageStats
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FILTER (WHERE created_at::date = CURRENT_DATE),
		       COUNT(*)
		FROM rag_usage_stats
	`).Scan(&stats.QueriesToday, &stats.QueriesTotal)
	if err != nil {
		return UsageStats{}, fmt.Errorf("counting usage: %w", err)
	}
	return stats, nil
}
