package store

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/pgvector/pgvector-go"

	"github.com/velikanov/kbase/internal/log"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("creating mock pool: %v", err)
	}
	t.Cleanup(mock.Close)
	return New(mock, log.NewNop()), mock
}

func expectMet(t *testing.T, mock pgxmock.PgxPoolIface) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestAddDocument(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO rag_documents")).
		WithArgs("report.pdf", "abc123", int64(42)).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(7)))

	id, err := s.AddDocument(context.Background(), "report.pdf", "abc123", 42)
	if err != nil {
		t.Fatalf("AddDocument: %v", err)
	}
	if id != 7 {
		t.Errorf("id = %d, want 7", id)
	}
	expectMet(t, mock)
}

func TestAddDocument_Duplicate(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO rag_documents")).
		WithArgs("report.pdf", "abc123", int64(42)).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	_, err := s.AddDocument(context.Background(), "report.pdf", "abc123", 42)
	if !errors.Is(err, ErrDuplicateDocument) {
		t.Errorf("expected ErrDuplicateDocument, got %v", err)
	}
	expectMet(t, mock)
}

func TestHasDocument(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WithArgs("abc123").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	exists, err := s.HasDocument(context.Background(), "abc123")
	if err != nil {
		t.Fatalf("HasDocument: %v", err)
	}
	if !exists {
		t.Error("expected exists = true")
	}
	expectMet(t, mock)
}

func TestAddChunk(t *testing.T) {
	s, mock := newMockStore(t)

	embedding := []float32{0.1, 0.2, 0.3}
	metadata := map[string]any{"filename": "a.txt", "chunk_index": 0}
	metadataJSON, _ := json.Marshal(metadata)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO rag_chunks")).
		WithArgs(int64(7), 0, "chunk content", pgvector.NewVector(embedding), metadataJSON).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.AddChunk(context.Background(), 7, 0, "chunk content", embedding, metadata)
	if err != nil {
		t.Fatalf("AddChunk: %v", err)
	}
	expectMet(t, mock)
}

func TestFinalizeDocument(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE rag_documents SET total_chunks")).
		WithArgs(5, int64(7)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	if err := s.FinalizeDocument(context.Background(), 7, 5); err != nil {
		t.Fatalf("FinalizeDocument: %v", err)
	}
	expectMet(t, mock)
}

func TestSearch_OrderedResults(t *testing.T) {
	s, mock := newMockStore(t)

	queryVec := []float32{0.5, 0.5}
	rows := pgxmock.NewRows([]string{"id", "content", "metadata", "filename", "similarity"}).
		AddRow(int64(1), "most similar", []byte(`{"chunk_index":0}`), "a.txt", 0.95).
		AddRow(int64(2), "less similar", []byte(`{"chunk_index":3}`), "b.txt", 0.80)

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY c.embedding <=> $1")).
		WithArgs(pgvector.NewVector(queryVec), 4).
		WillReturnRows(rows)

	matches, err := s.Search(context.Background(), queryVec, 4)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("got %d matches, want 2", len(matches))
	}

	if matches[0].Similarity < matches[1].Similarity {
		t.Error("results not in descending similarity order")
	}
	if matches[0].Content != "most similar" || matches[0].Filename != "a.txt" {
		t.Errorf("unexpected first match: %+v", matches[0])
	}
	if idx, ok := matches[1].Metadata["chunk_index"].(float64); !ok || idx != 3 {
		t.Errorf("metadata not parsed: %+v", matches[1].Metadata)
	}
	expectMet(t, mock)
}

func TestSearch_Empty(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY c.embedding <=> $1")).
		WithArgs(pgvector.NewVector([]float32{1}), 4).
		WillReturnRows(pgxmock.NewRows([]string{"id", "content", "metadata", "filename", "similarity"}))

	matches, err := s.Search(context.Background(), []float32{1}, 4)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("expected no matches, got %d", len(matches))
	}
	expectMet(t, mock)
}

func TestDeleteDocument(t *testing.T) {
	tests := []struct {
		name         string
		rowsAffected int64
		want         bool
	}{
		{"existing document", 1, true},
		{"missing document", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMockStore(t)

			mock.ExpectExec(regexp.QuoteMeta("DELETE FROM rag_documents WHERE id = $1")).
				WithArgs(int64(7)).
				WillReturnResult(pgxmock.NewResult("DELETE", tt.rowsAffected))

			deleted, err := s.DeleteDocument(context.Background(), 7)
			if err != nil {
				t.Fatalf("DeleteDocument: %v", err)
			}
			if deleted != tt.want {
				t.Errorf("deleted = %t, want %t", deleted, tt.want)
			}
			expectMet(t, mock)
		})
	}
}

func TestListDocuments(t *testing.T) {
	s, mock := newMockStore(t)

	now := time.Now()
	rows := pgxmock.NewRows([]string{"id", "filename", "content_hash", "uploaded_by", "total_chunks", "created_at"}).
		AddRow(int64(2), "newer.txt", "hash2", int64(1), 3, now).
		AddRow(int64(1), "older.txt", "hash1", int64(1), 8, now.Add(-time.Hour))

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY created_at DESC")).
		WillReturnRows(rows)

	docs, err := s.ListDocuments(context.Background())
	if err != nil {
		t.Fatalf("ListDocuments: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("got %d documents, want 2", len(docs))
	}
	if docs[0].Filename != "newer.txt" || docs[0].TotalChunks != 3 {
		t.Errorf("unexpected first document: %+v", docs[0])
	}
	expectMet(t, mock)
}

func TestLogUsage(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO rag_usage_stats")).
		WithArgs(int64(42), "what is the capacity factor?", 2, int64(350)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.LogUsage(context.Background(), 42, "what is the capacity factor?", 2, 350)
	if err != nil {
		t.Fatalf("LogUsage: %v", err)
	}
	expectMet(t, mock)
}

func TestDocumentStats(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT (SELECT COUNT(*) FROM rag_documents)")).
		WillReturnRows(pgxmock.NewRows([]string{"documents", "chunks"}).AddRow(int64(3), int64(57)))

	stats, err := s.DocumentStats(context.Background())
	if err != nil {
		t.Fatalf("DocumentStats: %v", err)
	}
	if stats.Documents != 3 || stats.Chunks != 57 {
		t.Errorf("stats = %+v", stats)
	}
	expectMet(t, mock)
}

func TestUsageStats(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM rag_usage_stats")).
		WillReturnRows(pgxmock.NewRows([]string{"today", "total"}).AddRow(int64(5), int64(120)))

	stats, err := s.UsageStats(context.Background())
	if err != nil {
		t.Fatalf("UsageStats: %v", err)
	}
	if stats.QueriesToday != 5 || stats.QueriesTotal != 120 {
		t.Errorf("stats = %+v", stats)
	}
	expectMet(t, mock)
}

func TestSearch_QueryError(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY c.embedding <=> $1")).
		WithArgs(pgvector.NewVector([]float32{1}), 4).
		WillReturnError(errors.New("connection reset"))

	if _, err := s.Search(context.Background(), []float32{1}, 4); err == nil {
		t.Fatal("expected error to propagate")
	}
	expectMet(t, mock)
}
