package ingest

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/goleak"

	"github.com/velikanov/kbase/internal/chunk"
	"github.com/velikanov/kbase/internal/embed"
	"github.com/velikanov/kbase/internal/extract"
	"github.com/velikanov/kbase/internal/log"
	"github.com/velikanov/kbase/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type addedChunk struct {
	index    int
	content  string
	metadata map[string]any
}

type mockDocStore struct {
	hasDocument bool
	hasErr      error
	addDocErr   error

	// addChunkErr makes AddChunk fail once addChunkErrAfter chunks
	// have been accepted.
	addChunkErr      error
	addChunkErrAfter int

	nextDocID int64
	finalized int
	chunks    []addedChunk

	docs      []store.Document
	deleted   bool
	deleteErr error
}

func (m *mockDocStore) HasDocument(context.Context, string) (bool, error) {
	return m.hasDocument, m.hasErr
}

func (m *mockDocStore) AddDocument(context.Context, string, string, int64) (int64, error) {
	if m.addDocErr != nil {
		return 0, m.addDocErr
	}
	return m.nextDocID, nil
}

func (m *mockDocStore) AddChunk(_ context.Context, _ int64, index int, content string, _ []float32, metadata map[string]any) error {
	if m.addChunkErr != nil && len(m.chunks) >= m.addChunkErrAfter {
		return m.addChunkErr
	}
	m.chunks = append(m.chunks, addedChunk{index: index, content: content, metadata: metadata})
	return nil
}

func (m *mockDocStore) FinalizeDocument(_ context.Context, _ int64, chunkCount int) error {
	m.finalized = chunkCount
	return nil
}

func (m *mockDocStore) DeleteDocument(context.Context, int64) (bool, error) {
	return m.deleted, m.deleteErr
}

func (m *mockDocStore) ListDocuments(context.Context) ([]store.Document, error) {
	return m.docs, nil
}

// mockEmbedder fails every text listed in failTexts.
type mockEmbedder struct {
	failTexts map[string]bool
}

func (m *mockEmbedder) EmbedBatch(_ context.Context, texts []string) []embed.BatchResult {
	results := make([]embed.BatchResult, len(texts))
	for i, text := range texts {
		if m.failTexts[text] {
			results[i] = embed.BatchResult{Err: errors.New("simulated embedding failure")}
			continue
		}
		results[i] = embed.BatchResult{Vector: []float32{0.1, 0.2}}
	}
	return results
}

func newTestPipeline(t *testing.T, s DocumentStore, e BatchEmbedder) *Pipeline {
	t.Helper()
	splitter, err := chunk.New(100, 20)
	if err != nil {
		t.Fatalf("creating splitter: %v", err)
	}
	return New(s, e, splitter, log.NewNop())
}

func TestProcessFile(t *testing.T) {
	st := &mockDocStore{nextDocID: 7}
	p := newTestPipeline(t, st, &mockEmbedder{})

	text := strings.Repeat("wind turbines convert kinetic energy. ", 10)
	res, err := p.ProcessFile(context.Background(), []byte(text), "notes.txt", 42)
	if err != nil {
		t.Fatalf("ProcessFile: %v", err)
	}

	if res.DocumentID != 7 || res.Filename != "notes.txt" {
		t.Errorf("unexpected result: %+v", res)
	}
	if res.ChunksCreated == 0 || res.ChunksCreated != len(st.chunks) {
		t.Errorf("chunks created = %d, persisted = %d", res.ChunksCreated, len(st.chunks))
	}
	if res.ChunksSkipped != 0 {
		t.Errorf("chunks skipped = %d, want 0", res.ChunksSkipped)
	}
	if st.finalized != res.ChunksCreated {
		t.Errorf("finalized count = %d, want %d", st.finalized, res.ChunksCreated)
	}

	first := st.chunks[0]
	if first.metadata["filename"] != "notes.txt" || first.metadata["uploaded_by"] != int64(42) {
		t.Errorf("unexpected chunk metadata: %+v", first.metadata)
	}
	if first.metadata["chunk_index"] != 0 {
		t.Errorf("chunk_index = %v", first.metadata["chunk_index"])
	}
}

func TestProcessFile_Duplicate(t *testing.T) {
	p := newTestPipeline(t, &mockDocStore{hasDocument: true}, &mockEmbedder{})

	_, err := p.ProcessFile(context.Background(), []byte("some document content here"), "a.txt", 1)
	if !errors.Is(err, store.ErrDuplicateDocument) {
		t.Errorf("expected ErrDuplicateDocument, got %v", err)
	}
}

func TestProcessFile_EmptyDocument(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"blank", []byte("   \n\t  ")},
		{"below floor", []byte("too short")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestPipeline(t, &mockDocStore{}, &mockEmbedder{})
			_, err := p.ProcessFile(context.Background(), tt.data, "a.txt", 1)
			if !errors.Is(err, ErrEmptyDocument) {
				t.Errorf("expected ErrEmptyDocument, got %v", err)
			}
		})
	}
}

func TestProcessFile_UnsupportedFormat(t *testing.T) {
	p := newTestPipeline(t, &mockDocStore{}, &mockEmbedder{})

	_, err := p.ProcessFile(context.Background(), []byte("binary payload goes here"), "image.png", 1)
	if !errors.Is(err, extract.ErrUnsupportedFormat) {
		t.Errorf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestProcessFile_SkipsFailedChunks(t *testing.T) {
	st := &mockDocStore{nextDocID: 7}
	// Three sentences of 40 chars split at size 100 give multiple
	// chunks; failing the first leaves the rest persisted.
	text := "aaaa aaaa aaaa aaaa aaaa aaaa aaaa aaaa. " +
		"bbbb bbbb bbbb bbbb bbbb bbbb bbbb bbbb. " +
		"cccc cccc cccc cccc cccc cccc cccc cccc."

	splitter, err := chunk.New(100, 20)
	if err != nil {
		t.Fatal(err)
	}
	chunks := splitter.Split(text)
	if len(chunks) < 2 {
		t.Fatalf("test setup: expected multiple chunks, got %d", len(chunks))
	}

	p := newTestPipeline(t, st, &mockEmbedder{failTexts: map[string]bool{chunks[0]: true}})

	res, err := p.ProcessFile(context.Background(), []byte(text), "a.txt", 1)
	if err != nil {
		t.Fatalf("ProcessFile: %v", err)
	}
	if res.ChunksSkipped != 1 {
		t.Errorf("chunks skipped = %d, want 1", res.ChunksSkipped)
	}
	if res.ChunksCreated != len(chunks)-1 {
		t.Errorf("chunks created = %d, want %d", res.ChunksCreated, len(chunks)-1)
	}
	if st.finalized != res.ChunksCreated {
		t.Errorf("finalized = %d, want persisted count %d", st.finalized, res.ChunksCreated)
	}

	// Indices reflect split order, so the surviving chunks keep their
	// original positions and gaps mark the skipped ones.
	for _, c := range st.chunks {
		if c.index == 0 {
			t.Error("skipped chunk 0 must not be persisted")
		}
		if c.metadata["total_chunks"] != len(chunks) {
			t.Errorf("total_chunks = %v, want %d", c.metadata["total_chunks"], len(chunks))
		}
	}
}

func TestProcessFile_PersistErrorAborts(t *testing.T) {
	st := &mockDocStore{nextDocID: 7, addChunkErr: errors.New("disk full")}
	p := newTestPipeline(t, st, &mockEmbedder{})

	_, err := p.ProcessFile(context.Background(), []byte("a perfectly reasonable document body"), "a.txt", 1)
	if err == nil {
		t.Fatal("expected persistence error to abort ingestion")
	}
	if st.finalized != 0 {
		t.Errorf("finalized = %d, want 0 when nothing persisted", st.finalized)
	}
}

func TestProcessFile_PersistErrorFinalizesPartialCount(t *testing.T) {
	// The second chunk's insert fails; total_chunks must still record
	// the one chunk that made it in.
	st := &mockDocStore{nextDocID: 7, addChunkErr: errors.New("disk full"), addChunkErrAfter: 1}
	text := "aaaa aaaa aaaa aaaa aaaa aaaa aaaa aaaa. " +
		"bbbb bbbb bbbb bbbb bbbb bbbb bbbb bbbb. " +
		"cccc cccc cccc cccc cccc cccc cccc cccc."
	p := newTestPipeline(t, st, &mockEmbedder{})

	_, err := p.ProcessFile(context.Background(), []byte(text), "a.txt", 1)
	if err == nil {
		t.Fatal("expected persistence error to abort ingestion")
	}
	if len(st.chunks) != 1 {
		t.Fatalf("persisted chunks = %d, want 1", len(st.chunks))
	}
	if st.finalized != 1 {
		t.Errorf("finalized = %d, want the persisted count 1", st.finalized)
	}
}

func TestProcessFile_SameContentDifferentName(t *testing.T) {
	st := &mockDocStore{hasDocument: true}
	p := newTestPipeline(t, st, &mockEmbedder{})

	// Dedup keys on content, not filename.
	_, err := p.ProcessFile(context.Background(), []byte("identical bytes in both uploads"), "renamed.txt", 1)
	if !errors.Is(err, store.ErrDuplicateDocument) {
		t.Errorf("expected ErrDuplicateDocument for renamed duplicate, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	p := newTestPipeline(t, &mockDocStore{deleted: true}, &mockEmbedder{})

	ok, err := p.Delete(context.Background(), 7)
	if err != nil || !ok {
		t.Errorf("Delete = (%t, %v), want (true, nil)", ok, err)
	}
}

func TestList(t *testing.T) {
	st := &mockDocStore{docs: []store.Document{{ID: 1, Filename: "a.txt"}}}
	p := newTestPipeline(t, st, &mockEmbedder{})

	docs, err := p.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(docs) != 1 || docs[0].Filename != "a.txt" {
		t.Errorf("docs = %+v", docs)
	}
}
