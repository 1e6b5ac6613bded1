package ingest

import (
	"context"
	"errors"
	"strings"
	"testing"
)

// fakeEmbedder hands back one-dimension vectors, leaving nil gaps at the
// requested indices.
type fakeEmbedder struct {
	nilAt map[int]bool
	err   error
	got   []string
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string, _ int) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.got = texts
	out := make([][]float32, len(texts))
	for i := range texts {
		if !f.nilAt[i] {
			out[i] = []float32{1}
		}
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vecs, err := f.EmbedBatch(ctx, []string{text}, 1)
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

type savedChunk struct {
	docID     string
	content   string
	embedding []float32
}

type fakeWriter struct {
	docID   string
	docErr  error
	chunks  []savedChunk
	saveErr error
}

func (f *fakeWriter) SaveDocument(_ context.Context, _, _ string) (string, error) {
	if f.docErr != nil {
		return "", f.docErr
	}
	return f.docID, nil
}

func (f *fakeWriter) SaveChunk(_ context.Context, docID, content string, embedding []float32) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.chunks = append(f.chunks, savedChunk{docID: docID, content: content, embedding: embedding})
	return nil
}

func Test_Ingest_StagesAndPersistence(t *testing.T) {
	t.Parallel()
	embedder := &fakeEmbedder{}
	writer := &fakeWriter{docID: "doc-1"}
	p, err := NewPipeline(embedder, writer, &Config{ChunkSize: 20})
	if err != nil {
		t.Fatal(err)
	}

	content := strings.Join([]string{
		"first paragraph here",
		"second paragraph too",
		"third one closes it",
	}, "\n\n")

	var events []Progress
	docID, err := p.Ingest(context.Background(), "doc.txt", content, func(pr Progress) {
		events = append(events, pr)
	})
	if err != nil {
		t.Fatal(err)
	}
	if docID != "doc-1" {
		t.Errorf("docID = %q", docID)
	}

	if len(writer.chunks) == 0 {
		t.Fatal("no chunks persisted")
	}
	for i, c := range writer.chunks {
		if c.docID != "doc-1" {
			t.Errorf("chunk %d docID = %q", i, c.docID)
		}
		if c.embedding == nil {
			t.Errorf("chunk %d missing embedding", i)
		}
	}

	if events[0].Stage != StageChunking || events[0].Total != len(writer.chunks) {
		t.Errorf("first event = %+v, want chunking with total", events[0])
	}
	last := events[len(events)-1]
	if last.Stage != StageDone || last.Done != len(writer.chunks) {
		t.Errorf("last event = %+v, want done", last)
	}
	embeddingEvents := 0
	for _, e := range events {
		if e.Stage == StageEmbedding {
			embeddingEvents++
		}
	}
	if embeddingEvents != len(writer.chunks) {
		t.Errorf("want one embedding event per chunk, got %d for %d chunks",
			embeddingEvents, len(writer.chunks))
	}
}

func Test_Ingest_FailedVectorsStillPersisted(t *testing.T) {
	t.Parallel()
	embedder := &fakeEmbedder{nilAt: map[int]bool{0: true}}
	writer := &fakeWriter{docID: "doc-1"}
	p, _ := NewPipeline(embedder, writer, &Config{ChunkSize: 10})

	_, err := p.Ingest(context.Background(), "doc.txt", "alpha beta\n\ngamma del", nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(writer.chunks) != 2 {
		t.Fatalf("want 2 chunks, got %d", len(writer.chunks))
	}
	if writer.chunks[0].embedding != nil {
		t.Error("first chunk must be saved without an embedding")
	}
	if writer.chunks[1].embedding == nil {
		t.Error("second chunk must keep its embedding")
	}
}

func Test_Ingest_EmbedErrorAborts(t *testing.T) {
	t.Parallel()
	embedder := &fakeEmbedder{err: errors.New("provider down")}
	writer := &fakeWriter{docID: "doc-1"}
	p, _ := NewPipeline(embedder, writer, nil)

	_, err := p.Ingest(context.Background(), "doc.txt", "some text", nil)
	if err == nil {
		t.Fatal("want error when the whole embed call fails")
	}
	if len(writer.chunks) != 0 {
		t.Error("no chunks may be persisted after an embed failure")
	}
}

func Test_Ingest_EmptyDocument(t *testing.T) {
	t.Parallel()
	embedder := &fakeEmbedder{}
	writer := &fakeWriter{docID: "doc-1"}
	p, _ := NewPipeline(embedder, writer, nil)

	var events []Progress
	docID, err := p.Ingest(context.Background(), "empty.txt", "", func(pr Progress) {
		events = append(events, pr)
	})
	if err != nil {
		t.Fatal(err)
	}
	if docID != "doc-1" {
		t.Errorf("empty documents are still recorded, got docID %q", docID)
	}
	if events[len(events)-1].Stage != StageDone {
		t.Errorf("want done event for empty document, got %v", events)
	}
	if embedder.got != nil {
		t.Error("embedder must not be called for an empty document")
	}
}

func Test_NewPipeline_Validation(t *testing.T) {
	t.Parallel()
	if _, err := NewPipeline(nil, &fakeWriter{}, nil); err == nil {
		t.Error("want error for nil embedder")
	}
	if _, err := NewPipeline(&fakeEmbedder{}, nil, nil); err == nil {
		t.Error("want error for nil writer")
	}
}

func Test_NewPipeline_ClampsOverlap(t *testing.T) {
	t.Parallel()
	p, err := NewPipeline(&fakeEmbedder{}, &fakeWriter{}, &Config{ChunkSize: 100, ChunkOverlap: 100})
	if err != nil {
		t.Fatal(err)
	}
	if p.cfg.ChunkOverlap != 10 {
		t.Errorf("overlap = %d, want clamped to size/10", p.cfg.ChunkOverlap)
	}
}
