package rag_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/mock/gomock"

	"ragassist/internal/llm"
	"ragassist/internal/rag"
	"ragassist/internal/rag/mocks"
	"ragassist/internal/registry"
	"ragassist/internal/storage"
	"ragassist/internal/vectorstore"
)

func init() {
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

type seedChunk struct {
	text   string
	vector []float32
}

// fixture wires the engine to real SQLite repos, a real registry and a file index.
type fixture struct {
	docs    *storage.DocumentRepo
	chunks  *storage.ChunkRepo
	vectors *storage.VectorRepo
	reg     *registry.Registry
	index   *vectorstore.FileStore
}

func newFixture(t *testing.T, dim int) *fixture {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	db, err := storage.New(filepath.Join(dir, "app.db"))
	if err != nil {
		t.Fatalf("storage.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := storage.Migrate(db); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	vectors := storage.NewVectorRepo(db)
	reg, err := registry.Load(ctx, vectors)
	if err != nil {
		t.Fatalf("registry.Load() error = %v", err)
	}
	index, err := vectorstore.OpenFileStore(filepath.Join(dir, "faiss.index"), dim)
	if err != nil {
		t.Fatalf("OpenFileStore() error = %v", err)
	}

	return &fixture{
		docs:    storage.NewDocumentRepo(db),
		chunks:  storage.NewChunkRepo(db),
		vectors: vectors,
		reg:     reg,
		index:   index,
	}
}

// addDocument stores a document with the given chunks and indexes their vectors.
func (f *fixture) addDocument(t *testing.T, docID, filename string, seeds ...seedChunk) {
	t.Helper()
	f.addDocumentVia(t, f.reg, docID, filename, seeds...)
}

// addDocumentVia is addDocument with the vectors registered through reg.
func (f *fixture) addDocumentVia(t *testing.T, reg *registry.Registry, docID, filename string, seeds ...seedChunk) {
	t.Helper()
	ctx := context.Background()

	if err := f.docs.Insert(ctx, &storage.DocumentRecord{
		ID: docID, Filename: filename, ContentType: "text/plain", StoragePath: docID + "_" + filename,
	}); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	records := make([]storage.ChunkRecord, len(seeds))
	vectors := make([][]float32, len(seeds))
	for i, s := range seeds {
		start, end := 0, len([]rune(s.text))
		records[i] = storage.ChunkRecord{
			ID: docID + "-" + string(rune('a'+i)), DocumentID: docID, ChunkIndex: i,
			Text: s.text, StartChar: &start, EndChar: &end,
		}
		vectors[i] = s.vector
	}
	if err := f.chunks.InsertBatch(ctx, records); err != nil {
		t.Fatalf("InsertBatch() error = %v", err)
	}

	ids, err := f.index.Add(ctx, vectors)
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	entries := make([]storage.VectorEntry, len(ids))
	for i, id := range ids {
		entries[i] = storage.VectorEntry{ChunkID: records[i].ID, InternalID: id, EmbeddingModel: "test-embed"}
	}
	if err := reg.Register(ctx, entries); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
}

func (f *fixture) engine(embedder rag.Embedder, generator rag.Generator) rag.Engine {
	return f.engineWith(embedder, generator, rag.DefaultOptions())
}

func (f *fixture) engineWith(embedder rag.Embedder, generator rag.Generator, opts rag.Options) rag.Engine {
	return rag.NewEngine(embedder, f.index, f.reg, f.chunks, f.docs, generator, opts)
}

func queryEmbedder(ctrl *gomock.Controller, vector []float32) *mocks.MockEmbedder {
	embedder := mocks.NewMockEmbedder(ctrl)
	embedder.EXPECT().ModelName().Return("test-embed").AnyTimes()
	embedder.EXPECT().EmbedQuery(gomock.Any(), gomock.Any()).Return(vector, nil).AnyTimes()
	return embedder
}

func generatorMock(ctrl *gomock.Controller) *mocks.MockGenerator {
	generator := mocks.NewMockGenerator(ctrl)
	generator.EXPECT().Provider().Return("ollama").AnyTimes()
	generator.EXPECT().ModelName().Return("llama3.2:3b").AnyTimes()
	return generator
}

func collect(t *testing.T, events <-chan rag.StreamEvent) []rag.StreamEvent {
	t.Helper()
	var out []rag.StreamEvent
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("stream did not close")
			return out
		}
	}
}

func eventTypes(events []rag.StreamEvent) []rag.StreamEventType {
	types := make([]rag.StreamEventType, len(events))
	for i, ev := range events {
		types[i] = ev.Type
	}
	return types
}

func TestSearch_IndexNotReady(t *testing.T) {
	ctrl := gomock.NewController(t)
	f := newFixture(t, 2)

	embedder := mocks.NewMockEmbedder(ctrl)
	embedder.EXPECT().ModelName().Return("test-embed").AnyTimes()
	// No EmbedQuery expectation: readiness is checked before embedding.

	_, err := f.engine(embedder, generatorMock(ctrl)).Search(context.Background(), "anything", 5)
	if !errors.Is(err, vectorstore.ErrIndexNotReady) {
		t.Fatalf("Search() error = %v, want ErrIndexNotReady", err)
	}
}

func TestSearch_RanksAndHydrates(t *testing.T) {
	ctrl := gomock.NewController(t)
	f := newFixture(t, 2)
	f.addDocument(t, "d1", "low.txt", seedChunk{"orthogonal", []float32{0, 1}})
	f.addDocument(t, "d2", "high.txt", seedChunk{"aligned", []float32{1, 0}}, seedChunk{"tilted", []float32{0.6, 0.8}})

	engine := f.engine(queryEmbedder(ctrl, []float32{1, 0}), generatorMock(ctrl))

	result, err := engine.Search(context.Background(), "query", 0)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if result.TopK != rag.DefaultTopK || result.Query != "query" || result.EmbeddingModel != "test-embed" {
		t.Errorf("unexpected result header: %+v", result)
	}

	want := []string{"aligned", "tilted", "orthogonal"}
	if len(result.Hits) != len(want) {
		t.Fatalf("Search() returned %d hits, want %d", len(result.Hits), len(want))
	}
	for i, h := range result.Hits {
		if h.Text != want[i] {
			t.Errorf("hit %d text = %q, want %q", i, h.Text, want[i])
		}
		if i > 0 && h.Score > result.Hits[i-1].Score {
			t.Errorf("hits not sorted by score: %v > %v", h.Score, result.Hits[i-1].Score)
		}
	}
	first := result.Hits[0]
	if first.Filename != "high.txt" || first.DocumentID != "d2" || first.ChunkIndex != 0 || first.StartChar == nil {
		t.Errorf("hit not hydrated: %+v", first)
	}
}

func TestSearch_DropsStaleReferences(t *testing.T) {
	ctrl := gomock.NewController(t)
	ctx := context.Background()
	f := newFixture(t, 2)
	f.addDocument(t, "d1", "gone.txt", seedChunk{"deleted", []float32{1, 0}})
	f.addDocument(t, "d2", "kept.txt", seedChunk{"kept", []float32{0.6, 0.8}})

	if err := f.docs.Delete(ctx, "d1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	result, err := f.engine(queryEmbedder(ctrl, []float32{1, 0}), generatorMock(ctrl)).Search(ctx, "q", 5)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(result.Hits) != 1 || result.Hits[0].Text != "kept" {
		t.Errorf("expected only the surviving chunk, got %+v", result.Hits)
	}
}

func TestSearch_EqualScoresKeepIndexOrder(t *testing.T) {
	ctrl := gomock.NewController(t)
	f := newFixture(t, 2)
	f.addDocument(t, "zeta", "z.txt", seedChunk{"first indexed", []float32{1, 0}})
	f.addDocument(t, "alpha", "a.txt", seedChunk{"second indexed", []float32{1, 0}})
	f.addDocument(t, "mid", "m.txt", seedChunk{"lower score", []float32{0.6, 0.8}})

	result, err := f.engine(queryEmbedder(ctrl, []float32{1, 0}), generatorMock(ctrl)).
		Search(context.Background(), "q", 5)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(result.Hits) != 3 {
		t.Fatalf("got %d hits, want 3", len(result.Hits))
	}
	want := []string{"zeta", "alpha", "mid"}
	for i, h := range result.Hits {
		if h.DocumentID != want[i] {
			t.Errorf("hit %d document = %q, want %q", i, h.DocumentID, want[i])
		}
	}
	if result.Hits[0].Score != result.Hits[1].Score {
		t.Errorf("scores %v and %v, want equal", result.Hits[0].Score, result.Hits[1].Score)
	}
}

func TestSearch_ResolvesVectorsRegisteredElsewhere(t *testing.T) {
	ctrl := gomock.NewController(t)
	ctx := context.Background()
	f := newFixture(t, 2)

	// A second registry over the same database stands in for another process.
	other, err := registry.Load(ctx, f.vectors)
	if err != nil {
		t.Fatalf("registry.Load() error = %v", err)
	}
	f.addDocument(t, "d1", "local.txt", seedChunk{"local", []float32{0.6, 0.8}})
	f.addDocumentVia(t, other, "d2", "remote.txt", seedChunk{"remote", []float32{1, 0}})

	if _, ok := f.reg.Resolve(1); ok {
		t.Fatal("engine registry already knows the remote vector")
	}

	result, err := f.engine(queryEmbedder(ctrl, []float32{1, 0}), generatorMock(ctrl)).Search(ctx, "q", 5)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(result.Hits) != 2 {
		t.Fatalf("got %d hits, want 2: %+v", len(result.Hits), result.Hits)
	}
	if result.Hits[0].Text != "remote" || result.Hits[0].Filename != "remote.txt" {
		t.Errorf("top hit = %+v, want the remote chunk", result.Hits[0])
	}
}

func TestAsk_EndToEnd(t *testing.T) {
	ctrl := gomock.NewController(t)
	f := newFixture(t, 3)
	f.addDocument(t, "doc-1", "test.txt", seedChunk{"Hi there. This is a test.", []float32{1, 0, 0}})

	generator := generatorMock(ctrl)
	generator.EXPECT().Generate(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, prompt string) (string, error) {
			if !strings.Contains(prompt, "[1] Source: test.txt (doc_id=doc-1, chunk=0)\nHi there. This is a test.\n") {
				t.Errorf("prompt missing context block:\n%s", prompt)
			}
			if !strings.Contains(prompt, "Question: What is this?\n") {
				t.Errorf("prompt missing question:\n%s", prompt)
			}
			return "It is a test [1].", nil
		})

	engine := f.engine(queryEmbedder(ctrl, []float32{1, 0, 0}), generator)

	resp, err := engine.Ask(context.Background(), rag.AskRequest{Question: "What is this?", TopK: 5})
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if resp.Answer != "It is a test [1]." {
		t.Errorf("Answer = %q", resp.Answer)
	}
	if resp.Provider != "ollama" || resp.Model != "llama3.2:3b" {
		t.Errorf("Provider/Model = %q/%q", resp.Provider, resp.Model)
	}
	if len(resp.Citations) != 1 {
		t.Fatalf("got %d citations, want 1", len(resp.Citations))
	}
	c := resp.Citations[0]
	if c.Filename != "test.txt" || c.DocumentID != "doc-1" || c.Snippet != "Hi there. This is a test." {
		t.Errorf("unexpected citation: %+v", c)
	}
	if resp.LatencyMS < 0 {
		t.Errorf("LatencyMS = %d", resp.LatencyMS)
	}
}

func TestAsk_DeduplicatesBeforePrompt(t *testing.T) {
	ctrl := gomock.NewController(t)
	f := newFixture(t, 2)
	f.addDocument(t, "d1", "glossary.txt",
		seedChunk{"same entry", []float32{1, 0}},
		seedChunk{"same entry", []float32{0.8, 0.6}},
	)

	generator := generatorMock(ctrl)
	generator.EXPECT().Generate(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, prompt string) (string, error) {
			if strings.Contains(prompt, "[2] Source") {
				t.Errorf("duplicate hit reached the prompt:\n%s", prompt)
			}
			return "ok", nil
		})

	resp, err := f.engine(queryEmbedder(ctrl, []float32{1, 0}), generator).
		Ask(context.Background(), rag.AskRequest{Question: "q"})
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if len(resp.Citations) != 1 {
		t.Errorf("got %d citations, want 1", len(resp.Citations))
	}
}

func TestAsk_GuardrailSkipsBackend(t *testing.T) {
	ctrl := gomock.NewController(t)
	f := newFixture(t, 2)
	f.addDocument(t, "d1", "a.txt", seedChunk{"unrelated", []float32{0, 1}})

	// No Generate expectation: any backend call fails the test.
	engine := f.engine(queryEmbedder(ctrl, []float32{1, 0}), generatorMock(ctrl))

	resp, err := engine.Ask(context.Background(), rag.AskRequest{Question: "q"})
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if resp.Answer != rag.InsufficientContextAnswer {
		t.Errorf("Answer = %q, want insufficient-context message", resp.Answer)
	}
	if resp.Model != "n/a" || resp.Provider != "ollama" {
		t.Errorf("Provider/Model = %q/%q", resp.Provider, resp.Model)
	}
	if resp.Citations == nil || len(resp.Citations) != 0 {
		t.Errorf("Citations = %v, want empty", resp.Citations)
	}
}

func TestAsk_ZeroMinScoreCallsBackend(t *testing.T) {
	ctrl := gomock.NewController(t)
	f := newFixture(t, 2)
	// Scores 0.1 against the query, below the default threshold.
	f.addDocument(t, "d1", "a.txt", seedChunk{"barely related", []float32{0.1, 0.99498744}})

	generator := generatorMock(ctrl)
	generator.EXPECT().Generate(gomock.Any(), gomock.Any()).Return("answer", nil)

	zero := float32(0)
	opts := rag.DefaultOptions()
	opts.MinScore = &zero
	resp, err := f.engineWith(queryEmbedder(ctrl, []float32{1, 0}), generator, opts).
		Ask(context.Background(), rag.AskRequest{Question: "q"})
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if resp.Answer != "answer" {
		t.Errorf("Answer = %q, want the generated answer", resp.Answer)
	}
	if len(resp.Citations) != 1 {
		t.Errorf("got %d citations, want 1", len(resp.Citations))
	}
}

func TestAsk_NegativeMinScoreAcceptsOppositeHits(t *testing.T) {
	ctrl := gomock.NewController(t)
	f := newFixture(t, 2)
	f.addDocument(t, "d1", "a.txt", seedChunk{"opposite", []float32{-1, 0}})

	generator := generatorMock(ctrl)
	generator.EXPECT().Generate(gomock.Any(), gomock.Any()).Return("answer", nil)

	threshold := float32(-1)
	opts := rag.DefaultOptions()
	opts.MinScore = &threshold
	resp, err := f.engineWith(queryEmbedder(ctrl, []float32{1, 0}), generator, opts).
		Ask(context.Background(), rag.AskRequest{Question: "q"})
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if resp.Answer != "answer" {
		t.Errorf("Answer = %q, want the generated answer", resp.Answer)
	}
}

func TestAsk_GenerationFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	f := newFixture(t, 2)
	f.addDocument(t, "d1", "a.txt", seedChunk{"text", []float32{1, 0}})

	generator := generatorMock(ctrl)
	generator.EXPECT().Generate(gomock.Any(), gomock.Any()).Return("", errors.New("connection refused"))

	_, err := f.engine(queryEmbedder(ctrl, []float32{1, 0}), generator).
		Ask(context.Background(), rag.AskRequest{Question: "q"})
	if !errors.Is(err, llm.ErrGenerationFailure) {
		t.Fatalf("Ask() error = %v, want ErrGenerationFailure", err)
	}
}

func TestAskStream_GuardrailEmitsTokenThenDone(t *testing.T) {
	ctrl := gomock.NewController(t)
	f := newFixture(t, 2)
	f.addDocument(t, "d1", "a.txt", seedChunk{"unrelated", []float32{0, 1}})

	// No GenerateStream expectation.
	events, err := f.engine(queryEmbedder(ctrl, []float32{1, 0}), generatorMock(ctrl)).
		AskStream(context.Background(), rag.AskRequest{Question: "q"})
	if err != nil {
		t.Fatalf("AskStream() error = %v", err)
	}

	got := collect(t, events)
	if len(got) != 2 {
		t.Fatalf("got %d events, want 2: %v", len(got), eventTypes(got))
	}
	if got[0].Type != rag.EventToken || got[0].Token != rag.InsufficientContextAnswer {
		t.Errorf("first event = %+v", got[0])
	}
	if got[1].Type != rag.EventDone {
		t.Errorf("second event = %+v", got[1])
	}
}

func TestAskStream_TokensMetaDone(t *testing.T) {
	ctrl := gomock.NewController(t)
	f := newFixture(t, 2)
	f.addDocument(t, "d1", "a.txt", seedChunk{"context", []float32{1, 0}})

	generator := generatorMock(ctrl)
	generator.EXPECT().GenerateStream(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, _ string, onToken func(string) error) error {
			for _, tok := range []string{"Hel", "lo", " [1]"} {
				if err := onToken(tok); err != nil {
					return err
				}
			}
			return nil
		})

	events, err := f.engine(queryEmbedder(ctrl, []float32{1, 0}), generator).
		AskStream(context.Background(), rag.AskRequest{Question: "q"})
	if err != nil {
		t.Fatalf("AskStream() error = %v", err)
	}

	got := collect(t, events)
	wantTypes := []rag.StreamEventType{rag.EventToken, rag.EventToken, rag.EventToken, rag.EventMeta, rag.EventDone}
	if len(got) != len(wantTypes) {
		t.Fatalf("event types = %v, want %v", eventTypes(got), wantTypes)
	}
	for i, want := range wantTypes {
		if got[i].Type != want {
			t.Errorf("event %d type = %s, want %s", i, got[i].Type, want)
		}
	}

	var answer strings.Builder
	for _, ev := range got[:3] {
		answer.WriteString(ev.Token)
	}
	if answer.String() != "Hello [1]" {
		t.Errorf("streamed answer = %q", answer.String())
	}

	meta := got[3].Meta
	if meta == nil || meta.Provider != "ollama" || meta.Model != "llama3.2:3b" || len(meta.Citations) != 1 {
		t.Errorf("unexpected meta: %+v", meta)
	}
}

func TestAskStream_BackendFailureEmitsError(t *testing.T) {
	ctrl := gomock.NewController(t)
	f := newFixture(t, 2)
	f.addDocument(t, "d1", "a.txt", seedChunk{"context", []float32{1, 0}})

	generator := generatorMock(ctrl)
	generator.EXPECT().GenerateStream(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, _ string, onToken func(string) error) error {
			_ = onToken("partial")
			return errors.New("backend closed connection")
		})

	events, err := f.engine(queryEmbedder(ctrl, []float32{1, 0}), generator).
		AskStream(context.Background(), rag.AskRequest{Question: "q"})
	if err != nil {
		t.Fatalf("AskStream() error = %v", err)
	}

	got := collect(t, events)
	if len(got) != 2 || got[0].Type != rag.EventToken || got[1].Type != rag.EventError {
		t.Fatalf("event types = %v, want [token error]", eventTypes(got))
	}
	if !errors.Is(got[1].Err, llm.ErrGenerationFailure) {
		t.Errorf("error event = %v, want ErrGenerationFailure", got[1].Err)
	}
}

func TestAskStream_CancelStopsProducer(t *testing.T) {
	ctrl := gomock.NewController(t)
	f := newFixture(t, 2)
	f.addDocument(t, "d1", "a.txt", seedChunk{"context", []float32{1, 0}})

	stopped := make(chan struct{})
	generator := generatorMock(ctrl)
	generator.EXPECT().GenerateStream(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, _ string, onToken func(string) error) error {
			defer close(stopped)
			for {
				if err := onToken("tok"); err != nil {
					return err
				}
				if ctx.Err() != nil {
					return ctx.Err()
				}
			}
		})

	ctx, cancel := context.WithCancel(context.Background())
	events, err := f.engine(queryEmbedder(ctrl, []float32{1, 0}), generator).
		AskStream(ctx, rag.AskRequest{Question: "q"})
	if err != nil {
		t.Fatalf("AskStream() error = %v", err)
	}

	if ev := <-events; ev.Type != rag.EventToken {
		t.Fatalf("first event = %+v", ev)
	}
	cancel()

	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("backend stream was not stopped after cancellation")
	}
	for ev := range events {
		if ev.Type == rag.EventDone || ev.Type == rag.EventMeta {
			t.Errorf("unexpected %s event after cancellation", ev.Type)
		}
	}
}

func TestAskStream_RetrievalErrorReturnedDirectly(t *testing.T) {
	ctrl := gomock.NewController(t)
	f := newFixture(t, 2)

	embedder := mocks.NewMockEmbedder(ctrl)
	embedder.EXPECT().ModelName().Return("test-embed").AnyTimes()

	events, err := f.engine(embedder, generatorMock(ctrl)).AskStream(context.Background(), rag.AskRequest{Question: "q"})
	if !errors.Is(err, vectorstore.ErrIndexNotReady) {
		t.Fatalf("AskStream() error = %v, want ErrIndexNotReady", err)
	}
	if events != nil {
		t.Error("expected no channel on retrieval error")
	}
}
