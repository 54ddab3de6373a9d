package indexer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/mock/gomock"

	"ragassist/internal/files"
	"ragassist/internal/indexer/mocks"
	"ragassist/internal/metrics"
	"ragassist/internal/registry"
	"ragassist/internal/storage"
	storage_mocks "ragassist/internal/storage/mocks"
	"ragassist/internal/vectorstore"
)

func init() {
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

type testEnv struct {
	pipeline *Pipeline
	docs     *storage.DocumentRepo
	chunks   *storage.ChunkRepo
	files    *files.DiskStore
	index    *vectorstore.FileStore
	registry *registry.Registry
}

// newTestEnv wires a pipeline to real stores. A nil vectorStore uses the SQLite repo.
func newTestEnv(t *testing.T, embedder Embedder, vectorStore storage.VectorEntryStore, opts Options) *testEnv {
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

	if vectorStore == nil {
		vectorStore = storage.NewVectorRepo(db)
	}
	reg, err := registry.Load(ctx, vectorStore)
	if err != nil {
		t.Fatalf("registry.Load() error = %v", err)
	}

	fileStore, err := files.NewDiskStore(filepath.Join(dir, "files"))
	if err != nil {
		t.Fatalf("NewDiskStore() error = %v", err)
	}
	index, err := vectorstore.OpenFileStore(filepath.Join(dir, "faiss.index"), 0)
	if err != nil {
		t.Fatalf("OpenFileStore() error = %v", err)
	}

	env := &testEnv{
		docs:     storage.NewDocumentRepo(db),
		chunks:   storage.NewChunkRepo(db),
		files:    fileStore,
		index:    index,
		registry: reg,
	}
	env.pipeline = NewPipeline(env.docs, env.chunks, fileStore, embedder, index, reg, opts)
	return env
}

// addDocument stores a document and its raw file, without chunks.
func (e *testEnv) addDocument(t *testing.T, id, filename, content string) *storage.DocumentRecord {
	t.Helper()
	ctx := context.Background()

	storagePath, err := e.files.Save(ctx, id, filename, strings.NewReader(content))
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	doc := &storage.DocumentRecord{ID: id, Filename: filename, ContentType: "text/plain", StoragePath: storagePath}
	if err := e.docs.Insert(ctx, doc); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	return doc
}

// unitEmbedder returns a mock that maps every text to the same unit vector.
func unitEmbedder(ctrl *gomock.Controller) *mocks.MockEmbedder {
	embedder := mocks.NewMockEmbedder(ctrl)
	embedder.EXPECT().ModelName().Return("test-embed").AnyTimes()
	embedder.EXPECT().EmbedTexts(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, texts []string) ([][]float32, error) {
			out := make([][]float32, len(texts))
			for i := range texts {
				out[i] = []float32{1, 0}
			}
			return out, nil
		}).AnyTimes()
	return embedder
}

func TestNewPipeline_Defaults(t *testing.T) {
	p := NewPipeline(nil, nil, nil, nil, nil, nil, Options{ChunkOverlap: -1})
	if p.opts.ChunkSize != DefaultChunkSize {
		t.Errorf("ChunkSize = %d, want %d", p.opts.ChunkSize, DefaultChunkSize)
	}
	if p.opts.ChunkOverlap != DefaultChunkOverlap {
		t.Errorf("ChunkOverlap = %d, want %d", p.opts.ChunkOverlap, DefaultChunkOverlap)
	}
}

func TestPipeline_ChunkDocument(t *testing.T) {
	ctrl := gomock.NewController(t)
	env := newTestEnv(t, unitEmbedder(ctrl), nil, Options{ChunkSize: 10, ChunkOverlap: 2})
	ctx := context.Background()

	doc := env.addDocument(t, "doc-1", "a.txt", "")
	records, err := env.pipeline.ChunkDocument(ctx, doc, "abcdefghijklmnopqrstuvwxyz")
	if err != nil {
		t.Fatalf("ChunkDocument() error = %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("ChunkDocument() returned %d chunks, want 3", len(records))
	}

	stored, err := env.chunks.ListByDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("ListByDocument() error = %v", err)
	}
	for i, c := range stored {
		if c.ChunkIndex != i {
			t.Errorf("chunk %d has index %d", i, c.ChunkIndex)
		}
		if c.StartChar == nil || c.EndChar == nil {
			t.Fatalf("chunk %d has no offsets", i)
		}
	}
	if *stored[1].StartChar != 8 || *stored[1].EndChar != 18 {
		t.Errorf("second chunk offsets = [%d, %d), want [8, 18)", *stored[1].StartChar, *stored[1].EndChar)
	}
}

func TestPipeline_ChunkDocument_BlankText(t *testing.T) {
	ctrl := gomock.NewController(t)
	env := newTestEnv(t, unitEmbedder(ctrl), nil, Options{})

	doc := env.addDocument(t, "doc-1", "a.txt", "")
	records, err := env.pipeline.ChunkDocument(context.Background(), doc, " \r\n\t ")
	if err != nil {
		t.Fatalf("ChunkDocument() error = %v", err)
	}
	if len(records) != 0 {
		t.Errorf("ChunkDocument() returned %d chunks, want 0", len(records))
	}
}

func TestPipeline_IndexDocument(t *testing.T) {
	ctrl := gomock.NewController(t)
	ctx := context.Background()

	embedder := mocks.NewMockEmbedder(ctrl)
	embedder.EXPECT().ModelName().Return("test-embed").AnyTimes()
	embedder.EXPECT().EmbedTexts(gomock.Any(), []string{"Hi there. This is a test."}).
		Return([][]float32{{0.6, 0.8}}, nil).
		Times(1)

	env := newTestEnv(t, embedder, nil, Options{})
	doc := env.addDocument(t, "doc-1", "test.txt", "Hi there. This is a test.")
	if _, err := env.pipeline.ChunkDocument(ctx, doc, "Hi there. This is a test."); err != nil {
		t.Fatalf("ChunkDocument() error = %v", err)
	}

	n, err := env.pipeline.IndexDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("IndexDocument() error = %v", err)
	}
	if n != 1 {
		t.Errorf("IndexDocument() = %d, want 1", n)
	}

	ready, _ := env.index.Ready(ctx)
	if !ready {
		t.Error("index should be persisted after the first add")
	}
	chunkID, ok := env.registry.Resolve(0)
	if !ok {
		t.Fatal("internal id 0 should resolve")
	}
	chunk, err := env.chunks.GetByID(ctx, chunkID)
	if err != nil || chunk.DocumentID != doc.ID {
		t.Errorf("resolved chunk = %+v, %v", chunk, err)
	}

	// Everything is registered now, so nothing is embedded again.
	n, err = env.pipeline.IndexDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("second IndexDocument() error = %v", err)
	}
	if n != 0 {
		t.Errorf("second IndexDocument() = %d, want 0", n)
	}
}

func TestPipeline_IndexDocument_BackfillsChunks(t *testing.T) {
	ctrl := gomock.NewController(t)
	ctx := context.Background()
	env := newTestEnv(t, unitEmbedder(ctrl), nil, Options{ChunkSize: 20, ChunkOverlap: 5})

	doc := env.addDocument(t, "doc-1", "notes.txt", strings.Repeat("word ", 10))

	n, err := env.pipeline.IndexDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("IndexDocument() error = %v", err)
	}

	stored, err := env.chunks.ListByDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("ListByDocument() error = %v", err)
	}
	if len(stored) == 0 || n != len(stored) {
		t.Errorf("indexed %d of %d backfilled chunks", n, len(stored))
	}
	if env.registry.Len() != n {
		t.Errorf("registry holds %d entries, want %d", env.registry.Len(), n)
	}
}

func TestPipeline_IndexDocument_NoChunks(t *testing.T) {
	ctrl := gomock.NewController(t)
	env := newTestEnv(t, unitEmbedder(ctrl), nil, Options{})

	doc := env.addDocument(t, "doc-1", "empty.txt", "   \n  ")

	_, err := env.pipeline.IndexDocument(context.Background(), doc.ID)
	if !errors.Is(err, ErrNoChunks) {
		t.Fatalf("IndexDocument() error = %v, want ErrNoChunks", err)
	}
}

func TestPipeline_IndexDocument_NotFound(t *testing.T) {
	ctrl := gomock.NewController(t)
	env := newTestEnv(t, unitEmbedder(ctrl), nil, Options{})

	_, err := env.pipeline.IndexDocument(context.Background(), "missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("IndexDocument() error = %v, want ErrNotFound", err)
	}
}

func TestPipeline_IndexDocument_EmbeddingFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	ctx := context.Background()

	embedder := mocks.NewMockEmbedder(ctrl)
	embedder.EXPECT().ModelName().Return("test-embed").AnyTimes()
	embedder.EXPECT().EmbedTexts(gomock.Any(), gomock.Any()).Return(nil, errors.New("gateway down"))

	env := newTestEnv(t, embedder, nil, Options{})
	doc := env.addDocument(t, "doc-1", "a.txt", "some text")

	if _, err := env.pipeline.IndexDocument(ctx, doc.ID); err == nil {
		t.Fatal("IndexDocument() should fail when embedding fails")
	}
	if ready, _ := env.index.Ready(ctx); ready {
		t.Error("nothing should be persisted when embedding fails")
	}
	if env.registry.Len() != 0 {
		t.Errorf("registry holds %d entries, want 0", env.registry.Len())
	}
}

func TestPipeline_IndexDocument_CountMismatch(t *testing.T) {
	ctrl := gomock.NewController(t)

	embedder := mocks.NewMockEmbedder(ctrl)
	embedder.EXPECT().ModelName().Return("test-embed").AnyTimes()
	embedder.EXPECT().EmbedTexts(gomock.Any(), gomock.Any()).Return([][]float32{}, nil)

	env := newTestEnv(t, embedder, nil, Options{})
	doc := env.addDocument(t, "doc-1", "a.txt", "some text")

	_, err := env.pipeline.IndexDocument(context.Background(), doc.ID)
	if err == nil || !strings.Contains(err.Error(), "embedding count mismatch") {
		t.Fatalf("IndexDocument() error = %v, want count mismatch", err)
	}
}

func TestPipeline_IndexDocument_RegisterFailureLeavesOrphan(t *testing.T) {
	ctrl := gomock.NewController(t)
	ctx := context.Background()

	vectorStore := storage_mocks.NewMockVectorEntryStore(ctrl)
	vectorStore.EXPECT().ListAll(gomock.Any()).Return(nil, nil)
	vectorStore.EXPECT().ListAfter(gomock.Any(), gomock.Any()).Return(nil, nil).AnyTimes()
	vectorStore.EXPECT().InsertBatch(gomock.Any(), gomock.Len(1)).Return(errors.New("disk full"))

	env := newTestEnv(t, unitEmbedder(ctrl), vectorStore, Options{})
	doc := env.addDocument(t, "doc-1", "a.txt", "some text")

	orphansBefore := testutil.ToFloat64(metrics.OrphanVectors)

	if _, err := env.pipeline.IndexDocument(ctx, doc.ID); err == nil {
		t.Fatal("IndexDocument() should fail when registration fails")
	}

	info, _ := env.index.Info(ctx)
	if info.Count != 1 {
		t.Errorf("index holds %d vectors, want the orphan", info.Count)
	}
	if _, ok := env.registry.Resolve(0); ok {
		t.Error("orphan vector must not resolve")
	}
	if got := testutil.ToFloat64(metrics.OrphanVectors) - orphansBefore; got != 1 {
		t.Errorf("orphan counter increased by %v, want 1", got)
	}

	chunks, _ := env.chunks.ListByDocument(ctx, doc.ID)
	if len(env.registry.Unregistered([]string{chunks[0].ID})) != 1 {
		t.Error("chunk should stay unregistered for the next run")
	}
}

// openPipeline wires a pipeline the way one process would, on a shared data directory.
func openPipeline(t *testing.T, dir string, embedder Embedder) (*Pipeline, *registry.Registry, *storage.DocumentRepo, *files.DiskStore) {
	t.Helper()
	ctx := context.Background()

	db, err := storage.New(filepath.Join(dir, "app.db"))
	if err != nil {
		t.Fatalf("storage.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := storage.Migrate(db); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	reg, err := registry.Load(ctx, storage.NewVectorRepo(db))
	if err != nil {
		t.Fatalf("registry.Load() error = %v", err)
	}
	fileStore, err := files.NewDiskStore(filepath.Join(dir, "files"))
	if err != nil {
		t.Fatalf("NewDiskStore() error = %v", err)
	}
	index, err := vectorstore.OpenFileStore(filepath.Join(dir, "faiss.index"), 2)
	if err != nil {
		t.Fatalf("OpenFileStore() error = %v", err)
	}

	docs := storage.NewDocumentRepo(db)
	opts := Options{CommitLock: vectorstore.NewProcessLock(filepath.Join(dir, "commit.lock"))}
	return NewPipeline(docs, storage.NewChunkRepo(db), fileStore, embedder, index, reg, opts), reg, docs, fileStore
}

func TestPipeline_SharedDataDirectory(t *testing.T) {
	ctrl := gomock.NewController(t)
	ctx := context.Background()
	dir := t.TempDir()

	server, serverReg, docs, fileStore := openPipeline(t, dir, unitEmbedder(ctrl))
	cli, _, _, _ := openPipeline(t, dir, unitEmbedder(ctrl))

	for _, id := range []string{"doc-1", "doc-2"} {
		storagePath, err := fileStore.Save(ctx, id, id+".txt", strings.NewReader("text of "+id))
		if err != nil {
			t.Fatalf("Save() error = %v", err)
		}
		if err := docs.Insert(ctx, &storage.DocumentRecord{ID: id, Filename: id + ".txt", ContentType: "text/plain", StoragePath: storagePath}); err != nil {
			t.Fatalf("Insert() error = %v", err)
		}
	}

	if n, err := cli.IndexDocument(ctx, "doc-1"); err != nil || n != 1 {
		t.Fatalf("cli IndexDocument() = %d, %v; want 1", n, err)
	}
	if n, err := server.IndexDocument(ctx, "doc-2"); err != nil || n != 1 {
		t.Fatalf("server IndexDocument() = %d, %v; want 1", n, err)
	}
	// The server learns about the chunk the CLI indexed and does not embed it again.
	if n, err := server.IndexDocument(ctx, "doc-1"); err != nil || n != 0 {
		t.Fatalf("server IndexDocument(doc-1) = %d, %v; want 0", n, err)
	}

	seen := make(map[string]bool)
	for _, id := range []int64{0, 1} {
		chunkID, ok := serverReg.Resolve(id)
		if !ok {
			t.Fatalf("Resolve(%d) failed", id)
		}
		if seen[chunkID] {
			t.Errorf("chunk %s registered under two ids", chunkID)
		}
		seen[chunkID] = true
	}

	index, err := vectorstore.LoadFlatIndex(filepath.Join(dir, "faiss.index"))
	if err != nil {
		t.Fatalf("LoadFlatIndex() error = %v", err)
	}
	if index.Len() != 2 {
		t.Errorf("index holds %d vectors, want 2", index.Len())
	}
}

func TestPipeline_IndexAll(t *testing.T) {
	ctrl := gomock.NewController(t)
	ctx := context.Background()
	env := newTestEnv(t, unitEmbedder(ctrl), nil, Options{})

	env.addDocument(t, "doc-1", "a.txt", "first document")
	env.addDocument(t, "doc-2", "b.txt", "second document")
	env.addDocument(t, "doc-3", "empty.txt", "")

	summary, err := env.pipeline.IndexAll(ctx)
	if err != nil {
		t.Fatalf("IndexAll() error = %v", err)
	}
	want := IndexSummary{Documents: 3, Indexed: 2, Skipped: 1}
	if summary != want {
		t.Errorf("IndexAll() = %+v, want %+v", summary, want)
	}
}

func TestPipeline_IndexAll_Cancelled(t *testing.T) {
	ctrl := gomock.NewController(t)
	env := newTestEnv(t, unitEmbedder(ctrl), nil, Options{})
	env.addDocument(t, "doc-1", "a.txt", "text")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := env.pipeline.IndexAll(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("IndexAll() error = %v, want context.Canceled", err)
	}
}
