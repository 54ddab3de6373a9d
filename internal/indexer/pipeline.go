package indexer

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_embedder.go -package=mocks ragassist/internal/indexer Embedder

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"ragassist/internal/contextutil"
	"ragassist/internal/files"
	"ragassist/internal/metrics"
	"ragassist/internal/parsing"
	"ragassist/internal/storage"
	"ragassist/internal/vectorstore"
)

// ErrNoChunks is returned when a document has no chunks and none could be
// produced from its stored file.
var ErrNoChunks = errors.New("document has no chunks")

// Embedder turns chunk texts into vectors.
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	ModelName() string
}

// VectorRegistry records which chunk each index id belongs to.
type VectorRegistry interface {
	Register(ctx context.Context, entries []storage.VectorEntry) error
	Unregistered(chunkIDs []string) []string
	Sync(ctx context.Context) error
	Len() int
}

// CommitLocker excludes other processes writing to the same index.
type CommitLocker interface {
	Lock(ctx context.Context) error
	Unlock() error
}

// Options controls chunking and cross-process commits.
type Options struct {
	ChunkSize    int
	ChunkOverlap int
	// CommitLock is held around each index append and its registration.
	// Nil when no other process writes to the index.
	CommitLock CommitLocker
}

// Pipeline chunks documents, embeds their chunks and commits the vectors to
// the index and the registry.
type Pipeline struct {
	documents storage.DocumentStore
	chunks    storage.ChunkStore
	files     files.Store
	embedder  Embedder
	index     vectorstore.VectorIndex
	registry  VectorRegistry
	opts      Options

	// commitMu serializes re-check, index append and registration.
	commitMu sync.Mutex
}

// NewPipeline creates a new indexing pipeline.
func NewPipeline(
	documents storage.DocumentStore,
	chunks storage.ChunkStore,
	fileStore files.Store,
	embedder Embedder,
	index vectorstore.VectorIndex,
	registry VectorRegistry,
	opts Options,
) *Pipeline {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.ChunkOverlap < 0 {
		opts.ChunkOverlap = DefaultChunkOverlap
	}
	return &Pipeline{
		documents: documents,
		chunks:    chunks,
		files:     fileStore,
		embedder:  embedder,
		index:     index,
		registry:  registry,
		opts:      opts,
	}
}

// ChunkDocument splits text and stores the chunks of doc in one batch.
// A text that yields no chunks stores nothing and returns an empty slice.
func (p *Pipeline) ChunkDocument(ctx context.Context, doc *storage.DocumentRecord, text string) ([]storage.ChunkRecord, error) {
	logger := contextutil.LoggerFromContext(ctx)

	pieces, err := Split(text, p.opts.ChunkSize, p.opts.ChunkOverlap)
	if err != nil {
		return nil, fmt.Errorf("failed to split document: %w", err)
	}
	if len(pieces) == 0 {
		logger.WarnContext(ctx, "no chunks generated", "document_id", doc.ID, "filename", doc.Filename)
		return []storage.ChunkRecord{}, nil
	}

	records := make([]storage.ChunkRecord, len(pieces))
	for i, piece := range pieces {
		start, end := piece.StartChar, piece.EndChar
		records[i] = storage.ChunkRecord{
			ID:         uuid.New().String(),
			DocumentID: doc.ID,
			ChunkIndex: piece.Index,
			Text:       piece.Text,
			StartChar:  &start,
			EndChar:    &end,
		}
	}

	if err := p.chunks.InsertBatch(ctx, records); err != nil {
		return nil, fmt.Errorf("failed to store chunks: %w", err)
	}

	logger.InfoContext(ctx, "chunked document", "document_id", doc.ID, "chunks", len(records))
	return records, nil
}

// IndexDocument embeds every chunk of the document that is not yet registered
// and returns how many were indexed. Chunks are created from the stored file
// first when the document has none.
func (p *Pipeline) IndexDocument(ctx context.Context, documentID string) (int, error) {
	logger := contextutil.LoggerFromContext(ctx)
	ctx, span := metrics.StartSpan(ctx, "indexer.index_document", attribute.String("document.id", documentID))
	defer span.End()

	doc, err := p.documents.GetByID(ctx, documentID)
	if err != nil {
		return 0, fmt.Errorf("failed to get document: %w", err)
	}

	chunks, err := p.chunks.ListByDocument(ctx, doc.ID)
	if err != nil {
		return 0, fmt.Errorf("failed to list chunks: %w", err)
	}
	if len(chunks) == 0 {
		chunks, err = p.backfill(ctx, doc)
		if err != nil {
			return 0, err
		}
	}
	if len(chunks) == 0 {
		return 0, ErrNoChunks
	}

	byID := make(map[string]storage.ChunkRecord, len(chunks))
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		byID[c.ID] = c
		ids[i] = c.ID
	}

	if err := p.registry.Sync(ctx); err != nil {
		return 0, err
	}
	pending := p.registry.Unregistered(ids)
	if len(pending) == 0 {
		logger.DebugContext(ctx, "document already indexed", "document_id", doc.ID)
		return 0, nil
	}

	texts := make([]string, len(pending))
	for i, id := range pending {
		texts[i] = byID[id].Text
	}
	vectors, err := p.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("failed to generate embeddings: %w", err)
	}
	if len(vectors) != len(pending) {
		return 0, fmt.Errorf("embedding count mismatch: expected %d, got %d", len(pending), len(vectors))
	}

	indexed, err := p.commit(ctx, pending, vectors)
	if err != nil {
		return 0, err
	}

	span.SetAttributes(attribute.Int("indexer.chunks", indexed))
	logger.InfoContext(ctx, "indexed document",
		"document_id", doc.ID,
		"filename", doc.Filename,
		"chunks", indexed,
	)
	return indexed, nil
}

// backfill creates chunks from the stored file of a document that has none.
func (p *Pipeline) backfill(ctx context.Context, doc *storage.DocumentRecord) ([]storage.ChunkRecord, error) {
	logger := contextutil.LoggerFromContext(ctx)

	if !parsing.IsSupported(doc.Filename, doc.ContentType) {
		return nil, nil
	}
	data, err := p.files.Read(ctx, doc.StoragePath)
	if err != nil {
		logger.WarnContext(ctx, "stored file unavailable for backfill", "document_id", doc.ID, "error", err)
		return nil, nil
	}
	text, err := parsing.ExtractText(data, doc.Filename, doc.ContentType)
	if err != nil {
		return nil, fmt.Errorf("failed to extract text: %w", err)
	}

	logger.InfoContext(ctx, "backfilling chunks", "document_id", doc.ID)
	return p.ChunkDocument(ctx, doc, text)
}

// commit appends the vectors of chunks that are still unregistered and
// registers them. The embedding call stays outside the lock.
func (p *Pipeline) commit(ctx context.Context, chunkIDs []string, vectors [][]float32) (int, error) {
	p.commitMu.Lock()
	defer p.commitMu.Unlock()

	if l := p.opts.CommitLock; l != nil {
		if err := l.Lock(ctx); err != nil {
			return 0, fmt.Errorf("failed to lock index: %w", err)
		}
		defer func() {
			if err := l.Unlock(); err != nil {
				contextutil.LoggerFromContext(ctx).WarnContext(ctx, "failed to unlock index", "error", err)
			}
		}()
	}

	// Another request or process may have indexed some of these chunks while we were embedding.
	if err := p.registry.Sync(ctx); err != nil {
		return 0, err
	}
	still := make(map[string]bool, len(chunkIDs))
	for _, id := range p.registry.Unregistered(chunkIDs) {
		still[id] = true
	}
	ids := make([]string, 0, len(still))
	batch := make([][]float32, 0, len(still))
	for i, id := range chunkIDs {
		if still[id] {
			ids = append(ids, id)
			batch = append(batch, vectors[i])
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}

	internalIDs, err := p.index.Add(ctx, batch)
	if err != nil {
		return 0, fmt.Errorf("failed to add vectors: %w", err)
	}

	model := p.embedder.ModelName()
	entries := make([]storage.VectorEntry, len(ids))
	for i, id := range ids {
		entries[i] = storage.VectorEntry{ChunkID: id, InternalID: internalIDs[i], EmbeddingModel: model}
	}
	if err := p.registry.Register(ctx, entries); err != nil {
		metrics.OrphanVectors.Add(float64(len(entries)))
		contextutil.LoggerFromContext(ctx).ErrorContext(ctx, "vectors appended without registration",
			"count", len(entries),
			"error", err,
		)
		return 0, fmt.Errorf("failed to register vectors: %w", err)
	}

	metrics.ChunksIndexed.Add(float64(len(entries)))
	if info, err := p.index.Info(ctx); err == nil {
		metrics.IndexVectors.Set(float64(info.Count))
	}
	return len(entries), nil
}

// IndexSummary reports the outcome of IndexAll.
type IndexSummary struct {
	Documents int `json:"documents"`
	Indexed   int `json:"indexed"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// IndexAll indexes every document.
// Errors for individual documents are logged but don't stop the run.
func (p *Pipeline) IndexAll(ctx context.Context) (IndexSummary, error) {
	logger := contextutil.LoggerFromContext(ctx)

	docs, err := p.documents.List(ctx)
	if err != nil {
		return IndexSummary{}, fmt.Errorf("failed to list documents: %w", err)
	}

	logger.InfoContext(ctx, "starting indexing", "documents", len(docs))

	summary := IndexSummary{Documents: len(docs)}
	for _, doc := range docs {
		select {
		case <-ctx.Done():
			return summary, ctx.Err()
		default:
		}

		n, err := p.IndexDocument(ctx, doc.ID)
		switch {
		case errors.Is(err, ErrNoChunks):
			summary.Skipped++
			logger.WarnContext(ctx, "skipping document without chunks", "document_id", doc.ID)
		case err != nil:
			summary.Failed++
			logger.ErrorContext(ctx, "failed to index document", "document_id", doc.ID, "error", err)
		default:
			summary.Indexed += n
		}
	}

	logger.InfoContext(ctx, "indexing completed",
		"documents", summary.Documents,
		"indexed", summary.Indexed,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
	)

	if summary.Failed > 0 {
		return summary, fmt.Errorf("indexing completed with %d errors", summary.Failed)
	}
	return summary, nil
}
