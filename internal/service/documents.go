package service

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_indexer.go -package=mocks ragassist/internal/service Indexer
//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_document_service.go -package=mocks -mock_names=DocumentService=MockDocumentService ragassist/internal/service DocumentService

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"ragassist/internal/contextutil"
	"ragassist/internal/files"
	"ragassist/internal/indexer"
	"ragassist/internal/parsing"
	"ragassist/internal/storage"
)

const defaultContentType = "application/octet-stream"

// Indexer chunks and indexes documents.
// This interface is defined from the service layer's perspective (consumer-first).
type Indexer interface {
	ChunkDocument(ctx context.Context, doc *storage.DocumentRecord, text string) ([]storage.ChunkRecord, error)
	IndexDocument(ctx context.Context, documentID string) (int, error)
	IndexAll(ctx context.Context) (indexer.IndexSummary, error)
	Coverage(ctx context.Context) (*indexer.CoverageStats, error)
}

// ChunkForgetter drops chunk ids from the in-memory registry.
type ChunkForgetter interface {
	Forget(chunkIDs []string)
}

// ImportSummary reports the outcome of a directory import.
type ImportSummary struct {
	Imported   []storage.DocumentRecord `json:"imported"`
	Failed     []string                 `json:"failed"`
	Discovered int                      `json:"discovered"`
}

// DocumentService manages stored documents and their chunks.
type DocumentService interface {
	// Upload stores a file, records its document and chunks supported text formats.
	Upload(ctx context.Context, filename, contentType string, r io.Reader) (*storage.DocumentRecord, error)
	// List returns all documents, newest first.
	List(ctx context.Context) ([]storage.DocumentRecord, error)
	// Get returns one document.
	Get(ctx context.Context, id string) (*storage.DocumentRecord, error)
	// Delete removes a document, its chunks, their registry rows and the stored file.
	Delete(ctx context.Context, id string) error
	// ListChunks returns the chunks of a document ordered by index.
	ListChunks(ctx context.Context, id string) ([]storage.ChunkRecord, error)
	// Index embeds the unindexed chunks of a document and returns how many were added.
	Index(ctx context.Context, id string) (int, error)
	// IndexAll indexes every document.
	IndexAll(ctx context.Context) (indexer.IndexSummary, error)
	// Import uploads every .txt and .md file under root.
	Import(ctx context.Context, root string) (ImportSummary, error)
	// Coverage reports how much of the stored text is indexed.
	Coverage(ctx context.Context) (*indexer.CoverageStats, error)
}

// documentService implements DocumentService.
type documentService struct {
	documents storage.DocumentStore
	chunks    storage.ChunkStore
	files     files.Store
	indexer   Indexer
	registry  ChunkForgetter
}

// NewDocumentService creates a new DocumentService.
func NewDocumentService(
	documents storage.DocumentStore,
	chunks storage.ChunkStore,
	fileStore files.Store,
	idx Indexer,
	registry ChunkForgetter,
) DocumentService {
	return &documentService{
		documents: documents,
		chunks:    chunks,
		files:     fileStore,
		indexer:   idx,
		registry:  registry,
	}
}

// Upload stores the file and chunks it when it is plain text or markdown.
func (s *documentService) Upload(ctx context.Context, filename, contentType string, r io.Reader) (*storage.DocumentRecord, error) {
	logger := contextutil.LoggerFromContext(ctx)

	if strings.TrimSpace(filename) == "" {
		return nil, &ValidationError{Field: "file", Message: "missing filename"}
	}
	if contentType == "" {
		contentType = defaultContentType
	}

	id := uuid.New().String()
	storagePath, err := s.files.Save(ctx, id, filename, r)
	if err != nil {
		return nil, WrapError(err, "failed to store file")
	}

	doc := &storage.DocumentRecord{
		ID:          id,
		Filename:    files.SanitizeFilename(filename),
		ContentType: contentType,
		StoragePath: storagePath,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.documents.Insert(ctx, doc); err != nil {
		if rmErr := s.files.Remove(ctx, storagePath); rmErr != nil {
			logger.WarnContext(ctx, "failed to remove file after insert error", "storage_path", storagePath, "error", rmErr)
		}
		return nil, WrapError(err, "failed to record document")
	}

	logger.InfoContext(ctx, "document uploaded",
		"document_id", doc.ID,
		"filename", doc.Filename,
		"content_type", doc.ContentType,
	)

	if !parsing.IsSupported(doc.Filename, doc.ContentType) {
		logger.InfoContext(ctx, "skipping chunking for unsupported format", "document_id", doc.ID)
		return doc, nil
	}

	data, err := s.files.Read(ctx, storagePath)
	if err != nil {
		s.discard(ctx, doc)
		return nil, WrapError(err, "failed to read stored file")
	}
	text, err := parsing.ExtractText(data, doc.Filename, doc.ContentType)
	if err != nil {
		s.discard(ctx, doc)
		return nil, WrapError(err, "failed to extract text")
	}
	if _, err := s.indexer.ChunkDocument(ctx, doc, text); err != nil {
		s.discard(ctx, doc)
		return nil, WrapError(err, "failed to chunk document")
	}

	return doc, nil
}

// discard removes a document whose upload failed after it was recorded,
// so a failed upload leaves neither a row nor a file behind.
func (s *documentService) discard(ctx context.Context, doc *storage.DocumentRecord) {
	logger := contextutil.LoggerFromContext(ctx)

	if err := s.documents.Delete(ctx, doc.ID); err != nil {
		logger.WarnContext(ctx, "failed to delete document after upload error", "document_id", doc.ID, "error", err)
	}
	if err := s.files.Remove(ctx, doc.StoragePath); err != nil {
		logger.WarnContext(ctx, "failed to remove file after upload error", "storage_path", doc.StoragePath, "error", err)
	}
}

func (s *documentService) List(ctx context.Context) ([]storage.DocumentRecord, error) {
	docs, err := s.documents.List(ctx)
	if err != nil {
		return nil, WrapError(err, "failed to list documents")
	}
	return docs, nil
}

func (s *documentService) Get(ctx context.Context, id string) (*storage.DocumentRecord, error) {
	doc, err := s.documents.GetByID(ctx, id)
	if err != nil {
		return nil, WrapError(err, "failed to get document")
	}
	return doc, nil
}

// Delete cascades through SQLite; the vectors stay in the index and stop resolving.
func (s *documentService) Delete(ctx context.Context, id string) error {
	logger := contextutil.LoggerFromContext(ctx)

	doc, err := s.documents.GetByID(ctx, id)
	if err != nil {
		return WrapError(err, "failed to get document")
	}
	chunks, err := s.chunks.ListByDocument(ctx, id)
	if err != nil {
		return WrapError(err, "failed to list chunks")
	}

	if err := s.documents.Delete(ctx, id); err != nil {
		return WrapError(err, "failed to delete document")
	}

	chunkIDs := make([]string, len(chunks))
	for i, c := range chunks {
		chunkIDs[i] = c.ID
	}
	s.registry.Forget(chunkIDs)

	if err := s.files.Remove(ctx, doc.StoragePath); err != nil {
		logger.WarnContext(ctx, "failed to remove stored file", "storage_path", doc.StoragePath, "error", err)
	}

	logger.InfoContext(ctx, "document deleted", "document_id", id, "chunks", len(chunks))
	return nil
}

func (s *documentService) ListChunks(ctx context.Context, id string) ([]storage.ChunkRecord, error) {
	if _, err := s.documents.GetByID(ctx, id); err != nil {
		return nil, WrapError(err, "failed to get document")
	}
	chunks, err := s.chunks.ListByDocument(ctx, id)
	if err != nil {
		return nil, WrapError(err, "failed to list chunks")
	}
	return chunks, nil
}

func (s *documentService) Index(ctx context.Context, id string) (int, error) {
	n, err := s.indexer.IndexDocument(ctx, id)
	if err != nil {
		return 0, WrapError(err, "failed to index document")
	}
	return n, nil
}

func (s *documentService) IndexAll(ctx context.Context) (indexer.IndexSummary, error) {
	return s.indexer.IndexAll(ctx)
}

// Import uploads files one by one. A failing file is recorded and skipped.
func (s *documentService) Import(ctx context.Context, root string) (ImportSummary, error) {
	logger := contextutil.LoggerFromContext(ctx)

	scanned, err := files.Scan(ctx, root)
	if err != nil {
		return ImportSummary{}, WrapError(err, "failed to scan directory")
	}

	summary := ImportSummary{
		Imported:   []storage.DocumentRecord{},
		Failed:     []string{},
		Discovered: len(scanned),
	}
	for _, f := range scanned {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		doc, err := s.importFile(ctx, f)
		if err != nil {
			summary.Failed = append(summary.Failed, f.RelPath)
			logger.ErrorContext(ctx, "failed to import file", "rel_path", f.RelPath, "error", err)
			continue
		}
		summary.Imported = append(summary.Imported, *doc)
	}

	logger.InfoContext(ctx, "import completed",
		"root", root,
		"discovered", summary.Discovered,
		"imported", len(summary.Imported),
		"failed", len(summary.Failed),
	)
	return summary, nil
}

func (s *documentService) importFile(ctx context.Context, f files.ScannedFile) (*storage.DocumentRecord, error) {
	file, err := os.Open(f.AbsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() {
		_ = file.Close()
	}()
	return s.Upload(ctx, f.RelPath, contentTypeFor(f.RelPath), file)
}

func (s *documentService) Coverage(ctx context.Context) (*indexer.CoverageStats, error) {
	stats, err := s.indexer.Coverage(ctx)
	if err != nil {
		return nil, WrapError(err, "failed to compute coverage")
	}
	return stats, nil
}

func contentTypeFor(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".md", ".markdown":
		return "text/markdown"
	default:
		return "text/plain"
	}
}
