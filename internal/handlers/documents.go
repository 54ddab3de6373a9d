package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"ragassist/internal/contextutil"
	"ragassist/internal/service"
	"ragassist/internal/storage"
)

// MaxUploadBytes bounds the size of an uploaded document.
const MaxUploadBytes = 32 << 20

// DocumentHandler handles HTTP requests for documents and their chunks.
type DocumentHandler struct {
	documents service.DocumentService
}

// NewDocumentHandler creates a new DocumentHandler.
func NewDocumentHandler(documents service.DocumentService) *DocumentHandler {
	return &DocumentHandler{documents: documents}
}

// DocumentOut is a stored document.
type DocumentOut struct {
	ID          string    `json:"id"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	StoragePath string    `json:"storage_path"`
	CreatedAt   time.Time `json:"created_at"`
}

// ChunkOut is one chunk of a document.
type ChunkOut struct {
	ID         string `json:"id"`
	DocumentID string `json:"document_id"`
	ChunkIndex int    `json:"chunk_index"`
	Text       string `json:"text"`
	StartChar  *int   `json:"start_char"`
	EndChar    *int   `json:"end_char"`
}

// IndexDocumentResponse reports how many chunks were added to the index.
type IndexDocumentResponse struct {
	Indexed int `json:"indexed"`
}

func toDocumentOut(doc *storage.DocumentRecord) DocumentOut {
	return DocumentOut{
		ID:          doc.ID,
		Filename:    doc.Filename,
		ContentType: doc.ContentType,
		StoragePath: doc.StoragePath,
		CreatedAt:   doc.CreatedAt,
	}
}

// Upload handles POST /api/documents with a multipart "file" field.
func (h *DocumentHandler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "File too large")
			return
		}
		logger.WarnContext(ctx, "invalid upload", "error", err)
		writeError(w, http.StatusBadRequest, "Missing file")
		return
	}
	defer func() {
		_ = file.Close()
	}()

	doc, err := h.documents.Upload(ctx, header.Filename, header.Header.Get("Content-Type"), file)
	if err != nil {
		handleServiceError(ctx, w, err, "Failed to upload document")
		return
	}
	writeJSON(ctx, w, http.StatusOK, toDocumentOut(doc))
}

// List handles GET /api/documents.
func (h *DocumentHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	docs, err := h.documents.List(ctx)
	if err != nil {
		handleServiceError(ctx, w, err, "Failed to list documents")
		return
	}
	out := make([]DocumentOut, len(docs))
	for i := range docs {
		out[i] = toDocumentOut(&docs[i])
	}
	writeJSON(ctx, w, http.StatusOK, out)
}

// Get handles GET /api/documents/{id}.
func (h *DocumentHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	doc, err := h.documents.Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(ctx, w, err, "Failed to get document")
		return
	}
	writeJSON(ctx, w, http.StatusOK, toDocumentOut(doc))
}

// Delete handles DELETE /api/documents/{id}.
func (h *DocumentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.documents.Delete(ctx, chi.URLParam(r, "id")); err != nil {
		handleServiceError(ctx, w, err, "Failed to delete document")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListChunks handles GET /api/documents/{id}/chunks.
func (h *DocumentHandler) ListChunks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	chunks, err := h.documents.ListChunks(ctx, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(ctx, w, err, "Failed to list chunks")
		return
	}
	out := make([]ChunkOut, len(chunks))
	for i, c := range chunks {
		out[i] = ChunkOut{
			ID:         c.ID,
			DocumentID: c.DocumentID,
			ChunkIndex: c.ChunkIndex,
			Text:       c.Text,
			StartChar:  c.StartChar,
			EndChar:    c.EndChar,
		}
	}
	writeJSON(ctx, w, http.StatusOK, out)
}

// Index handles POST /api/documents/{id}/index.
func (h *DocumentHandler) Index(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	n, err := h.documents.Index(ctx, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(ctx, w, err, "Failed to index document")
		return
	}
	writeJSON(ctx, w, http.StatusOK, IndexDocumentResponse{Indexed: n})
}
