package storage

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_chunk_store.go -package=mocks ragassist/internal/storage ChunkStore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// ChunkStore defines the interface for chunk storage operations.
type ChunkStore interface {
	// InsertBatch inserts chunks in one transaction. IDs must be set.
	InsertBatch(ctx context.Context, chunks []ChunkRecord) error
	// ListByDocument returns a document's chunks ordered by chunk_index.
	// Returns an empty slice if the document has no chunks.
	ListByDocument(ctx context.Context, documentID string) ([]ChunkRecord, error)
	// GetByID gets a chunk by its ID. Returns ErrNotFound if not found.
	GetByID(ctx context.Context, id string) (*ChunkRecord, error)
	// GetByIDs returns the chunks that exist among ids, keyed by chunk ID.
	GetByIDs(ctx context.Context, ids []string) (map[string]ChunkRecord, error)
	// Count returns the number of chunks.
	Count(ctx context.Context) (int, error)
	// TextLengths returns the character length of every chunk.
	TextLengths(ctx context.Context) ([]int, error)
}

// ChunkRepo provides methods for chunk operations.
// It implements the ChunkStore interface.
type ChunkRepo struct {
	db *sql.DB
}

// NewChunkRepo creates a new ChunkRepo.
func NewChunkRepo(db *sql.DB) *ChunkRepo {
	return &ChunkRepo{db: db}
}

// InsertBatch inserts chunks in one transaction.
func (r *ChunkRepo) InsertBatch(ctx context.Context, chunks []ChunkRecord) error {
	if len(chunks) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO chunks (id, document_id, chunk_index, text, start_char, end_char) VALUES (?, ?, ?, ?, ?, ?)",
	)
	if err != nil {
		return fmt.Errorf("failed to prepare chunk insert: %w", err)
	}
	defer func() {
		_ = stmt.Close()
	}()

	for _, c := range chunks {
		if _, err := stmt.ExecContext(ctx, c.ID, c.DocumentID, c.ChunkIndex, c.Text, c.StartChar, c.EndChar); err != nil {
			return fmt.Errorf("failed to insert chunk %d: %w", c.ChunkIndex, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit chunks: %w", err)
	}
	return nil
}

// ListByDocument returns a document's chunks ordered by chunk_index.
func (r *ChunkRepo) ListByDocument(ctx context.Context, documentID string) ([]ChunkRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT id, document_id, chunk_index, text, start_char, end_char FROM chunks WHERE document_id = ? ORDER BY chunk_index",
		documentID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	return collectChunks(rows)
}

// GetByID gets a chunk by its ID. Returns ErrNotFound if not found.
func (r *ChunkRepo) GetByID(ctx context.Context, id string) (*ChunkRecord, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT id, document_id, chunk_index, text, start_char, end_char FROM chunks WHERE id = ?",
		id,
	)
	chunk, err := scanChunk(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query chunk: %w", err)
	}
	return chunk, nil
}

// GetByIDs returns the chunks that exist among ids. Missing ids are absent from the map.
func (r *ChunkRepo) GetByIDs(ctx context.Context, ids []string) (map[string]ChunkRecord, error) {
	result := make(map[string]ChunkRecord, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := r.db.QueryContext(ctx,
		"SELECT id, document_id, chunk_index, text, start_char, end_char FROM chunks WHERE id IN ("+placeholders+")",
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	chunks, err := collectChunks(rows)
	if err != nil {
		return nil, err
	}
	for _, c := range chunks {
		result[c.ID] = c
	}
	return result, nil
}

// Count returns the number of chunks.
func (r *ChunkRepo) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return n, nil
}

// TextLengths returns the character length of every chunk, in no particular order.
func (r *ChunkRepo) TextLengths(ctx context.Context) ([]int, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT length(text) FROM chunks")
	if err != nil {
		return nil, fmt.Errorf("failed to query chunk lengths: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	lengths := []int{}
	for rows.Next() {
		var n int
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("failed to scan chunk length: %w", err)
		}
		lengths = append(lengths, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return lengths, nil
}

func collectChunks(rows *sql.Rows) ([]ChunkRecord, error) {
	defer func() {
		_ = rows.Close()
	}()

	chunks := []ChunkRecord{}
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		chunks = append(chunks, *chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return chunks, nil
}

func scanChunk(row rowScanner) (*ChunkRecord, error) {
	var chunk ChunkRecord
	var start, end sql.NullInt64
	if err := row.Scan(&chunk.ID, &chunk.DocumentID, &chunk.ChunkIndex, &chunk.Text, &start, &end); err != nil {
		return nil, err
	}
	if start.Valid {
		v := int(start.Int64)
		chunk.StartChar = &v
	}
	if end.Valid {
		v := int(end.Int64)
		chunk.EndChar = &v
	}
	return &chunk, nil
}
