package storage

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_vector_entry_store.go -package=mocks ragassist/internal/storage VectorEntryStore

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// VectorEntryStore defines the interface for chunk-to-vector mapping rows.
type VectorEntryStore interface {
	// InsertBatch inserts entries in one transaction.
	// Returns ErrDuplicateChunk if a chunk ID or internal ID is already present.
	InsertBatch(ctx context.Context, entries []VectorEntry) error
	// ListAll returns every entry ordered by internal ID.
	ListAll(ctx context.Context) ([]VectorEntry, error)
	// ListAfter returns the entries with an internal ID above afterID, ordered by internal ID.
	ListAfter(ctx context.Context, afterID int64) ([]VectorEntry, error)
}

// VectorRepo provides methods for chunk_vectors operations.
// It implements the VectorEntryStore interface.
type VectorRepo struct {
	db *sql.DB
}

// NewVectorRepo creates a new VectorRepo.
func NewVectorRepo(db *sql.DB) *VectorRepo {
	return &VectorRepo{db: db}
}

// InsertBatch inserts entries in one transaction. Nothing is written if any row conflicts.
func (r *VectorRepo) InsertBatch(ctx context.Context, entries []VectorEntry) error {
	if len(entries) == 0 {
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
		"INSERT INTO chunk_vectors (chunk_id, internal_id, embedding_model, created_at) VALUES (?, ?, ?, ?)",
	)
	if err != nil {
		return fmt.Errorf("failed to prepare vector entry insert: %w", err)
	}
	defer func() {
		_ = stmt.Close()
	}()

	now := time.Now().UTC()
	for i := range entries {
		if entries[i].CreatedAt.IsZero() {
			entries[i].CreatedAt = now
		}
		e := entries[i]
		if _, err := stmt.ExecContext(ctx, e.ChunkID, e.InternalID, e.EmbeddingModel, formatTime(e.CreatedAt)); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: chunk %s", ErrDuplicateChunk, e.ChunkID)
			}
			return fmt.Errorf("failed to insert vector entry: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit vector entries: %w", err)
	}
	return nil
}

// ListAll returns every entry ordered by internal ID.
func (r *VectorRepo) ListAll(ctx context.Context) ([]VectorEntry, error) {
	return r.ListAfter(ctx, -1)
}

// ListAfter returns the entries registered with an internal ID above afterID.
func (r *VectorRepo) ListAfter(ctx context.Context, afterID int64) ([]VectorEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT chunk_id, internal_id, embedding_model, created_at FROM chunk_vectors WHERE internal_id > ? ORDER BY internal_id",
		afterID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query vector entries: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	entries := []VectorEntry{}
	for rows.Next() {
		var e VectorEntry
		var createdAt string
		if err := rows.Scan(&e.ChunkID, &e.InternalID, &e.EmbeddingModel, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan vector entry: %w", err)
		}
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return entries, nil
}
