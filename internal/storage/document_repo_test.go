package storage

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDocumentRepo_InsertAndGet(t *testing.T) {
	ctx := context.Background()
	repo := NewDocumentRepo(newTestDB(t))

	doc := &DocumentRecord{
		ID:          "doc-1",
		Filename:    "notes.txt",
		ContentType: "text/plain",
		StoragePath: "doc-1_notes.txt",
	}
	if err := repo.Insert(ctx, doc); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if doc.CreatedAt.IsZero() {
		t.Error("Insert() should set CreatedAt")
	}

	got, err := repo.GetByID(ctx, "doc-1")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Filename != "notes.txt" || got.ContentType != "text/plain" || got.StoragePath != "doc-1_notes.txt" {
		t.Errorf("GetByID() = %+v", got)
	}
	if !got.CreatedAt.Equal(doc.CreatedAt) {
		t.Errorf("GetByID() CreatedAt = %v, want %v", got.CreatedAt, doc.CreatedAt)
	}

	_, err = repo.GetByID(ctx, "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByID(missing) error = %v, want ErrNotFound", err)
	}
}

func TestDocumentRepo_ListNewestFirst(t *testing.T) {
	ctx := context.Background()
	repo := NewDocumentRepo(newTestDB(t))

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		doc := &DocumentRecord{
			ID:          id,
			Filename:    id + ".txt",
			ContentType: "text/plain",
			StoragePath: id,
			CreatedAt:   base.Add(time.Duration(i) * time.Second),
		}
		if err := repo.Insert(ctx, doc); err != nil {
			t.Fatalf("Insert() error = %v", err)
		}
	}

	docs, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(docs) != 3 {
		t.Fatalf("List() returned %d documents, want 3", len(docs))
	}
	for i, want := range []string{"c", "b", "a"} {
		if docs[i].ID != want {
			t.Errorf("List()[%d].ID = %s, want %s", i, docs[i].ID, want)
		}
	}

	n, err := repo.Count(ctx)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != 3 {
		t.Errorf("Count() = %d, want 3", n)
	}
}

func TestDocumentRepo_DeleteCascades(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	docs := NewDocumentRepo(db)
	chunks := NewChunkRepo(db)
	vectors := NewVectorRepo(db)

	if err := docs.Insert(ctx, &DocumentRecord{ID: "doc", Filename: "f", ContentType: "text/plain", StoragePath: "p"}); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if err := chunks.InsertBatch(ctx, []ChunkRecord{{ID: "c0", DocumentID: "doc", ChunkIndex: 0, Text: "hello"}}); err != nil {
		t.Fatalf("InsertBatch() error = %v", err)
	}
	if err := vectors.InsertBatch(ctx, []VectorEntry{{ChunkID: "c0", InternalID: 0, EmbeddingModel: "m"}}); err != nil {
		t.Fatalf("InsertBatch() error = %v", err)
	}

	if err := docs.Delete(ctx, "doc"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	left, err := chunks.ListByDocument(ctx, "doc")
	if err != nil {
		t.Fatalf("ListByDocument() error = %v", err)
	}
	if len(left) != 0 {
		t.Errorf("chunks left after delete = %d, want 0", len(left))
	}
	entries, err := vectors.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll() error = %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("vector entries left after delete = %d, want 0", len(entries))
	}

	if err := docs.Delete(ctx, "doc"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete() error = %v, want ErrNotFound", err)
	}
}
