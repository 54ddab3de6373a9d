package registry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"ragassist/internal/storage"
	"ragassist/internal/storage/mocks"
)

func init() {
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// newStore returns a migrated repo with one document holding the given chunk ids.
func newStore(t *testing.T, chunkIDs ...string) *storage.VectorRepo {
	t.Helper()
	ctx := context.Background()

	db, err := storage.New(filepath.Join(t.TempDir(), "registry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, storage.Migrate(db))

	require.NoError(t, storage.NewDocumentRepo(db).Insert(ctx, &storage.DocumentRecord{
		ID: "doc", Filename: "doc.txt", ContentType: "text/plain", StoragePath: "doc",
	}))
	chunks := make([]storage.ChunkRecord, len(chunkIDs))
	for i, id := range chunkIDs {
		chunks[i] = storage.ChunkRecord{ID: id, DocumentID: "doc", ChunkIndex: i, Text: id}
	}
	require.NoError(t, storage.NewChunkRepo(db).InsertBatch(ctx, chunks))

	return storage.NewVectorRepo(db)
}

func entries(model string, pairs ...any) []storage.VectorEntry {
	out := make([]storage.VectorEntry, 0, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		out = append(out, storage.VectorEntry{
			ChunkID:        pairs[i].(string),
			InternalID:     int64(pairs[i+1].(int)),
			EmbeddingModel: model,
		})
	}
	return out
}

func TestRegistry_RegisterResolveLookup(t *testing.T) {
	ctx := context.Background()
	reg, err := Load(ctx, newStore(t, "a", "b", "c"))
	require.NoError(t, err)

	require.NoError(t, reg.Register(ctx, entries("m", "a", 0, "b", 1)))

	chunkID, ok := reg.Resolve(1)
	assert.True(t, ok)
	assert.Equal(t, "b", chunkID)

	_, ok = reg.Resolve(2)
	assert.False(t, ok, "unassigned id must not resolve")
	_, ok = reg.Resolve(-1)
	assert.False(t, ok, "sentinel id must not resolve")

	id, ok := reg.Lookup("a")
	assert.True(t, ok)
	assert.Equal(t, int64(0), id)

	assert.Equal(t, []string{"c"}, reg.Unregistered([]string{"a", "c", "b"}))
	assert.Equal(t, 2, reg.Len())
}

func TestRegistry_RegisterDuplicate(t *testing.T) {
	ctx := context.Background()
	reg, err := Load(ctx, newStore(t, "a", "b"))
	require.NoError(t, err)
	require.NoError(t, reg.Register(ctx, entries("m", "a", 0)))

	tests := []struct {
		name  string
		batch []storage.VectorEntry
	}{
		{name: "already registered", batch: entries("m", "b", 1, "a", 2)},
		{name: "repeated within batch", batch: entries("m", "b", 1, "b", 2)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := reg.Register(ctx, tt.batch)
			assert.ErrorIs(t, err, storage.ErrDuplicateChunk)
			assert.Equal(t, []string{"b"}, reg.Unregistered([]string{"a", "b"}), "failed batch must record nothing")
		})
	}
}

func TestRegistry_LoadRebuildsFromStore(t *testing.T) {
	ctx := context.Background()
	store := newStore(t, "a", "b", "c")

	first, err := Load(ctx, store)
	require.NoError(t, err)
	require.NoError(t, first.Register(ctx, entries("m", "a", 0, "c", 2)))

	second, err := Load(ctx, store)
	require.NoError(t, err)

	for _, id := range []int64{0, 2} {
		want, _ := first.Resolve(id)
		got, ok := second.Resolve(id)
		assert.True(t, ok)
		assert.Equal(t, want, got)
	}
	_, ok := second.Resolve(1)
	assert.False(t, ok, "gap left by an orphan vector must stay unresolved")
}

func TestRegistry_Forget(t *testing.T) {
	ctx := context.Background()
	reg, err := Load(ctx, newStore(t, "a", "b"))
	require.NoError(t, err)
	require.NoError(t, reg.Register(ctx, entries("m", "a", 0, "b", 1)))

	reg.Forget([]string{"a", "unknown"})

	_, ok := reg.Resolve(0)
	assert.False(t, ok)
	chunkID, ok := reg.Resolve(1)
	assert.True(t, ok)
	assert.Equal(t, "b", chunkID)
	assert.Equal(t, []string{"a"}, reg.Unregistered([]string{"a", "b"}))
}

func TestRegistry_StoreFailureLeavesMemoryUntouched(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	store := mocks.NewMockVectorEntryStore(ctrl)

	store.EXPECT().ListAll(gomock.Any()).Return([]storage.VectorEntry{}, nil)
	store.EXPECT().InsertBatch(gomock.Any(), gomock.Len(1)).Return(errors.New("disk full"))

	reg, err := Load(ctx, store)
	require.NoError(t, err)

	err = reg.Register(ctx, entries("m", "a", 0))
	require.Error(t, err)
	assert.NotErrorIs(t, err, storage.ErrDuplicateChunk)

	_, ok := reg.Resolve(0)
	assert.False(t, ok)
	assert.Equal(t, 0, reg.Len())
}

func TestLoad_StoreError(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockVectorEntryStore(ctrl)
	store.EXPECT().ListAll(gomock.Any()).Return(nil, errors.New("boom"))

	_, err := Load(context.Background(), store)
	assert.Error(t, err)
}

func TestRegistry_SyncPicksUpOtherWriters(t *testing.T) {
	ctx := context.Background()
	store := newStore(t, "a", "b", "c", "d")

	server, err := Load(ctx, store)
	require.NoError(t, err)
	cli, err := Load(ctx, store)
	require.NoError(t, err)

	require.NoError(t, server.Register(ctx, entries("m", "a", 0)))
	require.NoError(t, cli.Register(ctx, entries("m", "b", 1, "c", 2)))

	_, ok := server.Resolve(1)
	assert.False(t, ok, "entries from another writer are unknown before Sync")
	assert.Equal(t, []string{"b", "c", "d"}, server.Unregistered([]string{"a", "b", "c", "d"}))

	require.NoError(t, server.Sync(ctx))

	for id, want := range map[int64]string{0: "a", 1: "b", 2: "c"} {
		got, ok := server.Resolve(id)
		assert.True(t, ok)
		assert.Equal(t, want, got)
	}
	assert.Equal(t, []string{"d"}, server.Unregistered([]string{"a", "b", "c", "d"}))
	assert.Equal(t, 3, server.Len())

	// A registration the other writer already made is rejected by the store.
	err = server.Register(ctx, entries("m", "d", 3))
	require.NoError(t, err)
	err = cli.Register(ctx, entries("m", "d", 4))
	assert.ErrorIs(t, err, storage.ErrDuplicateChunk)
}

func TestRegistry_SyncKeepsForgottenEntriesOut(t *testing.T) {
	ctx := context.Background()
	store := newStore(t, "a", "b")

	reg, err := Load(ctx, store)
	require.NoError(t, err)
	require.NoError(t, reg.Register(ctx, entries("m", "a", 0, "b", 1)))
	require.NoError(t, reg.Sync(ctx))

	reg.Forget([]string{"a"})
	require.NoError(t, reg.Sync(ctx))

	_, ok := reg.Resolve(0)
	assert.False(t, ok)
	assert.Equal(t, 1, reg.Len())
}

func TestRegistry_SyncStoreError(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	store := mocks.NewMockVectorEntryStore(ctrl)

	store.EXPECT().ListAll(gomock.Any()).Return(entries("m", "a", 0, "b", 3), nil)
	store.EXPECT().ListAfter(gomock.Any(), int64(3)).Return(nil, errors.New("boom"))

	reg, err := Load(ctx, store)
	require.NoError(t, err)
	assert.Error(t, reg.Sync(ctx))

	chunkID, ok := reg.Resolve(3)
	assert.True(t, ok)
	assert.Equal(t, "b", chunkID)
}
