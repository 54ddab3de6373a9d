package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"ragassist/internal/contextutil"
)

var _ VectorIndex = (*FileStore)(nil)

// saveIndex persists an index; replaced in tests to simulate write failures.
var saveIndex = (*FlatIndex).Save

// fileStamp identifies the version of the index file that was loaded.
type fileStamp struct {
	size    int64
	modTime time.Time
}

// FileStore is a FlatIndex persisted to a single file.
//
// Several processes may open the same file. Add reloads the file under an
// exclusive lock file before appending, so ids continue the sequence on disk.
// Search and Info reload whenever the file changed since it was last read.
// Every Add is saved before it returns; a failed save rolls the append back.
type FileStore struct {
	mu     sync.RWMutex
	path   string
	dim    int
	lock   *ProcessLock
	index  *FlatIndex
	loaded fileStamp
}

// OpenFileStore loads the index at path, or starts an empty one when the file is missing.
// A non-zero dim must match the dimension of an existing index.
func OpenFileStore(path string, dim int) (*FileStore, error) {
	s := &FileStore{
		path:  path,
		dim:   dim,
		lock:  NewProcessLock(path + ".lock"),
		index: NewFlatIndex(dim),
	}
	if err := s.reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// reload reads the file again if it changed. Must be called with the write lock held.
func (s *FileStore) reload() error {
	info, err := os.Stat(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to stat index file: %w", err)
	}

	stamp := fileStamp{size: info.Size(), modTime: info.ModTime()}
	if stamp == s.loaded {
		return nil
	}

	index, err := LoadFlatIndex(s.path)
	if err != nil {
		return err
	}
	if s.dim > 0 && index.Dim() > 0 && index.Dim() != s.dim {
		return fmt.Errorf("%w: index file has dimension %d, configured %d", ErrDimensionMismatch, index.Dim(), s.dim)
	}
	if index.Dim() == 0 && s.dim > 0 {
		index.dim = s.dim
	}
	s.index = index
	s.loaded = stamp
	return nil
}

func (s *FileStore) stamp() {
	if info, err := os.Stat(s.path); err == nil {
		s.loaded = fileStamp{size: info.Size(), modTime: info.ModTime()}
	}
}

// refresh reloads the file for readers when another writer changed it.
func (s *FileStore) refresh() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reload()
}

// Add appends vectors and persists the index.
func (s *FileStore) Add(ctx context.Context, vectors [][]float32) ([]int64, error) {
	logger := contextutil.LoggerFromContext(ctx)

	if len(vectors) == 0 {
		return []int64{}, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.lock.Lock(ctx); err != nil {
		return nil, err
	}
	defer func() {
		if err := s.lock.Unlock(); err != nil {
			logger.WarnContext(ctx, "failed to release index lock", "path", s.path, "error", err)
		}
	}()

	if err := s.reload(); err != nil {
		return nil, fmt.Errorf("failed to reload vector index: %w", err)
	}

	prevLen, prevDim := s.index.Len(), s.index.Dim()
	ids, err := s.index.Add(vectors)
	if err != nil {
		return nil, err
	}

	if err := saveIndex(s.index, s.path); err != nil {
		s.index.truncate(prevLen, prevDim)
		logger.ErrorContext(ctx, "failed to persist vector index", "path", s.path, "error", err)
		return nil, fmt.Errorf("failed to persist vector index: %w", err)
	}
	s.stamp()

	logger.DebugContext(ctx, "vectors added", "path", s.path, "count", len(ids), "total", s.index.Len())
	return ids, nil
}

// Search runs an exact search on the latest persisted state.
func (s *FileStore) Search(ctx context.Context, query []float32, k int) ([]Match, error) {
	if err := s.refresh(); err != nil {
		return nil, fmt.Errorf("failed to reload vector index: %w", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.Search(query, k)
}

// Ready reports whether the index file exists.
func (s *FileStore) Ready(ctx context.Context) (bool, error) {
	_, err := os.Stat(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to stat index file: %w", err)
	}
	return true, nil
}

// Info returns the dimension and vector count.
func (s *FileStore) Info(ctx context.Context) (Info, error) {
	if err := s.refresh(); err != nil {
		return Info{}, fmt.Errorf("failed to reload vector index: %w", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Info{
		Backend:   BackendFile,
		Dimension: s.index.Dim(),
		Count:     s.index.Len(),
	}, nil
}
