package vectorstore

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
)

const (
	indexMagic      = "RAGVIDX1"
	indexHeaderSize = len(indexMagic) + 4 + 8
)

// FlatIndex is an exact inner-product index held in memory.
// It is not safe for concurrent use; FileStore adds locking and persistence.
type FlatIndex struct {
	dim  int
	data []float32 // row-major, Len()*dim values
}

// NewFlatIndex creates an empty index. A zero dim is fixed by the first Add.
func NewFlatIndex(dim int) *FlatIndex {
	return &FlatIndex{dim: dim}
}

// Dim returns the vector dimension, 0 while nothing was added.
func (f *FlatIndex) Dim() int {
	return f.dim
}

// Len returns the number of stored vectors.
func (f *FlatIndex) Len() int {
	if f.dim == 0 {
		return 0
	}
	return len(f.data) / f.dim
}

// Add appends vectors and returns their ids.
// The whole batch is rejected if any vector has the wrong length.
func (f *FlatIndex) Add(vectors [][]float32) ([]int64, error) {
	if len(vectors) == 0 {
		return []int64{}, nil
	}

	dim := f.dim
	if dim == 0 {
		dim = len(vectors[0])
		if dim == 0 {
			return nil, fmt.Errorf("%w: empty vector", ErrDimensionMismatch)
		}
	}
	for i, v := range vectors {
		if len(v) != dim {
			return nil, fmt.Errorf("%w: vector %d has length %d, index dimension is %d", ErrDimensionMismatch, i, len(v), dim)
		}
	}

	f.dim = dim
	first := f.Len()
	ids := make([]int64, len(vectors))
	for i, v := range vectors {
		f.data = append(f.data, v...)
		ids[i] = int64(first + i)
	}
	return ids, nil
}

// Search scores every stored vector against query and returns the best k.
// Equal scores keep insertion order.
func (f *FlatIndex) Search(query []float32, k int) ([]Match, error) {
	n := f.Len()
	if n == 0 || k <= 0 {
		return []Match{}, nil
	}
	if len(query) != f.dim {
		return nil, fmt.Errorf("%w: query has length %d, index dimension is %d", ErrDimensionMismatch, len(query), f.dim)
	}

	matches := make([]Match, n)
	for id := 0; id < n; id++ {
		row := f.data[id*f.dim : (id+1)*f.dim]
		var score float32
		for j, q := range query {
			score += q * row[j]
		}
		matches[id] = Match{ID: int64(id), Score: score}
	}

	sortMatches(matches)
	if k < n {
		matches = matches[:k]
	}
	return matches, nil
}

// truncate drops vectors appended after the first n, restoring dim when nothing remains.
func (f *FlatIndex) truncate(n, dim int) {
	if n == 0 {
		f.data = nil
		f.dim = dim
		return
	}
	f.data = f.data[:n*f.dim]
}

// Save writes the index to path atomically: a temp file in the same directory
// is written, synced and renamed over the target.
func (f *FlatIndex) Save(path string) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create index directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp index file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	w := bufio.NewWriter(tmp)
	header := make([]byte, indexHeaderSize)
	copy(header, indexMagic)
	binary.LittleEndian.PutUint32(header[len(indexMagic):], uint32(f.dim))
	binary.LittleEndian.PutUint64(header[len(indexMagic)+4:], uint64(f.Len()))
	if _, err = w.Write(header); err != nil {
		return fmt.Errorf("failed to write index header: %w", err)
	}

	buf := make([]byte, 4)
	for _, v := range f.data {
		binary.LittleEndian.PutUint32(buf, math.Float32bits(v))
		if _, err = w.Write(buf); err != nil {
			return fmt.Errorf("failed to write index body: %w", err)
		}
	}

	if err = w.Flush(); err != nil {
		return fmt.Errorf("failed to flush index file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync index file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close index file: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace index file: %w", err)
	}
	return nil
}

// LoadFlatIndex reads an index written by Save.
// A missing file yields an empty index with dimension 0.
func LoadFlatIndex(path string) (*FlatIndex, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return NewFlatIndex(0), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read index file: %w", err)
	}

	if len(raw) < indexHeaderSize || string(raw[:len(indexMagic)]) != indexMagic {
		return nil, fmt.Errorf("%w: bad header", ErrCorruptIndex)
	}
	dim := uint64(binary.LittleEndian.Uint32(raw[len(indexMagic):]))
	count := binary.LittleEndian.Uint64(raw[len(indexMagic)+4:])

	body := raw[indexHeaderSize:]
	if count > 0 && (dim == 0 || count > uint64(len(body))/(4*dim)) {
		return nil, fmt.Errorf("%w: header declares %d vectors of dimension %d", ErrCorruptIndex, count, dim)
	}
	if uint64(len(body)) != count*dim*4 {
		return nil, fmt.Errorf("%w: body has %d bytes, expected %d", ErrCorruptIndex, len(body), count*dim*4)
	}

	data := make([]float32, count*dim)
	for i := range data {
		data[i] = math.Float32frombits(binary.LittleEndian.Uint32(body[i*4:]))
	}

	return &FlatIndex{dim: int(dim), data: data}, nil
}
