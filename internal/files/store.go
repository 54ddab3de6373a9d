// Package files keeps uploaded raw documents on local disk.
package files

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_store.go -package=mocks ragassist/internal/files Store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

const maxFilenameLength = 200

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// ErrInvalidPath is returned for storage paths that escape the store root.
var ErrInvalidPath = errors.New("invalid storage path")

// Store saves and reads raw document bytes.
type Store interface {
	// Save writes r under a name derived from docID and filename and returns the storage path.
	Save(ctx context.Context, docID, filename string, r io.Reader) (string, error)
	// Read returns the bytes stored at storagePath.
	Read(ctx context.Context, storagePath string) ([]byte, error)
	// Remove deletes the file at storagePath. A missing file is not an error.
	Remove(ctx context.Context, storagePath string) error
}

// DiskStore stores files in a single directory.
type DiskStore struct {
	root string
}

// NewDiskStore creates the root directory if needed.
func NewDiskStore(root string) (*DiskStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create files directory: %w", err)
	}
	return &DiskStore{root: root}, nil
}

// SanitizeFilename keeps the base name and replaces runs of characters outside
// [A-Za-z0-9._-] with "_". Leading and trailing dots and underscores are removed,
// the result is capped at 200 characters and falls back to "file" when empty.
func SanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = unsafeFilenameChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, "._")
	if len(name) > maxFilenameLength {
		name = name[:maxFilenameLength]
	}
	if name == "" {
		return "file"
	}
	return name
}

// Save writes the file as "<docID>_<sanitized name>".
func (s *DiskStore) Save(ctx context.Context, docID, filename string, r io.Reader) (string, error) {
	storagePath := docID + "_" + SanitizeFilename(filename)
	full, err := s.resolve(storagePath)
	if err != nil {
		return "", err
	}

	f, err := os.OpenFile(full, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(full)
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(full)
		return "", fmt.Errorf("failed to close file: %w", err)
	}
	return storagePath, nil
}

// Read returns the stored bytes.
func (s *DiskStore) Read(ctx context.Context, storagePath string) ([]byte, error) {
	full, err := s.resolve(storagePath)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return data, nil
}

// Remove deletes a stored file.
func (s *DiskStore) Remove(ctx context.Context, storagePath string) error {
	full, err := s.resolve(storagePath)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove file: %w", err)
	}
	return nil
}

func (s *DiskStore) resolve(storagePath string) (string, error) {
	if storagePath == "" || storagePath != filepath.Base(storagePath) || storagePath == ".." {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, storagePath)
	}
	return filepath.Join(s.root, storagePath), nil
}
