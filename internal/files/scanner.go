package files

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
)

// ScannedFile represents an importable text file found under a directory.
type ScannedFile struct {
	RelPath string // Relative path from the scan root, forward slashes
	AbsPath string
}

var importExtensions = map[string]bool{
	".txt":      true,
	".md":       true,
	".markdown": true,
}

// Scan walks root and returns .txt and .md files sorted by relative path.
// Hidden files and directories (names starting with ".") are skipped.
func Scan(ctx context.Context, root string) ([]ScannedFile, error) {
	var scanned []ScannedFile

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("failed to access path %s: %w", path, err)
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		if path != root && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !importExtensions[strings.ToLower(filepath.Ext(path))] {
			return nil
		}

		relPath, err := filepath.Rel(root, path)
		if err != nil {
			return fmt.Errorf("failed to compute relative path for %s: %w", path, err)
		}

		scanned = append(scanned, ScannedFile{
			RelPath: filepath.ToSlash(relPath),
			AbsPath: path,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", root, err)
	}

	sort.Slice(scanned, func(i, j int) bool {
		return scanned[i].RelPath < scanned[j].RelPath
	})
	return scanned, nil
}
