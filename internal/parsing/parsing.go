package parsing

import (
	"errors"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// ErrUnsupportedFormat is returned for files that are not plain text or markdown.
var ErrUnsupportedFormat = errors.New("unsupported document format")

var textExtensions = map[string]bool{
	".txt":      true,
	".text":     true,
	".md":       true,
	".markdown": true,
}

// IsSupported reports whether a file can be turned into chunkable text.
func IsSupported(filename, contentType string) bool {
	if strings.HasPrefix(strings.ToLower(contentType), "text/") {
		return true
	}
	return textExtensions[strings.ToLower(filepath.Ext(filename))]
}

// IsMarkdown reports whether the file should go through the markdown renderer.
func IsMarkdown(filename, contentType string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == ".md" || ext == ".markdown" {
		return true
	}
	return strings.HasPrefix(strings.ToLower(contentType), "text/markdown")
}

// ExtractText returns the plain text of an uploaded file.
// Bytes that are not valid UTF-8 are decoded as ISO-8859-1.
func ExtractText(data []byte, filename, contentType string) (string, error) {
	if !IsSupported(filename, contentType) {
		return "", ErrUnsupportedFormat
	}

	text, err := DecodeText(data)
	if err != nil {
		return "", err
	}

	if IsMarkdown(filename, contentType) {
		return MarkdownToText([]byte(text)), nil
	}
	return text, nil
}

// DecodeText decodes UTF-8, falling back to latin-1.
func DecodeText(data []byte) (string, error) {
	if utf8.Valid(data) {
		return string(data), nil
	}
	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
	if err != nil {
		return "", err
	}
	return string(decoded), nil
}
