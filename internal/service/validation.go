package service

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	// MaxQueryLength is the longest accepted search query or question, in characters.
	MaxQueryLength = 2000
	// MaxSearchTopK bounds top_k on search requests.
	MaxSearchTopK = 20
	// MaxChatTopK bounds top_k on chat requests.
	MaxChatTopK = 10
)

// ValidateQuery checks that a query or question is non-blank and not too long.
func ValidateQuery(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return &ValidationError{Field: field, Message: "cannot be empty"}
	}
	if utf8.RuneCountInString(value) > MaxQueryLength {
		return &ValidationError{Field: field, Message: fmt.Sprintf("must be at most %d characters", MaxQueryLength)}
	}
	return nil
}

// ValidateTopK checks 1 <= topK <= maxTopK.
func ValidateTopK(topK, maxTopK int) error {
	if topK < 1 || topK > maxTopK {
		return &ValidationError{Field: "top_k", Message: fmt.Sprintf("must be between 1 and %d", maxTopK)}
	}
	return nil
}
