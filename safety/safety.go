// Package safety provides small security primitives shared across the
// capture index server: secret validation, path-traversal guards for
// collection names, and bounded I/O helpers for request bodies.
package safety

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

// MinSecretLen is the minimum acceptable length for symmetric secrets (HMAC,
// JWT HS256). 32 bytes = 256 bits of entropy.
const MinSecretLen = 32

// ErrSecretTooShort is returned when a secret does not meet MinSecretLen.
var ErrSecretTooShort = fmt.Errorf("safety: secret must be at least %d bytes", MinSecretLen)

// ErrPathTraversal is returned when a user-supplied path escapes its base.
var ErrPathTraversal = errors.New("safety: path traversal detected")

// ValidateSecret checks that secret is at least MinSecretLen bytes.
func ValidateSecret(secret []byte) error {
	if len(secret) < MinSecretLen {
		return ErrSecretTooShort
	}
	return nil
}

// SafePath validates that joining base and userInput does not escape base.
// Returns the cleaned joined path (absolute only when base is) or
// ErrPathTraversal.
func SafePath(base, userInput string) (string, error) {
	if strings.Contains(userInput, "..") {
		return "", ErrPathTraversal
	}
	cleaned := filepath.Join(base, filepath.Clean("/"+userInput))
	if !strings.HasPrefix(cleaned, filepath.Clean(base)+string(filepath.Separator)) &&
		cleaned != filepath.Clean(base) {
		return "", ErrPathTraversal
	}
	return cleaned, nil
}

// ValidCollectionName reports whether name is safe to use as a directory
// component and SQLite file name: alphanumeric, underscore, hyphen, dot,
// 1-256 characters, and free of path-traversal sequences.
func ValidCollectionName(name string) error {
	if name == "" {
		return fmt.Errorf("safety: collection name must not be empty")
	}
	if len(name) > 256 {
		return fmt.Errorf("safety: collection name too long (max 256)")
	}
	if strings.Contains(name, "..") || strings.ContainsAny(name, "/\\\x00") {
		return ErrPathTraversal
	}
	for _, r := range name {
		if !isIdentChar(r) {
			return fmt.Errorf("safety: invalid character %q in collection name", r)
		}
	}
	return nil
}

// LimitedReadAll reads at most maxBytes from r. Returns an error if the
// limit is exceeded, so an oversized ingest body cannot exhaust memory.
func LimitedReadAll(r io.Reader, maxBytes int64) ([]byte, error) {
	lr := io.LimitReader(r, maxBytes+1)
	data, err := io.ReadAll(lr)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("safety: body exceeds %d bytes", maxBytes)
	}
	return data, nil
}

func isIdentChar(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9') || r == '_' || r == '-' || r == '.'
}
