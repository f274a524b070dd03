package storage

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var ErrUnsafePath = errors.New("path escapes the storage root")

// ResolveWithinRoot resolves an untrusted, user-controlled path under a
// trusted root. The returned path is absolute and guaranteed to stay inside
// root. Absolute inputs, empty inputs, NUL bytes and traversal escapes all
// return ErrUnsafePath.
//
// This guards local filesystem access only; the external transfer server
// still enforces its own chroot.
func ResolveWithinRoot(root, untrusted string) (string, error) {
	rootRaw := strings.TrimSpace(root)
	raw := strings.TrimSpace(untrusted)

	if rootRaw == "" || raw == "" {
		return "", ErrUnsafePath
	}
	if strings.ContainsRune(raw, 0) {
		return "", ErrUnsafePath
	}

	// Normalize Windows separators and force relative semantics
	cleaned := strings.ReplaceAll(raw, "\\", "/")
	cleaned = strings.TrimLeft(cleaned, "/")
	if cleaned == "" {
		return "", ErrUnsafePath
	}

	rootAbs, err := filepath.Abs(rootRaw)
	if err != nil {
		return "", ErrUnsafePath
	}
	full := filepath.Join(rootAbs, filepath.FromSlash(cleaned))

	rel, err := filepath.Rel(rootAbs, full)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrUnsafePath
	}

	return full, nil
}

// IsSafeFileName reports whether value is a bare file name with no path
// separators or traversal components. Stricter than ResolveWithinRoot; used
// for names the server itself derived (e.g. a zip in the artifacts dir).
func IsSafeFileName(value string) bool {
	raw := strings.TrimSpace(value)
	if raw == "" {
		return false
	}
	if strings.ContainsRune(raw, 0) {
		return false
	}
	if raw == "." || raw == ".." {
		return false
	}
	if strings.ContainsAny(raw, "/\\") {
		return false
	}
	return true
}

// ArtifactFileName derives the deterministic artifact name for a job.
func ArtifactFileName(dirName string, accountID uint, jobID string) string {
	return fmt.Sprintf("%s-%d-%s.zip", dirName, accountID, jobID)
}
