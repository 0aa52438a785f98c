// Package schemafile loads the schema-definition SQL file and fingerprints it.
// The SHA-256 digest is recorded in the run report so a provisioning run can
// be matched to the exact statement it sent, and it can be pinned in the env
// file so an edited SQL file is refused before anything reaches the platform.
package schemafile

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrChecksumMismatch is returned when a pinned digest does not match the file.
var ErrChecksumMismatch = errors.New("sql file checksum mismatch")

// ErrEmpty is returned for a file with no statement in it.
var ErrEmpty = errors.New("sql file is empty")

// File is a loaded SQL file
type File struct {
	Path    string
	Content string
	SHA256  string
}

// Load reads path and verifies it against expectedSHA256 when that is non-empty.
func Load(path, expectedSHA256 string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read sql file: %w", err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return nil, fmt.Errorf("%w: %s", ErrEmpty, path)
	}

	digest := sha256.Sum256(data)
	sum := hex.EncodeToString(digest[:])
	if expectedSHA256 != "" && !strings.EqualFold(sum, expectedSHA256) {
		return nil, fmt.Errorf("%w: %s has %s, expected %s", ErrChecksumMismatch, path, sum, expectedSHA256)
	}

	return &File{Path: path, Content: string(data), SHA256: sum}, nil
}
