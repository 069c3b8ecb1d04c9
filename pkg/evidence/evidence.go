// Package evidence persists frame snapshots that back monitoring
// events. Failures here are always non-fatal: an event is still
// recorded with an empty evidence reference.
package evidence

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"examshield/pkg/alert"
)

// Store saves evidence frames and returns an opaque reference handle.
type Store interface {
	StoreFrame(ctx context.Context, sessionID string, kind alert.Kind, frameB64 string) (string, error)
}

// FileStore writes JPEG evidence under a root directory, using the same
// key layout as the hosted object store:
// screenshots/session_<id>/<kind>_<timestamp>.jpg
type FileStore struct {
	root string
}

// NewFileStore creates the root directory if needed.
func NewFileStore(root string) (*FileStore, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("evidence: create root: %w", err)
	}
	return &FileStore{root: root}, nil
}

// StoreFrame decodes the base64 frame and writes it to disk, returning
// the relative key.
func (s *FileStore) StoreFrame(_ context.Context, sessionID string, kind alert.Kind, frameB64 string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(frameB64)
	if err != nil {
		return "", fmt.Errorf("evidence: decode frame: %w", err)
	}
	key := filepath.Join(
		"screenshots",
		"session_"+sessionID,
		fmt.Sprintf("%s_%s.jpg", kind, time.Now().UTC().Format("20060102_150405.000000")),
	)
	full := filepath.Join(s.root, key)
	if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
		return "", fmt.Errorf("evidence: create session dir: %w", err)
	}
	if err := os.WriteFile(full, data, 0o640); err != nil {
		return "", fmt.Errorf("evidence: write frame: %w", err)
	}
	return key, nil
}
