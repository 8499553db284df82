package storage

import (
	"fmt"
	"os"
	"path/filepath"
)

// FSStore writes artifacts under a base directory. Default store when
// no remote bucket is configured.
type FSStore struct {
	BaseDir string
}

func NewFSStore(baseDir string) (*FSStore, error) {
	if baseDir == "" {
		baseDir = filepath.Join(os.TempDir(), "interview-artifacts")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	return &FSStore{BaseDir: baseDir}, nil
}

// Put writes the artifact and syncs it before returning so the
// reference handed off is durable.
func (s *FSStore) Put(key, _ string, data []byte) (string, error) {
	path := filepath.Join(s.BaseDir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create artifact subdir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create artifact: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("write artifact: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("sync artifact: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return path, nil
}
