package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
)

// LocalBackend stores blobs under a root directory on the local
// filesystem, expanding a leading "~" to the user's home directory.
type LocalBackend struct {
	root string
}

// NewLocalBackend constructs a backend rooted at root (created lazily on
// first write).
func NewLocalBackend(root string) *LocalBackend {
	return &LocalBackend{root: expandHome(root)}
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			if path == "~" {
				return home
			}
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

func (b *LocalBackend) abs(path string) string {
	return filepath.Join(b.root, filepath.FromSlash(path))
}

func (b *LocalBackend) Write(_ context.Context, path string, data []byte) (string, error) {
	full := b.abs(path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return "", err
	}
	return "file://" + full, nil
}

func (b *LocalBackend) Read(_ context.Context, path string) ([]byte, error) {
	return os.ReadFile(b.abs(path))
}

func (b *LocalBackend) List(_ context.Context, prefix string) ([]string, error) {
	root := b.abs(prefix)
	base := filepath.Dir(root)

	var out []string
	err := filepath.Walk(base, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() {
			return nil
		}
		if strings.HasPrefix(p, root) {
			rel, relErr := filepath.Rel(b.root, p)
			if relErr != nil {
				return relErr
			}
			out = append(out, filepath.ToSlash(rel))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (b *LocalBackend) Exists(_ context.Context, path string) (bool, error) {
	_, err := os.Stat(b.abs(path))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (b *LocalBackend) Delete(_ context.Context, path string) (bool, error) {
	err := os.Remove(b.abs(path))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

var _ Backend = (*LocalBackend)(nil)
