package token

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/desertthunder/relink/internal/shared"
)

// FileLayer persists the token to a single file, mirroring the cookie
// fallback of the browser client. The file is created 0600 under a 0700
// directory.
type FileLayer struct {
	mu   sync.Mutex
	path string
}

// NewFileLayer creates a [FileLayer] at path. A leading ~ expands to the
// user's home directory.
func NewFileLayer(path string) *FileLayer {
	if strings.HasPrefix(path, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return &FileLayer{path: path}
}

func (f *FileLayer) Name() string { return "file" }

func (f *FileLayer) Get() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return "", shared.ErrTokenMissing
	}
	if err != nil {
		return "", fmt.Errorf("failed to read token file: %w", err)
	}

	tok := strings.TrimSpace(string(data))
	if tok == "" {
		return "", shared.ErrTokenMissing
	}
	return tok, nil
}

func (f *FileLayer) Set(token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(f.path), 0700); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}
	if err := os.WriteFile(f.path, []byte(token+"\n"), 0600); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}
	return nil
}

func (f *FileLayer) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove token file: %w", err)
	}
	return nil
}
