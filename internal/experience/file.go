package experience

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// #region file-store
// FileStore keeps the buffer as a JSON array on disk.
type FileStore struct {
	Path string
}

// NewFileStore returns a store at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{Path: path}
}

// Load returns an empty log when the file does not exist yet.
func (f *FileStore) Load(_ context.Context) ([]Experience, error) {
	data, err := os.ReadFile(f.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.Path, err)
	}
	var exps []Experience
	if err := json.Unmarshal(data, &exps); err != nil {
		return nil, fmt.Errorf("decode %s: %w", f.Path, err)
	}
	return exps, nil
}

func (f *FileStore) Save(_ context.Context, exps []Experience) error {
	if exps == nil {
		exps = []Experience{}
	}
	data, err := json.MarshalIndent(exps, "", "  ")
	if err != nil {
		return fmt.Errorf("encode experiences: %w", err)
	}
	dir := filepath.Dir(f.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	// unique temp name per call so concurrent saves never share a file
	tmp, err := os.CreateTemp(dir, filepath.Base(f.Path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.Path); err != nil {
		return fmt.Errorf("rename %s: %w", f.Path, err)
	}
	return nil
}
// #endregion file-store
