// Package storageutil persists aggregated results as lz4-compressed
// JSON files in a local directory.
package storageutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
	"github.com/pierrec/lz4/v4"
)

// ErrObjectNotFound indicates a result object was not found in the store.
var ErrObjectNotFound = errors.New("object not found")

// FileStore writes result objects under a root directory.
type FileStore struct {
	root string
}

func NewFileStore(root string) FileStore {
	return FileStore{root: root}
}

// WriteCompressed encodes v as JSON, compresses it and places it at
// name under the store root. The object is staged in a temporary file
// and renamed into place, so an interrupted run never leaves a torn
// result behind.
func (s FileStore) WriteCompressed(name string, v interface{}) error {
	tmp, err := os.CreateTemp(s.root, "."+name+".*")
	if err != nil {
		return fmt.Errorf("stage %s: %w", name, err)
	}
	defer os.Remove(tmp.Name())

	zw := lz4.NewWriter(tmp)
	if err := json.NewEncoder(zw).Encode(v); err != nil {
		tmp.Close()
		return fmt.Errorf("encode %s: %w", name, err)
	}
	if err := zw.Close(); err != nil {
		tmp.Close()
		return fmt.Errorf("compress %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("stage %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.root, name)); err != nil {
		return fmt.Errorf("place %s: %w", name, err)
	}
	return nil
}

// ReadCompressed reads the object at name from the store and decodes
// it into v. A missing object reports ErrObjectNotFound.
func (s FileStore) ReadCompressed(name string, v interface{}) error {
	f, err := os.Open(filepath.Join(s.root, name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrObjectNotFound
		}
		return err
	}
	defer f.Close()

	if err := json.NewDecoder(lz4.NewReader(f)).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	return nil
}
