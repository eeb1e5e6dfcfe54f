package persistence

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/loganszeto/framekv/internal/store"
)

const DefaultSnapshotPath = "kvs_backup.json"

var ErrSnapshot = errors.New("snapshot error")

// LoadSnapshot reads the JSON object written by SaveSnapshot.
func LoadSnapshot(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", ErrSnapshot, path, err)
	}
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %w", ErrSnapshot, path, err)
	}
	if m == nil {
		return nil, fmt.Errorf("%w: %s does not hold an object", ErrSnapshot, path)
	}
	return m, nil
}

// Restore builds the store from the snapshot at path. The returned store is
// never nil: when the snapshot is absent or unusable it is empty and the
// error says why.
func Restore(path string) (*store.Store, error) {
	m, err := LoadSnapshot(path)
	if err != nil {
		return store.New(), err
	}
	return store.FromMap(m), nil
}

// SaveSnapshot writes the whole table to path. The table is copied under the
// store lock; encoding and file IO happen after it is released. The file is
// replaced atomically.
func SaveSnapshot(path string, st *store.Store) error {
	data, err := json.Marshal(st.Snapshot())
	if err != nil {
		return fmt.Errorf("%w: encode: %w", ErrSnapshot, err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("%w: %w", ErrSnapshot, err)
		}
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSnapshot, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: write %s: %w", ErrSnapshot, tmp, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: sync %s: %w", ErrSnapshot, tmp, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: %w", ErrSnapshot, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("%w: %w", ErrSnapshot, err)
	}
	return nil
}
