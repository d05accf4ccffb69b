package storage

import (
	"encoding/json"
	"os"
	"path/filepath"

	"golang.org/x/xerrors"
)

// WriteJSON writes v as indented json to path. An exclusive write fails with ErrFileExists when
// path is already present, otherwise the file is replaced atomically.
func WriteJSON(path string, v interface{}, exclusive bool) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return xerrors.Errorf("encode %s: %w", path, err)
	}
	data = append(data, '\n')

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return xerrors.Errorf("create directory: %w", err)
	}

	if exclusive {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err != nil {
			if os.IsExist(err) {
				return xerrors.Errorf("%s: %w", path, ErrFileExists)
			}
			return xerrors.Errorf("create %s: %w", path, err)
		}
		if _, err := f.Write(data); err != nil {
			_ = f.Close() // ignore error since we are recovering from a write error anyway
			return xerrors.Errorf("write %s: %w", path, err)
		}
		return f.Close()
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*")
	if err != nil {
		return xerrors.Errorf("create temporary file: %w", err)
	}
	defer os.Remove(tmp.Name()) // nolint: errcheck

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return xerrors.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return xerrors.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return xerrors.Errorf("replace %s: %w", path, err)
	}
	log.Debugw("wrote json", "path", path)
	return nil
}
