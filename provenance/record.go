package provenance

import (
	"bytes"
	"os"
	"time"

	"golang.org/x/xerrors"
	"gopkg.in/yaml.v3"
)

// SchemaVersion of the freeze record file.
const SchemaVersion = "1"

// FreezeRecord binds a dataset snapshot to its content hash.
type FreezeRecord struct {
	ContentHash     string    `yaml:"content_hash"`
	HashAlgorithm   Algorithm `yaml:"hash_algorithm"`
	CommitReference string    `yaml:"commit_reference"`
	Dataset         string    `yaml:"dataset"`
	RowCount        int       `yaml:"row_count"`
	ColumnCount     int       `yaml:"column_count"`
	Columns         []string  `yaml:"columns"`
	SchemaVersion   string    `yaml:"schema_version"`
	CreatedAt       time.Time `yaml:"created_at"`
}

// readRecord loads a record from path.
func readRecord(path string) (*FreezeRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rec FreezeRecord
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&rec); err != nil {
		return nil, xerrors.Errorf("decode freeze record %s: %w", path, err)
	}
	if rec.ContentHash == "" {
		return nil, xerrors.Errorf("freeze record %s has no content hash", path)
	}
	if _, err := ParseAlgorithm(string(rec.HashAlgorithm)); err != nil {
		return nil, xerrors.Errorf("freeze record %s: %w", path, err)
	}
	return &rec, nil
}

// writeRecord writes rec to path, failing if the file already exists.
func writeRecord(path string, rec *FreezeRecord) error {
	data, err := yaml.Marshal(rec)
	if err != nil {
		return xerrors.Errorf("encode freeze record: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o444)
	if err != nil {
		if os.IsExist(err) {
			return ErrAlreadyFrozen
		}
		return xerrors.Errorf("create freeze record: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close() // ignore error since we are recovering from a write error anyway
		return xerrors.Errorf("write freeze record: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return xerrors.Errorf("sync freeze record: %w", err)
	}
	return f.Close()
}
