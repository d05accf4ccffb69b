package storage

import (
	"context"
	"reflect"
	"sort"
	"sync"

	"github.com/l2-l1-causal-impact/bridge/model"
)

var _ model.Storage = (*MemStorage)(nil)

// MemStorage keeps persisted models in memory, keyed by table name, in the order they were
// persisted.
type MemStorage struct {
	version model.Version

	mu     sync.Mutex
	tables map[string][]interface{}
}

func NewMemStorage(version model.Version) *MemStorage {
	return &MemStorage{version: version, tables: map[string][]interface{}{}}
}

func NewMemStorageLatest() *MemStorage {
	return NewMemStorage(LatestSchemaVersion())
}

func (m *MemStorage) PersistBatch(ctx context.Context, ps ...model.Persistable) error {
	for _, p := range ps {
		if err := p.Persist(ctx, m, m.version); err != nil {
			return err
		}
	}
	return nil
}

// PersistModel records m, or each element of a slice of models, under its table name.
func (m *MemStorage) PersistModel(ctx context.Context, v interface{}) error {
	value := reflect.ValueOf(v)
	if value.Kind() == reflect.Ptr {
		value = value.Elem()
	}

	switch value.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < value.Len(); i++ {
			if err := m.PersistModel(ctx, value.Index(i).Interface()); err != nil {
				return err
			}
		}
		return nil
	case reflect.Struct:
		name := ModelTable(v, m.version).Name
		m.mu.Lock()
		m.tables[name] = append(m.tables[name], v)
		m.mu.Unlock()
		return nil
	default:
		return ErrMarshalUnsupportedType
	}
}

// Rows returns a copy of the models persisted to the named table.
func (m *MemStorage) Rows(table string) []interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]interface{}(nil), m.tables[table]...)
}

// Tables returns the names of the tables that received at least one model.
func (m *MemStorage) Tables() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.tables))
	for name := range m.tables {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
