package storage

import (
	"context"
	"os"
	"strings"
	"sync"

	"golang.org/x/xerrors"

	"github.com/l2-l1-causal-impact/bridge/config"
	"github.com/l2-l1-causal-impact/bridge/model"
)

// NewCatalog returns a catalog of the storage systems declared in cfg. Names must be unique across
// storage kinds.
func NewCatalog(cfg config.StorageConf) (*Catalog, error) {
	c := &Catalog{
		files:     map[string]config.FileStorageConf{},
		databases: map[string]config.PgStorageConf{},
		opened:    map[string]model.Storage{},
	}

	for name, fc := range cfg.File {
		if _, exists := c.files[name]; exists {
			return nil, xerrors.Errorf("duplicate storage name: %q", name)
		}
		switch strings.ToUpper(fc.Format) {
		case "CSV":
		default:
			return nil, xerrors.Errorf("storage %q: unsupported file format %q", name, fc.Format)
		}
		c.files[name] = fc
	}

	for name, pc := range cfg.Postgresql {
		if _, exists := c.files[name]; exists {
			return nil, xerrors.Errorf("duplicate storage name: %q", name)
		}
		c.databases[name] = pc
	}

	return c, nil
}

// A Catalog holds a list of pre-configured storage systems and can open them when requested.
type Catalog struct {
	files     map[string]config.FileStorageConf
	databases map[string]config.PgStorageConf

	mu     sync.Mutex
	opened map[string]model.Storage
}

// Connect opens the named storage. File storages are written once per artifact and appended to
// for history tables. Opened storages are cached by name.
func (c *Catalog) Connect(ctx context.Context, name string) (model.Storage, error) {
	if name == "" {
		return Discard, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.opened[name]; ok {
		return s, nil
	}

	if fc, ok := c.files[name]; ok {
		path, err := config.ExpandPath(fc.Path)
		if err != nil {
			return nil, xerrors.Errorf("storage %q: %w", name, err)
		}
		s, err := NewCSVStorageLatest(path, ArtifactCSVStorageOptions())
		if err != nil {
			return nil, xerrors.Errorf("storage %q: %w", name, err)
		}
		c.opened[name] = s
		return s, nil
	}

	if pc, ok := c.databases[name]; ok {
		url := pc.URL
		if pc.URLEnv != "" {
			if v := os.Getenv(pc.URLEnv); v != "" {
				url = v
			}
		}
		db, err := NewDatabase(ctx, url, DatabaseOptions{
			ApplicationName: pc.ApplicationName,
			PoolSize:        pc.PoolSize,
			Upsert:          pc.AllowUpsert,
		})
		if err != nil {
			return nil, xerrors.Errorf("storage %q: %w", name, err)
		}
		if err := db.CreateSchema(ctx); err != nil {
			return nil, xerrors.Errorf("storage %q: %w", name, err)
		}
		c.opened[name] = db
		return db, nil
	}

	return nil, xerrors.Errorf("unknown storage: %q", name)
}

// Close releases any database connections opened by the catalog.
func (c *Catalog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var err error
	for name, s := range c.opened {
		if db, ok := s.(*Database); ok {
			if cerr := db.Close(); cerr != nil && err == nil {
				err = xerrors.Errorf("close %q: %w", name, cerr)
			}
		}
		delete(c.opened, name)
	}
	return err
}
