package model

import (
	"context"
)

// Storage persists batches of models. A storage decides how rows are laid out: one file per table,
// one database table per model, or an in-memory map for tests.
type Storage interface {
	PersistBatch(ctx context.Context, ps ...Persistable) error
}

// StorageBatch receives the models of one batch. The value passed to PersistModel is a pointer to a
// struct carrying a go-pg table name, or a slice of them.
type StorageBatch interface {
	PersistModel(ctx context.Context, m interface{}) error
}

// Persistable is implemented by every row type and row list the pipeline writes.
type Persistable interface {
	Persist(ctx context.Context, s StorageBatch, version Version) error
}

// A Stamped artifact records the content hash of the frozen dataset it was generated from.
type Stamped interface {
	DatasetHashes() []string
}
