package storage

import (
	"context"

	"github.com/go-pg/pg/v10"
	"github.com/go-pg/pg/v10/orm"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/xerrors"

	"github.com/l2-l1-causal-impact/bridge/metrics"
	"github.com/l2-l1-causal-impact/bridge/model"
)

var _ model.Storage = (*Database)(nil)

type DatabaseOptions struct {
	ApplicationName string
	PoolSize        int
	// Upsert ignores rows whose primary key already exists instead of failing the batch. History
	// tables never conflict since every validation run has a fresh id.
	Upsert bool
}

func NewDatabase(ctx context.Context, url string, opts DatabaseOptions) (*Database, error) {
	opt, err := pg.ParseURL(url)
	if err != nil {
		return nil, xerrors.Errorf("parse database URL: %w", err)
	}
	if opts.PoolSize > 0 {
		opt.PoolSize = opts.PoolSize
	}
	if opts.ApplicationName != "" {
		opt.ApplicationName = opts.ApplicationName
	}

	db := pg.Connect(opt)
	// Check if connection credentials are valid and PostgreSQL is up and running.
	if err := db.Ping(ctx); err != nil {
		return nil, xerrors.Errorf("ping database: %w", err)
	}

	return &Database{DB: db, version: LatestSchemaVersion(), upsert: opts.Upsert}, nil
}

type Database struct {
	DB      *pg.DB
	version model.Version
	upsert  bool
}

// CreateSchema creates any missing tables of the pipeline.
func (d *Database) CreateSchema(ctx context.Context) error {
	conn := d.DB.Conn()
	defer conn.Close() // nolint: errcheck

	return withSchemaLock(ctx, conn, func() error {
		for _, m := range Models {
			if err := conn.ModelContext(ctx, m).CreateTable(&orm.CreateTableOptions{
				IfNotExists: true,
			}); err != nil {
				return xerrors.Errorf("creating table: %w", err)
			}
		}
		return nil
	})
}

func (d *Database) Close() error {
	return d.DB.Close()
}

// PersistBatch persists a batch of models in a single transaction.
func (d *Database) PersistBatch(ctx context.Context, ps ...model.Persistable) error {
	ctx, span := otel.Tracer("").Start(ctx, "Database.PersistBatch")
	if span.IsRecording() {
		span.SetAttributes(attribute.Int("count", len(ps)))
	}
	defer span.End()

	return d.DB.RunInTransaction(ctx, func(tx *pg.Tx) error {
		txs := &TxStorage{tx: tx, upsert: d.upsert}
		for _, p := range ps {
			if err := p.Persist(ctx, txs, d.version); err != nil {
				return err
			}
		}
		return nil
	})
}

// TxStorage inserts models within an open transaction.
type TxStorage struct {
	tx     *pg.Tx
	upsert bool
}

func (s *TxStorage) PersistModel(ctx context.Context, m interface{}) error {
	q := s.tx.ModelContext(ctx, m)
	if s.upsert {
		q = q.OnConflict("do nothing")
	}
	if _, err := q.Insert(); err != nil {
		table := stripQuotes(string(q.TableModel().Table().SQLNameForSelects))
		metrics.RecordInc(metrics.WithTagValue(ctx, metrics.Table, table), metrics.PersistFailure)
		return xerrors.Errorf("persisting %s: %w", table, err)
	}
	return nil
}
