package storage

import (
	"context"

	"github.com/go-pg/pg/v10"
	"golang.org/x/xerrors"
)

// schemaLockID identifies the postgres advisory lock held while the pipeline tables are created.
const schemaLockID int64 = 0x62726964676501

// withSchemaLock runs fn holding the schema lock, waiting for any other run creating tables in the
// same database. Advisory locks belong to a session so conn must not be shared while fn runs.
func withSchemaLock(ctx context.Context, conn *pg.Conn, fn func() error) error {
	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock(?)`, schemaLockID); err != nil {
		return xerrors.Errorf("acquiring schema lock: %w", err)
	}
	defer func() {
		var released bool
		// unlock even when ctx was cancelled while fn ran
		_, err := conn.QueryOneContext(context.Background(), pg.Scan(&released), `SELECT pg_advisory_unlock(?)`, schemaLockID)
		if err != nil || !released {
			log.Errorw("release schema lock", "released", released, "error", err)
		}
	}()
	return fn()
}
