package testutil

import (
	"context"
	"os"
	"testing"

	"github.com/go-pg/pg/v10"
	"golang.org/x/xerrors"
)

var testDatabase = os.Getenv("BRIDGE_TEST_DB")

// DatabaseAvailable reports whether a database is available for testing
func DatabaseAvailable() bool {
	return testDatabase != ""
}

// Database returns the connection string for connecting to the test database
func Database() string {
	return testDatabase
}

// WaitForDatabase connects to the test database and waits for it to respond. The returned cleanup
// function closes the connection.
func WaitForDatabase(ctx context.Context, tb testing.TB) (*pg.DB, func() error, error) {
	tb.Helper()
	opt, err := pg.ParseURL(testDatabase)
	if err != nil {
		return nil, nil, xerrors.Errorf("parse database URL: %w", err)
	}
	db := pg.Connect(opt)
	if err := db.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, nil, xerrors.Errorf("ping database: %w", err)
	}
	return db, db.Close, nil
}
