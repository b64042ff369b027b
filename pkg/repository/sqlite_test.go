package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
)

func TestMigrateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db, err := sql.Open("sqlite", ":memory:")
	gt.NoError(t, err)
	defer db.Close()
	db.SetMaxOpenConns(1)

	gt.NoError(t, migrate(ctx, db))
	gt.NoError(t, migrate(ctx, db))

	versions, err := (&sqliteNamespace{db: db}).SchemaVersions(ctx)
	gt.NoError(t, err)
	gt.True(t, len(versions) > 0)
}

func TestMigrateCanceled(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	gt.NoError(t, err)
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = migrate(ctx, db)
	gt.Error(t, err)
	gt.True(t, errors.Is(err, context.Canceled))
	gt.NotNil(t, goerr.Unwrap(err))
	gt.S(t, err.Error()).Contains("failed to create schema_version table")
}
