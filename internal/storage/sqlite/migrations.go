package sqlite

import (
	"context"
	"database/sql"
	"strconv"

	"github.com/elemental-run/elemental/internal/errs"
)

// migration is one forward-only schema change, applied in order and guarded
// by PRAGMA user_version so it runs exactly once per database file.
type migration struct {
	name string
	fn   func(ctx context.Context, db *sql.DB) error
}

// migrationsList is the ordered ladder of schema changes applied after the
// base schema. The base schema itself is version 0; each entry here bumps
// user_version by one. Add new entries at the end, never reorder or edit an
// existing one once it has shipped.
var migrationsList = []migration{}

// RunMigrations brings db's schema up to the latest version, running each
// pending migration inside one EXCLUSIVE transaction so concurrent openers
// from separate processes can't race on check-then-modify DDL.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	var current int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&current); err != nil {
		return errs.Storage(err, "read schema version")
	}
	if current >= len(migrationsList) {
		return nil
	}

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = OFF"); err != nil {
		return errs.Storage(err, "disable foreign keys for migration")
	}
	defer func() { _, _ = db.ExecContext(ctx, "PRAGMA foreign_keys = ON") }()

	if _, err := db.ExecContext(ctx, "BEGIN EXCLUSIVE"); err != nil {
		return errs.Storage(err, "acquire exclusive lock for migration")
	}
	committed := false
	defer func() {
		if !committed {
			_, _ = db.ExecContext(ctx, "ROLLBACK")
		}
	}()

	for i := current; i < len(migrationsList); i++ {
		m := migrationsList[i]
		if err := m.fn(ctx, db); err != nil {
			return errs.Storage(err, "migration "+m.name+" failed")
		}
	}

	if _, err := db.ExecContext(ctx, "PRAGMA user_version = "+strconv.Itoa(len(migrationsList))); err != nil {
		return errs.Storage(err, "bump schema version")
	}

	if _, err := db.ExecContext(ctx, "COMMIT"); err != nil {
		return errs.Storage(err, "commit migration")
	}
	committed = true
	return nil
}
