package sqlite

import (
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// OpenDB opens a SQLite database read-write, creating the file and
// applying the schema when it is new. Databases are rebuilt wholesale
// and swapped into place rather than migrated, so an existing file
// must already be at the requested schema version.
func OpenDB(dburi string, version int, schema []string) (*sqlx.DB, error) {
	// Add sqlite3-specific parameters if none are already
	// specified in the connection URI.
	if !strings.Contains(dburi, "?") {
		dburi += "?cache=shared&_busy_timeout=10000&_journal=WAL"
	}

	db, err := sqlx.Open("sqlite3", dburi)
	if err != nil {
		return nil, err
	}

	// Limit the pool to a single connection.
	// https://github.com/mattn/go-sqlite3/issues/209
	db.SetMaxOpenConns(1)

	if err := initSchema(db, version, schema); err != nil {
		db.Close() // nolint
		return nil, err
	}

	return db, nil
}

// OpenRO opens an existing SQLite database read-only. The query
// engines use this so they can never mutate a published snapshot, and
// to refuse snapshots written by an incompatible binary.
func OpenRO(path string, version int) (*sqlx.DB, error) {
	dburi := fmt.Sprintf("file:%s?mode=ro&_busy_timeout=10000", path)

	db, err := sqlx.Open("sqlite3", dburi)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	// This also fails early when the file is missing or not a
	// database at all.
	var found int
	if err := db.QueryRow("PRAGMA user_version").Scan(&found); err != nil {
		db.Close() // nolint
		return nil, err
	}
	if found != version {
		db.Close() // nolint
		return nil, fmt.Errorf("database %s is at schema version %d, expected %d", path, found, version)
	}

	return db, nil
}

func initSchema(db *sqlx.DB, version int, schema []string) error {
	return WithTx(db, func(tx *sqlx.Tx) error {
		var found int
		if err := tx.QueryRow("PRAGMA user_version").Scan(&found); err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}

		switch found {
		case version:
			return nil
		case 0:
			for _, stmt := range schema {
				if _, err := tx.Exec(stmt); err != nil {
					return fmt.Errorf("applying schema: %w", err)
				}
			}
			// ? substitution does not work in PRAGMA
			// statements, sqlite reports a parse error.
			_, err := tx.Exec(fmt.Sprintf("PRAGMA user_version=%d", version))
			return err
		default:
			return fmt.Errorf("database is at schema version %d, expected %d", found, version)
		}
	})
}

// WithTx wraps a function in a SQL transaction, committing on success
// and rolling back on error.
func WithTx(db *sqlx.DB, f func(*sqlx.Tx) error) error {
	tx, err := db.Beginx()
	if err != nil {
		return err
	}
	if err := f(tx); err != nil {
		tx.Rollback() // nolint: errcheck
		return err
	}
	return tx.Commit()
}
