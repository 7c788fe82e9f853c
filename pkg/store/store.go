// Package store provides the durable key/row storage described in spec.md
// §4.2: a single-process transactional SQLite store with secondary indexes,
// full-text search over message and LTM bodies, and an in-memory mode for
// tests. It is built the way kodelet's pkg/db and pkg/conversations/sqlite
// are: sqlx over modernc.org/sqlite, Rails-style timestamp migrations, and
// UPSERT-based writes.
package store

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/opencoder-agent/memcore/pkg/db"
	"github.com/opencoder-agent/memcore/pkg/db/migrations"
)

// Kind enumerates the ways a store operation can fail, per spec.md §4.2.
type Kind string

// Failure kinds.
const (
	KindNotFound   Kind = "not_found"
	KindConflict   Kind = "conflict"
	KindSchema     Kind = "schema_error"
	KindIO         Kind = "io_failure"
)

// Failure is the typed error every store operation returns on failure.
type Failure struct {
	Kind Kind
	Op   string
	Err  error
}

// Error implements the error interface.
func (f *Failure) Error() string {
	if f.Err != nil {
		return string(f.Kind) + ": " + f.Op + ": " + f.Err.Error()
	}
	return string(f.Kind) + ": " + f.Op
}

// Unwrap allows errors.Is/errors.As to see through a Failure.
func (f *Failure) Unwrap() error { return f.Err }

// NewFailure wraps err (which may be nil) into a Failure of the given kind.
func NewFailure(kind Kind, op string, err error) *Failure {
	return &Failure{Kind: kind, Op: op, Err: errors.Wrap(err, op)}
}

// IsKind reports whether err is a *Failure of the given kind.
func IsKind(err error, kind Kind) bool {
	f, ok := err.(*Failure)
	return ok && f.Kind == kind
}

// Store is the durable backing store shared by the temporal log, the LTM
// tree, the worker registry, the task & alarm store, and the session store.
// Each of those packages is handed a *Store and issues its own sqlx queries
// against it, the same division of labor the teacher uses between
// pkg/db (connection + migration machinery) and pkg/conversations/sqlite
// (domain queries).
type Store struct {
	DB     *sqlx.DB
	memory bool
}

// Open opens (creating if absent) a durable SQLite-backed store at path and
// runs every registered migration against it.
func Open(ctx context.Context, path string) (*Store, error) {
	sqlDB, err := db.Open(ctx, path)
	if err != nil {
		return nil, NewFailure(KindIO, "store.Open", err)
	}

	s := &Store{DB: sqlDB}
	if err := s.migrate(ctx); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return s, nil
}

// OpenMemory opens a private in-memory store, initializing schema from
// scratch. This is the "in-memory mode for tests" spec.md §4.2 requires.
func OpenMemory(ctx context.Context) (*Store, error) {
	sqlDB, err := db.OpenMemory(ctx)
	if err != nil {
		return nil, NewFailure(KindIO, "store.OpenMemory", err)
	}

	s := &Store{DB: sqlDB, memory: true}
	if err := s.migrate(ctx); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	runner := db.NewMigrationRunner(s.DB)
	if err := runner.Run(ctx, migrations.All()); err != nil {
		return NewFailure(KindSchema, "store.migrate", err)
	}
	return nil
}

// IsMemory reports whether this store is the in-memory test mode.
func (s *Store) IsMemory() bool { return s.memory }

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// WithTx runs fn inside a transaction, committing on success and rolling
// back on error or panic. Transactions give read-your-writes isolation;
// pkg/distill uses WithTx to persist a pass's summaries and subsumption
// marks together.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.DB.BeginTxx(ctx, nil)
	if err != nil {
		return NewFailure(KindIO, "store.WithTx.begin", err)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return NewFailure(KindIO, "store.WithTx.commit", err)
	}
	return nil
}
