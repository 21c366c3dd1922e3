package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultLockTimeout bounds how long a transaction waits for a wallet or
// withdrawal row lock before Postgres aborts it.
const DefaultLockTimeout = 5 * time.Second

// ErrLockTimeout is returned by RunInTx when a row lock could not be acquired in time.
var ErrLockTimeout = errors.New("row lock wait timed out")

// Store owns the pool and scopes Queries to transactions.
type Store struct {
	db          *pgxpool.Pool
	queries     *Queries
	lockTimeout time.Duration
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{
		db:          db,
		queries:     New(db),
		lockTimeout: DefaultLockTimeout,
	}
}

// WithLockTimeout overrides DefaultLockTimeout. Zero disables the limit.
func (s *Store) WithLockTimeout(d time.Duration) *Store {
	s.lockTimeout = d
	return s
}

// Queries returns the non-transactional query set.
func (s *Store) Queries() *Queries {
	return s.queries
}

func (s *Store) Pool() *pgxpool.Pool {
	return s.db
}

// RunInTx executes fn within a database transaction, committing when fn
// returns nil. SELECT ... FOR UPDATE inside fn waits at most the lock timeout.
func (s *Store) RunInTx(ctx context.Context, fn func(q *Queries) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if s.lockTimeout > 0 {
		if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = %d", s.lockTimeout.Milliseconds())); err != nil {
			return fmt.Errorf("set lock timeout: %w", err)
		}
	}

	if err := fn(s.queries.WithTx(tx)); err != nil {
		return translateLockTimeout(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func translateLockTimeout(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "55P03" {
		return fmt.Errorf("%w: %v", ErrLockTimeout, err)
	}
	return err
}
