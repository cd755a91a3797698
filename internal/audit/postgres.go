package audit

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Pool wraps pgxpool.Pool.
type Pool struct {
	*pgxpool.Pool
}

func NewPool(ctx context.Context, dsn string) (*Pool, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Pool{Pool: pool}, nil
}

// RunMigrations applies the embedded SQL files in lexical order. They are idempotent.
func RunMigrations(ctx context.Context, pool *Pool) error {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("read embedded migrations: %w", err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, file := range files {
		data, err := fs.ReadFile(migrationsFS, "migrations/"+file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}
		if _, err := pool.Exec(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", file, err)
		}
	}
	return nil
}

const pgErrUniqueViolation = "23505"

func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgErrUniqueViolation
}

// PostgresStore keeps records in the submission_results table.
type PostgresStore struct {
	pool *Pool
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(pool *Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Append(ctx context.Context, r Record) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO submission_results (
			id, network, status, path, tx_hash, origin_hash,
			nonce, value_wei, profit_wei, reason, at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		r.ID, r.Network, r.Status, nullable(r.Path), nullable(r.TxHash), r.Origin,
		nullableNonce(r.Nonce), nullable(r.ValueWei), nullable(r.Profit), nullable(r.Reason), r.At,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("insert submission result: %w", err)
	}
	return nil
}

func (s *PostgresStore) Submitted(ctx context.Context, since time.Time) ([]Record, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, network, status, COALESCE(path, ''), COALESCE(tx_hash, ''), origin_hash,
			nonce, COALESCE(value_wei, ''), COALESCE(profit_wei, ''), COALESCE(reason, ''), at
		FROM submission_results
		WHERE status = 'Submitted' AND at >= $1
		ORDER BY at, id`, since)
	if err != nil {
		return nil, fmt.Errorf("query submitted results: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Record, error) {
		var r Record
		var nonce *int64
		err := row.Scan(&r.ID, &r.Network, &r.Status, &r.Path, &r.TxHash, &r.Origin,
			&nonce, &r.ValueWei, &r.Profit, &r.Reason, &r.At)
		if nonce != nil {
			n := uint64(*nonce)
			r.Nonce = &n
		}
		r.At = r.At.UTC()
		return r, err
	})
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullableNonce(n *uint64) *int64 {
	if n == nil {
		return nil
	}
	v := int64(*n)
	return &v
}
