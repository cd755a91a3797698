// Package audit keeps the append-only record of terminal submission results.
package audit

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/ligun0805/mempool-searcher/internal/domain"
)

// ErrDuplicateKey is returned when a record with the same id already exists.
var ErrDuplicateKey = errors.New("duplicate key: audit log does not allow updates")

// Record is one terminal SubmissionResult. Amounts are decimal wei strings.
type Record struct {
	ID       uuid.UUID `json:"id"`
	Network  string    `json:"network"`
	Status   string    `json:"status"`
	Path     string    `json:"path,omitempty"`
	TxHash   string    `json:"tx_hash,omitempty"`
	Origin   string    `json:"origin"`
	Nonce    *uint64   `json:"nonce,omitempty"`
	ValueWei string    `json:"value_wei,omitempty"`
	Profit   string    `json:"profit_wei,omitempty"`
	Reason   string    `json:"reason,omitempty"`
	At       time.Time `json:"at"`
}

// Store is an append-only audit log.
type Store interface {
	Append(ctx context.Context, r Record) error
	// Submitted returns Submitted records at or after since, oldest first.
	Submitted(ctx context.Context, since time.Time) ([]Record, error)
	Close() error
}

func FromResult(r domain.SubmissionResult) Record {
	rec := Record{
		ID:      r.IntentID,
		Network: r.Network,
		Status:  r.Status.String(),
		Path:    string(r.Path),
		Origin:  r.OriginHash.Hex(),
		Nonce:   r.Nonce,
		Reason:  r.Reason,
		At:      r.At.UTC(),
	}
	if r.Status == domain.Submitted {
		rec.TxHash = r.Hash.Hex()
	}
	rec.ValueWei = weiString(r.Value)
	rec.Profit = weiString(r.Profit)
	return rec
}

func weiString(x *big.Int) string {
	if x == nil {
		return ""
	}
	return x.String()
}

// Open returns the Postgres store when dsn is set and the JSONL file store otherwise.
func Open(ctx context.Context, dsn, path string) (Store, error) {
	if dsn != "" {
		pool, err := NewPool(ctx, dsn)
		if err != nil {
			return nil, err
		}
		if err := RunMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		return NewPostgresStore(pool), nil
	}
	return NewFileStore(path)
}
