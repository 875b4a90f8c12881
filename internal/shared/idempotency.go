package shared

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/blake2b"
)

// IdempotencyRecord is a processed (or in-flight) request keyed by client key.
type IdempotencyRecord struct {
	Key         string
	Module      string
	Fingerprint string
	Status      int
	Response    []byte
	CreatedAt   time.Time
}

// Completed reports whether a response has been stored for replay.
func (r IdempotencyRecord) Completed() bool {
	return r.Status > 0
}

// IdempotencyStore persists processed keys.
type IdempotencyStore struct {
	pool *pgxpool.Pool
}

// NewIdempotencyStore constructs the store.
func NewIdempotencyStore(pool *pgxpool.Pool) *IdempotencyStore {
	return &IdempotencyStore{pool: pool}
}

// Fingerprint hashes the request parts into a stable hex digest.
func Fingerprint(parts ...[]byte) string {
	h, _ := blake2b.New256(nil)
	for _, p := range parts {
		_, _ = h.Write(p)
		_, _ = h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Begin claims key for module. It returns nil when the key is new. When the key
// already exists with the same fingerprint and a stored response, the record is
// returned for replay. Anything else is ErrIdempotencyConflict.
func (s *IdempotencyStore) Begin(ctx context.Context, key, module, fingerprint string) (*IdempotencyRecord, error) {
	if err := s.check(key, module); err != nil {
		return nil, err
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO idempotency_keys (key, module, fingerprint, created_at) VALUES ($1, $2, $3, $4)`, key, module, fingerprint, time.Now().UTC())
	if err == nil {
		return nil, nil
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return nil, err
	}
	var rec IdempotencyRecord
	var status *int
	err = s.pool.QueryRow(ctx, `SELECT key, module, fingerprint, response_status, response_body, created_at FROM idempotency_keys WHERE key=$1 AND module=$2`, key, module).
		Scan(&rec.Key, &rec.Module, &rec.Fingerprint, &status, &rec.Response, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrIdempotencyConflict
		}
		return nil, err
	}
	if status != nil {
		rec.Status = *status
	}
	if rec.Fingerprint != fingerprint {
		return nil, fmt.Errorf("%w: key reused with a different request", ErrIdempotencyConflict)
	}
	if !rec.Completed() {
		return nil, fmt.Errorf("%w: request still in progress", ErrIdempotencyConflict)
	}
	return &rec, nil
}

// Complete stores the response to replay for later duplicates.
func (s *IdempotencyStore) Complete(ctx context.Context, key, module string, status int, body []byte) error {
	if err := s.check(key, module); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `UPDATE idempotency_keys SET response_status=$3, response_body=$4 WHERE key=$1 AND module=$2`, key, module, status, body)
	return err
}

// Cleanup removes entries older than retention.
func (s *IdempotencyStore) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	if s == nil || s.pool == nil {
		return 0, nil
	}
	cutoff := time.Now().Add(-olderThan)
	tag, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Delete removes a key, typically used to roll back failed processing.
func (s *IdempotencyStore) Delete(ctx context.Context, key, module string) error {
	if s == nil || s.pool == nil {
		return nil
	}
	if key == "" {
		return errors.New("idempotency key required")
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE key=$1 AND module=$2`, key, module)
	return err
}

func (s *IdempotencyStore) check(key, module string) error {
	if s == nil || s.pool == nil {
		return errors.New("idempotency store not initialised")
	}
	if key == "" {
		return errors.New("idempotency key required")
	}
	if module == "" {
		return errors.New("idempotency module required")
	}
	return nil
}
