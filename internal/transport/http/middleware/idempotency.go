package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"payrun/internal/platform/db"
)

// IdempotencyTTL is how long a stored response is replayed for its key.
const IdempotencyTTL = 24 * time.Hour

var ErrIdempotencyConflict = errors.New("idempotency key reused with a different request")

// IdempotencyStore keeps the response of a keyed lifecycle request per
// company, actor and endpoint, so a retry replays it instead of acting again.
type IdempotencyStore struct {
	pool *pgxpool.Pool
	ttl  time.Duration
}

func NewIdempotencyStore(pool *pgxpool.Pool) *IdempotencyStore {
	return &IdempotencyStore{pool: pool, ttl: IdempotencyTTL}
}

// RequestHash fingerprints the parts that make two keyed requests the same.
func RequestHash(parts ...[]byte) string {
	h := sha256.New()
	for _, part := range parts {
		h.Write(part)
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Check returns the stored response for key. Expired entries count as absent.
func (s *IdempotencyStore) Check(ctx context.Context, companyID, actorID, endpoint, key, requestHash string) (json.RawMessage, bool, error) {
	if s == nil || s.pool == nil {
		return nil, false, nil
	}
	var storedHash string
	var response json.RawMessage
	err := db.GetQuerier(ctx, s.pool).QueryRow(ctx, `
    SELECT request_hash, response_json
    FROM idempotency_keys
    WHERE company_id = $1 AND actor_id = $2 AND endpoint = $3 AND key = $4
      AND created_at > now() - make_interval(secs => $5)
  `, companyID, actorID, endpoint, key, s.ttl.Seconds()).Scan(&storedHash, &response)
	switch {
	case db.IsNoRows(err):
		return nil, false, nil
	case err != nil:
		return nil, false, err
	case storedHash != requestHash:
		return nil, false, ErrIdempotencyConflict
	}
	return response, true, nil
}

// Save stores response under key. A live entry for a different request is a
// conflict; an expired one is replaced.
func (s *IdempotencyStore) Save(ctx context.Context, companyID, actorID, endpoint, key, requestHash string, response json.RawMessage) error {
	if s == nil || s.pool == nil {
		return nil
	}
	tag, err := db.GetQuerier(ctx, s.pool).Exec(ctx, `
    INSERT INTO idempotency_keys (company_id, actor_id, endpoint, key, request_hash, response_json)
    VALUES ($1, $2, $3, $4, $5, $6)
    ON CONFLICT (company_id, actor_id, key, endpoint) DO UPDATE
    SET request_hash = EXCLUDED.request_hash, response_json = EXCLUDED.response_json, created_at = now()
    WHERE idempotency_keys.request_hash = EXCLUDED.request_hash
       OR idempotency_keys.created_at <= now() - make_interval(secs => $7)
  `, companyID, actorID, endpoint, key, requestHash, response, s.ttl.Seconds())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrIdempotencyConflict
	}
	return nil
}
