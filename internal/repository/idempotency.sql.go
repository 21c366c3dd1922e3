package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const idempotencyColumns = `idempotency_key, request_hash, method, path, in_progress, response_status,
	COALESCE(response_body, ''::bytea), content_type, created_at, updated_at`

func scanIdempotencyKey(row rowScanner) (IdempotencyKey, error) {
	var i IdempotencyKey
	err := row.Scan(
		&i.IdempotencyKey, &i.RequestHash, &i.Method, &i.Path, &i.InProgress, &i.ResponseStatus,
		&i.ResponseBody, &i.ContentType, &i.CreatedAt, &i.UpdatedAt,
	)
	return i, err
}

const getIdempotencyKey = `SELECT ` + idempotencyColumns + ` FROM idempotency_keys WHERE idempotency_key = $1`

func (q *Queries) GetIdempotencyKey(ctx context.Context, key string) (IdempotencyKey, error) {
	return scanIdempotencyKey(q.db.QueryRow(ctx, getIdempotencyKey, key))
}

// reserveIdempotencyKey returns no row when another request already holds the key.
const reserveIdempotencyKey = `
INSERT INTO idempotency_keys (idempotency_key, request_hash, method, path)
VALUES ($1, $2, $3, $4)
ON CONFLICT (idempotency_key) DO NOTHING
RETURNING ` + idempotencyColumns

type ReserveIdempotencyKeyParams struct {
	IdempotencyKey string
	RequestHash    string
	Method         string
	Path           string
}

func (q *Queries) ReserveIdempotencyKey(ctx context.Context, arg ReserveIdempotencyKeyParams) (IdempotencyKey, error) {
	return scanIdempotencyKey(q.db.QueryRow(ctx, reserveIdempotencyKey, arg.IdempotencyKey, arg.RequestHash, arg.Method, arg.Path))
}

const finalizeIdempotencyKey = `
UPDATE idempotency_keys
SET in_progress = FALSE, response_status = $1, response_body = $2, content_type = $3, updated_at = NOW()
WHERE idempotency_key = $4 AND request_hash = $5
RETURNING ` + idempotencyColumns

type FinalizeIdempotencyKeyParams struct {
	ResponseStatus int32
	ResponseBody   []byte
	ContentType    string
	IdempotencyKey string
	RequestHash    string
}

func (q *Queries) FinalizeIdempotencyKey(ctx context.Context, arg FinalizeIdempotencyKeyParams) (IdempotencyKey, error) {
	return scanIdempotencyKey(q.db.QueryRow(ctx, finalizeIdempotencyKey,
		arg.ResponseStatus, arg.ResponseBody, arg.ContentType, arg.IdempotencyKey, arg.RequestHash,
	))
}

const releaseIdempotencyKey = `DELETE FROM idempotency_keys WHERE idempotency_key = $1 AND in_progress`

func (q *Queries) ReleaseIdempotencyKey(ctx context.Context, key string) (int64, error) {
	result, err := q.db.Exec(ctx, releaseIdempotencyKey, key)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const deleteExpiredIdempotencyKeys = `DELETE FROM idempotency_keys WHERE created_at < $1 AND NOT in_progress`

func (q *Queries) DeleteExpiredIdempotencyKeys(ctx context.Context, before pgtype.Timestamptz) (int64, error) {
	result, err := q.db.Exec(ctx, deleteExpiredIdempotencyKeys, before)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}
