package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const splitColumns = `id, transaction_id, beneficiary_id, role, amount, percentage, status, payout_method,
	payout_transaction_id, attempt_count, next_attempt_at, last_error, reason_code, created_at, paid_at`

func scanSplit(row rowScanner) (CommissionSplit, error) {
	var i CommissionSplit
	err := row.Scan(
		&i.ID, &i.TransactionID, &i.BeneficiaryID, &i.Role, &i.Amount, &i.Percentage, &i.Status,
		&i.PayoutMethod, &i.PayoutTransactionID, &i.AttemptCount, &i.NextAttemptAt, &i.LastError,
		&i.ReasonCode, &i.CreatedAt, &i.PaidAt,
	)
	return i, err
}

func (q *Queries) querySplits(ctx context.Context, sql string, args ...interface{}) ([]CommissionSplit, error) {
	rows, err := q.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []CommissionSplit
	for rows.Next() {
		i, err := scanSplit(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

const insertSplit = `
INSERT INTO commission_splits (id, transaction_id, beneficiary_id, role, amount, percentage, status)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING ` + splitColumns

type InsertSplitParams struct {
	ID            pgtype.UUID
	TransactionID pgtype.UUID
	BeneficiaryID pgtype.UUID
	Role          string
	Amount        int64
	Percentage    pgtype.Numeric
	Status        string
}

func (q *Queries) InsertSplit(ctx context.Context, arg InsertSplitParams) (CommissionSplit, error) {
	return scanSplit(q.db.QueryRow(ctx, insertSplit,
		arg.ID, arg.TransactionID, arg.BeneficiaryID, arg.Role, arg.Amount, arg.Percentage, arg.Status,
	))
}

const listSplitsByTransaction = `SELECT ` + splitColumns + ` FROM commission_splits WHERE transaction_id = $1 ORDER BY role`

func (q *Queries) ListSplitsByTransaction(ctx context.Context, transactionID pgtype.UUID) ([]CommissionSplit, error) {
	return q.querySplits(ctx, listSplitsByTransaction, transactionID)
}

const listSplitsByTransactionForUpdate = `SELECT ` + splitColumns + ` FROM commission_splits WHERE transaction_id = $1 ORDER BY id FOR UPDATE`

func (q *Queries) ListSplitsByTransactionForUpdate(ctx context.Context, transactionID pgtype.UUID) ([]CommissionSplit, error) {
	return q.querySplits(ctx, listSplitsByTransactionForUpdate, transactionID)
}

const markSplitPaid = `
UPDATE commission_splits
SET status = 'paid', payout_method = $2, payout_transaction_id = $3, paid_at = NOW(), last_error = NULL
WHERE id = $1 AND status = 'pending'`

type MarkSplitPaidParams struct {
	ID                  pgtype.UUID
	PayoutMethod        string
	PayoutTransactionID pgtype.UUID
}

func (q *Queries) MarkSplitPaid(ctx context.Context, arg MarkSplitPaidParams) (int64, error) {
	result, err := q.db.Exec(ctx, markSplitPaid, arg.ID, arg.PayoutMethod, arg.PayoutTransactionID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const scheduleSplitRetry = `
UPDATE commission_splits
SET attempt_count = $2, next_attempt_at = $3, last_error = $4
WHERE transaction_id = $1 AND status = 'pending'`

type ScheduleSplitRetryParams struct {
	TransactionID pgtype.UUID
	AttemptCount  int32
	NextAttemptAt pgtype.Timestamptz
	LastError     string
}

func (q *Queries) ScheduleSplitRetry(ctx context.Context, arg ScheduleSplitRetryParams) (int64, error) {
	result, err := q.db.Exec(ctx, scheduleSplitRetry, arg.TransactionID, arg.AttemptCount, arg.NextAttemptAt, arg.LastError)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const failSplits = `
UPDATE commission_splits
SET status = 'failed', attempt_count = $2, reason_code = $3, last_error = $4
WHERE transaction_id = $1 AND status = 'pending'`

type FailSplitsParams struct {
	TransactionID pgtype.UUID
	AttemptCount  int32
	ReasonCode    string
	LastError     string
}

func (q *Queries) FailSplits(ctx context.Context, arg FailSplitsParams) (int64, error) {
	result, err := q.db.Exec(ctx, failSplits, arg.TransactionID, arg.AttemptCount, arg.ReasonCode, arg.LastError)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

// listDueSplitTransactions groups pending splits by parent transaction; rows are locked later, per transaction.
const listDueSplitTransactions = `
SELECT transaction_id
FROM commission_splits
WHERE status = 'pending' AND next_attempt_at <= $1
GROUP BY transaction_id
ORDER BY MIN(next_attempt_at)
LIMIT $2`

func (q *Queries) ListDueSplitTransactions(ctx context.Context, now pgtype.Timestamptz, limit int32) ([]pgtype.UUID, error) {
	rows, err := q.db.Query(ctx, listDueSplitTransactions, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []pgtype.UUID
	for rows.Next() {
		var id pgtype.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

const listSplitsByBeneficiary = `
SELECT ` + splitColumns + `
FROM commission_splits
WHERE beneficiary_id = $1
ORDER BY created_at DESC, id
LIMIT $2 OFFSET $3`

type ListSplitsByBeneficiaryParams struct {
	BeneficiaryID pgtype.UUID
	Limit         int32
	Offset        int32
}

func (q *Queries) ListSplitsByBeneficiary(ctx context.Context, arg ListSplitsByBeneficiaryParams) ([]CommissionSplit, error) {
	return q.querySplits(ctx, listSplitsByBeneficiary, arg.BeneficiaryID, arg.Limit, arg.Offset)
}

const countSplitsByBeneficiary = `SELECT COUNT(*) FROM commission_splits WHERE beneficiary_id = $1`

func (q *Queries) CountSplitsByBeneficiary(ctx context.Context, beneficiaryID pgtype.UUID) (int64, error) {
	var n int64
	err := q.db.QueryRow(ctx, countSplitsByBeneficiary, beneficiaryID).Scan(&n)
	return n, err
}

const countSplitsByStatus = `SELECT COUNT(*) FROM commission_splits WHERE status = $1`

func (q *Queries) CountSplitsByStatus(ctx context.Context, status string) (int64, error) {
	var n int64
	err := q.db.QueryRow(ctx, countSplitsByStatus, status).Scan(&n)
	return n, err
}
