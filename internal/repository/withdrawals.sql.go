package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const withdrawalColumns = `id, user_id, amount, method, account, account_verified, status, risk_score, auto_approved,
	admin_id, admin_notes, gateway_ref, payout_transaction_id, attempt_count, next_attempt_at, last_error,
	reason_code, submitted_at, processed_at, completed_at, updated_at`

func scanWithdrawal(row rowScanner) (WithdrawalRequest, error) {
	var i WithdrawalRequest
	err := row.Scan(
		&i.ID, &i.UserID, &i.Amount, &i.Method, &i.Account, &i.AccountVerified, &i.Status, &i.RiskScore,
		&i.AutoApproved, &i.AdminID, &i.AdminNotes, &i.GatewayRef, &i.PayoutTransactionID, &i.AttemptCount,
		&i.NextAttemptAt, &i.LastError, &i.ReasonCode, &i.SubmittedAt, &i.ProcessedAt, &i.CompletedAt, &i.UpdatedAt,
	)
	return i, err
}

func (q *Queries) queryWithdrawals(ctx context.Context, sql string, args ...interface{}) ([]WithdrawalRequest, error) {
	rows, err := q.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []WithdrawalRequest
	for rows.Next() {
		i, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

const insertWithdrawal = `
INSERT INTO withdrawal_requests (id, user_id, amount, method, account, account_verified, status, risk_score, auto_approved, processed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING ` + withdrawalColumns

type InsertWithdrawalParams struct {
	ID              pgtype.UUID
	UserID          pgtype.UUID
	Amount          int64
	Method          string
	Account         string
	AccountVerified bool
	Status          string
	RiskScore       int32
	AutoApproved    bool
	ProcessedAt     pgtype.Timestamptz
}

func (q *Queries) InsertWithdrawal(ctx context.Context, arg InsertWithdrawalParams) (WithdrawalRequest, error) {
	return scanWithdrawal(q.db.QueryRow(ctx, insertWithdrawal,
		arg.ID, arg.UserID, arg.Amount, arg.Method, arg.Account, arg.AccountVerified,
		arg.Status, arg.RiskScore, arg.AutoApproved, arg.ProcessedAt,
	))
}

const getWithdrawal = `SELECT ` + withdrawalColumns + ` FROM withdrawal_requests WHERE id = $1`

func (q *Queries) GetWithdrawal(ctx context.Context, id pgtype.UUID) (WithdrawalRequest, error) {
	return scanWithdrawal(q.db.QueryRow(ctx, getWithdrawal, id))
}

const getWithdrawalForUpdate = `SELECT ` + withdrawalColumns + ` FROM withdrawal_requests WHERE id = $1 FOR UPDATE`

func (q *Queries) GetWithdrawalForUpdate(ctx context.Context, id pgtype.UUID) (WithdrawalRequest, error) {
	return scanWithdrawal(q.db.QueryRow(ctx, getWithdrawalForUpdate, id))
}

const updateWithdrawalDecision = `
UPDATE withdrawal_requests
SET status = $2, admin_id = $3, admin_notes = $4, processed_at = NOW(), next_attempt_at = NOW(), updated_at = NOW()
WHERE id = $1 AND status = 'pending'`

type UpdateWithdrawalDecisionParams struct {
	ID         pgtype.UUID
	Status     string
	AdminID    pgtype.UUID
	AdminNotes *string
}

func (q *Queries) UpdateWithdrawalDecision(ctx context.Context, arg UpdateWithdrawalDecisionParams) (int64, error) {
	result, err := q.db.Exec(ctx, updateWithdrawalDecision, arg.ID, arg.Status, arg.AdminID, arg.AdminNotes)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

// claimDueWithdrawals leases approved requests by pushing next_attempt_at forward, so a
// crashed worker's claims become visible again once the lease lapses.
const claimDueWithdrawals = `
UPDATE withdrawal_requests
SET next_attempt_at = $2, updated_at = NOW()
WHERE id IN (
    SELECT id FROM withdrawal_requests
    WHERE status = 'approved' AND next_attempt_at <= $1
    ORDER BY next_attempt_at, id
    LIMIT $3
    FOR UPDATE SKIP LOCKED
)
RETURNING ` + withdrawalColumns

type ClaimDueWithdrawalsParams struct {
	Now        pgtype.Timestamptz
	LeaseUntil pgtype.Timestamptz
	Limit      int32
}

func (q *Queries) ClaimDueWithdrawals(ctx context.Context, arg ClaimDueWithdrawalsParams) ([]WithdrawalRequest, error) {
	return q.queryWithdrawals(ctx, claimDueWithdrawals, arg.Now, arg.LeaseUntil, arg.Limit)
}

const completeWithdrawal = `
UPDATE withdrawal_requests
SET status = 'completed', gateway_ref = $2, payout_transaction_id = $3, completed_at = NOW(), last_error = NULL, updated_at = NOW()
WHERE id = $1 AND status IN ('approved', 'failed')`

type CompleteWithdrawalParams struct {
	ID                  pgtype.UUID
	GatewayRef          string
	PayoutTransactionID pgtype.UUID
}

func (q *Queries) CompleteWithdrawal(ctx context.Context, arg CompleteWithdrawalParams) (int64, error) {
	result, err := q.db.Exec(ctx, completeWithdrawal, arg.ID, arg.GatewayRef, arg.PayoutTransactionID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const scheduleWithdrawalRetry = `
UPDATE withdrawal_requests
SET attempt_count = $2, next_attempt_at = $3, last_error = $4, updated_at = NOW()
WHERE id = $1 AND status = 'approved'`

type ScheduleWithdrawalRetryParams struct {
	ID            pgtype.UUID
	AttemptCount  int32
	NextAttemptAt pgtype.Timestamptz
	LastError     string
}

func (q *Queries) ScheduleWithdrawalRetry(ctx context.Context, arg ScheduleWithdrawalRetryParams) (int64, error) {
	result, err := q.db.Exec(ctx, scheduleWithdrawalRetry, arg.ID, arg.AttemptCount, arg.NextAttemptAt, arg.LastError)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const failWithdrawal = `
UPDATE withdrawal_requests
SET status = 'failed', attempt_count = $2, reason_code = $3, last_error = $4,
    gateway_ref = COALESCE($5, gateway_ref), updated_at = NOW()
WHERE id = $1 AND status = 'approved'`

type FailWithdrawalParams struct {
	ID           pgtype.UUID
	AttemptCount int32
	ReasonCode   string
	LastError    string
	GatewayRef   *string
}

func (q *Queries) FailWithdrawal(ctx context.Context, arg FailWithdrawalParams) (int64, error) {
	result, err := q.db.Exec(ctx, failWithdrawal, arg.ID, arg.AttemptCount, arg.ReasonCode, arg.LastError, arg.GatewayRef)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const rejectFailedWithdrawal = `
UPDATE withdrawal_requests
SET status = 'rejected', admin_id = $2, admin_notes = $3, updated_at = NOW()
WHERE id = $1 AND status = 'failed'`

type RejectFailedWithdrawalParams struct {
	ID         pgtype.UUID
	AdminID    pgtype.UUID
	AdminNotes *string
}

func (q *Queries) RejectFailedWithdrawal(ctx context.Context, arg RejectFailedWithdrawalParams) (int64, error) {
	result, err := q.db.Exec(ctx, rejectFailedWithdrawal, arg.ID, arg.AdminID, arg.AdminNotes)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const getWithdrawalHistory = `
SELECT COALESCE(AVG(amount) FILTER (WHERE status = 'completed'), 0)::bigint,
       COUNT(*) FILTER (WHERE status = 'completed'),
       COUNT(*) FILTER (WHERE submitted_at >= $2),
       COUNT(*) FILTER (WHERE account = $3 AND status = 'completed')
FROM withdrawal_requests
WHERE user_id = $1`

type GetWithdrawalHistoryParams struct {
	UserID  pgtype.UUID
	Since   pgtype.Timestamptz
	Account string
}

type GetWithdrawalHistoryRow struct {
	AverageCompleted   int64
	CompletedCount     int64
	RecentCount        int64
	CompletedToAccount int64
}

func (q *Queries) GetWithdrawalHistory(ctx context.Context, arg GetWithdrawalHistoryParams) (GetWithdrawalHistoryRow, error) {
	var i GetWithdrawalHistoryRow
	err := q.db.QueryRow(ctx, getWithdrawalHistory, arg.UserID, arg.Since, arg.Account).
		Scan(&i.AverageCompleted, &i.CompletedCount, &i.RecentCount, &i.CompletedToAccount)
	return i, err
}

const countWithdrawalsByStatus = `SELECT COUNT(*) FROM withdrawal_requests WHERE status = $1`

func (q *Queries) CountWithdrawalsByStatus(ctx context.Context, status string) (int64, error) {
	var n int64
	err := q.db.QueryRow(ctx, countWithdrawalsByStatus, status).Scan(&n)
	return n, err
}

const listWithdrawalsByUser = `
SELECT ` + withdrawalColumns + `
FROM withdrawal_requests
WHERE user_id = $1
ORDER BY submitted_at DESC, id
LIMIT $2 OFFSET $3`

type ListWithdrawalsByUserParams struct {
	UserID pgtype.UUID
	Limit  int32
	Offset int32
}

func (q *Queries) ListWithdrawalsByUser(ctx context.Context, arg ListWithdrawalsByUserParams) ([]WithdrawalRequest, error) {
	return q.queryWithdrawals(ctx, listWithdrawalsByUser, arg.UserID, arg.Limit, arg.Offset)
}

const countWithdrawalsByUser = `SELECT COUNT(*) FROM withdrawal_requests WHERE user_id = $1`

func (q *Queries) CountWithdrawalsByUser(ctx context.Context, userID pgtype.UUID) (int64, error) {
	var n int64
	err := q.db.QueryRow(ctx, countWithdrawalsByUser, userID).Scan(&n)
	return n, err
}
