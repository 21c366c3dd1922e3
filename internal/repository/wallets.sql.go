package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const walletColumns = `user_id, balance, withdrawable_balance, frozen_balance, total_earned, total_withdrawn,
	commission_count, last_commission_at, created_at, updated_at`

func scanWallet(row rowScanner) (Wallet, error) {
	var i Wallet
	err := row.Scan(
		&i.UserID, &i.Balance, &i.WithdrawableBalance, &i.FrozenBalance, &i.TotalEarned, &i.TotalWithdrawn,
		&i.CommissionCount, &i.LastCommissionAt, &i.CreatedAt, &i.UpdatedAt,
	)
	return i, err
}

const ensureWallet = `INSERT INTO wallets (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`

func (q *Queries) EnsureWallet(ctx context.Context, userID pgtype.UUID) error {
	_, err := q.db.Exec(ctx, ensureWallet, userID)
	return err
}

const getWallet = `SELECT ` + walletColumns + ` FROM wallets WHERE user_id = $1`

func (q *Queries) GetWallet(ctx context.Context, userID pgtype.UUID) (Wallet, error) {
	return scanWallet(q.db.QueryRow(ctx, getWallet, userID))
}

const getWalletForUpdate = `SELECT ` + walletColumns + ` FROM wallets WHERE user_id = $1 FOR UPDATE`

func (q *Queries) GetWalletForUpdate(ctx context.Context, userID pgtype.UUID) (Wallet, error) {
	return scanWallet(q.db.QueryRow(ctx, getWalletForUpdate, userID))
}

// Writers take FOR UPDATE, so holding FOR SHARE freezes the wallet and its
// ledger until the reader's transaction ends.
const getWalletForShare = `SELECT ` + walletColumns + ` FROM wallets WHERE user_id = $1 FOR SHARE`

func (q *Queries) GetWalletForShare(ctx context.Context, userID pgtype.UUID) (Wallet, error) {
	return scanWallet(q.db.QueryRow(ctx, getWalletForShare, userID))
}

const applyWalletDelta = `
UPDATE wallets
SET balance = balance + $2,
    withdrawable_balance = withdrawable_balance + $3,
    frozen_balance = frozen_balance + $4,
    total_earned = total_earned + $5,
    total_withdrawn = total_withdrawn + $6,
    commission_count = commission_count + $7,
    last_commission_at = COALESCE($8, last_commission_at),
    updated_at = NOW()
WHERE user_id = $1
RETURNING ` + walletColumns

type ApplyWalletDeltaParams struct {
	UserID            pgtype.UUID
	BalanceDelta      int64
	WithdrawableDelta int64
	FrozenDelta       int64
	EarnedDelta       int64
	WithdrawnDelta    int64
	CommissionDelta   int32
	LastCommissionAt  pgtype.Timestamptz
}

func (q *Queries) ApplyWalletDelta(ctx context.Context, arg ApplyWalletDeltaParams) (Wallet, error) {
	return scanWallet(q.db.QueryRow(ctx, applyWalletDelta,
		arg.UserID, arg.BalanceDelta, arg.WithdrawableDelta, arg.FrozenDelta,
		arg.EarnedDelta, arg.WithdrawnDelta, arg.CommissionDelta, arg.LastCommissionAt,
	))
}

// listWalletUserIDs pages through wallets by key so a full scan never holds a long-lived cursor.
const listWalletUserIDs = `SELECT user_id FROM wallets WHERE user_id > $1 ORDER BY user_id LIMIT $2`

func (q *Queries) ListWalletUserIDs(ctx context.Context, after pgtype.UUID, limit int32) ([]pgtype.UUID, error) {
	rows, err := q.db.Query(ctx, listWalletUserIDs, after, limit)
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

const ledgerColumns = `id, user_id, balance_delta, withdrawable_delta, frozen_delta, reason, reference_id, balance_after, created_at`

func scanLedgerEntry(row rowScanner) (WalletLedgerEntry, error) {
	var i WalletLedgerEntry
	err := row.Scan(
		&i.ID, &i.UserID, &i.BalanceDelta, &i.WithdrawableDelta, &i.FrozenDelta,
		&i.Reason, &i.ReferenceID, &i.BalanceAfter, &i.CreatedAt,
	)
	return i, err
}

const insertLedgerEntry = `
INSERT INTO wallet_ledger_entries (id, user_id, balance_delta, withdrawable_delta, frozen_delta, reason, reference_id, balance_after)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING ` + ledgerColumns

type InsertLedgerEntryParams struct {
	ID                pgtype.UUID
	UserID            pgtype.UUID
	BalanceDelta      int64
	WithdrawableDelta int64
	FrozenDelta       int64
	Reason            string
	ReferenceID       pgtype.UUID
	BalanceAfter      int64
}

func (q *Queries) InsertLedgerEntry(ctx context.Context, arg InsertLedgerEntryParams) (WalletLedgerEntry, error) {
	return scanLedgerEntry(q.db.QueryRow(ctx, insertLedgerEntry,
		arg.ID, arg.UserID, arg.BalanceDelta, arg.WithdrawableDelta, arg.FrozenDelta,
		arg.Reason, arg.ReferenceID, arg.BalanceAfter,
	))
}

const sumLedgerByUser = `
SELECT COALESCE(SUM(balance_delta), 0)::bigint,
       COALESCE(SUM(withdrawable_delta), 0)::bigint,
       COALESCE(SUM(frozen_delta), 0)::bigint,
       COUNT(*)
FROM wallet_ledger_entries
WHERE user_id = $1`

type SumLedgerByUserRow struct {
	Balance      int64
	Withdrawable int64
	Frozen       int64
	Entries      int64
}

func (q *Queries) SumLedgerByUser(ctx context.Context, userID pgtype.UUID) (SumLedgerByUserRow, error) {
	var i SumLedgerByUserRow
	err := q.db.QueryRow(ctx, sumLedgerByUser, userID).Scan(&i.Balance, &i.Withdrawable, &i.Frozen, &i.Entries)
	return i, err
}

const listLedgerEntriesByUser = `
SELECT ` + ledgerColumns + `
FROM wallet_ledger_entries
WHERE user_id = $1
ORDER BY created_at DESC, id
LIMIT $2 OFFSET $3`

type ListLedgerEntriesByUserParams struct {
	UserID pgtype.UUID
	Limit  int32
	Offset int32
}

func (q *Queries) ListLedgerEntriesByUser(ctx context.Context, arg ListLedgerEntriesByUserParams) ([]WalletLedgerEntry, error) {
	rows, err := q.db.Query(ctx, listLedgerEntriesByUser, arg.UserID, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []WalletLedgerEntry
	for rows.Next() {
		i, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

const countLedgerEntriesByUser = `SELECT COUNT(*) FROM wallet_ledger_entries WHERE user_id = $1`

func (q *Queries) CountLedgerEntriesByUser(ctx context.Context, userID pgtype.UUID) (int64, error) {
	var n int64
	err := q.db.QueryRow(ctx, countLedgerEntriesByUser, userID).Scan(&n)
	return n, err
}

const holdColumns = `id, user_id, split_id, amount, release_at, released_at, created_at`

func scanHold(row rowScanner) (WalletHold, error) {
	var i WalletHold
	err := row.Scan(&i.ID, &i.UserID, &i.SplitID, &i.Amount, &i.ReleaseAt, &i.ReleasedAt, &i.CreatedAt)
	return i, err
}

const insertHold = `
INSERT INTO wallet_holds (id, user_id, split_id, amount, release_at)
VALUES ($1, $2, $3, $4, $5)
RETURNING ` + holdColumns

type InsertHoldParams struct {
	ID        pgtype.UUID
	UserID    pgtype.UUID
	SplitID   pgtype.UUID
	Amount    int64
	ReleaseAt pgtype.Timestamptz
}

func (q *Queries) InsertHold(ctx context.Context, arg InsertHoldParams) (WalletHold, error) {
	return scanHold(q.db.QueryRow(ctx, insertHold, arg.ID, arg.UserID, arg.SplitID, arg.Amount, arg.ReleaseAt))
}

const claimMaturedHolds = `
SELECT ` + holdColumns + `
FROM wallet_holds
WHERE released_at IS NULL AND release_at <= $1
ORDER BY release_at, id
LIMIT $2
FOR UPDATE SKIP LOCKED`

func (q *Queries) ClaimMaturedHolds(ctx context.Context, now pgtype.Timestamptz, limit int32) ([]WalletHold, error) {
	rows, err := q.db.Query(ctx, claimMaturedHolds, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []WalletHold
	for rows.Next() {
		i, err := scanHold(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

const markHoldReleased = `UPDATE wallet_holds SET released_at = NOW() WHERE id = $1 AND released_at IS NULL`

func (q *Queries) MarkHoldReleased(ctx context.Context, id pgtype.UUID) (int64, error) {
	result, err := q.db.Exec(ctx, markHoldReleased, id)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const getHoldBySplit = `SELECT ` + holdColumns + ` FROM wallet_holds WHERE split_id = $1`

func (q *Queries) GetHoldBySplit(ctx context.Context, splitID pgtype.UUID) (WalletHold, error) {
	return scanHold(q.db.QueryRow(ctx, getHoldBySplit, splitID))
}
