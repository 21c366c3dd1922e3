package repository

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/ayo6706/legal-settlement/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Repository serves the read side of the API. It never takes row locks.
type Repository struct {
	db *pgxpool.Pool
	q  *Queries
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db, q: New(db)}
}

// Queries exposes the underlying query set for callers that need a specific read.
func (r *Repository) Queries() *Queries {
	return r.q
}

// NormalizePage clamps page (1-based) and pageSize and returns the SQL limit/offset.
// Pages past the int32 offset range are pinned to the last addressable page,
// which is empty for any real table.
func NormalizePage(page, pageSize int) (int, int, int32, int32) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	if maxPage := math.MaxInt32/pageSize + 1; page > maxPage {
		page = maxPage
	}
	return page, pageSize, int32(pageSize), int32((page - 1) * pageSize)
}

// GetWallet returns the user's wallet; a user who has never been credited gets an empty one.
func (r *Repository) GetWallet(ctx context.Context, userID uuid.UUID) (*models.Wallet, error) {
	row, err := r.q.GetWallet(ctx, ToPgUUID(userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &models.Wallet{UserID: userID}, nil
		}
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}
	w := row.Model()
	return &w, nil
}

func (r *Repository) ListCommissionSplits(ctx context.Context, userID uuid.UUID, page, pageSize int) (*models.Page[models.CommissionSplit], error) {
	page, pageSize, limit, offset := NormalizePage(page, pageSize)
	total, err := r.q.CountSplitsByBeneficiary(ctx, ToPgUUID(userID))
	if err != nil {
		return nil, fmt.Errorf("failed to count splits: %w", err)
	}
	rows, err := r.q.ListSplitsByBeneficiary(ctx, ListSplitsByBeneficiaryParams{
		BeneficiaryID: ToPgUUID(userID),
		Limit:         limit,
		Offset:        offset,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list splits: %w", err)
	}
	items := make([]models.CommissionSplit, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.Model())
	}
	return &models.Page[models.CommissionSplit]{Items: items, Page: page, PageSize: pageSize, Total: total}, nil
}

func (r *Repository) ListLedgerEntries(ctx context.Context, userID uuid.UUID, page, pageSize int) (*models.Page[models.WalletLedgerEntry], error) {
	page, pageSize, limit, offset := NormalizePage(page, pageSize)
	total, err := r.q.CountLedgerEntriesByUser(ctx, ToPgUUID(userID))
	if err != nil {
		return nil, fmt.Errorf("failed to count ledger entries: %w", err)
	}
	rows, err := r.q.ListLedgerEntriesByUser(ctx, ListLedgerEntriesByUserParams{
		UserID: ToPgUUID(userID),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	items := make([]models.WalletLedgerEntry, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.Model())
	}
	return &models.Page[models.WalletLedgerEntry]{Items: items, Page: page, PageSize: pageSize, Total: total}, nil
}

func (r *Repository) ListWithdrawals(ctx context.Context, userID uuid.UUID, page, pageSize int) (*models.Page[models.WithdrawalRequest], error) {
	page, pageSize, limit, offset := NormalizePage(page, pageSize)
	total, err := r.q.CountWithdrawalsByUser(ctx, ToPgUUID(userID))
	if err != nil {
		return nil, fmt.Errorf("failed to count withdrawals: %w", err)
	}
	rows, err := r.q.ListWithdrawalsByUser(ctx, ListWithdrawalsByUserParams{
		UserID: ToPgUUID(userID),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list withdrawals: %w", err)
	}
	items := make([]models.WithdrawalRequest, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.Model())
	}
	return &models.Page[models.WithdrawalRequest]{Items: items, Page: page, PageSize: pageSize, Total: total}, nil
}
