package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ayo6706/legal-settlement/internal/domain"
	"github.com/ayo6706/legal-settlement/internal/events"
	"github.com/ayo6706/legal-settlement/internal/observability"
	"github.com/ayo6706/legal-settlement/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// Delta is a signed change to the three wallet buckets. Balance must equal
// Withdrawable + Frozen so the wallet invariant survives every entry.
type Delta struct {
	Balance      domain.Money
	Withdrawable domain.Money
	Frozen       domain.Money
}

// Credit adds amount to the withdrawable bucket.
func Credit(amount domain.Money) Delta {
	return Delta{Balance: amount, Withdrawable: amount}
}

// CreditFrozen adds amount to the frozen bucket.
func CreditFrozen(amount domain.Money) Delta {
	return Delta{Balance: amount, Frozen: amount}
}

// Freeze moves amount from withdrawable to frozen.
func Freeze(amount domain.Money) Delta {
	return Delta{Withdrawable: -amount, Frozen: amount}
}

// Unfreeze moves amount from frozen to withdrawable.
func Unfreeze(amount domain.Money) Delta {
	return Delta{Withdrawable: amount, Frozen: -amount}
}

// DebitFrozen removes amount from the frozen bucket and the balance.
func DebitFrozen(amount domain.Money) Delta {
	return Delta{Balance: -amount, Frozen: -amount}
}

func (d Delta) validate() error {
	if d.Balance != d.Withdrawable+d.Frozen {
		return fmt.Errorf("unbalanced wallet delta: balance %d != withdrawable %d + frozen %d", d.Balance, d.Withdrawable, d.Frozen)
	}
	if d.Balance == 0 && d.Withdrawable == 0 {
		return fmt.Errorf("%w: empty wallet delta", domain.ErrInvalidAmount)
	}
	return nil
}

// WalletService owns every mutation of wallet balances.
type WalletService struct {
	store     QueryStore
	publisher events.Publisher
}

func NewWalletService(store QueryStore, publisher events.Publisher) *WalletService {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &WalletService{store: store, publisher: publisher}
}

// Apply changes one wallet and appends the matching ledger entry as a single
// atomic unit.
func (s *WalletService) Apply(ctx context.Context, userID uuid.UUID, delta Delta, reason domain.LedgerReason, referenceID uuid.UUID) (repository.WalletLedgerEntry, error) {
	var entry repository.WalletLedgerEntry
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		var err error
		entry, err = s.ApplyInTx(ctx, qtx, userID, delta, reason, referenceID)
		return err
	})
	return entry, err
}

// ApplyInTx is Apply inside the caller's transaction. The wallet row is created
// on first use and locked for the rest of the transaction.
func (s *WalletService) ApplyInTx(ctx context.Context, qtx *repository.Queries, userID uuid.UUID, delta Delta, reason domain.LedgerReason, referenceID uuid.UUID) (repository.WalletLedgerEntry, error) {
	if err := delta.validate(); err != nil {
		return repository.WalletLedgerEntry{}, err
	}
	if referenceID == uuid.Nil {
		return repository.WalletLedgerEntry{}, errors.New("ledger entry requires a reference")
	}

	pgUserID := repository.ToPgUUID(userID)
	if err := qtx.EnsureWallet(ctx, pgUserID); err != nil {
		return repository.WalletLedgerEntry{}, fmt.Errorf("ensure wallet: %w", err)
	}
	wallet, err := qtx.GetWalletForUpdate(ctx, pgUserID)
	if err != nil {
		return repository.WalletLedgerEntry{}, fmt.Errorf("lock wallet: %w", err)
	}

	if wallet.WithdrawableBalance+int64(delta.Withdrawable) < 0 {
		return repository.WalletLedgerEntry{}, domain.ErrInsufficientBalance
	}
	if wallet.FrozenBalance+int64(delta.Frozen) < 0 {
		return repository.WalletLedgerEntry{}, fmt.Errorf("frozen balance of %s would go negative", userID)
	}

	params := repository.ApplyWalletDeltaParams{
		UserID:            pgUserID,
		BalanceDelta:      int64(delta.Balance),
		WithdrawableDelta: int64(delta.Withdrawable),
		FrozenDelta:       int64(delta.Frozen),
	}
	switch reason {
	case domain.ReasonSplitCredit:
		params.EarnedDelta = int64(delta.Balance)
		params.CommissionDelta = 1
		params.LastCommissionAt = repository.Timestamptz(time.Now())
	case domain.ReasonWithdrawalPayout:
		params.WithdrawnDelta = -int64(delta.Balance)
	}

	updated, err := qtx.ApplyWalletDelta(ctx, params)
	if err != nil {
		return repository.WalletLedgerEntry{}, fmt.Errorf("update wallet: %w", err)
	}

	entry, err := qtx.InsertLedgerEntry(ctx, repository.InsertLedgerEntryParams{
		ID:                repository.ToPgUUID(uuid.New()),
		UserID:            pgUserID,
		BalanceDelta:      int64(delta.Balance),
		WithdrawableDelta: int64(delta.Withdrawable),
		FrozenDelta:       int64(delta.Frozen),
		Reason:            string(reason),
		ReferenceID:       repository.ToPgUUID(referenceID),
		BalanceAfter:      updated.Balance,
	})
	if err != nil {
		return repository.WalletLedgerEntry{}, fmt.Errorf("insert ledger entry: %w", err)
	}
	return entry, nil
}

// Verify recomputes a wallet from its ledger. A mismatch is reported, counted
// and published; nothing is corrected automatically.
func (s *WalletService) Verify(ctx context.Context, userID uuid.UUID) (bool, error) {
	pgUserID := repository.ToPgUUID(userID)

	// The wallet row and the ledger sums must come from the same instant: the
	// share lock waits out any in-flight Apply and blocks new ones until both
	// reads are done.
	var (
		wallet repository.Wallet
		sums   repository.SumLedgerByUserRow
		found  = true
	)
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		var err error
		wallet, err = qtx.GetWalletForShare(ctx, pgUserID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				found = false
				return nil
			}
			return fmt.Errorf("load wallet: %w", err)
		}
		if sums, err = qtx.SumLedgerByUser(ctx, pgUserID); err != nil {
			return fmt.Errorf("sum ledger: %w", err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	if !found {
		return true, nil
	}

	if sums.Balance == wallet.Balance &&
		sums.Withdrawable == wallet.WithdrawableBalance &&
		sums.Frozen == wallet.FrozenBalance {
		return true, nil
	}

	observability.IncrementBalanceMismatch()
	zap.L().Error("wallet balance mismatch",
		zap.String("user_id", userID.String()),
		zap.Int64("stored_balance", wallet.Balance),
		zap.Int64("ledger_balance", sums.Balance),
		zap.Int64("stored_withdrawable", wallet.WithdrawableBalance),
		zap.Int64("ledger_withdrawable", sums.Withdrawable),
		zap.Int64("stored_frozen", wallet.FrozenBalance),
		zap.Int64("ledger_frozen", sums.Frozen),
	)
	uid := userID
	events.Emit(ctx, s.publisher, events.Event{
		Type:     events.TypeBalanceMismatch,
		EntityID: userID,
		UserID:   &uid,
		Amount:   domain.Money(wallet.Balance - sums.Balance),
	})
	return false, fmt.Errorf("%w: user %s stored %d ledger %d", domain.ErrBalanceMismatch, userID, wallet.Balance, sums.Balance)
}

// VerifyAll walks every wallet. Mismatches are counted rather than returned.
func (s *WalletService) VerifyAll(ctx context.Context, pageSize int32) (checked, mismatched int, err error) {
	if pageSize <= 0 {
		pageSize = 500
	}
	after := repository.ToPgUUID(uuid.Nil)
	for {
		ids, err := s.store.Queries().ListWalletUserIDs(ctx, after, pageSize)
		if err != nil {
			return checked, mismatched, fmt.Errorf("list wallets: %w", err)
		}
		for _, id := range ids {
			ok, err := s.Verify(ctx, repository.FromPgUUID(id))
			checked++
			if err != nil && !errors.Is(err, domain.ErrBalanceMismatch) {
				return checked, mismatched, err
			}
			if !ok {
				mismatched++
			}
		}
		if len(ids) < int(pageSize) {
			return checked, mismatched, nil
		}
		after = ids[len(ids)-1]
	}
}

// PromoteMatured moves holds whose settlement delay elapsed by now from frozen
// to withdrawable. It returns the number of holds released.
func (s *WalletService) PromoteMatured(ctx context.Context, now time.Time, limit int32) (int, error) {
	var released []repository.WalletHold
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		holds, err := qtx.ClaimMaturedHolds(ctx, repository.Timestamptz(now), limit)
		if err != nil {
			return fmt.Errorf("claim matured holds: %w", err)
		}
		// Wallets are always locked in ascending user order.
		sort.SliceStable(holds, func(i, j int) bool {
			return repository.FromPgUUID(holds[i].UserID).String() < repository.FromPgUUID(holds[j].UserID).String()
		})

		for _, hold := range holds {
			holdID := repository.FromPgUUID(hold.ID)
			if _, err := s.ApplyInTx(ctx, qtx, repository.FromPgUUID(hold.UserID), Unfreeze(domain.Money(hold.Amount)), domain.ReasonUnfreeze, repository.FromPgUUID(hold.SplitID)); err != nil {
				return fmt.Errorf("release hold %s: %w", holdID, err)
			}
			rows, err := qtx.MarkHoldReleased(ctx, hold.ID)
			if err != nil {
				return fmt.Errorf("mark hold %s released: %w", holdID, err)
			}
			if err := requireExactlyOne(rows, "mark hold released"); err != nil {
				return err
			}
		}
		released = holds
		return nil
	})
	if err != nil {
		return 0, err
	}

	observability.AddHoldsReleased(len(released))
	for _, hold := range released {
		uid := repository.FromPgUUID(hold.UserID)
		events.Emit(ctx, s.publisher, events.Event{
			Type:     events.TypeFundsReleased,
			EntityID: repository.FromPgUUID(hold.SplitID),
			UserID:   &uid,
			Amount:   domain.Money(hold.Amount),
		})
	}
	return len(released), nil
}

// Wallet returns the stored wallet, or a zero wallet for users never credited.
func (s *WalletService) Wallet(ctx context.Context, userID uuid.UUID) (repository.Wallet, error) {
	w, err := s.store.Queries().GetWallet(ctx, repository.ToPgUUID(userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return repository.Wallet{UserID: repository.ToPgUUID(userID)}, nil
		}
		return repository.Wallet{}, fmt.Errorf("load wallet: %w", err)
	}
	return w, nil
}
