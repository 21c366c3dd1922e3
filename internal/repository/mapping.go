package repository

import (
	"time"

	"github.com/ayo6706/legal-settlement/internal/domain"
	"github.com/ayo6706/legal-settlement/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

func optTime(t pgtype.Timestamptz) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func optUUID(id pgtype.UUID) *uuid.UUID {
	if !id.Valid {
		return nil
	}
	v := uuid.UUID(id.Bytes)
	return &v
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func (t Transaction) Model() models.Transaction {
	return models.Transaction{
		ID:           FromPgUUID(t.ID),
		CaseRef:      deref(t.CaseRef),
		OrderID:      optUUID(t.OrderID),
		Amount:       domain.Money(t.Amount),
		Currency:     t.Currency,
		Type:         domain.TransactionType(t.Type),
		Status:       domain.TransactionStatus(t.Status),
		Gateway:      t.Gateway,
		GatewayTxnID: t.GatewayTxnID,
		CreatedAt:    t.CreatedAt.Time,
		CompletedAt:  optTime(t.CompletedAt),
	}
}

func (s CommissionSplit) Model() models.CommissionSplit {
	return models.CommissionSplit{
		ID:                  FromPgUUID(s.ID),
		TransactionID:       FromPgUUID(s.TransactionID),
		BeneficiaryID:       FromPgUUID(s.BeneficiaryID),
		Role:                domain.Role(s.Role),
		Amount:              domain.Money(s.Amount),
		Percentage:          FromPgNumeric(s.Percentage),
		Status:              domain.SplitStatus(s.Status),
		PayoutMethod:        deref(s.PayoutMethod),
		PayoutTransactionID: optUUID(s.PayoutTransactionID),
		AttemptCount:        s.AttemptCount,
		ReasonCode:          deref(s.ReasonCode),
		CreatedAt:           s.CreatedAt.Time,
		PaidAt:              optTime(s.PaidAt),
	}
}

func (w Wallet) Model() models.Wallet {
	return models.Wallet{
		UserID:              FromPgUUID(w.UserID),
		Balance:             domain.Money(w.Balance),
		WithdrawableBalance: domain.Money(w.WithdrawableBalance),
		FrozenBalance:       domain.Money(w.FrozenBalance),
		TotalEarned:         domain.Money(w.TotalEarned),
		TotalWithdrawn:      domain.Money(w.TotalWithdrawn),
		CommissionCount:     w.CommissionCount,
		LastCommissionAt:    optTime(w.LastCommissionAt),
		UpdatedAt:           w.UpdatedAt.Time,
	}
}

func (e WalletLedgerEntry) Model() models.WalletLedgerEntry {
	return models.WalletLedgerEntry{
		ID:                FromPgUUID(e.ID),
		UserID:            FromPgUUID(e.UserID),
		Delta:             domain.Money(e.BalanceDelta),
		WithdrawableDelta: domain.Money(e.WithdrawableDelta),
		FrozenDelta:       domain.Money(e.FrozenDelta),
		Reason:            domain.LedgerReason(e.Reason),
		ReferenceID:       FromPgUUID(e.ReferenceID),
		BalanceAfter:      domain.Money(e.BalanceAfter),
		CreatedAt:         e.CreatedAt.Time,
	}
}

func (w WithdrawalRequest) Model() models.WithdrawalRequest {
	return models.WithdrawalRequest{
		ID:           FromPgUUID(w.ID),
		UserID:       FromPgUUID(w.UserID),
		Amount:       domain.Money(w.Amount),
		Method:       w.Method,
		Account:      w.Account,
		Status:       domain.WithdrawalStatus(w.Status),
		RiskScore:    int(w.RiskScore),
		AutoApproved: w.AutoApproved,
		AdminID:      optUUID(w.AdminID),
		AdminNotes:   deref(w.AdminNotes),
		GatewayRef:   deref(w.GatewayRef),
		AttemptCount: w.AttemptCount,
		ReasonCode:   deref(w.ReasonCode),
		SubmittedAt:  w.SubmittedAt.Time,
		ProcessedAt:  optTime(w.ProcessedAt),
		CompletedAt:  optTime(w.CompletedAt),
	}
}

func (o PaymentOrder) Model() models.PaymentOrder {
	return models.PaymentOrder{
		ID:          FromPgUUID(o.ID),
		OrderNo:     o.OrderNo,
		CaseRef:     o.CaseRef,
		Amount:      domain.Money(o.Amount),
		Method:      o.Method,
		Status:      domain.PaymentOrderStatus(o.Status),
		QRCode:      deref(o.QrCode),
		RedirectURL: deref(o.RedirectUrl),
		ExpiresAt:   o.ExpiresAt.Time,
	}
}
