package models

import (
	"time"

	"github.com/ayo6706/legal-settlement/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Transaction struct {
	ID           uuid.UUID                `json:"id"`
	CaseRef      string                   `json:"case_ref,omitempty"`
	OrderID      *uuid.UUID               `json:"order_id,omitempty"`
	Amount       domain.Money             `json:"amount"`
	Currency     string                   `json:"currency"`
	Type         domain.TransactionType   `json:"type"`
	Status       domain.TransactionStatus `json:"status"`
	Gateway      string                   `json:"gateway"`
	GatewayTxnID string                   `json:"gateway_txn_id"`
	CreatedAt    time.Time                `json:"created_at"`
	CompletedAt  *time.Time               `json:"completed_at,omitempty"`
}

type CommissionSplit struct {
	ID                  uuid.UUID          `json:"id"`
	TransactionID       uuid.UUID          `json:"transaction_id"`
	BeneficiaryID       uuid.UUID          `json:"beneficiary_id"`
	Role                domain.Role        `json:"role"`
	Amount              domain.Money       `json:"amount"`
	Percentage          decimal.Decimal    `json:"percentage"`
	Status              domain.SplitStatus `json:"status"`
	PayoutMethod        string             `json:"payout_method,omitempty"`
	PayoutTransactionID *uuid.UUID         `json:"payout_transaction_id,omitempty"`
	AttemptCount        int32              `json:"attempt_count"`
	ReasonCode          string             `json:"reason_code,omitempty"`
	CreatedAt           time.Time          `json:"created_at"`
	PaidAt              *time.Time         `json:"paid_at,omitempty"`
}

type Wallet struct {
	UserID              uuid.UUID    `json:"user_id"`
	Balance             domain.Money `json:"balance"`
	WithdrawableBalance domain.Money `json:"withdrawable_balance"`
	FrozenBalance       domain.Money `json:"frozen_balance"`
	TotalEarned         domain.Money `json:"total_earned"`
	TotalWithdrawn      domain.Money `json:"total_withdrawn"`
	CommissionCount     int32        `json:"commission_count"`
	LastCommissionAt    *time.Time   `json:"last_commission_at,omitempty"`
	UpdatedAt           time.Time    `json:"updated_at"`
}

type WalletLedgerEntry struct {
	ID                uuid.UUID           `json:"id"`
	UserID            uuid.UUID           `json:"user_id"`
	Delta             domain.Money        `json:"delta"`
	WithdrawableDelta domain.Money        `json:"withdrawable_delta"`
	FrozenDelta       domain.Money        `json:"frozen_delta"`
	Reason            domain.LedgerReason `json:"reason"`
	ReferenceID       uuid.UUID           `json:"reference_id"`
	BalanceAfter      domain.Money        `json:"balance_after"`
	CreatedAt         time.Time           `json:"created_at"`
}

type WithdrawalRequest struct {
	ID           uuid.UUID               `json:"id"`
	UserID       uuid.UUID               `json:"user_id"`
	Amount       domain.Money            `json:"amount"`
	Method       string                  `json:"method"`
	Account      string                  `json:"account"`
	Status       domain.WithdrawalStatus `json:"status"`
	RiskScore    int                     `json:"risk_score"`
	AutoApproved bool                    `json:"auto_approved"`
	AdminID      *uuid.UUID              `json:"admin_id,omitempty"`
	AdminNotes   string                  `json:"admin_notes,omitempty"`
	GatewayRef   string                  `json:"gateway_ref,omitempty"`
	AttemptCount int32                   `json:"attempt_count"`
	ReasonCode   string                  `json:"reason_code,omitempty"`
	SubmittedAt  time.Time               `json:"submitted_at"`
	ProcessedAt  *time.Time              `json:"processed_at,omitempty"`
	CompletedAt  *time.Time              `json:"completed_at,omitempty"`
}

type PaymentOrder struct {
	ID          uuid.UUID                 `json:"-"`
	OrderNo     string                    `json:"order_id"`
	CaseRef     string                    `json:"case_id"`
	Amount      domain.Money              `json:"amount"`
	Method      string                    `json:"method"`
	Status      domain.PaymentOrderStatus `json:"status"`
	QRCode      string                    `json:"qr_code,omitempty"`
	RedirectURL string                    `json:"redirect_url,omitempty"`
	ExpiresAt   time.Time                 `json:"expires_at"`
}

// Page wraps one page of a listing.
type Page[T any] struct {
	Items    []T   `json:"items"`
	Page     int   `json:"page"`
	PageSize int   `json:"page_size"`
	Total    int64 `json:"total"`
}
