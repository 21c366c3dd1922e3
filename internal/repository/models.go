package repository

import (
	"github.com/jackc/pgx/v5/pgtype"
)

type CaseParty struct {
	CaseRef       string
	LawyerID      pgtype.UUID
	SalesID       pgtype.UUID
	InstitutionID pgtype.UUID
	CreatedAt     pgtype.Timestamptz
}

type PaymentOrder struct {
	ID            pgtype.UUID
	OrderNo       string
	CaseRef       string
	PayerID       pgtype.UUID
	Amount        int64
	Description   string
	Method        string
	Status        string
	QrCode        *string
	RedirectUrl   *string
	TransactionID pgtype.UUID
	ExpiresAt     pgtype.Timestamptz
	PaidAt        pgtype.Timestamptz
	CreatedAt     pgtype.Timestamptz
	UpdatedAt     pgtype.Timestamptz
}

type Transaction struct {
	ID           pgtype.UUID
	CaseRef      *string
	OrderID      pgtype.UUID
	Amount       int64
	Currency     string
	Type         string
	Status       string
	Gateway      string
	GatewayTxnID string
	Metadata     []byte
	CreatedAt    pgtype.Timestamptz
	CompletedAt  pgtype.Timestamptz
}

type CommissionSplit struct {
	ID                  pgtype.UUID
	TransactionID       pgtype.UUID
	BeneficiaryID       pgtype.UUID
	Role                string
	Amount              int64
	Percentage          pgtype.Numeric
	Status              string
	PayoutMethod        *string
	PayoutTransactionID pgtype.UUID
	AttemptCount        int32
	NextAttemptAt       pgtype.Timestamptz
	LastError           *string
	ReasonCode          *string
	CreatedAt           pgtype.Timestamptz
	PaidAt              pgtype.Timestamptz
}

type Wallet struct {
	UserID              pgtype.UUID
	Balance             int64
	WithdrawableBalance int64
	FrozenBalance       int64
	TotalEarned         int64
	TotalWithdrawn      int64
	CommissionCount     int32
	LastCommissionAt    pgtype.Timestamptz
	CreatedAt           pgtype.Timestamptz
	UpdatedAt           pgtype.Timestamptz
}

type WalletLedgerEntry struct {
	ID                pgtype.UUID
	UserID            pgtype.UUID
	BalanceDelta      int64
	WithdrawableDelta int64
	FrozenDelta       int64
	Reason            string
	ReferenceID       pgtype.UUID
	BalanceAfter      int64
	CreatedAt         pgtype.Timestamptz
}

type WalletHold struct {
	ID         pgtype.UUID
	UserID     pgtype.UUID
	SplitID    pgtype.UUID
	Amount     int64
	ReleaseAt  pgtype.Timestamptz
	ReleasedAt pgtype.Timestamptz
	CreatedAt  pgtype.Timestamptz
}

type WithdrawalRequest struct {
	ID                  pgtype.UUID
	UserID              pgtype.UUID
	Amount              int64
	Method              string
	Account             string
	AccountVerified     bool
	Status              string
	RiskScore           int32
	AutoApproved        bool
	AdminID             pgtype.UUID
	AdminNotes          *string
	GatewayRef          *string
	PayoutTransactionID pgtype.UUID
	AttemptCount        int32
	NextAttemptAt       pgtype.Timestamptz
	LastError           *string
	ReasonCode          *string
	SubmittedAt         pgtype.Timestamptz
	ProcessedAt         pgtype.Timestamptz
	CompletedAt         pgtype.Timestamptz
	UpdatedAt           pgtype.Timestamptz
}

type AuditLog struct {
	ID         int64
	EntityType string
	EntityID   pgtype.UUID
	ActorID    pgtype.UUID
	Action     string
	PrevState  *string
	NextState  *string
	Metadata   []byte
	CreatedAt  pgtype.Timestamptz
}

type IdempotencyKey struct {
	IdempotencyKey string
	RequestHash    string
	Method         string
	Path           string
	InProgress     bool
	ResponseStatus int32
	ResponseBody   []byte
	ContentType    string
	CreatedAt      pgtype.Timestamptz
	UpdatedAt      pgtype.Timestamptz
}
