package domain

import "strings"

// Currency is fixed: the engine settles domestic CNY only.
const Currency = "CNY"

// TransactionType classifies a row in the transactions table.
type TransactionType string

const (
	TxTypePayment TransactionType = "payment"
	TxTypeRefund  TransactionType = "refund"
	TxTypePayout  TransactionType = "payout"
)

// TransactionStatus is the lifecycle of a transaction. Completed rows are immutable.
type TransactionStatus string

const (
	TxStatusPending   TransactionStatus = "pending"
	TxStatusCompleted TransactionStatus = "completed"
	TxStatusFailed    TransactionStatus = "failed"
)

// CanTransition reports whether a transaction may move from s to next.
func (s TransactionStatus) CanTransition(next TransactionStatus) bool {
	return s == TxStatusPending && (next == TxStatusCompleted || next == TxStatusFailed)
}

// SplitStatus is the disbursement state of a commission split.
type SplitStatus string

const (
	SplitStatusPending SplitStatus = "pending"
	SplitStatusPaid    SplitStatus = "paid"
	SplitStatusFailed  SplitStatus = "failed"
)

// WithdrawalStatus is the withdrawal request state machine:
// pending -> approved -> completed, pending -> rejected, approved -> failed.
type WithdrawalStatus string

const (
	WithdrawalStatusPending   WithdrawalStatus = "pending"
	WithdrawalStatusApproved  WithdrawalStatus = "approved"
	WithdrawalStatusRejected  WithdrawalStatus = "rejected"
	WithdrawalStatusCompleted WithdrawalStatus = "completed"
	WithdrawalStatusFailed    WithdrawalStatus = "failed"
)

var withdrawalTransitions = map[WithdrawalStatus]map[WithdrawalStatus]struct{}{
	WithdrawalStatusPending: {
		WithdrawalStatusApproved: {},
		WithdrawalStatusRejected: {},
	},
	WithdrawalStatusApproved: {
		WithdrawalStatusCompleted: {},
		WithdrawalStatusFailed:    {},
	},
	WithdrawalStatusFailed: {
		WithdrawalStatusCompleted: {},
		WithdrawalStatusRejected:  {},
	},
	WithdrawalStatusRejected:  {},
	WithdrawalStatusCompleted: {},
}

// CanTransition reports whether a withdrawal may move from s to next.
func (s WithdrawalStatus) CanTransition(next WithdrawalStatus) bool {
	nextStates, ok := withdrawalTransitions[s]
	if !ok {
		return false
	}
	_, ok = nextStates[next]
	return ok
}

// Terminal reports whether no further transition is possible.
func (s WithdrawalStatus) Terminal() bool {
	return len(withdrawalTransitions[s]) == 0
}

// Role is the capacity in which a beneficiary receives a split.
type Role string

const (
	RolePlatform    Role = "platform"
	RoleLawyer      Role = "lawyer"
	RoleSales       Role = "sales"
	RoleInstitution Role = "institution"
)

// Roles lists every split role in a stable order. The platform comes last
// because it absorbs the rounding remainder.
var Roles = []Role{RoleLawyer, RoleSales, RoleInstitution, RolePlatform}

// ParseRole normalizes and validates a role name.
func ParseRole(v string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(v)))
	switch r {
	case RolePlatform, RoleLawyer, RoleSales, RoleInstitution:
		return r, true
	default:
		return "", false
	}
}

// LedgerReason labels a wallet ledger entry.
type LedgerReason string

const (
	ReasonSplitCredit       LedgerReason = "split_credit"
	ReasonUnfreeze          LedgerReason = "unfreeze"
	ReasonWithdrawalHold    LedgerReason = "withdrawal_hold"
	ReasonWithdrawalRelease LedgerReason = "withdrawal_release"
	ReasonWithdrawalPayout  LedgerReason = "withdrawal_payout"
)

// PaymentOrderStatus tracks an order handed to a gateway.
type PaymentOrderStatus string

const (
	OrderStatusPending PaymentOrderStatus = "pending"
	OrderStatusPaid    PaymentOrderStatus = "paid"
	OrderStatusExpired PaymentOrderStatus = "expired"
)

// PayoutMethodWallet is recorded on splits disbursed into the internal wallet.
const PayoutMethodWallet = "wallet"

// Failure reason codes recorded on splits and withdrawals.
const (
	ReasonCodeRetriesExhausted = "RETRIES_EXHAUSTED"
	ReasonCodeGatewayRejected  = "GATEWAY_REJECTED"
	ReasonCodeFinalizeFailed   = "FINALIZE_FAILED"
)

// WithdrawalMethods lists accepted payout methods.
var WithdrawalMethods = map[string]bool{
	"alipay": true,
	"wechat": true,
	"bank":   true,
}
