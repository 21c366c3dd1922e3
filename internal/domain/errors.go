package domain

import "errors"

var (
	ErrDuplicatePayment    = errors.New("payment already recorded")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrSplitConfiguration  = errors.New("split configuration error")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrDisbursementFailure = errors.New("disbursement failure")
	ErrBalanceMismatch     = errors.New("wallet balance mismatch")

	ErrInvalidSignature    = errors.New("invalid signature")
	ErrInvalidGatewayTxnID = errors.New("gateway transaction id is required")
	ErrPaymentMismatch     = errors.New("payment does not match order")
	ErrOrderNotFound       = errors.New("payment order not found")
	ErrCaseNotFound        = errors.New("case not found")
	ErrWithdrawalNotFound  = errors.New("withdrawal request not found")
	ErrInvalidTransition   = errors.New("invalid state transition")
	ErrPayoutRejected      = errors.New("payout rejected by gateway")
)
