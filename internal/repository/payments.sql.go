package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const casePartyColumns = `case_ref, lawyer_id, sales_id, institution_id, created_at`

func scanCaseParty(row rowScanner) (CaseParty, error) {
	var i CaseParty
	err := row.Scan(&i.CaseRef, &i.LawyerID, &i.SalesID, &i.InstitutionID, &i.CreatedAt)
	return i, err
}

const getCaseParties = `SELECT ` + casePartyColumns + ` FROM case_parties WHERE case_ref = $1`

func (q *Queries) GetCaseParties(ctx context.Context, caseRef string) (CaseParty, error) {
	return scanCaseParty(q.db.QueryRow(ctx, getCaseParties, caseRef))
}

const upsertCaseParties = `
INSERT INTO case_parties (case_ref, lawyer_id, sales_id, institution_id)
VALUES ($1, $2, $3, $4)
ON CONFLICT (case_ref) DO UPDATE
SET lawyer_id = EXCLUDED.lawyer_id, sales_id = EXCLUDED.sales_id, institution_id = EXCLUDED.institution_id
RETURNING ` + casePartyColumns

type UpsertCasePartiesParams struct {
	CaseRef       string
	LawyerID      pgtype.UUID
	SalesID       pgtype.UUID
	InstitutionID pgtype.UUID
}

func (q *Queries) UpsertCaseParties(ctx context.Context, arg UpsertCasePartiesParams) (CaseParty, error) {
	return scanCaseParty(q.db.QueryRow(ctx, upsertCaseParties, arg.CaseRef, arg.LawyerID, arg.SalesID, arg.InstitutionID))
}

const paymentOrderColumns = `id, order_no, case_ref, payer_id, amount, description, method, status,
	qr_code, redirect_url, transaction_id, expires_at, paid_at, created_at, updated_at`

func scanPaymentOrder(row rowScanner) (PaymentOrder, error) {
	var i PaymentOrder
	err := row.Scan(
		&i.ID, &i.OrderNo, &i.CaseRef, &i.PayerID, &i.Amount, &i.Description, &i.Method, &i.Status,
		&i.QrCode, &i.RedirectUrl, &i.TransactionID, &i.ExpiresAt, &i.PaidAt, &i.CreatedAt, &i.UpdatedAt,
	)
	return i, err
}

const insertPaymentOrder = `
INSERT INTO payment_orders (id, order_no, case_ref, payer_id, amount, description, method, status, qr_code, redirect_url, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
RETURNING ` + paymentOrderColumns

type InsertPaymentOrderParams struct {
	ID          pgtype.UUID
	OrderNo     string
	CaseRef     string
	PayerID     pgtype.UUID
	Amount      int64
	Description string
	Method      string
	Status      string
	QrCode      *string
	RedirectUrl *string
	ExpiresAt   pgtype.Timestamptz
}

func (q *Queries) InsertPaymentOrder(ctx context.Context, arg InsertPaymentOrderParams) (PaymentOrder, error) {
	return scanPaymentOrder(q.db.QueryRow(ctx, insertPaymentOrder,
		arg.ID, arg.OrderNo, arg.CaseRef, arg.PayerID, arg.Amount, arg.Description,
		arg.Method, arg.Status, arg.QrCode, arg.RedirectUrl, arg.ExpiresAt,
	))
}

const getPaymentOrderByNoForUpdate = `SELECT ` + paymentOrderColumns + ` FROM payment_orders WHERE order_no = $1 FOR UPDATE`

func (q *Queries) GetPaymentOrderByNoForUpdate(ctx context.Context, orderNo string) (PaymentOrder, error) {
	return scanPaymentOrder(q.db.QueryRow(ctx, getPaymentOrderByNoForUpdate, orderNo))
}

const getPaymentOrderByNo = `SELECT ` + paymentOrderColumns + ` FROM payment_orders WHERE order_no = $1`

func (q *Queries) GetPaymentOrderByNo(ctx context.Context, orderNo string) (PaymentOrder, error) {
	return scanPaymentOrder(q.db.QueryRow(ctx, getPaymentOrderByNo, orderNo))
}

const markPaymentOrderPaid = `
UPDATE payment_orders
SET status = 'paid', transaction_id = $2, paid_at = NOW(), updated_at = NOW()
WHERE id = $1 AND status <> 'paid'`

func (q *Queries) MarkPaymentOrderPaid(ctx context.Context, id, transactionID pgtype.UUID) (int64, error) {
	result, err := q.db.Exec(ctx, markPaymentOrderPaid, id, transactionID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const expirePaymentOrders = `
UPDATE payment_orders
SET status = 'expired', updated_at = NOW()
WHERE status = 'pending' AND expires_at <= $1`

func (q *Queries) ExpirePaymentOrders(ctx context.Context, now pgtype.Timestamptz) (int64, error) {
	result, err := q.db.Exec(ctx, expirePaymentOrders, now)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const transactionColumns = `id, case_ref, order_id, amount, currency, type, status, gateway, gateway_txn_id,
	metadata, created_at, completed_at`

func scanTransaction(row rowScanner) (Transaction, error) {
	var i Transaction
	err := row.Scan(
		&i.ID, &i.CaseRef, &i.OrderID, &i.Amount, &i.Currency, &i.Type, &i.Status, &i.Gateway,
		&i.GatewayTxnID, &i.Metadata, &i.CreatedAt, &i.CompletedAt,
	)
	return i, err
}

// insertTransaction returns no row when (gateway, gateway_txn_id) already exists.
const insertTransaction = `
INSERT INTO transactions (id, case_ref, order_id, amount, currency, type, status, gateway, gateway_txn_id, metadata, completed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (gateway, gateway_txn_id) DO NOTHING
RETURNING id`

type InsertTransactionParams struct {
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
	CompletedAt  pgtype.Timestamptz
}

func (q *Queries) InsertTransaction(ctx context.Context, arg InsertTransactionParams) (pgtype.UUID, error) {
	var id pgtype.UUID
	err := q.db.QueryRow(ctx, insertTransaction,
		arg.ID, arg.CaseRef, arg.OrderID, arg.Amount, arg.Currency, arg.Type, arg.Status,
		arg.Gateway, arg.GatewayTxnID, arg.Metadata, arg.CompletedAt,
	).Scan(&id)
	return id, err
}

const getTransaction = `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`

func (q *Queries) GetTransaction(ctx context.Context, id pgtype.UUID) (Transaction, error) {
	return scanTransaction(q.db.QueryRow(ctx, getTransaction, id))
}

const getTransactionByGatewayTxn = `SELECT ` + transactionColumns + ` FROM transactions WHERE gateway = $1 AND gateway_txn_id = $2`

func (q *Queries) GetTransactionByGatewayTxn(ctx context.Context, gateway, gatewayTxnID string) (Transaction, error) {
	return scanTransaction(q.db.QueryRow(ctx, getTransactionByGatewayTxn, gateway, gatewayTxnID))
}

const countTransactionsByGatewayTxn = `SELECT COUNT(*) FROM transactions WHERE gateway = $1 AND gateway_txn_id = $2`

func (q *Queries) CountTransactionsByGatewayTxn(ctx context.Context, gateway, gatewayTxnID string) (int64, error) {
	var n int64
	err := q.db.QueryRow(ctx, countTransactionsByGatewayTxn, gateway, gatewayTxnID).Scan(&n)
	return n, err
}

const insertAuditLog = `
INSERT INTO audit_log (entity_type, entity_id, actor_id, action, prev_state, next_state, metadata)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id, entity_type, entity_id, actor_id, action, prev_state, next_state, metadata, created_at`

type InsertAuditLogParams struct {
	EntityType string
	EntityID   pgtype.UUID
	ActorID    pgtype.UUID
	Action     string
	PrevState  *string
	NextState  *string
	Metadata   []byte
}

func (q *Queries) InsertAuditLog(ctx context.Context, arg InsertAuditLogParams) (AuditLog, error) {
	var i AuditLog
	err := q.db.QueryRow(ctx, insertAuditLog,
		arg.EntityType, arg.EntityID, arg.ActorID, arg.Action, arg.PrevState, arg.NextState, arg.Metadata,
	).Scan(&i.ID, &i.EntityType, &i.EntityID, &i.ActorID, &i.Action, &i.PrevState, &i.NextState, &i.Metadata, &i.CreatedAt)
	return i, err
}

const countAuditLogByEntity = `SELECT COUNT(*) FROM audit_log WHERE entity_id = $1 AND action = $2`

func (q *Queries) CountAuditLogByEntity(ctx context.Context, entityID pgtype.UUID, action string) (int64, error) {
	var n int64
	err := q.db.QueryRow(ctx, countAuditLogByEntity, entityID, action).Scan(&n)
	return n, err
}
