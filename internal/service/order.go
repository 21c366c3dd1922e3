package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ayo6706/legal-settlement/internal/domain"
	"github.com/ayo6706/legal-settlement/internal/gateway"
	"github.com/ayo6706/legal-settlement/internal/models"
	"github.com/ayo6706/legal-settlement/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

const defaultOrderTTL = 30 * time.Minute

// OrderService opens payment orders with the gateway. The order number is
// what the gateway echoes back as out_trade_no.
type OrderService struct {
	store   QueryStore
	gateway gateway.Gateway
	ttl     time.Duration
}

func NewOrderService(store QueryStore, gw gateway.Gateway, ttl time.Duration) *OrderService {
	if ttl <= 0 {
		ttl = defaultOrderTTL
	}
	return &OrderService{store: store, gateway: gw, ttl: ttl}
}

type CreateOrderInput struct {
	PayerID     uuid.UUID
	CaseRef     string
	Amount      domain.Money
	Description string
	Method      string
}

// NewOrderNo returns a sortable, unique order number.
func NewOrderNo(now time.Time) string {
	return "ORD" + ulid.MustNew(ulid.Timestamp(now), rand.Reader).String()
}

// CreatePaymentOrder registers the order with the gateway and stores it as pending.
func (s *OrderService) CreatePaymentOrder(ctx context.Context, in CreateOrderInput) (*models.PaymentOrder, error) {
	in.CaseRef = strings.TrimSpace(in.CaseRef)
	in.Method = strings.ToLower(strings.TrimSpace(in.Method))
	if !in.Amount.Positive() {
		return nil, fmt.Errorf("%w: order amount must be positive", domain.ErrInvalidAmount)
	}
	if !gateway.SupportedMethod(in.Method) {
		return nil, fmt.Errorf("%w: %q", gateway.ErrUnsupportedMethod, in.Method)
	}
	if in.CaseRef == "" {
		return nil, fmt.Errorf("%w: case_id is required", domain.ErrCaseNotFound)
	}

	queries := s.store.Queries()
	if _, err := queries.GetCaseParties(ctx, in.CaseRef); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", domain.ErrCaseNotFound, in.CaseRef)
		}
		return nil, fmt.Errorf("load case parties: %w", err)
	}

	now := time.Now()
	orderNo := NewOrderNo(now)
	expiresAt := now.Add(s.ttl)
	resp, err := s.gateway.CreateOrder(ctx, gateway.OrderRequest{
		OrderNo:     orderNo,
		Amount:      in.Amount,
		Description: in.Description,
		Method:      in.Method,
		ExpiresAt:   expiresAt,
	})
	if err != nil {
		return nil, fmt.Errorf("create gateway order: %w", err)
	}

	row, err := queries.InsertPaymentOrder(ctx, repository.InsertPaymentOrderParams{
		ID:          repository.ToPgUUID(uuid.New()),
		OrderNo:     orderNo,
		CaseRef:     in.CaseRef,
		PayerID:     repository.ToPgUUID(in.PayerID),
		Amount:      int64(in.Amount),
		Description: in.Description,
		Method:      in.Method,
		Status:      string(domain.OrderStatusPending),
		QrCode:      textParam(resp.QRCode),
		RedirectUrl: textParam(resp.RedirectURL),
		ExpiresAt:   repository.Timestamptz(expiresAt),
	})
	if err != nil {
		return nil, fmt.Errorf("insert payment order: %w", err)
	}

	zap.L().Info("payment order created",
		zap.String("order_no", orderNo),
		zap.String("case_ref", in.CaseRef),
		zap.String("method", in.Method),
		zap.String("amount", in.Amount.String()),
	)
	m := row.Model()
	return &m, nil
}

// ExpireOrders marks unpaid orders past their expiry. A late payment for an
// expired order is still recorded.
func (s *OrderService) ExpireOrders(ctx context.Context, now time.Time) (int64, error) {
	n, err := s.store.Queries().ExpirePaymentOrders(ctx, repository.Timestamptz(now))
	if err != nil {
		return 0, fmt.Errorf("expire payment orders: %w", err)
	}
	return n, nil
}

// RegisterCaseParties records who shares in a case's payments. Cases are owned
// by another system; this mirrors its assignment.
func (s *OrderService) RegisterCaseParties(ctx context.Context, caseRef string, lawyerID, salesID, institutionID uuid.UUID) error {
	caseRef = strings.TrimSpace(caseRef)
	if caseRef == "" {
		return fmt.Errorf("%w: case reference is required", domain.ErrCaseNotFound)
	}
	_, err := s.store.Queries().UpsertCaseParties(ctx, repository.UpsertCasePartiesParams{
		CaseRef:       caseRef,
		LawyerID:      repository.NullableUUID(lawyerID),
		SalesID:       repository.NullableUUID(salesID),
		InstitutionID: repository.NullableUUID(institutionID),
	})
	if err != nil {
		return fmt.Errorf("upsert case parties: %w", err)
	}
	return nil
}
