package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/ayo6706/legal-settlement/internal/domain"
	"github.com/google/uuid"
)

// Payment methods accepted when creating an order.
const (
	MethodWechat = "wechat"
	MethodAlipay = "alipay"
)

var ErrUnsupportedMethod = errors.New("unsupported payment method")

// OrderRequest asks the gateway to open a payment for a case.
type OrderRequest struct {
	OrderNo     string
	Amount      domain.Money
	Description string
	Method      string
	ExpiresAt   time.Time
}

// OrderResponse carries what the payer needs to complete the payment.
// WeChat returns a QR code, Alipay a redirect URL.
type OrderResponse struct {
	QRCode      string
	RedirectURL string
}

// PayoutRequest sends money from the platform to a beneficiary's external account.
// Reference is stable across retries so the gateway can deduplicate.
type PayoutRequest struct {
	Reference uuid.UUID
	Method    string
	Account   string
	Amount    domain.Money
}

// Gateway is the external payment gateway collaborator.
type Gateway interface {
	// CreateOrder registers a payment order with the gateway.
	CreateOrder(ctx context.Context, req OrderRequest) (*OrderResponse, error)
	// SendPayout sends a payout to an external destination and returns the gateway reference.
	// A definitive refusal wraps domain.ErrPayoutRejected; any other error is transient.
	SendPayout(ctx context.Context, req PayoutRequest) (string, error)
}

// SupportedMethod reports whether method can be used for payment orders.
func SupportedMethod(method string) bool {
	return method == MethodWechat || method == MethodAlipay
}
