package gateway

import (
	"context"
	"fmt"
	"math/rand"
	"net/url"
	"time"

	"github.com/ayo6706/legal-settlement/internal/domain"
)

// MockGateway simulates WeChat Pay / Alipay for local runs and tests.
// Payouts take between MinDelay and MaxDelay and fail at the configured rates.
type MockGateway struct {
	// FailureRate is the probability of a transient failure (0.0 to 1.0).
	FailureRate float64
	// RejectRate is the probability of a permanent rejection.
	RejectRate float64
	MinDelay   time.Duration
	MaxDelay   time.Duration
}

// NewMockGateway creates a MockGateway with a 10% transient failure rate.
func NewMockGateway() *MockGateway {
	return &MockGateway{
		FailureRate: 0.1,
		MinDelay:    200 * time.Millisecond,
		MaxDelay:    time.Second,
	}
}

func (g *MockGateway) CreateOrder(ctx context.Context, req OrderRequest) (*OrderResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch req.Method {
	case MethodWechat:
		return &OrderResponse{QRCode: "weixin://wxpay/bizpayurl?pr=" + url.QueryEscape(req.OrderNo)}, nil
	case MethodAlipay:
		q := url.Values{}
		q.Set("out_trade_no", req.OrderNo)
		q.Set("total_amount", req.Amount.String())
		return &OrderResponse{RedirectURL: "https://openapi.alipay.com/gateway.do?" + q.Encode()}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMethod, req.Method)
	}
}

// SendPayout simulates sending a payout. Returns a fake reference ID on success.
func (g *MockGateway) SendPayout(ctx context.Context, req PayoutRequest) (string, error) {
	delay := g.MinDelay
	if spread := g.MaxDelay - g.MinDelay; spread > 0 {
		delay += time.Duration(rand.Int63n(int64(spread)))
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", fmt.Errorf("gateway call canceled: %w", ctx.Err())
		}
	}

	roll := rand.Float64()
	if roll < g.RejectRate {
		return "", fmt.Errorf("%w: account %s refused", domain.ErrPayoutRejected, req.Account)
	}
	if roll < g.RejectRate+g.FailureRate {
		return "", fmt.Errorf("gateway temporarily unavailable")
	}

	// Format: MOCK-YYYYMMDD-HHMMSS-XXXXX
	ref := fmt.Sprintf("MOCK-%s-%05d", time.Now().Format("20060102-150405"), rand.Intn(100000))
	return ref, nil
}
