package service

import (
	"context"
	"crypto"
	"crypto/hmac"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/ayo6706/legal-settlement/internal/domain"
	"github.com/ayo6706/legal-settlement/internal/idempotency"
	"github.com/ayo6706/legal-settlement/internal/observability"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrInvalidNotification marks a delivery whose body cannot be decoded.
var ErrInvalidNotification = errors.New("invalid payment notification")

// Notification is a verified payment confirmation from a gateway.
type Notification struct {
	Gateway      string
	GatewayTxnID string
	OrderNo      string
	CaseRef      string
	Amount       domain.Money
	Paid         bool
}

// Delivery is a webhook request as received.
type Delivery struct {
	Body      []byte
	Signature string
}

// Ack is the body a gateway expects back before it stops redelivering.
type Ack struct {
	ContentType string
	Body        []byte
}

// Notifier verifies and decodes one gateway's webhook format.
type Notifier interface {
	Name() string
	// SignatureHeader names the request header carrying the signature, or ""
	// when the signature travels inside the body.
	SignatureHeader() string
	Parse(d Delivery) (Notification, error)
	Ack() Ack
}

// WebhookResult reports what a delivery led to.
type WebhookResult struct {
	TransactionID uuid.UUID
	Duplicate     bool
	Ignored       bool
}

// WebhookService turns verified gateway notifications into recorded payments.
type WebhookService struct {
	payments  *PaymentService
	guard     *idempotency.Guard
	notifiers map[string]Notifier
}

func NewWebhookService(payments *PaymentService, guard *idempotency.Guard, notifiers ...Notifier) *WebhookService {
	byName := make(map[string]Notifier, len(notifiers))
	for _, n := range notifiers {
		byName[n.Name()] = n
	}
	return &WebhookService{payments: payments, guard: guard, notifiers: byName}
}

// Notifier looks up a registered gateway format.
func (s *WebhookService) Notifier(name string) (Notifier, bool) {
	n, ok := s.notifiers[strings.ToLower(strings.TrimSpace(name))]
	return n, ok
}

// Handle verifies a delivery and records the payment it confirms. Redeliveries
// and non-success notifications are acknowledged without side effects.
func (s *WebhookService) Handle(ctx context.Context, n Notifier, d Delivery) (*WebhookResult, error) {
	note, err := n.Parse(d)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidSignature) {
			observability.IncrementWebhook(n.Name(), "invalid_signature")
		} else {
			observability.IncrementWebhook(n.Name(), "invalid_payload")
		}
		return nil, err
	}

	if !note.Paid {
		observability.IncrementWebhook(note.Gateway, "ignored")
		zap.L().Info("ignoring non-success payment notification",
			zap.String("gateway", note.Gateway),
			zap.String("gateway_txn_id", note.GatewayTxnID),
		)
		return &WebhookResult{Ignored: true}, nil
	}

	if id, ok := s.guard.Seen(ctx, note.Gateway, note.GatewayTxnID); ok {
		observability.IncrementWebhook(note.Gateway, "duplicate")
		return &WebhookResult{TransactionID: id, Duplicate: true}, nil
	}

	id, err := s.payments.RecordPayment(ctx, PaymentInput{
		CaseRef:      note.CaseRef,
		OrderNo:      note.OrderNo,
		Amount:       note.Amount,
		Gateway:      note.Gateway,
		GatewayTxnID: note.GatewayTxnID,
		Metadata:     map[string]string{"out_trade_no": note.OrderNo},
	})
	if errors.Is(err, domain.ErrDuplicatePayment) {
		observability.IncrementWebhook(note.Gateway, "duplicate")
		return &WebhookResult{TransactionID: id, Duplicate: true}, nil
	}
	if err != nil {
		observability.IncrementWebhook(note.Gateway, "error")
		return nil, err
	}
	observability.IncrementWebhook(note.Gateway, "recorded")
	return &WebhookResult{TransactionID: id}, nil
}

func verifyHMAC(key, payload []byte, signature string) bool {
	if len(key) == 0 {
		return false
	}
	h := hmac.New(sha256.New, key)
	h.Write(payload)
	expected := hex.EncodeToString(h.Sum(nil))
	signature = strings.TrimPrefix(strings.TrimSpace(signature), "sha256=")
	return hmac.Equal([]byte(strings.ToLower(signature)), []byte(expected))
}

// SignHMAC produces the hex HMAC-SHA256 signature verified by the JSON notifiers.
func SignHMAC(key, payload []byte) string {
	h := hmac.New(sha256.New, key)
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

func isPaidStatus(status string) bool {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "SUCCESS", "PAID", "TRADE_SUCCESS", "TRADE_FINISHED":
		return true
	default:
		return false
	}
}

// GenericNotifier accepts the platform's own JSON format signed with
// X-Webhook-Signature: sha256=<hex>.
type GenericNotifier struct {
	key           []byte
	skipSignature bool
}

func NewGenericNotifier(hmacKey string, skipSignature bool) *GenericNotifier {
	return &GenericNotifier{key: []byte(hmacKey), skipSignature: skipSignature}
}

type genericPayload struct {
	Gateway      string       `json:"gateway"`
	GatewayTxnID string       `json:"gateway_txn_id"`
	OutTradeNo   string       `json:"out_trade_no"`
	CaseID       string       `json:"case_id"`
	Amount       domain.Money `json:"amount"`
	Status       string       `json:"status"`
}

func (n *GenericNotifier) Name() string            { return "notify" }
func (n *GenericNotifier) SignatureHeader() string { return "X-Webhook-Signature" }

func (n *GenericNotifier) Parse(d Delivery) (Notification, error) {
	if !n.skipSignature && !verifyHMAC(n.key, d.Body, d.Signature) {
		return Notification{}, domain.ErrInvalidSignature
	}
	var p genericPayload
	if err := json.Unmarshal(d.Body, &p); err != nil {
		return Notification{}, fmt.Errorf("%w: %v", ErrInvalidNotification, err)
	}
	if strings.TrimSpace(p.Gateway) == "" {
		return Notification{}, fmt.Errorf("%w: gateway is required", ErrInvalidNotification)
	}
	return Notification{
		Gateway:      strings.ToLower(strings.TrimSpace(p.Gateway)),
		GatewayTxnID: strings.TrimSpace(p.GatewayTxnID),
		OrderNo:      strings.TrimSpace(p.OutTradeNo),
		CaseRef:      strings.TrimSpace(p.CaseID),
		Amount:       p.Amount,
		Paid:         isPaidStatus(p.Status),
	}, nil
}

func (n *GenericNotifier) Ack() Ack {
	return Ack{ContentType: "application/json", Body: []byte(`{"return_code":"SUCCESS"}`)}
}

// WechatNotifier accepts WeChat Pay JSON notifications. Amounts arrive in fen.
type WechatNotifier struct {
	key           []byte
	skipSignature bool
}

func NewWechatNotifier(hmacKey string, skipSignature bool) *WechatNotifier {
	return &WechatNotifier{key: []byte(hmacKey), skipSignature: skipSignature}
}

type wechatPayload struct {
	TransactionID string `json:"transaction_id"`
	OutTradeNo    string `json:"out_trade_no"`
	TradeState    string `json:"trade_state"`
	Attach        string `json:"attach"`
	Amount        struct {
		Total    int64  `json:"total"`
		Currency string `json:"currency"`
	} `json:"amount"`
}

func (n *WechatNotifier) Name() string            { return "wechat" }
func (n *WechatNotifier) SignatureHeader() string { return "Wechatpay-Signature" }

func (n *WechatNotifier) Parse(d Delivery) (Notification, error) {
	if !n.skipSignature && !verifyHMAC(n.key, d.Body, d.Signature) {
		return Notification{}, domain.ErrInvalidSignature
	}
	var p wechatPayload
	if err := json.Unmarshal(d.Body, &p); err != nil {
		return Notification{}, fmt.Errorf("%w: %v", ErrInvalidNotification, err)
	}
	if p.Amount.Currency != "" && !strings.EqualFold(p.Amount.Currency, domain.Currency) {
		return Notification{}, fmt.Errorf("%w: unsupported currency %s", domain.ErrPaymentMismatch, p.Amount.Currency)
	}
	return Notification{
		Gateway:      n.Name(),
		GatewayTxnID: strings.TrimSpace(p.TransactionID),
		OrderNo:      strings.TrimSpace(p.OutTradeNo),
		CaseRef:      strings.TrimSpace(p.Attach),
		Amount:       domain.Money(p.Amount.Total),
		Paid:         strings.EqualFold(p.TradeState, "SUCCESS"),
	}, nil
}

func (n *WechatNotifier) Ack() Ack {
	return Ack{ContentType: "application/json", Body: []byte(`{"code":"SUCCESS","message":"OK"}`)}
}

// AlipayNotifier accepts Alipay form notifications signed with RSA2
// (SHA256withRSA) over the sorted, non-empty parameters.
type AlipayNotifier struct {
	publicKey     *rsa.PublicKey
	skipSignature bool
}

func NewAlipayNotifier(publicKey *rsa.PublicKey, skipSignature bool) *AlipayNotifier {
	return &AlipayNotifier{publicKey: publicKey, skipSignature: skipSignature}
}

func (n *AlipayNotifier) Name() string            { return "alipay" }
func (n *AlipayNotifier) SignatureHeader() string { return "" }

func (n *AlipayNotifier) Parse(d Delivery) (Notification, error) {
	form, err := url.ParseQuery(string(d.Body))
	if err != nil {
		return Notification{}, fmt.Errorf("%w: %v", ErrInvalidNotification, err)
	}
	if !n.skipSignature {
		if err := verifyAlipay(n.publicKey, form); err != nil {
			return Notification{}, err
		}
	}

	amount, err := domain.ParseMoney(form.Get("total_amount"))
	if err != nil {
		return Notification{}, err
	}
	return Notification{
		Gateway:      n.Name(),
		GatewayTxnID: strings.TrimSpace(form.Get("trade_no")),
		OrderNo:      strings.TrimSpace(form.Get("out_trade_no")),
		CaseRef:      strings.TrimSpace(form.Get("passback_params")),
		Amount:       amount,
		Paid:         isPaidStatus(form.Get("trade_status")),
	}, nil
}

func (n *AlipayNotifier) Ack() Ack {
	return Ack{ContentType: "text/plain; charset=utf-8", Body: []byte("success")}
}

func verifyAlipay(pub *rsa.PublicKey, form url.Values) error {
	if pub == nil {
		return domain.ErrInvalidSignature
	}
	sig, err := base64.StdEncoding.DecodeString(form.Get("sign"))
	if err != nil || len(sig) == 0 {
		return domain.ErrInvalidSignature
	}
	digest := sha256.Sum256([]byte(AlipaySigningContent(form)))
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], sig); err != nil {
		return domain.ErrInvalidSignature
	}
	return nil
}

// AlipaySigningContent builds the string Alipay signs: every non-empty
// parameter except sign and sign_type, sorted by key, joined as k=v&k=v.
func AlipaySigningContent(form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		if k == "sign" || k == "sign_type" || form.Get(k) == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(form.Get(k))
	}
	return b.String()
}

// ParseAlipayPublicKey accepts a PEM block or the bare base64 DER string the
// Alipay console hands out.
func ParseAlipayPublicKey(raw string) (*rsa.PublicKey, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("alipay public key is empty")
	}
	var der []byte
	if block, _ := pem.Decode([]byte(raw)); block != nil {
		der = block.Bytes
	} else {
		decoded, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return nil, fmt.Errorf("decode alipay public key: %w", err)
		}
		der = decoded
	}

	if key, err := x509.ParsePKIXPublicKey(der); err == nil {
		rsaKey, ok := key.(*rsa.PublicKey)
		if !ok {
			return nil, errors.New("alipay public key is not RSA")
		}
		return rsaKey, nil
	}
	key, err := x509.ParsePKCS1PublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("parse alipay public key: %w", err)
	}
	return key, nil
}
