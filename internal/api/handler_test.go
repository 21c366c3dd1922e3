package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/ayo6706/legal-settlement/internal/api"
	"github.com/ayo6706/legal-settlement/internal/api/middleware"
	"github.com/ayo6706/legal-settlement/internal/calculator"
	"github.com/ayo6706/legal-settlement/internal/config"
	"github.com/ayo6706/legal-settlement/internal/db"
	"github.com/ayo6706/legal-settlement/internal/domain"
	"github.com/ayo6706/legal-settlement/internal/gateway"
	"github.com/ayo6706/legal-settlement/internal/idempotency"
	"github.com/ayo6706/legal-settlement/internal/observability"
	"github.com/ayo6706/legal-settlement/internal/repository"
	"github.com/ayo6706/legal-settlement/internal/service"
	"github.com/ayo6706/legal-settlement/internal/testutil/dblock"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testDB *pgxpool.Pool

const (
	testJWTSecret   = "test-secret-0123456789-test-secret"
	testJWTIssuer   = "legal-settlement-test"
	testJWTAudience = "settlement-api-test"
	testWebhookKey  = "test"
)

var platformUser = uuid.MustParse("11111111-1111-1111-1111-111111111111")

func TestMain(m *testing.M) {
	release := dblock.Acquire()
	observability.Init()
	middleware.SetJWTSecret(testJWTSecret)
	middleware.SetJWTValidation(testJWTIssuer, testJWTAudience)

	if connStr := os.Getenv("DATABASE_URL"); connStr != "" {
		ctx := context.Background()
		var err error
		testDB, err = pgxpool.New(ctx, connStr)
		if err == nil {
			err = db.Migrate(ctx, testDB)
		}
		if err != nil {
			release()
			fmt.Printf("Unable to prepare database: %v\n", err)
			os.Exit(1)
		}
	}

	code := m.Run()
	if testDB != nil {
		testDB.Close()
	}
	release()
	os.Exit(code)
}

func requireDB(t *testing.T) {
	t.Helper()
	if testDB == nil {
		t.Skip("DATABASE_URL not set")
	}
	_, err := testDB.Exec(context.Background(), `TRUNCATE TABLE audit_log, idempotency_keys, wallet_holds,
		wallet_ledger_entries, withdrawal_requests, commission_splits, transactions, payment_orders,
		wallets, case_parties CASCADE`)
	require.NoError(t, err)
}

type stubGateway struct{}

func (stubGateway) CreateOrder(ctx context.Context, req gateway.OrderRequest) (*gateway.OrderResponse, error) {
	return gateway.NewMockGateway().CreateOrder(ctx, req)
}

func (stubGateway) SendPayout(context.Context, gateway.PayoutRequest) (string, error) {
	return "STUB-REF", nil
}

func setupAPI(t *testing.T) http.Handler {
	t.Helper()
	table, err := calculator.ParseTable("platform=0.30,lawyer=0.20,sales=0.00,institution=0.50")
	require.NoError(t, err)

	cfg := &config.Config{
		HTTPPort:            "0",
		JWTSecret:           testJWTSecret,
		JWTIssuer:           testJWTIssuer,
		JWTAudience:         testJWTAudience,
		WebhookHMACKey:      testWebhookKey,
		WebhookTimeout:      5 * time.Second,
		CORSAllowedOrigins:  []string{"https://app.example.com"},
		WebhookRateLimitRPS: 1000,
		AuthRateLimitRPS:    1000,
		IdempotencyTTL:      time.Hour,
	}

	store := repository.NewStore(testDB)
	repo := repository.NewRepository(testDB)
	guard := idempotency.NewGuard(nil, time.Hour)
	wallets := service.NewWalletService(store, nil)
	payments := service.NewPaymentService(store, guard, wallets, nil, service.SettlementConfig{
		Table:          table,
		PlatformUserID: platformUser,
		Delay:          func(domain.Role) time.Duration { return 0 },
	})
	services := api.Services{
		Orders: service.NewOrderService(store, stubGateway{}, 30*time.Minute),
		Webhooks: service.NewWebhookService(payments, guard,
			service.NewGenericNotifier(testWebhookKey, false),
			service.NewWechatNotifier(testWebhookKey, false),
		),
		Withdrawals: service.NewWithdrawalService(store, wallets, stubGateway{}, nil, service.WithdrawalConfig{
			AutoApproveThreshold: 40,
		}),
	}
	idemStore := idempotency.NewStore(nil, testDB, cfg.IdempotencyTTL)
	return api.NewRouter(cfg, zap.NewNop(), testDB, repo, idemStore, nil, services).Routes()
}

func generateTestToken(userID string) string {
	return generateTokenWithRole(userID, "user")
}

func generateTokenWithRole(userID, role string) string {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"role":    role,
		"iss":     testJWTIssuer,
		"aud":     testJWTAudience,
		"sub":     userID,
		"iat":     now.Unix(),
		"nbf":     now.Add(-30 * time.Second).Unix(),
		"exp":     now.Add(time.Hour).Unix(),
	})
	tokenString, _ := token.SignedString(middleware.JWTSecret())
	return tokenString
}

type call struct {
	method  string
	path    string
	body    any
	token   string
	headers map[string]string
}

func do(t *testing.T, h http.Handler, c call) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := c.body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case []byte:
		reader = bytes.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(c.method, c.path, reader)
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, dst any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), dst), w.Body.String())
}

func notify(t *testing.T, h http.Handler, payload map[string]any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	return do(t, h, call{
		method:  http.MethodPost,
		path:    "/payment/notify",
		body:    body,
		headers: map[string]string{"X-Webhook-Signature": service.SignHMAC([]byte(testWebhookKey), body)},
	})
}

func TestRFC7807ProblemDetails(t *testing.T) {
	h := setupAPI(t)

	w := do(t, h, call{method: http.MethodGet, path: "/finance/wallet"})
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Contains(t, w.Header().Get("Content-Type"), "application/problem+json")

	var body map[string]any
	decode(t, w, &body)
	assert.NotEmpty(t, body["type"])
	assert.Equal(t, float64(http.StatusUnauthorized), body["status"])
	assert.NotEmpty(t, body["title"])
	assert.NotEmpty(t, body["detail"])
	assert.Equal(t, "/finance/wallet", body["instance"])
	assert.NotEmpty(t, body["request_id"])
}

func TestAdminRoutesRequireAdminRole(t *testing.T) {
	h := setupAPI(t)
	token := generateTestToken(uuid.NewString())

	paths := []string{
		"/finance/withdrawal/" + uuid.NewString() + "/approve",
		"/finance/withdrawal/" + uuid.NewString() + "/reject",
		"/finance/withdrawal/" + uuid.NewString() + "/resolve",
	}
	for _, path := range paths {
		w := do(t, h, call{method: http.MethodPost, path: path, token: token, body: map[string]string{"notes": "x"}})
		assert.Equal(t, http.StatusForbidden, w.Code, path)
	}
	w := do(t, h, call{method: http.MethodPut, path: "/finance/admin/cases/C1/parties", token: token, body: map[string]string{}})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestWalletForbidsOtherUsersUnlessAdmin(t *testing.T) {
	h := setupAPI(t)
	other := uuid.NewString()

	w := do(t, h, call{method: http.MethodGet, path: "/finance/wallet?user_id=" + other, token: generateTestToken(uuid.NewString())})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(t, h, call{method: http.MethodGet, path: "/finance/wallet?user_id=not-a-uuid", token: generateTestToken(uuid.NewString())})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, h, call{method: http.MethodGet, path: "/finance/wallet/ledger?page=0", token: generateTestToken(uuid.NewString())})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMutationsRequireIdempotencyKey(t *testing.T) {
	h := setupAPI(t)
	token := generateTestToken(uuid.NewString())

	for _, path := range []string{"/finance/withdrawal", "/finance/payment/create"} {
		w := do(t, h, call{method: http.MethodPost, path: path, token: token, body: map[string]string{}})
		assert.Equal(t, http.StatusBadRequest, w.Code, path)
		assert.Contains(t, w.Body.String(), "idempotency/missing-key")
	}
}

func TestWebhookInvalidSignature(t *testing.T) {
	h := setupAPI(t)
	payload := []byte(`{"gateway":"wechat","gateway_txn_id":"wx-1","case_id":"C1","amount":"10.00","status":"SUCCESS"}`)

	cases := []struct {
		name      string
		path      string
		header    string
		signature string
	}{
		{name: "bad_signature", path: "/payment/notify", header: "X-Webhook-Signature", signature: "sha256=bad"},
		{name: "missing_signature", path: "/payment/notify"},
		{name: "wechat_wrong_key", path: "/payment/notify/wechat", header: "Wechatpay-Signature", signature: service.SignHMAC([]byte("other"), payload)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			headers := map[string]string{}
			if tc.header != "" {
				headers[tc.header] = tc.signature
			}
			w := do(t, h, call{method: http.MethodPost, path: tc.path, body: payload, headers: headers})
			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}
}

func TestWebhookUnknownGatewayAndBadPayload(t *testing.T) {
	h := setupAPI(t)

	w := do(t, h, call{method: http.MethodPost, path: "/payment/notify/paypal", body: []byte(`{}`)})
	assert.Equal(t, http.StatusNotFound, w.Code)

	body := []byte(`{"gateway":`)
	w = do(t, h, call{
		method:  http.MethodPost,
		path:    "/payment/notify",
		body:    body,
		headers: map[string]string{"X-Webhook-Signature": service.SignHMAC([]byte(testWebhookKey), body)},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCORSPreflight(t *testing.T) {
	h := setupAPI(t)
	req := httptest.NewRequest(http.MethodOptions, "/finance/withdrawal", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Idempotency-Key")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestHealthAndMetrics(t *testing.T) {
	h := setupAPI(t)

	for _, path := range []string{"/health/live", "/metrics", "/openapi.yaml", "/docs/index.html"} {
		w := do(t, h, call{method: http.MethodGet, path: path})
		assert.Equal(t, http.StatusOK, w.Code, path)
	}

	w := do(t, h, call{method: http.MethodGet, path: "/health/ready"})
	if testDB == nil {
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	} else {
		assert.Equal(t, http.StatusOK, w.Code)
	}
}

func TestSettlementFlowOverHTTP(t *testing.T) {
	requireDB(t)
	h := setupAPI(t)

	caseRef := "CASE-" + uuid.NewString()[:8]
	lawyer, institution := uuid.New(), uuid.New()
	admin := generateTokenWithRole(uuid.NewString(), "admin")
	lawyerToken := generateTestToken(lawyer.String())

	w := do(t, h, call{
		method: http.MethodPut,
		path:   "/finance/admin/cases/" + caseRef + "/parties",
		token:  admin,
		body:   map[string]string{"lawyer_id": lawyer.String(), "institution_id": institution.String()},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	payload := map[string]any{
		"gateway":        "wechat",
		"gateway_txn_id": "wx-" + uuid.NewString(),
		"case_id":        caseRef,
		"amount":         "5000.00",
		"status":         "SUCCESS",
	}
	for i := 0; i < 3; i++ {
		w = notify(t, h, payload)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.JSONEq(t, `{"return_code":"SUCCESS"}`, w.Body.String())
	}
	n, err := repository.New(testDB).CountTransactionsByGatewayTxn(context.Background(), "wechat", payload["gateway_txn_id"].(string))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	var wallet map[string]any
	w = do(t, h, call{method: http.MethodGet, path: "/finance/wallet", token: lawyerToken})
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &wallet)
	assert.Equal(t, "1000.00", wallet["withdrawable_balance"])
	assert.Equal(t, "1000.00", wallet["total_earned"])

	var splits struct {
		Items []map[string]any `json:"items"`
		Total int64            `json:"total"`
	}
	w = do(t, h, call{method: http.MethodGet, path: "/finance/commission/details", token: lawyerToken})
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &splits)
	require.Equal(t, int64(1), splits.Total)
	assert.Equal(t, "lawyer", splits.Items[0]["role"])
	assert.Equal(t, "paid", splits.Items[0]["status"])

	submit := call{
		method:  http.MethodPost,
		path:    "/finance/withdrawal",
		token:   lawyerToken,
		body:    map[string]string{"amount": "1000.00", "method": "alipay", "account": "lawyer@example.com"},
		headers: map[string]string{"Idempotency-Key": uuid.NewString()},
	}
	w = do(t, h, submit)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created map[string]any
	decode(t, w, &created)
	assert.Equal(t, "approved", created["status"])
	assert.Equal(t, true, created["auto_approved"])

	replay := do(t, h, submit)
	assert.Equal(t, http.StatusCreated, replay.Code)
	assert.NotEmpty(t, replay.Header().Get("X-Idempotent-Replay"))
	assert.JSONEq(t, w.Body.String(), replay.Body.String())

	w = do(t, h, call{
		method:  http.MethodPost,
		path:    "/finance/withdrawal",
		token:   lawyerToken,
		body:    map[string]string{"amount": "0.01", "method": "alipay", "account": "lawyer@example.com"},
		headers: map[string]string{"Idempotency-Key": uuid.NewString()},
	})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "insufficient-balance")

	id := created["id"].(string)
	w = do(t, h, call{method: http.MethodGet, path: "/finance/withdrawal/" + id, token: generateTestToken(uuid.NewString())})
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = do(t, h, call{method: http.MethodGet, path: "/finance/withdrawal/" + id, token: lawyerToken})
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, h, call{method: http.MethodPost, path: "/finance/withdrawal/" + id + "/approve", token: admin, body: map[string]string{"notes": "again"}})
	assert.Equal(t, http.StatusConflict, w.Code)
	w = do(t, h, call{method: http.MethodPost, path: "/finance/withdrawal/" + id + "/resolve", token: admin,
		body: map[string]string{"decision": "refund_failed", "notes": "not failed"}})
	assert.Equal(t, http.StatusConflict, w.Code)
	w = do(t, h, call{method: http.MethodPost, path: "/finance/withdrawal/" + uuid.NewString() + "/reject", token: admin})
	assert.Equal(t, http.StatusNotFound, w.Code)

	var list struct {
		Total int64 `json:"total"`
	}
	w = do(t, h, call{method: http.MethodGet, path: "/finance/withdrawal?page_size=5", token: lawyerToken})
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &list)
	assert.Equal(t, int64(1), list.Total)
}

func TestCreatePaymentOrder(t *testing.T) {
	requireDB(t)
	h := setupAPI(t)
	admin := generateTokenWithRole(uuid.NewString(), "admin")
	payer := generateTestToken(uuid.NewString())

	w := do(t, h, call{
		method: http.MethodPut,
		path:   "/finance/admin/cases/CASE-ORDER/parties",
		token:  admin,
		body:   map[string]string{"lawyer_id": uuid.NewString()},
	})
	require.Equal(t, http.StatusOK, w.Code)

	create := func(caseID, method string) *httptest.ResponseRecorder {
		return do(t, h, call{
			method:  http.MethodPost,
			path:    "/finance/payment/create",
			token:   payer,
			body:    map[string]string{"case_id": caseID, "amount": "300.00", "description": "consultation", "method": method},
			headers: map[string]string{"Idempotency-Key": uuid.NewString()},
		})
	}

	w = create("CASE-ORDER", "wechat")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var order map[string]any
	decode(t, w, &order)
	assert.True(t, strings.HasPrefix(order["order_id"].(string), "ORD"))
	assert.NotEmpty(t, order["qr_code"])
	assert.Equal(t, "300.00", order["amount"])

	assert.Equal(t, http.StatusNotFound, create("CASE-MISSING", "wechat").Code)
	assert.Equal(t, http.StatusBadRequest, create("CASE-ORDER", "paypal").Code)
}
