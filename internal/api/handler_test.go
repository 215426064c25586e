package api_test

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"roomno4/internal/api"
	"roomno4/internal/capacity"
	"roomno4/internal/config"
	"roomno4/internal/errs"
	"roomno4/internal/logger"
	"roomno4/internal/models"
	"roomno4/internal/payment"
	"roomno4/internal/signup"
	"roomno4/internal/tickets"
)

const testWebhookSecret = "whsec_test_secret"

type recordingNotifier struct {
	buyerCalls    int
	operatorCalls int
	lastSummary   string
}

func (n *recordingNotifier) NotifyBuyer(*models.Ticket) { n.buyerCalls++ }
func (n *recordingNotifier) NotifyOperator(s string) {
	n.operatorCalls++
	n.lastSummary = s
}

type mockGateway struct {
	checkoutURL   string
	checkoutErr   error
	checkoutCalls int
	sessionStatus *payment.SessionStatus
	sessionErr    error
}

func (m *mockGateway) CreateCheckoutSession(context.Context, string) (string, error) {
	m.checkoutCalls++
	return m.checkoutURL, m.checkoutErr
}

func (m *mockGateway) VerifyAndParseEvent([]byte, string) (stripe.Event, error) {
	return stripe.Event{}, errs.ErrSignatureInvalid
}

func (m *mockGateway) GetSessionStatus(context.Context, string) (*payment.SessionStatus, error) {
	return m.sessionStatus, m.sessionErr
}

type testEnv struct {
	handler  *api.Handler
	router   *chi.Mux
	ticketDB *tickets.DB
	issuer   *tickets.Issuer
	notifier *recordingNotifier
}

func setupEnv(t *testing.T, limit int, gateway api.PaymentGateway) *testEnv {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, "file::memory:?cache=shared")
	if err != nil {
		t.Fatalf("Failed to open SQLite: %v", err)
	}
	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	ctx := context.Background()
	if err := bunDB.ResetModel(ctx, (*models.Signup)(nil)); err != nil {
		t.Fatalf("Failed to create signups table: %v", err)
	}
	if err := bunDB.ResetModel(ctx, (*models.Ticket)(nil)); err != nil {
		t.Fatalf("Failed to create tickets table: %v", err)
	}
	t.Cleanup(func() { bunDB.Close() })

	log := logger.NewTestLogger()
	signupDB := &signup.DB{Bun: bunDB}
	ticketDB := &tickets.DB{Bun: bunDB}
	gate := capacity.NewGate(limit, nil, log, signupDB.CountSignups, ticketDB.CountTickets)
	issuer := tickets.NewIssuer(ticketDB, log)
	notifier := &recordingNotifier{}

	handler := &api.Handler{
		Signups:  signup.NewService(signupDB, gate, log),
		Issuer:   issuer,
		Gateway:  gateway,
		Gate:     gate,
		Notifier: notifier,
		Logger:   log,
	}

	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Get("/status", handler.Status)
		r.Post("/signup", handler.Signup)
		r.Post("/create-checkout", handler.CreateCheckout)
		r.Post("/stripe/webhook", handler.StripeWebhook)
		r.Get("/ticket", handler.Ticket)
	})

	return &testEnv{
		handler:  handler,
		router:   r,
		ticketDB: ticketDB,
		issuer:   issuer,
		notifier: notifier,
	}
}

func realGateway() *payment.Gateway {
	return payment.NewGateway(config.StripeConfig{
		SecretKey:     "sk_test_key",
		WebhookSecret: testWebhookSecret,
		PriceID:       "price_test",
		SuccessURL:    "http://localhost/success.html?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:     "http://localhost/",
	}, logger.NewTestLogger())
}

func postJSON(t *testing.T, router http.Handler, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("Failed to marshal request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(out); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
}

func TestStatusEndpoint(t *testing.T) {
	env := setupEnv(t, 400, &mockGateway{})

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rr.Code)
	}
	var status models.StatusResponse
	decodeBody(t, rr, &status)
	if status.Limit != 400 || status.Count != 0 || status.SoldOut {
		t.Errorf("Unexpected status: %+v", status)
	}
}

func TestSignupEndpoint(t *testing.T) {
	env := setupEnv(t, 400, &mockGateway{})

	rr := postJSON(t, env.router, "/api/signup", models.SignupRequest{
		Name:  "Jan Kowalski",
		Email: "jan@example.com",
		Phone: "+48 600 100 200",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp models.SignupResponse
	decodeBody(t, rr, &resp)
	if resp.Number != 1 {
		t.Errorf("Expected number 1 on an empty store, got %d", resp.Number)
	}
	if resp.Limit != 400 {
		t.Errorf("Expected configured limit 400 in response, got %d", resp.Limit)
	}
	if env.notifier.operatorCalls != 1 {
		t.Errorf("Expected one operator notification, got %d", env.notifier.operatorCalls)
	}
	if !strings.Contains(env.notifier.lastSummary, "jan@example.com") {
		t.Errorf("Operator summary missing signup email: %q", env.notifier.lastSummary)
	}

	// Same email again: DUPLICATE.
	rr = postJSON(t, env.router, "/api/signup", models.SignupRequest{
		Name:  "Jan Kowalski",
		Email: "jan@example.com",
		Phone: "+48 600 999 999",
	})
	if rr.Code != http.StatusConflict {
		t.Fatalf("Expected 409, got %d", rr.Code)
	}
	var errResp map[string]string
	decodeBody(t, rr, &errResp)
	if errResp["error"] != "DUPLICATE" {
		t.Errorf("Expected DUPLICATE, got %q", errResp["error"])
	}
}

func TestSignupEndpointValidation(t *testing.T) {
	env := setupEnv(t, 400, &mockGateway{})

	rr := postJSON(t, env.router, "/api/signup", models.SignupRequest{
		Name:  "J4n",
		Email: "jan@example.com",
		Phone: "+48 600 100 200",
	})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", rr.Code)
	}
	var errResp map[string]string
	decodeBody(t, rr, &errResp)
	if errResp["error"] != "VALIDATION_ERROR" {
		t.Errorf("Expected VALIDATION_ERROR, got %q", errResp["error"])
	}
}

func TestCreateCheckout(t *testing.T) {
	gw := &mockGateway{checkoutURL: "https://checkout.stripe.com/pay/cs_test_123"}
	env := setupEnv(t, 400, gw)

	rr := postJSON(t, env.router, "/api/create-checkout", models.CheckoutRequest{Email: "buyer@example.com"})
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp models.CheckoutResponse
	decodeBody(t, rr, &resp)
	if resp.URL != gw.checkoutURL {
		t.Errorf("Expected checkout URL, got %q", resp.URL)
	}
}

func TestCreateCheckoutSoldOut(t *testing.T) {
	gw := &mockGateway{checkoutURL: "https://checkout.stripe.com/pay/cs_test_123"}
	env := setupEnv(t, 0, gw)

	rr := postJSON(t, env.router, "/api/create-checkout", models.CheckoutRequest{Email: "buyer@example.com"})
	if rr.Code != http.StatusForbidden {
		t.Fatalf("Expected 403, got %d", rr.Code)
	}
	var errResp map[string]string
	decodeBody(t, rr, &errResp)
	if errResp["error"] != "SOLD_OUT" {
		t.Errorf("Expected SOLD_OUT, got %q", errResp["error"])
	}
	if gw.checkoutCalls != 0 {
		t.Error("Gateway must not be called once sold out")
	}
}

func TestCreateCheckoutGatewayError(t *testing.T) {
	gw := &mockGateway{checkoutErr: fmt.Errorf("%w: stripe down", errs.ErrGateway)}
	env := setupEnv(t, 400, gw)

	rr := postJSON(t, env.router, "/api/create-checkout", models.CheckoutRequest{Email: "buyer@example.com"})
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("Expected 502, got %d", rr.Code)
	}
}

func signedWebhookRequest(t *testing.T, payload []byte, secret string) *http.Request {
	t.Helper()
	now := time.Now()
	sig := webhook.ComputeSignature(now, payload, secret)
	req := httptest.NewRequest(http.MethodPost, "/api/stripe/webhook", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", fmt.Sprintf("t=%d,v1=%s", now.Unix(), hex.EncodeToString(sig)))
	return req
}

func completedSessionPayload(sessionID, email string) []byte {
	return []byte(fmt.Sprintf(`{
		"id": "evt_test_1",
		"object": "event",
		"type": "checkout.session.completed",
		"data": {
			"object": {
				"id": %q,
				"object": "checkout.session",
				"customer_email": %q,
				"payment_status": "paid"
			}
		}
	}`, sessionID, email))
}

func TestWebhookIssuesTicketOnce(t *testing.T) {
	env := setupEnv(t, 400, realGateway())
	payload := completedSessionPayload("cs_test_123", "buyer@example.com")

	// First delivery.
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, signedWebhookRequest(t, payload, testWebhookSecret))
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	// Duplicate delivery of the same event.
	rr = httptest.NewRecorder()
	env.router.ServeHTTP(rr, signedWebhookRequest(t, payload, testWebhookSecret))
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200 on replay, got %d", rr.Code)
	}

	count, err := env.ticketDB.CountTickets(context.Background())
	if err != nil {
		t.Fatalf("Failed to count tickets: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected exactly 1 ticket after duplicate delivery, got %d", count)
	}
	if env.notifier.buyerCalls != 1 {
		t.Errorf("Expected exactly 1 buyer notification, got %d", env.notifier.buyerCalls)
	}

	ticket, err := env.ticketDB.GetTicketBySession(context.Background(), "cs_test_123")
	if err != nil {
		t.Fatalf("Failed to read issued ticket: %v", err)
	}
	if ticket.BuyerEmail != "buyer@example.com" {
		t.Errorf("Expected buyer email on ticket, got %s", ticket.BuyerEmail)
	}
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	env := setupEnv(t, 400, realGateway())
	payload := completedSessionPayload("cs_test_123", "buyer@example.com")

	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, signedWebhookRequest(t, payload, "whsec_wrong_secret"))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", rr.Code)
	}
	var errResp map[string]string
	decodeBody(t, rr, &errResp)
	if errResp["error"] != "SIGNATURE_INVALID" {
		t.Errorf("Expected SIGNATURE_INVALID, got %q", errResp["error"])
	}

	count, _ := env.ticketDB.CountTickets(context.Background())
	if count != 0 {
		t.Errorf("Rejected webhook must not create tickets, found %d", count)
	}
}

func TestWebhookTamperedBody(t *testing.T) {
	env := setupEnv(t, 400, realGateway())
	payload := completedSessionPayload("cs_test_123", "buyer@example.com")

	now := time.Now()
	sig := webhook.ComputeSignature(now, payload, testWebhookSecret)
	tampered := bytes.Replace(payload, []byte("buyer@example.com"), []byte("other@example.com"), 1)

	req := httptest.NewRequest(http.MethodPost, "/api/stripe/webhook", bytes.NewReader(tampered))
	req.Header.Set("Stripe-Signature", fmt.Sprintf("t=%d,v1=%s", now.Unix(), hex.EncodeToString(sig)))
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400 for tampered body, got %d", rr.Code)
	}
	count, _ := env.ticketDB.CountTickets(context.Background())
	if count != 0 {
		t.Errorf("Tampered webhook must not create tickets, found %d", count)
	}
}

func TestWebhookIgnoresOtherEventTypes(t *testing.T) {
	env := setupEnv(t, 400, realGateway())
	payload := []byte(`{
		"id": "evt_test_2",
		"object": "event",
		"type": "invoice.paid",
		"data": {"object": {"id": "in_test_1", "object": "invoice"}}
	}`)

	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, signedWebhookRequest(t, payload, testWebhookSecret))

	if rr.Code != http.StatusOK {
		t.Fatalf("Expected unhandled event types to be acknowledged, got %d", rr.Code)
	}
	var resp map[string]bool
	decodeBody(t, rr, &resp)
	if !resp["received"] {
		t.Error("Expected received:true acknowledgement")
	}
	count, _ := env.ticketDB.CountTickets(context.Background())
	if count != 0 {
		t.Errorf("Ignored event must not create tickets, found %d", count)
	}
}

func TestWebhookAcksOnIssuanceFailure(t *testing.T) {
	env := setupEnv(t, 400, realGateway())
	// Drop the tickets table so issuance fails at the storage layer.
	if _, err := env.ticketDB.Bun.NewDropTable().Model((*models.Ticket)(nil)).Exec(context.Background()); err != nil {
		t.Fatalf("Failed to drop table: %v", err)
	}

	payload := completedSessionPayload("cs_test_123", "buyer@example.com")
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, signedWebhookRequest(t, payload, testWebhookSecret))

	if rr.Code != http.StatusOK {
		t.Fatalf("Webhook must acknowledge even when issuance fails, got %d", rr.Code)
	}
	if env.notifier.buyerCalls != 0 {
		t.Errorf("No notification expected on failed issuance, got %d", env.notifier.buyerCalls)
	}
}

func TestTicketLookup(t *testing.T) {
	env := setupEnv(t, 400, &mockGateway{})

	issued, _, err := env.issuer.IssueTicket(context.Background(), "cs_test_123", "buyer@example.com")
	if err != nil {
		t.Fatalf("Failed to issue ticket: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/ticket?session_id=cs_test_123", nil)
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp models.TicketResponse
	decodeBody(t, rr, &resp)
	if resp.TicketCode != issued.TicketCode {
		t.Errorf("Expected code %s, got %s", issued.TicketCode, resp.TicketCode)
	}
	if !strings.HasPrefix(resp.QR, "data:image/png;base64,") {
		t.Errorf("Expected QR data URL, got %q", resp.QR[:min(len(resp.QR), 30)])
	}
}

func TestTicketLookupUnknownSession(t *testing.T) {
	env := setupEnv(t, 400, &mockGateway{sessionErr: errs.ErrNotFound})

	req := httptest.NewRequest(http.MethodGet, "/api/ticket?session_id=cs_unknown", nil)
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("Expected 404, got %d", rr.Code)
	}
	var errResp map[string]string
	decodeBody(t, rr, &errResp)
	if errResp["error"] != "NOT_FOUND" {
		t.Errorf("Expected NOT_FOUND, got %q", errResp["error"])
	}
}

func TestTicketLookupUnpaidSession(t *testing.T) {
	env := setupEnv(t, 400, &mockGateway{sessionStatus: &payment.SessionStatus{Paid: false}})

	req := httptest.NewRequest(http.MethodGet, "/api/ticket?session_id=cs_pending", nil)
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusPaymentRequired {
		t.Fatalf("Expected 402, got %d", rr.Code)
	}
	var errResp map[string]string
	decodeBody(t, rr, &errResp)
	if errResp["error"] != "NOT_PAID" {
		t.Errorf("Expected NOT_PAID, got %q", errResp["error"])
	}
}

func TestTicketLookupPaidBeforeWebhook(t *testing.T) {
	// The success page can land before the webhook; a live-paid session is
	// issued through the same idempotent path.
	env := setupEnv(t, 400, &mockGateway{
		sessionStatus: &payment.SessionStatus{Paid: true, BuyerEmail: "buyer@example.com"},
	})

	req := httptest.NewRequest(http.MethodGet, "/api/ticket?session_id=cs_test_123", nil)
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	count, _ := env.ticketDB.CountTickets(context.Background())
	if count != 1 {
		t.Errorf("Expected ticket issued on paid lookup, got %d rows", count)
	}
	if env.notifier.buyerCalls != 1 {
		t.Errorf("Expected buyer notification, got %d", env.notifier.buyerCalls)
	}
}

func TestTicketLookupMissingParam(t *testing.T) {
	env := setupEnv(t, 400, &mockGateway{})

	req := httptest.NewRequest(http.MethodGet, "/api/ticket", nil)
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", rr.Code)
	}
}
