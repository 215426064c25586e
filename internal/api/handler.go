package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/stripe/stripe-go/v82"

	"roomno4/internal/errs"
	"roomno4/internal/logger"
	"roomno4/internal/models"
	"roomno4/internal/monitoring"
	"roomno4/internal/payment"
	"roomno4/internal/tickets/qr"
)

type SignupService interface {
	Register(ctx context.Context, name, email, phone string) (*models.Signup, error)
}

type TicketIssuer interface {
	IssueTicket(ctx context.Context, sessionID, buyerEmail string) (*models.Ticket, bool, error)
	GetBySession(ctx context.Context, sessionID string) (*models.Ticket, error)
}

type PaymentGateway interface {
	CreateCheckoutSession(ctx context.Context, buyerEmail string) (string, error)
	VerifyAndParseEvent(payload []byte, sigHeader string) (stripe.Event, error)
	GetSessionStatus(ctx context.Context, sessionID string) (*payment.SessionStatus, error)
}

type CapacityChecker interface {
	Status(ctx context.Context) (count, limit int, soldOut bool, err error)
	Limit() int
}

type Notifier interface {
	NotifyBuyer(ticket *models.Ticket)
	NotifyOperator(summary string)
}

type Handler struct {
	Signups  SignupService
	Issuer   TicketIssuer
	Gateway  PaymentGateway
	Gate     CapacityChecker
	Notifier Notifier
	Logger   *logger.Logger
}

// Status reports the inventory counters for the landing page.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	count, limit, soldOut, err := h.Gate.Status(r.Context())
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("Status: %v", err))
		writeError(w, http.StatusInternalServerError, errs.Code(err))
		return
	}

	writeJSON(w, http.StatusOK, models.StatusResponse{
		Limit:   limit,
		Count:   count,
		SoldOut: soldOut,
	})
}

// Signup records a reservation-form submission.
func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	var req models.SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR")
		return
	}

	signup, err := h.Signups.Register(r.Context(), req.Name, req.Email, req.Phone)
	if err != nil {
		h.writeServiceError(w, "Signup", err)
		return
	}

	monitoring.SignupsTotal.Inc()
	h.Notifier.NotifyOperator(fmt.Sprintf(
		"🆕 NOWY ZAPIS #%d\n\n👤 Imię: %s\n📧 Email: %s\n📞 Telefon: %s",
		signup.Number, signup.Name, signup.Email, signup.Phone))

	writeJSON(w, http.StatusOK, models.SignupResponse{
		Number: signup.Number,
		Limit:  h.Gate.Limit(),
	})
}

// CreateCheckout opens a hosted payment session unless the event is sold
// out.
func (h *Handler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	var req models.CheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR")
		return
	}

	_, _, soldOut, err := h.Gate.Status(r.Context())
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("CreateCheckout: capacity check failed: %v", err))
		writeError(w, http.StatusInternalServerError, "INTERNAL")
		return
	}
	if soldOut {
		writeError(w, http.StatusForbidden, "SOLD_OUT")
		return
	}

	url, err := h.Gateway.CreateCheckoutSession(r.Context(), req.Email)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("CreateCheckout: %v", err))
		writeError(w, http.StatusBadGateway, "GATEWAY_ERROR")
		return
	}

	writeJSON(w, http.StatusOK, models.CheckoutResponse{URL: url})
}

// StripeWebhook verifies the raw payload signature, then issues a ticket for
// completed checkouts. After the signature passes, the provider always gets
// a success response so it stops retrying; internal failures are logged for
// reconciliation instead.
func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR")
		return
	}

	event, err := h.Gateway.VerifyAndParseEvent(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		h.Logger.Error("WEBHOOK", fmt.Sprintf("Signature verification failed: %v", err))
		monitoring.WebhookEventsTotal.WithLabelValues("unknown", "signature_invalid").Inc()
		writeError(w, http.StatusBadRequest, "SIGNATURE_INVALID")
		return
	}

	if event.Type != "checkout.session.completed" {
		h.Logger.Info("WEBHOOK", fmt.Sprintf("Ignoring event type %s", event.Type))
		monitoring.WebhookEventsTotal.WithLabelValues(string(event.Type), "ignored").Inc()
		writeJSON(w, http.StatusOK, map[string]bool{"received": true})
		return
	}

	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		h.Logger.Error("WEBHOOK", fmt.Sprintf("Failed to unmarshal checkout session: %v", err))
		monitoring.WebhookEventsTotal.WithLabelValues(string(event.Type), "error").Inc()
		writeJSON(w, http.StatusOK, map[string]bool{"received": true})
		return
	}

	email := sess.CustomerEmail
	if sess.CustomerDetails != nil && sess.CustomerDetails.Email != "" {
		email = sess.CustomerDetails.Email
	}

	ticket, created, err := h.Issuer.IssueTicket(r.Context(), sess.ID, email)
	if err != nil {
		h.Logger.Error("WEBHOOK", fmt.Sprintf("Issuance failed for session %s: %v", sess.ID, err))
		monitoring.WebhookEventsTotal.WithLabelValues(string(event.Type), "issuance_failed").Inc()
		writeJSON(w, http.StatusOK, map[string]bool{"received": true})
		return
	}

	if created {
		monitoring.TicketsIssuedTotal.Inc()
		h.Notifier.NotifyBuyer(ticket)
		h.Notifier.NotifyOperator(fmt.Sprintf(
			"🎟 BILET WYDANY\n\n📧 Email: %s\n🔑 Kod: %s", ticket.BuyerEmail, ticket.TicketCode))
	}

	monitoring.WebhookEventsTotal.WithLabelValues(string(event.Type), "ok").Inc()
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

// Ticket serves the success-page lookup. When the webhook has not arrived
// yet, the session is re-checked live against the gateway; a paid session
// goes through the same idempotent issuer.
func (h *Handler) Ticket(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR")
		return
	}

	ticket, err := h.Issuer.GetBySession(r.Context(), sessionID)
	if err == nil {
		writeJSON(w, http.StatusOK, models.TicketResponse{
			TicketCode: ticket.TicketCode,
			QR:         qr.DataURL(ticket.QRCode),
		})
		return
	}
	if !errors.Is(err, errs.ErrNotFound) {
		h.Logger.Error("API", fmt.Sprintf("Ticket: lookup for session %s: %v", sessionID, err))
		writeError(w, http.StatusInternalServerError, "INTERNAL")
		return
	}

	status, err := h.Gateway.GetSessionStatus(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			writeError(w, http.StatusNotFound, "NOT_FOUND")
			return
		}
		h.Logger.Error("API", fmt.Sprintf("Ticket: session status for %s: %v", sessionID, err))
		writeError(w, http.StatusBadGateway, "GATEWAY_ERROR")
		return
	}
	if !status.Paid {
		writeError(w, http.StatusPaymentRequired, "NOT_PAID")
		return
	}

	ticket, created, err := h.Issuer.IssueTicket(r.Context(), sessionID, status.BuyerEmail)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("Ticket: issuance for session %s: %v", sessionID, err))
		writeError(w, http.StatusInternalServerError, "ISSUANCE_FAILED")
		return
	}
	if created {
		monitoring.TicketsIssuedTotal.Inc()
		h.Notifier.NotifyBuyer(ticket)
	}

	writeJSON(w, http.StatusOK, models.TicketResponse{
		TicketCode: ticket.TicketCode,
		QR:         qr.DataURL(ticket.QRCode),
	})
}

func (h *Handler) writeServiceError(w http.ResponseWriter, op string, err error) {
	code := errs.Code(err)
	switch code {
	case "VALIDATION_ERROR":
		writeError(w, http.StatusBadRequest, code)
	case "DUPLICATE":
		writeError(w, http.StatusConflict, code)
	case "CAPACITY_EXCEEDED":
		writeError(w, http.StatusForbidden, code)
	default:
		h.Logger.Error("API", fmt.Sprintf("%s: %v", op, err))
		writeError(w, http.StatusInternalServerError, "INTERNAL")
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
