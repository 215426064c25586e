package payment

import (
	"context"
	"fmt"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"

	"roomno4/internal/config"
	"roomno4/internal/errs"
	"roomno4/internal/logger"
)

// Gateway wraps the Stripe API: outbound checkout-session creation and
// inbound webhook verification.
type Gateway struct {
	client        *client.API
	priceID       string
	successURL    string
	cancelURL     string
	webhookSecret string
	log           *logger.Logger
}

// NewGateway initializes the Stripe client. Config completeness is enforced
// at startup by config.Validate, not re-checked per request.
func NewGateway(cfg config.StripeConfig, log *logger.Logger) *Gateway {
	sc := client.New(cfg.SecretKey, nil)
	log.Info("STRIPE", "Stripe client initialized")
	return &Gateway{
		client:        sc,
		priceID:       cfg.PriceID,
		successURL:    cfg.SuccessURL,
		cancelURL:     cfg.CancelURL,
		webhookSecret: cfg.WebhookSecret,
		log:           log,
	}
}

// CreateCheckoutSession creates a single-use hosted payment page for one
// ticket and returns the redirect URL.
func (g *Gateway) CreateCheckoutSession(ctx context.Context, buyerEmail string) (string, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:          stripe.String(string(stripe.CheckoutSessionModePayment)),
		CustomerEmail: stripe.String(buyerEmail),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(g.priceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(g.successURL),
		CancelURL:  stripe.String(g.cancelURL),
	}
	params.Context = ctx

	sess, err := g.client.CheckoutSessions.New(params)
	if err != nil {
		g.log.Error("STRIPE", fmt.Sprintf("Failed to create checkout session: %v", err))
		return "", fmt.Errorf("%w: %v", errs.ErrGateway, err)
	}

	g.log.Info("STRIPE", fmt.Sprintf("Created checkout session %s", sess.ID))
	return sess.URL, nil
}

// VerifyAndParseEvent validates the Stripe signature over the exact raw
// request bytes. Nothing may parse or rewrite the body before this runs.
func (g *Gateway) VerifyAndParseEvent(payload []byte, sigHeader string) (stripe.Event, error) {
	opts := webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	}
	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, g.webhookSecret, opts)
	if err != nil {
		return stripe.Event{}, fmt.Errorf("%w: %v", errs.ErrSignatureInvalid, err)
	}
	return event, nil
}

// SessionStatus is the live state of a checkout session as reported by
// Stripe, used by the ticket-lookup path.
type SessionStatus struct {
	Paid       bool
	BuyerEmail string
}

func (g *Gateway) GetSessionStatus(ctx context.Context, sessionID string) (*SessionStatus, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx

	sess, err := g.client.CheckoutSessions.Get(sessionID, params)
	if err != nil {
		if stripeErr, ok := err.(*stripe.Error); ok && stripeErr.HTTPStatusCode == 404 {
			return nil, errs.ErrNotFound
		}
		g.log.Error("STRIPE", fmt.Sprintf("Failed to retrieve session %s: %v", sessionID, err))
		return nil, fmt.Errorf("%w: %v", errs.ErrGateway, err)
	}

	status := &SessionStatus{
		Paid: sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
	}
	if sess.CustomerDetails != nil && sess.CustomerDetails.Email != "" {
		status.BuyerEmail = sess.CustomerDetails.Email
	} else {
		status.BuyerEmail = sess.CustomerEmail
	}
	return status, nil
}
