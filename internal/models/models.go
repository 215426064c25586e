package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Signup is a pre-payment reservation. Rows are append-only; the sequential
// number is assigned inside the registration transaction.
type Signup struct {
	bun.BaseModel `bun:"table:signups"`

	Number    int       `bun:"number,pk" json:"number"`
	Name      string    `bun:"name,notnull" json:"name"`
	Email     string    `bun:"email,unique,notnull" json:"email"`
	Phone     string    `bun:"phone,unique,notnull" json:"phone"`
	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp" json:"createdAt"`
}

// Ticket is issued exactly once per Stripe checkout session; SessionID is
// the idempotency key. Rows are never updated or deleted.
type Ticket struct {
	bun.BaseModel `bun:"table:tickets"`

	ID         string    `bun:"id,pk" json:"id"`
	BuyerEmail string    `bun:"buyer_email,notnull" json:"buyerEmail"`
	TicketCode string    `bun:"ticket_code,unique,notnull" json:"ticketCode"`
	QRCode     []byte    `bun:"qr_code,notnull" json:"-"`
	Paid       bool      `bun:"paid,notnull" json:"paid"`
	SessionID  string    `bun:"session_id,unique,notnull" json:"sessionId"`
	CreatedAt  time.Time `bun:"created_at,notnull,default:current_timestamp" json:"createdAt"`
}

type SignupRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

type SignupResponse struct {
	Number int `json:"number"`
	Limit  int `json:"limit"`
}

type CheckoutRequest struct {
	Email string `json:"email"`
}

type CheckoutResponse struct {
	URL string `json:"url"`
}

type StatusResponse struct {
	Limit   int  `json:"limit"`
	Count   int  `json:"count"`
	SoldOut bool `json:"soldOut"`
}

type TicketResponse struct {
	TicketCode string `json:"ticketCode"`
	QR         string `json:"qr"` // data:image/png;base64 URL
}
