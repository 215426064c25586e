package tickets

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"roomno4/internal/errs"
	"roomno4/internal/logger"
	"roomno4/internal/models"
	"roomno4/internal/tickets/qr"
)

type TicketDBLayer interface {
	GetTicketBySession(ctx context.Context, sessionID string) (*models.Ticket, error)
	InsertTicket(ctx context.Context, ticket models.Ticket) (bool, error)
	CountTickets(ctx context.Context) (int, error)
}

// Issuer turns confirmed payment events into ticket rows. It is the only
// component that writes tickets; everything else reads through it.
type Issuer struct {
	DB     TicketDBLayer
	Logger *logger.Logger
}

func NewIssuer(db TicketDBLayer, log *logger.Logger) *Issuer {
	return &Issuer{DB: db, Logger: log}
}

// IssueTicket issues at most one ticket per payment session and reports
// whether this call created it. Replayed webhook deliveries get the
// already-issued ticket back unchanged; a concurrent duplicate insert is
// resolved by the session_id uniqueness constraint, with the loser
// re-reading the winning row.
func (s *Issuer) IssueTicket(ctx context.Context, sessionID, buyerEmail string) (*models.Ticket, bool, error) {
	existing, err := s.DB.GetTicketBySession(ctx, sessionID)
	if err == nil {
		s.Logger.Info("ISSUER", fmt.Sprintf("Replay for session %s, returning existing ticket %s", sessionID, existing.ID))
		return existing, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("%w: lookup for session %s: %v", errs.ErrIssuance, sessionID, err)
	}

	code, err := generateTicketCode()
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", errs.ErrIssuance, err)
	}

	qrBytes, err := qr.Encode(code)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", errs.ErrIssuance, err)
	}

	ticket := models.Ticket{
		ID:         uuid.NewString(),
		BuyerEmail: buyerEmail,
		TicketCode: code,
		QRCode:     qrBytes,
		Paid:       true,
		SessionID:  sessionID,
		CreatedAt:  time.Now().UTC(),
	}

	inserted, err := s.DB.InsertTicket(ctx, ticket)
	if err != nil {
		return nil, false, fmt.Errorf("%w: insert for session %s: %v", errs.ErrIssuance, sessionID, err)
	}
	if !inserted {
		// Another handler won the race; its row is the ticket.
		winner, err := s.DB.GetTicketBySession(ctx, sessionID)
		if err != nil {
			return nil, false, fmt.Errorf("%w: re-read for session %s: %v", errs.ErrIssuance, sessionID, err)
		}
		s.Logger.Warn("ISSUER", fmt.Sprintf("Lost insert race for session %s, returning ticket %s", sessionID, winner.ID))
		return winner, false, nil
	}

	s.Logger.Info("ISSUER", fmt.Sprintf("Issued ticket %s for session %s", ticket.ID, sessionID))
	return &ticket, true, nil
}

// GetBySession reads an issued ticket without touching the gateway.
func (s *Issuer) GetBySession(ctx context.Context, sessionID string) (*models.Ticket, error) {
	ticket, err := s.DB.GetTicketBySession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return ticket, nil
}

func (s *Issuer) Count(ctx context.Context) (int, error) {
	return s.DB.CountTickets(ctx)
}

// generateTicketCode produces an opaque 128-bit token.
func generateTicketCode() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
