package tickets

import (
	"context"

	"github.com/uptrace/bun"

	"roomno4/internal/models"
)

type DB struct {
	Bun *bun.DB
}

func (d *DB) GetTicketBySession(ctx context.Context, sessionID string) (*models.Ticket, error) {
	var ticket models.Ticket
	err := d.Bun.NewSelect().
		Model(&ticket).
		Where("session_id = ?", sessionID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &ticket, nil
}

// InsertTicket inserts the ticket unless a row for the same session already
// exists. It reports whether this call created the row; losing the race is
// not an error.
func (d *DB) InsertTicket(ctx context.Context, ticket models.Ticket) (bool, error) {
	res, err := d.Bun.NewInsert().
		Model(&ticket).
		On("CONFLICT (session_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (d *DB) CountTickets(ctx context.Context) (int, error) {
	return d.Bun.NewSelect().
		Model((*models.Ticket)(nil)).
		Count(ctx)
}
