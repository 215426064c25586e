package signup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/uptrace/bun"

	"roomno4/internal/errs"
	"roomno4/internal/models"
)

// insertNumberRetries bounds how often a lost number race is retried before
// the registration fails outright.
const insertNumberRetries = 3

type DB struct {
	Bun *bun.DB
}

func (d *DB) CountSignups(ctx context.Context) (int, error) {
	return d.Bun.NewSelect().
		Model((*models.Signup)(nil)).
		Count(ctx)
}

func (d *DB) EmailOrPhoneExists(ctx context.Context, email, phone string) (bool, error) {
	return d.Bun.NewSelect().
		Model((*models.Signup)(nil)).
		Where("email = ?", email).
		WhereOr("phone = ?", phone).
		Exists(ctx)
}

// InsertNextSignup assigns max(number)+1 and inserts within one transaction.
// The read and the insert are not serialized against concurrent
// registrations, so two of them can pick the same number; the loser hits the
// primary-key constraint and retries with a fresh read, which then sees the
// winner's committed row. Only email/phone collisions are duplicates.
func (d *DB) InsertNextSignup(ctx context.Context, name, email, phone string) (*models.Signup, error) {
	var lastErr error
	for attempt := 0; attempt < insertNumberRetries; attempt++ {
		signup, err := d.insertNextSignup(ctx, name, email, phone)
		if err == nil {
			return signup, nil
		}

		switch classifyUniqueViolation(err) {
		case violationIdentity:
			return nil, errs.ErrDuplicate
		case violationNumber:
			lastErr = err
			continue
		default:
			return nil, err
		}
	}
	return nil, fmt.Errorf("signup number contention persisted: %w", lastErr)
}

func (d *DB) insertNextSignup(ctx context.Context, name, email, phone string) (*models.Signup, error) {
	var signup models.Signup

	err := d.Bun.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		var maxNumber int
		err := tx.NewSelect().
			Model((*models.Signup)(nil)).
			ColumnExpr("COALESCE(MAX(number), 0)").
			Scan(ctx, &maxNumber)
		if err != nil {
			return err
		}

		signup = models.Signup{
			Number:    maxNumber + 1,
			Name:      name,
			Email:     email,
			Phone:     phone,
			CreatedAt: time.Now().UTC(),
		}
		_, err = tx.NewInsert().Model(&signup).Exec(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &signup, nil
}

type uniqueViolation int

const (
	violationNone uniqueViolation = iota
	// violationNumber is a primary-key collision on the sequential number, a
	// lost race between concurrent registrations rather than a duplicate.
	violationNumber
	// violationIdentity is a collision on email or phone.
	violationIdentity
)

// classifyUniqueViolation tells apart which constraint fired. The postgres
// driver reports code 23505 with the constraint name; sqlite only gives a
// message naming the column.
func classifyUniqueViolation(err error) uniqueViolation {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		if pqErr.Code != "23505" {
			return violationNone
		}
		if pqErr.Constraint == "signups_pkey" {
			return violationNumber
		}
		return violationIdentity
	}

	msg := strings.ToLower(err.Error())
	if !strings.Contains(msg, "unique") && !strings.Contains(msg, "duplicate key") {
		return violationNone
	}
	if strings.Contains(msg, "number") {
		return violationNumber
	}
	return violationIdentity
}
