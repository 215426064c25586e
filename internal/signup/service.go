package signup

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"roomno4/internal/errs"
	"roomno4/internal/logger"
	"roomno4/internal/models"
)

var (
	nameRe  = regexp.MustCompile(`^[A-Za-zÀ-ž\s]{2,30}$`)
	phoneRe = regexp.MustCompile(`^[0-9+ ]{9,15}$`)
)

type SignupDBLayer interface {
	CountSignups(ctx context.Context) (int, error)
	EmailOrPhoneExists(ctx context.Context, email, phone string) (bool, error)
	InsertNextSignup(ctx context.Context, name, email, phone string) (*models.Signup, error)
}

type CapacityChecker interface {
	Status(ctx context.Context) (count, limit int, soldOut bool, err error)
}

type Service struct {
	DB     SignupDBLayer
	Gate   CapacityChecker
	Logger *logger.Logger
}

func NewService(db SignupDBLayer, gate CapacityChecker, log *logger.Logger) *Service {
	return &Service{DB: db, Gate: gate, Logger: log}
}

// Register validates the reservation form and records the signup with the
// next sequential number.
func (s *Service) Register(ctx context.Context, name, email, phone string) (*models.Signup, error) {
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(email)
	phone = strings.TrimSpace(phone)

	if err := validate(name, email, phone); err != nil {
		return nil, err
	}

	exists, err := s.DB.EmailOrPhoneExists(ctx, email, phone)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, errs.ErrDuplicate
	}

	_, _, soldOut, err := s.Gate.Status(ctx)
	if err != nil {
		return nil, err
	}
	if soldOut {
		return nil, errs.ErrCapacityExceeded
	}

	signup, err := s.DB.InsertNextSignup(ctx, name, email, phone)
	if err != nil {
		return nil, err
	}

	s.Logger.Info("SIGNUP", fmt.Sprintf("Registered signup #%d for %s", signup.Number, signup.Email))
	return signup, nil
}

func validate(name, email, phone string) error {
	if !nameRe.MatchString(name) {
		return fmt.Errorf("%w: name must be 2-30 letters", errs.ErrValidation)
	}
	if len(email) < 5 || len(email) > 60 || !strings.Contains(email, "@") {
		return fmt.Errorf("%w: email must be 5-60 characters", errs.ErrValidation)
	}
	if !phoneRe.MatchString(phone) {
		return fmt.Errorf("%w: phone must be 9-15 digits", errs.ErrValidation)
	}
	return nil
}
