// Package otp implements the one-time-passcode ledger backing email
// verification and password reset.
package otp

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
	"time"

	"github.com/caarlos0/env/v11"
	apperrors "github.com/olympstage/olympstage/internal/platform/errors"
	"github.com/olympstage/olympstage/internal/platform/id"
	"github.com/olympstage/olympstage/internal/services/auth/storage"
)

// CodeLength is the fixed width of every issued code.
const CodeLength = 6

var (
	// ErrInvalidOTP indicates no active code exists or the supplied code is wrong.
	ErrInvalidOTP = apperrors.New(apperrors.CodeInvalidOTP, "one-time code is invalid")
	// ErrExpired indicates the newest code's TTL elapsed before consumption.
	ErrExpired = apperrors.New(apperrors.CodeOTPExpired, "one-time code expired")
	// ErrAttemptsExceeded indicates the newest code is exhausted.
	ErrAttemptsExceeded = apperrors.New(apperrors.CodeOTPAttemptsExceeded, "one-time code attempts exceeded")
)

// Config controls code lifetime and attempt budget.
type Config struct {
	TTL         time.Duration `env:"OLYMPSTAGE_OTP_TTL"          envDefault:"10m"`
	MaxAttempts int           `env:"OLYMPSTAGE_OTP_MAX_ATTEMPTS" envDefault:"5"`
}

// LoadConfigFromEnv loads OTP configuration with defensive defaults.
func LoadConfigFromEnv() Config {
	var cfg Config
	_ = env.Parse(&cfg)
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	return cfg
}

// Ledger creates and atomically consumes numeric one-time codes.
type Ledger struct {
	db          storage.Database
	config      Config
	clock       func() time.Time
	idGenerator func() (string, error)
	codeDrawer  func() (string, error)
}

// NewLedger builds a ledger over the store's unit of work.
func NewLedger(db storage.Database, config Config) *Ledger {
	return &Ledger{
		db:          db,
		config:      config,
		clock:       time.Now,
		idGenerator: id.NewID,
		codeDrawer:  drawCode,
	}
}

// WithClock returns a ledger using the supplied clock.
func (l *Ledger) WithClock(clock func() time.Time) *Ledger {
	out := *l
	out.clock = clock
	return &out
}

// drawCode draws a fixed-width code uniformly from [0, 10^CodeLength).
func drawCode() (string, error) {
	bound := big.NewInt(1)
	for i := 0; i < CodeLength; i++ {
		bound.Mul(bound, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return "", fmt.Errorf("draw otp code: %w", err)
	}
	return fmt.Sprintf("%0*d", CodeLength, n), nil
}

// Create inserts a fresh code for (userID, email, purpose) and returns it.
// Prior unconsumed codes stay in place; only the newest is ever checked.
func (l *Ledger) Create(ctx context.Context, userID int64, email, purpose string) (string, error) {
	return l.CreateIn(ctx, l.db, userID, email, purpose)
}

// CreateIn inserts the code through q, so callers can bundle issuance with
// other writes in one transaction.
func (l *Ledger) CreateIn(ctx context.Context, q storage.Queries, userID int64, email, purpose string) (string, error) {
	code, err := l.codeDrawer()
	if err != nil {
		return "", err
	}
	rowID, err := l.idGenerator()
	if err != nil {
		return "", fmt.Errorf("generate otp id: %w", err)
	}
	now := l.clock().UTC()
	err = q.CreateOTP(ctx, storage.EmailOTP{
		ID:          rowID,
		UserID:      userID,
		Email:       email,
		Purpose:     purpose,
		Code:        code,
		Attempts:    0,
		MaxAttempts: l.config.MaxAttempts,
		ExpiresAt:   now.Add(l.config.TTL),
		CreatedAt:   now,
	})
	if err != nil {
		return "", err
	}
	return code, nil
}

// Consume checks code against the newest unconsumed row for (purpose, email)
// and returns the owning user id on success.
//
// The whole check-and-mutate sequence runs inside one transaction so
// concurrent double submissions serialize. Expiry and exhaustion mark the row
// consumed in the same transaction that observed them; a wrong code that does
// not exhaust the budget leaves the row open for a further attempt.
func (l *Ledger) Consume(ctx context.Context, purpose, email, code string) (int64, error) {
	var userID int64
	err := l.db.InTx(ctx, func(q storage.Queries) error {
		row, err := q.LatestActiveOTP(ctx, purpose, email)
		if err != nil {
			if err == storage.ErrNotFound {
				return ErrInvalidOTP
			}
			return err
		}

		now := l.clock().UTC()
		consume := func() error {
			row.ConsumedAt = &now
			return q.UpdateOTP(ctx, row)
		}

		if !row.ExpiresAt.After(now) {
			if err := consume(); err != nil {
				return err
			}
			return ErrExpired
		}
		if row.Attempts >= row.MaxAttempts {
			if err := consume(); err != nil {
				return err
			}
			return ErrAttemptsExceeded
		}
		if subtle.ConstantTimeCompare([]byte(row.Code), []byte(code)) != 1 {
			row.Attempts++
			if row.Attempts >= row.MaxAttempts {
				if err := consume(); err != nil {
					return err
				}
				return ErrAttemptsExceeded
			}
			if err := q.UpdateOTP(ctx, row); err != nil {
				return err
			}
			return ErrInvalidOTP
		}

		if err := consume(); err != nil {
			return err
		}
		userID = row.UserID
		return nil
	})
	if err != nil {
		return 0, err
	}
	return userID, nil
}
