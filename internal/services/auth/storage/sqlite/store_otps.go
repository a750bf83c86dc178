package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/olympstage/olympstage/internal/services/auth/storage"
)

// CreateOTP inserts a ledger row. Prior unconsumed rows for the same
// (email, purpose) pair are left in place; only the newest row is consulted
// on consume.
func (q queries) CreateOTP(ctx context.Context, otp storage.EmailOTP) error {
	if strings.TrimSpace(otp.ID) == "" {
		return fmt.Errorf("otp id is required")
	}
	_, err := q.db.ExecContext(ctx, `
INSERT INTO email_otps (id, user_id, email, purpose, code, attempts, max_attempts, expires_at, consumed_at, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL, ?)`,
		otp.ID, otp.UserID, otp.Email, otp.Purpose, otp.Code,
		otp.Attempts, otp.MaxAttempts, toMillis(otp.ExpiresAt), toMillis(otp.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert otp: %w", err)
	}
	return nil
}

// LatestActiveOTP returns the most recently created unconsumed row for the
// (purpose, email) pair.
func (q queries) LatestActiveOTP(ctx context.Context, purpose, email string) (storage.EmailOTP, error) {
	row := q.db.QueryRowContext(ctx, `
SELECT id, user_id, email, purpose, code, attempts, max_attempts, expires_at, consumed_at, created_at
FROM email_otps
WHERE purpose = ? AND email = ? AND consumed_at IS NULL
ORDER BY created_at DESC, id DESC
LIMIT 1`,
		purpose, email,
	)

	var otp storage.EmailOTP
	var expiresAt, createdAt int64
	var consumedAt sql.NullInt64
	err := row.Scan(&otp.ID, &otp.UserID, &otp.Email, &otp.Purpose, &otp.Code,
		&otp.Attempts, &otp.MaxAttempts, &expiresAt, &consumedAt, &createdAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return storage.EmailOTP{}, storage.ErrNotFound
		}
		return storage.EmailOTP{}, err
	}
	otp.ExpiresAt = fromMillis(expiresAt)
	otp.CreatedAt = fromMillis(createdAt)
	if consumedAt.Valid {
		value := fromMillis(consumedAt.Int64)
		otp.ConsumedAt = &value
	}
	return otp, nil
}

// UpdateOTP persists attempt counts and consumption.
func (q queries) UpdateOTP(ctx context.Context, otp storage.EmailOTP) error {
	var consumedAt any
	if otp.ConsumedAt != nil {
		consumedAt = toMillis(*otp.ConsumedAt)
	}
	result, err := q.db.ExecContext(ctx,
		"UPDATE email_otps SET attempts = ?, consumed_at = ? WHERE id = ?",
		otp.Attempts, consumedAt, otp.ID,
	)
	if err != nil {
		return fmt.Errorf("update otp: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update otp rows: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}
