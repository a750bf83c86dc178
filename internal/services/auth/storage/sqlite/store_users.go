package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/olympstage/olympstage/internal/services/auth/storage"
	"github.com/olympstage/olympstage/internal/services/auth/user"
)

const userColumns = "id, email, password_hash, name, role, active, email_verified, created_at, updated_at"

func scanUser(row *sql.Row) (user.User, error) {
	var u user.User
	var role string
	var active, verified int
	var createdAt, updatedAt int64
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Name, &role, &active, &verified, &createdAt, &updatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return user.User{}, storage.ErrNotFound
		}
		return user.User{}, err
	}
	u.Role = user.Role(role)
	u.Active = active != 0
	u.EmailVerified = verified != 0
	u.CreatedAt = fromMillis(createdAt)
	u.UpdatedAt = fromMillis(updatedAt)
	return u, nil
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

// CreateUser inserts a user row and returns its assigned id.
func (q queries) CreateUser(ctx context.Context, u user.User) (int64, error) {
	email := strings.TrimSpace(u.Email)
	if email == "" {
		return 0, fmt.Errorf("user email is required")
	}
	if u.Role == "" {
		return 0, fmt.Errorf("user role is required")
	}

	result, err := q.db.ExecContext(ctx, `
INSERT INTO users (email, password_hash, name, role, active, email_verified, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		email, u.PasswordHash, u.Name, string(u.Role),
		boolToInt(u.Active), boolToInt(u.EmailVerified),
		toMillis(u.CreatedAt), toMillis(u.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, storage.ErrConflict
		}
		return 0, fmt.Errorf("insert user: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("user insert id: %w", err)
	}
	return id, nil
}

// GetUser loads a user by id.
func (q queries) GetUser(ctx context.Context, userID int64) (user.User, error) {
	row := q.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", userID)
	return scanUser(row)
}

// GetUserByEmail loads a user by its normalized email.
func (q queries) GetUserByEmail(ctx context.Context, email string) (user.User, error) {
	row := q.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE email = ?", email)
	return scanUser(row)
}

// UpdateUser persists mutable user fields.
func (q queries) UpdateUser(ctx context.Context, u user.User) error {
	if u.ID == 0 {
		return fmt.Errorf("user id is required")
	}
	result, err := q.db.ExecContext(ctx, `
UPDATE users
SET email = ?, password_hash = ?, name = ?, role = ?, active = ?, email_verified = ?, updated_at = ?
WHERE id = ?`,
		u.Email, u.PasswordHash, u.Name, string(u.Role),
		boolToInt(u.Active), boolToInt(u.EmailVerified),
		toMillis(u.UpdatedAt), u.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("update user: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update user rows: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// CreateProfile inserts the role-appropriate profile row. Inserts are
// idempotent so a racing duplicate is not an error.
func (q queries) CreateProfile(ctx context.Context, userID int64, role user.Role) error {
	var table string
	switch role {
	case user.RoleStudent:
		table = "student_profiles"
	case user.RoleTeacher:
		table = "teacher_profiles"
	case user.RoleAdmin:
		return nil
	default:
		return fmt.Errorf("unknown role %q", role)
	}
	_, err := q.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO "+table+" (user_id, created_at) VALUES (?, ?)",
		userID, toMillis(timeNow()),
	)
	if err != nil {
		return fmt.Errorf("insert %s: %w", table, err)
	}
	return nil
}
