package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/olympstage/olympstage/internal/services/auth/storage"
)

// GetAuthAccount loads an OAuth link by its (provider, provider account id) pair.
func (q queries) GetAuthAccount(ctx context.Context, provider, providerAccountID string) (storage.AuthAccount, error) {
	row := q.db.QueryRowContext(ctx, `
SELECT provider, provider_account_id, user_id, created_at
FROM auth_accounts
WHERE provider = ? AND provider_account_id = ?`,
		provider, providerAccountID,
	)
	var account storage.AuthAccount
	var createdAt int64
	if err := row.Scan(&account.Provider, &account.ProviderAccountID, &account.UserID, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return storage.AuthAccount{}, storage.ErrNotFound
		}
		return storage.AuthAccount{}, err
	}
	account.CreatedAt = fromMillis(createdAt)
	return account, nil
}

// ListAuthAccountsByUser returns every OAuth link held by a user.
func (q queries) ListAuthAccountsByUser(ctx context.Context, userID int64) ([]storage.AuthAccount, error) {
	rows, err := q.db.QueryContext(ctx, `
SELECT provider, provider_account_id, user_id, created_at
FROM auth_accounts
WHERE user_id = ?
ORDER BY created_at`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list auth accounts: %w", err)
	}
	defer rows.Close()

	var accounts []storage.AuthAccount
	for rows.Next() {
		var account storage.AuthAccount
		var createdAt int64
		if err := rows.Scan(&account.Provider, &account.ProviderAccountID, &account.UserID, &createdAt); err != nil {
			return nil, err
		}
		account.CreatedAt = fromMillis(createdAt)
		accounts = append(accounts, account)
	}
	return accounts, rows.Err()
}

// CreateAuthAccount inserts an OAuth link. Unique constraints arbitrate
// concurrent creation; violations surface as ErrConflict.
func (q queries) CreateAuthAccount(ctx context.Context, account storage.AuthAccount) error {
	if strings.TrimSpace(account.Provider) == "" || strings.TrimSpace(account.ProviderAccountID) == "" {
		return fmt.Errorf("provider and provider account id are required")
	}
	_, err := q.db.ExecContext(ctx, `
INSERT INTO auth_accounts (provider, provider_account_id, user_id, created_at)
VALUES (?, ?, ?, ?)`,
		account.Provider, account.ProviderAccountID, account.UserID, toMillis(account.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("insert auth account: %w", err)
	}
	return nil
}

// DeleteAuthAccount removes a user's link for one provider.
func (q queries) DeleteAuthAccount(ctx context.Context, provider string, userID int64) error {
	result, err := q.db.ExecContext(ctx,
		"DELETE FROM auth_accounts WHERE provider = ? AND user_id = ?",
		provider, userID,
	)
	if err != nil {
		return fmt.Errorf("delete auth account: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete auth account rows: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}
