package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/olympstage/olympstage/internal/services/auth/storage"
)

const passkeyCredentialColumns = `credential_id, user_id, public_key, sign_count, transports,
aaguid, attachment, backup_eligible, backup_state, label, created_at, updated_at, last_used_at`

func encodeTransports(transports []string) string {
	return strings.Join(transports, ",")
}

func decodeTransports(value string) []string {
	if value == "" {
		return nil
	}
	return strings.Split(value, ",")
}

type passkeyScanner interface {
	Scan(dest ...any) error
}

func scanPasskeyCredential(scan passkeyScanner) (storage.PasskeyCredential, error) {
	var c storage.PasskeyCredential
	var transports string
	var aaguid []byte
	var backupEligible, backupState int
	var createdAt, updatedAt int64
	var lastUsedAt sql.NullInt64
	err := scan.Scan(
		&c.CredentialID, &c.UserID, &c.PublicKey, &c.SignCount, &transports,
		&aaguid, &c.Attachment, &backupEligible, &backupState, &c.Label,
		&createdAt, &updatedAt, &lastUsedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return storage.PasskeyCredential{}, storage.ErrNotFound
		}
		return storage.PasskeyCredential{}, err
	}
	c.Transports = decodeTransports(transports)
	c.AAGUID = aaguid
	c.BackupEligible = backupEligible != 0
	c.BackupState = backupState != 0
	c.CreatedAt = fromMillis(createdAt)
	c.UpdatedAt = fromMillis(updatedAt)
	if lastUsedAt.Valid {
		value := fromMillis(lastUsedAt.Int64)
		c.LastUsedAt = &value
	}
	return c, nil
}

// PutPasskeyCredential inserts or updates a credential keyed by credential id.
func (q queries) PutPasskeyCredential(ctx context.Context, credential storage.PasskeyCredential) error {
	if strings.TrimSpace(credential.CredentialID) == "" {
		return fmt.Errorf("credential id is required")
	}
	var lastUsedAt any
	if credential.LastUsedAt != nil {
		lastUsedAt = toMillis(*credential.LastUsedAt)
	}
	_, err := q.db.ExecContext(ctx, `
INSERT INTO passkey_credentials (credential_id, user_id, public_key, sign_count, transports,
    aaguid, attachment, backup_eligible, backup_state, label, created_at, updated_at, last_used_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(credential_id) DO UPDATE SET
    public_key = excluded.public_key,
    sign_count = excluded.sign_count,
    transports = excluded.transports,
    attachment = excluded.attachment,
    backup_eligible = excluded.backup_eligible,
    backup_state = excluded.backup_state,
    label = excluded.label,
    updated_at = excluded.updated_at,
    last_used_at = excluded.last_used_at`,
		credential.CredentialID, credential.UserID, credential.PublicKey, credential.SignCount,
		encodeTransports(credential.Transports), credential.AAGUID, credential.Attachment,
		boolToInt(credential.BackupEligible), boolToInt(credential.BackupState), credential.Label,
		toMillis(credential.CreatedAt), toMillis(credential.UpdatedAt), lastUsedAt,
	)
	if err != nil {
		return fmt.Errorf("put passkey credential: %w", err)
	}
	return nil
}

// GetPasskeyCredential loads a credential by its id.
func (q queries) GetPasskeyCredential(ctx context.Context, credentialID string) (storage.PasskeyCredential, error) {
	row := q.db.QueryRowContext(ctx,
		"SELECT "+passkeyCredentialColumns+" FROM passkey_credentials WHERE credential_id = ?",
		credentialID,
	)
	return scanPasskeyCredential(row)
}

// ListPasskeyCredentials returns a user's credentials, oldest first.
func (q queries) ListPasskeyCredentials(ctx context.Context, userID int64) ([]storage.PasskeyCredential, error) {
	rows, err := q.db.QueryContext(ctx,
		"SELECT "+passkeyCredentialColumns+" FROM passkey_credentials WHERE user_id = ? ORDER BY created_at",
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list passkey credentials: %w", err)
	}
	defer rows.Close()

	var credentials []storage.PasskeyCredential
	for rows.Next() {
		credential, err := scanPasskeyCredential(rows)
		if err != nil {
			return nil, err
		}
		credentials = append(credentials, credential)
	}
	return credentials, rows.Err()
}

// DeletePasskeyCredential removes a credential by its id.
func (q queries) DeletePasskeyCredential(ctx context.Context, credentialID string) error {
	result, err := q.db.ExecContext(ctx,
		"DELETE FROM passkey_credentials WHERE credential_id = ?", credentialID)
	if err != nil {
		return fmt.Errorf("delete passkey credential: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete passkey credential rows: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// PutPasskeyChallenge stores a challenge, superseding any prior challenge for
// the same (user, flow) pair.
func (q queries) PutPasskeyChallenge(ctx context.Context, challenge storage.PasskeyChallenge) error {
	if strings.TrimSpace(challenge.ID) == "" {
		return fmt.Errorf("challenge id is required")
	}
	if challenge.UserID != nil {
		if _, err := q.db.ExecContext(ctx,
			"DELETE FROM passkey_challenges WHERE user_id = ? AND flow = ?",
			*challenge.UserID, challenge.Flow,
		); err != nil {
			return fmt.Errorf("supersede passkey challenge: %w", err)
		}
	}
	var userID any
	if challenge.UserID != nil {
		userID = *challenge.UserID
	}
	_, err := q.db.ExecContext(ctx, `
INSERT INTO passkey_challenges (id, flow, user_id, challenge, session_json, expires_at)
VALUES (?, ?, ?, ?, ?, ?)`,
		challenge.ID, challenge.Flow, userID, challenge.Challenge,
		challenge.SessionJSON, toMillis(challenge.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("insert passkey challenge: %w", err)
	}
	return nil
}

func scanPasskeyChallenge(row *sql.Row) (storage.PasskeyChallenge, error) {
	var challenge storage.PasskeyChallenge
	var userID sql.NullInt64
	var expiresAt int64
	err := row.Scan(&challenge.ID, &challenge.Flow, &userID, &challenge.Challenge,
		&challenge.SessionJSON, &expiresAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return storage.PasskeyChallenge{}, storage.ErrNotFound
		}
		return storage.PasskeyChallenge{}, err
	}
	if userID.Valid {
		value := userID.Int64
		challenge.UserID = &value
	}
	challenge.ExpiresAt = fromMillis(expiresAt)
	return challenge, nil
}

// GetPasskeyChallengeByUser loads the stored challenge for a (user, flow) pair.
func (q queries) GetPasskeyChallengeByUser(ctx context.Context, userID int64, flow string) (storage.PasskeyChallenge, error) {
	row := q.db.QueryRowContext(ctx, `
SELECT id, flow, user_id, challenge, session_json, expires_at
FROM passkey_challenges
WHERE user_id = ? AND flow = ?`,
		userID, flow,
	)
	return scanPasskeyChallenge(row)
}

// GetPasskeyChallengeByValue locates a challenge by its value, which is how
// discoverable (userless) authentication finds its stored challenge.
func (q queries) GetPasskeyChallengeByValue(ctx context.Context, flow, challenge string) (storage.PasskeyChallenge, error) {
	row := q.db.QueryRowContext(ctx, `
SELECT id, flow, user_id, challenge, session_json, expires_at
FROM passkey_challenges
WHERE flow = ? AND challenge = ?`,
		flow, challenge,
	)
	return scanPasskeyChallenge(row)
}

// DeletePasskeyChallenge consumes a challenge by id.
func (q queries) DeletePasskeyChallenge(ctx context.Context, id string) error {
	result, err := q.db.ExecContext(ctx, "DELETE FROM passkey_challenges WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete passkey challenge: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete passkey challenge rows: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}
