// Package storage defines persistence interfaces for the auth service.
package storage

import (
	"context"
	"time"

	"github.com/olympstage/olympstage/internal/platform/errors"
	"github.com/olympstage/olympstage/internal/services/auth/user"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New(errors.CodeNotFound, "record not found")

// ErrConflict indicates a unique constraint rejected a write. Engines treat
// it as an expected race outcome, not a server error.
var ErrConflict = errors.New(errors.CodeUnknown, "record already exists")

// AuthAccount links a federated identity to a user. One user holds at most
// one link per provider; one (provider, provider account id) pair maps to at
// most one user.
type AuthAccount struct {
	Provider          string
	ProviderAccountID string
	UserID            int64
	CreatedAt         time.Time
}

// PasskeyCredential stores a WebAuthn credential for a user.
type PasskeyCredential struct {
	CredentialID   string // base64url-encoded raw credential id
	UserID         int64
	PublicKey      []byte
	SignCount      int64
	Transports     []string
	AAGUID         []byte
	Attachment     string
	BackupEligible bool
	BackupState    bool
	Label          string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastUsedAt     *time.Time
}

// Passkey challenge flows.
const (
	PasskeyFlowRegistration   = "registration"
	PasskeyFlowAuthentication = "authentication"
)

// PasskeyChallenge stores a single-use WebAuthn challenge. UserID is nil for
// discoverable-credential authentication.
type PasskeyChallenge struct {
	ID          string
	Flow        string
	UserID      *int64
	Challenge   string
	SessionJSON string
	ExpiresAt   time.Time
}

// OTP purposes.
const (
	OTPPurposeVerifyEmail   = "verify_email"
	OTPPurposeResetPassword = "reset_password"
	OTPPurposeChangeEmail   = "change_email"
)

// EmailOTP is one row of the one-time-passcode ledger. A consumed row is
// terminal and never reused.
type EmailOTP struct {
	ID          string
	UserID      int64
	Email       string
	Purpose     string
	Code        string
	Attempts    int
	MaxAttempts int
	ExpiresAt   time.Time
	ConsumedAt  *time.Time
	CreatedAt   time.Time
}

// UserStore persists auth user records.
type UserStore interface {
	// CreateUser inserts a user and returns its assigned id.
	// Returns ErrConflict when the normalized email is already taken.
	CreateUser(ctx context.Context, u user.User) (int64, error)
	GetUser(ctx context.Context, userID int64) (user.User, error)
	GetUserByEmail(ctx context.Context, email string) (user.User, error)
	UpdateUser(ctx context.Context, u user.User) error
	// CreateProfile inserts the role-appropriate profile row for a new user.
	CreateProfile(ctx context.Context, userID int64, role user.Role) error
}

// AuthAccountStore persists OAuth identity links.
type AuthAccountStore interface {
	GetAuthAccount(ctx context.Context, provider, providerAccountID string) (AuthAccount, error)
	ListAuthAccountsByUser(ctx context.Context, userID int64) ([]AuthAccount, error)
	// CreateAuthAccount returns ErrConflict when the (provider, provider
	// account id) pair or the (provider, user) pair already exists.
	CreateAuthAccount(ctx context.Context, account AuthAccount) error
	DeleteAuthAccount(ctx context.Context, provider string, userID int64) error
}

// PasskeyStore persists WebAuthn credential and challenge data.
type PasskeyStore interface {
	// PutPasskeyCredential inserts or updates by credential id.
	PutPasskeyCredential(ctx context.Context, credential PasskeyCredential) error
	GetPasskeyCredential(ctx context.Context, credentialID string) (PasskeyCredential, error)
	ListPasskeyCredentials(ctx context.Context, userID int64) ([]PasskeyCredential, error)
	DeletePasskeyCredential(ctx context.Context, credentialID string) error

	// PutPasskeyChallenge stores a challenge, superseding any prior challenge
	// for the same (user, flow) pair.
	PutPasskeyChallenge(ctx context.Context, challenge PasskeyChallenge) error
	GetPasskeyChallengeByUser(ctx context.Context, userID int64, flow string) (PasskeyChallenge, error)
	GetPasskeyChallengeByValue(ctx context.Context, flow, challenge string) (PasskeyChallenge, error)
	DeletePasskeyChallenge(ctx context.Context, id string) error
}

// OTPStore persists the one-time-passcode ledger.
type OTPStore interface {
	CreateOTP(ctx context.Context, otp EmailOTP) error
	// LatestActiveOTP returns the most recently created unconsumed row for
	// the (purpose, email) pair, or ErrNotFound.
	LatestActiveOTP(ctx context.Context, purpose, email string) (EmailOTP, error)
	UpdateOTP(ctx context.Context, otp EmailOTP) error
}

// Queries bundles the row-level operations available inside one transaction.
type Queries interface {
	UserStore
	AuthAccountStore
	PasskeyStore
	OTPStore
}

// Database is the unit-of-work capability engines receive: direct queries in
// auto-commit mode plus InTx, which runs fn atomically. Implementations must
// serialize concurrent InTx writers so read-then-write sequences (the OTP
// consume path) behave like select-for-update.
type Database interface {
	Queries
	InTx(ctx context.Context, fn func(q Queries) error) error
}
