// Package account links federated identities to users and guards every
// credential removal against locking the owner out.
package account

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/olympstage/olympstage/internal/platform/errors"
	"github.com/olympstage/olympstage/internal/services/auth/oauth"
	"github.com/olympstage/olympstage/internal/services/auth/storage"
	"github.com/olympstage/olympstage/internal/services/auth/user"
)

var (
	// ErrAccountConflict indicates the identity is already linked to another
	// user, or the user already holds a different identity for the provider.
	ErrAccountConflict = apperrors.New(apperrors.CodeOAuthAccountConflict,
		"identity is linked to a different account")
	// ErrNotLinked indicates no link exists for the provider.
	ErrNotLinked = apperrors.New(apperrors.CodeNotLinked, "provider is not linked")
	// ErrLockoutPrevention indicates removal was refused because it would
	// leave the user with no sign-in method.
	ErrLockoutPrevention = apperrors.New(apperrors.CodeLockoutPrevention,
		"removing the last sign-in method is not allowed")
	// ErrAccountDisabled indicates the resolved account is deactivated.
	ErrAccountDisabled = apperrors.New(apperrors.CodeAccountDisabled, "account is disabled")
)

// Defaults fills user fields the identity does not carry when a sign-in
// creates a new account.
type Defaults struct {
	Role user.Role
	Name string
}

// Exclusion names the credential a lockout check should pretend is already
// gone. Zero values exclude nothing.
type Exclusion struct {
	Provider  string
	PasskeyID string
}

// Engine runs identity upsert, link and unlink flows atomically.
type Engine struct {
	db    storage.Database
	clock func() time.Time
}

// NewEngine builds an account engine over the database.
func NewEngine(db storage.Database) *Engine {
	return &Engine{db: db, clock: time.Now}
}

// WithClock returns an engine using the supplied clock.
func (e *Engine) WithClock(clock func() time.Time) *Engine {
	out := *e
	out.clock = clock
	return &out
}

// UpsertFromIdentity resolves a verified identity to a user, creating the
// user and the link as needed.
//
// An existing link wins outright. Otherwise the identity's email decides:
// a matching user gets the link (and is marked verified, since the provider
// vouched for the address), and an unknown email creates a fresh account.
// Disabled accounts are rejected before any state changes.
func (e *Engine) UpsertFromIdentity(ctx context.Context, provider string, identity oauth.Identity, defaults Defaults) (user.User, error) {
	var out user.User
	err := e.db.InTx(ctx, func(q storage.Queries) error {
		linked, err := q.GetAuthAccount(ctx, provider, identity.ProviderAccountID)
		if err == nil {
			owner, err := q.GetUser(ctx, linked.UserID)
			if err != nil {
				return fmt.Errorf("load linked user: %w", err)
			}
			if !owner.Active {
				return ErrAccountDisabled
			}
			out = owner
			return nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("look up identity link: %w", err)
		}

		email, err := user.NormalizeEmail(identity.Email)
		if err != nil {
			return err
		}
		now := e.clock().UTC()

		existing, err := q.GetUserByEmail(ctx, email)
		switch {
		case err == nil:
			if !existing.Active {
				return ErrAccountDisabled
			}
			if !existing.EmailVerified {
				existing.EmailVerified = true
				existing.UpdatedAt = now
				if err := q.UpdateUser(ctx, existing); err != nil {
					return fmt.Errorf("mark email verified: %w", err)
				}
			}
			out = existing
		case errors.Is(err, storage.ErrNotFound):
			name := identity.Name
			if name == "" {
				name = defaults.Name
			}
			created := user.User{
				Email:         email,
				Name:          name,
				Role:          defaults.Role,
				Active:        true,
				EmailVerified: true,
				CreatedAt:     now,
				UpdatedAt:     now,
			}
			id, err := q.CreateUser(ctx, created)
			if err != nil {
				return fmt.Errorf("create user: %w", err)
			}
			created.ID = id
			if err := q.CreateProfile(ctx, id, created.Role); err != nil {
				return fmt.Errorf("create profile: %w", err)
			}
			out = created
		default:
			return fmt.Errorf("look up user by email: %w", err)
		}

		return e.createLink(ctx, q, provider, identity.ProviderAccountID, out.ID, now)
	})
	if err != nil {
		return user.User{}, err
	}
	return out, nil
}

// Link attaches a verified identity to an existing user. Linking the same
// identity twice is a no-op.
func (e *Engine) Link(ctx context.Context, userID int64, provider string, identity oauth.Identity) error {
	return e.db.InTx(ctx, func(q storage.Queries) error {
		if _, err := q.GetUser(ctx, userID); err != nil {
			return fmt.Errorf("load user: %w", err)
		}
		return e.createLink(ctx, q, provider, identity.ProviderAccountID, userID, e.clock().UTC())
	})
}

// createLink inserts the link, resolving unique-constraint races. A conflict
// on the identity pair that already points at this user is absorbed; every
// other conflict means the identity or the provider slot belongs elsewhere.
func (e *Engine) createLink(ctx context.Context, q storage.Queries, provider, providerAccountID string, userID int64, now time.Time) error {
	err := q.CreateAuthAccount(ctx, storage.AuthAccount{
		Provider:          provider,
		ProviderAccountID: providerAccountID,
		UserID:            userID,
		CreatedAt:         now,
	})
	if err == nil {
		return nil
	}
	if !errors.Is(err, storage.ErrConflict) {
		return fmt.Errorf("create identity link: %w", err)
	}
	current, getErr := q.GetAuthAccount(ctx, provider, providerAccountID)
	if getErr == nil && current.UserID == userID {
		return nil
	}
	return ErrAccountConflict
}

// Unlink removes a provider link, refusing when the link does not exist or
// when removing it would strand the user without a sign-in method.
func (e *Engine) Unlink(ctx context.Context, userID int64, provider string) error {
	return e.db.InTx(ctx, func(q storage.Queries) error {
		accounts, err := q.ListAuthAccountsByUser(ctx, userID)
		if err != nil {
			return fmt.Errorf("list identity links: %w", err)
		}
		linked := false
		for _, account := range accounts {
			if account.Provider == provider {
				linked = true
				break
			}
		}
		if !linked {
			return ErrNotLinked
		}
		ok, err := CanRemove(ctx, q, userID, Exclusion{Provider: provider})
		if err != nil {
			return err
		}
		if !ok {
			return ErrLockoutPrevention
		}
		return q.DeleteAuthAccount(ctx, provider, userID)
	})
}

// CanRemove reports whether the user keeps at least one sign-in method after
// the excluded credential is gone. Usable methods are a password hash, a
// passkey, or a provider link.
func CanRemove(ctx context.Context, q storage.Queries, userID int64, exclude Exclusion) (bool, error) {
	u, err := q.GetUser(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("load user: %w", err)
	}
	if u.HasPassword() {
		return true, nil
	}
	credentials, err := q.ListPasskeyCredentials(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("list passkeys: %w", err)
	}
	for _, credential := range credentials {
		if credential.CredentialID != exclude.PasskeyID {
			return true, nil
		}
	}
	accounts, err := q.ListAuthAccountsByUser(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("list identity links: %w", err)
	}
	for _, account := range accounts {
		if account.Provider != exclude.Provider {
			return true, nil
		}
	}
	return false, nil
}
