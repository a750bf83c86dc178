package passkey

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	apperrors "github.com/olympstage/olympstage/internal/platform/errors"
	"github.com/olympstage/olympstage/internal/platform/id"
	"github.com/olympstage/olympstage/internal/services/auth/account"
	"github.com/olympstage/olympstage/internal/services/auth/storage"
	"github.com/olympstage/olympstage/internal/services/auth/user"
)

var (
	// ErrInvalidResponse indicates the client's WebAuthn response failed
	// parsing or cryptographic validation.
	ErrInvalidResponse = apperrors.New(apperrors.CodeInvalidPasskeyResponse,
		"passkey response is invalid")
	// ErrChallengeNotFound indicates no live challenge matches the response.
	ErrChallengeNotFound = apperrors.New(apperrors.CodePasskeyChallengeNotFound,
		"passkey challenge not found or expired")
	// ErrCredentialConflict indicates the credential id is registered to a
	// different user.
	ErrCredentialConflict = apperrors.New(apperrors.CodePasskeyCredentialConflict,
		"passkey credential is registered to a different account")
	// ErrAccountDisabled indicates the credential's owner is deactivated.
	ErrAccountDisabled = apperrors.New(apperrors.CodeAccountDisabled, "account is disabled")
)

type provider interface {
	BeginRegistration(user webauthn.User, opts ...webauthn.RegistrationOption) (*protocol.CredentialCreation, *webauthn.SessionData, error)
	CreateCredential(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialCreationData) (*webauthn.Credential, error)
	BeginLogin(user webauthn.User, opts ...webauthn.LoginOption) (*protocol.CredentialAssertion, *webauthn.SessionData, error)
	BeginDiscoverableLogin(opts ...webauthn.LoginOption) (*protocol.CredentialAssertion, *webauthn.SessionData, error)
	ValidateLogin(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialAssertionData) (*webauthn.Credential, error)
	ValidatePasskeyLogin(handler webauthn.DiscoverableUserHandler, session webauthn.SessionData, response *protocol.ParsedCredentialAssertionData) (webauthn.User, *webauthn.Credential, error)
}

type parser interface {
	ParseCredentialCreationResponseBytes(data []byte) (*protocol.ParsedCredentialCreationData, error)
	ParseCredentialRequestResponseBytes(data []byte) (*protocol.ParsedCredentialAssertionData, error)
}

type defaultParser struct{}

func (defaultParser) ParseCredentialCreationResponseBytes(data []byte) (*protocol.ParsedCredentialCreationData, error) {
	return protocol.ParseCredentialCreationResponseBytes(data)
}

func (defaultParser) ParseCredentialRequestResponseBytes(data []byte) (*protocol.ParsedCredentialAssertionData, error) {
	return protocol.ParseCredentialRequestResponseBytes(data)
}

// Engine drives WebAuthn ceremonies: single-use challenges, credential
// registration with conflict detection, and assertion validation with
// sign-count replay protection.
type Engine struct {
	db          storage.Database
	provider    provider
	parser      parser
	config      Config
	clock       func() time.Time
	idGenerator func() (string, error)
}

// NewEngine builds a passkey engine for the configured relying party.
func NewEngine(db storage.Database, config Config) (*Engine, error) {
	webAuthn, err := webauthn.New(&webauthn.Config{
		RPDisplayName: config.RPDisplayName,
		RPID:          config.RPID,
		RPOrigins:     config.RPOrigins,
	})
	if err != nil {
		return nil, fmt.Errorf("configure webauthn: %w", err)
	}
	return &Engine{
		db:          db,
		provider:    webAuthn,
		parser:      defaultParser{},
		config:      config,
		clock:       time.Now,
		idGenerator: id.NewID,
	}, nil
}

// WithClock returns an engine using the supplied clock.
func (e *Engine) WithClock(clock func() time.Time) *Engine {
	out := *e
	out.clock = clock
	return &out
}

// passkeyUser adapts a user record and its stored credentials to the
// webauthn.User interface. The WebAuthn user handle is the decimal user id.
type passkeyUser struct {
	user        user.User
	credentials []webauthn.Credential
}

func (u *passkeyUser) WebAuthnID() []byte {
	return []byte(strconv.FormatInt(u.user.ID, 10))
}

func (u *passkeyUser) WebAuthnName() string {
	return u.user.Email
}

func (u *passkeyUser) WebAuthnDisplayName() string {
	if u.user.Name != "" {
		return u.user.Name
	}
	return u.user.Email
}

func (u *passkeyUser) WebAuthnCredentials() []webauthn.Credential {
	return u.credentials
}

func (e *Engine) loadPasskeyUser(ctx context.Context, q storage.Queries, base user.User) (*passkeyUser, error) {
	records, err := q.ListPasskeyCredentials(ctx, base.ID)
	if err != nil {
		return nil, err
	}
	credentials := make([]webauthn.Credential, 0, len(records))
	for _, record := range records {
		credential, err := decodeStoredCredential(record)
		if err != nil {
			return nil, err
		}
		credentials = append(credentials, credential)
	}
	return &passkeyUser{user: base, credentials: credentials}, nil
}

// decodeStoredCredential rebuilds the library credential from stored columns.
// A sign count outside the protocol's unsigned 32-bit range means the row was
// corrupted and the credential must not validate.
func decodeStoredCredential(record storage.PasskeyCredential) (webauthn.Credential, error) {
	if record.SignCount < 0 || record.SignCount > math.MaxUint32 {
		return webauthn.Credential{}, fmt.Errorf("credential %s: sign count %d out of range", record.CredentialID, record.SignCount)
	}
	rawID, err := base64.RawURLEncoding.DecodeString(record.CredentialID)
	if err != nil {
		return webauthn.Credential{}, fmt.Errorf("decode credential id %s: %w", record.CredentialID, err)
	}
	transports := make([]protocol.AuthenticatorTransport, 0, len(record.Transports))
	for _, transport := range record.Transports {
		transports = append(transports, protocol.AuthenticatorTransport(transport))
	}
	return webauthn.Credential{
		ID:        rawID,
		PublicKey: record.PublicKey,
		Transport: transports,
		Flags: webauthn.CredentialFlags{
			BackupEligible: record.BackupEligible,
			BackupState:    record.BackupState,
		},
		Authenticator: webauthn.Authenticator{
			AAGUID:     record.AAGUID,
			SignCount:  uint32(record.SignCount),
			Attachment: protocol.AuthenticatorAttachment(record.Attachment),
		},
	}, nil
}

func encodeCredentialID(raw []byte) string {
	return base64.RawURLEncoding.EncodeToString(raw)
}

// BeginRegistration issues creation options for the user and stores the
// single-use challenge, superseding any prior registration challenge.
func (e *Engine) BeginRegistration(ctx context.Context, owner user.User) (*protocol.CredentialCreation, error) {
	passkeyUser, err := e.loadPasskeyUser(ctx, e.db, owner)
	if err != nil {
		return nil, fmt.Errorf("load passkey user: %w", err)
	}

	options := []webauthn.RegistrationOption{
		webauthn.WithResidentKeyRequirement(protocol.ResidentKeyRequirementRequired),
	}
	if len(passkeyUser.credentials) > 0 {
		options = append(options, webauthn.WithExclusions(webauthn.Credentials(passkeyUser.credentials).CredentialDescriptors()))
	}

	creation, session, err := e.provider.BeginRegistration(passkeyUser, options...)
	if err != nil {
		return nil, fmt.Errorf("begin passkey registration: %w", err)
	}
	if err := e.storeChallenge(ctx, storage.PasskeyFlowRegistration, &owner.ID, session); err != nil {
		return nil, err
	}
	return creation, nil
}

// FinishRegistration validates the attestation response against the user's
// live challenge and persists the new credential.
func (e *Engine) FinishRegistration(ctx context.Context, owner user.User, responseJSON []byte, label string) (storage.PasskeyCredential, error) {
	challenge, err := e.db.GetPasskeyChallengeByUser(ctx, owner.ID, storage.PasskeyFlowRegistration)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.PasskeyCredential{}, ErrChallengeNotFound
		}
		return storage.PasskeyCredential{}, fmt.Errorf("load passkey challenge: %w", err)
	}
	session, err := e.decodeLiveSession(ctx, challenge)
	if err != nil {
		return storage.PasskeyCredential{}, err
	}

	parsed, err := e.parser.ParseCredentialCreationResponseBytes(responseJSON)
	if err != nil {
		return storage.PasskeyCredential{}, ErrInvalidResponse
	}
	passkeyUser, err := e.loadPasskeyUser(ctx, e.db, owner)
	if err != nil {
		return storage.PasskeyCredential{}, fmt.Errorf("load passkey user: %w", err)
	}
	credential, err := e.provider.CreateCredential(passkeyUser, session, parsed)
	if err != nil {
		return storage.PasskeyCredential{}, ErrInvalidResponse
	}

	now := e.clock().UTC()
	record := storage.PasskeyCredential{
		CredentialID:   encodeCredentialID(credential.ID),
		UserID:         owner.ID,
		PublicKey:      credential.PublicKey,
		SignCount:      int64(credential.Authenticator.SignCount),
		Transports:     encodeTransports(credential.Transport),
		AAGUID:         credential.Authenticator.AAGUID,
		Attachment:     string(credential.Authenticator.Attachment),
		BackupEligible: credential.Flags.BackupEligible,
		BackupState:    credential.Flags.BackupState,
		Label:          credentialLabel(label, credential.Authenticator.Attachment),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err = e.db.InTx(ctx, func(q storage.Queries) error {
		existing, err := q.GetPasskeyCredential(ctx, record.CredentialID)
		if err == nil && existing.UserID != owner.ID {
			return ErrCredentialConflict
		}
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("look up credential: %w", err)
		}
		if err := q.PutPasskeyCredential(ctx, record); err != nil {
			return fmt.Errorf("store credential: %w", err)
		}
		return q.DeletePasskeyChallenge(ctx, challenge.ID)
	})
	if err != nil {
		return storage.PasskeyCredential{}, err
	}
	return record, nil
}

// BeginLogin issues assertion options and stores the single-use challenge.
//
// With a known email the options carry the user's credential allow list.
// An empty or unknown email produces discoverable-credential options, so
// callers cannot probe which addresses hold accounts.
func (e *Engine) BeginLogin(ctx context.Context, email string) (*protocol.CredentialAssertion, error) {
	var owner *user.User
	if trimmed := strings.TrimSpace(email); trimmed != "" {
		normalized, err := user.NormalizeEmail(trimmed)
		if err == nil {
			if found, err := e.db.GetUserByEmail(ctx, normalized); err == nil {
				owner = &found
			}
		}
	}

	var (
		assertion *protocol.CredentialAssertion
		session   *webauthn.SessionData
		err       error
		ownerID   *int64
	)
	if owner != nil {
		passkeyUser, loadErr := e.loadPasskeyUser(ctx, e.db, *owner)
		if loadErr != nil {
			return nil, fmt.Errorf("load passkey user: %w", loadErr)
		}
		if len(passkeyUser.credentials) > 0 {
			assertion, session, err = e.provider.BeginLogin(passkeyUser)
			ownerID = &owner.ID
		} else {
			assertion, session, err = e.provider.BeginDiscoverableLogin()
		}
	} else {
		assertion, session, err = e.provider.BeginDiscoverableLogin()
	}
	if err != nil {
		return nil, fmt.Errorf("begin passkey login: %w", err)
	}
	if err := e.storeChallenge(ctx, storage.PasskeyFlowAuthentication, ownerID, session); err != nil {
		return nil, err
	}
	return assertion, nil
}

// FinishLogin validates an assertion response and returns the credential's
// owner. The challenge is located by the challenge value echoed in the signed
// client data, which keeps userless discoverable sign-in possible.
func (e *Engine) FinishLogin(ctx context.Context, responseJSON []byte) (user.User, storage.PasskeyCredential, error) {
	parsed, err := e.parser.ParseCredentialRequestResponseBytes(responseJSON)
	if err != nil {
		return user.User{}, storage.PasskeyCredential{}, ErrInvalidResponse
	}

	challenge, err := e.db.GetPasskeyChallengeByValue(ctx, storage.PasskeyFlowAuthentication, parsed.Response.CollectedClientData.Challenge)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return user.User{}, storage.PasskeyCredential{}, ErrChallengeNotFound
		}
		return user.User{}, storage.PasskeyCredential{}, fmt.Errorf("load passkey challenge: %w", err)
	}
	session, err := e.decodeLiveSession(ctx, challenge)
	if err != nil {
		return user.User{}, storage.PasskeyCredential{}, err
	}

	// Allow-list sessions carry the user handle they were issued for and
	// must validate against that user; the library reserves the
	// discoverable path for sessions with no user id.
	var (
		owner               *passkeyUser
		validatedCredential *webauthn.Credential
	)
	if len(session.UserID) > 0 {
		owner, err = e.resolveUserHandle(ctx, session.UserID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return user.User{}, storage.PasskeyCredential{}, ErrInvalidResponse
			}
			return user.User{}, storage.PasskeyCredential{}, fmt.Errorf("resolve session user: %w", err)
		}
		validatedCredential, err = e.provider.ValidateLogin(owner, session, parsed)
		if err != nil {
			return user.User{}, storage.PasskeyCredential{}, ErrInvalidResponse
		}
	} else {
		validatedUser, credential, err := e.provider.ValidatePasskeyLogin(e.userHandler(ctx), session, parsed)
		if err != nil {
			return user.User{}, storage.PasskeyCredential{}, ErrInvalidResponse
		}
		var ok bool
		owner, ok = validatedUser.(*passkeyUser)
		if !ok {
			return user.User{}, storage.PasskeyCredential{}, fmt.Errorf("unexpected webauthn user type %T", validatedUser)
		}
		validatedCredential = credential
	}
	if validatedCredential.Authenticator.CloneWarning {
		return user.User{}, storage.PasskeyCredential{}, ErrInvalidResponse
	}
	if !owner.user.Active {
		return user.User{}, storage.PasskeyCredential{}, ErrAccountDisabled
	}

	credentialID := encodeCredentialID(validatedCredential.ID)
	now := e.clock().UTC()
	var record storage.PasskeyCredential
	err = e.db.InTx(ctx, func(q storage.Queries) error {
		stored, err := q.GetPasskeyCredential(ctx, credentialID)
		if err != nil {
			return fmt.Errorf("load credential: %w", err)
		}
		// The stored counter only moves forward. The library already flags
		// a non-increasing counter as a clone warning unless both sides are
		// zero, which covers authenticators that never increment.
		if newCount := int64(validatedCredential.Authenticator.SignCount); newCount > stored.SignCount {
			stored.SignCount = newCount
		}
		stored.BackupState = validatedCredential.Flags.BackupState
		stored.LastUsedAt = &now
		stored.UpdatedAt = now
		if err := q.PutPasskeyCredential(ctx, stored); err != nil {
			return fmt.Errorf("update credential: %w", err)
		}
		record = stored
		return q.DeletePasskeyChallenge(ctx, challenge.ID)
	})
	if err != nil {
		return user.User{}, storage.PasskeyCredential{}, err
	}
	return owner.user, record, nil
}

// List returns the user's registered credentials.
func (e *Engine) List(ctx context.Context, userID int64) ([]storage.PasskeyCredential, error) {
	return e.db.ListPasskeyCredentials(ctx, userID)
}

// UpdateLabel renames a credential the user owns.
func (e *Engine) UpdateLabel(ctx context.Context, userID int64, credentialID, label string) error {
	return e.db.InTx(ctx, func(q storage.Queries) error {
		stored, err := q.GetPasskeyCredential(ctx, credentialID)
		if err != nil {
			return err
		}
		if stored.UserID != userID {
			return storage.ErrNotFound
		}
		stored.Label = label
		stored.UpdatedAt = e.clock().UTC()
		return q.PutPasskeyCredential(ctx, stored)
	})
}

// DeleteCredential removes a credential the user owns, unless it is the last
// remaining sign-in method.
func (e *Engine) DeleteCredential(ctx context.Context, userID int64, credentialID string) error {
	return e.db.InTx(ctx, func(q storage.Queries) error {
		stored, err := q.GetPasskeyCredential(ctx, credentialID)
		if err != nil {
			return err
		}
		if stored.UserID != userID {
			return storage.ErrNotFound
		}
		ok, err := account.CanRemove(ctx, q, userID, account.Exclusion{PasskeyID: credentialID})
		if err != nil {
			return err
		}
		if !ok {
			return account.ErrLockoutPrevention
		}
		return q.DeletePasskeyCredential(ctx, credentialID)
	})
}

// storeChallenge persists session data keyed by the challenge value. For
// user-bound flows any prior challenge for the same (user, flow) pair is
// superseded by the store.
func (e *Engine) storeChallenge(ctx context.Context, flow string, userID *int64, session *webauthn.SessionData) error {
	if session == nil {
		return fmt.Errorf("webauthn session data is missing")
	}
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode webauthn session: %w", err)
	}
	challengeID, err := e.idGenerator()
	if err != nil {
		return fmt.Errorf("generate challenge id: %w", err)
	}
	err = e.db.PutPasskeyChallenge(ctx, storage.PasskeyChallenge{
		ID:          challengeID,
		Flow:        flow,
		UserID:      userID,
		Challenge:   session.Challenge,
		SessionJSON: string(payload),
		ExpiresAt:   e.clock().UTC().Add(e.config.ChallengeTTL),
	})
	if err != nil {
		return fmt.Errorf("store passkey challenge: %w", err)
	}
	return nil
}

// decodeLiveSession rejects expired challenges, lazily deleting them, and
// rebuilds the library session.
func (e *Engine) decodeLiveSession(ctx context.Context, challenge storage.PasskeyChallenge) (webauthn.SessionData, error) {
	if !challenge.ExpiresAt.After(e.clock().UTC()) {
		_ = e.db.DeletePasskeyChallenge(ctx, challenge.ID)
		return webauthn.SessionData{}, ErrChallengeNotFound
	}
	var session webauthn.SessionData
	if err := json.Unmarshal([]byte(challenge.SessionJSON), &session); err != nil {
		return webauthn.SessionData{}, fmt.Errorf("decode webauthn session: %w", err)
	}
	return session, nil
}

// resolveUserHandle loads the user and credentials behind a decimal user
// handle, whether echoed by a discoverable credential or stored in an
// allow-list session.
func (e *Engine) resolveUserHandle(ctx context.Context, userHandle []byte) (*passkeyUser, error) {
	userID, err := strconv.ParseInt(string(userHandle), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse user handle: %w", err)
	}
	base, err := e.db.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return e.loadPasskeyUser(ctx, e.db, base)
}

// userHandler resolves the user handle echoed by a discoverable credential.
func (e *Engine) userHandler(ctx context.Context) webauthn.DiscoverableUserHandler {
	return func(_, userHandle []byte) (webauthn.User, error) {
		return e.resolveUserHandle(ctx, userHandle)
	}
}

func encodeTransports(transports []protocol.AuthenticatorTransport) []string {
	if len(transports) == 0 {
		return nil
	}
	out := make([]string, 0, len(transports))
	for _, transport := range transports {
		out = append(out, string(transport))
	}
	return out
}

// credentialLabel falls back to an attachment-derived name when the client
// supplied none.
func credentialLabel(label string, attachment protocol.AuthenticatorAttachment) string {
	if trimmed := strings.TrimSpace(label); trimmed != "" {
		return trimmed
	}
	if attachment == protocol.CrossPlatform {
		return "Security key"
	}
	return "Passkey"
}
