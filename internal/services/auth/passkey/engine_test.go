package passkey

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/olympstage/olympstage/internal/services/auth/account"
	"github.com/olympstage/olympstage/internal/services/auth/storage"
	"github.com/olympstage/olympstage/internal/services/auth/storage/storagetest"
	"github.com/olympstage/olympstage/internal/services/auth/user"
)

var testStart = time.Date(2026, time.March, 14, 9, 0, 0, 0, time.UTC)

type fakeProvider struct {
	challenge            string
	credential           *webauthn.Credential
	beginLoginCalls      int
	discoverableCalls    int
	validateLoginCalls   int
	validatePasskeyCalls int
	validateErr          error
	beginRegistrationErr error
}

func (f *fakeProvider) session() *webauthn.SessionData {
	return &webauthn.SessionData{Challenge: f.challenge}
}

func (f *fakeProvider) BeginRegistration(user webauthn.User, opts ...webauthn.RegistrationOption) (*protocol.CredentialCreation, *webauthn.SessionData, error) {
	if f.beginRegistrationErr != nil {
		return nil, nil, f.beginRegistrationErr
	}
	return &protocol.CredentialCreation{}, f.session(), nil
}

func (f *fakeProvider) CreateCredential(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialCreationData) (*webauthn.Credential, error) {
	if f.credential == nil {
		return nil, errors.New("no credential configured")
	}
	return f.credential, nil
}

func (f *fakeProvider) BeginLogin(user webauthn.User, opts ...webauthn.LoginOption) (*protocol.CredentialAssertion, *webauthn.SessionData, error) {
	f.beginLoginCalls++
	session := f.session()
	session.UserID = user.WebAuthnID()
	return &protocol.CredentialAssertion{}, session, nil
}

func (f *fakeProvider) BeginDiscoverableLogin(opts ...webauthn.LoginOption) (*protocol.CredentialAssertion, *webauthn.SessionData, error) {
	f.discoverableCalls++
	return &protocol.CredentialAssertion{}, f.session(), nil
}

// validatedCredential mirrors the library's counter handling: a reported
// count at or below the stored one raises the clone warning unless both are
// zero, and the returned credential carries the reported count.
func (f *fakeProvider) validatedCredential(owner webauthn.User) (*webauthn.Credential, error) {
	if f.credential == nil {
		return nil, errors.New("no credential configured")
	}
	out := *f.credential
	reported := f.credential.Authenticator.SignCount
	for _, stored := range owner.WebAuthnCredentials() {
		if !bytes.Equal(stored.ID, f.credential.ID) {
			continue
		}
		storedCount := stored.Authenticator.SignCount
		if reported <= storedCount && (reported != 0 || storedCount != 0) {
			out.Authenticator.CloneWarning = true
		}
	}
	return &out, nil
}

func (f *fakeProvider) ValidateLogin(owner webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialAssertionData) (*webauthn.Credential, error) {
	f.validateLoginCalls++
	if !bytes.Equal(session.UserID, owner.WebAuthnID()) {
		return nil, errors.New("session is not bound to this user")
	}
	if f.validateErr != nil {
		return nil, f.validateErr
	}
	return f.validatedCredential(owner)
}

func (f *fakeProvider) ValidatePasskeyLogin(handler webauthn.DiscoverableUserHandler, session webauthn.SessionData, response *protocol.ParsedCredentialAssertionData) (webauthn.User, *webauthn.Credential, error) {
	f.validatePasskeyCalls++
	// The library refuses user-bound sessions on the discoverable path.
	if len(session.UserID) != 0 {
		return nil, nil, errors.New("session was not initiated as a client-side discoverable login")
	}
	if f.validateErr != nil {
		return nil, nil, f.validateErr
	}
	validated, err := handler(response.RawID, response.Response.UserHandle)
	if err != nil {
		return nil, nil, err
	}
	credential, err := f.validatedCredential(validated)
	if err != nil {
		return nil, nil, err
	}
	return validated, credential, nil
}

type fakeParser struct {
	assertion *protocol.ParsedCredentialAssertionData
	parseErr  error
}

func (f *fakeParser) ParseCredentialCreationResponseBytes(_ []byte) (*protocol.ParsedCredentialCreationData, error) {
	if f.parseErr != nil {
		return nil, f.parseErr
	}
	return &protocol.ParsedCredentialCreationData{}, nil
}

func (f *fakeParser) ParseCredentialRequestResponseBytes(_ []byte) (*protocol.ParsedCredentialAssertionData, error) {
	if f.parseErr != nil {
		return nil, f.parseErr
	}
	return f.assertion, nil
}

func assertionFor(challenge string, userID int64) *protocol.ParsedCredentialAssertionData {
	assertion := &protocol.ParsedCredentialAssertionData{}
	assertion.Response.CollectedClientData.Challenge = challenge
	assertion.Response.UserHandle = []byte(strconv.FormatInt(userID, 10))
	return assertion
}

type testEngine struct {
	*Engine
	db       *storagetest.Memory
	provider *fakeProvider
	parser   *fakeParser
	now      *time.Time
}

func newTestEngine(t *testing.T) *testEngine {
	t.Helper()
	db := storagetest.NewMemory()
	fp := &fakeProvider{challenge: "challenge-1"}
	fparser := &fakeParser{}
	now := testStart
	nextID := 0
	engine := &Engine{
		db:       db,
		provider: fp,
		parser:   fparser,
		config:   Config{RPID: "localhost", ChallengeTTL: 5 * time.Minute},
		clock:    func() time.Time { return now },
		idGenerator: func() (string, error) {
			nextID++
			return fmt.Sprintf("challenge-row-%d", nextID), nil
		},
	}
	return &testEngine{Engine: engine, db: db, provider: fp, parser: fparser, now: &now}
}

func (e *testEngine) seedUser(t *testing.T, u user.User) user.User {
	t.Helper()
	id, err := e.db.CreateUser(context.Background(), u)
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	u.ID = id
	return u
}

// seedCredential stores a credential for the user and configures the fake
// provider to return the matching library credential on validation.
func (e *testEngine) seedCredential(t *testing.T, userID int64, signCount int64) storage.PasskeyCredential {
	t.Helper()
	record := storage.PasskeyCredential{
		CredentialID: encodeCredentialID([]byte("raw-cred-1")),
		UserID:       userID,
		PublicKey:    []byte("public-key"),
		SignCount:    signCount,
		Label:        "Passkey",
		CreatedAt:    testStart.Add(-time.Hour),
		UpdatedAt:    testStart.Add(-time.Hour),
	}
	if err := e.db.PutPasskeyCredential(context.Background(), record); err != nil {
		t.Fatalf("seed credential: %v", err)
	}
	e.provider.credential = &webauthn.Credential{
		ID:            []byte("raw-cred-1"),
		PublicKey:     record.PublicKey,
		Authenticator: webauthn.Authenticator{SignCount: uint32(signCount)},
	}
	return record
}

func TestBeginRegistrationStoresChallenge(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)
	owner := engine.seedUser(t, user.User{Email: "runner@example.com", Role: user.RoleStudent, Active: true})

	creation, err := engine.BeginRegistration(ctx, owner)
	if err != nil {
		t.Fatalf("BeginRegistration: %v", err)
	}
	if creation == nil {
		t.Fatal("expected creation options")
	}
	challenge, err := engine.db.GetPasskeyChallengeByUser(ctx, owner.ID, storage.PasskeyFlowRegistration)
	if err != nil {
		t.Fatalf("GetPasskeyChallengeByUser: %v", err)
	}
	if challenge.Challenge != "challenge-1" {
		t.Errorf("challenge = %q", challenge.Challenge)
	}
	if want := testStart.Add(5 * time.Minute); !challenge.ExpiresAt.Equal(want) {
		t.Errorf("expires at = %v, want %v", challenge.ExpiresAt, want)
	}

	// A second ceremony supersedes the first challenge.
	engine.provider.challenge = "challenge-2"
	if _, err := engine.BeginRegistration(ctx, owner); err != nil {
		t.Fatalf("second BeginRegistration: %v", err)
	}
	challenge, err = engine.db.GetPasskeyChallengeByUser(ctx, owner.ID, storage.PasskeyFlowRegistration)
	if err != nil {
		t.Fatalf("GetPasskeyChallengeByUser: %v", err)
	}
	if challenge.Challenge != "challenge-2" {
		t.Errorf("challenge = %q, want superseding value", challenge.Challenge)
	}
}

func TestFinishRegistration(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)
	owner := engine.seedUser(t, user.User{Email: "runner@example.com", Role: user.RoleStudent, Active: true})
	engine.provider.credential = &webauthn.Credential{
		ID:        []byte("raw-cred-1"),
		PublicKey: []byte("public-key"),
		Transport: []protocol.AuthenticatorTransport{protocol.Internal},
		Flags:     webauthn.CredentialFlags{BackupEligible: true},
		Authenticator: webauthn.Authenticator{
			AAGUID:     []byte("aaguid"),
			Attachment: protocol.Platform,
		},
	}
	if _, err := engine.BeginRegistration(ctx, owner); err != nil {
		t.Fatalf("BeginRegistration: %v", err)
	}

	record, err := engine.FinishRegistration(ctx, owner, []byte(`{}`), "")
	if err != nil {
		t.Fatalf("FinishRegistration: %v", err)
	}
	if record.CredentialID != encodeCredentialID([]byte("raw-cred-1")) {
		t.Errorf("credential id = %q", record.CredentialID)
	}
	if record.Label != "Passkey" {
		t.Errorf("label = %q, want attachment default", record.Label)
	}
	if !record.BackupEligible {
		t.Error("backup eligible flag not carried")
	}
	stored, err := engine.db.GetPasskeyCredential(ctx, record.CredentialID)
	if err != nil {
		t.Fatalf("GetPasskeyCredential: %v", err)
	}
	if stored.UserID != owner.ID {
		t.Errorf("owner = %d, want %d", stored.UserID, owner.ID)
	}
	if _, err := engine.db.GetPasskeyChallengeByUser(ctx, owner.ID, storage.PasskeyFlowRegistration); !errors.Is(err, storage.ErrNotFound) {
		t.Error("challenge should be consumed")
	}
	// The consumed challenge cannot finish a second ceremony.
	if _, err := engine.FinishRegistration(ctx, owner, []byte(`{}`), ""); !errors.Is(err, ErrChallengeNotFound) {
		t.Fatalf("replay err = %v, want ErrChallengeNotFound", err)
	}
}

func TestFinishRegistrationExpiredChallenge(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)
	owner := engine.seedUser(t, user.User{Email: "runner@example.com", Role: user.RoleStudent, Active: true})
	engine.provider.credential = &webauthn.Credential{ID: []byte("raw-cred-1")}
	if _, err := engine.BeginRegistration(ctx, owner); err != nil {
		t.Fatalf("BeginRegistration: %v", err)
	}

	*engine.now = testStart.Add(6 * time.Minute)
	if _, err := engine.FinishRegistration(ctx, owner, []byte(`{}`), ""); !errors.Is(err, ErrChallengeNotFound) {
		t.Fatalf("err = %v, want ErrChallengeNotFound", err)
	}
	if _, err := engine.db.GetPasskeyChallengeByUser(ctx, owner.ID, storage.PasskeyFlowRegistration); !errors.Is(err, storage.ErrNotFound) {
		t.Error("expired challenge should be deleted")
	}
}

func TestFinishRegistrationForeignCredential(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)
	other := engine.seedUser(t, user.User{Email: "other@example.com", Role: user.RoleStudent, Active: true})
	owner := engine.seedUser(t, user.User{Email: "runner@example.com", Role: user.RoleStudent, Active: true})
	engine.seedCredential(t, other.ID, 0)

	if _, err := engine.BeginRegistration(ctx, owner); err != nil {
		t.Fatalf("BeginRegistration: %v", err)
	}
	_, err := engine.FinishRegistration(ctx, owner, []byte(`{}`), "")
	if !errors.Is(err, ErrCredentialConflict) {
		t.Fatalf("err = %v, want ErrCredentialConflict", err)
	}
}

func TestFinishRegistrationCustomLabel(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)
	owner := engine.seedUser(t, user.User{Email: "runner@example.com", Role: user.RoleStudent, Active: true})
	engine.provider.credential = &webauthn.Credential{
		ID:            []byte("raw-cred-1"),
		Authenticator: webauthn.Authenticator{Attachment: protocol.CrossPlatform},
	}
	if _, err := engine.BeginRegistration(ctx, owner); err != nil {
		t.Fatalf("BeginRegistration: %v", err)
	}

	record, err := engine.FinishRegistration(ctx, owner, []byte(`{}`), "  Work YubiKey  ")
	if err != nil {
		t.Fatalf("FinishRegistration: %v", err)
	}
	if record.Label != "Work YubiKey" {
		t.Errorf("label = %q", record.Label)
	}
}

func TestBeginLoginKnownEmail(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)
	owner := engine.seedUser(t, user.User{Email: "runner@example.com", Role: user.RoleStudent, Active: true})
	engine.seedCredential(t, owner.ID, 0)

	if _, err := engine.BeginLogin(ctx, "runner@example.com"); err != nil {
		t.Fatalf("BeginLogin: %v", err)
	}
	if engine.provider.beginLoginCalls != 1 || engine.provider.discoverableCalls != 0 {
		t.Errorf("calls = %d allow-list, %d discoverable", engine.provider.beginLoginCalls, engine.provider.discoverableCalls)
	}
	challenge, err := engine.db.GetPasskeyChallengeByValue(ctx, storage.PasskeyFlowAuthentication, "challenge-1")
	if err != nil {
		t.Fatalf("GetPasskeyChallengeByValue: %v", err)
	}
	if challenge.UserID == nil || *challenge.UserID != owner.ID {
		t.Errorf("challenge user = %v, want %d", challenge.UserID, owner.ID)
	}
}

func TestBeginLoginUnknownEmailIsDiscoverable(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)

	for _, email := range []string{"", "nobody@example.com", "not-an-email"} {
		if _, err := engine.BeginLogin(ctx, email); err != nil {
			t.Fatalf("BeginLogin(%q): %v", email, err)
		}
	}
	if engine.provider.beginLoginCalls != 0 || engine.provider.discoverableCalls != 3 {
		t.Errorf("calls = %d allow-list, %d discoverable", engine.provider.beginLoginCalls, engine.provider.discoverableCalls)
	}
	challenge, err := engine.db.GetPasskeyChallengeByValue(ctx, storage.PasskeyFlowAuthentication, "challenge-1")
	if err != nil {
		t.Fatalf("GetPasskeyChallengeByValue: %v", err)
	}
	if challenge.UserID != nil {
		t.Errorf("challenge user = %v, want nil", *challenge.UserID)
	}
}

func TestFinishLogin(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)
	owner := engine.seedUser(t, user.User{Email: "runner@example.com", Role: user.RoleStudent, Active: true})
	seeded := engine.seedCredential(t, owner.ID, 5)
	engine.provider.credential.Authenticator.SignCount = 7
	if _, err := engine.BeginLogin(ctx, ""); err != nil {
		t.Fatalf("BeginLogin: %v", err)
	}
	engine.parser.assertion = assertionFor("challenge-1", owner.ID)

	got, record, err := engine.FinishLogin(ctx, []byte(`{}`))
	if err != nil {
		t.Fatalf("FinishLogin: %v", err)
	}
	if got.ID != owner.ID {
		t.Errorf("user = %d, want %d", got.ID, owner.ID)
	}
	if record.SignCount != 7 {
		t.Errorf("sign count = %d, want 7", record.SignCount)
	}
	stored, err := engine.db.GetPasskeyCredential(ctx, seeded.CredentialID)
	if err != nil {
		t.Fatalf("GetPasskeyCredential: %v", err)
	}
	if stored.LastUsedAt == nil || !stored.LastUsedAt.Equal(testStart) {
		t.Errorf("last used = %v", stored.LastUsedAt)
	}
	if _, err := engine.db.GetPasskeyChallengeByValue(ctx, storage.PasskeyFlowAuthentication, "challenge-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Error("challenge should be consumed")
	}
	// The consumed challenge cannot validate a second assertion.
	if _, _, err := engine.FinishLogin(ctx, []byte(`{}`)); !errors.Is(err, ErrChallengeNotFound) {
		t.Fatalf("replay err = %v, want ErrChallengeNotFound", err)
	}
}

func TestFinishLoginEmailScoped(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)
	owner := engine.seedUser(t, user.User{Email: "runner@example.com", Role: user.RoleStudent, Active: true})
	seeded := engine.seedCredential(t, owner.ID, 5)
	engine.provider.credential.Authenticator.SignCount = 7
	if _, err := engine.BeginLogin(ctx, "runner@example.com"); err != nil {
		t.Fatalf("BeginLogin: %v", err)
	}
	engine.parser.assertion = assertionFor("challenge-1", owner.ID)

	got, record, err := engine.FinishLogin(ctx, []byte(`{}`))
	if err != nil {
		t.Fatalf("FinishLogin: %v", err)
	}
	if got.ID != owner.ID {
		t.Errorf("user = %d, want %d", got.ID, owner.ID)
	}
	if record.SignCount != 7 {
		t.Errorf("sign count = %d, want 7", record.SignCount)
	}
	// The user-bound session validates against its user, never through the
	// discoverable path.
	if engine.provider.validateLoginCalls != 1 || engine.provider.validatePasskeyCalls != 0 {
		t.Errorf("calls = %d user-bound, %d discoverable", engine.provider.validateLoginCalls, engine.provider.validatePasskeyCalls)
	}
	if _, err := engine.db.GetPasskeyCredential(ctx, seeded.CredentialID); err != nil {
		t.Fatalf("GetPasskeyCredential: %v", err)
	}
	if _, err := engine.db.GetPasskeyChallengeByValue(ctx, storage.PasskeyFlowAuthentication, "challenge-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Error("challenge should be consumed")
	}
}

func TestBeginLoginEmailScopedRealProvider(t *testing.T) {
	ctx := context.Background()
	db := storagetest.NewMemory()
	engine, err := NewEngine(db, Config{
		RPDisplayName: "OlympStage",
		RPID:          "localhost",
		RPOrigins:     []string{"http://localhost:8080"},
		ChallengeTTL:  5 * time.Minute,
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	ownerID, err := db.CreateUser(ctx, user.User{Email: "runner@example.com", Role: user.RoleStudent, Active: true})
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	record := storage.PasskeyCredential{
		CredentialID: encodeCredentialID([]byte("raw-cred-1")),
		UserID:       ownerID,
		PublicKey:    []byte("public-key"),
		Label:        "Passkey",
		CreatedAt:    testStart,
		UpdatedAt:    testStart,
	}
	if err := db.PutPasskeyCredential(ctx, record); err != nil {
		t.Fatalf("seed credential: %v", err)
	}

	assertion, err := engine.BeginLogin(ctx, "runner@example.com")
	if err != nil {
		t.Fatalf("BeginLogin: %v", err)
	}
	if len(assertion.Response.AllowedCredentials) != 1 {
		t.Fatalf("allow list = %d entries, want 1", len(assertion.Response.AllowedCredentials))
	}
	if !bytes.Equal(assertion.Response.AllowedCredentials[0].CredentialID, []byte("raw-cred-1")) {
		t.Errorf("allowed credential id = %v", assertion.Response.AllowedCredentials[0].CredentialID)
	}

	challenge, err := db.GetPasskeyChallengeByUser(ctx, ownerID, storage.PasskeyFlowAuthentication)
	if err != nil {
		t.Fatalf("GetPasskeyChallengeByUser: %v", err)
	}
	var session webauthn.SessionData
	if err := json.Unmarshal([]byte(challenge.SessionJSON), &session); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	// The library binds allow-list sessions to the user handle, which is
	// what routes verification through the user-bound path.
	if string(session.UserID) != strconv.FormatInt(ownerID, 10) {
		t.Errorf("session user handle = %q, want %d", session.UserID, ownerID)
	}
}

func TestFinishLoginRegressedCounterRejected(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)
	owner := engine.seedUser(t, user.User{Email: "runner@example.com", Role: user.RoleStudent, Active: true})
	seeded := engine.seedCredential(t, owner.ID, 5)
	// A counter at or below the stored value signals a cloned or replayed
	// authenticator; the assertion must not validate.
	engine.provider.credential.Authenticator.SignCount = 3
	if _, err := engine.BeginLogin(ctx, ""); err != nil {
		t.Fatalf("BeginLogin: %v", err)
	}
	engine.parser.assertion = assertionFor("challenge-1", owner.ID)

	if _, _, err := engine.FinishLogin(ctx, []byte(`{}`)); !errors.Is(err, ErrInvalidResponse) {
		t.Fatalf("err = %v, want ErrInvalidResponse", err)
	}
	stored, err := engine.db.GetPasskeyCredential(ctx, seeded.CredentialID)
	if err != nil {
		t.Fatalf("GetPasskeyCredential: %v", err)
	}
	if stored.SignCount != 5 {
		t.Errorf("sign count = %d, want unchanged 5", stored.SignCount)
	}
	if stored.LastUsedAt != nil {
		t.Errorf("last used = %v, want nil after rejected assertion", stored.LastUsedAt)
	}
}

func TestFinishLoginCloneWarning(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)
	owner := engine.seedUser(t, user.User{Email: "runner@example.com", Role: user.RoleStudent, Active: true})
	engine.seedCredential(t, owner.ID, 5)
	engine.provider.credential.Authenticator.CloneWarning = true
	if _, err := engine.BeginLogin(ctx, ""); err != nil {
		t.Fatalf("BeginLogin: %v", err)
	}
	engine.parser.assertion = assertionFor("challenge-1", owner.ID)

	if _, _, err := engine.FinishLogin(ctx, []byte(`{}`)); !errors.Is(err, ErrInvalidResponse) {
		t.Fatalf("err = %v, want ErrInvalidResponse", err)
	}
}

func TestFinishLoginCorruptStoredCounter(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)
	owner := engine.seedUser(t, user.User{Email: "runner@example.com", Role: user.RoleStudent, Active: true})
	record := engine.seedCredential(t, owner.ID, 0)
	record.SignCount = -1
	if err := engine.db.PutPasskeyCredential(ctx, record); err != nil {
		t.Fatalf("PutPasskeyCredential: %v", err)
	}
	if _, err := engine.BeginLogin(ctx, ""); err != nil {
		t.Fatalf("BeginLogin: %v", err)
	}
	engine.parser.assertion = assertionFor("challenge-1", owner.ID)

	if _, _, err := engine.FinishLogin(ctx, []byte(`{}`)); !errors.Is(err, ErrInvalidResponse) {
		t.Fatalf("err = %v, want ErrInvalidResponse", err)
	}
}

func TestFinishLoginDisabledAccount(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)
	owner := engine.seedUser(t, user.User{Email: "runner@example.com", Role: user.RoleStudent, Active: false})
	engine.seedCredential(t, owner.ID, 0)
	if _, err := engine.BeginLogin(ctx, ""); err != nil {
		t.Fatalf("BeginLogin: %v", err)
	}
	engine.parser.assertion = assertionFor("challenge-1", owner.ID)

	if _, _, err := engine.FinishLogin(ctx, []byte(`{}`)); !errors.Is(err, ErrAccountDisabled) {
		t.Fatalf("err = %v, want ErrAccountDisabled", err)
	}
}

func TestFinishLoginUnknownChallenge(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)
	engine.parser.assertion = assertionFor("never-issued", 1)

	if _, _, err := engine.FinishLogin(ctx, []byte(`{}`)); !errors.Is(err, ErrChallengeNotFound) {
		t.Fatalf("err = %v, want ErrChallengeNotFound", err)
	}
}

func TestDeleteCredential(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)
	hash, err := user.HashPassword("correct horse")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	owner := engine.seedUser(t, user.User{Email: "runner@example.com", PasswordHash: hash, Role: user.RoleStudent, Active: true})
	other := engine.seedUser(t, user.User{Email: "other@example.com", Role: user.RoleStudent, Active: true})
	record := engine.seedCredential(t, owner.ID, 0)

	if err := engine.DeleteCredential(ctx, other.ID, record.CredentialID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("foreign delete err = %v, want ErrNotFound", err)
	}
	if err := engine.DeleteCredential(ctx, owner.ID, record.CredentialID); err != nil {
		t.Fatalf("DeleteCredential: %v", err)
	}
	if _, err := engine.db.GetPasskeyCredential(ctx, record.CredentialID); !errors.Is(err, storage.ErrNotFound) {
		t.Error("credential should be removed")
	}
}

func TestDeleteCredentialLastMethodRefused(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)
	owner := engine.seedUser(t, user.User{Email: "runner@example.com", Role: user.RoleStudent, Active: true})
	record := engine.seedCredential(t, owner.ID, 0)

	err := engine.DeleteCredential(ctx, owner.ID, record.CredentialID)
	if !errors.Is(err, account.ErrLockoutPrevention) {
		t.Fatalf("err = %v, want ErrLockoutPrevention", err)
	}
}

func TestUpdateLabel(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)
	owner := engine.seedUser(t, user.User{Email: "runner@example.com", Role: user.RoleStudent, Active: true})
	other := engine.seedUser(t, user.User{Email: "other@example.com", Role: user.RoleStudent, Active: true})
	record := engine.seedCredential(t, owner.ID, 0)

	if err := engine.UpdateLabel(ctx, other.ID, record.CredentialID, "stolen"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("foreign rename err = %v, want ErrNotFound", err)
	}
	if err := engine.UpdateLabel(ctx, owner.ID, record.CredentialID, "Laptop"); err != nil {
		t.Fatalf("UpdateLabel: %v", err)
	}
	stored, err := engine.db.GetPasskeyCredential(ctx, record.CredentialID)
	if err != nil {
		t.Fatalf("GetPasskeyCredential: %v", err)
	}
	if stored.Label != "Laptop" {
		t.Errorf("label = %q", stored.Label)
	}
}
