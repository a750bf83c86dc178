// Package storagetest provides an in-memory storage.Database for tests.
package storagetest

import (
	"context"
	"sync"

	"github.com/olympstage/olympstage/internal/services/auth/storage"
	"github.com/olympstage/olympstage/internal/services/auth/user"
)

// Memory implements storage.Database in memory. InTx serializes callers but
// does not roll back: engine tests assert outcomes, not partial writes.
type Memory struct {
	txMu sync.Mutex
	mu   sync.Mutex

	nextUserID int64
	users      map[int64]user.User
	profiles   map[int64]user.Role

	accounts []storage.AuthAccount

	credentials map[string]storage.PasskeyCredential
	challenges  map[string]storage.PasskeyChallenge

	otpSeq int64
	otps   map[string]otpRow
}

type otpRow struct {
	otp storage.EmailOTP
	seq int64
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		users:       make(map[int64]user.User),
		profiles:    make(map[int64]user.Role),
		credentials: make(map[string]storage.PasskeyCredential),
		challenges:  make(map[string]storage.PasskeyChallenge),
		otps:        make(map[string]otpRow),
	}
}

// InTx serializes transactional callers against each other.
func (m *Memory) InTx(ctx context.Context, fn func(q storage.Queries) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	return fn(m)
}

// CreateUser inserts a user and assigns the next id.
func (m *Memory) CreateUser(ctx context.Context, u user.User) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Email == u.Email {
			return 0, storage.ErrConflict
		}
	}
	m.nextUserID++
	u.ID = m.nextUserID
	m.users[u.ID] = u
	return u.ID, nil
}

// GetUser loads a user by id.
func (m *Memory) GetUser(ctx context.Context, userID int64) (user.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return user.User{}, storage.ErrNotFound
	}
	return u, nil
}

// GetUserByEmail loads a user by normalized email.
func (m *Memory) GetUserByEmail(ctx context.Context, email string) (user.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return user.User{}, storage.ErrNotFound
}

// UpdateUser replaces a stored user.
func (m *Memory) UpdateUser(ctx context.Context, u user.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[u.ID]; !ok {
		return storage.ErrNotFound
	}
	m.users[u.ID] = u
	return nil
}

// CreateProfile records the role-appropriate profile row.
func (m *Memory) CreateProfile(ctx context.Context, userID int64, role user.Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.profiles[userID]; !ok {
		m.profiles[userID] = role
	}
	return nil
}

// ProfileRole reports the profile row recorded for a user, if any.
func (m *Memory) ProfileRole(userID int64) (user.Role, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	role, ok := m.profiles[userID]
	return role, ok
}

// GetAuthAccount loads a link by (provider, provider account id).
func (m *Memory) GetAuthAccount(ctx context.Context, provider, providerAccountID string) (storage.AuthAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, account := range m.accounts {
		if account.Provider == provider && account.ProviderAccountID == providerAccountID {
			return account, nil
		}
	}
	return storage.AuthAccount{}, storage.ErrNotFound
}

// ListAuthAccountsByUser returns a user's links.
func (m *Memory) ListAuthAccountsByUser(ctx context.Context, userID int64) ([]storage.AuthAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var accounts []storage.AuthAccount
	for _, account := range m.accounts {
		if account.UserID == userID {
			accounts = append(accounts, account)
		}
	}
	return accounts, nil
}

// CreateAuthAccount inserts a link, enforcing both unique pairs.
func (m *Memory) CreateAuthAccount(ctx context.Context, account storage.AuthAccount) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.accounts {
		if existing.Provider == account.Provider &&
			(existing.ProviderAccountID == account.ProviderAccountID || existing.UserID == account.UserID) {
			return storage.ErrConflict
		}
	}
	m.accounts = append(m.accounts, account)
	return nil
}

// DeleteAuthAccount removes a user's link for one provider.
func (m *Memory) DeleteAuthAccount(ctx context.Context, provider string, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, account := range m.accounts {
		if account.Provider == provider && account.UserID == userID {
			m.accounts = append(m.accounts[:i], m.accounts[i+1:]...)
			return nil
		}
	}
	return storage.ErrNotFound
}

// PutPasskeyCredential inserts or updates a credential.
func (m *Memory) PutPasskeyCredential(ctx context.Context, credential storage.PasskeyCredential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.credentials[credential.CredentialID] = credential
	return nil
}

// GetPasskeyCredential loads a credential by id.
func (m *Memory) GetPasskeyCredential(ctx context.Context, credentialID string) (storage.PasskeyCredential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	credential, ok := m.credentials[credentialID]
	if !ok {
		return storage.PasskeyCredential{}, storage.ErrNotFound
	}
	return credential, nil
}

// ListPasskeyCredentials returns a user's credentials.
func (m *Memory) ListPasskeyCredentials(ctx context.Context, userID int64) ([]storage.PasskeyCredential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var credentials []storage.PasskeyCredential
	for _, credential := range m.credentials {
		if credential.UserID == userID {
			credentials = append(credentials, credential)
		}
	}
	return credentials, nil
}

// DeletePasskeyCredential removes a credential.
func (m *Memory) DeletePasskeyCredential(ctx context.Context, credentialID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.credentials[credentialID]; !ok {
		return storage.ErrNotFound
	}
	delete(m.credentials, credentialID)
	return nil
}

// PutPasskeyChallenge stores a challenge, superseding the (user, flow) pair.
func (m *Memory) PutPasskeyChallenge(ctx context.Context, challenge storage.PasskeyChallenge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if challenge.UserID != nil {
		for id, existing := range m.challenges {
			if existing.UserID != nil && *existing.UserID == *challenge.UserID && existing.Flow == challenge.Flow {
				delete(m.challenges, id)
			}
		}
	}
	m.challenges[challenge.ID] = challenge
	return nil
}

// GetPasskeyChallengeByUser loads a challenge by (user, flow).
func (m *Memory) GetPasskeyChallengeByUser(ctx context.Context, userID int64, flow string) (storage.PasskeyChallenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, challenge := range m.challenges {
		if challenge.UserID != nil && *challenge.UserID == userID && challenge.Flow == flow {
			return challenge, nil
		}
	}
	return storage.PasskeyChallenge{}, storage.ErrNotFound
}

// GetPasskeyChallengeByValue loads a challenge by its value.
func (m *Memory) GetPasskeyChallengeByValue(ctx context.Context, flow, challenge string) (storage.PasskeyChallenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, stored := range m.challenges {
		if stored.Flow == flow && stored.Challenge == challenge {
			return stored, nil
		}
	}
	return storage.PasskeyChallenge{}, storage.ErrNotFound
}

// DeletePasskeyChallenge consumes a challenge.
func (m *Memory) DeletePasskeyChallenge(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.challenges[id]; !ok {
		return storage.ErrNotFound
	}
	delete(m.challenges, id)
	return nil
}

// CreateOTP inserts a ledger row.
func (m *Memory) CreateOTP(ctx context.Context, otp storage.EmailOTP) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.otpSeq++
	m.otps[otp.ID] = otpRow{otp: otp, seq: m.otpSeq}
	return nil
}

// LatestActiveOTP returns the newest unconsumed row for (purpose, email).
func (m *Memory) LatestActiveOTP(ctx context.Context, purpose, email string) (storage.EmailOTP, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best otpRow
	found := false
	for _, row := range m.otps {
		if row.otp.Purpose != purpose || row.otp.Email != email || row.otp.ConsumedAt != nil {
			continue
		}
		if !found || row.seq > best.seq {
			best = row
			found = true
		}
	}
	if !found {
		return storage.EmailOTP{}, storage.ErrNotFound
	}
	return best.otp, nil
}

// UpdateOTP persists attempts and consumption.
func (m *Memory) UpdateOTP(ctx context.Context, otp storage.EmailOTP) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.otps[otp.ID]
	if !ok {
		return storage.ErrNotFound
	}
	row.otp = otp
	m.otps[otp.ID] = row
	return nil
}

var _ storage.Database = (*Memory)(nil)
