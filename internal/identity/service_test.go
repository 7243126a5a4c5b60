package identity

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opentrusty/tenancy/internal/audit"
	"github.com/opentrusty/tenancy/internal/tenancy"
	"github.com/opentrusty/tenancy/internal/tenant"
)

// MockUserRepository keeps users per namespace of the scope in ctx
type MockUserRepository struct {
	mu     sync.Mutex
	nextID map[string]int64
	users  map[string]map[int64]*User
}

func NewMockUserRepository() *MockUserRepository {
	return &MockUserRepository{
		nextID: make(map[string]int64),
		users:  make(map[string]map[int64]*User),
	}
}

func (m *MockUserRepository) bucket(ctx context.Context) (map[int64]*User, string) {
	ns := tenancy.Namespace(ctx)
	if m.users[ns] == nil {
		m.users[ns] = make(map[int64]*User)
	}
	return m.users[ns], ns
}

func (m *MockUserRepository) Create(ctx context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ns := m.bucket(ctx)
	for _, existing := range b {
		if existing.Username == u.Username {
			return ErrUserAlreadyExists
		}
	}
	m.nextID[ns]++
	u.ID = m.nextID[ns]
	u.DateJoined = time.Now()
	cp := *u
	b[u.ID] = &cp
	return nil
}

func (m *MockUserRepository) GetByID(ctx context.Context, id int64) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, _ := m.bucket(ctx)
	u, ok := b[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *MockUserRepository) GetByUsername(ctx context.Context, username string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, _ := m.bucket(ctx)
	for _, u := range b {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrUserNotFound
}

func (m *MockUserRepository) UpdateLastLogin(ctx context.Context, id int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, _ := m.bucket(ctx)
	u, ok := b[id]
	if !ok {
		return ErrUserNotFound
	}
	u.LastLogin = &at
	return nil
}

func scoped(ns string) context.Context {
	return tenancy.WithScope(context.Background(), tenancy.NewScope(&tenant.Tenant{Namespace: ns}, nil))
}

func newTestService(repo UserRepository) *Service {
	// cheap parameters keep the suite fast
	return NewService(repo, NewPasswordHasher(1024, 1, 1, 16, 32), audit.Nop{})
}

// TestPurpose: Validates the user authentication flow for correct, wrong and unknown credentials.
// Scope: Unit Test
// Security: Authentication mechanisms
// Expected: Success for correct credentials, ErrInvalidCredentials otherwise, ErrUserInactive for disabled accounts.
// Test Case ID: IDN-01
func TestIdentity_Service_Authenticate(t *testing.T) {
	repo := NewMockUserRepository()
	s := newTestService(repo)
	ctx := scoped("school1")

	user, err := s.CreateUser(ctx, CreateUserInput{Username: "demo", Email: "demo@school1.com", Password: "demo123"})
	require.NoError(t, err)

	got, err := s.Authenticate(ctx, "demo", "demo123")
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)

	_, err = s.Authenticate(ctx, "demo", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = s.Authenticate(ctx, "nobody", "demo123")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	repo.users["school1"][user.ID].IsActive = false
	_, err = s.Authenticate(ctx, "demo", "demo123")
	assert.ErrorIs(t, err, ErrUserInactive)
}

// TestPurpose: Validates that accounts are per tenant: the same username may exist in two namespaces and credentials do not cross.
// Scope: Unit Test
// Security: Multi-tenant Data Separation (CWE-284)
// Expected: Both creations succeed; a password from one tenant fails in the other.
// Test Case ID: IDN-02
func TestIdentity_Service_UsersArePerTenant(t *testing.T) {
	repo := NewMockUserRepository()
	s := newTestService(repo)
	acme, globex := scoped("acme"), scoped("globex")

	_, err := s.CreateUser(acme, CreateUserInput{Username: "alice", Password: "acme-pass"})
	require.NoError(t, err)
	_, err = s.CreateUser(globex, CreateUserInput{Username: "alice", Password: "globex-pass"})
	require.NoError(t, err)

	_, err = s.CreateUser(acme, CreateUserInput{Username: "alice", Password: "another"})
	assert.ErrorIs(t, err, ErrUserAlreadyExists)

	_, err = s.Authenticate(globex, "alice", "acme-pass")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = s.Authenticate(acme, "alice", "acme-pass")
	assert.NoError(t, err)
}

func TestIdentity_Service_CreateUser_Validation(t *testing.T) {
	s := newTestService(NewMockUserRepository())
	ctx := scoped("acme")

	_, err := s.CreateUser(ctx, CreateUserInput{Username: "", Password: "secret1"})
	assert.ErrorIs(t, err, ErrInvalidUsername)
	_, err = s.CreateUser(ctx, CreateUserInput{Username: "bad name", Password: "secret1"})
	assert.ErrorIs(t, err, ErrInvalidUsername)
	_, err = s.CreateUser(ctx, CreateUserInput{Username: "bob", Email: "nope", Password: "secret1"})
	assert.ErrorIs(t, err, ErrInvalidEmail)
	_, err = s.CreateUser(ctx, CreateUserInput{Username: "bob", Password: "123"})
	assert.ErrorIs(t, err, ErrWeakPassword)
}

func TestIdentity_Service_RecordLogin(t *testing.T) {
	repo := NewMockUserRepository()
	s := newTestService(repo)
	ctx := scoped("acme")

	u, err := s.CreateUser(ctx, CreateUserInput{Username: "bob", Password: "secret1"})
	require.NoError(t, err)
	require.NoError(t, s.RecordLogin(ctx, u.ID))

	got, err := s.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.LastLogin)
}

// TestPurpose: Validates the default admin account created alongside a new tenant.
// Scope: Unit Test
// Expected: Username "admin", email admin@<namespace>.com, staff flag set.
// Test Case ID: IDN-03
func TestIdentity_Service_BootstrapAdmin_Defaults(t *testing.T) {
	s := newTestService(NewMockUserRepository())
	ctx := scoped("school1")

	admin, err := s.BootstrapAdmin(ctx, "school1", "", "", "s3cret!!")
	require.NoError(t, err)
	assert.Equal(t, "admin", admin.Username)
	assert.Equal(t, "admin@school1.com", admin.Email)
	assert.True(t, admin.IsStaff)
}

func TestPasswordHasher_RoundTrip(t *testing.T) {
	h := NewPasswordHasher(1024, 1, 1, 16, 32)
	encoded, err := h.Hash("correct-horse")
	require.NoError(t, err)
	assert.Contains(t, encoded, "$argon2id$v=19$m=1024,t=1,p=1$")

	ok, err := h.Verify("correct-horse", encoded)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.Verify("wrong", encoded)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = h.Verify("x", "not-a-hash")
	assert.Error(t, err)
}
