// Copyright 2026 The OpenTrusty Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/opentrusty/tenancy/internal/audit"
	"github.com/opentrusty/tenancy/internal/identity"
	"github.com/opentrusty/tenancy/internal/item"
	"github.com/opentrusty/tenancy/internal/tenancy"
	"github.com/opentrusty/tenancy/internal/tenant"
	"github.com/opentrusty/tenancy/internal/token"
	transportHTTP "github.com/opentrusty/tenancy/internal/transport/http"
)

const testAdminToken = "admin-secret-token"

var testSigningKey = []byte("0123456789abcdef0123456789abcdef")

// memBinder hands out connections that only record which namespace they are
// bound to. Data lives in the namespace-keyed repositories below, which read
// the namespace from the bound connection.
type memBinder struct {
	mu       sync.Mutex
	binds    map[string]int
	releases map[string]int
	fail     error
}

func newMemBinder() *memBinder {
	return &memBinder{binds: map[string]int{}, releases: map[string]int{}}
}

func (b *memBinder) Bind(ctx context.Context, namespace string) (tenancy.Conn, error) {
	if b.fail != nil {
		return nil, b.fail
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.binds[namespace]++
	return &memConn{b: b, ns: namespace}, nil
}

func (b *memBinder) outstanding() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for ns, c := range b.binds {
		n += c - b.releases[ns]
	}
	return n
}

func (b *memBinder) bindCount(ns string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.binds[ns]
}

type memConn struct {
	b  *memBinder
	ns string
}

func (c *memConn) Namespace() string { return c.ns }

func (c *memConn) Release(ctx context.Context) {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	c.b.releases[c.ns]++
}

func (c *memConn) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, errors.New("memConn: SQL not supported")
}

func (c *memConn) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("memConn: SQL not supported")
}

func (c *memConn) QueryRow(context.Context, string, ...any) pgx.Row {
	return nil
}

// boundNamespace returns the namespace of the connection bound by the
// request's scope, the way a SQL repository would implicitly use it.
func boundNamespace(ctx context.Context) (string, error) {
	q, err := tenancy.TenantQuerier(ctx)
	if err != nil {
		return "", err
	}
	return q.(*memConn).ns, nil
}

type memUserRepo struct {
	mu     sync.Mutex
	users  map[string]map[int64]*identity.User
	nextID map[string]int64
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{users: map[string]map[int64]*identity.User{}, nextID: map[string]int64{}}
}

func (r *memUserRepo) Create(ctx context.Context, u *identity.User) error {
	ns, err := boundNamespace(ctx)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.users[ns] == nil {
		r.users[ns] = map[int64]*identity.User{}
	}
	for _, existing := range r.users[ns] {
		if existing.Username == u.Username {
			return identity.ErrUserAlreadyExists
		}
	}
	r.nextID[ns]++
	u.ID = r.nextID[ns]
	u.DateJoined = time.Now()
	cp := *u
	r.users[ns][u.ID] = &cp
	return nil
}

func (r *memUserRepo) GetByID(ctx context.Context, id int64) (*identity.User, error) {
	ns, err := boundNamespace(ctx)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[ns][id]
	if !ok {
		return nil, identity.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *memUserRepo) GetByUsername(ctx context.Context, username string) (*identity.User, error) {
	ns, err := boundNamespace(ctx)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users[ns] {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, identity.ErrUserNotFound
}

func (r *memUserRepo) UpdateLastLogin(ctx context.Context, id int64, at time.Time) error {
	ns, err := boundNamespace(ctx)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[ns][id]
	if !ok {
		return identity.ErrUserNotFound
	}
	u.LastLogin = &at
	return nil
}

func (r *memUserRepo) setActive(ns string, id int64, active bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[ns][id].IsActive = active
}

type memItemRepo struct {
	mu     sync.Mutex
	users  *memUserRepo
	items  map[string][]*item.Item
	nextID map[string]int64
}

func newMemItemRepo(users *memUserRepo) *memItemRepo {
	return &memItemRepo{users: users, items: map[string][]*item.Item{}, nextID: map[string]int64{}}
}

func (r *memItemRepo) List(ctx context.Context, limit, offset int) ([]*item.Item, int, error) {
	ns, err := boundNamespace(ctx)
	if err != nil {
		return nil, 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	all := append([]*item.Item(nil), r.items[ns]...)
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })
	if offset >= len(all) {
		return nil, len(all), nil
	}
	end := min(offset+limit, len(all))
	return all[offset:end], len(all), nil
}

func (r *memItemRepo) Get(ctx context.Context, id int64) (*item.Item, error) {
	ns, err := boundNamespace(ctx)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, it := range r.items[ns] {
		if it.ID == id {
			cp := *it
			return &cp, nil
		}
	}
	return nil, item.ErrItemNotFound
}

func (r *memItemRepo) Create(ctx context.Context, it *item.Item) error {
	ns, err := boundNamespace(ctx)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID[ns]++
	it.ID = r.nextID[ns]
	it.CreatedAt = time.Now()
	it.UpdatedAt = it.CreatedAt
	cp := *it
	r.items[ns] = append(r.items[ns], &cp)
	return nil
}

func (r *memItemRepo) Update(ctx context.Context, it *item.Item) error {
	ns, err := boundNamespace(ctx)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.items[ns] {
		if existing.ID == it.ID {
			it.UpdatedAt = time.Now()
			cp := *it
			r.items[ns][i] = &cp
			return nil
		}
	}
	return item.ErrItemNotFound
}

func (r *memItemRepo) Delete(ctx context.Context, id int64) error {
	ns, err := boundNamespace(ctx)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.items[ns] {
		if existing.ID == id {
			r.items[ns] = append(r.items[ns][:i], r.items[ns][i+1:]...)
			return nil
		}
	}
	return item.ErrItemNotFound
}

// memTenantRepo is an in-memory directory
type memTenantRepo struct {
	mu      sync.Mutex
	tenants map[string]*tenant.Tenant
	domains map[string]*tenant.Domain
}

func newMemTenantRepo() *memTenantRepo {
	return &memTenantRepo{tenants: map[string]*tenant.Tenant{}, domains: map[string]*tenant.Domain{}}
}

func (r *memTenantRepo) CreateWithDomains(ctx context.Context, t *tenant.Tenant, domains []*tenant.Domain) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tenants[t.Namespace]; ok {
		return tenant.ErrTenantExists
	}
	for _, d := range domains {
		if _, ok := r.domains[d.Domain]; ok {
			return tenant.ErrDomainExists
		}
	}
	cp := *t
	r.tenants[t.Namespace] = &cp
	for _, d := range domains {
		dc := *d
		r.domains[d.Domain] = &dc
	}
	return nil
}

func (r *memTenantRepo) GetByNamespace(ctx context.Context, namespace string) (*tenant.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tenants[namespace]
	if !ok {
		return nil, tenant.ErrTenantNotFound
	}
	cp := *t
	return &cp, nil
}

func (r *memTenantRepo) GetByDomain(ctx context.Context, domain string) (*tenant.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.domains[domain]
	if !ok {
		return nil, tenant.ErrTenantNotFound
	}
	cp := *r.tenants[d.Namespace]
	return &cp, nil
}

func (r *memTenantRepo) DomainExists(ctx context.Context, domain string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.domains[domain]
	return ok, nil
}

func (r *memTenantRepo) SetStatus(ctx context.Context, namespace, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tenants[namespace]
	if !ok {
		return tenant.ErrTenantNotFound
	}
	t.Status = status
	return nil
}

func (r *memTenantRepo) ClaimProvisioning(ctx context.Context, namespace string, staleBefore time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tenants[namespace]
	if !ok || t.Status != tenant.StatusProvisioning || !t.UpdatedAt.Before(staleBefore) {
		return false, nil
	}
	t.UpdatedAt = time.Now()
	return true, nil
}

func (r *memTenantRepo) UpdateBilling(ctx context.Context, t *tenant.Tenant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.tenants[t.Namespace]
	if !ok {
		return tenant.ErrTenantNotFound
	}
	existing.OnTrial = t.OnTrial
	existing.PaidUntil = t.PaidUntil
	existing.UpdatedAt = t.UpdatedAt
	return nil
}

func (r *memTenantRepo) Delete(ctx context.Context, namespace string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tenants[namespace]; !ok {
		return tenant.ErrTenantNotFound
	}
	delete(r.tenants, namespace)
	for name, d := range r.domains {
		if d.Namespace == namespace {
			delete(r.domains, name)
		}
	}
	return nil
}

func (r *memTenantRepo) List(ctx context.Context, limit, offset int) ([]*tenant.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*tenant.Tenant
	for _, t := range r.tenants {
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Namespace < out[j].Namespace })
	if offset >= len(out) {
		return nil, nil
	}
	return out[offset:min(offset+limit, len(out))], nil
}

func (r *memTenantRepo) BindDomain(ctx context.Context, d *tenant.Domain) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.domains[d.Domain]; ok {
		return tenant.ErrDomainExists
	}
	if d.IsPrimary {
		for _, other := range r.domains {
			if other.Namespace == d.Namespace {
				other.IsPrimary = false
			}
		}
	}
	cp := *d
	r.domains[d.Domain] = &cp
	return nil
}

func (r *memTenantRepo) UnbindDomain(ctx context.Context, domain string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.domains[domain]; !ok {
		return tenant.ErrDomainNotFound
	}
	delete(r.domains, domain)
	return nil
}

func (r *memTenantRepo) ListDomains(ctx context.Context, namespace string) ([]*tenant.Domain, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*tenant.Domain
	for _, d := range r.domains {
		if d.Namespace == namespace {
			cp := *d
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsPrimary != out[j].IsPrimary {
			return out[i].IsPrimary
		}
		return out[i].Domain < out[j].Domain
	})
	return out, nil
}

type fakeProvisioner struct {
	mu          sync.Mutex
	provisioned []string
	fail        error
}

func (p *fakeProvisioner) Provision(ctx context.Context, namespace string) error {
	if p.fail != nil {
		return p.fail
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.provisioned = append(p.provisioned, namespace)
	return nil
}

func (p *fakeProvisioner) Drop(ctx context.Context, namespace string) error {
	return errors.New("drop disabled")
}

type recordingAudit struct {
	mu     sync.Mutex
	events []audit.Event
}

func (a *recordingAudit) Log(ctx context.Context, e audit.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, e)
}

func (a *recordingAudit) count(typ string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, e := range a.events {
		if e.Type == typ {
			n++
		}
	}
	return n
}

// testEnv wires the full pipeline over in-memory storage with two tenants:
// acme on acme.example.com and globex on other.example.com, plus the public
// tenant on localhost. Each tenant has a user alice with password alice-pass.
type testEnv struct {
	router      http.Handler
	handler     *transportHTTP.Handler
	tenants     *tenant.Service
	tenantRepo  *memTenantRepo
	provisioner *fakeProvisioner
	users       *memUserRepo
	items       *memItemRepo
	binder      *memBinder
	audit       *recordingAudit
	issuer      *token.Issuer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	env := &testEnv{
		tenantRepo:  newMemTenantRepo(),
		provisioner: &fakeProvisioner{},
		users:       newMemUserRepo(),
		binder:      newMemBinder(),
		audit:       &recordingAudit{},
	}
	env.items = newMemItemRepo(env.users)
	env.tenants = tenant.NewService(env.tenantRepo, env.provisioner, env.audit)

	_, _, err := env.tenants.EnsurePublic(ctx, "localhost")
	require.NoError(t, err)

	identitySvc := identity.NewService(env.users, identity.NewPasswordHasher(1024, 1, 1, 16, 32), env.audit)
	for ns, domain := range map[string]string{"acme": "acme.example.com", "globex": "other.example.com"} {
		tn, err := env.tenants.Create(ctx, tenant.CreateInput{Namespace: ns, Name: ns, Domains: []string{domain}})
		require.NoError(t, err)
		err = tenancy.Run(ctx, tenancy.NewScope(tn, env.binder), func(ctx context.Context) error {
			_, err := identitySvc.CreateUser(ctx, identity.CreateUserInput{
				Username: "alice",
				Email:    "alice@" + domain,
				Password: "alice-pass",
			})
			return err
		})
		require.NoError(t, err)
	}

	env.issuer, err = token.NewIssuer(token.Config{
		SigningKey:    testSigningKey,
		RotateRefresh: true,
	}, token.NewMemoryBlacklist())
	require.NoError(t, err)

	env.handler = transportHTTP.NewHandler(
		env.tenants,
		identitySvc,
		item.NewService(env.items, 2),
		env.issuer,
		env.binder,
		env.audit,
		nil,
		transportHTTP.HandlerConfig{AdminToken: testAdminToken, UpdateLastLogin: true},
	)
	env.router = transportHTTP.NewRouter(env.handler, nil)
	return env
}

type response struct {
	Code int
	Body map[string]any
	Raw  []byte
}

// do sends a request to host with an optional bearer token and JSON body.
func (e *testEnv) do(t *testing.T, method, host, path, bearer string, body any) response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Host = host
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	res := response{Code: rec.Code, Raw: rec.Body.Bytes()}
	if len(res.Raw) > 0 {
		_ = json.Unmarshal(res.Raw, &res.Body)
	}
	return res
}

// login obtains a token pair for alice on host
func (e *testEnv) login(t *testing.T, host string) (access, refresh string) {
	t.Helper()
	res := e.do(t, http.MethodPost, host, "/api/token/", "", map[string]string{
		"username": "alice",
		"password": "alice-pass",
	})
	require.Equal(t, http.StatusOK, res.Code, string(res.Raw))
	return res.Body["access"].(string), res.Body["refresh"].(string)
}
