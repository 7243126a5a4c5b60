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

package tenant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/opentrusty/tenancy/internal/audit"
	"github.com/opentrusty/tenancy/internal/id"
	"github.com/opentrusty/tenancy/internal/observability/logger"
)

// Service provides the tenant directory
type Service struct {
	repo        Repository
	provisioner Provisioner
	auditLogger audit.Logger
	lease       time.Duration
	now         func() time.Time
}

// DefaultProvisionLease is how long a tenant in provisioning state belongs to
// the caller that created it. After that a repeated Create may take it over.
const DefaultProvisionLease = 15 * time.Minute

// Option configures a Service
type Option func(*Service)

// WithProvisionLease overrides DefaultProvisionLease
func WithProvisionLease(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.lease = d
		}
	}
}

// NewService creates a new tenant service
func NewService(repo Repository, provisioner Provisioner, auditLogger audit.Logger, opts ...Option) *Service {
	s := &Service{
		repo:        repo,
		provisioner: provisioner,
		auditLogger: auditLogger,
		lease:       DefaultProvisionLease,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateInput describes a tenant to create
type CreateInput struct {
	Namespace string
	Name      string
	// Domains are bound in order; the first becomes primary.
	Domains   []string
	OnTrial   bool
	PaidUntil *time.Time
	ActorID   string
}

// Create registers a tenant with its domains and provisions its namespace.
//
// Either the tenant ends up active with a migrated namespace, or no directory
// record remains. A tenant left in provisioning state by an interrupted earlier
// call is resumed once its lease has expired, provided the request repeats it.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Tenant, error) {
	if err := ValidateNamespace(in.Namespace); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(in.Name)
	if name == "" || len(name) > 100 {
		return nil, fmt.Errorf("%w: must be 1-100 characters", ErrInvalidName)
	}
	domains, err := normalizeAll(in.Domains)
	if err != nil {
		return nil, err
	}

	existing, err := s.repo.GetByNamespace(ctx, in.Namespace)
	switch {
	case err == nil && existing.Status == StatusProvisioning:
		if err := s.claimStale(ctx, existing, name, domains); err != nil {
			return nil, err
		}
		slog.InfoContext(ctx, "resuming interrupted tenant provisioning", logger.Namespace(in.Namespace))
		return s.provision(ctx, existing, in.ActorID)
	case err == nil:
		return nil, ErrTenantExists
	case !errors.Is(err, ErrTenantNotFound):
		return nil, fmt.Errorf("failed to look up tenant: %w", err)
	}

	for _, d := range domains {
		exists, err := s.repo.DomainExists(ctx, d)
		if err != nil {
			return nil, fmt.Errorf("failed to look up domain: %w", err)
		}
		if exists {
			return nil, fmt.Errorf("%w: %s", ErrDomainExists, d)
		}
	}

	now := s.now()
	t := &Tenant{
		ID:            id.NewUUIDv7(),
		Namespace:     in.Namespace,
		Name:          name,
		Status:        StatusProvisioning,
		OnTrial:       in.OnTrial,
		PaidUntil:     in.PaidUntil,
		AutoProvision: true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	bindings := make([]*Domain, len(domains))
	for i, d := range domains {
		bindings[i] = &Domain{
			ID:        id.NewUUIDv7(),
			Domain:    d,
			TenantID:  t.ID,
			Namespace: t.Namespace,
			IsPrimary: i == 0,
			CreatedAt: now,
		}
	}

	// A racing Create for the same key or domain loses here on the
	// uniqueness constraints.
	if err := s.repo.CreateWithDomains(ctx, t, bindings); err != nil {
		return nil, err
	}

	return s.provision(ctx, t, in.ActorID)
}

func (s *Service) provision(ctx context.Context, t *Tenant, actorID string) (*Tenant, error) {
	if err := s.provisioner.Provision(ctx, t.Namespace); err != nil {
		slog.ErrorContext(ctx, "namespace provisioning failed", logger.Namespace(t.Namespace), logger.Error(err))
		s.auditLogger.Log(ctx, audit.Event{
			Type:      audit.TypeTenantProvisionFailed,
			Namespace: t.Namespace,
			ActorID:   actorID,
			Resource:  "tenant",
			Metadata:  map[string]any{"reason": err.Error()},
		})
		if delErr := s.repo.Delete(context.WithoutCancel(ctx), t.Namespace); delErr != nil && !errors.Is(delErr, ErrTenantNotFound) {
			return nil, fmt.Errorf("%w: %w (directory cleanup also failed: %v)", ErrProvision, err, delErr)
		}
		return nil, fmt.Errorf("%w: %w", ErrProvision, err)
	}

	if err := s.repo.SetStatus(ctx, t.Namespace, StatusActive); err != nil {
		return nil, fmt.Errorf("failed to activate tenant: %w", err)
	}
	t.Status = StatusActive
	slog.InfoContext(ctx, "tenant activated", logger.Namespace(t.Namespace), logger.TenantID(t.ID))

	s.auditLogger.Log(ctx, audit.Event{
		Type:      audit.TypeTenantCreated,
		Namespace: t.Namespace,
		ActorID:   actorID,
		Resource:  "tenant",
		Metadata:  map[string]any{"name": t.Name, "tenant_id": t.ID},
	})
	return t, nil
}

// claimStale takes over a tenant left in provisioning state. It succeeds only
// when the request repeats the stored name and domains and no other caller has
// touched the record within the provisioning lease; anything else is a conflict.
func (s *Service) claimStale(ctx context.Context, t *Tenant, name string, domains []string) error {
	if t.Name != name {
		return ErrTenantExists
	}
	owned, err := s.repo.ListDomains(ctx, t.Namespace)
	if err != nil {
		return fmt.Errorf("failed to list domains: %w", err)
	}
	if !sameDomains(owned, domains) {
		return ErrTenantExists
	}

	claimed, err := s.repo.ClaimProvisioning(ctx, t.Namespace, s.now().Add(-s.lease))
	if err != nil {
		return fmt.Errorf("failed to claim tenant: %w", err)
	}
	if !claimed {
		slog.WarnContext(ctx, "tenant provisioning still in flight", logger.Namespace(t.Namespace))
		return ErrTenantExists
	}
	return nil
}

func sameDomains(owned []*Domain, requested []string) bool {
	if len(owned) != len(requested) {
		return false
	}
	have := make(map[string]bool, len(owned))
	for _, d := range owned {
		have[d.Domain] = true
	}
	for _, d := range requested {
		if !have[d] {
			return false
		}
	}
	return true
}

// ResolveByDomain maps a request host to its active tenant.
// Unknown domains and tenants still being provisioned yield ErrTenantNotFound.
func (s *Service) ResolveByDomain(ctx context.Context, domain string) (*Tenant, error) {
	d, err := NormalizeDomain(domain)
	if err != nil {
		return nil, ErrTenantNotFound
	}
	t, err := s.repo.GetByDomain(ctx, d)
	if err != nil {
		return nil, err
	}
	if t.Status != StatusActive {
		return nil, ErrTenantNotFound
	}
	return t, nil
}

// Get retrieves a tenant by namespace key
func (s *Service) Get(ctx context.Context, namespace string) (*Tenant, error) {
	return s.repo.GetByNamespace(ctx, namespace)
}

// List lists tenants with pagination
func (s *Service) List(ctx context.Context, limit, offset int) ([]*Tenant, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.repo.List(ctx, limit, offset)
}

// ListDomains lists the domains bound to a tenant, primary first
func (s *Service) ListDomains(ctx context.Context, namespace string) ([]*Domain, error) {
	return s.repo.ListDomains(ctx, namespace)
}

// BindDomain attaches a domain to an existing tenant.
func (s *Service) BindDomain(ctx context.Context, namespace, domain string, primary bool, actorID string) (*Domain, error) {
	d, err := NormalizeDomain(domain)
	if err != nil {
		return nil, err
	}
	t, err := s.repo.GetByNamespace(ctx, namespace)
	if err != nil {
		return nil, err
	}

	b := &Domain{
		ID:        id.NewUUIDv7(),
		Domain:    d,
		TenantID:  t.ID,
		Namespace: t.Namespace,
		IsPrimary: primary,
		CreatedAt: s.now(),
	}
	if err := s.repo.BindDomain(ctx, b); err != nil {
		return nil, err
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:      audit.TypeDomainBound,
		Namespace: t.Namespace,
		ActorID:   actorID,
		Resource:  d,
		Metadata:  map[string]any{"is_primary": primary},
	})
	return b, nil
}

// UnbindDomain detaches a domain from whichever tenant owns it
func (s *Service) UnbindDomain(ctx context.Context, domain, actorID string) error {
	d, err := NormalizeDomain(domain)
	if err != nil {
		return err
	}
	owner, err := s.repo.GetByDomain(ctx, d)
	if err != nil {
		if errors.Is(err, ErrTenantNotFound) {
			return ErrDomainNotFound
		}
		return err
	}
	if err := s.repo.UnbindDomain(ctx, d); err != nil {
		return err
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:      audit.TypeDomainUnbound,
		Namespace: owner.Namespace,
		ActorID:   actorID,
		Resource:  d,
	})
	return nil
}

// BillingUpdate changes trial and paid-until attributes. Nil fields are left as is.
type BillingUpdate struct {
	OnTrial        *bool
	PaidUntil      *time.Time
	ClearPaidUntil bool
}

// UpdateBilling applies a billing update to a tenant
func (s *Service) UpdateBilling(ctx context.Context, namespace string, upd BillingUpdate, actorID string) (*Tenant, error) {
	t, err := s.repo.GetByNamespace(ctx, namespace)
	if err != nil {
		return nil, err
	}
	if upd.OnTrial != nil {
		t.OnTrial = *upd.OnTrial
	}
	switch {
	case upd.ClearPaidUntil:
		t.PaidUntil = nil
	case upd.PaidUntil != nil:
		t.PaidUntil = upd.PaidUntil
	}
	t.UpdatedAt = s.now()

	if err := s.repo.UpdateBilling(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to update tenant: %w", err)
	}

	meta := map[string]any{"on_trial": t.OnTrial}
	if t.PaidUntil != nil {
		meta["paid_until"] = t.PaidUntil.Format(time.DateOnly)
	}
	s.auditLogger.Log(ctx, audit.Event{
		Type:      audit.TypeTenantBillingUpdated,
		Namespace: t.Namespace,
		ActorID:   actorID,
		Resource:  "tenant",
		Metadata:  meta,
	})
	return t, nil
}

// EnsurePublic makes sure the public tenant record exists and owns domain.
// The public namespace itself is never provisioned here.
func (s *Service) EnsurePublic(ctx context.Context, domain string) (*Tenant, bool, error) {
	d, err := NormalizeDomain(domain)
	if err != nil {
		return nil, false, err
	}

	t, err := s.repo.GetByNamespace(ctx, PublicNamespace)
	if err == nil {
		owner, err := s.repo.GetByDomain(ctx, d)
		switch {
		case err == nil && owner.ID == t.ID:
			return t, false, nil
		case err == nil:
			return nil, false, fmt.Errorf("%w: %s", ErrDomainExists, d)
		case !errors.Is(err, ErrTenantNotFound):
			return nil, false, err
		}
		if _, err := s.BindDomain(ctx, PublicNamespace, d, false, "system"); err != nil {
			return nil, false, err
		}
		return t, false, nil
	}
	if !errors.Is(err, ErrTenantNotFound) {
		return nil, false, fmt.Errorf("failed to look up public tenant: %w", err)
	}

	now := s.now()
	t = &Tenant{
		ID:        id.NewUUIDv7(),
		Namespace: PublicNamespace,
		Name:      "Public",
		Status:    StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	binding := &Domain{
		ID:        id.NewUUIDv7(),
		Domain:    d,
		TenantID:  t.ID,
		Namespace: t.Namespace,
		IsPrimary: true,
		CreatedAt: now,
	}
	if err := s.repo.CreateWithDomains(ctx, t, []*Domain{binding}); err != nil {
		return nil, false, err
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:      audit.TypeTenantCreated,
		Namespace: PublicNamespace,
		ActorID:   "system",
		Resource:  "tenant",
		Metadata:  map[string]any{"domain": d},
	})
	return t, true, nil
}

// Drop destroys a tenant's namespace and removes it from the directory.
// The provisioner refuses unless dropping was explicitly enabled.
func (s *Service) Drop(ctx context.Context, namespace, actorID string) error {
	if namespace == PublicNamespace {
		return ErrPublicNamespace
	}
	if _, err := s.repo.GetByNamespace(ctx, namespace); err != nil {
		return err
	}
	if err := s.provisioner.Drop(ctx, namespace); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, namespace); err != nil {
		return fmt.Errorf("namespace dropped but directory delete failed: %w", err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:      audit.TypeTenantDropped,
		Namespace: namespace,
		ActorID:   actorID,
		Resource:  "tenant",
	})
	return nil
}

func normalizeAll(domains []string) ([]string, error) {
	if len(domains) == 0 {
		return nil, fmt.Errorf("%w: at least one domain is required", ErrInvalidDomain)
	}
	out := make([]string, 0, len(domains))
	seen := make(map[string]bool, len(domains))
	for _, raw := range domains {
		d, err := NormalizeDomain(raw)
		if err != nil {
			return nil, err
		}
		if seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	return out, nil
}
