package tenant

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrTenantNotFound   = errors.New("tenant not found")
	ErrDomainNotFound   = errors.New("domain not found")
	ErrConflict         = errors.New("conflict")
	ErrTenantExists     = fmt.Errorf("%w: tenant namespace already exists", ErrConflict)
	ErrDomainExists     = fmt.Errorf("%w: domain already bound", ErrConflict)
	ErrProvision        = errors.New("namespace provisioning failed")
	ErrInvalidNamespace = errors.New("invalid namespace key")
	ErrInvalidDomain    = errors.New("invalid domain")
	ErrInvalidName      = errors.New("invalid tenant name")
	ErrPublicNamespace  = errors.New("operation not permitted on the public namespace")
)

// Repository defines the interface for directory storage.
//
// Implementations return ErrTenantExists or ErrDomainExists when a uniqueness
// constraint rejects a write.
type Repository interface {
	CreateWithDomains(ctx context.Context, tenant *Tenant, domains []*Domain) error
	GetByNamespace(ctx context.Context, namespace string) (*Tenant, error)
	// GetByDomain returns the owning tenant regardless of status.
	GetByDomain(ctx context.Context, domain string) (*Tenant, error)
	DomainExists(ctx context.Context, domain string) (bool, error)
	SetStatus(ctx context.Context, namespace, status string) error
	// ClaimProvisioning refreshes the lease on a tenant still in provisioning
	// state, but only if it was last touched before staleBefore. It reports
	// whether the caller now owns the record.
	ClaimProvisioning(ctx context.Context, namespace string, staleBefore time.Time) (bool, error)
	UpdateBilling(ctx context.Context, tenant *Tenant) error
	Delete(ctx context.Context, namespace string) error
	List(ctx context.Context, limit, offset int) ([]*Tenant, error)
	// BindDomain demotes any existing primary when domain.IsPrimary is set.
	BindDomain(ctx context.Context, domain *Domain) error
	UnbindDomain(ctx context.Context, domain string) error
	ListDomains(ctx context.Context, namespace string) ([]*Domain, error)
}

// Provisioner creates and destroys tenant namespaces
type Provisioner interface {
	Provision(ctx context.Context, namespace string) error
	Drop(ctx context.Context, namespace string) error
}
