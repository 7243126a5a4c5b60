package tenant

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// PublicNamespace is the shared namespace holding the tenant directory.
const PublicNamespace = "public"

// Tenant represents one customer, isolated in its own storage namespace
type Tenant struct {
	ID            string     `json:"id"`
	Namespace     string     `json:"schema_name"`
	Name          string     `json:"name"`
	Status        string     `json:"status"`
	OnTrial       bool       `json:"on_trial"`
	PaidUntil     *time.Time `json:"paid_until,omitempty"`
	AutoProvision bool       `json:"auto_create_schema"`
	CreatedAt     time.Time  `json:"created_on"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// IsPublic reports whether t is the public tenant
func (t *Tenant) IsPublic() bool {
	return t.Namespace == PublicNamespace
}

// Domain binds a hostname to a tenant
type Domain struct {
	ID        string    `json:"id"`
	Domain    string    `json:"domain"`
	TenantID  string    `json:"tenant_id"`
	Namespace string    `json:"schema_name"`
	IsPrimary bool      `json:"is_primary"`
	CreatedAt time.Time `json:"created_at"`
}

// Status constants
const (
	StatusProvisioning = "provisioning"
	StatusActive       = "active"
)

// MaxNamespaceLength is the PostgreSQL identifier limit
const MaxNamespaceLength = 63

var namespacePattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

var reservedNamespaces = map[string]bool{
	PublicNamespace:      true,
	"information_schema": true,
}

// ValidateNamespace checks that key is usable as a tenant namespace.
func ValidateNamespace(key string) error {
	switch {
	case key == "":
		return fmt.Errorf("%w: empty", ErrInvalidNamespace)
	case len(key) > MaxNamespaceLength:
		return fmt.Errorf("%w: longer than %d characters", ErrInvalidNamespace, MaxNamespaceLength)
	case strings.HasPrefix(key, "pg_"):
		return fmt.Errorf("%w: %q uses the reserved pg_ prefix", ErrInvalidNamespace, key)
	case reservedNamespaces[key]:
		return fmt.Errorf("%w: %q is reserved", ErrInvalidNamespace, key)
	case !namespacePattern.MatchString(key):
		return fmt.Errorf("%w: %q must be lowercase letters, digits and underscores", ErrInvalidNamespace, key)
	}
	return nil
}

// NormalizeDomain lowercases a hostname and strips a trailing root dot.
// Matching is exact after normalisation; no wildcards.
func NormalizeDomain(domain string) (string, error) {
	d := strings.ToLower(strings.TrimSpace(domain))
	d = strings.TrimSuffix(d, ".")
	if d == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidDomain)
	}
	if len(d) > 253 {
		return "", fmt.Errorf("%w: too long", ErrInvalidDomain)
	}
	if strings.ContainsAny(d, " /:*@?#\t") {
		return "", fmt.Errorf("%w: %q", ErrInvalidDomain, domain)
	}
	return d, nil
}
