// Package acl implements capability gating over lattices by tenant and role
// columns. ACL columns are a non-attested overlay: they filter routing and
// composition but never enter receipts or the Merkle root.
package acl

import (
	"errors"

	"github.com/Maverick0351a/latticedb/internal/types"
)

// ErrMissingClaims is returned in strict-claims mode when an operation
// arrives without tenant/role claims.
var ErrMissingClaims = errors.New("acl claims required but missing")

// PublicTenant grants access to every caller when present in acl_tenants.
const PublicTenant = "public"

// Claims are the caller's tenant and roles.
type Claims struct {
	Tenant string   `json:"tenant,omitempty"`
	Roles  []string `json:"roles,omitempty"`
}

// Empty reports whether no claims were supplied.
func (c Claims) Empty() bool {
	return c.Tenant == "" && len(c.Roles) == 0
}

// Filter gates manifest rows by claims. Rows with no ACL columns allow
// everyone. In strict mode, absent claims fail with ErrMissingClaims.
type Filter struct {
	Strict bool
}

// Check validates the claims against strict mode. Call once per operation
// before filtering rows.
func (f Filter) Check(c Claims) error {
	if f.Strict && c.Empty() {
		return ErrMissingClaims
	}
	return nil
}

// Allow reports whether the given row is visible to the claims:
// acl_public, the "public" tenant, or a tenant match combined with a role
// intersection. Missing ACL columns default to allow.
func Allow(row types.ManifestRow, c Claims) bool {
	if row.ACLPublic != nil && *row.ACLPublic {
		return true
	}
	for _, t := range row.ACLTenants {
		if t == PublicTenant {
			return true
		}
	}
	if len(row.ACLTenants) == 0 && len(row.ACLRoles) == 0 {
		return true
	}

	tenantOK := len(row.ACLTenants) == 0
	for _, t := range row.ACLTenants {
		if t == c.Tenant && c.Tenant != "" {
			tenantOK = true
			break
		}
	}
	if !tenantOK {
		return false
	}

	if len(row.ACLRoles) == 0 {
		return true
	}
	for _, want := range row.ACLRoles {
		for _, have := range c.Roles {
			if want == have {
				return true
			}
		}
	}
	return false
}
