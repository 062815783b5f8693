package acl

import (
	"errors"
	"testing"

	"github.com/Maverick0351a/latticedb/internal/types"
)

func boolPtr(b bool) *bool { return &b }

func TestAllow(t *testing.T) {
	tests := []struct {
		name   string
		row    types.ManifestRow
		claims Claims
		want   bool
	}{
		{
			name:   "no acl columns allows everyone",
			row:    types.ManifestRow{},
			claims: Claims{},
			want:   true,
		},
		{
			name:   "public flag allows foreign tenant",
			row:    types.ManifestRow{ACLPublic: boolPtr(true), ACLTenants: []string{"acme"}},
			claims: Claims{Tenant: "other"},
			want:   true,
		},
		{
			name:   "public tenant allows everyone",
			row:    types.ManifestRow{ACLTenants: []string{"public"}},
			claims: Claims{Tenant: "other"},
			want:   true,
		},
		{
			name:   "tenant mismatch denies",
			row:    types.ManifestRow{ACLTenants: []string{"acme"}},
			claims: Claims{Tenant: "other"},
			want:   false,
		},
		{
			name:   "tenant match without role columns allows",
			row:    types.ManifestRow{ACLTenants: []string{"acme"}},
			claims: Claims{Tenant: "acme"},
			want:   true,
		},
		{
			name:   "tenant match requires role intersection",
			row:    types.ManifestRow{ACLTenants: []string{"acme"}, ACLRoles: []string{"analyst"}},
			claims: Claims{Tenant: "acme", Roles: []string{"viewer"}},
			want:   false,
		},
		{
			name:   "tenant and role match allows",
			row:    types.ManifestRow{ACLTenants: []string{"acme"}, ACLRoles: []string{"analyst", "admin"}},
			claims: Claims{Tenant: "acme", Roles: []string{"analyst"}},
			want:   true,
		},
		{
			name:   "roles only row allows role holder",
			row:    types.ManifestRow{ACLRoles: []string{"admin"}},
			claims: Claims{Roles: []string{"admin"}},
			want:   true,
		},
		{
			name:   "empty claims denied on tenant-scoped row",
			row:    types.ManifestRow{ACLTenants: []string{"acme"}},
			claims: Claims{},
			want:   false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Allow(tt.row, tt.claims); got != tt.want {
				t.Errorf("Allow() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFilter_StrictClaims(t *testing.T) {
	f := Filter{Strict: true}
	if err := f.Check(Claims{}); !errors.Is(err, ErrMissingClaims) {
		t.Errorf("err = %v, want ErrMissingClaims", err)
	}
	if err := f.Check(Claims{Tenant: "acme"}); err != nil {
		t.Errorf("err = %v, want nil", err)
	}
}

func TestFilter_LaxClaims(t *testing.T) {
	f := Filter{Strict: false}
	if err := f.Check(Claims{}); err != nil {
		t.Errorf("err = %v, want nil", err)
	}
}
