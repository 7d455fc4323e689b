package accesscontrol

// Principal is the authenticated caller of a request: the user, the tenant
// the request is scoped to, and the flattened permission set of the user's
// role. It is built once by the authentication middleware and threaded
// through push/pull processing.
type Principal struct {
	UserID      string
	TenantID    string
	Role        Role
	permissions map[Permission]struct{}
}

// NewPrincipal builds a principal holding the given permissions.
func NewPrincipal(userID, tenantID string, role Role, perms []Permission) *Principal {
	set := make(map[Permission]struct{}, len(perms))
	for _, p := range perms {
		set[p] = struct{}{}
	}
	return &Principal{
		UserID:      userID,
		TenantID:    tenantID,
		Role:        role,
		permissions: set,
	}
}

// Has reports whether the principal holds the permission.
func (p *Principal) Has(perm Permission) bool {
	if p == nil {
		return false
	}
	_, ok := p.permissions[perm]
	return ok
}

// Permissions returns the principal's permissions in unspecified order.
func (p *Principal) Permissions() []Permission {
	perms := make([]Permission, 0, len(p.permissions))
	for perm := range p.permissions {
		perms = append(perms, perm)
	}
	return perms
}
