package accesscontrol

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Permission names one action on one resource, formatted "resource:action".
type Permission string

// NewPermission builds the canonical "resource:action" permission string.
func NewPermission(resource, action string) Permission {
	return Permission(resource + ":" + action)
}

// Resource returns the resource half of the permission.
func (p Permission) Resource() string {
	if i := strings.IndexByte(string(p), ':'); i >= 0 {
		return string(p)[:i]
	}
	return string(p)
}

// Action returns the action half of the permission.
func (p Permission) Action() string {
	if i := strings.IndexByte(string(p), ':'); i >= 0 {
		return string(p)[i+1:]
	}
	return ""
}

// Catalog is the frozen universe of permissions the server understands.
// Resources and views register their permissions during package init / server
// wiring; the catalog is frozen before the first request is served so that a
// typo'd permission is a startup panic, not a silent always-deny.
type Catalog struct {
	mu     sync.RWMutex
	frozen bool
	known  map[Permission]struct{}
}

// NewCatalog creates an empty permission catalog.
func NewCatalog() *Catalog {
	return &Catalog{known: make(map[Permission]struct{})}
}

// Declare registers a permission. Declaring after Freeze or declaring the
// same permission twice is a programming error and panics.
func (c *Catalog) Declare(p Permission) Permission {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.frozen {
		panic(fmt.Sprintf("accesscontrol: permission %q declared after catalog freeze", p))
	}
	if _, exists := c.known[p]; exists {
		panic(fmt.Sprintf("accesscontrol: duplicate permission declaration %q", p))
	}
	c.known[p] = struct{}{}
	return p
}

// DeclareResource registers the given actions for one resource and returns
// the declared permissions in action order.
func (c *Catalog) DeclareResource(resource string, actions ...string) []Permission {
	perms := make([]Permission, 0, len(actions))
	for _, action := range actions {
		perms = append(perms, c.Declare(NewPermission(resource, action)))
	}
	return perms
}

// Freeze closes the catalog. Role ACLs are validated against the frozen set.
func (c *Catalog) Freeze() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frozen = true
}

// Contains reports whether p was declared.
func (c *Catalog) Contains(p Permission) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.known[p]
	return ok
}

// All returns every declared permission, sorted.
func (c *Catalog) All() []Permission {
	c.mu.RLock()
	defer c.mu.RUnlock()
	all := make([]Permission, 0, len(c.known))
	for p := range c.known {
		all = append(all, p)
	}
	sort.Slice(all, func(i, j int) bool { return all[i] < all[j] })
	return all
}

// Role names one of the fixed tenant roles.
type Role string

const (
	RoleAdministrator Role = "administrator"
	RoleOperator      Role = "operator"
	RoleManager       Role = "manager"
	RoleCustomer      Role = "customer"
)

// ACL maps each role to the permission set it holds.
type ACL map[Role][]Permission

// Validate checks that every permission granted by the ACL exists in the
// catalog. Called once at startup after Freeze; an unknown permission is a
// wiring bug and returns an error naming it.
func (a ACL) Validate(catalog *Catalog) error {
	for role, perms := range a {
		for _, p := range perms {
			if !catalog.Contains(p) {
				return fmt.Errorf("role %q grants unknown permission %q", role, p)
			}
		}
	}
	return nil
}

// PermissionsFor returns the permission set for role, nil for unknown roles.
func (a ACL) PermissionsFor(role Role) []Permission {
	return a[role]
}
