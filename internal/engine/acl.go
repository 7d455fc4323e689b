package engine

import (
	"github.com/printmesh/printmesh/internal/accesscontrol"
	"github.com/printmesh/printmesh/internal/services/announcements"
	"github.com/printmesh/printmesh/internal/services/orders"
	"github.com/printmesh/printmesh/internal/services/tenants"
	"github.com/printmesh/printmesh/internal/services/users"
)

// BuildCatalog derives the permission universe from every synchronized
// resource and freezes it. Duplicate declarations panic, so a permission
// collision is caught at startup.
func BuildCatalog() *accesscontrol.Catalog {
	catalog := accesscontrol.NewCatalog()
	orders.DeclarePermissions(catalog)
	announcements.DeclarePermissions(catalog)
	tenants.DeclarePermissions(catalog)
	users.DeclarePermissions(catalog)
	catalog.Freeze()
	return catalog
}

// DefaultACL maps the four tenant roles onto permission sets.
// Administrators read base tables, operators read active views, managers
// and customers read the views scoped to what they are authorized for.
func DefaultACL() accesscontrol.ACL {
	return accesscontrol.ACL{
		accesscontrol.RoleAdministrator: {
			orders.PermReadAll, orders.PermCreate, orders.PermUpdate, orders.PermDelete,
			announcements.PermReadAll, announcements.PermCreate, announcements.PermUpdate, announcements.PermDelete,
			tenants.PermRead, tenants.PermUpdate,
			users.PermReadAll, users.PermUpdate,
		},
		accesscontrol.RoleOperator: {
			orders.PermReadActive, orders.PermCreate, orders.PermUpdate,
			announcements.PermReadActive, announcements.PermCreate, announcements.PermUpdate,
			tenants.PermRead,
			users.PermReadActive,
		},
		accesscontrol.RoleManager: {
			orders.PermReadActive, orders.PermCreate, orders.PermUpdate, orders.PermDelete,
			announcements.PermReadActive, announcements.PermCreate,
			tenants.PermRead,
			users.PermReadActive,
		},
		accesscontrol.RoleCustomer: {
			orders.PermReadActiveOwn, orders.PermCreate,
			announcements.PermReadActive,
			tenants.PermRead,
			users.PermReadActive,
		},
	}
}
