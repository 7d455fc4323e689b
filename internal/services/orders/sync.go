package orders

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/printmesh/printmesh/internal/accesscontrol"
	"github.com/printmesh/printmesh/internal/sync"
	"github.com/printmesh/printmesh/pkg/database"
)

// EntityName is the key prefix orders use in pull patches.
const EntityName = "order"

// Read scopes. Administrators see the base table including soft-deleted
// rows, operators and managers see active orders, customers only the active
// orders they placed themselves.
const (
	PermReadAll       accesscontrol.Permission = "orders:read"
	PermReadActive    accesscontrol.Permission = "active_orders:read"
	PermReadActiveOwn accesscontrol.Permission = "active_customer_placed_orders:read"
	PermCreate        accesscontrol.Permission = "orders:create"
	PermUpdate        accesscontrol.Permission = "orders:update"
	PermDelete        accesscontrol.Permission = "orders:delete"
)

// DeclarePermissions registers every order permission in the catalog.
func DeclarePermissions(catalog *accesscontrol.Catalog) {
	catalog.Declare(PermReadAll)
	catalog.Declare(PermReadActive)
	catalog.Declare(PermReadActiveOwn)
	catalog.Declare(PermCreate)
	catalog.Declare(PermUpdate)
	catalog.Declare(PermDelete)
}

// RegisterResolvers wires the three permission-scoped difference query
// tuples into the resolver set.
func RegisterResolvers(resolvers *sync.ResolverSet) {
	resolvers.Register(EntityName, PermReadAll, scopedQueries(""))
	resolvers.Register(EntityName, PermReadActive, scopedQueries("AND o.deleted = FALSE"))
	resolvers.Register(EntityName, PermReadActiveOwn, scopedQueries("AND o.deleted = FALSE AND o.customer_id = @user_id"))
}

// scopedQueries builds the four difference queries with the given extra
// visibility filter spliced into each one. The filter may reference
// @tenant_id and @user_id.
func scopedQueries(visibility string) sync.Queries {
	return sync.Queries{
		FindCreates: func(ctx context.Context, tx database.DBTX, scope sync.Scope) ([]sync.Entity, error) {
			query := `
				SELECT ` + prefixedOrderColumns + `
				FROM orders o
				WHERE o.tenant_id = @tenant_id ` + visibility + `
				AND NOT EXISTS (
					SELECT 1 FROM client_view_records r
					WHERE r.client_group_id = @client_group_id
					AND r.entity = 'order' AND r.entity_id = o.id
				)`
			return queryEntities(ctx, tx, query, scopeArgs(scope))
		},
		FindUpdates: func(ctx context.Context, tx database.DBTX, scope sync.Scope) ([]sync.Entity, error) {
			query := `
				SELECT ` + prefixedOrderColumns + `
				FROM orders o
				JOIN client_view_records r
					ON r.client_group_id = @client_group_id
					AND r.entity = 'order' AND r.entity_id = o.id
				WHERE o.tenant_id = @tenant_id ` + visibility + `
				AND r.entity_version IS DISTINCT FROM o.version`
			return queryEntities(ctx, tx, query, scopeArgs(scope))
		},
		FindDeletes: func(ctx context.Context, tx database.DBTX, scope sync.Scope) ([]string, error) {
			query := `
				SELECT r.entity_id
				FROM client_view_records r
				WHERE r.client_group_id = @client_group_id
				AND r.entity = 'order'
				AND ((r.client_view_version <= @cookie_order AND r.entity_version IS NOT NULL)
					OR r.client_view_version > @cookie_order)
				AND NOT EXISTS (
					SELECT 1 FROM orders o
					WHERE o.id = r.entity_id AND o.tenant_id = @tenant_id ` + visibility + `
				)`
			return queryIDs(ctx, tx, query, scopeArgs(scope))
		},
		FastForward: func(ctx context.Context, tx database.DBTX, scope sync.Scope, excludeIDs []string) ([]sync.Entity, error) {
			query := `
				SELECT ` + prefixedOrderColumns + `
				FROM orders o
				JOIN client_view_records r
					ON r.client_group_id = @client_group_id
					AND r.entity = 'order' AND r.entity_id = o.id
				WHERE o.tenant_id = @tenant_id ` + visibility + `
				AND r.client_view_version > @cookie_order
				AND r.entity_version = o.version
				AND o.id <> ALL(@exclude_ids)`
			args := scopeArgs(scope)
			args["exclude_ids"] = excludeIDs
			return queryEntities(ctx, tx, query, args)
		},
	}
}

const prefixedOrderColumns = `o.id, o.tenant_id, o.customer_id, o.product_name, o.quantity, o.status, o.notes, o.version, o.deleted, o.created_at, o.updated_at`

func scopeArgs(scope sync.Scope) pgx.NamedArgs {
	return pgx.NamedArgs{
		"tenant_id":       scope.TenantID,
		"user_id":         scope.UserID,
		"client_group_id": scope.ClientGroupID,
		"cookie_order":    scope.CookieOrder,
	}
}

func queryEntities(ctx context.Context, tx database.DBTX, query string, args pgx.NamedArgs) ([]sync.Entity, error) {
	rows, err := tx.Query(ctx, query, args)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var entities []sync.Entity
	for rows.Next() {
		var order Order
		err := rows.Scan(
			&order.ID, &order.TenantID, &order.CustomerID, &order.ProductName,
			&order.Quantity, &order.Status, &order.Notes, &order.Version,
			&order.Deleted, &order.CreatedAt, &order.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		entities = append(entities, sync.Entity{ID: order.ID, Version: order.Version, Data: order})
	}
	return entities, rows.Err()
}

func queryIDs(ctx context.Context, tx database.DBTX, query string, args pgx.NamedArgs) ([]string, error) {
	rows, err := tx.Query(ctx, query, args)
	if err != nil {
		return nil, fmt.Errorf("failed to query order ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan order id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
