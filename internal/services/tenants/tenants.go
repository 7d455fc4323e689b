// Package tenants holds the workspace settings row each tenant syncs.
package tenants

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/printmesh/printmesh/internal/accesscontrol"
	"github.com/printmesh/printmesh/internal/mutation"
	"github.com/printmesh/printmesh/internal/sync"
	"github.com/printmesh/printmesh/pkg/database"
)

const EntityName = "tenant"

const (
	PermRead   accesscontrol.Permission = "tenants:read"
	PermUpdate accesscontrol.Permission = "tenants:update"
)

// Tenant is one workspace. Every tenant-scoped table references its id; the
// URL slug routes requests to it.
type Tenant struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Name      string    `json:"name"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

var ErrTenantNotFound = errors.New("tenant not found")

type Repository struct{}

func NewRepository() *Repository { return &Repository{} }

const tenantColumns = `id, url, name, version, created_at, updated_at`

func scanTenant(row pgx.Row) (*Tenant, error) {
	var tenant Tenant
	err := row.Scan(&tenant.ID, &tenant.URL, &tenant.Name, &tenant.Version, &tenant.CreatedAt, &tenant.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTenantNotFound
		}
		return nil, fmt.Errorf("failed to scan tenant: %w", err)
	}
	return &tenant, nil
}

// GetByURL resolves the tenant a request is addressed to.
func (r *Repository) GetByURL(ctx context.Context, tx database.DBTX, url string) (*Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants WHERE url = $1`
	return scanTenant(tx.QueryRow(ctx, query, url))
}

// Get fetches a tenant by id.
func (r *Repository) Get(ctx context.Context, tx database.DBTX, id string) (*Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants WHERE id = $1`
	return scanTenant(tx.QueryRow(ctx, query, id))
}

// Update renames the workspace and bumps the version.
func (r *Repository) Update(ctx context.Context, tx database.DBTX, id, name string) error {
	query := `UPDATE tenants SET name = $2, version = version + 1, updated_at = now() WHERE id = $1`
	tag, err := tx.Exec(ctx, query, id, name)
	if err != nil {
		return fmt.Errorf("failed to update tenant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTenantNotFound
	}
	return nil
}

// DeclarePermissions registers the tenant permissions in the catalog.
func DeclarePermissions(catalog *accesscontrol.Catalog) {
	catalog.Declare(PermRead)
	catalog.Declare(PermUpdate)
}

// RegisterResolvers wires the single-row tenant diff. The "set" a client
// tracks is just its own tenant row, so deletes never occur and the four
// query shapes degenerate accordingly.
func RegisterResolvers(resolvers *sync.ResolverSet) {
	resolvers.Register(EntityName, PermRead, sync.Queries{
		FindCreates: func(ctx context.Context, tx database.DBTX, scope sync.Scope) ([]sync.Entity, error) {
			query := `
				SELECT ` + tenantColumns + `
				FROM tenants t
				WHERE t.id = $1
				AND NOT EXISTS (
					SELECT 1 FROM client_view_records r
					WHERE r.client_group_id = $2 AND r.entity = 'tenant' AND r.entity_id = t.id
				)`
			return queryOne(ctx, tx, query, scope.TenantID, scope.ClientGroupID)
		},
		FindUpdates: func(ctx context.Context, tx database.DBTX, scope sync.Scope) ([]sync.Entity, error) {
			query := `
				SELECT ` + tenantColumns + `
				FROM tenants t
				JOIN client_view_records r
					ON r.client_group_id = $2 AND r.entity = 'tenant' AND r.entity_id = t.id
				WHERE t.id = $1
				AND r.entity_version IS DISTINCT FROM t.version`
			return queryOne(ctx, tx, query, scope.TenantID, scope.ClientGroupID)
		},
		FindDeletes: func(ctx context.Context, tx database.DBTX, scope sync.Scope) ([]string, error) {
			return nil, nil
		},
		FastForward: func(ctx context.Context, tx database.DBTX, scope sync.Scope, excludeIDs []string) ([]sync.Entity, error) {
			query := `
				SELECT ` + tenantColumns + `
				FROM tenants t
				JOIN client_view_records r
					ON r.client_group_id = $2 AND r.entity = 'tenant' AND r.entity_id = t.id
				WHERE t.id = $1
				AND r.client_view_version > $3
				AND r.entity_version = t.version
				AND t.id <> ALL($4)`
			return queryOne(ctx, tx, query, scope.TenantID, scope.ClientGroupID, scope.CookieOrder, excludeIDs)
		},
	})
}

func queryOne(ctx context.Context, tx database.DBTX, query string, args ...any) ([]sync.Entity, error) {
	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tenant: %w", err)
	}
	defer rows.Close()

	var entities []sync.Entity
	for rows.Next() {
		var tenant Tenant
		err := rows.Scan(&tenant.ID, &tenant.URL, &tenant.Name, &tenant.Version, &tenant.CreatedAt, &tenant.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tenant: %w", err)
		}
		entities = append(entities, sync.Entity{ID: tenant.ID, Version: tenant.Version, Data: tenant})
	}
	return entities, rows.Err()
}

type EditTenantArgs struct {
	Name string `json:"name"`
}

func (a *EditTenantArgs) Validate() error {
	if a.Name == "" {
		return &mutation.ValidationError{Field: "name", Reason: "must not be empty"}
	}
	return nil
}

// RegisterMutations wires the tenant mutators into the registry.
func RegisterMutations(registry *mutation.Registry, repo *Repository) {
	registry.Register(mutation.New(
		"editTenant",
		func(args EditTenantArgs) accesscontrol.Policy {
			return accesscontrol.HasPermission(PermUpdate)
		},
		func(ctx context.Context, tx database.DBTX, principal *accesscontrol.Principal, args EditTenantArgs) error {
			return repo.Update(ctx, tx, principal.TenantID, args.Name)
		},
	))
}
