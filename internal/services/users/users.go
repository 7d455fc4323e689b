// Package users holds user profiles, authentication and sessions.
package users

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

const EntityName = "user"

const (
	PermReadAll    accesscontrol.Permission = "users:read"
	PermReadActive accesscontrol.Permission = "active_users:read"
	PermUpdate     accesscontrol.Permission = "users:update"
)

// User is one member of a tenant. The password hash never leaves the
// server.
type User struct {
	ID           string    `json:"id"`
	TenantID     string    `json:"tenantID"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	Role         string    `json:"role"`
	PasswordHash string    `json:"-"`
	Version      int64     `json:"version"`
	Deleted      bool      `json:"deleted"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

var ErrUserNotFound = errors.New("user not found")

type Repository struct{}

func NewRepository() *Repository { return &Repository{} }

const userColumns = `id, tenant_id, email, name, role, password_hash, version, deleted, created_at, updated_at`

func scanUser(row pgx.Row) (*User, error) {
	var user User
	err := row.Scan(
		&user.ID, &user.TenantID, &user.Email, &user.Name, &user.Role,
		&user.PasswordHash, &user.Version, &user.Deleted, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	return &user, nil
}

// Get fetches one user by id within a tenant.
func (r *Repository) Get(ctx context.Context, tx database.DBTX, tenantID, id string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE tenant_id = $1 AND id = $2`
	return scanUser(tx.QueryRow(ctx, query, tenantID, id))
}

// GetByEmail fetches one user by email within a tenant, for login.
func (r *Repository) GetByEmail(ctx context.Context, tx database.DBTX, tenantID, email string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE tenant_id = $1 AND lower(email) = lower($2)`
	return scanUser(tx.QueryRow(ctx, query, tenantID, email))
}

// UpdateProfile rewrites the display name and bumps the version.
func (r *Repository) UpdateProfile(ctx context.Context, tx database.DBTX, tenantID, id, name string) error {
	query := `
		UPDATE users
		SET name = $3, version = version + 1, updated_at = now()
		WHERE tenant_id = $1 AND id = $2`

	tag, err := tx.Exec(ctx, query, tenantID, id, name)
	if err != nil {
		return fmt.Errorf("failed to update user profile: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// DeclarePermissions registers the user permissions in the catalog.
func DeclarePermissions(catalog *accesscontrol.Catalog) {
	catalog.Declare(PermReadAll)
	catalog.Declare(PermReadActive)
	catalog.Declare(PermUpdate)
}

// RegisterResolvers wires the two permission-scoped query tuples.
func RegisterResolvers(resolvers *sync.ResolverSet) {
	resolvers.Register(EntityName, PermReadAll, scopedQueries(""))
	resolvers.Register(EntityName, PermReadActive, scopedQueries("AND u.deleted = FALSE"))
}

const prefixedUserColumns = `u.id, u.tenant_id, u.email, u.name, u.role, u.password_hash, u.version, u.deleted, u.created_at, u.updated_at`

func scopedQueries(visibility string) sync.Queries {
	return sync.Queries{
		FindCreates: func(ctx context.Context, tx database.DBTX, scope sync.Scope) ([]sync.Entity, error) {
			query := `
				SELECT ` + prefixedUserColumns + `
				FROM users u
				WHERE u.tenant_id = @tenant_id ` + visibility + `
				AND NOT EXISTS (
					SELECT 1 FROM client_view_records r
					WHERE r.client_group_id = @client_group_id
					AND r.entity = 'user' AND r.entity_id = u.id
				)`
			return queryEntities(ctx, tx, query, scopeArgs(scope))
		},
		FindUpdates: func(ctx context.Context, tx database.DBTX, scope sync.Scope) ([]sync.Entity, error) {
			query := `
				SELECT ` + prefixedUserColumns + `
				FROM users u
				JOIN client_view_records r
					ON r.client_group_id = @client_group_id
					AND r.entity = 'user' AND r.entity_id = u.id
				WHERE u.tenant_id = @tenant_id ` + visibility + `
				AND r.entity_version IS DISTINCT FROM u.version`
			return queryEntities(ctx, tx, query, scopeArgs(scope))
		},
		FindDeletes: func(ctx context.Context, tx database.DBTX, scope sync.Scope) ([]string, error) {
			query := `
				SELECT r.entity_id
				FROM client_view_records r
				WHERE r.client_group_id = @client_group_id
				AND r.entity = 'user'
				AND ((r.client_view_version <= @cookie_order AND r.entity_version IS NOT NULL)
					OR r.client_view_version > @cookie_order)
				AND NOT EXISTS (
					SELECT 1 FROM users u
					WHERE u.id = r.entity_id AND u.tenant_id = @tenant_id ` + visibility + `
				)`
			rows, err := tx.Query(ctx, query, scopeArgs(scope))
			if err != nil {
				return nil, fmt.Errorf("failed to query user ids: %w", err)
			}
			defer rows.Close()
			var ids []string
			for rows.Next() {
				var id string
				if err := rows.Scan(&id); err != nil {
					return nil, fmt.Errorf("failed to scan user id: %w", err)
				}
				ids = append(ids, id)
			}
			return ids, rows.Err()
		},
		FastForward: func(ctx context.Context, tx database.DBTX, scope sync.Scope, excludeIDs []string) ([]sync.Entity, error) {
			query := `
				SELECT ` + prefixedUserColumns + `
				FROM users u
				JOIN client_view_records r
					ON r.client_group_id = @client_group_id
					AND r.entity = 'user' AND r.entity_id = u.id
				WHERE u.tenant_id = @tenant_id ` + visibility + `
				AND r.client_view_version > @cookie_order
				AND r.entity_version = u.version
				AND u.id <> ALL(@exclude_ids)`
			args := scopeArgs(scope)
			args["exclude_ids"] = excludeIDs
			return queryEntities(ctx, tx, query, args)
		},
	}
}

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
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	var entities []sync.Entity
	for rows.Next() {
		var user User
		err := rows.Scan(
			&user.ID, &user.TenantID, &user.Email, &user.Name, &user.Role,
			&user.PasswordHash, &user.Version, &user.Deleted, &user.CreatedAt, &user.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		entities = append(entities, sync.Entity{ID: user.ID, Version: user.Version, Data: user})
	}
	return entities, rows.Err()
}

type UpdateProfileArgs struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (a *UpdateProfileArgs) Validate() error {
	if a.ID == "" {
		return &mutation.ValidationError{Field: "id", Reason: "must not be empty"}
	}
	if a.Name == "" {
		return &mutation.ValidationError{Field: "name", Reason: "must not be empty"}
	}
	return nil
}

// RegisterMutations wires the user mutators. Anyone may rename themselves;
// renaming someone else needs the tenant-wide update permission.
func RegisterMutations(registry *mutation.Registry) {
	repo := NewRepository()
	registry.Register(mutation.New(
		"updateUserProfile",
		func(args UpdateProfileArgs) accesscontrol.Policy {
			return accesscontrol.Some(
				accesscontrol.HasPermission(PermUpdate),
				accesscontrol.PolicyFunc("users may only edit their own profile",
					func(ctx context.Context, principal *accesscontrol.Principal) (bool, error) {
						return principal.UserID == args.ID, nil
					}),
			)
		},
		func(ctx context.Context, tx database.DBTX, principal *accesscontrol.Principal, args UpdateProfileArgs) error {
			return repo.UpdateProfile(ctx, tx, principal.TenantID, args.ID, args.Name)
		},
	))
}
