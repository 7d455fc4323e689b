// Package announcements synchronizes tenant-wide notices shown to every
// user of the workspace.
package announcements

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

const EntityName = "announcement"

const (
	PermReadAll    accesscontrol.Permission = "announcements:read"
	PermReadActive accesscontrol.Permission = "active_announcements:read"
	PermCreate     accesscontrol.Permission = "announcements:create"
	PermUpdate     accesscontrol.Permission = "announcements:update"
	PermDelete     accesscontrol.Permission = "announcements:delete"
)

// Announcement is one tenant-wide notice.
type Announcement struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenantID"`
	AuthorID  string    `json:"authorID"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Version   int64     `json:"version"`
	Deleted   bool      `json:"deleted"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

var ErrAnnouncementNotFound = errors.New("announcement not found")

type Repository struct{}

func NewRepository() *Repository { return &Repository{} }

func (r *Repository) Create(ctx context.Context, tx database.DBTX, a *Announcement) error {
	query := `
		INSERT INTO announcements (id, tenant_id, author_id, title, body, version, deleted, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 1, FALSE, now(), now())`

	if _, err := tx.Exec(ctx, query, a.ID, a.TenantID, a.AuthorID, a.Title, a.Body); err != nil {
		return fmt.Errorf("failed to create announcement: %w", err)
	}
	return nil
}

func (r *Repository) Update(ctx context.Context, tx database.DBTX, a *Announcement) error {
	query := `
		UPDATE announcements
		SET title = $3, body = $4, version = version + 1, updated_at = now()
		WHERE tenant_id = $1 AND id = $2`

	tag, err := tx.Exec(ctx, query, a.TenantID, a.ID, a.Title, a.Body)
	if err != nil {
		return fmt.Errorf("failed to update announcement: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAnnouncementNotFound
	}
	return nil
}

func (r *Repository) SetDeleted(ctx context.Context, tx database.DBTX, tenantID, id string, deleted bool) error {
	query := `
		UPDATE announcements
		SET deleted = $3, version = version + 1, updated_at = now()
		WHERE tenant_id = $1 AND id = $2 AND deleted = NOT $3`

	tag, err := tx.Exec(ctx, query, tenantID, id, deleted)
	if err != nil {
		return fmt.Errorf("failed to change announcement deletion: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAnnouncementNotFound
	}
	return nil
}

// DeclarePermissions registers every announcement permission in the catalog.
func DeclarePermissions(catalog *accesscontrol.Catalog) {
	catalog.Declare(PermReadAll)
	catalog.Declare(PermReadActive)
	catalog.Declare(PermCreate)
	catalog.Declare(PermUpdate)
	catalog.Declare(PermDelete)
}

// RegisterResolvers wires the two permission-scoped query tuples.
func RegisterResolvers(resolvers *sync.ResolverSet) {
	resolvers.Register(EntityName, PermReadAll, scopedQueries(""))
	resolvers.Register(EntityName, PermReadActive, scopedQueries("AND a.deleted = FALSE"))
}

const announcementColumns = `a.id, a.tenant_id, a.author_id, a.title, a.body, a.version, a.deleted, a.created_at, a.updated_at`

func scopedQueries(visibility string) sync.Queries {
	return sync.Queries{
		FindCreates: func(ctx context.Context, tx database.DBTX, scope sync.Scope) ([]sync.Entity, error) {
			query := `
				SELECT ` + announcementColumns + `
				FROM announcements a
				WHERE a.tenant_id = @tenant_id ` + visibility + `
				AND NOT EXISTS (
					SELECT 1 FROM client_view_records r
					WHERE r.client_group_id = @client_group_id
					AND r.entity = 'announcement' AND r.entity_id = a.id
				)`
			return queryEntities(ctx, tx, query, scopeArgs(scope))
		},
		FindUpdates: func(ctx context.Context, tx database.DBTX, scope sync.Scope) ([]sync.Entity, error) {
			query := `
				SELECT ` + announcementColumns + `
				FROM announcements a
				JOIN client_view_records r
					ON r.client_group_id = @client_group_id
					AND r.entity = 'announcement' AND r.entity_id = a.id
				WHERE a.tenant_id = @tenant_id ` + visibility + `
				AND r.entity_version IS DISTINCT FROM a.version`
			return queryEntities(ctx, tx, query, scopeArgs(scope))
		},
		FindDeletes: func(ctx context.Context, tx database.DBTX, scope sync.Scope) ([]string, error) {
			query := `
				SELECT r.entity_id
				FROM client_view_records r
				WHERE r.client_group_id = @client_group_id
				AND r.entity = 'announcement'
				AND ((r.client_view_version <= @cookie_order AND r.entity_version IS NOT NULL)
					OR r.client_view_version > @cookie_order)
				AND NOT EXISTS (
					SELECT 1 FROM announcements a
					WHERE a.id = r.entity_id AND a.tenant_id = @tenant_id ` + visibility + `
				)`
			rows, err := tx.Query(ctx, query, scopeArgs(scope))
			if err != nil {
				return nil, fmt.Errorf("failed to query announcement ids: %w", err)
			}
			defer rows.Close()
			var ids []string
			for rows.Next() {
				var id string
				if err := rows.Scan(&id); err != nil {
					return nil, fmt.Errorf("failed to scan announcement id: %w", err)
				}
				ids = append(ids, id)
			}
			return ids, rows.Err()
		},
		FastForward: func(ctx context.Context, tx database.DBTX, scope sync.Scope, excludeIDs []string) ([]sync.Entity, error) {
			query := `
				SELECT ` + announcementColumns + `
				FROM announcements a
				JOIN client_view_records r
					ON r.client_group_id = @client_group_id
					AND r.entity = 'announcement' AND r.entity_id = a.id
				WHERE a.tenant_id = @tenant_id ` + visibility + `
				AND r.client_view_version > @cookie_order
				AND r.entity_version = a.version
				AND a.id <> ALL(@exclude_ids)`
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
		return nil, fmt.Errorf("failed to query announcements: %w", err)
	}
	defer rows.Close()

	var entities []sync.Entity
	for rows.Next() {
		var a Announcement
		err := rows.Scan(&a.ID, &a.TenantID, &a.AuthorID, &a.Title, &a.Body, &a.Version, &a.Deleted, &a.CreatedAt, &a.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan announcement: %w", err)
		}
		entities = append(entities, sync.Entity{ID: a.ID, Version: a.Version, Data: a})
	}
	return entities, rows.Err()
}

type CreateAnnouncementArgs struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Body  string `json:"body"`
}

func (a *CreateAnnouncementArgs) Validate() error {
	if a.ID == "" {
		return &mutation.ValidationError{Field: "id", Reason: "must not be empty"}
	}
	if a.Title == "" {
		return &mutation.ValidationError{Field: "title", Reason: "must not be empty"}
	}
	return nil
}

type EditAnnouncementArgs struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Body  string `json:"body"`
}

func (a *EditAnnouncementArgs) Validate() error {
	if a.ID == "" {
		return &mutation.ValidationError{Field: "id", Reason: "must not be empty"}
	}
	if a.Title == "" {
		return &mutation.ValidationError{Field: "title", Reason: "must not be empty"}
	}
	return nil
}

type AnnouncementIDArgs struct {
	ID string `json:"id"`
}

func (a *AnnouncementIDArgs) Validate() error {
	if a.ID == "" {
		return &mutation.ValidationError{Field: "id", Reason: "must not be empty"}
	}
	return nil
}

// RegisterMutations wires the announcement mutators into the registry.
func RegisterMutations(registry *mutation.Registry, repo *Repository) {
	registry.Register(mutation.New(
		"createAnnouncement",
		func(args CreateAnnouncementArgs) accesscontrol.Policy {
			return accesscontrol.HasPermission(PermCreate)
		},
		func(ctx context.Context, tx database.DBTX, principal *accesscontrol.Principal, args CreateAnnouncementArgs) error {
			return repo.Create(ctx, tx, &Announcement{
				ID:       args.ID,
				TenantID: principal.TenantID,
				AuthorID: principal.UserID,
				Title:    args.Title,
				Body:     args.Body,
			})
		},
	))

	registry.Register(mutation.New(
		"editAnnouncement",
		func(args EditAnnouncementArgs) accesscontrol.Policy {
			return accesscontrol.HasPermission(PermUpdate)
		},
		func(ctx context.Context, tx database.DBTX, principal *accesscontrol.Principal, args EditAnnouncementArgs) error {
			return repo.Update(ctx, tx, &Announcement{
				ID:       args.ID,
				TenantID: principal.TenantID,
				Title:    args.Title,
				Body:     args.Body,
			})
		},
	))

	registry.Register(mutation.New(
		"deleteAnnouncement",
		func(args AnnouncementIDArgs) accesscontrol.Policy {
			return accesscontrol.HasPermission(PermDelete)
		},
		func(ctx context.Context, tx database.DBTX, principal *accesscontrol.Principal, args AnnouncementIDArgs) error {
			return repo.SetDeleted(ctx, tx, principal.TenantID, args.ID, true)
		},
	))

	registry.Register(mutation.New(
		"restoreAnnouncement",
		func(args AnnouncementIDArgs) accesscontrol.Policy {
			return accesscontrol.HasPermission(PermDelete)
		},
		func(ctx context.Context, tx database.DBTX, principal *accesscontrol.Principal, args AnnouncementIDArgs) error {
			return repo.SetDeleted(ctx, tx, principal.TenantID, args.ID, false)
		},
	))
}
