package sync

import (
	"context"
	"fmt"
	"sort"

	"github.com/printmesh/printmesh/internal/accesscontrol"
	"github.com/printmesh/printmesh/pkg/database"
)

// Entity is one synchronized row as the resolver sees it: its id, its
// current version, and the payload sent to clients in put operations.
type Entity struct {
	ID      string
	Version int64
	Data    any
}

// Scope parameterizes the difference queries: whose view, which tenant, and
// which cookie the client is diffing against.
type Scope struct {
	TenantID      string
	UserID        string
	ClientGroupID string
	CookieOrder   int64
}

// Queries is the four difference query shapes one permission-gated view of
// one entity must implement.
//
// FindCreates: visible rows the group's record set does not know yet.
// FindUpdates: visible rows whose recorded entityVersion differs from the
// current row version.
// FindDeletes: recorded ids no longer visible under this view.
// FastForward: rows the client already has current content for but whose
// record was re-written after the client's cookie, re-sent only to repair
// bookkeeping; excludeIDs suppresses ids creates/updates already cover.
type Queries struct {
	FindCreates func(ctx context.Context, tx database.DBTX, scope Scope) ([]Entity, error)
	FindUpdates func(ctx context.Context, tx database.DBTX, scope Scope) ([]Entity, error)
	FindDeletes func(ctx context.Context, tx database.DBTX, scope Scope) ([]string, error)
	FastForward func(ctx context.Context, tx database.DBTX, scope Scope, excludeIDs []string) ([]Entity, error)
}

type scopedReader struct {
	permission accesscontrol.Permission
	queries    Queries
}

type entityResolver struct {
	name    string
	readers []scopedReader
}

// ResolverSet holds, per synchronized entity, one Queries tuple per
// permission scope. Only scopes the calling principal holds contribute to a
// diff, which is how row-level read authorization works without per-row
// checks.
type ResolverSet struct {
	entities []*entityResolver
	index    map[string]*entityResolver
}

// NewResolverSet creates an empty resolver set.
func NewResolverSet() *ResolverSet {
	return &ResolverSet{index: make(map[string]*entityResolver)}
}

// Register adds a permission-scoped reader for an entity. Registering the
// same (entity, permission) pair twice is a programming error and panics.
func (s *ResolverSet) Register(entity string, permission accesscontrol.Permission, queries Queries) {
	resolver, ok := s.index[entity]
	if !ok {
		resolver = &entityResolver{name: entity}
		s.index[entity] = resolver
		s.entities = append(s.entities, resolver)
	}
	for _, reader := range resolver.readers {
		if reader.permission == permission {
			panic(fmt.Sprintf("sync: duplicate resolver registration for %s under %q", entity, permission))
		}
	}
	resolver.readers = append(resolver.readers, scopedReader{permission: permission, queries: queries})
}

// EntityDiff is the delta for one entity.
type EntityDiff struct {
	Entity       string
	Creates      []Entity
	Updates      []Entity
	Deletes      []string
	FastForwards []Entity
}

func (d *EntityDiff) empty() bool {
	return len(d.Creates) == 0 && len(d.Updates) == 0 && len(d.Deletes) == 0 && len(d.FastForwards) == 0
}

// Diff is the full delta of one pull.
type Diff []EntityDiff

// Empty reports whether the diff carries no operations at all.
func (d Diff) Empty() bool {
	for i := range d {
		if !d[i].empty() {
			return false
		}
	}
	return true
}

// Resolve computes the per-entity diff for the principal. Scopes the
// principal does not hold are skipped silently; results from multiple held
// scopes are unioned with ids deduplicated. FastForward queries run only
// when fastForward is set, i.e. when the client's cookie is older than the
// group's newest issued cookie.
func (s *ResolverSet) Resolve(ctx context.Context, tx database.DBTX, principal *accesscontrol.Principal, scope Scope, fastForward bool) (Diff, error) {
	diff := make(Diff, 0, len(s.entities))
	for _, resolver := range s.entities {
		entityDiff, err := resolver.resolve(ctx, tx, principal, scope, fastForward)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s diff: %w", resolver.name, err)
		}
		diff = append(diff, *entityDiff)
	}
	return diff, nil
}

func (r *entityResolver) resolve(ctx context.Context, tx database.DBTX, principal *accesscontrol.Principal, scope Scope, fastForward bool) (*EntityDiff, error) {
	diff := &EntityDiff{Entity: r.name}
	sent := make(map[string]struct{})
	deletes := make(map[string]struct{})

	for _, reader := range r.readers {
		if !principal.Has(reader.permission) {
			continue
		}

		creates, err := reader.queries.FindCreates(ctx, tx, scope)
		if err != nil {
			return nil, err
		}
		for _, entity := range creates {
			if _, seen := sent[entity.ID]; seen {
				continue
			}
			sent[entity.ID] = struct{}{}
			diff.Creates = append(diff.Creates, entity)
		}

		updates, err := reader.queries.FindUpdates(ctx, tx, scope)
		if err != nil {
			return nil, err
		}
		for _, entity := range updates {
			if _, seen := sent[entity.ID]; seen {
				continue
			}
			sent[entity.ID] = struct{}{}
			diff.Updates = append(diff.Updates, entity)
		}

		deleted, err := reader.queries.FindDeletes(ctx, tx, scope)
		if err != nil {
			return nil, err
		}
		for _, id := range deleted {
			deletes[id] = struct{}{}
		}
	}

	if fastForward {
		exclude := make([]string, 0, len(sent))
		for id := range sent {
			exclude = append(exclude, id)
		}
		sort.Strings(exclude)

		for _, reader := range r.readers {
			if !principal.Has(reader.permission) {
				continue
			}
			forwards, err := reader.queries.FastForward(ctx, tx, scope, exclude)
			if err != nil {
				return nil, err
			}
			for _, entity := range forwards {
				if _, seen := sent[entity.ID]; seen {
					continue
				}
				sent[entity.ID] = struct{}{}
				diff.FastForwards = append(diff.FastForwards, entity)
			}
		}
	}

	// A row sent under any held scope is not a delete, even if another
	// scope stopped seeing it.
	for id := range deletes {
		if _, seen := sent[id]; !seen {
			diff.Deletes = append(diff.Deletes, id)
		}
	}
	sort.Strings(diff.Deletes)

	return diff, nil
}
