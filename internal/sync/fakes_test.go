package sync

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/printmesh/printmesh/internal/accesscontrol"
	"github.com/printmesh/printmesh/internal/mutation"
	"github.com/printmesh/printmesh/pkg/database"
	"github.com/printmesh/printmesh/pkg/logger"
)

func testLogger() *logger.Logger {
	log := logger.New("sync-test", "0.0.0")
	log.DisableConsoleOutput()
	return log
}

// fakeRunner satisfies TxRunner without a database. Success-only hooks run
// after fn returns nil, mirroring commit ordering.
type fakeRunner struct {
	pending []func(context.Context)
}

func (r *fakeRunner) Run(ctx context.Context, fn func(context.Context, database.DBTX) error) error {
	r.pending = nil
	err := fn(ctx, nil)
	if err == nil {
		for _, hook := range r.pending {
			hook(ctx)
		}
	}
	return err
}

func (r *fakeRunner) AfterCommit(ctx context.Context, fn func(context.Context), onSuccessOnly bool) {
	r.pending = append(r.pending, fn)
}

// memStores implements every sync store interface over maps.
type memStores struct {
	groups  map[string]*ClientGroup
	clients map[string]*Client
	views   map[string]map[int64]*ClientView
	records map[string]map[string]ClientViewRecord // group -> entity/id -> record
}

func newMemStores() *memStores {
	return &memStores{
		groups:  make(map[string]*ClientGroup),
		clients: make(map[string]*Client),
		views:   make(map[string]map[int64]*ClientView),
		records: make(map[string]map[string]ClientViewRecord),
	}
}

func (s *memStores) GetForUpdate(ctx context.Context, tx database.DBTX, id string) (*ClientGroup, error) {
	group, ok := s.groups[id]
	if !ok {
		return nil, ErrGroupNotFound
	}
	copied := *group
	return &copied, nil
}

func (s *memStores) Insert(ctx context.Context, tx database.DBTX, group *ClientGroup) error {
	copied := *group
	copied.UpdatedAt = time.Now()
	s.groups[group.ID] = &copied
	return nil
}

func (s *memStores) Update(ctx context.Context, tx database.DBTX, group *ClientGroup) error {
	copied := *group
	copied.UpdatedAt = time.Now()
	s.groups[group.ID] = &copied
	return nil
}

func (s *memStores) ListExpired(ctx context.Context, tx database.DBTX, cutoff time.Time, limit int) ([]string, error) {
	var ids []string
	for id, group := range s.groups {
		if group.UpdatedAt.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (s *memStores) DeleteCascade(ctx context.Context, tx database.DBTX, id string) error {
	delete(s.groups, id)
	delete(s.views, id)
	delete(s.records, id)
	for clientID, client := range s.clients {
		if client.ClientGroupID == id {
			delete(s.clients, clientID)
		}
	}
	return nil
}

type memClientStore struct{ stores *memStores }

func (s *memClientStore) GetForUpdate(ctx context.Context, tx database.DBTX, id string) (*Client, error) {
	client, ok := s.stores.clients[id]
	if !ok {
		return nil, ErrClientNotFound
	}
	copied := *client
	return &copied, nil
}

func (s *memClientStore) Insert(ctx context.Context, tx database.DBTX, client *Client) error {
	copied := *client
	s.stores.clients[client.ID] = &copied
	return nil
}

func (s *memClientStore) UpdateMutationProgress(ctx context.Context, tx database.DBTX, id string, lastMutationID, clientVersion int64) error {
	client := s.stores.clients[id]
	client.LastMutationID = lastMutationID
	client.ClientVersion = clientVersion
	return nil
}

func (s *memClientStore) ListChangedSince(ctx context.Context, tx database.DBTX, clientGroupID string, since int64) ([]Client, error) {
	var changed []Client
	for _, client := range s.stores.clients {
		if client.ClientGroupID == clientGroupID && client.ClientVersion > since {
			changed = append(changed, *client)
		}
	}
	return changed, nil
}

type memViewStore struct{ stores *memStores }

func (s *memViewStore) Get(ctx context.Context, tx database.DBTX, clientGroupID string, version int64) (*ClientView, error) {
	view, ok := s.stores.views[clientGroupID][version]
	if !ok {
		return nil, ErrViewNotFound
	}
	copied := *view
	return &copied, nil
}

func (s *memViewStore) Insert(ctx context.Context, tx database.DBTX, view *ClientView) error {
	if s.stores.views[view.ClientGroupID] == nil {
		s.stores.views[view.ClientGroupID] = make(map[int64]*ClientView)
	}
	copied := *view
	s.stores.views[view.ClientGroupID][view.Version] = &copied
	return nil
}

type memRecordStore struct{ stores *memStores }

func (s *memRecordStore) Upsert(ctx context.Context, tx database.DBTX, clientGroupID string, records []ClientViewRecord) error {
	if s.stores.records[clientGroupID] == nil {
		s.stores.records[clientGroupID] = make(map[string]ClientViewRecord)
	}
	for _, record := range records {
		s.stores.records[clientGroupID][record.Entity+"/"+record.EntityID] = record
	}
	return nil
}

// fakeDispatcher records dispatched mutations and can be primed to fail.
type fakeDispatcher struct {
	dispatched []string
	failWith   map[string]error
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{failWith: make(map[string]error)}
}

func (d *fakeDispatcher) ValidateBatch(batch mutation.Batch) error { return nil }

func (d *fakeDispatcher) Dispatch(ctx context.Context, tx database.DBTX, principal *accesscontrol.Principal, name string, rawArgs json.RawMessage) error {
	if err := d.failWith[name]; err != nil {
		return err
	}
	d.dispatched = append(d.dispatched, name)
	return nil
}

type fakePoker struct {
	pokes []string
}

func (p *fakePoker) Poke(ctx context.Context, tenantID, clientGroupID string) {
	p.pokes = append(p.pokes, tenantID+"/"+clientGroupID)
}

// serverRow is one synchronized row of the fake entity table used by pull
// tests.
type serverRow struct {
	ID      string
	Version int64
	Owner   string
	Deleted bool
}

// fakeTable implements the four difference queries over an in-memory table,
// diffing against the record state in memStores. Visibility is "not soft
// deleted" so tests can exercise the delete path.
type fakeTable struct {
	entity string
	rows   map[string]*serverRow
	stores *memStores
}

func (t *fakeTable) visible(row *serverRow) bool { return !row.Deleted }

func (t *fakeTable) record(scope Scope, id string) (ClientViewRecord, bool) {
	record, ok := t.stores.records[scope.ClientGroupID][t.entity+"/"+id]
	return record, ok
}

func (t *fakeTable) queries() Queries {
	return Queries{
		FindCreates: func(ctx context.Context, tx database.DBTX, scope Scope) ([]Entity, error) {
			var out []Entity
			for _, row := range t.rows {
				if !t.visible(row) {
					continue
				}
				if _, ok := t.record(scope, row.ID); !ok {
					out = append(out, Entity{ID: row.ID, Version: row.Version, Data: map[string]any{"id": row.ID, "version": row.Version}})
				}
			}
			sortEntities(out)
			return out, nil
		},
		FindUpdates: func(ctx context.Context, tx database.DBTX, scope Scope) ([]Entity, error) {
			var out []Entity
			for _, row := range t.rows {
				if !t.visible(row) {
					continue
				}
				record, ok := t.record(scope, row.ID)
				if !ok {
					continue
				}
				if record.EntityVersion == nil || *record.EntityVersion != row.Version {
					out = append(out, Entity{ID: row.ID, Version: row.Version, Data: map[string]any{"id": row.ID, "version": row.Version}})
				}
			}
			sortEntities(out)
			return out, nil
		},
		FindDeletes: func(ctx context.Context, tx database.DBTX, scope Scope) ([]string, error) {
			var out []string
			for _, record := range t.stores.records[scope.ClientGroupID] {
				if record.Entity != t.entity {
					continue
				}
				row, exists := t.rows[record.EntityID]
				if exists && t.visible(row) {
					continue
				}
				knownGone := record.ClientViewVersion <= scope.CookieOrder && record.EntityVersion == nil
				if !knownGone {
					out = append(out, record.EntityID)
				}
			}
			sort.Strings(out)
			return out, nil
		},
		FastForward: func(ctx context.Context, tx database.DBTX, scope Scope, excludeIDs []string) ([]Entity, error) {
			excluded := make(map[string]struct{}, len(excludeIDs))
			for _, id := range excludeIDs {
				excluded[id] = struct{}{}
			}
			var out []Entity
			for _, row := range t.rows {
				if !t.visible(row) {
					continue
				}
				if _, skip := excluded[row.ID]; skip {
					continue
				}
				record, ok := t.record(scope, row.ID)
				if !ok || record.EntityVersion == nil || *record.EntityVersion != row.Version {
					continue
				}
				if record.ClientViewVersion > scope.CookieOrder {
					out = append(out, Entity{ID: row.ID, Version: row.Version, Data: map[string]any{"id": row.ID, "version": row.Version}})
				}
			}
			sortEntities(out)
			return out, nil
		},
	}
}

func sortEntities(entities []Entity) {
	sort.Slice(entities, func(i, j int) bool { return entities[i].ID < entities[j].ID })
}
