package sync

import (
	"context"
	"errors"
	"fmt"

	"github.com/printmesh/printmesh/internal/accesscontrol"
	"github.com/printmesh/printmesh/pkg/database"
	"github.com/printmesh/printmesh/pkg/logger"
)

// Puller computes the delta bringing one client group's cached view up to
// date with server state, and records what was sent so the next pull can
// diff against it. Everything happens in one transaction: the records
// written must describe exactly the patch that was computed, or a concurrent
// pull could claim the client saw rows it never received.
type Puller struct {
	coordinator TxRunner
	groups      GroupStore
	clients     ClientStore
	views       ViewStore
	records     RecordStore
	resolvers   *ResolverSet
	logger      *logger.Logger
}

// NewPuller wires a pull processor.
func NewPuller(coordinator TxRunner, groups GroupStore, clients ClientStore, views ViewStore, records RecordStore, resolvers *ResolverSet, log *logger.Logger) *Puller {
	return &Puller{
		coordinator: coordinator,
		groups:      groups,
		clients:     clients,
		views:       views,
		records:     records,
		resolvers:   resolvers,
		logger:      log,
	}
}

// Pull processes one pull request for the authenticated principal.
//
// A nil cookie means the client has nothing cached: the patch opens with a
// clear op and returns the full visible set as puts. A cookie the server
// never issued for this group means the client's state is unknowable and it
// must resync from empty. A known cookie with no drift is a no-op that
// re-issues the same cookie, writing nothing beyond the group's activity
// timestamp.
func (p *Puller) Pull(ctx context.Context, principal *accesscontrol.Principal, req *PullRequest) (*PullResponse, error) {
	if req.PullVersion != ProtocolVersion {
		return nil, fmt.Errorf("%w: pull version %d", ErrVersionNotSupported, req.PullVersion)
	}

	var resp *PullResponse
	err := p.coordinator.Run(ctx, func(ctx context.Context, tx database.DBTX) error {
		group, _, err := resolveClientGroup(ctx, tx, p.groups, principal, req.ClientGroupID)
		if err != nil {
			return err
		}

		var baseOrder, baseClientVersion int64
		if req.Cookie != nil {
			view, err := p.views.Get(ctx, tx, group.ID, req.Cookie.Order)
			if errors.Is(err, ErrViewNotFound) {
				return fmt.Errorf("%w: cookie %d was never issued for group %s", ErrClientStateNotFound, req.Cookie.Order, group.ID)
			}
			if err != nil {
				return err
			}
			baseOrder = view.Version
			baseClientVersion = view.ClientVersion
		}

		nextOrder := baseOrder
		if group.ClientViewVersion > nextOrder {
			nextOrder = group.ClientViewVersion
		}
		nextOrder++

		scope := Scope{
			TenantID:      group.TenantID,
			UserID:        group.UserID,
			ClientGroupID: group.ID,
			CookieOrder:   baseOrder,
		}
		// Fast-forward whenever the base order trails the group's newest
		// issued cookie. That includes a nil cookie against a group that
		// already has records: the recorded rows sit at version parity, so
		// neither creates nor updates would re-send them, and skipping the
		// fast-forward pass would lose them right after the clear op.
		fastForward := baseOrder < group.ClientViewVersion

		diff, err := p.resolvers.Resolve(ctx, tx, principal, scope, fastForward)
		if err != nil {
			return err
		}

		changed, err := p.clients.ListChangedSince(ctx, tx, group.ID, baseClientVersion)
		if err != nil {
			return err
		}
		lastMutationIDChanges := make(map[string]int64, len(changed))
		for _, client := range changed {
			lastMutationIDChanges[client.ID] = client.LastMutationID
		}

		if req.Cookie != nil && diff.Empty() && len(lastMutationIDChanges) == 0 {
			// Refresh the group's activity timestamp so a client polling
			// against quiet data never ages into the idle collector.
			if err := p.groups.Update(ctx, tx, group); err != nil {
				return err
			}
			resp = &PullResponse{
				Cookie:                *req.Cookie,
				LastMutationIDChanges: lastMutationIDChanges,
				Patch:                 []PatchOperation{},
			}
			return nil
		}

		group.ClientViewVersion = nextOrder
		if err := p.groups.Update(ctx, tx, group); err != nil {
			return err
		}
		if err := p.views.Insert(ctx, tx, &ClientView{
			ClientGroupID: group.ID,
			Version:       nextOrder,
			ClientVersion: group.ClientVersion,
		}); err != nil {
			return err
		}

		if err := p.recordDiff(ctx, tx, group.ID, nextOrder, diff); err != nil {
			return err
		}

		resp = &PullResponse{
			Cookie:                Cookie{Order: nextOrder},
			LastMutationIDChanges: lastMutationIDChanges,
			Patch:                 buildPatch(req.Cookie == nil, diff),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// recordDiff upserts one client view record per patch operation, at the new
// cookie order, in the same transaction that computed the diff.
func (p *Puller) recordDiff(ctx context.Context, tx database.DBTX, clientGroupID string, order int64, diff Diff) error {
	for _, entityDiff := range diff {
		records := make([]ClientViewRecord, 0, len(entityDiff.Creates)+len(entityDiff.Updates)+len(entityDiff.FastForwards)+len(entityDiff.Deletes))
		for _, group := range [][]Entity{entityDiff.Creates, entityDiff.Updates, entityDiff.FastForwards} {
			for _, entity := range group {
				version := entity.Version
				records = append(records, ClientViewRecord{
					Entity:            entityDiff.Entity,
					EntityID:          entity.ID,
					EntityVersion:     &version,
					ClientViewVersion: order,
				})
			}
		}
		for _, id := range entityDiff.Deletes {
			records = append(records, ClientViewRecord{
				Entity:            entityDiff.Entity,
				EntityID:          id,
				EntityVersion:     nil,
				ClientViewVersion: order,
			})
		}
		if len(records) == 0 {
			continue
		}
		if err := p.records.Upsert(ctx, tx, clientGroupID, records); err != nil {
			return err
		}
	}
	return nil
}

func buildPatch(fresh bool, diff Diff) []PatchOperation {
	patch := make([]PatchOperation, 0, 16)
	if fresh {
		patch = append(patch, PatchOperation{Op: "clear"})
	}
	for _, entityDiff := range diff {
		for _, group := range [][]Entity{entityDiff.Creates, entityDiff.Updates, entityDiff.FastForwards} {
			for _, entity := range group {
				patch = append(patch, PatchOperation{
					Op:    "put",
					Key:   entityDiff.Entity + "/" + entity.ID,
					Value: entity.Data,
				})
			}
		}
		for _, id := range entityDiff.Deletes {
			patch = append(patch, PatchOperation{
				Op:  "del",
				Key: entityDiff.Entity + "/" + id,
			})
		}
	}
	return patch
}
