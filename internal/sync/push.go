package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/printmesh/printmesh/internal/accesscontrol"
	"github.com/printmesh/printmesh/internal/mutation"
	"github.com/printmesh/printmesh/pkg/database"
	"github.com/printmesh/printmesh/pkg/logger"
)

// MutationDispatcher is the slice of the mutation package the push processor
// needs. *mutation.Dispatcher satisfies it.
type MutationDispatcher interface {
	ValidateBatch(batch mutation.Batch) error
	Dispatch(ctx context.Context, tx database.DBTX, principal *accesscontrol.Principal, name string, rawArgs json.RawMessage) error
}

// Poker receives a hint that a client group changed state and other members
// of the tenant should pull. Implementations must not block push latency on
// delivery.
type Poker interface {
	Poke(ctx context.Context, tenantID, clientGroupID string)
}

// Pusher applies a client's ordered mutation log against server state. Each
// mutation runs in its own retrying transaction so a conflict on one does
// not force the whole batch to repeat.
type Pusher struct {
	coordinator TxRunner
	groups      GroupStore
	clients     ClientStore
	dispatcher  MutationDispatcher
	poker       Poker
	logger      *logger.Logger
}

// NewPusher wires a push processor. poker may be nil.
func NewPusher(coordinator TxRunner, groups GroupStore, clients ClientStore, dispatcher MutationDispatcher, poker Poker, log *logger.Logger) *Pusher {
	return &Pusher{
		coordinator: coordinator,
		groups:      groups,
		clients:     clients,
		dispatcher:  dispatcher,
		poker:       poker,
		logger:      log,
	}
}

// Push processes one push batch for the authenticated principal.
//
// The whole batch is schema-validated up front. Mutations then apply one at
// a time, in submission order. Replays acknowledge without re-applying;
// future mutations abort the batch without applying anything further, since
// every later mutation would be from the future too. A mutation that fails
// dispatch with anything but a protocol error, including a policy denial,
// gets one second attempt in error mode, where lastMutationID still advances
// but the mutator is skipped, so one poisoned or permanently denied mutation
// cannot wedge the client's log forever.
func (p *Pusher) Push(ctx context.Context, principal *accesscontrol.Principal, req *PushRequest) error {
	if req.PushVersion != ProtocolVersion {
		return fmt.Errorf("%w: push version %d", ErrVersionNotSupported, req.PushVersion)
	}

	batch := make(mutation.Batch, len(req.Mutations))
	for i, m := range req.Mutations {
		batch[i].Name = m.Name
		batch[i].Args = m.Args
	}
	if err := p.dispatcher.ValidateBatch(batch); err != nil {
		return err
	}

	applied := false
	for _, m := range req.Mutations {
		err := p.applyMutation(ctx, principal, req.ClientGroupID, m, false, &applied)
		if err == nil {
			continue
		}
		if isPushFatal(err) {
			return err
		}

		p.logger.Errorf("Mutation %s (id %d, client %s) failed, retrying in error mode: %v", m.Name, m.ID, m.ClientID, err)
		if err := p.applyMutation(ctx, principal, req.ClientGroupID, m, true, &applied); err != nil {
			return err
		}
	}

	if applied && p.poker != nil {
		p.poker.Poke(ctx, principal.TenantID, req.ClientGroupID)
	}
	return nil
}

// errOwnership tags access denials raised while resolving group or client
// ownership. Those abort the whole batch; a denial from a mutation's own
// policy is absorbed by the error-mode retry like any other dispatch
// failure, because the client would otherwise resubmit the denied mutation
// forever.
var errOwnership = errors.New("ownership mismatch")

// isPushFatal reports whether an error must abort the batch instead of
// being absorbed by the error-mode retry. Protocol errors, ownership
// denials and exhausted conflicts all belong to the client or the operator,
// not to a poisoned mutator.
func isPushFatal(err error) bool {
	return errors.Is(err, ErrVersionNotSupported) ||
		errors.Is(err, ErrClientStateNotFound) ||
		errors.Is(err, database.ErrConflictExhausted) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, errOwnership) ||
		mutation.IsValidation(err) ||
		mutation.IsUnknownMutation(err) ||
		IsFutureMutation(err)
}

// applyMutation runs one mutation through the Received -> Validated ->
// GroupResolved -> ClientResolved -> OrderChecked -> Applied pipeline inside
// a single retrying transaction.
func (p *Pusher) applyMutation(ctx context.Context, principal *accesscontrol.Principal, clientGroupID string, m Mutation, errorMode bool, applied *bool) error {
	return p.coordinator.Run(ctx, func(ctx context.Context, tx database.DBTX) error {
		group, _, err := resolveClientGroup(ctx, tx, p.groups, principal, clientGroupID)
		if err != nil {
			return err
		}

		client, _, err := p.resolveClient(ctx, tx, group, m.ClientID)
		if err != nil {
			return err
		}

		next := client.LastMutationID + 1
		if client.LastMutationID == 0 && m.ID > 1 {
			return fmt.Errorf("%w: client %s submitted mutation %d with no server history", ErrClientStateNotFound, client.ID, m.ID)
		}
		if m.ID < next {
			// Already applied. Acknowledge, change nothing.
			p.logger.Debugf("Mutation %d from client %s already applied, skipping", m.ID, client.ID)
			return nil
		}
		if m.ID > next {
			return &FutureMutationError{ClientID: client.ID, MutationID: m.ID, Expected: next}
		}

		if !errorMode {
			if err := p.dispatcher.Dispatch(ctx, tx, principal, m.Name, m.Args); err != nil {
				return err
			}
		}

		group.ClientVersion++
		if err := p.groups.Update(ctx, tx, group); err != nil {
			return err
		}
		if err := p.clients.UpdateMutationProgress(ctx, tx, client.ID, next, group.ClientVersion); err != nil {
			return err
		}

		p.coordinator.AfterCommit(ctx, func(context.Context) { *applied = true }, true)
		return nil
	})
}

// resolveClientGroup finds the client group or initializes one owned by the
// caller. A group owned by another user or tenant is an access denial, never
// a silent reassignment. Shared by push and pull.
func resolveClientGroup(ctx context.Context, tx database.DBTX, groups GroupStore, principal *accesscontrol.Principal, id string) (*ClientGroup, ResolveOutcome, error) {
	group, err := groups.GetForUpdate(ctx, tx, id)
	if errors.Is(err, ErrGroupNotFound) {
		group = &ClientGroup{
			ID:       id,
			TenantID: principal.TenantID,
			UserID:   principal.UserID,
		}
		if err := groups.Insert(ctx, tx, group); err != nil {
			return nil, Found, err
		}
		return group, Initialized, nil
	}
	if err != nil {
		return nil, Found, err
	}

	if group.UserID != principal.UserID || group.TenantID != principal.TenantID {
		return nil, Found, fmt.Errorf("%w: %w", errOwnership, &accesscontrol.AccessDeniedError{
			Reason: fmt.Sprintf("client group %s belongs to another user", id),
		})
	}
	return group, Found, nil
}

// resolveClient finds the client or initializes one with lastMutationID 0.
// A client that belongs to a different group is an access denial, which also
// covers a mutation id 1 arriving with a client id reused from another group.
func (p *Pusher) resolveClient(ctx context.Context, tx database.DBTX, group *ClientGroup, id string) (*Client, ResolveOutcome, error) {
	client, err := p.clients.GetForUpdate(ctx, tx, id)
	if errors.Is(err, ErrClientNotFound) {
		client = &Client{
			ID:            id,
			TenantID:      group.TenantID,
			ClientGroupID: group.ID,
		}
		if err := p.clients.Insert(ctx, tx, client); err != nil {
			return nil, Found, err
		}
		return client, Initialized, nil
	}
	if err != nil {
		return nil, Found, err
	}

	if client.ClientGroupID != group.ID {
		return nil, Found, fmt.Errorf("%w: %w", errOwnership, &accesscontrol.AccessDeniedError{
			Action: "push",
			Reason: fmt.Sprintf("client %s belongs to another client group", id),
		})
	}
	return client, Found, nil
}
