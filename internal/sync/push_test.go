package sync

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/printmesh/printmesh/internal/accesscontrol"
)

type pushFixture struct {
	stores     *memStores
	dispatcher *fakeDispatcher
	poker      *fakePoker
	pusher     *Pusher
}

func newPushFixture() *pushFixture {
	stores := newMemStores()
	dispatcher := newFakeDispatcher()
	poker := &fakePoker{}
	pusher := NewPusher(&fakeRunner{}, stores, &memClientStore{stores: stores}, dispatcher, poker, testLogger())
	return &pushFixture{stores: stores, dispatcher: dispatcher, poker: poker, pusher: pusher}
}

func pushPrincipal() *accesscontrol.Principal {
	return accesscontrol.NewPrincipal("user-1", "tenant-1", accesscontrol.RoleOperator, nil)
}

func mutationN(id int64, name string) Mutation {
	return Mutation{ID: id, ClientID: "c1", Name: name, Args: json.RawMessage(`{}`)}
}

func TestPushFirstContact(t *testing.T) {
	f := newPushFixture()
	req := &PushRequest{
		PushVersion:   ProtocolVersion,
		ClientGroupID: "g1",
		Mutations:     []Mutation{mutationN(1, "createOrder")},
	}

	err := f.pusher.Push(context.Background(), pushPrincipal(), req)
	require.NoError(t, err)

	group := f.stores.groups["g1"]
	require.NotNil(t, group, "group must be initialized on first contact")
	assert.Equal(t, "user-1", group.UserID)
	assert.Equal(t, "tenant-1", group.TenantID)
	assert.Equal(t, int64(1), group.ClientVersion)

	client := f.stores.clients["c1"]
	require.NotNil(t, client, "client must be initialized on first contact")
	assert.Equal(t, int64(1), client.LastMutationID)
	assert.Equal(t, int64(1), client.ClientVersion)

	assert.Equal(t, []string{"createOrder"}, f.dispatcher.dispatched)
	assert.Equal(t, []string{"tenant-1/g1"}, f.poker.pokes)
}

func TestPushReplayIsIdempotent(t *testing.T) {
	f := newPushFixture()
	req := &PushRequest{
		PushVersion:   ProtocolVersion,
		ClientGroupID: "g1",
		Mutations:     []Mutation{mutationN(1, "createOrder")},
	}

	require.NoError(t, f.pusher.Push(context.Background(), pushPrincipal(), req))
	require.NoError(t, f.pusher.Push(context.Background(), pushPrincipal(), req))

	assert.Equal(t, int64(1), f.stores.clients["c1"].LastMutationID)
	assert.Equal(t, []string{"createOrder"}, f.dispatcher.dispatched, "replay must not re-run the mutator")
	assert.Equal(t, int64(1), f.stores.groups["g1"].ClientVersion)
}

func TestPushFreshClientWithHighMutationID(t *testing.T) {
	f := newPushFixture()
	req := &PushRequest{
		PushVersion:   ProtocolVersion,
		ClientGroupID: "g1",
		Mutations:     []Mutation{mutationN(4, "createOrder")},
	}

	err := f.pusher.Push(context.Background(), pushPrincipal(), req)
	assert.ErrorIs(t, err, ErrClientStateNotFound)
	assert.Empty(t, f.dispatcher.dispatched)
}

func TestPushFutureMutationRejected(t *testing.T) {
	f := newPushFixture()
	first := &PushRequest{
		PushVersion:   ProtocolVersion,
		ClientGroupID: "g1",
		Mutations:     []Mutation{mutationN(1, "createOrder")},
	}
	require.NoError(t, f.pusher.Push(context.Background(), pushPrincipal(), first))

	future := &PushRequest{
		PushVersion:   ProtocolVersion,
		ClientGroupID: "g1",
		Mutations:     []Mutation{mutationN(3, "editOrder")},
	}
	err := f.pusher.Push(context.Background(), pushPrincipal(), future)
	assert.True(t, IsFutureMutation(err))
	assert.Equal(t, int64(1), f.stores.clients["c1"].LastMutationID, "future mutation must not advance the log")
	assert.Equal(t, []string{"createOrder"}, f.dispatcher.dispatched)
}

func TestPushVersionMismatch(t *testing.T) {
	f := newPushFixture()
	req := &PushRequest{PushVersion: 99, ClientGroupID: "g1"}
	err := f.pusher.Push(context.Background(), pushPrincipal(), req)
	assert.ErrorIs(t, err, ErrVersionNotSupported)
}

func TestPushGroupOwnershipEnforced(t *testing.T) {
	f := newPushFixture()
	first := &PushRequest{
		PushVersion:   ProtocolVersion,
		ClientGroupID: "g1",
		Mutations:     []Mutation{mutationN(1, "createOrder")},
	}
	require.NoError(t, f.pusher.Push(context.Background(), pushPrincipal(), first))

	intruder := accesscontrol.NewPrincipal("user-2", "tenant-1", accesscontrol.RoleOperator, nil)
	err := f.pusher.Push(context.Background(), intruder, first)
	assert.True(t, accesscontrol.IsAccessDenied(err))
	assert.Equal(t, "user-1", f.stores.groups["g1"].UserID, "ownership never reassigned")
}

func TestPushClientFromAnotherGroupDenied(t *testing.T) {
	f := newPushFixture()
	first := &PushRequest{
		PushVersion:   ProtocolVersion,
		ClientGroupID: "g1",
		Mutations:     []Mutation{mutationN(1, "createOrder")},
	}
	require.NoError(t, f.pusher.Push(context.Background(), pushPrincipal(), first))

	// Same client id, different group, mutation id 1: ownership mismatch,
	// not silent adoption.
	reused := &PushRequest{
		PushVersion:   ProtocolVersion,
		ClientGroupID: "g2",
		Mutations:     []Mutation{mutationN(1, "createOrder")},
	}
	err := f.pusher.Push(context.Background(), pushPrincipal(), reused)
	assert.True(t, accesscontrol.IsAccessDenied(err))
	assert.Equal(t, "g1", f.stores.clients["c1"].ClientGroupID)
}

func TestPushErrorModeAdvancesPastPoisonedMutation(t *testing.T) {
	f := newPushFixture()
	f.dispatcher.failWith["explode"] = errors.New("mutator defect")

	req := &PushRequest{
		PushVersion:   ProtocolVersion,
		ClientGroupID: "g1",
		Mutations: []Mutation{
			mutationN(1, "explode"),
			mutationN(2, "createOrder"),
		},
	}

	err := f.pusher.Push(context.Background(), pushPrincipal(), req)
	require.NoError(t, err, "a poisoned mutation is absorbed, not fatal")
	assert.Equal(t, int64(2), f.stores.clients["c1"].LastMutationID)
	assert.Equal(t, []string{"createOrder"}, f.dispatcher.dispatched, "poisoned mutator must not have applied")
}

func TestPushPolicyDenialAdvancesLog(t *testing.T) {
	f := newPushFixture()
	f.dispatcher.failWith["forbidden"] = &accesscontrol.AccessDeniedError{Reason: "missing permission"}

	req := &PushRequest{
		PushVersion:   ProtocolVersion,
		ClientGroupID: "g1",
		Mutations: []Mutation{
			mutationN(1, "forbidden"),
			mutationN(2, "createOrder"),
		},
	}

	// A mutation whose policy denies would be resubmitted by the client
	// forever; error mode advances past it without running the mutator.
	err := f.pusher.Push(context.Background(), pushPrincipal(), req)
	require.NoError(t, err)
	assert.Equal(t, int64(2), f.stores.clients["c1"].LastMutationID)
	assert.Equal(t, []string{"createOrder"}, f.dispatcher.dispatched, "denied mutator must not have applied")
}

func TestPushPokesOncePerBatch(t *testing.T) {
	f := newPushFixture()
	req := &PushRequest{
		PushVersion:   ProtocolVersion,
		ClientGroupID: "g1",
		Mutations: []Mutation{
			mutationN(1, "createOrder"),
			mutationN(2, "editOrder"),
		},
	}
	require.NoError(t, f.pusher.Push(context.Background(), pushPrincipal(), req))
	assert.Len(t, f.poker.pokes, 1)

	// A pure replay changes nothing, so nobody gets poked.
	f.poker.pokes = nil
	require.NoError(t, f.pusher.Push(context.Background(), pushPrincipal(), req))
	assert.Empty(t, f.poker.pokes)
}
