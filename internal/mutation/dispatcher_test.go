package mutation

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/printmesh/printmesh/internal/accesscontrol"
	"github.com/printmesh/printmesh/pkg/database"
)

type createWidgetArgs struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (a *createWidgetArgs) Validate() error {
	if a.ID == "" {
		return &ValidationError{Mutation: "createWidget", Field: "id", Reason: "must not be empty"}
	}
	return nil
}

func newTestRegistry(applied *[]string, mutatorErr error) *Registry {
	registry := NewRegistry()
	registry.Register(New(
		"createWidget",
		func(args createWidgetArgs) accesscontrol.Policy {
			return accesscontrol.HasPermission("widgets:create")
		},
		func(ctx context.Context, tx database.DBTX, principal *accesscontrol.Principal, args createWidgetArgs) error {
			if mutatorErr != nil {
				return mutatorErr
			}
			*applied = append(*applied, args.ID)
			return nil
		},
	))
	return registry
}

func TestDispatch(t *testing.T) {
	ctx := context.Background()
	granted := accesscontrol.NewPrincipal("u1", "t1", accesscontrol.RoleOperator, []accesscontrol.Permission{"widgets:create"})
	denied := accesscontrol.NewPrincipal("u2", "t1", accesscontrol.RoleCustomer, nil)

	t.Run("applies mutation when policy grants", func(t *testing.T) {
		var applied []string
		dispatcher := NewDispatcher(newTestRegistry(&applied, nil))
		err := dispatcher.Dispatch(ctx, nil, granted, "createWidget", json.RawMessage(`{"id":"w1","name":"gear"}`))
		require.NoError(t, err)
		assert.Equal(t, []string{"w1"}, applied)
	})

	t.Run("policy runs before mutator", func(t *testing.T) {
		var applied []string
		dispatcher := NewDispatcher(newTestRegistry(&applied, nil))
		err := dispatcher.Dispatch(ctx, nil, denied, "createWidget", json.RawMessage(`{"id":"w1","name":"gear"}`))
		assert.True(t, accesscontrol.IsAccessDenied(err))
		assert.Empty(t, applied, "mutator must not run after a denial")
	})

	t.Run("unknown mutation", func(t *testing.T) {
		var applied []string
		dispatcher := NewDispatcher(newTestRegistry(&applied, nil))
		err := dispatcher.Dispatch(ctx, nil, granted, "nope", json.RawMessage(`{}`))
		assert.True(t, IsUnknownMutation(err))
	})

	t.Run("unknown fields rejected", func(t *testing.T) {
		var applied []string
		dispatcher := NewDispatcher(newTestRegistry(&applied, nil))
		err := dispatcher.Dispatch(ctx, nil, granted, "createWidget", json.RawMessage(`{"id":"w1","extra":true}`))
		assert.True(t, IsValidation(err))
	})

	t.Run("semantic validation", func(t *testing.T) {
		var applied []string
		dispatcher := NewDispatcher(newTestRegistry(&applied, nil))
		err := dispatcher.Dispatch(ctx, nil, granted, "createWidget", json.RawMessage(`{"id":"","name":"gear"}`))
		require.Error(t, err)
		var invalid *ValidationError
		require.ErrorAs(t, err, &invalid)
		assert.Equal(t, "id", invalid.Field)
	})

	t.Run("mutator error is wrapped with the mutation name", func(t *testing.T) {
		var applied []string
		boom := errors.New("boom")
		dispatcher := NewDispatcher(newTestRegistry(&applied, boom))
		err := dispatcher.Dispatch(ctx, nil, granted, "createWidget", json.RawMessage(`{"id":"w1"}`))
		assert.ErrorIs(t, err, boom)
		assert.Contains(t, err.Error(), "createWidget")
	})
}

func TestValidateBatch(t *testing.T) {
	var applied []string
	dispatcher := NewDispatcher(newTestRegistry(&applied, nil))

	t.Run("valid batch passes", func(t *testing.T) {
		batch := Batch{
			{Name: "createWidget", Args: json.RawMessage(`{"id":"w1"}`)},
			{Name: "createWidget", Args: json.RawMessage(`{"id":"w2"}`)},
		}
		assert.NoError(t, dispatcher.ValidateBatch(batch))
	})

	t.Run("unknown name fails the whole batch", func(t *testing.T) {
		batch := Batch{
			{Name: "createWidget", Args: json.RawMessage(`{"id":"w1"}`)},
			{Name: "dropTables", Args: json.RawMessage(`{}`)},
		}
		assert.True(t, IsUnknownMutation(dispatcher.ValidateBatch(batch)))
	})

	t.Run("bad args fail the whole batch", func(t *testing.T) {
		batch := Batch{
			{Name: "createWidget", Args: json.RawMessage(`{"id":""}`)},
		}
		assert.True(t, IsValidation(dispatcher.ValidateBatch(batch)))
	})
}

func TestRegistryDuplicatePanics(t *testing.T) {
	var applied []string
	registry := newTestRegistry(&applied, nil)
	assert.Panics(t, func() {
		registry.Register(New(
			"createWidget",
			func(args createWidgetArgs) accesscontrol.Policy { return accesscontrol.Every() },
			func(ctx context.Context, tx database.DBTX, principal *accesscontrol.Principal, args createWidgetArgs) error {
				return nil
			},
		))
	})
}
