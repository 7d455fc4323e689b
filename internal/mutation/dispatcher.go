package mutation

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/printmesh/printmesh/internal/accesscontrol"
	"github.com/printmesh/printmesh/pkg/database"
)

// Batch is the raw {name, args} list of a push request, checked as a whole
// before any mutation is dispatched.
type Batch []struct {
	Name string
	Args json.RawMessage
}

// Dispatcher resolves mutation names against the registry and runs
// decode -> policy -> mutator in that fixed order.
type Dispatcher struct {
	registry *Registry
}

// NewDispatcher creates a dispatcher over the registry.
func NewDispatcher(registry *Registry) *Dispatcher {
	return &Dispatcher{registry: registry}
}

// ValidateBatch checks that every entry names a registered mutation and that
// its arguments decode against that mutation's schema. The first failure is
// returned; nothing is dispatched.
func (d *Dispatcher) ValidateBatch(batch Batch) error {
	for _, entry := range batch {
		handler, ok := d.registry.Lookup(entry.Name)
		if !ok {
			return &UnknownMutationError{Name: entry.Name}
		}
		if _, err := handler.DecodeArgs(entry.Args); err != nil {
			return err
		}
	}
	return nil
}

// Dispatch runs one mutation inside the supplied transaction. The policy is
// evaluated before the mutator; a denial means the mutator never ran.
func (d *Dispatcher) Dispatch(ctx context.Context, tx database.DBTX, principal *accesscontrol.Principal, name string, rawArgs json.RawMessage) error {
	handler, ok := d.registry.Lookup(name)
	if !ok {
		return &UnknownMutationError{Name: name}
	}

	args, err := handler.DecodeArgs(rawArgs)
	if err != nil {
		return err
	}

	if err := accesscontrol.Enforce(ctx, principal, handler.Policy(args), name); err != nil {
		return err
	}

	if err := handler.Apply(ctx, tx, principal, args); err != nil {
		return fmt.Errorf("mutation %s: %w", name, err)
	}
	return nil
}
