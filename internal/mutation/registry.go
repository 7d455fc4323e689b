package mutation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/printmesh/printmesh/internal/accesscontrol"
	"github.com/printmesh/printmesh/pkg/database"
)

// Validator lets an argument struct add semantic checks beyond what JSON
// decoding enforces. Returning a *ValidationError marks the mutation invalid.
type Validator interface {
	Validate() error
}

// Handler is the type-erased server side of one mutation: decode and
// validate raw arguments, derive the authorization policy from them, and run
// the mutator inside the transaction the push processor supplies.
type Handler interface {
	Name() string
	DecodeArgs(raw json.RawMessage) (any, error)
	Policy(args any) accesscontrol.Policy
	Apply(ctx context.Context, tx database.DBTX, principal *accesscontrol.Principal, args any) error
}

// Definition binds one mutation name to its typed argument schema, its
// policy factory, and its mutator. Build them with New.
type Definition[T any] struct {
	name    string
	policy  func(args T) accesscontrol.Policy
	mutator func(ctx context.Context, tx database.DBTX, principal *accesscontrol.Principal, args T) error
}

// New builds a typed mutation definition. The policy factory sees the
// decoded arguments so row-level policies can reference ids from them.
func New[T any](
	name string,
	policy func(args T) accesscontrol.Policy,
	mutator func(ctx context.Context, tx database.DBTX, principal *accesscontrol.Principal, args T) error,
) *Definition[T] {
	return &Definition[T]{name: name, policy: policy, mutator: mutator}
}

func (d *Definition[T]) Name() string { return d.name }

// DecodeArgs decodes raw JSON into the argument type. Unknown fields are
// rejected so that schema drift between client and server shows up as a
// validation error instead of silently dropped data.
func (d *Definition[T]) DecodeArgs(raw json.RawMessage) (any, error) {
	var args T
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&args); err != nil {
		return nil, &ValidationError{Mutation: d.name, Reason: err.Error()}
	}
	if v, ok := any(&args).(Validator); ok {
		if err := v.Validate(); err != nil {
			var invalid *ValidationError
			if errors.As(err, &invalid) {
				if invalid.Mutation == "" {
					invalid.Mutation = d.name
				}
				return nil, invalid
			}
			return nil, &ValidationError{Mutation: d.name, Reason: err.Error()}
		}
	}
	return args, nil
}

func (d *Definition[T]) Policy(args any) accesscontrol.Policy {
	return d.policy(args.(T))
}

func (d *Definition[T]) Apply(ctx context.Context, tx database.DBTX, principal *accesscontrol.Principal, args any) error {
	return d.mutator(ctx, tx, principal, args.(T))
}

// Registry maps mutation names to handlers. Registration happens during
// server wiring; the set is read-only afterwards.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty mutation registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds a handler. Registering the same name twice is a programming
// error and panics.
func (r *Registry) Register(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[h.Name()]; exists {
		panic(fmt.Sprintf("mutation: duplicate registration of %q", h.Name()))
	}
	r.handlers[h.Name()] = h
}

// Lookup returns the handler for name.
func (r *Registry) Lookup(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// Names returns every registered mutation name, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
