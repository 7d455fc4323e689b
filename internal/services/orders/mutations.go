package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/printmesh/printmesh/internal/accesscontrol"
	"github.com/printmesh/printmesh/internal/mutation"
	"github.com/printmesh/printmesh/pkg/database"
)

type CreateOrderArgs struct {
	ID          string `json:"id"`
	ProductName string `json:"productName"`
	Quantity    int    `json:"quantity"`
	Notes       string `json:"notes"`
}

func (a *CreateOrderArgs) Validate() error {
	if a.ID == "" {
		return &mutation.ValidationError{Mutation: "createOrder", Field: "id", Reason: "must not be empty"}
	}
	if a.ProductName == "" {
		return &mutation.ValidationError{Mutation: "createOrder", Field: "productName", Reason: "must not be empty"}
	}
	if a.Quantity < 1 {
		return &mutation.ValidationError{Mutation: "createOrder", Field: "quantity", Reason: "must be at least 1"}
	}
	return nil
}

type EditOrderArgs struct {
	ID          string `json:"id"`
	ProductName string `json:"productName"`
	Quantity    int    `json:"quantity"`
	Status      string `json:"status"`
	Notes       string `json:"notes"`
}

func (a *EditOrderArgs) Validate() error {
	if a.ID == "" {
		return &mutation.ValidationError{Mutation: "editOrder", Field: "id", Reason: "must not be empty"}
	}
	if !validStatus(a.Status) {
		return &mutation.ValidationError{Mutation: "editOrder", Field: "status", Reason: fmt.Sprintf("unknown status %q", a.Status)}
	}
	if a.Quantity < 1 {
		return &mutation.ValidationError{Mutation: "editOrder", Field: "quantity", Reason: "must be at least 1"}
	}
	return nil
}

type OrderIDArgs struct {
	ID string `json:"id"`
}

func (a *OrderIDArgs) Validate() error {
	if a.ID == "" {
		return &mutation.ValidationError{Field: "id", Reason: "must not be empty"}
	}
	return nil
}

// RegisterMutations wires the order mutators into the registry. The edit and
// delete policies let a customer operate on their own active orders even
// without the tenant-wide update/delete permission; the ownership predicate
// reads through the ambient push transaction.
func RegisterMutations(registry *mutation.Registry, repo *Repository, pool database.DBTX) {
	ownsOrder := func(id string) accesscontrol.Policy {
		return accesscontrol.PolicyFunc("order was not placed by the caller",
			func(ctx context.Context, principal *accesscontrol.Principal) (bool, error) {
				order, err := repo.Get(ctx, database.Querier(ctx, pool), principal.TenantID, id)
				if errors.Is(err, ErrOrderNotFound) {
					return false, nil
				}
				if err != nil {
					return false, err
				}
				return !order.Deleted && order.CustomerID == principal.UserID, nil
			})
	}

	registry.Register(mutation.New(
		"createOrder",
		func(args CreateOrderArgs) accesscontrol.Policy {
			return accesscontrol.HasPermission(PermCreate)
		},
		func(ctx context.Context, tx database.DBTX, principal *accesscontrol.Principal, args CreateOrderArgs) error {
			return repo.Create(ctx, tx, &Order{
				ID:          args.ID,
				TenantID:    principal.TenantID,
				CustomerID:  principal.UserID,
				ProductName: args.ProductName,
				Quantity:    args.Quantity,
				Status:      StatusDraft,
				Notes:       args.Notes,
			})
		},
	))

	registry.Register(mutation.New(
		"editOrder",
		func(args EditOrderArgs) accesscontrol.Policy {
			return accesscontrol.Some(
				accesscontrol.HasPermission(PermUpdate),
				accesscontrol.Every(accesscontrol.HasPermission(PermReadActiveOwn), ownsOrder(args.ID)),
			)
		},
		func(ctx context.Context, tx database.DBTX, principal *accesscontrol.Principal, args EditOrderArgs) error {
			return repo.Update(ctx, tx, &Order{
				ID:          args.ID,
				TenantID:    principal.TenantID,
				ProductName: args.ProductName,
				Quantity:    args.Quantity,
				Status:      args.Status,
				Notes:       args.Notes,
			})
		},
	))

	registry.Register(mutation.New(
		"deleteOrder",
		func(args OrderIDArgs) accesscontrol.Policy {
			return accesscontrol.Some(
				accesscontrol.HasPermission(PermDelete),
				accesscontrol.Every(accesscontrol.HasPermission(PermReadActiveOwn), ownsOrder(args.ID)),
			)
		},
		func(ctx context.Context, tx database.DBTX, principal *accesscontrol.Principal, args OrderIDArgs) error {
			return repo.SoftDelete(ctx, tx, principal.TenantID, args.ID)
		},
	))

	registry.Register(mutation.New(
		"restoreOrder",
		func(args OrderIDArgs) accesscontrol.Policy {
			return accesscontrol.HasPermission(PermDelete)
		},
		func(ctx context.Context, tx database.DBTX, principal *accesscontrol.Principal, args OrderIDArgs) error {
			return repo.Restore(ctx, tx, principal.TenantID, args.ID)
		},
	))
}
