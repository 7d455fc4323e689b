package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/printmesh/printmesh/pkg/database"
)

// ErrOrderNotFound is returned when an order does not exist for the tenant.
var ErrOrderNotFound = errors.New("order not found")

// Repository persists orders. All methods require a transaction or pool via
// the DBTX parameter so mutators run inside the push transaction.
type Repository struct{}

func NewRepository() *Repository { return &Repository{} }

const orderColumns = `id, tenant_id, customer_id, product_name, quantity, status, notes, version, deleted, created_at, updated_at`

func scanOrder(row pgx.Row) (*Order, error) {
	var order Order
	err := row.Scan(
		&order.ID, &order.TenantID, &order.CustomerID, &order.ProductName,
		&order.Quantity, &order.Status, &order.Notes, &order.Version,
		&order.Deleted, &order.CreatedAt, &order.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to scan order: %w", err)
	}
	return &order, nil
}

// Get fetches one order by id within a tenant.
func (r *Repository) Get(ctx context.Context, tx database.DBTX, tenantID, id string) (*Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE tenant_id = $1 AND id = $2`
	return scanOrder(tx.QueryRow(ctx, query, tenantID, id))
}

// Create inserts a new order at version 1.
func (r *Repository) Create(ctx context.Context, tx database.DBTX, order *Order) error {
	query := `
		INSERT INTO orders (id, tenant_id, customer_id, product_name, quantity, status, notes, version, deleted, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 1, FALSE, now(), now())`

	_, err := tx.Exec(ctx, query,
		order.ID, order.TenantID, order.CustomerID, order.ProductName,
		order.Quantity, order.Status, order.Notes,
	)
	if err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}
	return nil
}

// Update rewrites the mutable fields and bumps the version.
func (r *Repository) Update(ctx context.Context, tx database.DBTX, order *Order) error {
	query := `
		UPDATE orders
		SET product_name = $3, quantity = $4, status = $5, notes = $6,
		    version = version + 1, updated_at = now()
		WHERE tenant_id = $1 AND id = $2`

	tag, err := tx.Exec(ctx, query,
		order.TenantID, order.ID, order.ProductName, order.Quantity, order.Status, order.Notes,
	)
	if err != nil {
		return fmt.Errorf("failed to update order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

// SoftDelete marks the order deleted and bumps the version so the sync
// layer emits a delete for it.
func (r *Repository) SoftDelete(ctx context.Context, tx database.DBTX, tenantID, id string) error {
	query := `
		UPDATE orders
		SET deleted = TRUE, version = version + 1, updated_at = now()
		WHERE tenant_id = $1 AND id = $2 AND deleted = FALSE`

	tag, err := tx.Exec(ctx, query, tenantID, id)
	if err != nil {
		return fmt.Errorf("failed to delete order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

// Restore un-deletes an order.
func (r *Repository) Restore(ctx context.Context, tx database.DBTX, tenantID, id string) error {
	query := `
		UPDATE orders
		SET deleted = FALSE, version = version + 1, updated_at = now()
		WHERE tenant_id = $1 AND id = $2 AND deleted = TRUE`

	tag, err := tx.Exec(ctx, query, tenantID, id)
	if err != nil {
		return fmt.Errorf("failed to restore order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}
