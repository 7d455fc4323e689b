package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/printmesh/printmesh/pkg/database"
)

// PostgresGroupStore implements GroupStore over the
// client_groups / clients / client_views / client_view_records tables.
type PostgresGroupStore struct{}

func NewPostgresGroupStore() *PostgresGroupStore { return &PostgresGroupStore{} }

func (s *PostgresGroupStore) GetForUpdate(ctx context.Context, tx database.DBTX, id string) (*ClientGroup, error) {
	query := `
		SELECT id, tenant_id, user_id, client_version, client_view_version, updated_at
		FROM client_groups
		WHERE id = $1
		FOR UPDATE`

	var group ClientGroup
	err := tx.QueryRow(ctx, query, id).Scan(
		&group.ID, &group.TenantID, &group.UserID,
		&group.ClientVersion, &group.ClientViewVersion, &group.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrGroupNotFound
		}
		return nil, fmt.Errorf("failed to get client group: %w", err)
	}
	return &group, nil
}

func (s *PostgresGroupStore) Insert(ctx context.Context, tx database.DBTX, group *ClientGroup) error {
	query := `
		INSERT INTO client_groups (id, tenant_id, user_id, client_version, client_view_version, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())`

	_, err := tx.Exec(ctx, query, group.ID, group.TenantID, group.UserID, group.ClientVersion, group.ClientViewVersion)
	if err != nil {
		return fmt.Errorf("failed to insert client group: %w", err)
	}
	return nil
}

func (s *PostgresGroupStore) Update(ctx context.Context, tx database.DBTX, group *ClientGroup) error {
	query := `
		UPDATE client_groups
		SET client_version = $2, client_view_version = $3, updated_at = now()
		WHERE id = $1`

	_, err := tx.Exec(ctx, query, group.ID, group.ClientVersion, group.ClientViewVersion)
	if err != nil {
		return fmt.Errorf("failed to update client group: %w", err)
	}
	return nil
}

func (s *PostgresGroupStore) ListExpired(ctx context.Context, tx database.DBTX, cutoff time.Time, limit int) ([]string, error) {
	query := `
		SELECT id FROM client_groups
		WHERE updated_at < $1
		ORDER BY updated_at
		LIMIT $2`

	rows, err := tx.Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired client groups: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan client group id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PostgresGroupStore) DeleteCascade(ctx context.Context, tx database.DBTX, id string) error {
	statements := []string{
		`DELETE FROM client_view_records WHERE client_group_id = $1`,
		`DELETE FROM client_views WHERE client_group_id = $1`,
		`DELETE FROM clients WHERE client_group_id = $1`,
		`DELETE FROM client_groups WHERE id = $1`,
	}
	for _, statement := range statements {
		if _, err := tx.Exec(ctx, statement, id); err != nil {
			return fmt.Errorf("failed to delete client group state: %w", err)
		}
	}
	return nil
}

// ClientStore implementation.

type PostgresClientStore struct{}

func NewPostgresClientStore() *PostgresClientStore { return &PostgresClientStore{} }

func (s *PostgresClientStore) GetForUpdate(ctx context.Context, tx database.DBTX, id string) (*Client, error) {
	query := `
		SELECT id, tenant_id, client_group_id, last_mutation_id, client_version, updated_at
		FROM clients
		WHERE id = $1
		FOR UPDATE`

	var client Client
	err := tx.QueryRow(ctx, query, id).Scan(
		&client.ID, &client.TenantID, &client.ClientGroupID,
		&client.LastMutationID, &client.ClientVersion, &client.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrClientNotFound
		}
		return nil, fmt.Errorf("failed to get client: %w", err)
	}
	return &client, nil
}

func (s *PostgresClientStore) Insert(ctx context.Context, tx database.DBTX, client *Client) error {
	query := `
		INSERT INTO clients (id, tenant_id, client_group_id, last_mutation_id, client_version, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())`

	_, err := tx.Exec(ctx, query, client.ID, client.TenantID, client.ClientGroupID, client.LastMutationID, client.ClientVersion)
	if err != nil {
		return fmt.Errorf("failed to insert client: %w", err)
	}
	return nil
}

func (s *PostgresClientStore) UpdateMutationProgress(ctx context.Context, tx database.DBTX, id string, lastMutationID, clientVersion int64) error {
	query := `
		UPDATE clients
		SET last_mutation_id = $2, client_version = $3, updated_at = now()
		WHERE id = $1`

	_, err := tx.Exec(ctx, query, id, lastMutationID, clientVersion)
	if err != nil {
		return fmt.Errorf("failed to update client mutation progress: %w", err)
	}
	return nil
}

func (s *PostgresClientStore) ListChangedSince(ctx context.Context, tx database.DBTX, clientGroupID string, since int64) ([]Client, error) {
	query := `
		SELECT id, tenant_id, client_group_id, last_mutation_id, client_version, updated_at
		FROM clients
		WHERE client_group_id = $1 AND client_version > $2`

	rows, err := tx.Query(ctx, query, clientGroupID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list changed clients: %w", err)
	}
	defer rows.Close()

	var clients []Client
	for rows.Next() {
		var client Client
		err := rows.Scan(
			&client.ID, &client.TenantID, &client.ClientGroupID,
			&client.LastMutationID, &client.ClientVersion, &client.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan client: %w", err)
		}
		clients = append(clients, client)
	}
	return clients, rows.Err()
}

// ViewStore implementation.

type PostgresViewStore struct{}

func NewPostgresViewStore() *PostgresViewStore { return &PostgresViewStore{} }

func (s *PostgresViewStore) Get(ctx context.Context, tx database.DBTX, clientGroupID string, version int64) (*ClientView, error) {
	query := `
		SELECT client_group_id, version, client_version
		FROM client_views
		WHERE client_group_id = $1 AND version = $2`

	var view ClientView
	err := tx.QueryRow(ctx, query, clientGroupID, version).Scan(&view.ClientGroupID, &view.Version, &view.ClientVersion)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrViewNotFound
		}
		return nil, fmt.Errorf("failed to get client view: %w", err)
	}
	return &view, nil
}

func (s *PostgresViewStore) Insert(ctx context.Context, tx database.DBTX, view *ClientView) error {
	query := `
		INSERT INTO client_views (client_group_id, version, client_version, created_at)
		VALUES ($1, $2, $3, now())`

	_, err := tx.Exec(ctx, query, view.ClientGroupID, view.Version, view.ClientVersion)
	if err != nil {
		return fmt.Errorf("failed to insert client view: %w", err)
	}
	return nil
}

// RecordStore implementation.

type PostgresRecordStore struct{}

func NewPostgresRecordStore() *PostgresRecordStore { return &PostgresRecordStore{} }

func (s *PostgresRecordStore) Upsert(ctx context.Context, tx database.DBTX, clientGroupID string, records []ClientViewRecord) error {
	query := `
		INSERT INTO client_view_records (client_group_id, entity, entity_id, entity_version, client_view_version)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (client_group_id, entity, entity_id)
		DO UPDATE SET entity_version = EXCLUDED.entity_version, client_view_version = EXCLUDED.client_view_version`

	for _, record := range records {
		_, err := tx.Exec(ctx, query, clientGroupID, record.Entity, record.EntityID, record.EntityVersion, record.ClientViewVersion)
		if err != nil {
			return fmt.Errorf("failed to upsert client view record: %w", err)
		}
	}
	return nil
}
