package sync

import (
	"context"
	"time"

	"github.com/printmesh/printmesh/pkg/database"
)

// GroupStore persists client groups. GetForUpdate locks the row for the
// duration of the enclosing transaction.
type GroupStore interface {
	GetForUpdate(ctx context.Context, tx database.DBTX, id string) (*ClientGroup, error)
	Insert(ctx context.Context, tx database.DBTX, group *ClientGroup) error
	Update(ctx context.Context, tx database.DBTX, group *ClientGroup) error
	ListExpired(ctx context.Context, tx database.DBTX, cutoff time.Time, limit int) ([]string, error)
	DeleteCascade(ctx context.Context, tx database.DBTX, id string) error
}

// ClientStore persists clients within a group.
type ClientStore interface {
	GetForUpdate(ctx context.Context, tx database.DBTX, id string) (*Client, error)
	Insert(ctx context.Context, tx database.DBTX, client *Client) error
	UpdateMutationProgress(ctx context.Context, tx database.DBTX, id string, lastMutationID, clientVersion int64) error
	// ListChangedSince returns the group's clients whose clientVersion
	// advanced past since.
	ListChangedSince(ctx context.Context, tx database.DBTX, clientGroupID string, since int64) ([]Client, error)
}

// ViewStore persists the cookies handed out to a group.
type ViewStore interface {
	Get(ctx context.Context, tx database.DBTX, clientGroupID string, version int64) (*ClientView, error)
	Insert(ctx context.Context, tx database.DBTX, view *ClientView) error
}

// RecordStore persists per-row bookkeeping for a group. Upsert is keyed by
// (clientGroupID, entity, entityID); a re-sent row replaces its prior record.
type RecordStore interface {
	Upsert(ctx context.Context, tx database.DBTX, clientGroupID string, records []ClientViewRecord) error
}

// TxRunner is the slice of the transaction coordinator the sync processors
// use. *database.Coordinator satisfies it.
type TxRunner interface {
	Run(ctx context.Context, fn func(ctx context.Context, tx database.DBTX) error) error
	AfterCommit(ctx context.Context, fn func(context.Context), onSuccessOnly bool)
}
