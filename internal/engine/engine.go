package engine

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/printmesh/printmesh/internal/accesscontrol"
	"github.com/printmesh/printmesh/internal/services/tenants"
	"github.com/printmesh/printmesh/internal/services/users"
	"github.com/printmesh/printmesh/internal/sync"
	"github.com/printmesh/printmesh/pkg/health"
	"github.com/printmesh/printmesh/pkg/logger"
)

// PushProcessor and PullProcessor are the slices of the sync package the
// HTTP layer calls. *sync.Pusher and *sync.Puller satisfy them; tests
// substitute fakes.
type PushProcessor interface {
	Push(ctx context.Context, principal *accesscontrol.Principal, req *sync.PushRequest) error
}

type PullProcessor interface {
	Pull(ctx context.Context, principal *accesscontrol.Principal, req *sync.PullRequest) (*sync.PullResponse, error)
}

// Engine bundles everything the HTTP surface needs.
type Engine struct {
	logger        *logger.Logger
	pool          *pgxpool.Pool
	pusher        PushProcessor
	puller        PullProcessor
	tenants       *tenants.Repository
	users         *users.Repository
	authenticator *users.Authenticator
	acl           accesscontrol.ACL
	health        *health.Checker
}

// NewEngine wires the HTTP engine.
func NewEngine(
	log *logger.Logger,
	pool *pgxpool.Pool,
	pusher PushProcessor,
	puller PullProcessor,
	tenantRepo *tenants.Repository,
	userRepo *users.Repository,
	authenticator *users.Authenticator,
	acl accesscontrol.ACL,
	healthChecker *health.Checker,
) *Engine {
	return &Engine{
		logger:        log,
		pool:          pool,
		pusher:        pusher,
		puller:        puller,
		tenants:       tenantRepo,
		users:         userRepo,
		authenticator: authenticator,
		acl:           acl,
		health:        healthChecker,
	}
}
