package sync

import (
	"context"
	"time"

	"github.com/printmesh/printmesh/pkg/database"
	"github.com/printmesh/printmesh/pkg/logger"
)

// Collector deletes client groups (with their clients, views and records)
// that have been idle longer than the configured lifetime. Clients whose
// group is collected hit ErrClientStateNotFound on their next contact and
// resync from empty.
type Collector struct {
	coordinator TxRunner
	groups      GroupStore
	logger      *logger.Logger
	lifetime    time.Duration
	batchSize   int
	interval    time.Duration
}

// NewCollector wires a garbage collector with the given idle lifetime.
func NewCollector(coordinator TxRunner, groups GroupStore, log *logger.Logger, lifetime time.Duration) *Collector {
	return &Collector{
		coordinator: coordinator,
		groups:      groups,
		logger:      log,
		lifetime:    lifetime,
		batchSize:   100,
		interval:    time.Hour,
	}
}

// Run collects expired groups on a fixed interval until ctx is cancelled.
func (c *Collector) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if collected, err := c.CollectOnce(ctx); err != nil {
				c.logger.Errorf("Client group garbage collection failed: %v", err)
			} else if collected > 0 {
				c.logger.Infof("Collected %d expired client groups", collected)
			}
		}
	}
}

// CollectOnce deletes up to one batch of expired groups, each in its own
// transaction so a conflict on one group does not abort the sweep.
func (c *Collector) CollectOnce(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-c.lifetime)

	var ids []string
	err := c.coordinator.Run(ctx, func(ctx context.Context, tx database.DBTX) error {
		var err error
		ids, err = c.groups.ListExpired(ctx, tx, cutoff, c.batchSize)
		return err
	})
	if err != nil {
		return 0, err
	}

	collected := 0
	for _, id := range ids {
		err := c.coordinator.Run(ctx, func(ctx context.Context, tx database.DBTX) error {
			return c.groups.DeleteCascade(ctx, tx, id)
		})
		if err != nil {
			c.logger.Warnf("Failed to collect client group %s: %v", id, err)
			continue
		}
		collected++
	}
	return collected, nil
}
