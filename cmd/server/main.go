package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/printmesh/printmesh/internal/engine"
	"github.com/printmesh/printmesh/internal/mutation"
	"github.com/printmesh/printmesh/internal/notifier"
	"github.com/printmesh/printmesh/internal/services/announcements"
	"github.com/printmesh/printmesh/internal/services/orders"
	"github.com/printmesh/printmesh/internal/services/tenants"
	"github.com/printmesh/printmesh/internal/services/users"
	"github.com/printmesh/printmesh/internal/sync"
	"github.com/printmesh/printmesh/pkg/config"
	"github.com/printmesh/printmesh/pkg/database"
	"github.com/printmesh/printmesh/pkg/health"
	"github.com/printmesh/printmesh/pkg/logger"
)

const version = "1.0.0"

func main() {
	log := logger.New("printmesh-server", version)
	cfg := config.FromEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := database.Initialize(ctx, database.FromGlobalConfig(cfg)); err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	db := database.GetInstance()
	defer db.Close()
	pool := db.Pool()

	coordinator := database.NewCoordinator(pool, log)

	// Permission universe and role ACLs. An ACL naming an undeclared
	// permission is a wiring bug, fatal at startup.
	catalog := engine.BuildCatalog()
	acl := engine.DefaultACL()
	if err := acl.Validate(catalog); err != nil {
		log.Fatalf("Invalid role ACL: %v", err)
	}

	orderRepo := orders.NewRepository()
	announcementRepo := announcements.NewRepository()
	tenantRepo := tenants.NewRepository()
	userRepo := users.NewRepository()
	authenticator := users.NewAuthenticator(userRepo)

	registry := mutation.NewRegistry()
	orders.RegisterMutations(registry, orderRepo, pool)
	announcements.RegisterMutations(registry, announcementRepo)
	tenants.RegisterMutations(registry, tenantRepo)
	users.RegisterMutations(registry)
	dispatcher := mutation.NewDispatcher(registry)
	log.Infof("Registered mutations: %v", registry.Names())

	resolvers := sync.NewResolverSet()
	orders.RegisterResolvers(resolvers)
	announcements.RegisterResolvers(resolvers)
	tenants.RegisterResolvers(resolvers)
	users.RegisterResolvers(resolvers)

	groupStore := sync.NewPostgresGroupStore()
	clientStore := sync.NewPostgresClientStore()
	viewStore := sync.NewPostgresViewStore()
	recordStore := sync.NewPostgresRecordStore()

	var poker sync.Poker
	redisClient, err := database.NewRedis(ctx, database.RedisFromGlobalConfig(cfg))
	if err != nil {
		log.Warnf("Redis unavailable, pull hints disabled: %v", err)
	} else {
		defer redisClient.Close()
		poker = notifier.NewRedisNotifier(redisClient.Client(), log)
	}

	pusher := sync.NewPusher(coordinator, groupStore, clientStore, dispatcher, poker, log)
	puller := sync.NewPuller(coordinator, groupStore, clientStore, viewStore, recordStore, resolvers, log)

	collector := sync.NewCollector(coordinator, groupStore, log, clientGroupLifetime(cfg))
	go collector.Run(ctx)

	healthChecker := health.NewChecker()
	go runHealthChecks(ctx, healthChecker, db, redisClient)

	srv := engine.NewServer(
		engine.NewEngine(log, pool, pusher, puller, tenantRepo, userRepo, authenticator, acl, healthChecker),
		cfg.GetOrDefault("server.addr", ":8080"),
	)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Errorf("Shutdown failed: %v", err)
		}
	}()

	if err := srv.Start(); err != nil && ctx.Err() == nil {
		log.Fatalf("Server failed: %v", err)
	}
	log.Info("Server stopped")
}

func clientGroupLifetime(cfg *config.Config) time.Duration {
	raw := cfg.GetOrDefault("sync.client_group_lifetime", "720h")
	lifetime, err := time.ParseDuration(raw)
	if err != nil {
		return 30 * 24 * time.Hour
	}
	return lifetime
}

func runHealthChecks(ctx context.Context, checker *health.Checker, db *database.PostgreSQL, redisClient *database.Redis) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		checker.RunCheck("postgres", func() error {
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			return db.Pool().Ping(pingCtx)
		})
		if redisClient != nil {
			checker.RunCheck("redis", func() error {
				pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
				defer cancel()
				return redisClient.Ping(pingCtx)
			})
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
