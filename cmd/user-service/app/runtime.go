package app

import (
	"context"

	auth "github.com/TKOaly/user-service-sub000"
	"github.com/TKOaly/user-service-sub000/config"
	"github.com/TKOaly/user-service-sub000/eventlog"
	"github.com/TKOaly/user-service-sub000/internal/metrics"
	"github.com/TKOaly/user-service-sub000/projection"
	"github.com/bwmarrin/snowflake"
	goerrors "github.com/goliatone/go-errors"
	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
)

// runtime is the set of long lived dependencies shared by the commands.
type runtime struct {
	cfg     *config.Config
	logger  *auth.ZapLogger
	metrics *metrics.Metrics
	db      *bun.DB
	repos   auth.RepositoryManager
	conn    *eventlog.Conn
	gateway *eventlog.RedisGateway
	engine  *projection.Engine
}

func newRuntime(ctx context.Context, cfg *config.Config) (*runtime, error) {
	logger, err := cfg.Logger()
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to build logger")
	}

	db, err := auth.OpenDatabase(cfg.DatabaseDSN)
	if err != nil {
		return nil, err
	}
	applied, err := auth.Migrate(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if len(applied) > 0 {
		logger.Info("applied migrations", "migrations", applied)
	}

	rt := &runtime{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.New(),
		db:      db,
		repos:   auth.NewRepositoryManager(db),
	}

	rt.conn = eventlog.NewConn(&redis.UniversalOptions{
		Addrs:    []string{cfg.RedisAddr},
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	rt.gateway = eventlog.NewRedisGateway(rt.conn,
		eventlog.WithPrefix(cfg.EventLogPrefix),
		eventlog.WithLogger(logger.GetLogger("eventlog")),
	)

	node, err := snowflake.NewNode(cfg.NodeID)
	if err != nil {
		rt.Close()
		return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid node id")
	}
	rt.engine, err = projection.NewEngine(rt.repos, rt.gateway,
		projection.WithIDNode(node),
		projection.WithDurabilityTimeout(cfg.DurabilityTimeout),
		projection.WithLogger(logger.GetLogger("projection")),
		projection.WithMetrics(rt.metrics),
	)
	if err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

func (rt *runtime) listener() *projection.Listener {
	return projection.NewListener(rt.engine, rt.gateway, eventlog.SubscribeConfig{
		Group:         rt.cfg.ConsumerGroup,
		Consumer:      rt.cfg.ConsumerName,
		MaxDeliveries: rt.cfg.MaxDeliveries,
	})
}

func (rt *runtime) Close() {
	if err := rt.conn.Close(); err != nil {
		rt.logger.Warn("failed to close event log connection", "error", err)
	}
	if err := rt.db.Close(); err != nil {
		rt.logger.Warn("failed to close database", "error", err)
	}
	_ = rt.logger.Sync()
}
