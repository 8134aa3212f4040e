package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	auth "github.com/TKOaly/user-service-sub000"
	"github.com/TKOaly/user-service-sub000/activitymap"
	"github.com/TKOaly/user-service-sub000/api"
	"github.com/TKOaly/user-service-sub000/config"
	"github.com/TKOaly/user-service-sub000/kvstore"
	"github.com/TKOaly/user-service-sub000/oauth"
	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server and the projection listener",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	rt, err := newRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()
	logger := rt.logger

	auth.MaxLoginAttempts = cfg.MaxLoginAttempts
	auth.CoolDownPeriod = cfg.LoginCoolDown

	kv, err := newKVStore(ctx, rt)
	if err != nil {
		return err
	}
	defer kv.Close()

	keys, err := newKeyProvider(cfg)
	if err != nil {
		return err
	}
	tokens, err := auth.NewServiceTokenCodec([]byte(cfg.ServiceTokenSecret),
		auth.WithServiceTokenIssuer(cfg.Issuer),
		auth.WithServiceTokenTTL(cfg.ServiceTokenTTL),
		auth.WithServiceTokenLogger(logger.GetLogger("tokens")),
	)
	if err != nil {
		return err
	}

	activity := activitymap.LoggingSink(logger.GetLogger("activity"))
	credentials := auth.NewCredentialStore(rt.engine,
		auth.WithCredentialUpgrader(rt.engine),
		auth.WithAttemptCounter(kv),
		auth.WithCredentialActivitySink(activity),
		auth.WithCredentialLogger(logger.GetLogger("credentials")),
	)

	provider, err := oauth.NewProvider(oauth.Config{
		Issuer:      cfg.Issuer,
		BasePath:    cfg.BasePath,
		Services:    rt.repos.Services(),
		Consents:    rt.repos.Consents(),
		Policies:    rt.repos.Services(),
		Users:       rt.engine,
		Credentials: credentials,
		Tokens:      tokens,
		IDTokens:    auth.NewIDTokenSigner(keys, cfg.Issuer, auth.WithIDTokenTTL(cfg.IDTokenTTL)),
		Keys:        keys,
		Flows:       oauth.NewFlowStore(kv, cfg.FlowTTL),
		Codes:       oauth.NewCodeStore(kv, cfg.CodeTTL),
	},
		oauth.WithLogger(logger.GetLogger("oauth")),
		oauth.WithMetrics(rt.metrics),
		oauth.WithActivitySink(activity),
	)
	if err != nil {
		return err
	}

	listener := rt.listener()
	controller, err := api.NewController(api.Config{
		Users:       rt.engine,
		Services:    rt.repos.Services(),
		Credentials: credentials,
		Tokens:      tokens,
		Listener:    listener,
		Cookie:      cfg.Cookie(),
	},
		api.WithLogger(logger.GetLogger("api")),
		api.WithMetrics(rt.metrics),
		api.WithActivitySink(activity),
	)
	if err != nil {
		return err
	}

	app := fiber.New(fiber.Config{
		AppName:               "user-service",
		DisableStartupMessage: true,
		ErrorHandler:          auth.ErrorHandler(logger.GetLogger("http")),
	})
	app.Use(rt.metrics.Instrument())
	oauth.NewController(provider, cfg.Cookie(), logger.GetLogger("oauth")).Register(app)
	controller.Register(app)

	if err := listener.Start(ctx); err != nil {
		return err
	}
	logger.Info("projection listener started", "group", cfg.ConsumerGroup)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server listening", "address", cfg.Listen)
		return app.Listen(cfg.Listen)
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case <-listener.Done():
			if err := listener.Err(); err != nil {
				return goerrors.Wrap(err, goerrors.CategoryExternal, "projection listener stopped")
			}
			return nil
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			logger.Error("http shutdown failed", "error", err)
		}
		return listener.Stop(shutdownCtx)
	})
	return g.Wait()
}

func newKVStore(ctx context.Context, rt *runtime) (kvstore.Store, error) {
	if rt.cfg.KVStore == config.KVStoreMemory {
		rt.logger.Warn("using in memory flow storage, run a single instance only")
		return kvstore.NewMemoryStore(), nil
	}
	client, err := rt.conn.Client(ctx)
	if err != nil {
		return nil, err
	}
	return kvstore.NewRedisStore(client, rt.cfg.EventLogPrefix+":kv:"), nil
}

func newKeyProvider(cfg *config.Config) (auth.KeyProvider, error) {
	if cfg.SigningKeyFile != "" {
		return auth.LoadKeyProviderFromFile(cfg.SigningKeyFile)
	}
	return auth.NewGeneratingKeyProvider(2048), nil
}
