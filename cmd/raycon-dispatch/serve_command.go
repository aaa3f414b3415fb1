package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/roboricindustries/raycon-dispatch/pkg/config"
	"github.com/roboricindustries/raycon-dispatch/pkg/dispatch"
	"github.com/roboricindustries/raycon-dispatch/pkg/engine"
	"github.com/roboricindustries/raycon-dispatch/pkg/intake"
	"github.com/roboricindustries/raycon-dispatch/pkg/pubsub"
	"github.com/roboricindustries/raycon-dispatch/pkg/schemas/common"
	"github.com/roboricindustries/raycon-dispatch/pkg/store"
	"github.com/roboricindustries/raycon-dispatch/pkg/store/mongostore"
	"github.com/roboricindustries/raycon-dispatch/pkg/store/rediscache"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Consume inbound alerts and run the dispatch engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.config()
			if err != nil {
				return err
			}
			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(runCtx, cfg, cfg.Logger(os.Stderr))
		},
	}
}

func serve(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	client, err := mongostore.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer func() {
		if err := client.Disconnect(context.Background()); err != nil {
			log.Warn("disconnect MongoDB", slog.Any("error", err))
		}
	}()
	st, err := mongostore.New(ctx, client.Database(cfg.DatabaseName))
	if err != nil {
		return err
	}

	var refs store.References = st
	if cfg.RedisAddr != "" {
		rdb, err := openRedis(ctx, cfg)
		if err != nil {
			return err
		}
		defer rdb.Close()
		refs = rediscache.New(rdb, st, cfg.CacheTTL, log)
	}

	var dialer pubsub.Dialer
	if cfg.BrokerURL == "" {
		log.Warn("BROKER_URL not set, publishes are logged and reported as failed")
		dialer = pubsub.NewFallback(log)
	} else {
		dialer = &pubsub.AMQPDialer{URL: cfg.BrokerURL, Confirm: true, Logger: log}
	}

	var limiter *rate.Limiter
	if cfg.DispatchRateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.DispatchRateLimit), max(1, int(cfg.DispatchRateLimit)))
	}
	publisher := dispatch.NewPublisher(dispatch.Options{
		Dialer:         dialer,
		Logger:         log,
		ExchangePrefix: cfg.BrokerExchangePrefix,
		BaseDelay:      cfg.DispatchBaseDelay,
		DefaultTimeout: cfg.DispatchDefaultTimeout,
		Concurrency:    cfg.DispatchConcurrency,
		Limiter:        limiter,
	})

	eng, err := engine.New(engine.Options{
		Notifications: st,
		References:    refs,
		Dispatcher:    publisher,
		Logger:        log,
	})
	if err != nil {
		return err
	}

	// Stays nil, and so never ready, while intake is disabled.
	var intakeDone <-chan error
	if cfg.BrokerURL == "" {
		log.Warn("intake disabled without a broker")
	} else {
		sub, err := pubsub.NewSubscriber(ctx, pubsub.SubscriberOptions{
			Connection: pubsub.ConnectionOptions{
				URL:           cfg.BrokerURL,
				RetryAttempts: cfg.BrokerDialAttempts,
				Delay:         cfg.BrokerDialDelay,
				Logger:        log,
			},
			BufferCap: cfg.IntakeBuffer,
			Workers:   cfg.IntakeWorkers,
		})
		if err != nil {
			return fmt.Errorf("start intake: %w", err)
		}
		defer sub.Close()

		sub.RegisterHandler(pubsub.FirstNonEmpty(cfg.IntakeRoutingKey, common.InboundRoutingKey), intake.Handler(eng, log))
		if err := sub.Start(pubsub.IntakeTopology{Exchange: common.InboundExchange, Queue: cfg.IntakeQueue}); err != nil {
			return fmt.Errorf("start intake: %w", err)
		}
		intakeDone = sub.Done()
	}

	log.Info("dispatch engine running",
		slog.String("database", cfg.DatabaseName),
		slog.String("exchange_prefix", cfg.BrokerExchangePrefix),
		slog.Bool("cache", cfg.RedisAddr != ""),
	)
	select {
	case <-ctx.Done():
		log.Info("shutting down")
		return nil
	case err := <-intakeDone:
		return fmt.Errorf("intake: %w", err)
	}
}
