package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"shopmall/pkg/domain/model"
	"shopmall/pkg/domain/service"
	"shopmall/pkg/infrastructure/event"
	"shopmall/pkg/infrastructure/gateway"
	"shopmall/pkg/infrastructure/health"
	"shopmall/pkg/infrastructure/lock"
	"shopmall/pkg/infrastructure/sqlstore"
	"shopmall/pkg/transport"
)

const (
	lockBackendRedis = "redis"
	lockBackendLocal = "local"

	shutdownTimeout = 15 * time.Second
)

func main() {
	log.SetFormatter(&log.JSONFormatter{})

	app := &cli.App{
		Name:  appID,
		Usage: "order lifecycle service",
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the HTTP API and the gRPC health server",
				Action: serve,
			},
			{
				Name:  "migrate",
				Usage: "apply or roll back the database schema",
				Subcommands: []*cli.Command{
					{Name: "up", Action: migrate(sqlstore.MigrateUp)},
					{Name: "down", Action: migrate(sqlstore.MigrateDown)},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.WithError(err).Fatal("shopmall stopped")
	}
}

func setup(ctx context.Context) (*config, *sqlx.DB, error) {
	cfg, err := parseEnv()
	if err != nil {
		return nil, nil, err
	}
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, errors.Wrap(err, "parse log level")
	}
	log.SetLevel(level)

	db, err := sqlstore.Open(ctx, cfg.database())
	if err != nil {
		return nil, nil, err
	}
	return cfg, db, nil
}

func migrate(run func(*sqlx.DB, string) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		cfg, db, err := setup(c.Context)
		if err != nil {
			return err
		}
		defer db.Close()

		if err = run(db, cfg.DBDriver); err != nil {
			return err
		}
		log.WithField("driver", cfg.DBDriver).Info("migration finished")
		return nil
	}
}

func serve(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, db, err := setup(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	checks := map[string]health.Check{"database": db.PingContext}

	locks, closeLocks, err := newLockProvider(ctx, cfg, checks)
	if err != nil {
		return err
	}
	defer closeLocks()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	targets, closeTargets, err := newEventTargets(cfg)
	if err != nil {
		return err
	}
	defer closeTargets()
	dispatcher := event.NewMetricsDispatcher(targets, registry)

	orders := sqlstore.NewOrderRepository(db)
	histories := sqlstore.NewHistoryRepository(db)
	products := sqlstore.NewProductRepository(db)
	payments := sqlstore.NewPaymentRepository(db)
	opts := cfg.lockOptions()

	stock := service.NewStockLedger(products, locks, dispatcher, opts)
	cancellation := service.NewCancellationService(orders, histories, payments, stock, locks, dispatcher, opts)
	orderService := service.NewOrderService(
		orders, histories, sqlstore.NewMemberDirectory(db), products, stock, cancellation, locks, dispatcher, opts,
	)
	paymentService := service.NewPaymentService(
		payments, orders, histories, gateway.NewSimulated(cfg.GatewayLatency, cfg.GatewayFailureRate), locks, dispatcher, opts,
	)

	monitor := health.NewMonitor(cfg.HealthInterval, cfg.HealthTimeout, checks)
	srv := &http.Server{
		Addr:              cfg.HTTPAddress,
		Handler:           transport.Router(orderService, cancellation, paymentService, registry, monitor.HTTPHandler()),
		ReadHeaderTimeout: 5 * time.Second,
	}
	grpcServer := health.NewGRPCServer(monitor)
	grpcListener, err := net.Listen("tcp", cfg.GRPCAddress)
	if err != nil {
		return errors.Wrapf(err, "listen on %s", cfg.GRPCAddress)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithField("url", cfg.HTTPAddress).Info("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return errors.Wrap(err, "http server")
		}
		return nil
	})
	g.Go(func() error {
		log.WithField("url", cfg.GRPCAddress).Info("Starting gRPC health server")
		return errors.Wrap(grpcServer.Serve(grpcListener), "grpc server")
	})
	g.Go(func() error {
		return monitor.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		grpcServer.GracefulStop()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func newLockProvider(ctx context.Context, cfg *config, checks map[string]health.Check) (model.LockProvider, func(), error) {
	if cfg.LockBackend == lockBackendLocal {
		log.Warn("Using in-process locks, run a single instance only")
		return lock.NewLocalProvider(), func() {}, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, errors.Wrap(err, "parse redis url")
	}
	client := redis.NewClient(opts)
	if err = client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, errors.Wrap(err, "ping redis")
	}
	checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }

	return lock.NewRedisProvider(client), func() { _ = client.Close() }, nil
}

func newEventTargets(cfg *config) (event.FanOut, func(), error) {
	var (
		targets event.FanOut
		closers []func() error
	)
	closeAll := func() {
		for _, closeFn := range closers {
			if err := closeFn(); err != nil {
				log.WithError(err).Warn("close event target")
			}
		}
	}

	for _, broker := range cfg.EventBrokers {
		switch broker {
		case "log":
			targets = append(targets, event.NewLogDispatcher())
		case "kafka":
			d := event.NewKafkaDispatcher(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.PublishTimeout)
			targets = append(targets, d)
			closers = append(closers, d.Close)
		case "amqp":
			d, err := event.NewAMQPDispatcher(cfg.AMQPURL, cfg.AMQPExchange, cfg.PublishTimeout)
			if err != nil {
				closeAll()
				return nil, nil, err
			}
			targets = append(targets, d)
			closers = append(closers, d.Close)
		default:
			closeAll()
			return nil, nil, errors.Errorf("unknown event broker %q", broker)
		}
	}
	if len(targets) == 0 {
		targets = append(targets, event.NewLogDispatcher())
	}
	return targets, closeAll, nil
}
