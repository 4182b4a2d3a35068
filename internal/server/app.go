// Package server wires the price alert pipeline: preference store, price
// queue, matching engine, delivery gateway, and the health and metrics
// endpoints. It also handles graceful shutdown.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmitrijs2005/pricealert/internal/dbx"
	"github.com/dmitrijs2005/pricealert/internal/filex"
	"github.com/dmitrijs2005/pricealert/internal/logging"
	"github.com/dmitrijs2005/pricealert/internal/server/config"
	"github.com/dmitrijs2005/pricealert/internal/server/deadletter"
	"github.com/dmitrijs2005/pricealert/internal/server/delivery"
	"github.com/dmitrijs2005/pricealert/internal/server/matcher"
	"github.com/dmitrijs2005/pricealert/internal/server/metrics"
	"github.com/dmitrijs2005/pricealert/internal/server/queue"
	"github.com/dmitrijs2005/pricealert/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/pricealert/internal/server/services"
	"golang.org/x/sync/errgroup"

	gs "github.com/dmitrijs2005/pricealert/internal/server/grpc"
)

type App struct {
	config        *config.Config
	logger        logging.Logger
	db            *sql.DB
	transport     queue.Transport
	userService   *services.UserService
	engine        *matcher.Engine
	grpcServer    *gs.GRPCServer
	metricsServer *metrics.Server
}

// NewApp opens every backend named in c. Any failure here is fatal; the
// handles opened so far are closed before returning.
func NewApp(ctx context.Context, c *config.Config) (_ *App, err error) {
	logger := logging.NewJSONLogger(os.Stdout, c.LogLevel)
	app := &App{config: c, logger: logger}

	defer func() {
		if err != nil {
			_ = app.Close()
		}
	}()

	rm, err := app.openStore(ctx)
	if err != nil {
		return nil, err
	}

	app.transport, err = openTransport(c)
	if err != nil {
		return nil, fmt.Errorf("queue init error: %w", err)
	}

	sink, err := openDeadLetter(ctx, c, logger)
	if err != nil {
		return nil, fmt.Errorf("dead letter init error: %w", err)
	}

	reg := metrics.NewRegistry()
	m, err := matcher.NewMetrics(reg)
	if err != nil {
		return nil, err
	}
	if err := metrics.RegisterQueueDepth(reg, c.QueueName, app.transport.QueueDepth, logger); err != nil {
		return nil, fmt.Errorf("register queue depth: %w", err)
	}

	var db dbx.DBTX
	if app.db != nil {
		db = app.db
	}

	gateway := delivery.NewRetryingGateway(
		delivery.NewLogGateway(logger.With("module", "delivery")),
		delivery.ExponentialBackOff(c.DeliveryMaxElapsed),
	)

	app.grpcServer = gs.NewGRPCServer(c.EndpointAddrGRPC, logger)
	if c.MetricsAddr != "" {
		app.metricsServer = metrics.NewServer(c.MetricsAddr, reg, logger)
	}
	app.userService = services.NewUserService(db, rm)
	app.engine = matcher.NewEngine(app.transport, rm.Users(db), gateway, logger,
		matcher.WithPollInterval(c.PollInterval),
		matcher.WithDeadLetter(sink),
		matcher.WithMetrics(m),
		matcher.WithStateObserver(app.grpcServer.ObserveEngine),
	)

	return app, nil
}

func (app *App) openStore(ctx context.Context) (repomanager.RepositoryManager, error) {
	switch app.config.StoreBackend {
	case config.BackendMemory:
		return repomanager.NewMemoryRepositoryManager(), nil
	case config.BackendPostgres:
		db, err := repomanager.OpenPostgres(ctx, app.config.DatabaseDSN)
		if err != nil {
			return nil, fmt.Errorf("db init error: %w", err)
		}
		app.db = db
		rm := repomanager.NewPostgresRepositoryManager()
		if err := rm.RunMigrations(ctx, db); err != nil {
			return nil, fmt.Errorf("db init error: %w", err)
		}
		return rm, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", app.config.StoreBackend)
	}
}

func openTransport(c *config.Config) (queue.Transport, error) {
	switch c.QueueBackend {
	case config.BackendMemory:
		return queue.NewMemoryTransport(c.QueueName), nil
	case config.BackendPebble:
		dir, err := filex.EnsureDir(c.PebbleDir)
		if err != nil {
			return nil, err
		}
		t, err := queue.OpenPebble(dir, c.QueueName, nil)
		if err != nil {
			return nil, err
		}
		return t, nil
	case config.BackendKafka:
		t, err := queue.NewKafkaTransport(queue.KafkaOptions{
			Brokers:     c.KafkaBrokers,
			Topic:       c.QueueName,
			GroupID:     c.KafkaGroupID,
			PollTimeout: c.PollTimeout,
		})
		if err != nil {
			return nil, err
		}
		return t, nil
	default:
		return nil, fmt.Errorf("unknown queue backend %q", c.QueueBackend)
	}
}

func openDeadLetter(ctx context.Context, c *config.Config, logger logging.Logger) (deadletter.Sink, error) {
	switch c.DeadLetterBackend {
	case config.BackendLog, "":
		return deadletter.NewLogSink(logger.With("module", "deadletter")), nil
	case config.BackendS3:
		s, err := deadletter.NewS3Sink(ctx, c)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown dead letter backend %q", c.DeadLetterBackend)
	}
}

// Users is the preference management API over the configured store.
func (app *App) Users() *services.UserService {
	return app.userService
}

// Publisher lets an in-process price fetcher feed the queue.
func (app *App) Publisher() queue.Publisher {
	return app.transport
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// Run blocks until ctx is cancelled, a termination signal arrives, or one
// of the servers fails.
func (app *App) Run(ctx context.Context) error {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return app.engine.Run(ctx)
	})
	g.Go(func() error {
		if err := app.grpcServer.Run(ctx); err != nil {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})
	if app.metricsServer != nil {
		g.Go(func() error {
			if err := app.metricsServer.Run(ctx); err != nil {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}

	err := g.Wait()
	app.logger.Info(context.WithoutCancel(ctx), "App stopped")
	return err
}

// Close releases the queue and database handles.
func (app *App) Close() error {
	var errs []error
	if app.transport != nil {
		errs = append(errs, app.transport.Close())
	}
	if app.db != nil {
		errs = append(errs, app.db.Close())
	}
	return errors.Join(errs...)
}
