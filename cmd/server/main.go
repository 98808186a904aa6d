package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	"assent/internal/dispatch"
	"assent/internal/envelope"
	"assent/internal/identity"
	"assent/internal/ledger"
	ledgerhandler "assent/internal/ledger/handler"
	ledgerpg "assent/internal/ledger/store/postgres"
	"assent/internal/ledger/stream"
	"assent/internal/notify"
	"assent/internal/platform/config"
	"assent/internal/platform/httpserver"
	"assent/internal/platform/logger"
	"assent/internal/platform/metrics"
	"assent/internal/platform/redis"
	"assent/internal/policy"
	"assent/internal/proposal"
	proposalhandler "assent/internal/proposal/handler"
	proposalmetrics "assent/internal/proposal/metrics"
	httptransport "assent/internal/transport/http"
)

// main wires the dependency graph and owns process lifecycle: HTTP server,
// expiry sweeper and graceful shutdown. Business logic lives in the internal
// services.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	checks := map[string]httptransport.HealthChecker{}

	// Ledger store: Postgres when configured, in-memory otherwise. The
	// in-memory store is for development only; it forgets on restart.
	var ledgerStore ledger.Store
	if cfg.Postgres.URL != "" {
		db, err := sql.Open("postgres", cfg.Postgres.URL)
		if err != nil {
			log.Error("open postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			log.Error("ping postgres", "error", err)
			os.Exit(1)
		}
		ledgerStore = ledgerpg.New(db)
		checks["postgres"] = pingChecker{db}
	} else {
		log.Warn("no postgres configured, ledger is in-memory and volatile")
		ledgerStore = ledger.NewMemoryStore()
	}

	signer, err := ledger.NewSigner(cfg.Ledger.SigningSecret)
	if err != nil {
		log.Error("build ledger signer", "error", err)
		os.Exit(1)
	}

	ledgerOpts := []ledger.Option{ledger.WithLogger(log)}
	mirror, err := stream.NewKafkaMirror(cfg.Kafka.Brokers, cfg.Kafka.AuditTopic, log)
	if err != nil {
		log.Error("connect audit mirror", "error", err)
		os.Exit(1)
	}
	if mirror != nil {
		defer mirror.Close()
		ledgerOpts = append(ledgerOpts, ledger.WithMirror(mirror))
	}
	ledgerSvc, err := ledger.NewService(ledgerStore, signer, ledgerOpts...)
	if err != nil {
		log.Error("build ledger service", "error", err)
		os.Exit(1)
	}

	registry := policy.NewMemoryRegistry()
	if cfg.Policy.File == "" {
		log.Error("ASSENT_POLICY_FILE is required")
		os.Exit(1)
	}
	if err := policy.LoadFile(cfg.Policy.File, registry); err != nil {
		log.Error("load policy file", "file", cfg.Policy.File, "error", err)
		os.Exit(1)
	}

	codec := envelope.NewCodec(cfg.Envelope.MaxPayloadBytes)

	redisClient, err := redis.New(cfg.Redis)
	if err != nil {
		log.Error("connect redis", "error", err)
		os.Exit(1)
	}
	var markers dispatch.MarkerStore = dispatch.NewMemoryMarkers()
	if redisClient != nil {
		defer redisClient.Close()
		markers = dispatch.NewRedisMarkers(redisClient, 0)
		checks["redis"] = redisClient
	}

	transport, closeTransport, err := buildTransport(cfg, codec)
	if err != nil {
		log.Error("build delivery transport", "error", err)
		os.Exit(1)
	}
	if closeTransport != nil {
		defer closeTransport()
	}

	store := proposal.NewMemoryStore()
	if _, err := proposal.Replay(ctx, ledgerSvc, store, log); err != nil {
		log.Error("replay ledger", "error", err)
		os.Exit(1)
	}

	proposalOpts := []proposal.Option{
		proposal.WithLogger(log),
		proposal.WithMetrics(proposalmetrics.New()),
		proposal.WithNotifier(notify.NewFanout(log, notify.NewLogSink(log))),
	}
	if transport != nil {
		dispatcher, err := dispatch.New(transport, markers, codec, ledgerSvc, dispatch.Config{
			BackoffBase: cfg.Dispatch.BackoffBase,
			BackoffCap:  cfg.Dispatch.BackoffCap,
			MaxAttempts: cfg.Dispatch.MaxAttempts,
		}, dispatch.WithLogger(log))
		if err != nil {
			log.Error("build dispatcher", "error", err)
			os.Exit(1)
		}
		proposalOpts = append(proposalOpts, proposal.WithDispatcher(dispatcher))
	} else {
		log.Warn("no delivery transport configured, approved proposals await manual delivery")
	}

	proposalSvc, err := proposal.NewService(store, ledgerSvc, registry, signer, proposalOpts...)
	if err != nil {
		log.Error("build proposal service", "error", err)
		os.Exit(1)
	}
	defer proposalSvc.Close()

	jwtValidator := identity.NewMiddlewareAdapter(identity.NewService(cfg.Server.JWTSigningKey, "assent", "assent"))
	httpMetrics := metrics.New()

	router := httptransport.NewRouter(httptransport.Deps{
		Proposals: proposalhandler.New(proposalSvc, log, httpMetrics, jwtValidator),
		Ledger:    ledgerhandler.New(ledgerSvc, log, httpMetrics, jwtValidator),
		Checks:    checks,
	})
	srv := httpserver.New(cfg.Server.Addr, router)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		log.Info("starting assent server", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		worker := proposal.NewExpiryWorker(proposalSvc, cfg.Dispatch.SweepInterval, log)
		if err := worker.Run(groupCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
	log.Info("shutdown complete")
}

// buildTransport selects the delivery transport: HTTP when a target URL is
// configured, the Kafka delivery topic when only brokers are.
func buildTransport(cfg config.Config, codec *envelope.Codec) (dispatch.Transport, func(), error) {
	if cfg.Dispatch.TargetURL != "" {
		return dispatch.NewHTTPTransport(cfg.Dispatch.TargetURL, codec, &http.Client{Timeout: 30 * time.Second}), nil, nil
	}
	if len(cfg.Kafka.Brokers) > 0 {
		kt, err := dispatch.NewKafkaTransport(cfg.Kafka.Brokers, cfg.Kafka.DeliveryTopic, codec)
		if err != nil {
			return nil, nil, err
		}
		return kt, kt.Close, nil
	}
	return nil, nil, nil
}

type pingChecker struct {
	db *sql.DB
}

func (c pingChecker) Health(ctx context.Context) error {
	return c.db.PingContext(ctx)
}
