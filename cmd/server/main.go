package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	authhandler "credrep/internal/auth/handler"
	authservice "credrep/internal/auth/service"
	"credrep/internal/auth/store/revocation"
	credhandler "credrep/internal/credential/handler"
	credmetrics "credrep/internal/credential/metrics"
	credservice "credrep/internal/credential/service"
	datahandler "credrep/internal/datastore/handler"
	dataservice "credrep/internal/datastore/service"
	datastore "credrep/internal/datastore/store"
	"credrep/internal/events/kafka"
	"credrep/internal/events/outbox"
	"credrep/internal/fhe/local"
	"credrep/internal/fhe/oracle"
	httpapi "credrep/internal/http"
	jwttoken "credrep/internal/jwt_token"
	"credrep/internal/ledger"
	"credrep/internal/ledger/memory"
	"credrep/internal/ledger/postgres"
	"credrep/internal/platform/config"
	"credrep/internal/platform/httpserver"
	"credrep/internal/platform/logger"
	"credrep/internal/platform/metrics"
	"credrep/internal/platform/redis"
	proofhandler "credrep/internal/proof/handler"
	proofmetrics "credrep/internal/proof/metrics"
	proofservice "credrep/internal/proof/service"
	ratelimitmetrics "credrep/internal/ratelimit/metrics"
	ratelimit "credrep/internal/ratelimit/middleware"
	ratelimitmodels "credrep/internal/ratelimit/models"
	"credrep/internal/ratelimit/store/bucket"
	rephandler "credrep/internal/reputation/handler"
	repmetrics "credrep/internal/reputation/metrics"
	repservice "credrep/internal/reputation/service"
	revealhandler "credrep/internal/reveal/handler"
	revealmetrics "credrep/internal/reveal/metrics"
	revealservice "credrep/internal/reveal/service"
)

// main wires high-level dependencies and runs the HTTP server, the decryption
// oracle and the outbox relay until a signal arrives. Business logic lives in
// the internal service packages.
func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("credrep stopped", "error", err)
		os.Exit(1)
	}
	log.Info("credrep stopped")
}

// infra holds the optional backends chosen by configuration.
type infra struct {
	ledger interface {
		ledger.Ledger
		ledger.Outbox
	}
	db     *sql.DB
	redis  *redis.Client
	health map[string]httpapi.HealthCheck
}

func (i *infra) close(log *slog.Logger) {
	if i.redis != nil {
		if err := i.redis.Close(); err != nil {
			log.Warn("close redis", "error", err)
		}
	}
	if i.db != nil {
		if err := i.db.Close(); err != nil {
			log.Warn("close postgres", "error", err)
		}
	}
}

func buildInfra(ctx context.Context, cfg config.Config, log *slog.Logger) (*infra, error) {
	in := &infra{health: map[string]httpapi.HealthCheck{}}

	if cfg.Ledger.PostgresDSN != "" {
		db, err := postgres.Open(ctx, cfg.Ledger.PostgresDSN)
		if err != nil {
			return nil, err
		}
		if err := postgres.Migrate(ctx, db); err != nil {
			_ = db.Close()
			return nil, err
		}
		in.db = db
		in.ledger = postgres.New(db)
		in.health["postgres"] = db.PingContext
		log.Info("ledger backend", "backend", "postgres")
	} else {
		in.ledger = memory.New()
		log.Info("ledger backend", "backend", "memory")
	}

	client, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		in.close(log)
		return nil, err
	}
	if client != nil {
		in.redis = client
		in.health["redis"] = client.Health
	}
	return in, nil
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	in, err := buildInfra(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer in.close(log)

	var (
		cipherStore local.Store                     = local.NewInMemoryStore()
		dataStore   dataservice.Store               = datastore.NewInMemoryStore()
		trl         authservice.TokenRevocationList = revocation.NewInMemoryTRL(nil)
		buckets     ratelimit.BucketStore           = bucket.NewInMemoryBucketStore()
	)
	if in.redis != nil {
		var rc goredis.UniversalClient = in.redis.Client
		cipherStore = local.NewRedisStore(rc)
		dataStore = datastore.NewRedisStore(rc)
		trl = revocation.NewRedisTRL(rc)
		buckets = bucket.NewRedisBucketStore(rc)
	} else if in.db != nil {
		trl = revocation.NewPostgresTRL(in.db, nil)
	}

	coprocessor, err := local.New(cipherStore, local.WithLogger(log))
	if err != nil {
		return err
	}

	keys, err := oracle.ParseSignerKeys(cfg.Oracle.SignerKeys, cfg.Oracle.SignerCount)
	if err != nil {
		return err
	}
	decryptionOracle, err := oracle.New(coprocessor, keys,
		oracle.WithLogger(log),
		oracle.WithMetrics(oracle.NewMetrics()),
		oracle.WithDelay(cfg.Oracle.Delay),
		oracle.WithRetry(cfg.Oracle.RetryDelay, cfg.Oracle.MaxAttempts),
	)
	if err != nil {
		return err
	}
	verifier, err := oracle.NewVerifier(decryptionOracle.SignerAddresses(), cfg.Oracle.Threshold)
	if err != nil {
		return err
	}

	credentials, err := credservice.New(in.ledger, coprocessor, cfg.Ledger.Admin,
		credservice.WithLogger(log), credservice.WithMetrics(credmetrics.New()))
	if err != nil {
		return err
	}
	reputation, err := repservice.New(in.ledger, coprocessor,
		repservice.WithLogger(log), repservice.WithMetrics(repmetrics.New()),
		repservice.WithParallelism(cfg.Reputation.Parallelism))
	if err != nil {
		return err
	}
	proofs, err := proofservice.New(in.ledger, coprocessor,
		proofservice.WithLogger(log), proofservice.WithMetrics(proofmetrics.New()),
		proofservice.WithTimeBoundMode(cfg.Proofs.TimeBoundMode))
	if err != nil {
		return err
	}
	reveals, err := revealservice.New(in.ledger, decryptionOracle, verifier,
		revealservice.WithLogger(log), revealservice.WithMetrics(revealmetrics.New()))
	if err != nil {
		return err
	}
	data, err := dataservice.New(dataStore, dataservice.WithLogger(log))
	if err != nil {
		return err
	}

	jwtService := jwttoken.NewJWTService(cfg.Auth.JWTSigningKey, cfg.Auth.JWTIssuer, cfg.Auth.JWTAudience)
	tokens, err := authservice.New(jwtService, trl, cfg.Auth.TokenTTL, authservice.WithLogger(log))
	if err != nil {
		return err
	}

	sinks := []outbox.Sink{outbox.NewLogSink(log)}
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaSink, err := kafka.NewSink(kafka.Config{Brokers: cfg.Kafka.Brokers, Topic: cfg.Kafka.Topic})
		if err != nil {
			return err
		}
		defer kafkaSink.Close()
		if err := kafkaSink.EnsureTopic(ctx, 1, 1); err != nil {
			log.Warn("kafka topic bootstrap failed", "topic", cfg.Kafka.Topic, "error", err)
		}
		sinks = append(sinks, kafkaSink)
	}
	relay, err := outbox.New(in.ledger, sinks,
		outbox.WithLogger(log),
		outbox.WithPollInterval(cfg.Outbox.PollInterval),
		outbox.WithBatchSize(cfg.Outbox.BatchSize))
	if err != nil {
		return err
	}

	if cfg.Auth.AdminTokenHash == "" {
		log.Warn("admin routes disabled: CREDREP_ADMIN_TOKEN_HASH is not set")
	}
	in.health["datastore"] = func(ctx context.Context) error {
		if !data.IsAvailable(ctx) {
			return errors.New("datastore unavailable")
		}
		return nil
	}

	limiter := ratelimit.New(buckets, log,
		ratelimit.WithDisabled(cfg.RateLimit.Disabled),
		ratelimit.WithMetrics(ratelimitmetrics.New()),
		ratelimit.WithLimit(ratelimitmodels.ClassRead, ratelimitmodels.Limit{RequestsPerWindow: cfg.RateLimit.ReadPerMinute, Window: time.Minute}),
		ratelimit.WithLimit(ratelimitmodels.ClassWrite, ratelimitmodels.Limit{RequestsPerWindow: cfg.RateLimit.WritePerMinute, Window: time.Minute}),
	)

	router := httpapi.NewRouter(httpapi.Config{
		Logger:            log,
		Metrics:           metrics.New(),
		TokenValidator:    jwttoken.NewJWTServiceAdapter(jwtService),
		RevocationChecker: tokens,
		AdminTokenHash:    cfg.Auth.AdminTokenHash,
		RateLimiter:       limiter,
		Handlers: []httpapi.Registrar{
			credhandler.New(credentials, log),
			rephandler.New(reputation, log),
			proofhandler.New(proofs, log),
			revealhandler.New(reveals, log),
			datahandler.New(data, log),
		},
		Admin:  authhandler.New(tokens, log),
		Health: in.health,
	})
	srv := httpserver.New(cfg.Server.Addr, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting credrep", "addr", cfg.Server.Addr, "ledger_admin", cfg.Ledger.Admin.Hex())
		return httpserver.Run(gctx, srv, cfg.Server.ShutdownTimeout)
	})
	g.Go(func() error {
		return decryptionOracle.Run(gctx, reveals.OnRevealCallback)
	})
	g.Go(func() error {
		return relay.Run(gctx)
	})
	return g.Wait()
}
