// Command gateway runs the streaming platform's ingress: it authenticates
// every request, enforces endpoint policy and playback entitlements, and
// relays to the owning internal service.
package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	gwgin "github.com/open-rails/streamgate/adapters/gin"
	"github.com/open-rails/streamgate/apikey"
	"github.com/open-rails/streamgate/audit"
	"github.com/open-rails/streamgate/config"
	"github.com/open-rails/streamgate/core"
	"github.com/open-rails/streamgate/entitlements"
	memstore "github.com/open-rails/streamgate/entitlements/storage/memory"
	pgstore "github.com/open-rails/streamgate/entitlements/storage/postgres"
	jwtkit "github.com/open-rails/streamgate/jwt"
	"github.com/open-rails/streamgate/proxy"
	memorylimiter "github.com/open-rails/streamgate/ratelimit/memory"
	redislimiter "github.com/open-rails/streamgate/ratelimit/redis"
	"github.com/open-rails/streamgate/routing"
	"github.com/open-rails/streamgate/upstream"
)

// version is set by the build pipeline.
var version = "dev"

func main() {
	if jwtkit.IsProdEnv() {
		logrus.SetFormatter(&logrus.JSONFormatter{})
		gin.SetMode(gin.ReleaseMode)
	}
	log := logrus.WithField("service", "streamgate")

	if err := run(log); err != nil {
		log.WithError(err).Fatal("gateway exited")
	}
}

func run(log *logrus.Entry) error {
	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	keys, err := jwtkit.NewAutoKeySource()
	if err != nil {
		return err
	}

	table, services, err := routing.LoadFile(cfg.RoutesFile)
	if err != nil {
		return err
	}
	log.WithField("services", len(services)).Info("routing table loaded")

	forwarder := proxy.New(services, cfg.UpstreamTimeout)
	defer forwarder.Close()

	var (
		store       entitlements.Store
		auditLogger core.AccessEventLogger = audit.LogrusLogger{}
	)
	if cfg.DatabaseURL != "" {
		st, db, err := pgstore.NewFromDSN(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		store = st

		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer pool.Close()

		riverLogger, err := audit.NewRiverLogger(pool)
		if err != nil {
			return err
		}
		if err := riverLogger.Start(ctx); err != nil {
			return err
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := riverLogger.Stop(stopCtx); err != nil {
				log.WithError(err).Warn("audit worker shutdown incomplete")
			}
		}()
		auditLogger = riverLogger
	} else {
		if jwtkit.IsProdEnv() {
			return errors.New("DATABASE_URL is required in production")
		}
		log.Warn("no DATABASE_URL set, using in-memory grant store")
		store = memstore.New()
	}

	keyring, err := apikey.NewKeyring(cfg.ServiceAPIKeyHashes)
	if err != nil {
		return err
	}

	var limiter gwgin.RateLimiter
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		limiter = redislimiter.New(rdb, nil)
		log.Info("using redis rate limiter")
	} else {
		limiter = memorylimiter.New(nil)
	}

	prober := upstream.New(services, cfg.ProbeSchedule)
	if err := prober.Start(); err != nil {
		return err
	}
	defer prober.Stop()

	r := gin.New()
	r.Use(gin.Recovery())

	gw := &gwgin.Gateway{
		Table:     table,
		Forwarder: forwarder,
		Validator: jwtkit.NewValidator(keys),
		Resolver:  entitlements.NewResolver(store),
		Keys:      keys,
		Keyring:   keyring,
		Audit:     auditLogger,
		Prober:    prober,
		Limiter:   limiter,
		Version:   version,
	}
	gw.Register(r)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.Addr).Info("gateway listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
