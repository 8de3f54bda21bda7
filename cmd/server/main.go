// Command todo-server starts the account and todo HTTP API plus the gRPC health endpoint.
package main

import (
	"context"
	"crypto/rsa"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/todo-keeper/internal/config"
	"github.com/and161185/todo-keeper/internal/crypto"
	"github.com/and161185/todo-keeper/internal/limiter"
	"github.com/and161185/todo-keeper/internal/migrate"
	"github.com/and161185/todo-keeper/internal/notify"
	"github.com/and161185/todo-keeper/internal/repository/postgres"
	"github.com/and161185/todo-keeper/internal/scheduler"
	grpcserver "github.com/and161185/todo-keeper/internal/server/grpc"
	httpserver "github.com/and161185/todo-keeper/internal/server/http"
	"github.com/and161185/todo-keeper/internal/service"
	"github.com/and161185/todo-keeper/internal/token"
	"github.com/and161185/todo-keeper/internal/tracker"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

func newLogger(dev bool) *zap.Logger {
	var (
		l   *zap.Logger
		err error
	)
	if dev {
		l, err = zap.NewDevelopment()
	} else {
		l, err = zap.NewProduction()
	}
	if err != nil {
		return zap.NewNop()
	}
	return l
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx, os.Args[1:], nil)
	if err != nil {
		zap.NewExample().Fatal("config", zap.Error(err))
	}

	logger := newLogger(cfg.Dev)
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("env", cfg.Env),
		zap.String("addr", cfg.HTTPAddr),
	)

	if err := migrate.Up(ctx, cfg.DSN, logger); err != nil {
		logger.Fatal("migrate up", zap.Error(err))
	}

	pool, err := postgres.Connect(ctx, cfg.DSN, postgres.PoolOptions{MaxConns: cfg.DBMaxConns}, logger)
	if err != nil {
		logger.Fatal("postgres", zap.Error(err))
	}
	defer pool.Close()

	fieldKey, _ := cfg.FieldKeyBytes() // checked by config.Load
	cipher, err := crypto.NewFieldCipher(fieldKey)
	if err != nil {
		logger.Fatal("field cipher", zap.Error(err))
	}

	// Repositories
	db := &postgres.DB{Pool: pool}
	userRepo := postgres.NewUserRepo(db, cipher)
	todoRepo := postgres.NewTodoRepo(db)
	roleRepo := postgres.NewRoleRepo(db)

	lim := limiter.NewPG(pool, limiter.Policy{
		Window:   cfg.Limiter.Window,
		MaxFails: cfg.Limiter.MaxFails,
		Block:    cfg.Limiter.Block,
	})

	key, err := signingKey(cfg.Token.KeyFile, logger)
	if err != nil {
		logger.Fatal("signing key", zap.Error(err))
	}
	signer := token.NewSigner(key, cfg.Token.Issuer, cfg.Token.TTL)

	var notifier notify.Notifier
	if len(cfg.Kafka.Brokers) > 0 {
		k := notify.NewKafka(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.ResetTTL, logger)
		defer func() { _ = k.Close() }()
		notifier = k
	} else {
		logger.Warn("no KAFKA_BROKERS, reset codes go to the log")
		notifier = notify.NewLog(logger)
	}

	var rep tracker.Reporter = tracker.NewLog(logger)
	if cfg.SentryDSN != "" {
		s, err := tracker.NewSentry(tracker.Options{DSN: cfg.SentryDSN, Environment: cfg.Env, Release: version}, logger)
		if err != nil {
			logger.Fatal("sentry", zap.Error(err))
		}
		rep = s
	}
	defer rep.Flush(2 * time.Second)

	// Services
	accounts := service.NewAccountService(
		userRepo, roleRepo,
		crypto.NewPasswordHasher(cfg.BcryptCost),
		signer, lim, notifier, logger,
		service.AccountOptions{ResetTTL: cfg.ResetTTL, PurgeGrace: cfg.Purge.Grace},
	)
	if err := accounts.EnsureDefaultRoles(ctx); err != nil {
		logger.Fatal("ensure roles", zap.Error(err))
	}
	todos := service.NewTodoService(todoRepo)

	sched := scheduler.New(logger)
	if err := sched.SchedulePurge(ctx, cfg.Purge.Schedule, accounts); err != nil {
		logger.Fatal("schedule purge", zap.Error(err))
	}
	sched.Start()

	// HTTP
	h := httpserver.NewHandler(accounts, todos, signer, rep, logger)
	router := httpserver.NewRouter(h, signer, logger, httpserver.RouterOptions{CORSOrigins: cfg.CORSOrigins})
	srv := httpserver.NewServer(cfg.HTTPAddr, router)

	// Health
	ops, err := grpcserver.NewOps(logger, rep, grpcserver.OpsOptions{
		CertFile:   cfg.TLSCert,
		KeyFile:    cfg.TLSKey,
		Reflection: cfg.Dev,
	})
	if err != nil {
		logger.Fatal("ops server", zap.Error(err))
	}
	lis, err := net.Listen("tcp", cfg.OpsAddr)
	if err != nil {
		logger.Fatal("listen", zap.Error(err))
	}

	errCh := make(chan error, 2)
	go func() { errCh <- ops.Serve(lis) }()
	go func() {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr), zap.Bool("tls", cfg.TLSCert != ""))
		var err error
		if cfg.TLSCert != "" {
			err = srv.ListenAndServeTLS(cfg.TLSCert, cfg.TLSKey)
		} else {
			err = srv.ListenAndServe()
		}
		if !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	go ops.Watch(ctx, "postgres", 10*time.Second, pool.Ping)
	ops.SetServing(true)

	exit := 0
	select {
	case <-ctx.Done():
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		exit = 1
	}

	ops.SetServing(false)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	ops.Stop(5 * time.Second)
	sched.Stop(shutdownCtx)

	logger.Info("shutdown complete")
	if exit != 0 {
		rep.Flush(2 * time.Second)
		_ = logger.Sync()
		os.Exit(exit)
	}
}

// signingKey loads the RSA key from path, or generates one for this process when path is empty.
func signingKey(path string, log *zap.Logger) (*rsa.PrivateKey, error) {
	if path != "" {
		return token.LoadKey(path)
	}
	log.Warn("no SIGNING_KEY_FILE, using an ephemeral key; tokens will not survive a restart")
	return token.GenerateKey(token.KeyBits)
}
