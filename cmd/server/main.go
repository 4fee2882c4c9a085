package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/cards-party-backend/internal/config"
	"github.com/DoyleJ11/cards-party-backend/internal/httpapi"
	"github.com/DoyleJ11/cards-party-backend/internal/service"
	"github.com/DoyleJ11/cards-party-backend/internal/session"
	"github.com/DoyleJ11/cards-party-backend/internal/store"
	"github.com/DoyleJ11/cards-party-backend/internal/store/gormstore"
	"github.com/DoyleJ11/cards-party-backend/internal/store/memstore"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := &config.Config{}
	if err := config.NewCommand(cfg, serve, migrate).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func openStore(cfg *config.Config, log *zap.Logger) (store.Store, error) {
	if cfg.Store == config.StoreMemory {
		log.Warn("using in-memory store, matches are lost on restart")
		return memstore.New(), nil
	}
	return gormstore.Open(cfg.DatabaseURL, log.Named("store"))
}

func migrate(ctx context.Context, cfg *config.Config) error {
	log, err := cfg.Logger()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	st, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.Migrate(ctx); err != nil {
		return err
	}
	log.Info("schema up to date")
	return nil
}

func serve(ctx context.Context, cfg *config.Config) error {
	log, err := cfg.Logger()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	st, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.Migrate(ctx); err != nil {
		return err
	}

	var limiter service.ChatLimiter = session.NewMemoryLimiter(session.ChatCooldown)
	if cfg.RedisAddr != "" {
		rdb, err := session.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			return err
		}
		defer rdb.Close()
		limiter = session.NewRedisLimiter(rdb, session.ChatCooldown)
	}

	sessions, err := session.NewManager(cfg.SessionSecret,
		session.WithSecureCookie(cfg.Production()),
		session.WithLogger(log.Named("session")))
	if err != nil {
		return err
	}

	svc := service.New(st, limiter, log.Named("service"), service.Options{
		MaxDeckBytes: cfg.MaxDeckBytes,
		AllowSkip:    cfg.AllowSkip,
	})

	handler := httpapi.SetupRoutes(&httpapi.API{
		Svc:           svc,
		Sessions:      sessions,
		Log:           log.Named("http"),
		DashboardPath: cfg.DashboardPath,
		PublicURL:     cfg.PublicURL,
		MaxDeckBytes:  cfg.MaxDeckBytes,
	})

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", zap.String("addr", srv.Addr), zap.Bool("allow_skip", cfg.AllowSkip))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
