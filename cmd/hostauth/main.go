// Command hostauth serves the authentication engine over HTTP.
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

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/MrEthical07/hostauth"
	"github.com/MrEthical07/hostauth/httpapi"
	"github.com/MrEthical07/hostauth/internal/audit"
	"github.com/MrEthical07/hostauth/notify"
	"github.com/MrEthical07/hostauth/store/sqlstore"
)

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	lg, err := newLogger(logConfigFromEnv())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = lg.Sync() }()

	if err := run(lg); err != nil {
		lg.Error("hostauth exited", zap.Error(err))
		_ = lg.Sync()
		os.Exit(1)
	}
}

func run(lg *zap.Logger) error {
	sugar := lg.Sugar()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := sqlstore.Open(ctx, cfg.DB)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		return err
	}
	sugar.Infow("database ready", "driver", cfg.DB.Driver)

	builder := hostauth.New().
		WithConfig(cfg.Engine).
		WithStore(store).
		WithLogger(lg).
		WithNotifier(buildNotifier(cfg, lg))

	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pctx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		builder = builder.WithRedis(rdb)
	} else {
		sugar.Warn("REDIS_ADDR not set; revoked tokens stay valid until expiry")
	}

	sink, closeSink, err := buildAuditSink(cfg, lg)
	if err != nil {
		return err
	}
	defer closeSink()
	if sink != nil {
		builder = builder.WithAuditSink(sink)
	}

	engine, err := builder.Build()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer engine.Close()

	srv := &http.Server{
		Addr: cfg.ListenAddr,
		Handler: httpapi.NewRouter(engine, httpapi.Options{
			Logger:             lg,
			CORSAllowedOrigins: cfg.CORSAllowedOrigins,
			TrustProxy:         cfg.TrustProxy,
		}),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		sugar.Infow("listening", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	sugar.Info("shutting down")
	doneCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(doneCtx); err != nil {
		sugar.Warnf("http server shutdown failed: %v", err)
	}
	sugar.Info("goodbye")
	return nil
}

func buildNotifier(cfg config, lg *zap.Logger) hostauth.Notifier {
	logNotifier := notify.NewLog(lg)
	if cfg.SMTP.Host == "" {
		return logNotifier
	}
	smtp, err := notify.NewSMTP(cfg.SMTP)
	if err != nil {
		lg.Warn("smtp notifications disabled", zap.Error(err))
		return logNotifier
	}
	return notify.Multi{logNotifier, smtp}
}

func buildAuditSink(cfg config, lg *zap.Logger) (hostauth.AuditSink, func(), error) {
	var sinks audit.MultiSink
	closer := func() {}

	if cfg.AuditLog.Pattern != "" {
		file, err := audit.NewRotatingFileSink(cfg.AuditLog)
		if err != nil {
			return nil, closer, fmt.Errorf("audit file: %w", err)
		}
		sinks = append(sinks, file)
		closer = func() { _ = file.Close() }
	}
	if cfg.AuditToLog {
		sinks = append(sinks, audit.NewZapSink(lg))
	}

	switch len(sinks) {
	case 0:
		return nil, closer, nil
	case 1:
		return sinks[0], closer, nil
	}
	return sinks, closer, nil
}
