/*
Package main is the entry point for the forum direct-messaging server.

It is responsible for loading configuration, initializing the global logging system,
opening the message store, starting the connection hub (optionally joined to a
cluster through Redis and NATS), serving HTTP and WebSocket traffic, and gracefully
handling operating system interrupt signals (SIGINT, SIGTERM).
*/
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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"forumdm/internal/app/chat"
	"forumdm/internal/app/cluster"
	"forumdm/internal/app/db"
	"forumdm/internal/app/session"
	"forumdm/internal/app/storage"
	"forumdm/internal/app/store"
	"forumdm/internal/configs"
	"forumdm/internal/handler"
	"forumdm/internal/pkg/logx"
)

func main() {
	cfg, err := configs.LoadConfig(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logx.InitGlobalLogger(cfg.IsDevelopment())
	logx.Logger().Info().
		Str("environment", cfg.Environment).
		Int("port", cfg.Port).
		Str("node_id", cfg.NodeID).
		Str("store", cfg.StoreDriver).
		Strs("allowed_origins", cfg.AllowedOrigins).
		Msg("Configuration loaded successfully")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logx.Fatal(err, "Server exited with error")
	}
	logx.Info("Server gracefully stopped.")
}

func run(ctx context.Context, cfg *configs.AppConfig) error {
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logx.Error(err, "Failed to close message store")
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	hubOpts := []chat.Option{chat.WithMetrics(chat.NewMetrics(reg))}

	if cfg.RedisAddr != "" {
		rdb, err := cluster.NewRedisClient(ctx, cluster.RedisConfig{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		if err != nil {
			return err
		}
		defer rdb.Close()
		lease := cfg.HeartbeatInterval * time.Duration(cfg.MaxMissedHeartbeats+1)
		hubOpts = append(hubOpts, chat.WithPresenceMirror(cluster.NewRedisPresence(rdb, cfg.NodeID, lease)))
		logx.Info("Presence mirrored to Redis", "addr", cfg.RedisAddr)
	}

	var bus *cluster.NATSBus
	if cfg.NATSURL != "" {
		bus, err = cluster.ConnectNATS(cluster.NATSConfig{URL: cfg.NATSURL, Name: "forumdm-" + cfg.NodeID})
		if err != nil {
			return err
		}
		defer bus.Close()
		hubOpts = append(hubOpts, chat.WithBus(bus))
	}

	hub := chat.NewHub(st, chat.Config{
		NodeID:          cfg.NodeID,
		MaxContentBytes: cfg.MaxContentBytes,
		TypingTTL:       cfg.TypingTTL,
		OfflineGrace:    cfg.OfflineGrace,
		PresenceScope:   chat.PresenceScope(cfg.PresenceScope),
	}, hubOpts...)

	avatars, err := storage.NewAvatarResolver(ctx, storage.ServiceConfig{
		S3BucketName:      cfg.S3BucketName,
		S3Endpoint:        cfg.S3Endpoint,
		S3Region:          cfg.S3Region,
		S3AccessKeyID:     cfg.S3AccessKeyID,
		S3SecretAccessKey: cfg.S3SecretAccessKey,
		AvatarBaseURL:     cfg.AvatarBaseURL,
	})
	if err != nil {
		return err
	}

	router := handler.Router(&handler.AppDeps{
		Hub:      hub,
		Store:    st,
		Sessions: session.NewResolver(cfg.JWTSecret, st),
		Avatars:  avatars,
		Config:   cfg,
		Gatherer: reg,
	})

	serverAddr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logx.Info(fmt.Sprintf("forumdm starting on http://localhost%s", serverAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed to start: %w", err)
		}
		return nil
	})

	if bus != nil {
		g.Go(func() error { return bus.Run(gctx, hub.DeliverRemote) })
	}

	g.Go(func() error {
		<-gctx.Done()
		logx.Info("Received shutdown signal. Starting graceful shutdown...")

		// Closing the sockets first lets hijacked websocket handlers return.
		hub.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

func openStore(ctx context.Context, cfg *configs.AppConfig) (store.Store, error) {
	switch cfg.StoreDriver {
	case configs.StorePostgres:
		pool, err := db.NewPool(ctx, cfg.DatabaseDSN)
		if err != nil {
			return nil, err
		}
		logx.Info("Connected to PostgreSQL")
		return store.NewPostgres(pool), nil

	case configs.StoreSQLite:
		sqlDB, err := db.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		logx.Info("Opened SQLite store", "path", cfg.SQLitePath)
		return store.NewSQLite(sqlDB), nil

	default:
		logx.Warn("Using in-memory message store; messages are lost on restart")
		return store.NewMemory(), nil
	}
}
