package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/MamunCrafts/video-chat-app/internal/config"
	"github.com/MamunCrafts/video-chat-app/internal/httpapi"
	"github.com/MamunCrafts/video-chat-app/internal/logging"
	"github.com/MamunCrafts/video-chat-app/internal/registry"
	"github.com/MamunCrafts/video-chat-app/internal/relay"
	"github.com/MamunCrafts/video-chat-app/internal/server"
	"github.com/MamunCrafts/video-chat-app/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML/JSON config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(cfg.LogLevel, cfg.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() // best-effort flush

	secret, err := cfg.AuthSecret()
	if err != nil {
		logger.Fatal("auth secret unavailable", zap.Error(err))
	}

	db, err := store.NewPostgres(cfg.Database.DSN)
	if err != nil {
		logger.Fatal("open database", zap.Error(err))
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := store.CreateSchema(ctx, db); err != nil {
		logger.Fatal("create schema", zap.Error(err))
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	metrics := relay.NewMetrics(promReg)

	users := store.NewUsers(db)
	msgs := store.NewMessages(db)
	conns := registry.NewConnections()
	rooms := registry.NewRooms()

	mrelay := relay.NewMessageRelay(logger, msgs, conns, metrics)
	gw := relay.NewGateway(logger, conns, rooms, mrelay, relay.GatewayOptions{
		Metrics:      metrics,
		SendBuffer:   cfg.Relay.SendBuffer,
		WriteTimeout: cfg.Relay.WriteTimeout,
		PingInterval: cfg.Relay.PingInterval,
	})

	api := httpapi.NewHandler(logger, users, msgs, httpapi.Options{
		Secret:       secret,
		TokenTTL:     cfg.Auth.TokenTTL,
		CookieName:   cfg.Auth.CookieName,
		SecureCookie: cfg.Auth.SecureCookie,
		MinEntropy:   cfg.Auth.MinEntropy,
	})
	router := api.Router()
	router.Handle("/ws", gw)

	srv := server.New(cfg, logger, router, promReg)
	if err := srv.Start(ctx); err != nil {
		logger.Fatal("server exited with error", zap.Error(err))
	}
}
