package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"agent-core/internal/agent"
	"agent-core/internal/api"
	"agent-core/internal/chain"
	"agent-core/internal/events"
	"agent-core/internal/lending"
	"agent-core/internal/market"
	"agent-core/internal/monitor"
	"agent-core/internal/strategy"
	"agent-core/internal/vault"
	"agent-core/internal/ws"
	"agent-core/pkg/config"
	"agent-core/pkg/db"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[MAIN] config load failed: %v", err)
	}
	log.Printf("[MAIN] starting agent backend on port %s", cfg.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Core services
	bus := events.NewBus()
	defer bus.Close()

	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("[MAIN] database init failed: %v", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		log.Fatalf("[MAIN] migrations failed: %v", err)
	}

	catalog, err := strategy.Load(cfg.StrategyCatalogPath)
	if err != nil {
		log.Fatalf("[MAIN] strategy catalog load failed: %v", err)
	}
	log.Printf("[MAIN] %d active strategies loaded from %s", len(catalog.List()), cfg.StrategyCatalogPath)

	// External collaborators
	custody := chain.NewClient(cfg.CustodyBaseURL)
	protocol := lending.NewClient(cfg.LendingBaseURL)
	feed := market.NewFeed(cfg.PriceFeedURL, cfg.PriceFeedAPIKey, 5*time.Second)

	// Domain services
	vaults := &vault.Service{
		DB:      database,
		Custody: custody,
		Catalog: catalog,
		Bus:     bus,
	}
	agents := agent.NewManager(ctx, catalog, protocol, vaults, database, bus)

	// Connection core
	registry := ws.NewRegistry()
	topics := ws.NewTopicIndex(registry)
	dispatcher := ws.NewDispatcher(registry, topics)
	queue := ws.NewTaskQueue(cfg.QueueCapacity, 2*time.Second)

	monitors := monitor.NewService(ctx, cfg.MonitorInterval)
	monitors.Catalog = catalog
	monitors.Lending = protocol
	monitors.Feed = feed
	monitors.Addresses = vaults
	monitors.DB = database
	monitors.Topics = topics
	monitors.Bus = bus

	handlers := &ws.Handlers{
		Vaults:  vaults,
		Agents:  agents,
		Monitor: monitors,
		Topics:  topics,
		Queue:   queue,
	}
	handlers.Register(dispatcher)
	handlers.RegisterBackground(queue)
	queue.Start(ctx)
	defer queue.Stop()

	heartbeat := ws.NewHeartbeat(registry, cfg.HeartbeatInterval)
	heartbeat.Start(ctx)
	defer heartbeat.Stop()

	relay := &ws.Relay{Bus: bus, Topics: topics}
	relay.Start(ctx)

	// HTTP surface; websocket upgrades authenticate with REST login tokens.
	server := api.NewServer(database, catalog, vaults, feed, nil, cfg.JWTSecret, cfg.TokenTTL)
	wsServer := &ws.Server{
		Registry:   registry,
		Topics:     topics,
		Dispatcher: dispatcher,
		Validate:   server.ValidateToken,
	}
	wsServer.RegisterRoutes(server.Router)

	go func() {
		if err := server.Start(":" + cfg.Port); err != nil {
			log.Fatalf("[MAIN] http server error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println("[MAIN] shutting down")
}
