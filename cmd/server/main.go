// main.go

package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/verdantlab/BotanyBattle-Server/config"
	"github.com/verdantlab/BotanyBattle-Server/internal/battle"
	"github.com/verdantlab/BotanyBattle-Server/internal/economy"
	"github.com/verdantlab/BotanyBattle-Server/internal/leaderboard"
	"github.com/verdantlab/BotanyBattle-Server/internal/match"
	"github.com/verdantlab/BotanyBattle-Server/internal/plants"
	"github.com/verdantlab/BotanyBattle-Server/internal/rating"
	"github.com/verdantlab/BotanyBattle-Server/pkg/db"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	// PostgreSQL is the authoritative store and is required.
	conn, err := db.OpenPostgres(&cfg.Database)
	if err != nil {
		log.Fatalf("PostgreSQL init failed: %v", err)
	}
	defer conn.Close()

	if err := db.EnsureSchema(conn); err != nil {
		log.Fatalf("schema init failed: %v", err)
	}

	// Redis only backs the leaderboard cache; running without it is
	// allowed, every page read just goes to the store.
	var cache leaderboard.Cache
	redisClient, err := db.OpenRedis(&cfg.Redis)
	if err != nil {
		log.Printf("Redis unavailable, using in-process leaderboard cache: %v", err)
		cache = leaderboard.NewMemoryCache()
	} else {
		defer redisClient.Close()
		cache = leaderboard.NewRedisCache(redisClient)
	}

	store := rating.NewPostgresStore(conn)
	boardTTL := time.Duration(cfg.Game.LeaderboardTTLSeconds) * time.Second
	board := leaderboard.NewService(store, cache, boardTTL)

	engine := rating.NewEngine(cfg, store, board, economy.LogEmitter{})
	if err := engine.Start(); err != nil {
		log.Fatalf("rating engine start failed: %v", err)
	}

	registry := battle.NewRegistry(cfg)
	server := battle.NewServer(cfg, registry, store)

	provider := plants.NewPostgresProvider(conn)
	resolver := battle.NewResolver(cfg, registry, provider, server, engine)
	server.AttachResolver(resolver)

	matchService := match.NewService(cfg, registry, server, resolver)
	server.AttachMatchmaker(matchService)
	matchService.Handler().AttachStore(store)
	matchService.AddRoutes(leaderboard.NewHandler(board).RegisterHandlers)

	if err := server.Start(); err != nil {
		log.Fatalf("battle server start failed: %v", err)
	}
	if err := matchService.Start(); err != nil {
		log.Fatalf("match service start failed: %v", err)
	}

	log.Println("all services started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("shutdown signal received, stopping services...")

	matchService.Stop()
	if err := server.Stop(); err != nil {
		log.Printf("battle server stop: %v", err)
	}
	engine.Stop()

	log.Println("server shut down cleanly")
}
