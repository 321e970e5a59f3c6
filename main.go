package main

import (
	"context"
	"log"
	"os"
	"time"

	"keenscan/internal/api"
	"keenscan/internal/config"
	"keenscan/internal/redis"
	"keenscan/internal/service/ai"
	"keenscan/internal/service/flows"
	"keenscan/internal/service/qa"
	"keenscan/internal/service/workspace"
	"keenscan/internal/storage"
	"keenscan/internal/worker"

	"github.com/gin-gonic/gin"
)

func main() {
	cfgPath := os.Getenv("KEENSCAN_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	dbType := os.Getenv("KEENSCAN_DB")
	if dbType == "" {
		dbType = "sqlite3"
	}
	log.Printf("dbType: %s\n", dbType)
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	// Create necessary tables: sessions, uploads, api_keys
	if err := storage.Migrate(db, dbType); err != nil {
		log.Fatalf("migrate database: %v", err)
	}

	cache, err := redis.New(cfg)
	if err != nil {
		log.Fatalf("create redis client: %v", err)
	}
	defer cache.Close()

	workspaceService := workspace.NewService(db)
	gateway := ai.NewService(cfg)
	cacheTTL := time.Duration(cfg.Redis.CacheTTLMinutes) * time.Minute
	flowService := flows.NewService(gateway, cache, cacheTTL)
	qaService := qa.NewService(flowService, workspaceService)
	runner := worker.NewRunner(flowService, workspaceService)
	defer runner.Stop()

	cleanCtx, cleanCancel := context.WithCancel(context.Background())
	defer cleanCancel()
	cleanInterval := time.Duration(cfg.BasicConfig.CleanIntervalMinutes) * time.Minute
	if cleanInterval <= 0 {
		cleanInterval = workspace.DefaultUploadCleanupInterval
	}
	workspaceService.StartUploadCleaner(cleanCtx, cleanInterval)

	fileBase := cfg.BasicConfig.FileBaseDir
	if fileBase == "" {
		fileBase = "./data/uploads"
	}
	uploadTTL := time.Duration(cfg.BasicConfig.UploadTTLMinutes) * time.Minute
	if uploadTTL <= 0 {
		uploadTTL = workspace.DefaultUploadTTL
	}
	handlers := api.NewHandler(workspaceService, flowService, qaService, runner, fileBase, uploadTTL)

	router := gin.Default()
	handlers.RegisterRoutes(router)

	addr := cfg.BasicConfig.ServerAddress
	if addr == "" {
		addr = ":8090"
	}

	if err := router.Run(addr); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}
