package main

import (
	"os"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"picchat/internal/ai"
	"picchat/internal/api"
	"picchat/internal/auth"
	"picchat/internal/config"
	"picchat/internal/flow"
	"picchat/internal/metrics"
	"picchat/internal/policy"
	"picchat/internal/redis"
	"picchat/internal/service/agent"
	"picchat/internal/service/chat"
	"picchat/internal/service/settings"
	"picchat/internal/storage"
)

func main() {
	cfgPath := os.Getenv("PICCHAT_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	if level, err := zerolog.ParseLevel(cfg.Log.Level); err == nil && cfg.Log.Level != "" {
		zerolog.SetGlobalLevel(level)
	}
	logger := log.Logger

	dbType := os.Getenv("PICCHAT_DB")
	if dbType == "" {
		dbType = "sqlite3"
	}
	logger.Info().Str("db", dbType).Msg("opening database")
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("open database")
	}
	defer db.Close()
	if err := storage.Migrate(db, dbType); err != nil {
		logger.Fatal().Err(err).Msg("migrate database")
	}

	// Redis only caches geolocation nicknames; the app runs without it.
	cache, err := redis.NewRedisClient(cfg)
	if err != nil {
		logger.Warn().Err(err).Msg("redis unavailable, nickname cache disabled")
		cache = nil
	} else {
		defer cache.Close()
	}

	settingsSvc := settings.NewService(db)
	agentSvc := agent.NewService(db)
	chatSvc := chat.NewService(db, cache, logger)

	tokenTTL := time.Duration(cfg.Auth.TokenTTLHours) * time.Hour
	authSvc := auth.NewService(cfg.Auth.TokenSecret, tokenTTL)

	aiClient := ai.NewClient(settingsSvc, logger)
	gate := policy.NewGate(settingsSvc, cfg.Moderation.FailClosed, logger)
	orch := flow.NewOrchestrator(chatSvc, settingsSvc, gate, aiClient, metrics.Global(), logger)

	handlers := api.NewHandler(agentSvc, chatSvc, settingsSvc, authSvc, aiClient, orch, logger)

	router := gin.Default()
	corsCfg := cors.DefaultConfig()
	corsCfg.AllowAllOrigins = true
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "Authorization")
	router.Use(cors.New(corsCfg))

	handlers.RegisterRoutes(router)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	addr := cfg.BasicConfig.ServerAddress
	if addr == "" {
		addr = ":8080"
	}
	logger.Info().Str("addr", addr).Msg("server listening")
	if err := router.Run(addr); err != nil {
		logger.Fatal().Err(err).Msg("server stopped")
	}
}
