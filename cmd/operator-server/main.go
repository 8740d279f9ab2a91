package main

import (
	"log"
	"os"

	"support-desk-backend/internal/api"
	"support-desk-backend/internal/api/router"
	"support-desk-backend/internal/config"
	"support-desk-backend/internal/database"
	"support-desk-backend/internal/events"
	"support-desk-backend/internal/identity"
	"support-desk-backend/internal/recommend"
	"support-desk-backend/internal/service/escalation"
	"support-desk-backend/internal/websocket"
	"support-desk-backend/internal/workers"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.LoadConfig(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer logger.Sync()

	db, err := database.NewDatabase(cfg.AWS)
	if err != nil {
		logger.Fatal("db init failed", zap.Error(err))
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	hub := websocket.NewHub()
	go hub.Run()
	wsHandler := websocket.NewHandler(hub, redisClient, logger)

	pool := workers.NewPool(100, 10, logger)

	provider := identity.NewProvider([]byte(cfg.Auth.OperatorSecret), identity.NewDynamoRepository(db))

	var generator escalation.Generator
	if cfg.OpenAI.APIKey != "" {
		generator = recommend.NewOpenAIGenerator(
			cfg.OpenAI.APIKey,
			cfg.OpenAI.Model,
			cfg.OpenAI.MaxTokens,
			cfg.OpenAI.Temperature,
			logger,
		)
	} else {
		logger.Warn("openai api key missing, reply drafts disabled")
	}

	var publisher events.Publisher
	if cfg.Rabbit.URL != "" {
		rabbit, err := events.NewRabbitPublisher(cfg.Rabbit.URL, cfg.Rabbit.Exchange, logger)
		if err != nil {
			logger.Warn("rabbit unavailable, events will be dropped", zap.Error(err))
		} else {
			publisher = rabbit
			defer rabbit.Close()
		}
	}

	server := api.NewAPIServer(
		cfg.Server.OperatorAddr,
		pool,
		db,
		wsHandler,
		api.Options{
			Logger:         logger,
			Identity:       provider,
			Generator:      generator,
			Events:         publisher,
			AllowedOrigins: cfg.Server.AllowedOrigins,
			StatsTTL:       cfg.Queue.StatsTTL,
			VisitorSecret:  []byte(cfg.Auth.VisitorSecret),
		},
		router.UtilsRoutes(),
		router.OperatorRoutes("/api/operator/v1"),
	)

	server.Run()
}
