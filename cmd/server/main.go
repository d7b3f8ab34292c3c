package main

import (
	"os"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"emolens/internal/adapters/cache"
	"emolens/internal/adapters/classify"
	"emolens/internal/adapters/storage"
	"emolens/internal/adapters/weibo"
	"emolens/internal/adapters/web"
	"emolens/internal/usecases"
)

func main() {
	// .env is optional; real deployments set the environment directly
	_ = godotenv.Load()

	logger := newLogger()

	// Keyword lexicon for the heuristic classifier
	lexicon := classify.DefaultLexicon()
	if path := os.Getenv("LEXICON_PATH"); path != "" {
		loaded, err := classify.LoadLexicon(path)
		if err != nil {
			logger.Fatal().Err(err).Str("path", path).Msg("failed to load lexicon")
		}
		lexicon = loaded
	}

	// Persistence
	store, err := storage.Open(envString("DB_PATH", "emolens.db"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open database")
	}
	defer store.Close()

	// Weibo session + fetcher
	timeout := envDuration("REQUEST_TIMEOUT_SECS", 10) * time.Second
	endpoints := weibo.DefaultEndpoints()
	session := weibo.NewSession(timeout, endpoints, logger.With().Str("component", "session").Logger())
	fetcher := weibo.NewClient(session, endpoints, logger.With().Str("component", "fetcher").Logger())

	// Classifiers: zero-shot model with heuristic fallback
	model := classify.NewModelClassifier(classify.ModelConfig{
		APIKey: os.Getenv("HF_API_KEY"),
		Model:  os.Getenv("HF_MODEL"),
	}, nil, logger.With().Str("component", "model").Logger())
	heuristic := classify.NewHeuristicClassifier(lexicon)
	classifier := classify.NewService(model, heuristic, logger.With().Str("component", "classify").Logger())

	// Pipeline
	resultCache := cache.NewMemoryCache(time.Duration(envInt("CACHE_TTL_MINUTES", 5)) * time.Minute)
	analyzeUC := usecases.NewAnalyzePostUseCase(
		fetcher,
		weibo.Normalize,
		classifier,
		store,
		resultCache,
		logger.With().Str("component", "pipeline").Logger(),
	)

	// Web surface
	rateLimiter := web.NewRateLimiter(envInt("ANALYZE_RATE_LIMIT", 10), time.Minute)
	handlers := web.NewHandlers(analyzeUC, store, rateLimiter, web.Defaults{
		MaxComments: envInt("MAX_COMMENTS", 200),
		Threshold:   usecases.DefaultThreshold,
		RunTimeout:  envDuration("RUN_TIMEOUT_SECS", 120) * time.Second,
	})

	app := fiber.New(fiber.Config{
		AppName: "emolens",
	})

	app.Use(recover.New())
	app.Use(requestid.New(web.RequestIDConfig()))
	app.Use(web.LoggerMiddleware(logger))
	app.Use(web.RequestLoggerMiddleware())

	web.SetupRoutes(app, handlers)

	port := envString("PORT", "3000")
	logger.Info().Str("port", port).Msg("starting emolens")
	if err := app.Listen(":" + port); err != nil {
		logger.Fatal().Err(err).Msg("server stopped")
	}
}

func newLogger() zerolog.Logger {
	level, err := zerolog.ParseLevel(envString("LOG_LEVEL", "info"))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.TimeFieldFormat = time.RFC3339
	return zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
}

func envString(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return n
}

func envDuration(key string, fallback int) time.Duration {
	return time.Duration(envInt(key, fallback))
}
