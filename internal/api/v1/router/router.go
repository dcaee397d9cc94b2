package router

import (
	"context"
	"net/http"
	"time"

	"app/internal/api/v1/handler"
	"app/internal/config"
	"app/internal/middleware"
	"app/internal/repository"
	"app/internal/service"

	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
)

// New wires the repositories, services and handlers and returns the root
// HTTP handler together with the connection pool so the caller can close it
// on shutdown.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (http.Handler, *pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	logger.Info().Msg("Database connection successful")

	validate := validator.New(validator.WithRequiredStructEnabled())

	userRepo := repository.NewUserRepo(pool)
	personaRepo := repository.NewPersonaRepo(pool)
	conversationRepo := repository.NewConversationRepo(pool)
	subscriptionRepo := repository.NewSubscriptionRepo(pool)
	pitchRepo := repository.NewPitchRepo(pool)

	llmClient := service.NewOpenAIClient(service.OpenAIConfig{
		BaseURL:        cfg.OpenAIBaseURL,
		APIKey:         cfg.OpenAIAPIKey,
		Model:          cfg.OpenAIModel,
		RequestTimeout: time.Duration(cfg.OpenAIRequestTimeoutSec) * time.Second,
		StreamTimeout:  time.Duration(cfg.OpenAIStreamTimeoutSec) * time.Second,
		MaxRetries:     cfg.OpenAIMaxRetries,
		BackoffInitial: time.Duration(cfg.OpenAIBackoffInitialSec) * time.Second,
		BackoffMax:     time.Duration(cfg.OpenAIBackoffMaxSec) * time.Second,
	}, logger)

	genParams := service.GenerationParams{
		Temperature:      cfg.OpenAITemperature,
		FrequencyPenalty: cfg.OpenAIFrequencyPenalty,
		PresencePenalty:  cfg.OpenAIPresencePenalty,
		MaxTokens:        cfg.OpenAIMaxTokens,
	}

	creditSvc := service.NewCreditService(userRepo, cfg.LowBalanceThreshold, logger)
	personaSvc := service.NewPersonaService(personaRepo, cfg.FreePersonaLimit, logger)
	userSvc := service.NewUserService(userRepo, logger)
	chatSvc := service.NewChatService(userRepo, conversationRepo, personaSvc, creditSvc, llmClient, service.ChatConfig{
		CreditCost:    cfg.ChatCreditCost,
		ContextWindow: cfg.ContextWindowMessages,
		Params:        genParams,
	}, logger)
	pitchSvc := service.NewPitchService(userRepo, pitchRepo, personaSvc, creditSvc, llmClient, service.PitchConfig{
		CreditCost: cfg.PitchCreditCost,
		Params:     genParams,
	}, logger)
	paymentSvc := service.NewPaystackService(service.PaystackConfig{
		SecretKey:         cfg.PaystackSecretKey,
		BaseURL:           cfg.PaystackBaseURL,
		MonthlyPriceCents: cfg.MonthlyPlanPriceCents,
		AnnualPriceCents:  cfg.AnnualPlanPriceCents,
		RequestTimeout:    15 * time.Second,
	}, logger)
	subscriptionSvc := service.NewSubscriptionService(userRepo, subscriptionRepo, paymentSvc, service.SubscriptionConfig{
		MonthlyCredits:      cfg.MonthlyPlanCredits,
		AnnualCredits:       cfg.AnnualPlanCredits,
		LowBalanceThreshold: cfg.LowBalanceThreshold,
	}, logger)

	chatHandler := handler.NewChatHandler(chatSvc, validate, logger)
	personaHandler := handler.NewPersonaHandler(personaSvc, userSvc, validate, logger)
	subscriptionHandler := handler.NewSubscriptionHandler(subscriptionSvc, paymentSvc, userSvc, validate, logger)
	pitchHandler := handler.NewPitchHandler(pitchSvc, validate, logger)
	userHandler := handler.NewUserHandler(userSvc, validate, logger)

	authMiddleware := middleware.Auth(cfg.JWTSecret)

	apiV1Mux := http.NewServeMux()
	chatHandler.RegisterRoutes(apiV1Mux, authMiddleware)
	personaHandler.RegisterRoutes(apiV1Mux, authMiddleware)
	subscriptionHandler.RegisterRoutes(apiV1Mux, authMiddleware)
	pitchHandler.RegisterRoutes(apiV1Mux, authMiddleware)
	userHandler.RegisterRoutes(apiV1Mux, authMiddleware)

	// Throttling covers the API surface only; healthz stays open.
	rateLimit := middleware.RateLimit(cfg.RateLimitPerMinute)

	mux := http.NewServeMux()
	mux.Handle("/v1/", rateLimit(http.StripPrefix("/v1", apiV1Mux)))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	return middleware.Logger(logger)(c.Handler(mux)), pool, nil
}
