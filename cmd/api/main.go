package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chatkit-api/internal/api/handlers"
	"chatkit-api/internal/config"
	"chatkit-api/internal/database"
	"chatkit-api/internal/llm"
	"chatkit-api/internal/middleware"
	"chatkit-api/internal/repository"
	"chatkit-api/internal/services"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/rs/cors"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: Error loading .env file: %v", err)
	}

	cfg := config.NewAppConfig()
	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET environment variable is required")
	}

	// Initialize database connection
	db, err := database.InitDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	// Get underlying *sql.DB instance for connection pool settings
	sqlDB, err := db.DB()
	if err != nil {
		log.Fatal("Failed to get underlying *sql.DB instance:", err)
	}

	// Configure connection pool
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(25)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)

	// Initialize repositories
	userRepo := repository.NewUserRepository(db)
	profileRepo := repository.NewProfileRepository(db)
	planRepo := repository.NewPlanRepository(db)
	usageLogRepo := repository.NewUsageLogRepository(db)
	conversationRepo := repository.NewConversationRepository(db)

	// Plan cache is optional; without Redis every lookup hits Postgres
	var cache services.CacheService
	if redisCache, err := services.NewRedisCacheService(config.NewCacheConfig()); err != nil {
		log.Printf("Warning: Redis unavailable, plan cache disabled: %v", err)
	} else {
		cache = redisCache
	}

	// Initialize services
	planService := services.NewPlanService(planRepo, cache)

	rateCfg := config.NewRateLimitConfig()
	if err := planService.EnsureDefaultPlan(context.Background(), rateCfg); err != nil {
		log.Fatal("Failed to seed default plan:", err)
	}

	authService := services.NewAuthService(
		userRepo,
		profileRepo,
		planService,
		cfg.JWTSecret,
		cfg.TokenExpiry,
		cfg.BcryptCost,
	)
	usageService := services.NewUsageService(usageLogRepo)
	recorder := services.NewUsageRecorder(usageService, cfg.UsageQueueSize)
	rateLimitService := services.NewRateLimitService(usageLogRepo, planService)

	llmClient := llm.NewClient(llm.NewConfig())
	chatService := services.NewChatService(conversationRepo, llmClient, recorder)

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(authService)
	userHandler := handlers.NewUserHandler(authService)
	profileHandler := handlers.NewProfileHandler(profileRepo)
	planHandler := handlers.NewPlanHandler(planService)
	usageHandler := handlers.NewUsageHandler(usageService)
	chatHandler := handlers.NewChatHandler(chatService, rateLimitService)

	rateLimiter := middleware.NewRateLimiter(rateLimitService)

	// Initialize router
	router := mux.NewRouter()
	router.Use(middleware.LoggingMiddleware)

	// Public routes
	router.HandleFunc("/auth/register", authHandler.Register).Methods("POST")
	router.HandleFunc("/auth/login", authHandler.Login).Methods("POST")
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	}).Methods("GET")

	// Authenticated routes
	authRouter := router.NewRoute().Subrouter()
	authRouter.Use(middleware.AuthMiddleware(authService))

	authRouter.HandleFunc("/auth/refresh", authHandler.Refresh).Methods("POST")
	authRouter.HandleFunc("/users/me", userHandler.GetMe).Methods("GET")
	authRouter.HandleFunc("/users/me", userHandler.UpdateMe).Methods("PATCH")
	authRouter.HandleFunc("/users/me/change-password", userHandler.ChangePassword).Methods("POST")
	authRouter.HandleFunc("/profiles/me", profileHandler.GetMe).Methods("GET")
	authRouter.HandleFunc("/profiles/me", profileHandler.UpdateMe).Methods("PATCH")
	authRouter.HandleFunc("/plans", planHandler.List).Methods("GET")
	authRouter.HandleFunc("/usage/logs", usageHandler.ListLogs).Methods("GET")
	authRouter.HandleFunc("/usage/totals", usageHandler.GetTotals).Methods("GET")
	authRouter.HandleFunc("/chatbot/usage", chatHandler.Usage).Methods("GET")

	// Chat routes sit behind the plan quota
	chatRouter := authRouter.NewRoute().Subrouter()
	chatRouter.Use(rateLimiter.RateLimit)
	chatRouter.HandleFunc("/chatbot", chatHandler.Chat).Methods("POST")
	chatRouter.HandleFunc("/chatbot/stream", chatHandler.ChatStream).Methods("POST")

	// Admin routes
	adminRouter := authRouter.PathPrefix("/admin").Subrouter()
	adminRouter.Use(middleware.SuperuserMiddleware)
	adminRouter.HandleFunc("/plans", planHandler.Create).Methods("POST")
	adminRouter.HandleFunc("/plans/{id}", planHandler.Update).Methods("PATCH")
	adminRouter.HandleFunc("/plans/{id}/activate", planHandler.SetActive(true)).Methods("POST")
	adminRouter.HandleFunc("/plans/{id}/deactivate", planHandler.SetActive(false)).Methods("POST")
	adminRouter.HandleFunc("/users/{id}/plan", userHandler.ChangeUserPlan).Methods("PATCH")
	adminRouter.HandleFunc("/users/{id}/active", userHandler.SetUserActive).Methods("PATCH")

	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins: []string{"http://localhost:3000"},
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPatch,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowedHeaders: []string{
			"Accept",
			"Authorization",
			"Content-Type",
		},
		ExposedHeaders: []string{
			"X-RateLimit-Limit",
			"X-RateLimit-Remaining",
			"X-RateLimit-Reset",
		},
		AllowCredentials: true,
		MaxAge:           300,
	})

	// Create server with timeouts. The write timeout is generous because
	// streaming chat responses hold the connection open.
	srv := &http.Server{
		Handler:      corsMiddleware.Handler(router),
		Addr:         ":" + cfg.Port,
		WriteTimeout: 120 * time.Second,
		ReadTimeout:  15 * time.Second,
	}

	// Retention worker: purge old ledger rows once a day
	retentionCtx, stopRetention := context.WithCancel(context.Background())
	go runRetentionWorker(retentionCtx, usageService, cfg.RetentionDays)

	go func() {
		log.Printf("Server starting on port %s...", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Println("Shutting down...")
	stopRetention()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	// Flush pending ledger writes before exit
	recorder.Close()
}

func runRetentionWorker(ctx context.Context, usageService services.UsageService, retentionDays int) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			purgeCtx, cancel := context.WithTimeout(ctx, time.Minute)
			deleted, err := usageService.PurgeOlderThan(purgeCtx, retentionDays)
			cancel()
			if err != nil {
				log.Printf("Usage retention purge failed: %v", err)
				continue
			}
			if deleted > 0 {
				log.Printf("Usage retention purge removed %d entries", deleted)
			}
		}
	}
}
