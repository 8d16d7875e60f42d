package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/viper"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/arenapay/backend/docs"
	"github.com/arenapay/backend/internal/database"
	"github.com/arenapay/backend/internal/handlers"
	mW "github.com/arenapay/backend/internal/middleware"
	"github.com/arenapay/backend/internal/services"
)

// @title ArenaPay Backend API
// @version 1.0
// @description Ledger-backed wallet and match settlement core for the ArenaPay skill-tournament platform
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

func main() {
	// Initialize config
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()
	viper.ReadInConfig()

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")

	viper.BindEnv("gateway.base_url", "GATEWAY_BASE_URL")
	viper.BindEnv("gateway.api_key", "GATEWAY_API_KEY")

	viper.BindEnv("platform.fee_rate_bp", "PLATFORM_FEE_RATE_BP")
	viper.BindEnv("platform.fee_account", "PLATFORM_FEE_ACCOUNT")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	viper.SetDefault("platform.fee_rate_bp", 1000) // 10%
	viper.SetDefault("platform.fee_account", "platform")

	// Initialize Swagger docs
	docs.SwaggerInfo.Title = "ArenaPay Backend API"
	docs.SwaggerInfo.Description = "Ledger-backed wallet and match settlement core"
	docs.SwaggerInfo.Version = "1.0"
	docs.SwaggerInfo.Host = "localhost:8080"
	docs.SwaggerInfo.BasePath = "/api/v1"
	docs.SwaggerInfo.Schemes = []string{"http", "https"}

	// Initialize infrastructure
	db := database.InitDatabase()
	defer db.Close()

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	// Initialize services
	broadcaster := services.NewRedisBroadcaster(redisClient)
	ledgerService := services.NewLedgerService(db)
	gateway := services.NewHTTPGateway()
	topupService := services.NewTopupService(db, redisClient, ledgerService, gateway, broadcaster)
	roomService := services.NewRoomService(db, ledgerService, broadcaster)
	settlementService := services.NewSettlementService(db, ledgerService, broadcaster,
		viper.GetInt64("platform.fee_rate_bp"), viper.GetString("platform.fee_account"))
	payoutService := services.NewPayoutService(db, ledgerService, broadcaster)

	roomHandler := handlers.NewRoomHandler(roomService, settlementService)
	payoutHandler := handlers.NewPayoutHandler(payoutService)
	wsHandler := handlers.NewWSHandler(redisClient)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(mW.SecurityHeaders)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Access-Control-Allow-Origin"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	// Swagger documentation
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("http://localhost:8080/swagger/doc.json"),
	))

	// Event stream; long-lived, so no request timeout on this route
	r.With(mW.AuthMiddleware).Get("/api/v1/ws", wsHandler.HandleWS)

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))

		// Public endpoints (no auth required)
		r.Post("/topups/webhook", topupService.HandleGatewayWebhook)

		// Protected endpoints (auth required)
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			r.Get("/wallet", ledgerService.GetWalletBalance)
			r.Get("/wallet/entries", ledgerService.ListWalletEntries)

			r.Post("/topups", topupService.HandleCreateTopup)
			r.Get("/topups/{txRef}", topupService.GetTopupStatus)

			r.Post("/rooms", roomHandler.CreateRoom)
			r.Get("/rooms/{roomId}", roomHandler.GetRoom)
			r.Post("/rooms/{roomId}/join", roomHandler.JoinRoom)
			r.Post("/rooms/{roomId}/leave", roomHandler.LeaveRoom)
			r.Post("/rooms/{roomId}/start", roomHandler.StartRound)
			r.Post("/rooms/{roomId}/cancel", roomHandler.CancelRoom)
			r.Post("/rooms/{roomId}/reopen", roomHandler.ReopenRoom)

			r.Post("/matches/{matchId}/settle", roomHandler.SettleMatch)

			r.Post("/payouts", payoutHandler.RequestPayout)
			r.Get("/payouts", payoutHandler.ListPayouts)
			r.Put("/payouts/{requestId}/status", payoutHandler.TransitionPayout)
		})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Start server
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Printf("Server starting on :%s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}
