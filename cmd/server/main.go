package main

import (
	"net/http"

	"llm-gateway/internal/api/handlers"
	"llm-gateway/internal/app"
	"llm-gateway/internal/auth"
	"llm-gateway/internal/config"
	"llm-gateway/internal/logger"
	"llm-gateway/internal/repository/postgres"
	"llm-gateway/internal/service/llm"

	"github.com/joho/godotenv"
)

func enableCORS(next http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	}
}

func main() {
	// Missing .env is fine in containers where the environment is injected.
	if err := godotenv.Load(); err != nil {
		logger.Log.Debug("No .env file found, using process environment")
	}

	appConfig, err := config.LoadConfig()
	if err != nil {
		logger.Log.WithError(err).Fatal("Failed to load configuration")
	}

	database, err := postgres.NewPostgresDB(appConfig.Database)
	if err != nil {
		logger.Log.WithError(err).Fatal("Failed to initialize database")
	}
	defer database.Close()

	appCfg := app.NewConfig(database, appConfig)
	registry := llm.NewRegistry(appConfig.Providers)
	authService := auth.NewService(database, appConfig.Auth)
	chatHandlers := handlers.NewChatHandlers(appCfg, registry)

	protected := func(h http.HandlerFunc) http.HandlerFunc {
		return enableCORS(authService.Middleware(h))
	}

	mux := http.NewServeMux()

	corsHandler := func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.WriteHeader(http.StatusOK)
	}

	// Public routes
	mux.HandleFunc("POST /api/login", enableCORS(http.HandlerFunc(authService.LoginHandler)))
	mux.HandleFunc("OPTIONS /api/login", corsHandler)
	mux.HandleFunc("POST /api/register", enableCORS(http.HandlerFunc(authService.RegisterHandler)))
	mux.HandleFunc("OPTIONS /api/register", corsHandler)
	mux.HandleFunc("GET /api/health", enableCORS(http.HandlerFunc(handlers.HealthHandler)))
	mux.HandleFunc("OPTIONS /api/health", corsHandler)

	// Protected routes
	mux.HandleFunc("POST /api/chat/stream", protected(chatHandlers.ChatStreamHandler))
	mux.HandleFunc("OPTIONS /api/chat/stream", corsHandler)
	mux.HandleFunc("POST /api/prompt/enhance", protected(chatHandlers.EnhancePromptHandler))
	mux.HandleFunc("OPTIONS /api/prompt/enhance", corsHandler)
	mux.HandleFunc("POST /api/examples/generate", protected(chatHandlers.GenerateExampleHandler))
	mux.HandleFunc("OPTIONS /api/examples/generate", corsHandler)
	mux.HandleFunc("GET /api/conversations", protected(chatHandlers.ConversationsHandler))
	mux.HandleFunc("OPTIONS /api/conversations", corsHandler)
	mux.HandleFunc("GET /api/conversations/{id}/messages", protected(chatHandlers.ConversationMessagesHandler))
	mux.HandleFunc("OPTIONS /api/conversations/{id}/messages", corsHandler)
	mux.HandleFunc("DELETE /api/conversations/{id}", protected(chatHandlers.DeleteConversationHandler))
	mux.HandleFunc("OPTIONS /api/conversations/{id}", corsHandler)
	mux.HandleFunc("GET /api/usage", protected(chatHandlers.UsageHandler))
	mux.HandleFunc("OPTIONS /api/usage", corsHandler)
	mux.HandleFunc("GET /api/models", protected(chatHandlers.ModelsHandler))
	mux.HandleFunc("OPTIONS /api/models", corsHandler)

	logger.Log.WithField("port", appConfig.Server.Port).Info("Server starting")

	if err := http.ListenAndServe(":"+appConfig.Server.Port, mux); err != nil {
		logger.Log.WithError(err).Fatal("Server failed to start")
	}
}
