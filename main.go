package main

import (
	"encoding/json"
	stdlog "log"
	"net/http"
	"strings"
	"time"

	"github.com/username/sipfolio/backend/src/config"
	"github.com/username/sipfolio/backend/src/database"
	"github.com/username/sipfolio/backend/src/handlers"
	"github.com/username/sipfolio/backend/src/logger"
	"github.com/username/sipfolio/backend/src/services"
	"golang.org/x/time/rate"
)

var limiter = rate.NewLimiter(rate.Every(100*time.Millisecond), 30)

func rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			logger.L.Warn("Rate limit exceeded",
				"method", r.Method,
				"path", r.URL.Path,
				"remoteAddr", r.RemoteAddr)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		allowedOrigins := map[string]bool{
			"http://localhost:3000": true,
		}

		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE, PATCH")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, Authorization, X-Requested-With, If-None-Match")
			w.Header().Set("Access-Control-Expose-Headers", "ETag")
		} else if origin == "" {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}

		if r.Method == "OPTIONS" {
			logger.L.Debug("Handling OPTIONS preflight request", "path", r.URL.Path, "origin", origin)
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func main() {
	config.LoadConfig()
	logger.InitLogger(config.Cfg.LogLevel)
	logger.L.Info("Sipfolio backend server starting...")

	logger.L.Info("Initializing database...", "path", config.Cfg.DatabasePath)
	database.InitDB(config.Cfg.DatabasePath)
	logger.L.Info("Database initialized successfully.")

	logger.L.Info("Initializing services and handlers...")
	statementParser := services.NewStatementService(config.Cfg.StatementParserURL, config.Cfg.StatementParserTimeout)
	schemeDirectory := services.NewDirectoryService(config.Cfg.SchemeDirectoryURL, config.Cfg.SchemeDirectoryTimeout, config.Cfg.SchemeSearchCacheTTL)

	fundService := services.NewFundService(config.Cfg.FundListCacheTTL)
	registry := services.NewRegistryService(schemeDirectory, config.Cfg.PendingRegistrationTTL)
	reconciler := services.NewReconcilerService(registry, fundService, config.Cfg.PendingRegistrationTTL)

	sipHandler := handlers.NewSIPHandler(reconciler, statementParser)
	fundHandler := handlers.NewFundHandler(fundService)

	logger.L.Info("Configuring routes...")
	rootMux := http.NewServeMux()
	apiRouter := http.NewServeMux()

	apiRouter.HandleFunc("POST /api/sip", sipHandler.HandleRegister)
	apiRouter.HandleFunc("POST /api/sip/schemes", sipHandler.HandleParseSchemes)
	apiRouter.HandleFunc("PATCH /api/sip/{id}/scheme", sipHandler.HandleSelectScheme)
	apiRouter.HandleFunc("DELETE /api/sip/pending/{id}", sipHandler.HandleDiscardPending)
	apiRouter.HandleFunc("GET /api/sip/preview", sipHandler.HandleStepUpPreview)
	apiRouter.HandleFunc("GET /api/sip/funds", fundHandler.HandleListFunds)
	apiRouter.HandleFunc("DELETE /api/sip/funds/{id}", fundHandler.HandleDeleteFund)
	apiRouter.HandleFunc("GET /api/sip/{id}/installments", fundHandler.HandleListInstallments)

	rootMux.Handle("/api/", apiRouter)

	rootMux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" && r.Method == http.MethodGet {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]string{"message": "SIPFOLIO Backend is running"})
		} else {
			if !strings.HasPrefix(r.URL.Path, "/api/") {
				logger.L.Warn("Root level path not found", "method", r.Method, "path", r.URL.Path)
				http.NotFound(w, r)
			}
		}
	})

	logger.L.Info("Applying global middleware...")
	finalHandler := enableCORS(rateLimitMiddleware(rootMux))

	serverAddr := ":" + config.Cfg.Port
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      finalHandler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	logger.L.Info("Server starting", "address", serverAddr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.L.Error("Failed to start server", "error", err)
		stdlog.Fatalf("Failed to start server: %v", err)
	} else if err == http.ErrServerClosed {
		logger.L.Info("Server stopped gracefully.")
	}
}
