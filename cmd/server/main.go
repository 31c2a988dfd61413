package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/Ramanapenmetsa01/Quick-chat/internal/auth"
	"github.com/Ramanapenmetsa01/Quick-chat/internal/config"
	"github.com/Ramanapenmetsa01/Quick-chat/internal/db"
	"github.com/Ramanapenmetsa01/Quick-chat/internal/keys"
	"github.com/Ramanapenmetsa01/Quick-chat/internal/messaging"
	"github.com/Ramanapenmetsa01/Quick-chat/internal/presence"
	"github.com/Ramanapenmetsa01/Quick-chat/internal/ratelimit"
	"github.com/Ramanapenmetsa01/Quick-chat/internal/relay"
	"github.com/Ramanapenmetsa01/Quick-chat/internal/storage"
	"github.com/Ramanapenmetsa01/Quick-chat/pkg/handlers"
)

type Server struct {
	config           *config.Config
	db               *db.DB
	authService      *auth.Service
	keyDirectory     *keys.Directory
	messagingService *messaging.Service
	storageService   *storage.Service
	relayService     *relay.Service
	rateLimiter      *ratelimit.Limiter
	iceHandler       *handlers.IceHandler
}

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	log.Println("[Server] Starting Quick-chat server...")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("[Server] Failed to load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	database, err := db.NewDB(ctx, cfg.Database, cfg.Redis)
	if err != nil {
		cancel()
		log.Fatalf("[Server] Failed to connect to database: %v", err)
	}
	defer database.Close()

	if err := database.RunMigrations(ctx, cfg.Server.MigrationsPath); err != nil {
		cancel()
		log.Fatalf("[Server] Failed to run migrations: %v", err)
	}

	var storageService *storage.Service
	if cfg.StorageEnabled() {
		storageService, err = storage.NewService(ctx, cfg.Storage)
		if err != nil {
			log.Printf("[WARN] Failed to initialize storage service: %v (image messages disabled)", err)
			storageService = nil
		}
	} else {
		log.Println("[WARN] No image bucket configured (image messages disabled)")
	}
	cancel()

	tokens := auth.NewTokenSigner(cfg.Server.SessionSecret, auth.DefaultTokenTTL)
	messagingService := messaging.NewService(database.Postgres, database.Redis)
	rateLimiter := ratelimit.NewLimiter(database.Redis, ratelimit.Limits{
		CallAttempts:  cfg.Server.CallAttemptsPerMinute,
		CallWindow:    time.Minute,
		MessageSends:  cfg.Server.MessagesPerMinute,
		MessageWindow: time.Minute,
	})

	relayService := relay.NewService(presence.NewRegistry(),
		relay.WithCallLogStore(messagingService),
		relay.WithPresenceMirror(messagingService),
		relay.WithCallLimiter(rateLimiter),
		relay.WithAllowedOrigin(cfg.Server.ClientURL),
	)

	server := &Server{
		config:           cfg,
		db:               database,
		authService:      auth.NewService(database.Postgres, tokens),
		keyDirectory:     keys.NewDirectory(database.Postgres, database.Redis),
		messagingService: messagingService,
		storageService:   storageService,
		relayService:     relayService,
		rateLimiter:      rateLimiter,
		iceHandler:       handlers.NewIceHandler(cfg.ICE.TwilioAccountSID, cfg.ICE.TwilioAuthToken, cfg.ICE.STUNServers),
	}

	httpServer := &http.Server{
		Addr:        ":" + cfg.Server.Port,
		Handler:     corsMiddleware(cfg.Server.ClientURL, server.setupRouter()),
		ReadTimeout: 15 * time.Second,
		// no WriteTimeout: it would cut hijacked websocket connections
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Printf("[Server] HTTP server listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[Server] Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("[Server] Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	for _, conn := range relayService.Registry().Conns() {
		conn.Close()
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("[Server] Server forced to shutdown: %v", err)
	}

	log.Println("[Server] Server exited gracefully")
}

const uuidPattern = "[0-9a-fA-F-]{36}"

func (s *Server) setupRouter() *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/api/status", s.handleStatus).Methods("GET")
	router.HandleFunc("/health", s.handleHealth).Methods("GET")

	// Auth
	router.HandleFunc("/api/auth/signup", s.handleSignup).Methods("POST")
	router.HandleFunc("/api/auth/login", s.handleLogin).Methods("POST")
	router.HandleFunc("/api/auth/check", s.authMiddleware(s.handleCheckAuth)).Methods("GET")

	// Users and keys
	router.HandleFunc("/api/users/search", s.authMiddleware(s.handleSearchUsers)).Methods("GET")
	router.HandleFunc("/api/users/{id:"+uuidPattern+"}/public-key", s.authMiddleware(s.handleGetPublicKey)).Methods("GET")
	router.HandleFunc("/api/users/{id:"+uuidPattern+"}/presence", s.authMiddleware(s.handlePresence)).Methods("GET")

	// Messages; fixed paths before /{id}
	router.HandleFunc("/api/messages/users", s.authMiddleware(s.handleSidebarUsers)).Methods("GET")
	router.HandleFunc("/api/messages/unseen", s.authMiddleware(s.handleUnseen)).Methods("GET")
	router.HandleFunc("/api/messages/send/{id:"+uuidPattern+"}", s.authMiddleware(s.handleSendMessage)).Methods("POST")
	router.HandleFunc("/api/messages/mark/{id:"+uuidPattern+"}", s.authMiddleware(s.handleMarkSeen)).Methods("PUT")
	router.HandleFunc("/api/messages/{id:"+uuidPattern+"}", s.authMiddleware(s.handleGetMessages)).Methods("GET")

	// Images are fetched by <img> tags, which carry no bearer token
	router.HandleFunc(storage.ImagePathPrefix+"{key:.+}", s.handleGetImage).Methods("GET")

	router.HandleFunc("/api/ice-servers", s.iceHandler.GetIceServers).Methods("GET")

	// Relay websocket
	router.HandleFunc("/socket", s.handleSocket).Methods("GET")

	return router
}

// Middleware

func corsMiddleware(allowedOrigin string, next http.Handler) http.Handler {
	if allowedOrigin == "" {
		allowedOrigin = "*"
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, token")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

type contextKey string

const userIDKey contextKey = "userID"

// requestToken reads "Authorization: Bearer <t>" or the bare "token" header
func requestToken(r *http.Request) string {
	if token := auth.BearerToken(r.Header.Get("Authorization")); token != "" {
		return token
	}
	return r.Header.Get("token")
}

func (s *Server) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := requestToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "Authorization header required")
			return
		}

		userID, err := s.authService.ValidateSessionToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}
