package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/yal212/chess-web-sub000/pkg/api/handlers"
	"github.com/yal212/chess-web-sub000/pkg/api/middleware"
	authproviders "github.com/yal212/chess-web-sub000/pkg/auth/providers"
	gametypes "github.com/yal212/chess-web-sub000/pkg/game/types"
	"github.com/yal212/chess-web-sub000/pkg/log"
	"github.com/yal212/chess-web-sub000/pkg/repositories"
	"github.com/yal212/chess-web-sub000/pkg/rules"
)

type APIServer struct {
	server *http.Server
	tls    *TLSConfig
}

type TLSConfig struct {
	CertFile string
	KeyFile  string
}

type NewAPIServerOptions struct {
	Port int
	TLS  *TLSConfig
	// AuthProvider guards the game routes. Nil disables authentication.
	AuthProvider authproviders.AuthProvider
	Repository   repositories.Repository
	RuleEngine   rules.RuleEngine
	Subscriber   handlers.Subscriber
	// Changes receives every successful write for broadcasting
	Changes chan<- gametypes.ChangeEvent
}

// NewAPIServer creates a new http.Server for handling API requests
func NewAPIServer(opts NewAPIServerOptions) *APIServer {
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", opts.Port),
		Handler: NewRouter(opts),
	}
	return &APIServer{
		server: server,
		tls:    opts.TLS,
	}
}

// NewRouter builds the API routes.
func NewRouter(opts NewAPIServerOptions) http.Handler {
	authMiddleware := middleware.NewAuthMiddleware(opts.AuthProvider)

	router := mux.NewRouter()
	router.Use(middleware.NewLoggingMiddleware())

	router.Handle("/healthz", handlers.HandleHealth(opts.Repository)).Methods(http.MethodGet)
	router.Handle("/games", authMiddleware(handlers.HandleCreateGame(opts.Repository, opts.Changes))).Methods(http.MethodPost)
	router.Handle("/games/{gameID}", authMiddleware(handlers.HandleGetGame(opts.Repository))).Methods(http.MethodGet)
	router.Handle("/games/{gameID}", authMiddleware(handlers.HandleUpdateGame(opts.Repository, opts.Changes))).Methods(http.MethodPatch)
	router.Handle("/games/{gameID}/moves", authMiddleware(handlers.HandleSubmitMove(opts.Repository, opts.RuleEngine, opts.Changes))).Methods(http.MethodPost)
	router.Handle("/games/{gameID}/subscribe", authMiddleware(handlers.HandleSubscribe(opts.Repository, opts.Subscriber))).Methods(http.MethodGet)

	return middleware.NewCORSMiddleware()(router)
}

// Start starts the APIServer
func (s *APIServer) Start() {
	var listenAndServe func() error
	if s.tls != nil {
		log.Info("API server listening on %s with TLS", s.server.Addr)
		listenAndServe = func() error {
			return s.server.ListenAndServeTLS(s.tls.CertFile, s.tls.KeyFile)
		}
	} else {
		log.Info("API server listening on %s", s.server.Addr)
		listenAndServe = s.server.ListenAndServe
	}
	if err := listenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			log.Info("API server closed")
			return
		}
		log.Error("API server error: %v", err)
	}
}

// Stop stops the APIServer
func (s *APIServer) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
