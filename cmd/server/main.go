package main

import (
	"context"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/yal212/chess-web-sub000/pkg/api"
	authproviders "github.com/yal212/chess-web-sub000/pkg/auth/providers"
	gametypes "github.com/yal212/chess-web-sub000/pkg/game/types"
	"github.com/yal212/chess-web-sub000/pkg/log"
	"github.com/yal212/chess-web-sub000/pkg/realtime"
	"github.com/yal212/chess-web-sub000/pkg/repositories"
	"github.com/yal212/chess-web-sub000/pkg/rules"
	"github.com/yal212/chess-web-sub000/pkg/version"
	"github.com/yal212/chess-web-sub000/pkg/workers"
)

func main() {
	port := flag.Int("port", 8080, "port to listen on")
	logLevel := flag.String("log-level", "info", "Log level")
	changeBufferSize := flag.Int("change-buffer", 1000, "number of pending change events before broadcasts are dropped")
	flag.Parse()

	parsedLogLevel, err := log.ParseLogLevel(*logLevel)
	if err != nil {
		panic(fmt.Sprintf("Failed to parse log level: %v", err))
	}

	logger := log.New(os.Stdout, "", log.DefaultLoggerFlag, parsedLogLevel)
	log.SetDefaultLogger(logger)
	log.Info("Log level set to %s", parsedLogLevel)

	log.Info("Starting chess sync server version %s", version.Get())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	authProvider, err := newAuthProvider(ctx)
	if err != nil {
		panic(fmt.Sprintf("Failed to create auth provider: %v", err))
	}

	connStr := os.Getenv("CHESSSYNC_DATABASE_URL")
	if connStr == "" {
		connStr = "sqlite://chesssync.db"
	}
	repository, err := newRepository(ctx, connStr)
	if err != nil {
		panic(fmt.Sprintf("Failed to create repository: %v", err))
	}
	defer repository.Close(ctx)

	hub := realtime.NewHub(realtime.NewHubOptions{})
	defer hub.Close()

	changeChan := make(chan gametypes.ChangeEvent, *changeBufferSize)
	broadcastWorker := workers.NewChangeBroadcastWorker(workers.NewChangeBroadcastWorkerOptions{
		Publisher:  hub,
		ChangeChan: changeChan,
	})
	go broadcastWorker.Start(ctx)

	apiServerOpts := api.NewAPIServerOptions{
		Port:         *port,
		AuthProvider: authProvider,
		Repository:   repository,
		RuleEngine:   rules.NewChessEngine(),
		Subscriber:   hub,
		Changes:      changeChan,
	}
	tlsCertFile := os.Getenv("CHESSSYNC_TLS_CERT_FILE")
	tlsKeyFile := os.Getenv("CHESSSYNC_TLS_KEY_FILE")
	if tlsCertFile != "" && tlsKeyFile != "" {
		apiServerOpts.TLS = &api.TLSConfig{
			CertFile: tlsCertFile,
			KeyFile:  tlsKeyFile,
		}
	}
	server := api.NewAPIServer(apiServerOpts)
	go server.Start()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	<-interrupt
	log.Info("Shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 10*time.Second)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		log.Error("Failed to stop server: %v", err)
	}
}

// newAuthProvider picks Firebase when a project is configured, then static
// tokens. With neither set the API is unauthenticated.
func newAuthProvider(ctx context.Context) (authproviders.AuthProvider, error) {
	if projectID := os.Getenv("CHESSSYNC_FIREBASE_PROJECT_ID"); projectID != "" {
		return authproviders.NewFirebaseAuthProvider(ctx, authproviders.NewFirebaseAuthProviderOptions{
			ProjectID:       projectID,
			APIKey:          os.Getenv("CHESSSYNC_FIREBASE_API_KEY"),
			CredentialsFile: os.Getenv("CHESSSYNC_FIREBASE_CREDENTIALS"),
		})
	}
	if tokens := os.Getenv("CHESSSYNC_STATIC_TOKENS"); tokens != "" {
		parsed, err := parseStaticTokens(tokens)
		if err != nil {
			return nil, err
		}
		log.Info("Using %d static tokens", len(parsed))
		return authproviders.NewStaticTokenAuthProvider(parsed), nil
	}
	log.Warn("No auth provider configured, API is unauthenticated")
	return nil, nil
}

// parseStaticTokens parses a comma-separated list of uid:token pairs.
func parseStaticTokens(s string) (map[string]string, error) {
	tokens := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		uid, token, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if !ok || uid == "" || token == "" {
			return nil, fmt.Errorf("invalid static token entry %q, expected uid:token", pair)
		}
		tokens[token] = uid
	}
	return tokens, nil
}

func newRepository(ctx context.Context, connStr string) (repositories.Repository, error) {
	u, err := url.Parse(connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %v", err)
	}

	switch u.Scheme {
	case "memory":
		return repositories.NewInMemoryRepository(), nil
	case "sqlite":
		return repositories.NewSQLiteRepository(ctx, u.Host+u.Path)
	case "postgres", "postgresql":
		return repositories.NewPostgresRepository(ctx, u.String())
	default:
		return nil, fmt.Errorf("unknown database type %s", u.Scheme)
	}
}
