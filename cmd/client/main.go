package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/notnil/chess"

	"github.com/yal212/chess-web-sub000/pkg/api"
	"github.com/yal212/chess-web-sub000/pkg/config"
	gametypes "github.com/yal212/chess-web-sub000/pkg/game/types"
	"github.com/yal212/chess-web-sub000/pkg/gamesync"
	"github.com/yal212/chess-web-sub000/pkg/log"
	"github.com/yal212/chess-web-sub000/pkg/realtime"
	"github.com/yal212/chess-web-sub000/pkg/repositories"
	"github.com/yal212/chess-web-sub000/pkg/rules"
	"github.com/yal212/chess-web-sub000/pkg/version"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	serverURL := flag.String("server", "", "API server URL, overrides the config file")
	gameID := flag.String("game", "", "game id, overrides the config file")
	logLevel := flag.String("log-level", "", "Log level, overrides the config file")
	create := flag.Bool("create", false, "create the game if it does not exist")
	flag.Parse()

	cfg, err := loadConfig(*configPath, *serverURL, *gameID, *logLevel)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	parsedLogLevel, err := log.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		panic(fmt.Sprintf("Failed to parse log level: %v", err))
	}
	logger := log.New(os.Stderr, "", log.DefaultLoggerFlag, parsedLogLevel)
	log.SetDefaultLogger(logger)

	log.Info("Starting chess sync client version %s", version.Get())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	apiClient := api.NewAPIClient(api.NewAPIClientOptions{
		URL:   cfg.ServerURL,
		Token: cfg.Token,
	})
	if *create {
		if _, err := apiClient.CreateGame(ctx, cfg.GameID); err != nil && !repositories.IsAlreadyExists(err) {
			panic(fmt.Sprintf("Failed to create game: %v", err))
		}
	}

	ruleEngine := rules.NewChessEngine()
	engine, err := gamesync.NewEngine(gamesync.NewEngineOptions{
		Store:   apiClient,
		Channel: realtime.NewWSChannel(realtime.NewWSChannelOptions{
			URL:              cfg.ServerURL,
			Token:            cfg.Token,
			SubscribeTimeout: cfg.SubscribeTimeout,
		}),
		Rules:  ruleEngine,
		Config: cfg.Sync,
	})
	if err != nil {
		panic(fmt.Sprintf("Failed to create sync engine: %v", err))
	}

	engine.OnStateChange(func(change gamesync.StateChange) {
		render(change.Session, change.Decision)
	})
	engine.OnConnectionStatus(func(status gamesync.ConnectionStatus) {
		if status.IsConnected {
			fmt.Println("* connected")
			return
		}
		fmt.Printf("* disconnected (%d failed attempts)\n", status.ConnectionAttempts)
	})
	engine.OnSyncDegraded(func(err error) {
		fmt.Printf("! out of sync: %v\n", err)
	})

	if err := engine.Start(ctx, cfg.GameID); err != nil {
		panic(fmt.Sprintf("Failed to start sync: %v", err))
	}
	defer engine.Stop()

	lines := make(chan string)
	go readLines(lines)

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	for {
		select {
		case <-interrupt:
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if quit := handleCommand(ctx, engine, apiClient, ruleEngine, cfg.GameID, line); quit {
				return
			}
		}
	}
}

func loadConfig(path string, serverURL string, gameID string, logLevel string) (*config.ClientConfig, error) {
	cfg := config.DefaultClientConfig()
	if path != "" {
		loaded, err := config.LoadClientConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if serverURL != "" {
		cfg.ServerURL = serverURL
	}
	if gameID != "" {
		cfg.GameID = gameID
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if token := os.Getenv("CHESSSYNC_TOKEN"); token != "" {
		cfg.Token = token
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func readLines(lines chan<- string) {
	defer close(lines)
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		lines <- strings.TrimSpace(scanner.Text())
	}
}

// handleCommand runs one line of input and reports whether the client should exit.
func handleCommand(ctx context.Context, engine *gamesync.Engine, apiClient *api.APIClient, ruleEngine rules.RuleEngine, gameID string, line string) bool {
	switch line {
	case "":
		return false
	case "quit", "exit":
		return true
	case "status":
		transport := engine.Transport()
		status := engine.ConnectionStatus()
		fmt.Printf("subscription=%s retries=%d fellBack=%t polling=%t interval=%s connected=%t\n",
			transport.Subscription, transport.RetryCount, transport.FellBack, transport.Polling, transport.PollInterval, status.IsConnected)
		return false
	}

	current, err := engine.State()
	if err != nil || current == nil {
		fmt.Println("! game not loaded yet")
		return false
	}
	if current.Status.IsFinal() {
		fmt.Printf("! game is %s\n", current.Status)
		return false
	}

	result, err := ruleEngine.ApplyMove(current.Position, line)
	if err != nil {
		fmt.Printf("! %v\n", err)
		return false
	}
	moveLog := append(append([]string{}, current.MoveLog...), result.Notation)
	if err := engine.ReportLocalMutation(ctx, result.Position, moveLog); err != nil {
		fmt.Printf("! %v\n", err)
		return false
	}

	expected := current.Version
	if _, err := apiClient.SubmitMove(ctx, gameID, result.Notation, &expected); err != nil {
		if repositories.IsConflict(err) {
			fmt.Println("! the game changed before the move was saved, reloading")
		} else {
			fmt.Printf("! failed to save move: %v, reloading\n", err)
		}
		if err := engine.Resync(); err != nil {
			fmt.Printf("! %v\n", err)
		}
	}
	return false
}

func render(session *gametypes.GameSession, decision gamesync.Decision) {
	if session == nil {
		return
	}
	fmt.Printf("\n[%s] game %s, %s, %d moves, version %d\n", decision, session.ID, session.Status, session.MoveCount(), session.Version)
	if fen, err := chess.FEN(session.Position); err == nil {
		fmt.Print(chess.NewGame(fen).Position().Board().Draw())
	} else {
		fmt.Println(session.Position)
	}
	if n := session.MoveCount(); n > 0 {
		fmt.Printf("last move: %s\n", session.MoveLog[n-1])
	}
}
