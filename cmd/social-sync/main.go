package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/alexjbarnes/social-sync/internal/auth"
	"github.com/alexjbarnes/social-sync/internal/config"
	"github.com/alexjbarnes/social-sync/internal/logging"
	"github.com/alexjbarnes/social-sync/internal/mcpserver"
	"github.com/alexjbarnes/social-sync/internal/models"
	"github.com/alexjbarnes/social-sync/internal/mutation"
	"github.com/alexjbarnes/social-sync/internal/scenario"
	"github.com/alexjbarnes/social-sync/internal/server"
	"github.com/alexjbarnes/social-sync/internal/session"
	"github.com/alexjbarnes/social-sync/internal/social"
	"github.com/alexjbarnes/social-sync/internal/state"
	"github.com/alexjbarnes/social-sync/internal/transport"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"
)

var Version = "dev"

func main() {
	// Handle subcommands before config loading.
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "hash-key":
			name := "default"
			if len(os.Args) > 2 {
				name = os.Args[2]
			}

			hashKey(name)

			return
		case "replay":
			os.Exit(replay(os.Args[2:]))
		case "version":
			fmt.Println(Version)
			return
		}
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// hashKey generates an API key and prints it with the MCP_API_KEYS entry
// that accepts it. The key itself is shown only once.
func hashKey(name string) {
	key := auth.GenerateAPIKey()

	hash, err := auth.HashAPIKey(key)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	fmt.Fprintf(os.Stderr, "API key (give this to the MCP client, it is not stored): %s\n", key)
	fmt.Printf("MCP_API_KEYS=%s:%s\n", name, hash)
}

// replay runs scenario files and returns the exit code. With --watch it
// keeps running and replays each file again when it changes.
func replay(args []string) int {
	watch := false
	if len(args) > 0 && (args[0] == "--watch" || args[0] == "-w") {
		watch = true
		args = args[1:]
	}

	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: social-sync replay [--watch] <scenario.yaml|dir>...")
		return 2
	}

	logger := logging.NewLogger("production", "error")
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		logger = logging.NewLogger("development", level)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	paths, err := scenarioFiles(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}

	code := 0

	for _, path := range paths {
		if !replayFile(ctx, path, logger) {
			code = 1
		}
	}

	if !watch {
		return code
	}

	fmt.Fprintln(os.Stderr, "watching for changes, ctrl-c to stop")

	err = scenario.Watch(ctx, args, logger, func(path string) {
		replayFile(ctx, path, logger)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	return code
}

// scenarioFiles expands directories into the YAML files they contain.
func scenarioFiles(args []string) ([]string, error) {
	var out []string

	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}

		if !info.IsDir() {
			out = append(out, arg)
			continue
		}

		for _, pattern := range []string{"*.yaml", "*.yml"} {
			matches, err := filepath.Glob(filepath.Join(arg, pattern))
			if err != nil {
				return nil, err
			}

			out = append(out, matches...)
		}
	}

	return out, nil
}

func replayFile(ctx context.Context, path string, logger *slog.Logger) bool {
	sc, err := scenario.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return false
	}

	report, err := scenario.Run(ctx, sc, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %s: %v\n", path, err)
		return false
	}

	if report.Passed() {
		fmt.Printf("PASS %s (%d steps)\n", sc.Name, len(report.Steps))
		return true
	}

	fmt.Printf("FAIL %s\n", sc.Name)

	for _, s := range report.Failed() {
		for _, f := range s.Failures {
			fmt.Printf("  step %d (%s): %s\n", s.Index, s.Step, f)
		}
	}

	return false
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.NewLogger(cfg.Environment, cfg.LogLevel)
	logger.Info("social-sync starting",
		slog.String("version", Version),
		slog.String("api", cfg.APIURL),
		slog.Bool("push", cfg.PushURL != ""),
		slog.Bool("mcp", cfg.EnableMCP),
	)

	appState, err := openState(cfg)
	if err != nil {
		return err
	}
	defer appState.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sessions := session.NewManager(appState, logging.Component(logger, "session"))

	explicit := session.Identity{
		Token: cfg.Token,
		User:  models.User{ID: cfg.UserID, Username: cfg.Username},
	}

	err = sessions.Run(ctx, explicit, func(ctx context.Context, id session.Identity) error {
		return runSession(ctx, cfg, id, logger)
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}

	return err
}

func openState(cfg *config.Config) (*state.State, error) {
	if cfg.StatePath != "" {
		return state.LoadAt(cfg.StatePath)
	}

	return state.Load()
}

// runSession builds everything that belongs to one signed-in user and
// runs it until ctx ends or the session expires.
func runSession(ctx context.Context, cfg *config.Config, id session.Identity, logger *slog.Logger) error {
	logger = logger.With(slog.String("user_id", id.User.ID))

	client := transport.NewClient(transport.ClientConfig{
		BaseURL:   cfg.APIURL,
		Token:     id.Token,
		RateLimit: cfg.APIRateLimit,
		Burst:     cfg.APIBurst,
	})

	pushLogger := logging.Component(logger, "push")

	svc := social.New(social.Config{
		Self: id.User,
		Push: transport.ChannelConfig{
			URL:          cfg.PushURL,
			Token:        id.Token,
			PingInterval: cfg.PingInterval,
			IdleTimeout:  cfg.ChannelIdleTimeout,
			ReconnectMin: cfg.ReconnectMin,
			ReconnectMax: cfg.ReconnectMax,
			OnStateChange: func(from, to transport.State) {
				pushLogger.Info("push channel state",
					slog.String("from", from.String()),
					slog.String("to", to.String()),
				)
			},
		},
		Mutations: mutation.Config{SendTimeout: cfg.MutationTimeout},
	}, client, logger)

	g, gctx := errgroup.WithContext(ctx)

	// The service outlives gctx so Stop can let dispatched mutations
	// finish before the engine goes away.
	g.Go(func() error {
		svc.Start(context.WithoutCancel(gctx))

		select {
		case <-gctx.Done():
		case <-svc.Done():
		}

		return svc.Stop()
	})

	g.Go(func() error {
		logBadges(gctx, svc, logger)
		return nil
	})

	if cfg.EnableMCP {
		g.Go(func() error {
			return runMCP(gctx, cfg, svc, logger)
		})
	}

	return g.Wait()
}

// logBadges logs the badge counts whenever they change.
func logBadges(ctx context.Context, svc *social.Service, logger *slog.Logger) {
	last := svc.Badges()

	for range svc.Changes(ctx) {
		b := svc.Badges()
		if b == last {
			continue
		}

		last = b
		logger.Debug("badges changed",
			slog.Int("total", b.Total),
			slog.Int("unread_messages", b.UnreadMessages),
			slog.Int("unread_notifications", b.UnreadNotifications),
			slog.Int("pending_requests", b.PendingRequests),
			slog.Int("online_friends", b.OnlineFriends),
		)
	}
}

// runMCP starts the MCP HTTP server.
func runMCP(ctx context.Context, cfg *config.Config, svc *social.Service, logger *slog.Logger) error {
	entries, err := cfg.ParseMCPAPIKeys()
	if err != nil {
		return fmt.Errorf("parsing MCP API keys: %w", err)
	}

	mcpLogger := logger.With(slog.String("service", "mcp"))

	mcpServer := mcp.NewServer(
		&mcp.Implementation{Name: "social-sync-mcp", Version: Version},
		nil,
	)
	mcpserver.RegisterTools(mcpServer, svc, mcpLogger)

	mcpHandler := mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
		return mcpServer
	}, nil)

	keys := auth.NewKeyStore(entries)

	mux := server.NewMux(server.MuxConfig{
		Keys:       keys,
		MCPHandler: mcpHandler,
		Logger:     mcpLogger,
		Health: func() any {
			health := svc.SyncHealth()

			status := "ok"
			if health.Degraded {
				status = "degraded"
			}

			return map[string]any{
				"status":     status,
				"channel":    svc.ChannelState().String(),
				"pending":    len(svc.Pending()),
				"failing":    health.Failing,
				"last_error": health.LastError,
			}
		},
	})

	httpServer := &http.Server{
		Addr:         cfg.MCPListenAddr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	mcpLogger.Info("starting MCP server",
		slog.String("listen", cfg.MCPListenAddr),
		slog.Int("keys", keys.Len()),
	)

	// Shutdown when context is cancelled.
	go func() {
		<-ctx.Done()
		mcpLogger.Info("shutting down MCP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("MCP server error: %w", err)
	}

	return nil
}
