package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gotd/td/session"
	tgclient "github.com/gotd/td/telegram"
	"github.com/gotd/td/tg"
	"github.com/joho/godotenv"

	"github.com/relaykit/mediacast/internal/httpapi"
	"github.com/relaykit/mediacast/internal/mediacast"
	"github.com/relaykit/mediacast/internal/telegram"
)

type config struct {
	apiID   int
	apiHash string
	owner   int64

	stagingDir    string
	recipientsDSN string
	blocklistDSN  string
	sessionFile   string

	settleDelay  time.Duration
	pollInterval time.Duration
	retryDelay   time.Duration
	maxAttempts  int

	ffprobeBin string

	httpAddr       string
	httpToken      string
	httpRateMax    int
	httpRateWindow time.Duration
}

var (
	flagLogLevel   = flag.String("log-level", "", "log level (debug, info, warn, error), overrides MEDIACAST_LOG_LEVEL")
	flagStagingDir = flag.String("staging-dir", "", "staging directory, overrides MEDIACAST_STAGING_DIR")
	flagHTTPAddr   = flag.String("http-addr", "", "status api listen address, overrides MEDIACAST_HTTP_ADDR")
)

func main() {
	flag.Parse()
	_ = godotenv.Load()

	level := envOrDefault("MEDIACAST_LOG_LEVEL", "info")
	if *flagLogLevel != "" {
		level = *flagLogLevel
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(level),
	}))
	slog.SetDefault(logger)

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("mediacast failed: %v", err)
	}
}

func loadConfig() (config, error) {
	var cfg config

	apiID, err := strconv.Atoi(strings.TrimSpace(os.Getenv("MEDIACAST_API_ID")))
	if err != nil {
		return cfg, fmt.Errorf("MEDIACAST_API_ID must be set to an integer")
	}
	cfg.apiID = apiID
	cfg.apiHash = strings.TrimSpace(os.Getenv("MEDIACAST_API_HASH"))
	if cfg.apiHash == "" {
		return cfg, fmt.Errorf("MEDIACAST_API_HASH must be set")
	}
	owner, err := strconv.ParseInt(strings.TrimSpace(os.Getenv("MEDIACAST_OWNER_CHAT_ID")), 10, 64)
	if err != nil || owner == 0 {
		return cfg, fmt.Errorf("MEDIACAST_OWNER_CHAT_ID must be set to a non-zero integer")
	}
	cfg.owner = owner

	cfg.stagingDir = envOrDefault("MEDIACAST_STAGING_DIR", "staging")
	if v := strings.TrimSpace(*flagStagingDir); v != "" {
		cfg.stagingDir = v
	}
	// The directory is deliberately not created here: pointing the relay at a
	// wrong path would silently relay nothing.
	info, err := os.Stat(cfg.stagingDir)
	if err != nil {
		return cfg, fmt.Errorf("staging directory %s is not accessible: %w", cfg.stagingDir, err)
	}
	if !info.IsDir() {
		return cfg, fmt.Errorf("staging path %s is not a directory", cfg.stagingDir)
	}

	cfg.recipientsDSN = envOrDefault("MEDIACAST_RECIPIENTS_DSN", "recipients.json")
	cfg.blocklistDSN = envOrDefault("MEDIACAST_BLOCKLIST_DSN", "blocklist.json")
	cfg.sessionFile = envOrDefault("MEDIACAST_SESSION_FILE", "mediacast.session")

	cfg.settleDelay = durationEnv("MEDIACAST_SETTLE_DELAY", 3*time.Second)
	cfg.pollInterval = durationEnv("MEDIACAST_POLL_INTERVAL", 5*time.Second)
	cfg.retryDelay = durationEnv("MEDIACAST_RETRY_DELAY", time.Second)
	cfg.maxAttempts = intEnv("MEDIACAST_MAX_ATTEMPTS", 3)

	cfg.ffprobeBin = envOrDefault("MEDIACAST_FFPROBE_BIN", "ffprobe")

	cfg.httpAddr = strings.TrimSpace(os.Getenv("MEDIACAST_HTTP_ADDR"))
	if v := strings.TrimSpace(*flagHTTPAddr); v != "" {
		cfg.httpAddr = v
	}
	cfg.httpToken = strings.TrimSpace(os.Getenv("MEDIACAST_HTTP_TOKEN"))
	cfg.httpRateMax = intEnv("MEDIACAST_HTTP_RATE_LIMIT_MAX", 0)
	cfg.httpRateWindow = durationEnv("MEDIACAST_HTTP_RATE_LIMIT_WINDOW", time.Minute)
	return cfg, nil
}

func run(ctx context.Context, cfg config, logger *slog.Logger) error {
	recipients, err := mediacast.BuildIdentifierStoreFromDSN(cfg.recipientsDSN, "recipients", logger)
	if err != nil {
		return fmt.Errorf("recipient registry: %w", err)
	}
	defer recipients.Close()
	blocklist, err := mediacast.BuildIdentifierStoreFromDSN(cfg.blocklistDSN, "blocklist", logger)
	if err != nil {
		return fmt.Errorf("blocklist: %w", err)
	}
	defer blocklist.Close()

	events := mediacast.NewEventBus()

	startWatchers(ctx, logger, recipients, blocklist)

	dispatcher := tg.NewUpdateDispatcher()
	client := tgclient.NewClient(cfg.apiID, cfg.apiHash, tgclient.Options{
		SessionStorage: &session.FileStorage{Path: cfg.sessionFile},
		UpdateHandler:  dispatcher,
	})

	return client.Run(ctx, func(ctx context.Context) error {
		status, err := client.Auth().Status(ctx)
		if err != nil {
			return fmt.Errorf("auth status: %w", err)
		}
		if !status.Authorized {
			return fmt.Errorf("session %s is not authorized, log in first", cfg.sessionFile)
		}
		self, err := client.Self(ctx)
		if err != nil {
			return fmt.Errorf("resolve self: %w", err)
		}
		logger.Info("logged in", "user", self.Username, "id", self.ID)

		api := client.API()
		peers := telegram.NewPeerCache()
		peers.SeedSelf(self)

		sender, err := telegram.NewSender(api, peers, logger)
		if err != nil {
			return err
		}
		distributor, err := mediacast.NewDistributor(mediacast.DistributorOptions{
			Sender:      sender,
			Recipients:  recipients,
			Classifier:  &mediacast.Classifier{Probe: &mediacast.FFProbe{Binary: cfg.ffprobeBin, Logger: logger}},
			SettleDelay: cfg.settleDelay,
			RetryDelay:  cfg.retryDelay,
			MaxAttempts: cfg.maxAttempts,
			Logger:      logger,
			Events:      events,
		})
		if err != nil {
			return err
		}
		monitor, err := mediacast.NewMonitor(mediacast.MonitorOptions{
			Dir:         cfg.stagingDir,
			Distributor: distributor,
			Interval:    cfg.pollInterval,
			Logger:      logger,
			Events:      events,
		})
		if err != nil {
			return err
		}
		ingestor, err := mediacast.NewIngestor(mediacast.IngestorOptions{
			Blocklist:  blocklist,
			StagingDir: cfg.stagingDir,
			Logger:     logger,
			Events:     events,
		})
		if err != nil {
			return err
		}
		commands, err := mediacast.NewCommandHandler(mediacast.CommandHandlerOptions{
			Owner:      cfg.owner,
			Recipients: recipients,
			Blocklist:  blocklist,
			Staging:    monitor,
			Replier:    sender,
			Logger:     logger,
		})
		if err != nil {
			return err
		}
		listener, err := telegram.NewListener(telegram.ListenerOptions{
			API:      api,
			Peers:    peers,
			Owner:    cfg.owner,
			Ingestor: ingestor,
			Commands: commands,
			Logger:   logger,
		})
		if err != nil {
			return err
		}
		listener.Attach(dispatcher)

		if cfg.httpAddr != "" {
			if err := startHTTP(ctx, cfg, logger, monitor, recipients, blocklist, events); err != nil {
				return err
			}
		}

		monitorDone := make(chan error, 1)
		go func() { monitorDone <- monitor.Run(ctx) }()

		if err := sender.Reply(ctx, cfg.owner, "Media relay is up."); err != nil {
			logger.Error("failed to notify owner about startup", "error", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-monitorDone:
			return err
		}
	})
}

// startWatchers attaches a filesystem watcher to every file-backed registry so
// hand edits take effect without a restart. Non-file backends reload on use.
func startWatchers(ctx context.Context, logger *slog.Logger, stores ...mediacast.IdentifierStore) {
	for _, store := range stores {
		fileStore, ok := store.(*mediacast.FileIdentifierStore)
		if !ok {
			continue
		}
		watcher, err := mediacast.NewStoreWatcher(fileStore, logger)
		if err != nil {
			logger.Error("failed to watch registry file", "path", fileStore.Path(), "error", err)
			continue
		}
		go func() {
			if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("registry watcher stopped", "error", err)
			}
		}()
	}
}

func startHTTP(ctx context.Context, cfg config, logger *slog.Logger, monitor *mediacast.Monitor, recipients, blocklist mediacast.IdentifierStore, events *mediacast.EventBus) error {
	api, err := httpapi.NewServer(httpapi.ServerOptions{
		Staging:    monitor,
		Recipients: recipients,
		Blocklist:  blocklist,
		Events:     events,
		Config: httpapi.ServerConfig{
			AuthToken:       cfg.httpToken,
			RateLimitMax:    cfg.httpRateMax,
			RateLimitWindow: cfg.httpRateWindow,
		},
		Logger: logger,
	})
	if err != nil {
		return err
	}
	server := &http.Server{Addr: cfg.httpAddr, Handler: api}
	go func() {
		logger.Info("http api listening", "addr", cfg.httpAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http api failed", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	return nil
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func intEnv(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return value
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %s", name, raw, fallback.String())
		return fallback
	}
	return value
}

func logLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
