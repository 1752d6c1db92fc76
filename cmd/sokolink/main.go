package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/sokolink/sokolink/internal/api"
	"github.com/sokolink/sokolink/internal/engine"
	"github.com/sokolink/sokolink/internal/flows"
	"github.com/sokolink/sokolink/internal/lockfile"
	"github.com/sokolink/sokolink/internal/messaging"
	"github.com/sokolink/sokolink/internal/models"
	"github.com/sokolink/sokolink/internal/registry"
	"github.com/sokolink/sokolink/internal/scheduler"
	"github.com/sokolink/sokolink/internal/store"
	"github.com/sokolink/sokolink/internal/sweeper"
	"github.com/sokolink/sokolink/internal/twiliowhatsapp"
	"github.com/sokolink/sokolink/internal/util"
	"github.com/sokolink/sokolink/internal/whatsapp"
)

// Default configuration constants.
const (
	// DefaultStateDir is the default directory for SokoLink state data.
	DefaultStateDir = "/var/lib/sokolink"
	// DefaultDBFileName is the default SQLite database filename.
	DefaultDBFileName = "sokolink.db"
	// DefaultSweepCron runs the session sweep every five minutes.
	DefaultSweepCron = "*/5 * * * *"
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	if err := run(flags); err != nil {
		slog.Error("SokoLink failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("SokoLink exited successfully")
}

// Config holds environment configuration.
type Config struct {
	DatabaseURL string
	StateDir    string
	APIAddr     string
	Channel     string
	SweepCron   string
	WhatsAppDSN string
	NumericCode bool
}

// Flags holds command line flag values.
type Flags struct {
	qrOutput  *string
	numeric   *bool
	stateDir  *string
	dbDSN     *string
	apiAddr   *string
	channel   *string
	sweepCron *string
}

// initializeLogger sets up structured logging with debug level.
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables
// and an optional .env file.
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		StateDir:    util.EnvOrDefault("SOKOLINK_STATE_DIR", DefaultStateDir),
		APIAddr:     os.Getenv("API_ADDR"),
		Channel:     util.EnvOrDefault("CHANNEL", "whatsapp"),
		SweepCron:   util.EnvOrDefault("SWEEP_SCHEDULE", DefaultSweepCron),
		WhatsAppDSN: os.Getenv("WHATSAPP_DB_DSN"),
		NumericCode: util.ParseBoolEnv("WHATSAPP_NUMERIC_CODE", false),
	}

	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"SOKOLINK_STATE_DIR", config.StateDir,
		"API_ADDR", config.APIAddr,
		"CHANNEL", config.Channel,
		"SWEEP_SCHEDULE", config.SweepCron,
		"WHATSAPP_DB_DSN_SET", config.WhatsAppDSN != "",
		"WHATSAPP_NUMERIC_CODE", config.NumericCode)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults.
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		qrOutput:  flag.String("qr-output", "", "path to write login QR code"),
		numeric:   flag.Bool("numeric-code", config.NumericCode, "use numeric login code instead of QR code (overrides $WHATSAPP_NUMERIC_CODE)"),
		stateDir:  flag.String("state-dir", config.StateDir, "state directory for SokoLink data (overrides $SOKOLINK_STATE_DIR)"),
		dbDSN:     flag.String("db-dsn", config.DatabaseURL, "session store DSN, SQLite path or PostgreSQL URL (overrides $DATABASE_URL)"),
		apiAddr:   flag.String("api-addr", config.APIAddr, "admin API server address (overrides $API_ADDR)"),
		channel:   flag.String("channel", config.Channel, "chat channel: whatsapp or twilio (overrides $CHANNEL)"),
		sweepCron: flag.String("sweep-cron", config.SweepCron, "cron schedule for session sweeps (overrides $SWEEP_SCHEDULE)"),
	}
	flag.Parse()

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"apiAddr", *flags.apiAddr,
		"channel", *flags.channel,
		"sweepCron", *flags.sweepCron)

	if *flags.dbDSN == config.DatabaseURL && config.DatabaseURL == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "new_state_dir", *flags.stateDir)
	}

	return flags
}

// ensureDirectoriesExist creates the state directory for file-based storage.
func ensureDirectoriesExist(flags Flags) error {
	if store.DetectDSNType(*flags.dbDSN) == "postgres" {
		return nil
	}
	stateDir := filepath.Dir(*flags.dbDSN)
	slog.Debug("Creating state directory for file-based database", "state_dir", stateDir)
	return os.MkdirAll(stateDir, 0755)
}

// run wires the modules together and blocks until shutdown.
func run(flags Flags) error {
	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	st, err := buildStore(flags)
	if err != nil {
		return err
	}
	defer st.Close()

	reg := registry.New()
	handlers := flows.NewRegistry()
	for _, h := range handlers.All() {
		if err := reg.Register(h.Definition()); err != nil {
			return err
		}
	}
	if err := reg.Validate(); err != nil {
		return err
	}

	eng, err := engine.New(reg, st, handlers, engine.NewDefaultClassifier(nil))
	if err != nil {
		return err
	}

	service, err := buildMessagingService(flags)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := service.Start(ctx); err != nil {
		return err
	}
	defer service.Stop()

	sw := sweeper.New(reg, st, sweeper.WithNotifier(expiryNotifier{service}))
	sched := scheduler.NewScheduler()
	defer sched.Stop()
	if err := sched.AddJob(*flags.sweepCron, func() {
		if _, err := sw.Sweep(context.Background()); err != nil {
			slog.Error("Scheduled sweep failed", "error", err)
		}
	}); err != nil {
		return err
	}

	pump := messaging.NewPump(service, eng, defaultRenderer())
	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		pump.Run(ctx)
	}()

	srv := api.NewServer(st, reg, sw)
	if twilioSvc, ok := service.(*messaging.TwilioService); ok {
		srv.Mount("/webhook/twilio", twilioSvc.TwilioWebhookHandler)
	}
	apiErr := make(chan error, 1)
	go func() { apiErr <- srv.Run(*flags.apiAddr) }()

	slog.Info("SokoLink running", "channel", *flags.channel, "api_addr", *flags.apiAddr)

	select {
	case <-ctx.Done():
		slog.Info("Shutdown signal received")
	case err := <-apiErr:
		if err != nil {
			slog.Error("Admin API server failed", "error", err)
			stop()
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Admin API shutdown failed", "error", err)
	}
	<-pumpDone
	return nil
}

// buildStore constructs the session store from the DSN.
func buildStore(flags Flags) (store.SessionStore, error) {
	if store.DetectDSNType(*flags.dbDSN) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store")
		return store.NewPostgresStore(store.WithPostgresDSN(*flags.dbDSN))
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", *flags.dbDSN)
	return store.NewSQLiteStore(store.WithSQLiteDSN(*flags.dbDSN))
}

// buildMessagingService constructs the configured chat channel.
func buildMessagingService(flags Flags) (messaging.Service, error) {
	switch *flags.channel {
	case "twilio":
		client, err := twiliowhatsapp.NewClient()
		if err != nil {
			return nil, err
		}
		return messaging.NewTwilioService(client), nil
	default:
		var waOpts []whatsapp.Option
		if *flags.qrOutput != "" {
			waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
		}
		if *flags.numeric {
			waOpts = append(waOpts, whatsapp.WithNumericCode())
		}
		waOpts = append(waOpts, whatsapp.WithDBDSN(whatsAppDSN(flags)))
		client, err := whatsapp.NewClient(waOpts...)
		if err != nil {
			return nil, err
		}
		return messaging.NewWhatsAppService(client), nil
	}
}

// whatsAppDSN places the whatsmeow database next to the session store.
func whatsAppDSN(flags Flags) string {
	if dsn := os.Getenv("WHATSAPP_DB_DSN"); dsn != "" {
		return dsn
	}
	if store.DetectDSNType(*flags.dbDSN) == "postgres" {
		return *flags.dbDSN
	}
	return filepath.Join(*flags.stateDir, "whatsmeow.db")
}

// expiryNotifier sends session-lapsed notices through the chat channel.
type expiryNotifier struct {
	service messaging.Service
}

func (n expiryNotifier) NotifyExpired(ctx context.Context, userKey string, flow models.FlowID) {
	if err := n.service.SendMessage(ctx, userKey, expiredNotice); err != nil {
		slog.Warn("Expiry notice delivery failed", "error", err, "userKey", userKey, "flow", flow)
	}
}
