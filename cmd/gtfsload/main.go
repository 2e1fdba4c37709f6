package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/gtfsload/internal/common/config"
	"github.com/gtfsload/internal/common/db"
	"github.com/gtfsload/internal/common/discord"
	"github.com/gtfsload/internal/common/logger"
	"github.com/gtfsload/internal/common/metrics"
	"github.com/gtfsload/internal/gtfs-static/driver"
	"github.com/gtfsload/internal/gtfs-static/entity"
	"github.com/gtfsload/internal/gtfs-static/source"
	"github.com/gtfsload/internal/store"
	"github.com/gtfsload/internal/store/memstore"
	"github.com/gtfsload/internal/store/sqlstore"
)

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

type options struct {
	configPath      string
	store           string
	metricsAddr     string
	skipDelete      bool
	continueOnError bool
}

func newRootCommand() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:   "gtfsload",
		Short: "Import GTFS feeds into a document store",
		Long: `
Downloads or reads the GTFS feed of every configured agency, replaces the
agency's records in the store and links them to each other.
`,
		SilenceUsage: true,
		RunE: func(c *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(c.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, c, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "agency file (default $GTFS_CONFIG or config.yml)")
	flags.StringVar(&opts.store, "store", "", "store driver: postgres, sqlite or memory (default $STORE_DRIVER)")
	flags.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")
	flags.BoolVar(&opts.skipDelete, "skip-delete", false, "keep existing agency data instead of replacing it")
	flags.BoolVar(&opts.continueOnError, "continue-on-error", false, "import the remaining agencies after one fails")
	return cmd
}

func run(ctx context.Context, c *cobra.Command, opts options) error {
	// A .env file is optional for a one-shot import
	envErr := godotenv.Load()

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	flags := c.Flags()
	if flags.Changed("store") {
		cfg.Store.Driver = opts.store
	}
	if flags.Changed("metrics-addr") {
		cfg.Metrics.Addr = opts.metricsAddr
	}
	if flags.Changed("skip-delete") {
		cfg.Import.SkipDelete = opts.skipDelete
	}
	if flags.Changed("continue-on-error") {
		cfg.Import.ContinueOnError = opts.continueOnError
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	loggerConfig := logger.DefaultLoggerConfig()
	loggerConfig.Level = logger.ParseLogLevel(cfg.Logging.Level)
	loggerConfig.FilePath = cfg.Logging.FilePath
	loggerConfig.File = cfg.Logging.FilePath != ""
	log := logger.NewFromConfig(loggerConfig)

	if envErr != nil {
		log.Debug("No .env file loaded", "error", envErr)
	}

	log.Info("GTFS import starting",
		"config", cfg.Import.ConfigPath,
		"store", cfg.Store.Driver,
		"agencies", len(cfg.Import.Agencies),
		"skip_delete", cfg.Import.SkipDelete,
	)

	s, err := openStore(ctx, cfg.Store, log)
	if err != nil {
		log.Error("Failed to open store", "error", err)
		return err
	}
	defer s.Close()

	if cfg.Metrics.Addr != "" {
		go metrics.Serve(ctx, cfg.Metrics.Addr, log)
	}

	dlOpts := source.DefaultDownloadOptions()
	dlOpts.RetryMax = cfg.Import.HTTPRetryMax
	if cfg.Import.HTTPTimeout > 0 {
		dlOpts.Timeout = cfg.Import.HTTPTimeout
	}
	downloader := source.NewHTTPDownloader(dlOpts, log)

	d := driver.New(s, entity.Default(), source.NewAcquirer(downloader), log, driver.Options{
		DownloadDir:        cfg.Import.DownloadDir,
		SkipDelete:         cfg.Import.SkipDelete,
		ContinueOnError:    cfg.Import.ContinueOnError,
		ResolveConcurrency: cfg.Import.ResolveConcurrency,
	})
	if cfg.Discord.WebhookURL != "" {
		d.WithNotifier(discord.NewClient(cfg.Discord.WebhookURL))
	}

	reports, err := d.Run(ctx, cfg.Import.Agencies)
	for _, rep := range reports {
		fmt.Fprintf(c.OutOrStdout(), "%s\t%s\t%d records\t%d write failures\t%s\n",
			rep.AgencyKey, rep.State, rep.Import.Records(), rep.WriteFailures(), rep.Duration.Round(time.Millisecond))
	}
	return err
}

func openStore(ctx context.Context, cfg config.StoreConfig, log logger.Logger) (store.Store, error) {
	if cfg.Driver == config.StoreMemory {
		log.Warn("Using in-memory store; imported data is discarded on exit")
		return memstore.New(), nil
	}

	database, err := db.Open(cfg.Driver, cfg.DSN(), log)
	if err != nil {
		return nil, err
	}
	s, err := sqlstore.New(ctx, database)
	if err != nil {
		database.Close()
		return nil, err
	}
	return s, nil
}
