// Path: cmd/loki-downloader/root.go
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"loki-downloader/internal/cancel"
	"loki-downloader/internal/config"
	"loki-downloader/internal/delivery/prompt"
	"loki-downloader/internal/delivery/rest"
	"loki-downloader/internal/events"
	"loki-downloader/internal/logging"
	"loki-downloader/internal/scraper"
	"loki-downloader/internal/service"
	"loki-downloader/internal/storage"
)

// streams are the process's standard files.
type streams struct {
	in  *os.File
	out io.Writer
	err io.Writer
}

func newRootCmd(std streams) *cobra.Command {
	root := &cobra.Command{
		Use:   "loki-downloader",
		Short: "Download a Loki query's log lines into numbered files, resuming where it stopped",
		Long: `Downloads every log line matched by a LogQL query within a time window, in batches,
into newline-delimited JSON files under <output-folder>/<output-name>/. Progress is saved
after each batch, so running the same command again resumes the download.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDownload(cmd, std)
		},
	}
	if std.in != nil {
		root.SetIn(std.in)
	}
	root.SetOut(std.out)
	root.SetErr(std.err)
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &usageError{err: err}
	})

	f := root.PersistentFlags()
	f.String("config", "", "Config file (yaml, json or toml)")
	f.String("url", "http://localhost:3100", "Loki base URL")
	f.String("query", "", "LogQL query (required)")
	f.String("org-id", "", "Tenant sent as X-Scope-OrgID")
	f.StringSlice("headers", nil, "Extra request headers, 'Name: value'")
	f.StringSlice("query-tags", nil, "Query tags sent as X-Query-Tags, 'key=value'")
	f.Duration("timeout", 60*time.Second, "Timeout of a single Loki request")
	f.Float64("rps", 0, "Maximum Loki requests per second (0 = unlimited)")
	f.String("from", "", "Window start, inclusive (default start of today)")
	f.String("to", "", "Window end, exclusive (default end of today)")
	f.String("direction", "backward", "Traversal direction: forward or backward")
	f.Int("total-records-limit", 0, "Stop after this many records (0 = all)")
	f.Int("file-records-limit", 0, "Records per output file (0 = one file)")
	f.Int("batch-records-limit", 2000, "Records per Loki request")
	f.Duration("cool-down", 10*time.Second, "Pause between requests")
	f.Bool("prompt-to-start", false, "Ask for confirmation before downloading")
	f.String("output-folder", "output", "Parent folder of the output directory")
	f.String("output-name", "download", "Name of the output directory")
	f.Bool("clear-output-dir", false, "Delete the contents of a non-empty output directory on a fresh run")
	f.String("state-backend", "file", "Where progress is saved: file, sqlite or mongo")
	f.String("state-dir", ".internal/state", "Directory of the file state backend")
	f.String("log-level", "info", "Log level: debug, info, warn, error")
	f.Bool("pretty-logs", true, "Human readable logs instead of JSON")
	f.String("status-addr", "", "Serve progress on this address, e.g. :8080 (disabled when empty)")

	root.AddCommand(newStateCmd(), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}

// loadConfig resolves the configuration for cmd from its flags.
func loadConfig(cmd *cobra.Command, fs *storage.LocalFS) (*config.Config, error) {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, &usageError{err: err}
	}
	return config.Load(cmd.Flags(), configPath, fs.ReadConfigFile)
}

func runDownload(cmd *cobra.Command, std streams) error {
	localFS := storage.NewLocalFS()
	cfg, err := loadConfig(cmd, localFS)
	if err != nil {
		return err
	}

	logger, err := logging.New(std.err, cfg.Log.Level, cfg.Log.Pretty)
	if err != nil {
		return err
	}

	guard := cancel.New(cmd.Context())
	stop := guard.NotifySignals(func(sig os.Signal) {
		logger.Warn("Stopping, the batch in flight will be discarded", "signal", sig.String())
	}, os.Interrupt, syscall.SIGTERM)
	defer stop()

	states, closeStates, err := openStateStore(guard.Context(), cfg, localFS)
	if err != nil {
		return err
	}
	defer closeStates()

	broker := events.NewBroker()
	if cfg.Status.Addr != "" {
		stopStatus := startStatusServer(cfg.Status.Addr, broker, logger)
		defer stopStatus()
	}

	var opts []service.Option
	if prompt.Interactive(std.in, os.Stdout) {
		opts = append(opts, service.WithConfirmer(prompt.NewConfirmer(prompt.Accessible())))
	}

	logger.Info("Starting download",
		"query", cfg.Loki.Query,
		"from", cfg.Window.From.Format(time.RFC3339Nano),
		"to", cfg.Window.To.Format(time.RFC3339Nano),
		"direction", cfg.Window.Dir,
		"output", cfg.OutputDir(),
		"stateBackend", cfg.State.Backend)

	svc := service.NewService(cfg, scraper.NewClient(cfg.Loki, logger), localFS, states, broker, logger, opts...)
	summary, err := svc.Run(guard.Context())
	if err != nil {
		if scraper.IsRetryable(err) {
			logger.Info("Run the same command again to resume from the last saved batch")
		}
		return err
	}

	if summary.Cancelled {
		logger.Info("Progress saved, run the same command again to resume",
			"totalRecords", summary.State.TotalRecords, "reason", guard.Reason())
	}
	return nil
}

// openStateStore builds the configured state backend and a function releasing it.
func openStateStore(ctx context.Context, cfg *config.Config, fs *storage.LocalFS) (storage.StateStore, func(), error) {
	switch cfg.State.Backend {
	case config.BackendSQLite:
		st, err := storage.NewSQLiteStateStore(cfg.State.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return st, func() { st.Close() }, nil

	case config.BackendMongo:
		connectCtx, cancelConnect := context.WithTimeout(ctx, 10*time.Second)
		defer cancelConnect()

		client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.State.MongoURI))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
		}
		if err := client.Ping(connectCtx, nil); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, nil, fmt.Errorf("failed to reach MongoDB: %w", err)
		}
		db := client.Database(cfg.State.MongoDatabase)
		return storage.NewMongoStateStore(db, cfg.State.MongoCollection), func() {
			_ = client.Disconnect(context.Background())
		}, nil

	default:
		return storage.NewFileStateStore(fs, cfg.State.Dir), func() {}, nil
	}
}

// startStatusServer serves broker-fed progress until the returned function is called.
func startStatusServer(addr string, broker *events.Broker, logger *log.Logger) func() {
	tracker := rest.NewTracker(broker)
	server := rest.NewServer(addr, tracker)

	go func() {
		logger.Info("Status server listening", "addr", addr)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Status server failed", "error", err)
		}
	}()

	return func() {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()
		if err := server.Stop(shutdownCtx); err != nil {
			logger.Warn("Status server shutdown", "error", err)
		}
		tracker.Close()
	}
}
