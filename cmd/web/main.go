package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cbtengine/internal/app"
	"cbtengine/internal/db"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "cbtengine",
		Short:        "Timed exam session engine for school CBT",
		SilenceUsage: true,
	}

	serve := serveCmd()
	root.AddCommand(serve, migrateCmd(), importCmd(), exportCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func commonFlags(f *pflag.FlagSet) {
	f.String("db-driver", db.DriverSQLite, "Database driver (pgx, sqlite)")
	f.String("db-dsn", "cbtengine.db", "Database DSN or SQLite path")
	f.Int("db-max-open-conns", 25, "Maximum open database connections")
	f.Int("db-max-idle-conns", 25, "Maximum idle database connections")
	f.Int("db-conn-max-lifetime-minutes", 30, "Connection lifetime in minutes")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP exam server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	commonFlags(f)
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("app-env", "development", "Application environment name")
	f.Bool("csrf-enforced", false, "Require the double-submit CSRF token on mutations")
	f.Int("start-rate-limit-per-minute", 30, "Session starts allowed per client IP per minute")
	f.StringSlice("cors-origins", nil, "Allowed CORS origins (repeatable)")
	f.Duration("create-wait", 2*time.Second, "Longest wait for the session create write (0 = wait until done)")
	f.Duration("submit-wait", 3*time.Second, "Longest wait for the submission write (0 = wait until done)")
	f.Duration("write-timeout", 30*time.Second, "Hard limit for a write that outlived its wait")
	f.Duration("monitor-interval", time.Second, "Deadline check interval")
	f.Duration("deadline-grace", 5*time.Second, "Allowed clock skew around the deadline")
	return cmd
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE:  runMigrate,
	}
	commonFlags(cmd.Flags())
	return cmd
}

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import [file...]",
		Short: "Import question bank JSON files",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runImport,
	}
	commonFlags(cmd.Flags())
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export exam results as JSON or xlsx",
		RunE:  runExport,
	}
	f := cmd.Flags()
	commonFlags(f)
	f.String("exam-id", "", "Exam to export (required)")
	f.String("format", "json", "Output format (json, xlsx)")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	_ = cmd.MarkFlagRequired("exam-id")
	return cmd
}

func setupLogging(v *viper.Viper) *slog.Logger {
	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	logger := slog.New(logHandler)
	slog.SetDefault(logger)
	return logger
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("CBT")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("cbtengine")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/cbtengine")
	v.AddConfigPath("/etc/cbtengine")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func runServe(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)
	logger := setupLogging(v)
	cfg := app.LoadConfig(v)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := db.Open(ctx, cfg.DB())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer conn.Close()
	if err := db.Migrate(ctx, conn); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	a := app.Build(cfg, conn, logger)
	defer a.Close()

	resumed, err := a.Exams.ResumeMonitors(ctx)
	if err != nil {
		return fmt.Errorf("resume deadline monitors: %w", err)
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           a.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server",
			"addr", cfg.HTTPAddr,
			"env", cfg.AppEnv,
			"db_driver", cfg.DBDriver,
			"resumed_monitors", resumed,
			"create_wait", cfg.CreateWait,
			"submit_wait", cfg.SubmitWait,
			"deadline_grace", cfg.DeadlineGrace,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server stopped: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)
	logger := setupLogging(v)
	cfg := app.LoadConfig(v)

	conn, err := db.Open(cmd.Context(), cfg.DB())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer conn.Close()

	if err := db.Migrate(cmd.Context(), conn); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	logger.Info("schema up to date", "db_driver", cfg.DBDriver)
	return nil
}

func runImport(cmd *cobra.Command, args []string) error {
	v := viperForCmd(cmd)
	logger := setupLogging(v)
	cfg := app.LoadConfig(v)
	ctx := cmd.Context()

	conn, err := db.Open(ctx, cfg.DB())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer conn.Close()
	if err := db.Migrate(ctx, conn); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	a := app.Build(cfg, conn, logger)
	defer a.Close()

	for _, path := range args {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open %s: %w", path, err)
		}
		items, err := a.Questions.ImportJSON(ctx, f)
		_ = f.Close()
		if err != nil {
			return fmt.Errorf("import %s: %w", path, err)
		}
		logger.Info("imported questions", "path", path, "count", len(items))
	}
	return nil
}

func runExport(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)
	logger := setupLogging(v)
	cfg := app.LoadConfig(v)
	ctx := cmd.Context()

	conn, err := db.Open(ctx, cfg.DB())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer conn.Close()

	a := app.Build(cfg, conn, logger)
	defer a.Close()

	examID := v.GetString("exam-id")
	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	switch strings.ToLower(v.GetString("format")) {
	case "xlsx":
		raw, err := a.Reports.ExportXLSX(ctx, examID)
		if err != nil {
			return fmt.Errorf("export xlsx: %w", err)
		}
		if _, err := w.Write(raw); err != nil {
			return fmt.Errorf("write output: %w", err)
		}
	case "json", "":
		if err := a.Reports.ExportJSON(ctx, examID, w); err != nil {
			return fmt.Errorf("export json: %w", err)
		}
	default:
		return fmt.Errorf("unsupported format %q", v.GetString("format"))
	}
	logger.Info("exported results", "exam_id", examID, "output", outPath)
	return nil
}
