package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pavelanni/lexeval/internal/client"
	"github.com/pavelanni/lexeval/internal/handler"
	appI18n "github.com/pavelanni/lexeval/internal/i18n"
	"github.com/pavelanni/lexeval/internal/model"
	"github.com/pavelanni/lexeval/internal/questions"
	"github.com/pavelanni/lexeval/internal/store"
	"github.com/pavelanni/lexeval/internal/tui"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "lexeval",
		Short: "Blind side-by-side evaluation of edited legal-knowledge models",
	}

	serve := serveCmd()
	root.AddCommand(serve, rateCmd(), exportCmd(), questionsCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `lexeval --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

// addStoreFlags registers the flags that select and configure the storage backend.
func addStoreFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringP("backend", "b", string(model.BackendFile), "Response storage backend (memory, file, sqlite, postgres)")
	f.String("data-dir", "data", "Directory for the file backend")
	f.String("db", "lexeval.db", "SQLite database path")
	f.String("database-url", "", "PostgreSQL connection string (postgres backend)")
	f.StringSliceP("questions", "q", []string{"questions/legal_en.json"}, "Paths to questions JSON or YAML files (repeatable)")
	f.Bool("strict-read", true, "File backend: fail reads on malformed lines instead of skipping them")
	f.Bool("fsync", false, "File backend: fsync after every append")
}

func addLogFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP evaluation server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.StringP("lang", "l", "en", "Default language for API messages (en, ru)")
	addStoreFlags(cmd)
	addLogFlags(cmd)
	return cmd
}

func rateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rate",
		Short: "Rate answers in the terminal against a running server",
		RunE:  runRate,
	}
	f := cmd.Flags()
	f.StringP("server", "s", "http://localhost:8080", "Base URL of the lexeval server")
	f.StringP("user", "u", "", "Rater ID (prompted for when empty)")
	f.StringP("lang", "l", "en", "Interface language (en, ru)")
	f.String("log-file", "", "Write logs to this file (logs are discarded otherwise)")
	addLogFlags(cmd)
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export stored responses as JSON",
		RunE:  runExport,
	}
	addStoreFlags(cmd)
	addLogFlags(cmd)
	cmd.Flags().StringP("output", "o", "-", "Output file path (- for stdout)")
	return cmd
}

func questionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "questions [file...]",
		Short: "Validate questions files and list what they contain",
		RunE:  runQuestions,
	}
	f := cmd.Flags()
	f.StringSliceP("questions", "q", []string{"questions/legal_en.json"}, "Paths to questions JSON or YAML files (repeatable)")
	addLogFlags(cmd)
	return cmd
}

func setupLogging(cmd *cobra.Command, w io.Writer) {
	v := viperForCmd(cmd)

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
		logHandler = slog.NewJSONHandler(w, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(w, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("LEXEVAL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("lexeval")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/lexeval")
	v.AddConfigPath("/etc/lexeval")
	v.AddConfigPath("/data")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Debug("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func storeConfig(v *viper.Viper) model.StoreConfig {
	return model.StoreConfig{
		Backend:     model.Backend(strings.ToLower(strings.TrimSpace(v.GetString("backend")))),
		DataDir:     v.GetString("data-dir"),
		DBPath:      v.GetString("db"),
		DatabaseURL: v.GetString("database-url"),
		StrictRead:  v.GetBool("strict-read"),
		Fsync:       v.GetBool("fsync"),
	}
}

// openStore loads the configured questions files and opens the configured backend.
func openStore(ctx context.Context, v *viper.Viper) (store.Storage, model.StoreConfig, error) {
	files, err := questions.Load(v.GetStringSlice("questions"))
	if err != nil {
		return nil, model.StoreConfig{}, fmt.Errorf("load questions: %w", err)
	}
	cfg := storeConfig(v)
	s, err := store.Open(ctx, cfg, files)
	if err != nil {
		return nil, cfg, fmt.Errorf("open %s store: %w", cfg.Backend, err)
	}
	return s, cfg, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd, os.Stderr)
	v := viperForCmd(cmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	s, cfg, err := openStore(ctx, v)
	if err != nil {
		return err
	}
	defer s.Close()

	h, err := handler.New(s)
	if err != nil {
		return fmt.Errorf("create handler: %w", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware(lang))
	h.Routes(r)

	addr := v.GetString("addr")
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	count := 0
	if qs, err := s.ListQuestions(ctx); err == nil {
		count = len(qs)
	}
	slog.Info("starting server",
		"addr", addr,
		"backend", cfg.Backend,
		"questions", count,
		"lang", lang,
	)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runRate(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)

	// The terminal belongs to the UI, so logs go to a file or nowhere.
	var logOut io.Writer = io.Discard
	if path := v.GetString("log-file"); path != "" {
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer f.Close()
		logOut = f
	}
	setupLogging(cmd, logOut)

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	api := client.New(v.GetString("server"))
	if err := api.Health(ctx); err != nil {
		return fmt.Errorf("server %s is not reachable: %w", v.GetString("server"), err)
	}
	slog.Info("connected", "server", api.BaseURL)

	return tui.Run(appI18n.ForLanguage(ctx, lang), api, tui.WithUser(v.GetString("user")))
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd, os.Stderr)
	v := viperForCmd(cmd)
	ctx := context.Background()

	s, cfg, err := openStore(ctx, v)
	if err != nil {
		return err
	}
	defer s.Close()

	results, numQuestions, err := store.Export(ctx, s)
	if err != nil {
		return fmt.Errorf("export responses: %w", err)
	}

	export := model.ResponseExport{
		GeneratedAt:  time.Now().UTC(),
		Backend:      cfg.Backend,
		NumQuestions: numQuestions,
		Results:      results,
	}

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

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

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	_, _ = fmt.Fprintln(w)

	slog.Info("exported responses", "count", len(results), "output", outPath)
	return nil
}

func runQuestions(cmd *cobra.Command, args []string) error {
	setupLogging(cmd, os.Stderr)
	v := viperForCmd(cmd)

	paths := args
	if len(paths) == 0 {
		paths = v.GetStringSlice("questions")
	}
	files, err := questions.Load(paths)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tANSWERS\tFILE\tPROMPT")
	for _, f := range files {
		for _, q := range f.Questions {
			fmt.Fprintf(tw, "%d\t%d\t%s\t%s\n", q.ID, len(q.Candidates), f.Path, truncate(q.Prompt, 60))
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "\n%d questions in %d files\n", len(questions.Flatten(files)), len(files))
	return nil
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
