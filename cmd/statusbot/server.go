package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/net/netutil"

	"github.com/kalambet/statusbot/internal/api"
	"github.com/kalambet/statusbot/internal/config"
	"github.com/kalambet/statusbot/internal/dedup"
	"github.com/kalambet/statusbot/internal/directory"
	"github.com/kalambet/statusbot/internal/ledger"
	"github.com/kalambet/statusbot/internal/messaging"
	"github.com/kalambet/statusbot/internal/ollama"
	"github.com/kalambet/statusbot/internal/pipeline"
	"github.com/kalambet/statusbot/internal/reformat"
	"github.com/kalambet/statusbot/internal/reminder"
	"github.com/kalambet/statusbot/internal/storage"
	"github.com/kalambet/statusbot/internal/transcribe"
)

var startCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"start"},
	Short:   "Start the statusbot server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running statusbot server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show statusbot system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "statusbot.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func setupLogging(level string) {
	logLevel := slog.LevelInfo
	if strings.EqualFold(level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
}

// app is the fully wired bot.
type app struct {
	handler    http.Handler
	dispatcher *pipeline.Dispatcher
	scheduler  *reminder.Scheduler
	mcp        *server.MCPServer
	closers    []io.Closer
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			slog.Warn("closing resource", "error", err)
		}
	}
}

func buildApp(ctx context.Context, cfg config.Config) (*app, error) {
	a := &app{}
	fail := func(err error) (*app, error) {
		a.Close()
		return nil, err
	}

	dir, err := directory.Load(cfg.Directory.Path)
	if err != nil {
		return fail(fmt.Errorf("loading directory: %w", err))
	}
	slog.Info("employee directory loaded", "employees", dir.Len(), "path", cfg.Directory.Path)

	schedule, err := reminder.LoadSchedule(cfg.Reminders.SchedulePath, cfg.Reminders.Timezone)
	if err != nil {
		return fail(err)
	}

	var (
		lg          ledger.Ledger
		audit       pipeline.AuditLog
		submissions api.SubmissionLog
	)
	switch cfg.Storage.LedgerBackend {
	case "sqlite":
		store, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return fail(fmt.Errorf("opening storage: %w", err))
		}
		a.closers = append(a.closers, store)
		lg = ledger.NewPersistent(store)
		audit = store
		submissions = store
	default:
		lg = ledger.NewMemory()
	}

	var guard dedup.Guard
	switch cfg.Dedup.Backend {
	case "redis":
		rg, err := dedup.NewRedisGuard(ctx, dedup.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, cfg.Dedup.Window)
		if err != nil {
			return fail(err)
		}
		a.closers = append(a.closers, rg)
		guard = rg
	default:
		guard = dedup.NewMemoryGuard(cfg.Dedup.Window, cfg.Dedup.Capacity)
	}

	slackClient := messaging.NewClient(cfg.Slack.BotToken)

	var transcriber pipeline.Transcriber
	if cfg.OpenAI.APIKey != "" {
		transcriber = transcribe.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.TranscriptionModel)
	} else {
		slog.Warn("openai.api_key not set, audio updates will not be transcribed")
	}

	reformatter, err := reformat.NewFromConfig(reformat.Config{
		Provider:         cfg.Reformat.Provider,
		OpenRouterAPIKey: cfg.Proxy.OpenRouterAPIKey,
		OpenRouterModel:  cfg.Proxy.Model,
		OllamaBaseURL:    cfg.Ollama.BaseURL,
		OllamaModel:      cfg.Ollama.Model,
	})
	if err != nil {
		return fail(err)
	}
	slog.Info("reformat providers", "order", reformatter.Providers())

	if usesOllama(reformatter.Providers()) {
		// A missing local model degrades to posting raw text.
		if err := ollama.EnsureReady(ctx, ollama.New(cfg.Ollama.BaseURL), cfg.Ollama.Model, os.Stderr); err != nil {
			slog.Warn("local model not ready", "error", err)
		}
	}

	p := pipeline.New(pipeline.Deps{
		Guard:       guard,
		Ledger:      lg,
		Directory:   dir,
		Slack:       slackClient,
		Transcriber: transcriber,
		Reformatter: reformatter,
		Audit:       audit,
	}, pipeline.Options{
		ExternalTimeout:      cfg.Pipeline.ExternalTimeout,
		TranscriptionTimeout: cfg.Pipeline.TranscriptionTimeout,
		TempDir:              cfg.Pipeline.TempDir,
	})
	a.dispatcher = pipeline.NewDispatcher(p, cfg.Pipeline.Workers, cfg.Pipeline.Workers*8)

	a.scheduler = reminder.New(schedule, dir, lg, slackClient, reminder.Options{
		GraceWindow: cfg.Reminders.GraceWindow,
		Concurrency: cfg.Reminders.Concurrency,
		SendTimeout: cfg.Pipeline.ExternalTimeout,
	})

	if cfg.Admin.Token == "" {
		slog.Warn("admin.token not set, admin endpoints disabled")
	}
	a.handler = api.NewHandler(api.Deps{
		Pipeline:      p,
		Queue:         a.dispatcher,
		Reminders:     a.scheduler,
		Ledger:        lg,
		Submissions:   submissions,
		SigningSecret: cfg.Slack.SigningSecret,
		AdminToken:    cfg.Admin.Token,
	})
	a.mcp = api.NewMCPServer(api.MCPDeps{Reminders: a.scheduler, Ledger: lg})

	return a, nil
}

func usesOllama(providers []string) bool {
	for _, p := range providers {
		if p == "ollama" {
			return true
		}
	}
	return false
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "statusbot version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level)

	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("statusbot is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("statusbot is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	a.dispatcher.Start(ctx)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := a.scheduler.Run(ctx); err != nil {
			slog.Error("reminder scheduler stopped", "error", err)
		}
	}()

	if cfg.Server.MCPStdio {
		stdioSrv := server.NewStdioServer(a.mcp)
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	if cfg.Server.MaxConns > 0 {
		ln = netutil.LimitListener(ln, cfg.Server.MaxConns)
	}

	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("statusbot listening", "addr", addr, "max_conns", cfg.Server.MaxConns)
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			serveErr = fmt.Errorf("server error: %w", err)
		}
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown", "error", err)
	}
	// In-flight updates finish before storage closes.
	a.dispatcher.Close()
	wg.Wait()
	return serveErr
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("statusbot is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop statusbot (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to statusbot (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port))
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	if dir, err := directory.Load(cfg.Directory.Path); err != nil {
		printStatus("Directory", "unavailable (%v)", err)
	} else {
		printStatus("Directory", "%d employees", dir.Len())
	}

	if schedule, err := reminder.LoadSchedule(cfg.Reminders.SchedulePath, cfg.Reminders.Timezone); err != nil {
		printStatus("Schedule", "invalid (%v)", err)
	} else if c, at, ok := schedule.Next(time.Now()); ok {
		printStatus("Next reminder", "%s at %s", c.Label, at.Format("Mon 2006-01-02 15:04 MST"))
	}

	printStatus("Reformat", "%s", cfg.Reformat.Provider)
	printStatus("Dedup", "%s (window %s)", cfg.Dedup.Backend, cfg.Dedup.Window)
	printStatus("Ledger", "%s", cfg.Storage.LedgerBackend)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
