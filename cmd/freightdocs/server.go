package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/net/netutil"

	"github.com/kalambet/freightdocs/internal/api"
	"github.com/kalambet/freightdocs/internal/auth"
	"github.com/kalambet/freightdocs/internal/autofill"
	"github.com/kalambet/freightdocs/internal/blob"
	"github.com/kalambet/freightdocs/internal/config"
	"github.com/kalambet/freightdocs/internal/extract"
	"github.com/kalambet/freightdocs/internal/ingest"
	"github.com/kalambet/freightdocs/internal/ollama"
	"github.com/kalambet/freightdocs/internal/proxy"
	"github.com/kalambet/freightdocs/internal/reaper"
	"github.com/kalambet/freightdocs/internal/storage"
)

var serveMCP bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the freightdocs server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer(serveMCP)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running freightdocs server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server, extraction and job queue status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveMCP, "mcp", false, "also serve MCP tools over stdin/stdout")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "freightdocs.pid")
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

func newBlobStore(ctx context.Context, cfg config.Config) (blob.Store, error) {
	if cfg.Blob.Backend == "s3" {
		return blob.NewS3Store(ctx, blob.S3Config{
			Endpoint:  cfg.S3.Endpoint,
			Bucket:    cfg.S3.Bucket,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			UseSSL:    cfg.S3.UseSSL,
		})
	}
	return blob.NewDiskStore(cfg.Blob.Dir)
}

func newExtractor(ctx context.Context, cfg config.Config) (extract.Extractor, error) {
	switch cfg.Extract.Provider {
	case config.ProviderOpenRouter:
		return extract.NewOpenRouter(proxy.NewClient(cfg.OpenRouter.APIKey), cfg.Extract.Model), nil
	case config.ProviderOllama:
		client := ollama.New(cfg.Ollama.BaseURL)
		if err := ollama.EnsureReady(ctx, client, cfg.Extract.Model, os.Stderr); err != nil {
			return nil, err
		}
		return extract.NewOllama(client, cfg.Extract.Model), nil
	case config.ProviderPDFText:
		return extract.PDFText{}, nil
	}
	return extract.Disabled{}, nil
}

func newUploadLimiter(ctx context.Context, cfg config.Config) (*api.RateLimiter, func()) {
	if cfg.Redis.URL == "" || cfg.RateLimit.UploadsPerMinute <= 0 {
		return nil, func() {}
	}
	counter, err := api.NewRedisCounter(ctx, cfg.Redis.URL)
	if err != nil {
		slog.Warn("upload rate limiting disabled", "error", err)
		return nil, func() {}
	}
	slog.Info("upload rate limiting enabled", "per_minute", cfg.RateLimit.UploadsPerMinute)
	return api.NewRateLimiter(counter, cfg.RateLimit.UploadsPerMinute, time.Minute), func() { counter.Close() }
}

// workerGrace is added to the extraction timeout when waiting for
// in-flight tasks on shutdown.
const workerGrace = 5 * time.Second

type jobRunner interface {
	Run(ctx context.Context)
}

// startWorker runs w in the background. The returned channel is closed
// once Run has returned, which happens after its in-flight tasks finish.
func startWorker(ctx context.Context, w jobRunner) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()
	return done
}

// waitForWorker blocks until done is closed or timeout elapses and
// reports whether the worker finished.
func waitForWorker(done <-chan struct{}, timeout time.Duration) bool {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-done:
		return true
	case <-t.C:
		return false
	}
}

func runServer(withMCP bool) error {
	fmt.Fprintf(os.Stderr, "freightdocs version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logLevel, err := cfg.Log.SlogLevel()
	if err != nil {
		return err
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	// Refuse to start twice on the same port.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("freightdocs is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("freightdocs is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	blobs, err := newBlobStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("opening blob store: %w", err)
	}

	extractor, err := newExtractor(ctx, cfg)
	if err != nil {
		return fmt.Errorf("preparing extractor: %w", err)
	}
	slog.Info("extraction provider", "provider", cfg.Extract.Provider, "model", cfg.Extract.Model)

	pipeline := ingest.New(store, blobs, extractor, cfg.Storage.SpoolPath(), cfg.Extract.Timeout)
	merger := autofill.NewMerger(store, store)

	worker := ingest.NewWorker(pipeline, cfg.Extract.Concurrency, cfg.Extract.PollInterval)
	workerDone := startWorker(ctx, worker)
	// Runs before the storage close above and after the reaper stop below.
	defer func() {
		stop()
		if !waitForWorker(workerDone, cfg.Extract.Timeout+workerGrace) {
			slog.Warn("extraction tasks still running at shutdown", "waited", cfg.Extract.Timeout+workerGrace)
		}
	}()

	rp := reaper.New(store, cfg.Reaper.Interval, cfg.Reaper.StaleAfter)
	if err := rp.Start(ctx); err != nil {
		return fmt.Errorf("starting reaper: %w", err)
	}
	defer rp.Stop()

	limiter, closeLimiter := newUploadLimiter(ctx, cfg)
	defer closeLimiter()

	handler := api.NewAppHandler(api.AppDeps{
		Pipeline:  pipeline,
		Merger:    merger,
		Shipments: store,
		Auth:      auth.NewStoreResolver(store),
		Limiter:   limiter,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	ln = netutil.LimitListener(ln, cfg.Server.MaxConnections)
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if withMCP {
		mcpSrv := api.NewMCPServer(api.MCPDeps{Pipeline: pipeline, Merger: merger}, version)
		stdioSrv := server.NewStdioServer(mcpSrv)
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "freightdocs listening on %s\n", addr)
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
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
		printError("freightdocs is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop freightdocs (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to freightdocs (PID %d)", pid)
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
		switch resp.StatusCode {
		case http.StatusOK:
			printStatus("Server", "running on port %d", cfg.Server.Port)
		case http.StatusServiceUnavailable:
			printStatus("Server", "degraded (database disconnected)")
		default:
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("Provider", "%s", cfg.Extract.Provider)
	if cfg.Extract.Model != "" {
		printStatus("Model", "%s", cfg.Extract.Model)
	}
	if cfg.Extract.Provider == config.ProviderOllama {
		if ollama.New(cfg.Ollama.BaseURL).IsRunning(context.Background()) {
			printStatus("Ollama", "running at %s", cfg.Ollama.BaseURL)
		} else {
			printStatus("Ollama", "not running")
		}
	}
	printStatus("Blob backend", "%s", cfg.Blob.Backend)

	store, err := storage.Open(cfg.Storage.DataDir)
	if err == nil {
		defer store.Close()
		counts, err := store.CountJobsByStatus(context.Background())
		if err == nil {
			printStatus("Jobs", "%d pending, %d processing, %d completed, %d failed",
				counts[storage.JobPending], counts[storage.JobProcessing],
				counts[storage.JobCompleted], counts[storage.JobFailed])
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
