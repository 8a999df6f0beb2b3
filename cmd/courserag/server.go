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

	"github.com/kalambet/courserag/internal/api"
	"github.com/kalambet/courserag/internal/config"
	"github.com/kalambet/courserag/internal/ingest"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server (or the MCP stdio server with --mcp)",
	RunE: func(cmd *cobra.Command, args []string) error {
		mcpFlag, _ := cmd.Flags().GetBool("mcp")
		watch, _ := cmd.Flags().GetDuration("watch")
		return runServer(mcpFlag, watch)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running courserag server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show courserag system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().Bool("mcp", false, "serve the tools over MCP on stdio instead of HTTP (overrides server.mcp)")
	serveCmd.Flags().Duration("watch", 0, "rescan the documents directory at this interval (0 disables)")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "courserag.pid")
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

func runServer(mcpFlag bool, watch time.Duration) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.RequireAPIKey(); err != nil {
		return err
	}
	setupLogging(cfg.Log.Level)

	useMCP := mcpFlag || cfg.Server.MCP
	if !useMCP {
		fmt.Fprintf(os.Stderr, "courserag version %s\n", version)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	// Index the documents directory on startup.
	if cfg.Docs.Dir != "" {
		if _, err := os.Stat(cfg.Docs.Dir); err == nil {
			courses, chunks, err := a.service.AddCourseFolder(ctx, cfg.Docs.Dir, false)
			if err != nil {
				slog.Warn("loading course documents failed", "dir", cfg.Docs.Dir, "error", err)
			} else {
				slog.Info("loaded course documents", "dir", cfg.Docs.Dir, "courses", courses, "chunks", chunks)
			}
		} else {
			slog.Warn("documents directory not found", "dir", cfg.Docs.Dir)
		}
	}

	if watch > 0 && cfg.Docs.Dir != "" {
		worker := ingest.NewWorker(a.service, cfg.Docs.Dir, watch).WithLogger(slog.Default())
		go worker.Run(ctx)
	}

	if useMCP {
		return serveMCP(ctx, a)
	}
	return serveHTTP(ctx, cfg, a)
}

func serveMCP(ctx context.Context, a *app) error {
	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Tools:    a.registry,
		Catalog:  a.service,
		Answerer: a.service,
	})
	slog.Info("MCP server started (stdio transport)")
	stdioSrv := server.NewStdioServer(mcpSrv)
	if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("MCP stdio server: %w", err)
	}
	return nil
}

func serveHTTP(ctx context.Context, cfg config.Config, a *app) error {
	// Check if a server is already running via the health endpoint.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("courserag is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("courserag is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	handler := api.NewAppHandler(api.AppDeps{
		Service: a.service,
		Token:   cfg.Server.APIToken,
		Logger:  slog.Default(),
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "courserag listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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
		printError("courserag is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop courserag (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to courserag (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	client := &http.Client{Timeout: 2 * time.Second}
	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	running := false
	if resp, err := client.Get(serverURL + "/health"); err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			running = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	if resp, err := client.Get(cfg.Ollama.BaseURL + "/api/version"); err != nil {
		printStatus("Ollama", "not running")
	} else {
		resp.Body.Close()
		printStatus("Ollama", "running at %s", cfg.Ollama.BaseURL)
	}

	printStatus("Model", "%s", cfg.Anthropic.Model)
	printStatus("Embed model", "%s", cfg.Ollama.EmbedModel)
	if cfg.Anthropic.APIKey == "" {
		printStatus("API key", "missing")
	} else {
		printStatus("API key", "set")
	}

	if running {
		c := newAPIClientFor(cfg)
		if resp, err := c.get(ctx, "/api/courses"); err == nil {
			var stats struct {
				TotalCourses int `json:"total_courses"`
			}
			if decodeJSON(resp, &stats) == nil {
				printStatus("Courses", "%d", stats.TotalCourses)
			}
		}
	}

	printStatus("Docs dir", "%s", cfg.Docs.Dir)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
