package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
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
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/persona/internal/api"
	"github.com/kalambet/persona/internal/chat"
	"github.com/kalambet/persona/internal/config"
	"github.com/kalambet/persona/internal/ingest"
	"github.com/kalambet/persona/internal/logging"
	"github.com/kalambet/persona/internal/metrics"
	"github.com/kalambet/persona/internal/profile"
	"github.com/kalambet/persona/internal/storage"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the persona server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		withMCP, _ := cmd.Flags().GetBool("mcp")
		rebuild, _ := cmd.Flags().GetBool("rebuild")
		return runServer(withMCP, rebuild)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running persona server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show persona server status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func init() {
	startCmd.Flags().Bool("mcp", false, "also serve MCP tools over stdio")
	startCmd.Flags().Bool("rebuild", false, "rebuild every user's preferences on startup")
}

const shutdownTimeout = 5 * time.Second

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "persona.pid")
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

func runServer(withMCP, rebuild bool) error {
	fmt.Fprintf(os.Stderr, "persona version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.Auth.APIToken == "" {
		logger.Warn("PERSONA_API_TOKEN is not set; user creation is unauthenticated")
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get("http://" + cfg.Addr() + "/health"); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("persona is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("persona is already running on %s", cfg.Addr())
		return fmt.Errorf("server already running on %s", cfg.Addr())
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
			logger.Warn("closing storage", zap.Error(err))
		}
	}()

	m := metrics.New()
	agg := profile.NewAggregator(store, logger.Named("aggregator"), m)
	profiles := profile.NewManagerWithClock(store, agg, nil, cfg.Profile.CacheTTL, logger.Named("profile"), m)
	processor := ingest.NewProcessor(store, profiles, logger.Named("ingest"), m)
	chatMgr := chat.NewManager(store, profiles, cfg.Chat.MaxResults, logger.Named("chat"), m)

	if rebuild {
		n, err := profiles.RebuildAll(ctx, cfg.Pipeline.RebuildConcurrency)
		if err != nil {
			logger.Warn("startup rebuild incomplete", zap.Int("rebuilt", n), zap.Error(err))
		} else {
			logger.Info("startup rebuild finished", zap.Int("rebuilt", n))
		}
	}

	srv := &http.Server{
		Addr: cfg.Addr(),
		Handler: api.NewAppHandler(api.AppDeps{
			Store:            store,
			Profiles:         profiles,
			Chat:             chatMgr,
			Processor:        processor,
			Metrics:          m,
			Logger:           logger.Named("api"),
			Token:            cfg.Auth.APIToken,
			SessionListLimit: cfg.Chat.SessionListLimit,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("listening", zap.String("addr", cfg.Addr()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		ingest.NewWorker(processor, cfg.Pipeline.BatchSize, cfg.Pipeline.PollInterval, logger.Named("worker")).Run(gctx)
		return nil
	})

	if withMCP {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Profiles:      profiles,
			Chat:          chatMgr,
			DefaultUserID: cfg.Client.UserID,
		})
		g.Go(func() error {
			logger.Info("MCP server started (stdio transport)")
			err := server.NewStdioServer(mcpSrv).Listen(gctx, os.Stdin, os.Stdout)
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("MCP stdio server error", zap.Error(err))
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
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
		printError("persona is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop persona (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to persona (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	client, err := newAPIClient()
	if err != nil {
		return err
	}
	client.httpClient.Timeout = 2 * time.Second

	resp, err := client.get(ctx, "/health")
	running := err == nil
	if !running {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			printStatus("Server", "running on %s", cfg.Addr())
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
			running = false
		}
	}

	if running && client.userID != "" {
		printStatus("User", "%s", client.userID)
		if resp, err := client.get(ctx, fmt.Sprintf("/records?limit=%d", statusRecordLimit)); err == nil {
			var records []json.RawMessage
			if decodeJSON(resp, &records) == nil {
				printStatus("Records", "%s", countLabel(len(records), statusRecordLimit))
			}
		}
		if resp, err := client.get(ctx, fmt.Sprintf("/chat/sessions?limit=%d", statusRecordLimit)); err == nil {
			var sessions []json.RawMessage
			if decodeJSON(resp, &sessions) == nil {
				printStatus("Chat sessions", "%s", countLabel(len(sessions), statusRecordLimit))
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

const statusRecordLimit = 100

func countLabel(count, limit int) string {
	if count >= limit {
		return fmt.Sprintf("%d+", count)
	}
	return strconv.Itoa(count)
}
