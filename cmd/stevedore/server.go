package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kargohq/stevedore/internal/analyst"
	"github.com/kargohq/stevedore/internal/api"
	"github.com/kargohq/stevedore/internal/blobstore"
	"github.com/kargohq/stevedore/internal/config"
	"github.com/kargohq/stevedore/internal/orchestrator"
	"github.com/kargohq/stevedore/internal/storage"
	"github.com/kargohq/stevedore/internal/worker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the stevedore server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show stevedore system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "stevedore version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logLevel := slog.LevelInfo
	if strings.EqualFold(os.Getenv("STEVEDORE_LOG_LEVEL"), "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

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

	analystClient := analyst.New(cfg.Analyst.BaseURL, cfg.Analyst.APIKey)
	blobClient := blobstore.New(cfg.Analyst.BlobBaseURL, cfg.Analyst.APIKey)
	orc := orchestrator.New(analystClient, blobClient, store, store, slog.Default())

	appHandler := api.NewAppHandler(api.AppDeps{
		Importer: orc,
		Store:    store,
		Token:    cfg.Server.APIKey,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: appHandler,
	}

	// Start the job status sync worker.
	w := worker.NewWorker(store, analystClient, cfg.Worker.PollInterval)
	go w.Run(ctx)

	// MCP server on stdio, so agents can drive imports directly.
	mcpSrv := api.NewMCPServer(api.MCPDeps{Importer: orc, Store: store})
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	slog.Info("MCP server started (stdio transport)")

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "stevedore listening on %s\n", addr)
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

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	analystResp, err := client.Get(cfg.Analyst.BaseURL + "/health")
	if err != nil {
		printStatus("Analysis service", "unreachable at %s", cfg.Analyst.BaseURL)
	} else {
		analystResp.Body.Close()
		printStatus("Analysis service", "reachable at %s", cfg.Analyst.BaseURL)
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
