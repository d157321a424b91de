package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
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
	"golang.org/x/sync/errgroup"

	"github.com/financevibe/fdv/internal/api"
	"github.com/financevibe/fdv/internal/enrich"
	"github.com/financevibe/fdv/internal/freshness"
	"github.com/financevibe/fdv/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the read API and score queued articles in the background",
	RunE: func(cmd *cobra.Command, args []string) error {
		withMCP, _ := cmd.Flags().GetBool("mcp")
		withEnrich, _ := cmd.Flags().GetBool("enrich")
		return runServer(cmd.Context(), withMCP, withEnrich)
	},
}

func init() {
	serveCmd.Flags().Bool("mcp", false, "also serve MCP over stdin/stdout")
	serveCmd.Flags().Bool("enrich", true, "run the sentiment worker")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "fdv.pid")
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

func runServer(parent context.Context, withMCP, withEnrich bool) error {
	fmt.Fprintf(os.Stderr, "fdv version %s\n", version)

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()
	cfg := a.cfg

	if cfg.Server.APIToken == "" {
		printWarning("server.api_token is not set; every endpoint except /health answers 503")
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	if state := serverState(parent, cfg); state != "stopped" {
		if pid, err := readPIDFile(pidPath); err == nil {
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer os.Remove(pidPath)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	todayFn := func() freshness.Date {
		d, _ := today("")
		return d
	}

	handler := api.NewHandler(api.Deps{
		Store: a.store,
		Gate:  a.gate,
		Token: cfg.Server.APIToken,
		Today: todayFn,
	})
	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("fdv listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		fmt.Fprintln(os.Stderr, "shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if withEnrich {
		if n, err := a.store.RequeueRunningJobs([]string{storage.JobNewsSentiment}); err != nil {
			slog.Warn("requeueing interrupted jobs failed", "error", err)
		} else if n > 0 {
			slog.Info("requeued interrupted jobs", "count", n)
		}
		worker := enrich.NewWorker(a.store, nil, cfg.Enrich.PollInterval)
		g.Go(func() error {
			worker.Run(gCtx)
			return nil
		})
	}

	if withMCP {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Store:  a.store,
			Gate:   a.gate,
			Policy: freshnessPolicy(cfg.Freshness),
			Today:  todayFn,
		}, version)
		stdio := server.NewStdioServer(mcpSrv)
		g.Go(func() error {
			if err := stdio.Listen(gCtx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
			return nil
		})
		slog.Info("MCP server started (stdio transport)")
	}

	return g.Wait()
}
