package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/jamesprial/zone-migrate/internal/auth"
	"github.com/jamesprial/zone-migrate/internal/config"
	"github.com/jamesprial/zone-migrate/internal/migrate"
	"github.com/jamesprial/zone-migrate/internal/tools"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "expose the migration operations as MCP tools over HTTP",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := buildApp()
		if err != nil {
			return err
		}
		defer app.close()
		return runServe(app)
	},
}

func runServe(app *app) error {
	cfg := app.cfg

	tokenBefore := cfg.Server.AuthToken
	token, err := config.EnsureAuthToken(cfg)
	if err != nil {
		log.Printf("warning: could not generate auth token: %v — running without authentication", err)
	} else if tokenBefore == "" {
		log.Printf("generated auth token (set ZMIGRATE_AUTH_TOKEN to persist): %s", token)
	}

	mcpServer := server.NewMCPServer(
		"zone-migrate",
		"1.0.0",
		server.WithToolCapabilities(false),
	)

	registrations := migrate.Tools(app.orchestrator, app.confirm, app.audit, cfg.SnapshotName)
	tools.RegisterAll(mcpServer, registrations)

	httpHandler := server.NewStreamableHTTPServer(mcpServer)
	authMiddleware := auth.NewAuthMiddleware(cfg.Server.AuthToken)
	wrappedHandler := authMiddleware(httpHandler)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           wrappedHandler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Graceful shutdown on SIGINT / SIGTERM.
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		log.Printf("zmigrate serving on %s", addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("HTTP server error: %w", err)
	case <-stop:
	}
	log.Println("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(ctx); err != nil {
		log.Printf("graceful shutdown error: %v", err)
	}
	log.Println("server stopped")
	return nil
}
