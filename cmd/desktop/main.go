// Package main provides the local HTTP server for desktop platforms.
// Desktop clients communicate via REST/WebSocket on localhost:8090.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/fieldsync/backend/cmd/desktop/handlers"
	"github.com/kimhsiao/fieldsync/backend/internal/config"
	"github.com/kimhsiao/fieldsync/backend/internal/logging"
	"github.com/kimhsiao/fieldsync/backend/internal/services"
)

const shutdownTimeout = 10 * time.Second

// newMux registers the desktop API routes.
func newMux(rt *services.Runtime, hub *WSHub) *http.ServeMux {
	syncHandler := handlers.NewSyncHandler(rt.Sync, rt)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok","service":"fieldsync-desktop"}`))
	})

	mux.HandleFunc("/api/sync/status", syncHandler.GetStatus)
	mux.HandleFunc("/api/sync/enqueue", syncHandler.Enqueue)
	mux.HandleFunc("/api/sync/force", syncHandler.ForceSync)
	mux.HandleFunc("/api/sync/clear-failed", syncHandler.ClearFailed)
	mux.HandleFunc("/api/sync/network", syncHandler.SetNetwork)
	mux.HandleFunc("/ws", HandleWebSocket(hub))

	return mux
}

// serve runs the engine and HTTP server until ctx is cancelled.
func serve(ctx context.Context, cfg *config.Config, ready func(addr string)) error {
	rt, err := services.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	hub := NewWSHub()
	defer hub.Stop()

	events, unsubscribe := rt.Sync.Subscribe()
	defer unsubscribe()
	go hub.Forward(ctx, events)

	if err := rt.Start(ctx); err != nil {
		return err
	}

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           newMux(rt, hub),
		ReadHeaderTimeout: 10 * time.Second,
	}
	listener, err := listen(cfg.Server.Addr)
	if err != nil {
		return err
	}
	logging.Info("FieldSync desktop server listening", map[string]interface{}{"addr": listener.Addr().String()})
	if ready != nil {
		ready(listener.Addr().String())
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logging.Warn("HTTP server shutdown incomplete", map[string]interface{}{"error": err.Error()})
	}
	logging.Info("FieldSync desktop server stopped", nil)
	return nil
}

func newRootCommand() *cobra.Command {
	var configPath, addr string

	cmd := &cobra.Command{
		Use:           "fieldsync-desktop",
		Short:         "Local sync API for the FieldSync desktop shell",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			return serve(cmd.Context(), cfg, nil)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "config file (default ./fieldsync.yaml)")
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
