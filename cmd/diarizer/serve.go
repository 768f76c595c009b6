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

	"github.com/lokutor-ai/lokutor-diarizer/pkg/diarization"
	"github.com/lokutor-ai/lokutor-diarizer/pkg/transport"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the websocket protocol",
	Long: `Listen for websocket connections on server.addr. Every connection is one
conversation with its own engine; profiles come from the configured store.

Examples:
  diarizer serve
  DIARIZER_SERVER_ADDR=:9000 diarizer serve`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, a)
	},
}

func serve(ctx context.Context, a *app) error {
	handler := transport.NewHandler(a.cfg.Transport(), func(conversationID string) *diarization.Engine {
		return a.engine(a.logger.With("conversationID", conversationID))
	}, a.logger)

	mux := http.NewServeMux()
	mux.Handle("/ws", handler)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{
		Addr:              a.cfg.Server.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	a.logger.Info("websocket server started", "addr", a.cfg.Server.Addr, "owner", a.cfg.Store.Owner)
	fmt.Println(styles.Title.Render("Serving ws://" + a.cfg.Server.Addr + "/ws"))

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	a.logger.Info("shutting down")
	return srv.Shutdown(shutdownCtx)
}
