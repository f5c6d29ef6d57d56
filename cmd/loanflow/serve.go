package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dusk-indust/loanflow/internal/api"
)

func newServeCmd(a *cli) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the intake HTTP API",
		Long: `Serve the JSON session API and the Server-Sent Events assessment stream.
Idle sessions are removed in the background after session.ttl.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if addr == "" {
				addr = a.cfg.Server.Addr
			}

			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()
			svc, err := a.openService(store)
			if err != nil {
				return err
			}

			gin.SetMode(gin.ReleaseMode)
			srv := &http.Server{
				Addr:              addr,
				Handler:           api.NewRouter(svc, a.log),
				ReadHeaderTimeout: 10 * time.Second,
				IdleTimeout:       120 * time.Second,
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				a.log.Info("http server listening", "addr", addr, "store", a.cfg.Session.Driver)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				a.log.Info("shutting down http server")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
			g.Go(func() error {
				return svc.RunCleanup(gctx, a.cfg.Session.CleanupInterval, a.cfg.Session.TTL)
			})
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default server.addr)")
	return cmd
}
