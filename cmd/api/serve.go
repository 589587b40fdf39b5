package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"consult-platform/internal/auth"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

func newServeCommand() *cobra.Command {
	var shutdownTimeout time.Duration

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Root context that cancels on shutdown
			rootCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(rootCtx)
			if err != nil {
				return err
			}
			defer a.Close()
			log := a.log

			if a.cfg.IsProduction() {
				gin.SetMode(gin.ReleaseMode)
			}

			authManager, err := auth.NewManager(a.cfg.Auth)
			if err != nil {
				return err
			}

			srv := &http.Server{
				Addr:              a.cfg.HTTPAddr(),
				Handler:           newRouter(a, authManager),
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       15 * time.Second,
				WriteTimeout:      30 * time.Second,
				IdleTimeout:       60 * time.Second,
			}

			go func() {
				log.Info("api listening", "addr", srv.Addr, "env", a.cfg.App.Env)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("http server failed", "err", err)
					stop()
				}
			}()

			<-rootCtx.Done()
			log.Info("shutdown initiated")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Error("http shutdown failed", "err", err)
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 20*time.Second, "Maximum time to wait for graceful shutdown")
	return cmd
}
