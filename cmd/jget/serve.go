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

	apphttp "jget/internal/http"
	"jget/internal/service"
	"jget/internal/storage"
)

var serveResume bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API for managing downloads",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer closeApp(a)

		if serveResume {
			resumed, err := a.registry.ResumeAll()
			if err != nil {
				logger.Warnf("resume tasks: %v", err)
			}
			logger.Infof("resumed %d downloads", len(resumed))
		}

		auth := service.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.PasswordHash, cfg.Auth.TokenTTL)
		if !auth.Enabled() {
			logger.Warn("auth jwt secret not set, api is unauthenticated")
		}

		// a nil *S3Service must not reach the handler as a non-nil interface
		var store storage.Service
		if a.storage != nil {
			store = a.storage
		}

		gin.SetMode(gin.ReleaseMode)
		router := gin.New()
		router.Use(gin.Recovery())
		apphttp.NewHandler(a.registry, store, auth, logger).RegisterRoutes(router)

		srv := &http.Server{
			Addr:    cfg.Server.Addr,
			Handler: router,
		}

		errCh := make(chan error, 1)
		go func() {
			logger.Infof("listening on %s", cfg.Server.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case <-ctx.Done():
		case err := <-errCh:
			if err != nil {
				return err
			}
		}
		logger.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warnf("http shutdown: %v", err)
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "Listen address (default 127.0.0.1:8080)")
	serveCmd.Flags().BoolVar(&serveResume, "resume", false, "Resume unfinished downloads on start")
	bindFlags(serveCmd.Flags(), map[string]string{"addr": "server.addr"})
	rootCmd.AddCommand(serveCmd)
}
