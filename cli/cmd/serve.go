package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/BDNK1/scriptval/runtime"
)

var (
	serveAddr       string
	shutdownTimeout time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the validator over HTTP",
	Long: `Serve exposes the validator to a remote host driver:

  POST ` + runtime.ValidatePath + `  validate one work unit
  GET  ` + runtime.HealthPath + `                 engine and file context statistics

Requests are validated one at a time against a single script runtime.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "Listen address")
	serveCmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 10*time.Second, "Grace period for in-flight requests")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	app, stop, err := bootstrap(ctx, configPath, cmd.ErrOrStderr(), abortOptions...)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              serveAddr,
		Handler:           newRouter(app),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		app.Logger.Info("Listening", "addr", serveAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()

	app.Logger.Info("Shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		app.Logger.Error("HTTP server shutdown failed", "error", err)
	}
	if err := stop(shutdownCtx); err != nil {
		app.Logger.Error("Shutdown failed", "error", err)
	}

	if serveErr != nil {
		return fmt.Errorf("serving on %s: %w", serveAddr, serveErr)
	}
	return nil
}

func newRouter(app *runtime.App) *gin.Engine {
	g := gin.New()
	g.Use(gin.Recovery())
	runtime.NewHTTPHandler(app, g)
	return g
}
