package bootstrap

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/sync/errgroup"
)

// Loop is a named background task that runs until its context is cancelled.
type Loop struct {
	Name string
	Run  func(ctx context.Context) error
}

// NewRouter returns a gin engine with recovery, tracing, health and the metrics endpoint mounted.
func (i *Infra) NewRouter(service string) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(service))
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "postgres": i.Durable()})
	})
	router.GET("/metrics", gin.WrapH(i.Metrics.Handler()))
	return router
}

// Serve runs handler on addr alongside loops. The first loop to fail cancels the rest; the
// HTTP server is drained within the configured shutdown timeout. A nil handler runs loops only.
func (i *Infra) Serve(ctx context.Context, addr string, handler http.Handler, loops ...Loop) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, loop := range loops {
		loop := loop
		g.Go(func() error {
			i.Logger.Info("loop started", slog.String("loop", loop.Name))
			err := loop.Run(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				i.Logger.Error("loop exited", slog.String("loop", loop.Name), slog.String("error", err.Error()))
				return err
			}
			i.Logger.Info("loop stopped", slog.String("loop", loop.Name))
			return nil
		})
	}
	if handler != nil {
		srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
		g.Go(func() error {
			i.Logger.Info("http server listening", slog.String("addr", addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				i.Logger.Error("http server exited", slog.String("addr", addr), slog.String("error", err.Error()))
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), i.Config.ShutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}
	return g.Wait()
}
