package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/bluesky-social/banword/automod"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	slogecho "github.com/samber/slog-echo"
	cli "github.com/urfave/cli/v2"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
)

// collectors register globally, so the middleware is built once per process
var promMiddleware = sync.OnceValue(func() echo.MiddlewareFunc {
	return echoprometheus.NewMiddleware("banword")
})

type Server struct {
	echo   *echo.Echo
	httpd  *http.Server
	engine *automod.Engine
	logger *slog.Logger
}

var serveCmd = &cli.Command{
	Name:  "serve",
	Usage: "run the moderation HTTP service",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "bind",
			Usage:   "IP or address, and port, to listen on for HTTP APIs",
			Value:   ":3997",
			EnvVars: []string{"BANWORD_BIND"},
		},
		&cli.StringFlag{
			Name:    "metrics-listen",
			Usage:   "IP or address, and port, to listen on for metrics APIs",
			Value:   ":3996",
			EnvVars: []string{"BANWORD_METRICS_LISTEN"},
		},
		&cli.StringFlag{
			Name:    "slack-webhook-url",
			Usage:   "full URL of slack webhook which receives moderation reports",
			EnvVars: []string{"SLACK_WEBHOOK_URL"},
		},
		&cli.BoolFlag{
			Name:    "delete-matched",
			Usage:   "mark every message with a banned phrase for deletion",
			EnvVars: []string{"BANWORD_DELETE_MATCHED"},
		},
	},
	Action: func(cctx *cli.Context) error {
		logger := slog.Default()

		shutdownOTEL, err := configOTEL("banword")
		if err != nil {
			return err
		}
		defer shutdownOTEL()

		config := automod.EngineConfig{
			Logger:        logger,
			DeleteMatched: cctx.Bool("delete-matched"),
		}
		if u := cctx.String("slack-webhook-url"); u != "" {
			config.Notifier = automod.NewSlackNotifier(u, logger)
		}
		eng, closeStores, err := configureEngine(cctx, config)
		if err != nil {
			return err
		}
		defer func() {
			if err := closeStores(); err != nil {
				logger.Error("failed to close stores", "err", err)
			}
		}()

		srv := NewServer(eng, logger, cctx.String("bind"))

		go func() {
			if err := RunMetrics(cctx.String("metrics-listen")); err != nil {
				slog.Error("failed to start metrics endpoint", "error", err)
				panic(fmt.Errorf("failed to start metrics endpoint: %w", err))
			}
		}()

		return srv.Run()
	},
}

func NewServer(eng *automod.Engine, logger *slog.Logger, bind string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	e := echo.New()

	// httpd
	var (
		httpTimeout        = 1 * time.Minute
		httpMaxHeaderBytes = 1 * (1024 * 1024)
	)

	srv := &Server{
		echo:   e,
		engine: eng,
		logger: logger,
	}
	srv.httpd = &http.Server{
		Handler:        srv,
		Addr:           bind,
		WriteTimeout:   httpTimeout,
		ReadTimeout:    httpTimeout,
		MaxHeaderBytes: httpMaxHeaderBytes,
	}

	e.HideBanner = true
	e.Use(slogecho.New(logger))
	e.Use(middleware.Recover())
	e.Use(otelecho.Middleware("banword"))
	e.Use(promMiddleware())
	e.Use(middleware.BodyLimit("1M"))
	e.HTTPErrorHandler = srv.errorHandler

	e.GET("/_health", srv.HandleHealthCheck)

	e.POST("/v1/messages", srv.HandleProcessMessage)
	e.POST("/v1/detect", srv.HandleDetect)
	e.GET("/v1/scores/:scope/:subject", srv.HandleGetScore)
	e.DELETE("/v1/scores/:scope/:subject", srv.HandleResetScore)
	e.GET("/v1/phrases/:scope", srv.HandleListPhrases)
	e.PUT("/v1/phrases/:scope", srv.HandleSetPhrase)
	e.DELETE("/v1/phrases/:scope", srv.HandleRemovePhrase)
	e.GET("/v1/scopes/:scope/enabled", srv.HandleGetScopeEnabled)
	e.PUT("/v1/scopes/:scope/enabled", srv.HandleSetScopeEnabled)

	return srv
}

// Run serves HTTP until the process receives SIGINT or SIGTERM.
func (srv *Server) Run() error {
	srv.logger.Info("starting server", "bind", srv.httpd.Addr)
	failed := make(chan error, 1)
	go func() {
		if err := srv.httpd.ListenAndServe(); err != nil {
			if !errors.Is(err, http.ErrServerClosed) {
				srv.logger.Error("HTTP server shutting down unexpectedly", "err", err)
				failed <- err
			}
		}
	}()

	// Wait for a signal to exit.
	srv.logger.Info("registering OS exit signal handler")
	exitSignals := make(chan os.Signal, 1)
	signal.Notify(exitSignals, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-exitSignals:
		srv.logger.Info("received OS exit signal", "signal", sig)
	case err := <-failed:
		return err
	}

	if err := srv.Shutdown(); err != nil {
		srv.logger.Error("HTTP server shutdown error", "err", err)
	}
	srv.logger.Info("graceful shutdown complete")
	return nil
}

func RunMetrics(listen string) error {
	http.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(listen, nil)
}

func (srv *Server) ServeHTTP(rw http.ResponseWriter, req *http.Request) {
	srv.echo.ServeHTTP(rw, req)
}

func (srv *Server) Shutdown() error {
	srv.logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.httpd.Shutdown(ctx)
}
