// The main file of Beacon.

package main

import (
	"Beacon/internal/auth"
	"Beacon/internal/config"
	"Beacon/internal/metrics"
	"Beacon/internal/registry"
	"Beacon/internal/relay"
	"Beacon/pkg/cleanup"
	"Beacon/pkg/db"
	"Beacon/pkg/log"
	"Beacon/pkg/middlewares"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
)

// Indicates the current version of Beacon.
var Version = "1.0.0"

func main() {
	ctx := context.Background()
	logger := log.New(Version)

	if len(os.Getenv("ENV")) == 0 {
		logger.Fatal().Err(errors.New("os couldn't load ENV.")).Msg("")
	}
	logger.Info().Msg(fmt.Sprintf("Welcome to Beacon: v%s", Version))
	logger.Info().Msg(fmt.Sprintf("Beacon Environment: %s", os.Getenv("ENV")))

	// Load and validate the full gateway configuration
	cfg := config.LoadConfig(ctx, logger)

	// This is the preferred mode used by gin server in DEV environment
	if cfg.Env == "DEV" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	// Connecting to the durable log, failure here is fatal so the supervisor restarts us
	dbConnWrp := db.NewDbConnection(ctx, logger)
	if dberr := dbConnWrp.CheckDbConnection(ctx, logger); dberr != nil {
		logger.Fatal().Err(dberr).Msg("Redis client couldn't PING the redis-server.")
	}

	// Wiring the gateway components together
	metricsRepo := metrics.NewRepository(dbConnWrp)
	regService := registry.NewService(metricsRepo, logger)
	authService := auth.NewService(cfg.JWTSecret, cfg.TokenCookie, logger)
	relayRepo := relay.NewRepository(dbConnWrp, cfg.LogKeyPrefix, cfg.GlobalLogName)
	relayService := relay.NewService(relayRepo, regService, metricsRepo, logger)
	monitor := relay.NewMonitor(regService, cfg.PingInterval, cfg.PongTimeout, logger)

	// Background loops: the global log tailer and the liveness sweep
	loopCtx, stopLoops := context.WithCancel(ctx)
	go relayService.Tail(loopCtx)
	go monitor.Run(loopCtx)

	// Initializing the gin server.
	server := gin.New()

	// Forcing gin to use custom Logger instead of the default one.
	server.Use(log.LoggerGinExtension(logger))
	server.Use(gin.Recovery())
	server.Use(middlewares.CorrelationMiddleware())
	server.Use(middlewares.CORSMiddleware("*"))

	// Running Router() which routes the health probe and the websocket front door.
	Router(server, authService, regService, relayService, logger)

	// Running the server with defined addr and port.
	srv := &http.Server{
		Addr:    cfg.SrvAddr + ":" + cfg.SrvPort,
		Handler: server,
	}

	// ListenAndServe is a blocking operation, putting it a goroutine
	go func() {
		logger.Info().Msg(fmt.Sprintf("Beacon gateway running at: %s", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Error in ListenAndServe()")
		}
	}()

	// Graceful shutdown of Beacon server triggered due to system interruptions.
	wait := cleanup.GracefulShutdown(ctx, logger, 5*time.Second, map[string]cleanup.Operation{
		"Background-loops": func(ctx context.Context) error {
			stopLoops()
			return nil
		},
		"Redis-server": func(ctx context.Context) error {
			return dbConnWrp.CloseDbConnection(ctx)
		},
		"Gin": func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
	<-wait
}
