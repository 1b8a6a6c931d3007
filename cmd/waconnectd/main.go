package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"waconnect/internal/app"
	"waconnect/internal/app/adminserver"
	"waconnect/internal/app/config"
	"waconnect/internal/app/server"
	"waconnect/internal/domain/connstate"
	"waconnect/internal/domain/sessionkey"
	"waconnect/internal/pool"
	"waconnect/pkg/logger"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}

	log := logger.Setup(cfg).WithComponent("main")
	log.WithFields(map[string]interface{}{
		"env":  cfg.App.Env,
		"port": cfg.App.Port,
	}).Info().Msg("starting waconnect")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	container, err := app.NewContainer(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal().Msg("failed to initialize container")
	}

	if err := container.Start(ctx); err != nil {
		log.WithError(err).Fatal().Msg("failed to start container")
	}

	recoverSessions(ctx, container, log)

	admin := adminserver.New(container.Pool, log)
	httpSrv := server.New(container.Admin.Addr, admin, log)

	go func() {
		if err := httpSrv.Start(); err != nil {
			log.WithError(err).Fatal().Msg("admin server failed")
		}
	}()

	log.Info().Msg("waconnect started successfully")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info().Msg("shutdown signal received")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpSrv.Stop(shutdownCtx); err != nil {
		log.WithError(err).Error().Msg("error during admin server shutdown")
	}
	if err := container.Close(); err != nil {
		log.WithError(err).Error().Msg("error during container shutdown")
	}

	log.Info().Msg("waconnect stopped")
}

// recoverSessions re-attaches every session whose projection row is
// not marked deleted and whose phase is not disconnected or failed,
// whichever instance wrote the row, so a restart resumes ownership
// instead of leaving the session dangling until an operator
// re-triggers it.
func recoverSessions(ctx context.Context, container *app.Container, log logger.Logger) {
	statuses, err := container.State.ListActive(ctx)
	if err != nil {
		log.WithError(err).Error().Msg("failed to list active projections for recovery")
		return
	}

	recovered := 0
	for _, status := range statuses {
		if connstate.Phase(status.Phase).IsTerminal() {
			continue
		}

		key, err := sessionkey.Parse(status.SessionKey)
		if err != nil {
			log.WithError(err).WithField("sessionKey", status.SessionKey).Warn().Msg("skipping unparseable session key during recovery")
			continue
		}

		err = container.Pool.Attach(ctx, pool.AttachOptions{
			Key:           key,
			ExistingWaJID: status.WaJID,
		})
		if err != nil {
			log.WithError(err).WithField("sessionKey", status.SessionKey).Warn().Msg("failed to reattach session during recovery")
			continue
		}
		recovered++
	}

	log.WithField("count", recovered).Info().Msg("recovered sessions from previous run")
}
