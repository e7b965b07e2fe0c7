package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/meshsock/presence/config"
	"github.com/meshsock/presence/src/bus"
	"github.com/meshsock/presence/src/coordinator"
	"github.com/meshsock/presence/src/gateway"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	cfg := config.FromEnv()

	coord := coordinator.New(coordinator.Options{
		SweepInterval: cfg.SweepInterval,
		InactiveAfter: cfg.InactiveAfter,
		SendBuffer:    cfg.SendBuffer,
	}, logger)

	b := newBus(cfg.Bus, logger)
	if b != nil {
		coord.SetBus(b)
		// Bus failure is non-fatal: the worker serves its own clients
		// standalone and rejoins nothing.
		if err := b.Start(); err != nil {
			logger.Warn().Err(err).Str("bus", cfg.Bus).Msg("bus unavailable, running standalone")
			b = nil
		}
	}

	go coord.Run()

	gw := gateway.New(coord, cfg.ReadBufferSize, cfg.WriteBufferSize, logger)
	server := &fasthttp.Server{Handler: gw.Handler()}

	go func() {
		logger.Info().
			Str("addr", cfg.ListenAddr).
			Str("worker_id", coord.WorkerID()).
			Msg("presence worker listening")
		if err := server.ListenAndServe(cfg.ListenAddr); err != nil {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down")
	if err := server.Shutdown(); err != nil {
		logger.Error().Err(err).Msg("server shutdown error")
	}
	if b != nil {
		if err := b.Stop(); err != nil {
			logger.Error().Err(err).Msg("bus stop error")
		}
	}
	coord.Stop()
	coord.Cleanup()
}

func newBus(backend string, logger zerolog.Logger) bus.Bus {
	switch backend {
	case "redis":
		return bus.NewRedisBus(bus.RedisConfigFromEnv(), logger)
	case "amqp":
		return bus.NewAMQPBus(bus.AMQPConfigFromEnv(), logger)
	case "none":
		return nil
	default:
		logger.Warn().Str("bus", backend).Msg("unknown bus backend, running standalone")
		return nil
	}
}
