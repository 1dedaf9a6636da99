// Command schedulerctl is the interactive console for the message scheduler.
// It uses the same configuration as the HTTP service.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/LeventeLantos/scheduled-messaging/internal/app"
	"github.com/LeventeLantos/scheduled-messaging/internal/cli"
	"github.com/LeventeLantos/scheduled-messaging/internal/config"
	"github.com/LeventeLantos/scheduled-messaging/internal/logging"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadAll()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	// Logs go to stderr so they do not interleave with prompts.
	logger := logging.Setup(os.Stderr, cfg.Log.Level, true)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("startup failed")
	}
	defer a.Close()

	// Closing stdin unblocks a pending prompt on interrupt.
	go func() {
		<-ctx.Done()
		_ = os.Stdin.Close()
	}()

	// The scheduler is started with the "start" command.
	shell := cli.New(a.Service, a.Scheduler, os.Stdin, os.Stdout)
	if err := shell.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("console stopped")
	}
}
