package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/tobyspark/ORBIT-Camera-sub000/internal/buildinfo"
	"github.com/tobyspark/ORBIT-Camera-sub000/internal/collector/cli"
	"github.com/tobyspark/ORBIT-Camera-sub000/internal/collector/config"
	"github.com/tobyspark/ORBIT-Camera-sub000/internal/logging"
)

func main() {

	buildinfo.PrintBuildData(os.Stdout)

	cfg, err := config.LoadConfig(os.Args[1:])
	if err != nil {
		log.Fatalf("%v", err)
	}

	logger, closer, err := logging.New(logging.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		File:   cfg.LogFile,
	}, os.Stderr)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := cli.NewApp(ctx, cfg, logger)
	if err != nil {
		logger.Error(ctx, "startup failed", "error", err)
		return
	}
	defer app.Close()

	if err := app.Run(ctx); err != nil {
		logger.Error(ctx, "collector stopped", "error", err)
	}
}
