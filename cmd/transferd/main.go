// cmd/transferd/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/presale-transfer/internal/app"
	"github.com/rovshanmuradov/presale-transfer/internal/config"
	"github.com/rovshanmuradov/presale-transfer/internal/logger"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	// .env.local перекрывает .env; отсутствие файлов не ошибка
	loadEnvFile(godotenv.Load, ".env")
	loadEnvFile(godotenv.Overload, ".env.local")

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logCfg := logger.DefaultConfig()
	logCfg.LogFile = cfg.LogFile
	logCfg.Development = cfg.DebugLogging
	log, err := logger.New(logCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg, log); err != nil {
		log.LogError("Service stopped with error", err)
		_ = log.Sync()
		os.Exit(1)
	}
	_ = log.Sync()
}

func run(cfg *config.Config, log *logger.Logger) error {
	ctx := context.Background()
	log.Info("Starting presale transfer service", zap.String("listen_addr", cfg.ListenAddr))

	runner := app.NewRunner(cfg, log.WithComponent("transferd"))
	defer runner.Shutdown()

	done := log.TrackPerformance("initialize")
	err := runner.Initialize(ctx)
	done()
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	return runner.Run(ctx)
}

func loadEnvFile(load func(...string) error, name string) {
	if err := load(name); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to load %s: %v\n", name, err)
	}
}
