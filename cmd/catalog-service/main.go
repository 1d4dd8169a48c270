package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/catalog/internal/app"
	"github.com/vladislavdragonenkov/catalog/internal/version"
)

func main() {
	cfg, err := app.LoadConfig()
	if err != nil {
		if errors.Is(err, app.ErrHelpWanted) {
			return
		}
		log.WithError(err).Fatal("не удалось прочитать конфигурацию")
	}
	app.ConfigureLogging(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	build := version.Current()
	log.WithFields(build.Fields()).WithFields(log.Fields{
		"http_addr":    cfg.HTTPAddr,
		"grpc_addr":    cfg.GRPCAddr,
		"metrics_addr": cfg.MetricsAddr,
		"storage":      cfg.StorageDriver,
		"instance":     cfg.InstanceID,
	}).Info("запускаем " + build.String())

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("приложение завершилось с ошибкой")
	}

	log.Info("catalog-service остановлен")
}
