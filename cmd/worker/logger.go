package main

import (
	"go.uber.org/zap"

	"github.com/OmarWaled21/sw-dl100-data-logger/internal/config"
	"github.com/OmarWaled21/sw-dl100-data-logger/internal/logging"
)

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.NewLogger(cfg.ServiceName)
}
