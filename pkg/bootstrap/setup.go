package bootstrap

import (
	"fmt"
	"os"

	"enrollsync/internal/config"
	"enrollsync/internal/logger"
	"enrollsync/pkg/logging"
)

// Setup loads the config named by the --config flag or CONFIG_FILE and
// builds the logger from it. Failures before the logger exists go to
// stderr through the early log.
func Setup(configFile string) (*config.Config, logger.Logger, error) {
	earlyLog := logging.NewEarlyLog()

	if configFile == "" {
		configFile = os.Getenv("CONFIG_FILE")
	}
	if configFile == "" {
		earlyLog.Warn("Config file is required. Use --config flag or CONFIG_FILE environment variable")
		return nil, nil, fmt.Errorf("config file is required")
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		earlyLog.Warn("Failed to load config: %v", err)
		return nil, nil, err
	}

	log, err := logger.NewWithFormat(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		earlyLog.Warn("Failed to init logger: %v", err)
		return nil, nil, err
	}

	return cfg, log, nil
}
