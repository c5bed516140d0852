package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"churnrisk/config"
	"churnrisk/errs"
	"churnrisk/logging"
	"churnrisk/ml"
	"churnrisk/schema"
)

const defaultConfigPath = "config.yaml"

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		var cfgErr *errs.ConfigurationError
		if errors.As(err, &cfgErr) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:           "churnrisk",
		Short:         "Churn probability scoring service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to config.yaml")
	cmd.AddCommand(newServeCommand(&configPath))
	cmd.AddCommand(newScoreCommand(&configPath))
	cmd.AddCommand(newSchemaCommand(&configPath))
	cmd.AddCommand(newRunsCommand(&configPath))
	return cmd
}

// app holds what every subcommand loads at startup.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	registry *schema.Registry
	model    *ml.Pipeline
}

// loadConfig reads path; a missing file at the default location falls back
// to built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path == defaultConfigPath {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return config.DefaultConfig(), nil
		}
	}
	return config.Load(path)
}

func loadApp(configPath string) (*app, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, errs.Configf("config", configPath, "log: %v", err)
	}

	registry, err := schema.Load(cfg.Artifacts.SchemaPath)
	if err != nil {
		return nil, err
	}
	model, err := ml.LoadModel(cfg.Artifacts.ModelPath, registry)
	if err != nil {
		return nil, err
	}

	info := model.Info()
	logger.Info("artifacts loaded",
		zap.String("schema", cfg.Artifacts.SchemaPath),
		zap.Int("fields", registry.Len()),
		zap.String("model", info.Name),
		zap.String("model_version", info.Version),
		zap.String("model_type", info.Type),
		zap.String("sha256", info.SHA256))
	return &app{cfg: cfg, logger: logger, registry: registry, model: model}, nil
}
