package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/bigkaa/goartstore/share-module/internal/config"
)

// rootOptions — глобальные флаги командной строки.
type rootOptions struct {
	configFile string
	envFile    string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "share-module",
		Short:         "Share Module — обмен файлами по ссылке",
		Long:          "Сервис загрузки файлов с выдачей по ссылке, паролем и сроком хранения, сверкой хранилища и административным API.",
		SilenceErrors: true,
		SilenceUsage:  true,
		Version:       config.Version,
	}

	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "YAML-файл конфигурации")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "файл переменных окружения (отсутствие не ошибка)")

	cmd.AddCommand(
		newServeCommand(opts),
		newReconcileCommand(opts),
		newPurgeCommand(opts),
		newMigrateCommand(opts),
		newStatsCommand(opts),
		newVersionCommand(),
	)
	return cmd
}

// load читает конфигурацию и настраивает логгер.
func (o *rootOptions) load() (*config.Config, *slog.Logger, error) {
	v, err := config.NewViper(o.configFile, o.envFile)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load(v)
	if err != nil {
		return nil, nil, fmt.Errorf("ошибка загрузки конфигурации: %w", err)
	}
	return cfg, config.SetupLogger(cfg), nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Показать версию",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "share-module %s\n", config.Version)
		},
	}
}
