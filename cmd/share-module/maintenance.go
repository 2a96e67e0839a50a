package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/bigkaa/goartstore/share-module/internal/config"
	"github.com/bigkaa/goartstore/share-module/internal/database"
	"github.com/bigkaa/goartstore/share-module/internal/service"
)

// errSweepFailed — сверка или очистка завершилась с ошибками по отдельным объектам.
var errSweepFailed = errors.New("операция завершена с ошибками, подробности в логе")

func newReconcileCommand(opts *rootOptions) *cobra.Command {
	var dryRun, verbose bool

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Однократная сверка метаданных и blob-хранилища",
		Long: "Удаляет истёкшие файлы, blob-ы без записей и помечает удалёнными записи без blob-ов. " +
			"С --dry-run только сообщает, что было бы сделано.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			st, err := openStores(cmd.Context(), cfg, logger, false)
			if err != nil {
				return err
			}
			defer st.Close()

			svc, err := newServices(cfg, st, logger)
			if err != nil {
				return err
			}

			report, _ := svc.reconcile.RunOnce(cmd.Context(), service.ReconcileOptions{
				DryRun:  dryRun,
				Verbose: verbose,
			})
			if err := writeReport(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			if report.HasErrors() {
				return errSweepFailed
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "только отчёт, без изменений")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "включить в отчёт список объектов")
	return cmd
}

func newPurgeCommand(opts *rootOptions) *cobra.Command {
	var (
		dryRun    bool
		retention time.Duration
	)

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Окончательно удалить записи, удалённые раньше срока хранения",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			st, err := openStores(cmd.Context(), cfg, logger, false)
			if err != nil {
				return err
			}
			defer st.Close()

			svc, err := newServices(cfg, st, logger)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("retention") {
				if retention <= 0 {
					return fmt.Errorf("--retention должен быть положительным, получено %s", retention)
				}
				svc.purge.SetRetention(retention)
			}

			report, _ := svc.purge.RunOnce(cmd.Context(), dryRun)
			if err := writeReport(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			if report.Errors > 0 {
				return errSweepFailed
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "только отчёт, без изменений")
	cmd.Flags().DurationVar(&retention, "retention", 0, "срок хранения удалённых записей (по умолчанию SM_PURGE_RETENTION)")
	return cmd
}

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	var down bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Применить или откатить миграции схемы метаданных",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			return runMigrate(cmd, cfg, logger, down)
		},
	}

	cmd.Flags().BoolVar(&down, "down", false, "откатить последнюю миграцию (только PostgreSQL)")
	return cmd
}

func runMigrate(cmd *cobra.Command, cfg *config.Config, logger *slog.Logger, down bool) error {
	if cfg.DBDriver == config.DriverSQLite {
		if down {
			return errors.New("откат миграций для SQLite не поддерживается")
		}
		// Схема SQLite приводится к актуальной при открытии репозитория
		st, err := openStores(cmd.Context(), cfg, logger, false)
		if err != nil {
			return err
		}
		st.Close()
		fmt.Fprintln(cmd.OutOrStdout(), "Схема SQLite актуальна")
		return nil
	}

	if down {
		if err := database.Rollback(cfg, logger); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Последняя миграция откачена")
		return nil
	}
	if err := database.Migrate(cfg, logger); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Миграции применены")
	return nil
}

func newStatsCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Показать статистику хранилища",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			st, err := openStores(cmd.Context(), cfg, logger, false)
			if err != nil {
				return err
			}
			defer st.Close()

			svc, err := newServices(cfg, st, logger)
			if err != nil {
				return err
			}
			stats, err := svc.admin.Stats(cmd.Context())
			if err != nil {
				return err
			}
			return writeReport(cmd.OutOrStdout(), stats)
		},
	}
}

// writeReport печатает отчёт в формате JSON с отступами.
func writeReport(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
