package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/bigkaa/goartstore/share-module/internal/api/handlers"
	"github.com/bigkaa/goartstore/share-module/internal/api/middleware"
	"github.com/bigkaa/goartstore/share-module/internal/config"
	"github.com/bigkaa/goartstore/share-module/internal/server"
	"github.com/bigkaa/goartstore/share-module/internal/service"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Запустить HTTP API и фоновые задачи",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg, logger)
		},
	}
}

func runServe(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}
	logger.Info("Share Module запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("db_driver", cfg.DBDriver),
		slog.String("data_dir", cfg.DataDir),
	)

	if cfg.DephealthGroupDefaulted {
		logger.Warn("Группа dephealth не задана, используется значение по умолчанию",
			slog.String("default", cfg.DephealthGroup),
		)
	}

	// 1. Хранилища (миграции PostgreSQL применяются при старте)
	st, err := openStores(ctx, cfg, logger, true)
	if err != nil {
		return err
	}
	defer st.Close()

	// 2. Сервисы
	svc, err := newServices(cfg, st, logger)
	if err != nil {
		return err
	}

	// 3. Аутентификация администратора
	adminAuth, err := middleware.NewAdminAuth(cfg.AdminTokenSecret, middleware.ExternalIssuer{
		JWKSURL:  cfg.AdminJWKSURL,
		Issuer:   cfg.AdminJWTIssuer,
		Audience: cfg.AdminJWTAudience,
	}, cfg.JWTLeeway, logger)
	if err != nil {
		return err
	}
	if !cfg.AdminEnabled() {
		logger.Warn("Администрирование не настроено: задайте SM_ADMIN_PASSWORD_HASH или SM_ADMIN_JWKS_URL")
	}

	if err := prometheus.Register(service.NewOpenReadersGauge(st.blobs)); err != nil {
		return err
	}

	// 4. Фоновые задачи
	bgCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	svc.reconcile.Start(bgCtx)
	defer svc.reconcile.Stop()
	svc.purge.Start(bgCtx)
	defer svc.purge.Stop()

	dh, err := service.NewDephealthService(cfg.DephealthName, cfg.DephealthGroup, service.DephealthTargets{
		DB:          st.pgDB,
		PostgresURL: cfg.DatabaseURL("postgres"),
		JWKSURL:     cfg.AdminJWKSURL,
	}, cfg.DephealthCheckInterval, logger)
	switch {
	case errors.Is(err, service.ErrNoDependencies):
		logger.Info("Мониторинг зависимостей не требуется: внешних зависимостей нет")
	case err != nil:
		return err
	default:
		if err := dh.Start(bgCtx); err != nil {
			return err
		}
		defer dh.Stop()
	}

	// 5. HTTP API
	api := handlers.NewAPIHandler(
		handlers.NewFilesHandler(svc.ingest, svc.access, svc.retrieval, logger),
		handlers.NewAdminHandler(svc.admin, svc.adminAuth, logger),
		handlers.NewMaintenanceHandler(svc.reconcile, svc.purge),
		handlers.NewHealthHandler(st.readiness, st.blobs),
		adminAuth,
	)

	srv := server.New(cfg, logger, api,
		middleware.SecurityHeaders(),
		middleware.MetricsMiddleware(),
		middleware.RequestLogger(logger),
	)

	// 6. Запуск (блокирующий вызов с graceful shutdown)
	if err := srv.Run(ctx); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Share Module остановлен")
	return nil
}
