package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/goartstore/share-module/internal/config"
	"github.com/bigkaa/goartstore/share-module/internal/database"
	"github.com/bigkaa/goartstore/share-module/internal/repository"
	"github.com/bigkaa/goartstore/share-module/internal/security"
	"github.com/bigkaa/goartstore/share-module/internal/service"
	"github.com/bigkaa/goartstore/share-module/internal/storage/blobstore"
)

// stores — открытые хранилища метаданных и blob-ов.
type stores struct {
	repo      repository.FileRepository
	blobs     *blobstore.Store
	readiness *database.ReadinessChecker
	// pgDB — адаптер пула для topologymetrics; nil для SQLite
	pgDB    *sql.DB
	closers []func()
}

// openStores подключает хранилище метаданных выбранного драйвера
// и blob-хранилище. Для PostgreSQL миграции применяются при migrate=true.
func openStores(ctx context.Context, cfg *config.Config, logger *slog.Logger, migrate bool) (*stores, error) {
	s := &stores{}

	switch cfg.DBDriver {
	case config.DriverPostgres:
		if migrate {
			logger.Info("Применение миграций БД...")
			if err := database.Migrate(cfg, logger); err != nil {
				return nil, fmt.Errorf("ошибка миграций БД: %w", err)
			}
		}
		pool, err := database.Connect(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, pool.Close)

		// Проверка здоровья PostgreSQL идёт через существующий пул соединений
		s.pgDB = stdlib.OpenDBFromPool(pool)
		s.closers = append(s.closers, func() { _ = s.pgDB.Close() })

		s.repo = repository.NewFileRepository(pool)
		s.readiness = database.NewReadinessChecker(pool)

	case config.DriverSQLite:
		db, err := database.OpenSQLite(ctx, cfg.SQLitePath, logger)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, func() { _ = database.CloseSQLite(db) })

		repo, err := repository.NewGormFileRepository(ctx, db)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.repo = repo
		s.readiness = database.NewSQLiteReadinessChecker(db)

	default:
		return nil, fmt.Errorf("неизвестный драйвер БД %q", cfg.DBDriver)
	}

	blobs, err := blobstore.New(cfg.DataDir)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.blobs = blobs
	return s, nil
}

// Close освобождает ресурсы в обратном порядке.
func (s *stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

// services — сервисный слой поверх хранилищ.
type services struct {
	cache     *service.CacheService
	ingest    *service.IngestService
	access    *service.AccessService
	retrieval *service.RetrievalService
	reconcile *service.ReconcileService
	purge     *service.PurgeService
	admin     *service.AdminService
	adminAuth *service.AdminAuthService
}

func newServices(cfg *config.Config, s *stores, logger *slog.Logger) (*services, error) {
	hasher := security.NewBcryptHasher(cfg.BcryptCost)
	cache := service.NewCacheService(cfg.CacheSize, cfg.CacheTTL)

	ingest, err := service.NewIngestService(s.repo, s.blobs, hasher, cfg.MaxFileSize, cfg.StorageSalt, logger)
	if err != nil {
		return nil, err
	}
	if cfg.StorageSalt == "" {
		logger.Warn("SM_STORAGE_SALT не задана, используется случайная соль")
	}

	accessSvc := service.NewAccessService(s.repo, s.blobs, cache, hasher, logger)
	return &services{
		cache:     cache,
		ingest:    ingest,
		access:    accessSvc,
		retrieval: service.NewRetrievalService(accessSvc, s.repo, s.blobs, cache, logger),
		reconcile: service.NewReconcileService(s.repo, s.blobs, cache, cfg.ReconcileInterval, cfg.OrphanGrace, logger),
		purge:     service.NewPurgeService(s.repo, s.blobs, cfg.PurgeRetention, cfg.PurgeInterval, logger),
		admin:     service.NewAdminService(s.repo, s.blobs, cache, logger),
		adminAuth: service.NewAdminAuthService(hasher, cfg.AdminPasswordHash, cfg.AdminTokenSecret, cfg.AdminTokenTTL, logger),
	}, nil
}
