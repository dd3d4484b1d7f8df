package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/bigkaa/dzap-backend/internal/api/handlers"
	"github.com/bigkaa/dzap-backend/internal/api/middleware"
	"github.com/bigkaa/dzap-backend/internal/api/openapi"
	"github.com/bigkaa/dzap-backend/internal/blockdev"
	"github.com/bigkaa/dzap-backend/internal/certificate"
	"github.com/bigkaa/dzap-backend/internal/config"
	"github.com/bigkaa/dzap-backend/internal/database"
	"github.com/bigkaa/dzap-backend/internal/events"
	"github.com/bigkaa/dzap-backend/internal/health"
	"github.com/bigkaa/dzap-backend/internal/inventory"
	"github.com/bigkaa/dzap-backend/internal/repository"
	"github.com/bigkaa/dzap-backend/internal/server"
	"github.com/bigkaa/dzap-backend/internal/service"
	"github.com/bigkaa/dzap-backend/internal/stationlock"
	"github.com/bigkaa/dzap-backend/internal/storage/certindex"
	"github.com/bigkaa/dzap-backend/internal/storage/certstore"
	"github.com/bigkaa/dzap-backend/internal/storage/journal"
	"github.com/bigkaa/dzap-backend/internal/sysexec"
	"github.com/bigkaa/dzap-backend/internal/wipe"
	"github.com/bigkaa/dzap-backend/internal/wipe/strategy"
)

const (
	// journalEvery — период записи позиции задания в журнал.
	journalEvery = 5 * time.Second
	// maxIOBackoff — верхняя граница паузы между повторами ввода-вывода.
	maxIOBackoff = 2 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Запустить HTTP API станции",
	Long: `Запускает HTTP API и фоновые сервисы станции. Параметры задаются
переменными окружения DZ_*.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	// Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("ошибка конфигурации: %w", err)
	}

	logger := config.SetupLogger(cfg)
	logger.Info("dzap-backend запускается",
		slog.String("version", config.Version),
		slog.String("addr", cfg.Addr()),
		slog.String("state_dir", cfg.StateDir),
		slog.Bool("tls", cfg.TLSEnabled()),
	)

	if cfg.RequireRoot && os.Geteuid() != 0 {
		return errors.New("для доступа к блочным устройствам требуются права root (DZ_REQUIRE_ROOT=false отключает проверку)")
	}

	// --- Инициализация компонентов ---

	// 1. Блокировка станции
	lock, err := stationlock.Acquire(cfg.StateDir, cfg.Addr(), logger)
	if err != nil {
		return err
	}
	defer lock.Release()

	// 2. Журнал заданий и хранилище сертификатов
	jrnl, err := journal.New(cfg.JournalDir(), logger)
	if err != nil {
		return fmt.Errorf("ошибка инициализации журнала: %w", err)
	}
	store, err := certstore.New(cfg.CertificatesDir(), logger)
	if err != nil {
		return fmt.Errorf("ошибка инициализации хранилища сертификатов: %w", err)
	}

	// 3. Ключ подписи и выпуск сертификатов
	signer, created, err := certificate.LoadOrCreate(cfg.SigningKey)
	if err != nil {
		return fmt.Errorf("ошибка загрузки ключа подписи: %w", err)
	}
	if created {
		logger.Warn("Создан новый ключ подписи станции",
			slog.String("path", cfg.SigningKey),
		)
	}
	issuer, err := certificate.NewIssuer(store, certindex.New(logger), signer, certificate.Options{
		Standard: cfg.PolicyStandard,
		Operator: cfg.OperatorID,
		Validity: cfg.CertValidity,
	}, logger)
	if err != nil {
		return fmt.Errorf("ошибка построения индекса сертификатов: %w", err)
	}

	// 4. Устройства, события, движок затирания
	runner := sysexec.New(cfg.IONice, logger)
	inv := inventory.New(runner, logger)
	hub := events.NewHub(logger)
	coalescer := events.NewCoalescer(hub, cfg.ProgressInterval, logger)

	strat := strategy.DefaultConfig()
	strat.WriteUnit = cfg.WriteUnit
	strat.Retries = cfg.IORetries
	strat.Backoff = cfg.IOBackoff
	strat.MaxBackoff = maxIOBackoff
	strat.Heartbeat = cfg.ProgressInterval

	engine := wipe.New(inv, blockdev.DirectOpener{}, runner, jrnl, hub, coalescer, wipe.Config{
		Strategy:            strat,
		DefaultVerification: cfg.Verification,
		ArchiveSize:         cfg.JobArchiveSize,
		ArchiveTTL:          cfg.JobArchiveTTL,
		JournalEvery:        journalEvery,
	}, logger)
	assessor := health.New(inv, engine, runner, cfg.HealthTimeout, logger)

	inv.SetBusyChecker(engine)
	issuer.SetJobSource(engine)
	engine.SetIssuer(issuer)

	// 5. Восстановление прерванных заданий
	recovered, err := engine.Recover()
	if err != nil {
		logger.Error("Ошибка восстановления заданий из журнала",
			slog.String("error", err.Error()),
		)
	} else if recovered > 0 {
		logger.Info("Задания восстановлены из журнала", slog.Int("count", recovered))
	}

	// --- Фоновые сервисы ---
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	coalescer.Start(ctx)
	defer coalescer.Stop()

	expiry := service.NewExpiryService(issuer, jrnl, cfg.JournalRetention, cfg.ExpiryInterval, logger)
	expiry.Start(ctx)
	defer expiry.Stop()

	audit := service.NewAuditService(issuer, cfg.AuditInterval, logger)
	audit.Start(ctx)
	defer audit.Stop()

	var deps []handlers.DependencyChecker
	if cfg.LedgerEnabled() {
		if err := database.Migrate(cfg, logger); err != nil {
			return fmt.Errorf("ошибка миграций реестра: %w", err)
		}
		pool, err := database.Connect(ctx, cfg, logger)
		if err != nil {
			return fmt.Errorf("ошибка подключения к реестру: %w", err)
		}
		defer pool.Close()

		station, _ := os.Hostname()
		if station == "" {
			station = cfg.OperatorID
		}
		ledger := service.NewLedgerSync(repository.NewLedgerRepository(pool, station), engine, issuer, cfg.LedgerInterval, logger)
		ledger.Start(ctx)
		defer ledger.Stop()

		deps = append(deps, database.NewReadinessChecker(pool))
	} else {
		logger.Info("Реестр PostgreSQL не настроен, выгрузка отключена")
	}

	// --- HTTP ---
	doc, err := openapi.Load()
	if err != nil {
		return fmt.Errorf("ошибка загрузки OpenAPI-описания: %w", err)
	}
	validator, err := middleware.OpenAPIValidator(doc, logger)
	if err != nil {
		return fmt.Errorf("ошибка инициализации валидатора запросов: %w", err)
	}

	apiHandler := handlers.NewAPIHandler(
		handlers.NewDrivesHandler(inv, assessor),
		handlers.NewWipeHandler(engine),
		handlers.NewCertificatesHandler(issuer),
		handlers.NewMaintenanceHandler(audit),
		handlers.NewEventsHandler(hub, events.DefaultBuffer, logger),
		handlers.NewHealthHandler([]string{cfg.JournalDir(), cfg.CertificatesDir()}, issuer.Index(), deps...),
		handlers.NewMetricsHandler(),
	)

	srv := server.New(cfg, logger, apiHandler,
		middleware.CORS(),
		middleware.RequestLogger(logger),
		middleware.MetricsMiddleware(),
		validator,
	)
	// Подписчики /ws получают закрытие при остановке сервера
	srv.OnShutdown(hub.Close)

	runErr := srv.Run(ctx)

	// Активные задания прерываются, позиция остаётся в журнале
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := engine.Shutdown(shutdownCtx); err != nil {
		logger.Error("Ошибка остановки движка затирания",
			slog.String("error", err.Error()),
		)
	}

	logger.Info("dzap-backend остановлен")
	return runErr
}
