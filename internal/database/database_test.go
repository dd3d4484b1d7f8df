package database

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/bigkaa/dzap-backend/internal/config"
)

// setupTestDB запускает PostgreSQL в Docker-контейнере через testcontainers.
func setupTestDB(t *testing.T) *config.Config {
	t.Helper()

	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("Пропуск интеграционного теста: TEST_INTEGRATION не установлена")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		postgres.WithDatabase("dzap_test"),
		postgres.WithUsername("dzap"),
		postgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Не удалось запустить PostgreSQL контейнер: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Ошибка остановки контейнера: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Не удалось получить host контейнера: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Не удалось получить port контейнера: %v", err)
	}

	t.Setenv("DZ_STATE_DIR", t.TempDir())
	t.Setenv("DZ_DB_HOST", host)
	t.Setenv("DZ_DB_PORT", port.Port())
	t.Setenv("DZ_DB_NAME", "dzap_test")
	t.Setenv("DZ_DB_USER", "dzap")
	t.Setenv("DZ_DB_PASSWORD", "test-password")
	t.Setenv("DZ_DB_SSL_MODE", "disable")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}
	return cfg
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// TestMigrateAndConnect проверяет применение миграций и подключение.
func TestMigrateAndConnect(t *testing.T) {
	cfg := setupTestDB(t)
	ctx := context.Background()
	logger := testLogger()

	if err := Migrate(cfg, logger); err != nil {
		t.Fatalf("Migrate() ошибка: %v", err)
	}
	// повторное применение — ErrNoChange не считается ошибкой
	if err := Migrate(cfg, logger); err != nil {
		t.Fatalf("повторный Migrate() ошибка: %v", err)
	}

	pool, err := Connect(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("Connect() ошибка: %v", err)
	}
	defer pool.Close()

	for _, table := range []string{"wipe_jobs", "certificates"} {
		var exists bool
		err := pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = $1)`, table,
		).Scan(&exists)
		if err != nil {
			t.Fatalf("ошибка проверки таблицы %s: %v", table, err)
		}
		if !exists {
			t.Errorf("таблица %s не создана миграциями", table)
		}
	}

	checker := NewReadinessChecker(pool)
	if status, msg := checker.CheckReady(); status != "ok" {
		t.Errorf("CheckReady() = %s (%s), ожидалось ok", status, msg)
	}
}
