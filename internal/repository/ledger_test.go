package repository

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/bigkaa/dzap-backend/internal/config"
	"github.com/bigkaa/dzap-backend/internal/database"
	"github.com/bigkaa/dzap-backend/internal/domain/model"
)

// setupTestDB запускает PostgreSQL контейнер и применяет миграции.
func setupTestDB(t *testing.T) *pgxpool.Pool {
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

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	if err := database.Migrate(cfg, logger); err != nil {
		t.Fatalf("Ошибка миграций: %v", err)
	}

	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("Ошибка подключения: %v", err)
	}
	t.Cleanup(func() { pool.Close() })

	return pool
}

func TestLedgerJobUpsert(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewLedgerRepository(pool, "station-1")

	created := time.Now().UTC().Add(-time.Minute)
	job := model.WipeJob{
		ID:           uuid.NewString(),
		DeviceID:     "/dev/sdb",
		DeviceSerial: "WD-123",
		DeviceModel:  "WDC WD10",
		DeviceType:   model.ClassHDD,
		Method:       "overwrite_1_pass",
		Status:       model.JobRunning,
		TotalPasses:  1,
		Extent:       1 << 30,
		CreatedAt:    created,
		StartedAt:    &created,
		Verification: model.Verification{Mode: model.VerifyNone},
	}

	if err := repo.UpsertJob(ctx, job); err != nil {
		t.Fatalf("UpsertJob() ошибка: %v", err)
	}

	finished := time.Now().UTC()
	job.Status = model.JobCompleted
	job.Outcome = model.OutcomeSuccess
	job.FinishedAt = &finished
	job.CertificateID = uuid.NewString()
	if err := repo.UpsertJob(ctx, job); err != nil {
		t.Fatalf("повторный UpsertJob() ошибка: %v", err)
	}

	got, err := repo.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob() ошибка: %v", err)
	}
	if got.Status != "completed" || got.Outcome != "success" {
		t.Errorf("после обновления: status=%q outcome=%q", got.Status, got.Outcome)
	}
	if got.CertificateID == nil || *got.CertificateID != job.CertificateID {
		t.Errorf("CertificateID = %v, хотели %s", got.CertificateID, job.CertificateID)
	}
	if got.FinishedAt == nil {
		t.Error("FinishedAt не записан")
	}
	if got.Station != "station-1" {
		t.Errorf("Station = %q, хотели station-1", got.Station)
	}

	if _, err := repo.GetJob(ctx, uuid.NewString()); err != ErrNotFound {
		t.Errorf("ожидали ErrNotFound, получили: %v", err)
	}
}

func TestLedgerCertificateUpsert(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewLedgerRepository(pool, "station-1")

	now := time.Now().UTC()
	cert := &model.Certificate{
		ID:           uuid.NewString(),
		JobID:        uuid.NewString(),
		Device:       model.DeviceSnapshot{ID: "/dev/sdb", Serial: "WD-123", Model: "WDC WD10", Type: model.ClassHDD, Size: 1 << 30},
		Method:       "overwrite_1_pass",
		Standard:     "NIST SP 800-88 Rev.1",
		Operator:     "op",
		StartedAt:    now.Add(-time.Hour),
		FinishedAt:   now,
		Status:       model.CertValid,
		IssuedAt:     now,
		EvidenceHash: "ab12",
		Signature:    "c2ln",
		PublicKey:    "-----BEGIN PUBLIC KEY-----",
	}

	if err := repo.UpsertCertificate(ctx, cert); err != nil {
		t.Fatalf("UpsertCertificate() ошибка: %v", err)
	}

	cert.Status = model.CertRevoked
	cert.RevokedAt = &now
	cert.RevocationReason = "ошибка оператора"
	if err := repo.UpsertCertificate(ctx, cert); err != nil {
		t.Fatalf("повторный UpsertCertificate() ошибка: %v", err)
	}

	got, err := repo.GetCertificate(ctx, cert.ID)
	if err != nil {
		t.Fatalf("GetCertificate() ошибка: %v", err)
	}
	if got.Status != "revoked" || got.RevocationReason != "ошибка оператора" {
		t.Errorf("после отзыва: status=%q reason=%q", got.Status, got.RevocationReason)
	}
	if got.EvidenceHash != "ab12" || got.JobID != cert.JobID {
		t.Errorf("неизменяемые поля изменились: %+v", got)
	}
}
