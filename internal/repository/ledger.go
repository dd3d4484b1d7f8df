package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/dzap-backend/internal/domain/model"
)

// LedgerRepository — зеркало итогов заданий и сертификатов станции.
type LedgerRepository interface {
	// UpsertJob записывает итог задания (повторная запись обновляет строку).
	UpsertJob(ctx context.Context, job model.WipeJob) error
	// UpsertCertificate записывает сертификат; после выпуска меняются только поля статуса.
	UpsertCertificate(ctx context.Context, cert *model.Certificate) error
	// GetJob возвращает строку задания.
	GetJob(ctx context.Context, id string) (*JobRow, error)
	// GetCertificate возвращает строку сертификата.
	GetCertificate(ctx context.Context, id string) (*CertificateRow, error)
}

// JobRow — строка таблицы wipe_jobs.
type JobRow struct {
	ID            string
	Station       string
	DeviceID      string
	DeviceSerial  string
	Method        string
	Status        string
	Outcome       string
	ErrorKind     string
	CertificateID *string
	FinishedAt    *time.Time
}

// CertificateRow — строка таблицы certificates.
type CertificateRow struct {
	ID               string
	JobID            string
	Station          string
	Status           string
	RevocationReason string
	EvidenceHash     string
}

// ledgerRepo — реализация LedgerRepository.
type ledgerRepo struct {
	db      DBTX
	station string
}

// NewLedgerRepository создаёт репозиторий реестра. station — идентификатор
// станции, под которым записываются строки.
func NewLedgerRepository(db DBTX, station string) LedgerRepository {
	return &ledgerRepo{db: db, station: station}
}

func (r *ledgerRepo) UpsertJob(ctx context.Context, job model.WipeJob) error {
	query := `
		INSERT INTO wipe_jobs (
			id, station, device_id, device_serial, device_model, device_type,
			method, operator, status, outcome, error_kind, error,
			total_passes, extent, verification, verified, retries, certificate_id,
			created_at, started_at, finished_at, synced_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, $12,
			$13, $14, $15, $16, $17, $18,
			$19, $20, $21, now()
		)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			outcome = EXCLUDED.outcome,
			error_kind = EXCLUDED.error_kind,
			error = EXCLUDED.error,
			extent = EXCLUDED.extent,
			verified = EXCLUDED.verified,
			retries = EXCLUDED.retries,
			certificate_id = EXCLUDED.certificate_id,
			started_at = EXCLUDED.started_at,
			finished_at = EXCLUDED.finished_at,
			synced_at = now()`

	var certID *string
	if job.CertificateID != "" {
		certID = &job.CertificateID
	}

	_, err := r.db.Exec(ctx, query,
		job.ID, r.station, job.DeviceID, job.DeviceSerial, job.DeviceModel, string(job.DeviceType),
		job.Method, job.Operator, string(job.Status), string(job.Outcome), job.ErrorKind, job.Error,
		job.TotalPasses, int64(job.Extent), string(job.Verification.Mode), job.Verification.Passed, job.Retries, certID,
		job.CreatedAt, job.StartedAt, job.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("ошибка записи задания %s в реестр: %w", job.ID, err)
	}
	return nil
}

func (r *ledgerRepo) UpsertCertificate(ctx context.Context, cert *model.Certificate) error {
	query := `
		INSERT INTO certificates (
			id, job_id, station, device_serial, device_model, method, standard, operator,
			status, issued_at, expires_at, revoked_at, revocation_reason,
			evidence_hash, signature, public_key, document, synced_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8,
			$9, $10, $11, $12, $13,
			$14, $15, $16, $17, now()
		)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			expires_at = EXCLUDED.expires_at,
			revoked_at = EXCLUDED.revoked_at,
			revocation_reason = EXCLUDED.revocation_reason,
			document = EXCLUDED.document,
			synced_at = now()`

	stored := *cert
	stored.SignatureValid = false
	doc, err := json.Marshal(&stored)
	if err != nil {
		return fmt.Errorf("ошибка сериализации сертификата %s: %w", cert.ID, err)
	}

	_, err = r.db.Exec(ctx, query,
		cert.ID, cert.JobID, r.station, cert.Device.Serial, cert.Device.Model, cert.Method, cert.Standard, cert.Operator,
		string(cert.Status), cert.IssuedAt, cert.ExpiresAt, cert.RevokedAt, cert.RevocationReason,
		cert.EvidenceHash, cert.Signature, cert.PublicKey, string(doc),
	)
	if err != nil {
		return fmt.Errorf("ошибка записи сертификата %s в реестр: %w", cert.ID, err)
	}
	return nil
}

func (r *ledgerRepo) GetJob(ctx context.Context, id string) (*JobRow, error) {
	query := `
		SELECT id::text, station, device_id, device_serial, method, status, outcome,
			error_kind, certificate_id::text, finished_at
		FROM wipe_jobs
		WHERE id = $1`

	row := &JobRow{}
	err := r.db.QueryRow(ctx, query, id).Scan(
		&row.ID, &row.Station, &row.DeviceID, &row.DeviceSerial, &row.Method, &row.Status, &row.Outcome,
		&row.ErrorKind, &row.CertificateID, &row.FinishedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения задания %s: %w", id, err)
	}
	return row, nil
}

func (r *ledgerRepo) GetCertificate(ctx context.Context, id string) (*CertificateRow, error) {
	query := `
		SELECT id::text, job_id::text, station, status, revocation_reason, evidence_hash
		FROM certificates
		WHERE id = $1`

	row := &CertificateRow{}
	err := r.db.QueryRow(ctx, query, id).Scan(
		&row.ID, &row.JobID, &row.Station, &row.Status, &row.RevocationReason, &row.EvidenceHash,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения сертификата %s: %w", id, err)
	}
	return row, nil
}
