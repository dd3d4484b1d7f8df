package service

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bigkaa/dzap-backend/internal/certificate"
	"github.com/bigkaa/dzap-backend/internal/domain/model"
	"github.com/bigkaa/dzap-backend/internal/repository"
	"github.com/bigkaa/dzap-backend/internal/storage/certindex"
	"github.com/bigkaa/dzap-backend/internal/storage/certstore"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newIssuer(t *testing.T, dir string, validity time.Duration) *certificate.Issuer {
	t.Helper()
	signer, _, err := certificate.LoadOrCreate(filepath.Join(dir, "signing.pem"))
	if err != nil {
		t.Fatalf("LoadOrCreate: %v", err)
	}
	store, err := certstore.New(filepath.Join(dir, "certificates"), testLogger())
	if err != nil {
		t.Fatalf("certstore.New: %v", err)
	}
	is, err := certificate.NewIssuer(store, certindex.New(testLogger()), signer,
		certificate.Options{Standard: "NIST SP 800-88 Rev.1", Operator: "op", Validity: validity}, testLogger())
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	return is
}

func completedJob(id, serial string) model.WipeJob {
	started := time.Now().UTC().Add(-time.Hour)
	finished := started.Add(30 * time.Minute)
	return model.WipeJob{
		ID:           id,
		DeviceID:     "/dev/sdb",
		DeviceSerial: serial,
		DeviceModel:  "WDC WD10EZEX",
		DeviceType:   model.ClassHDD,
		Method:       "overwrite_1_pass",
		Status:       model.JobCompleted,
		Progress:     1,
		TotalPasses:  1,
		Extent:       1 << 20,
		CreatedAt:    started,
		StartedAt:    &started,
		FinishedAt:   &finished,
		Verification: model.Verification{Mode: model.VerifyNone},
		Outcome:      model.OutcomeSuccess,
	}
}

func issue(t *testing.T, is *certificate.Issuer, job model.WipeJob) *model.Certificate {
	t.Helper()
	cert, err := is.Issue(context.Background(), job)
	if err != nil {
		t.Fatalf("Issue(%s): %v", job.ID, err)
	}
	return cert
}

type stubPruner struct {
	before time.Time
	calls  int
}

func (p *stubPruner) Prune(before time.Time) (int, error) {
	p.before = before
	p.calls++
	return 2, nil
}

// --- ExpiryService ---

func TestExpiryRunOnce(t *testing.T) {
	is := newIssuer(t, t.TempDir(), time.Hour)
	cert := issue(t, is, completedJob("job-1", "SN-1"))

	pruner := &stubPruner{}
	svc := NewExpiryService(is, pruner, 24*time.Hour, time.Hour, testLogger())

	// до истечения срока ничего не меняется
	res := svc.RunOnce()
	if res.ExpiredCount != 0 {
		t.Errorf("ExpiredCount = %d, ожидалось 0", res.ExpiredCount)
	}
	if res.PrunedCount != 2 || pruner.calls != 1 {
		t.Errorf("очистка журнала: pruned=%d calls=%d", res.PrunedCount, pruner.calls)
	}

	later := time.Now().UTC().Add(2 * time.Hour)
	svc.now = func() time.Time { return later }
	res = svc.RunOnce()
	if res.ExpiredCount != 1 || res.Errors != 0 {
		t.Fatalf("ожидался 1 просроченный сертификат без ошибок, получено %+v", res)
	}
	if want := later.Add(-24 * time.Hour); !pruner.before.Equal(want) {
		t.Errorf("граница очистки = %v, ожидалось %v", pruner.before, want)
	}

	got, err := is.Get(cert.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != model.CertExpired {
		t.Errorf("статус = %s, ожидался expired", got.Status)
	}
	// статус — не часть доказательной записи
	if !got.SignatureValid {
		t.Error("просроченный сертификат должен оставаться целостным")
	}

	onDisk, err := is.Store().Read(cert.ID)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if onDisk.Status != model.CertExpired {
		t.Errorf("статус на диске = %s, ожидался expired", onDisk.Status)
	}
}

func TestExpiryJournalRetentionDisabled(t *testing.T) {
	is := newIssuer(t, t.TempDir(), 0)
	pruner := &stubPruner{}
	svc := NewExpiryService(is, pruner, 0, time.Hour, testLogger())

	svc.RunOnce()
	if pruner.calls != 0 {
		t.Errorf("при retention=0 журнал не должен очищаться, вызовов: %d", pruner.calls)
	}
}

func TestExpiryStartStop(t *testing.T) {
	is := newIssuer(t, t.TempDir(), 0)
	pruner := &stubPruner{}
	svc := NewExpiryService(is, pruner, time.Hour, 10*time.Millisecond, testLogger())

	svc.Start(context.Background())
	time.Sleep(50 * time.Millisecond)
	svc.Stop()

	svc.mu.Lock()
	calls := pruner.calls
	svc.mu.Unlock()
	if calls < 2 {
		t.Errorf("ожидалось несколько запусков по тикеру, получено %d", calls)
	}
}

// --- AuditService ---

func TestAuditDetectsIssues(t *testing.T) {
	dir := t.TempDir()
	is := newIssuer(t, dir, 0)
	store := is.Store()

	issue(t, is, completedJob("job-ok", "SN-OK"))
	tampered := issue(t, is, completedJob("job-bad", "SN-BAD"))

	// подмена серийного номера без пересчёта хэша
	changed := *tampered
	changed.Device.Serial = "SN-OTHER"
	if err := store.Write(&changed); err != nil {
		t.Fatalf("Write: %v", err)
	}

	// сертификат другой станции, подброшенный в хранилище
	foreign := newIssuer(t, t.TempDir(), 0)
	fc := issue(t, foreign, completedJob("job-foreign", "SN-F"))
	data, err := os.ReadFile(foreign.Store().Path(fc.ID))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if err := os.WriteFile(store.Path(fc.ID), data, 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	// нечитаемый файл
	if err := os.WriteFile(filepath.Join(store.Dir(), "garbage"+certstore.CertSuffix), []byte("{"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	// старый и свежий временные файлы
	oldTmp := filepath.Join(store.Dir(), "old"+certstore.CertSuffix+".tmp")
	freshTmp := filepath.Join(store.Dir(), "fresh"+certstore.CertSuffix+".tmp")
	for _, p := range []string{oldTmp, freshTmp} {
		if err := os.WriteFile(p, []byte("{}"), 0o600); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
	}
	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(oldTmp, past, past); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}

	svc := NewAuditService(is, time.Hour, testLogger())
	res, skipped := svc.RunOnce()
	if skipped || res == nil {
		t.Fatal("аудит не должен быть пропущен")
	}

	if res.CertificatesChecked != 3 {
		t.Errorf("CertificatesChecked = %d, ожидалось 3", res.CertificatesChecked)
	}
	want := AuditSummary{
		OK:              1,
		HashMismatches:  1,
		UntrustedKeys:   1,
		UnreadableFiles: 1,
		OrphanedTmp:     1,
		MissingInIndex:  1,
	}
	if res.Summary != want {
		t.Errorf("Summary = %+v, ожидалось %+v", res.Summary, want)
	}

	if _, err := os.Stat(oldTmp); !errors.Is(err, os.ErrNotExist) {
		t.Error("старый временный файл должен быть удалён")
	}
	if _, err := os.Stat(freshTmp); err != nil {
		t.Error("свежий временный файл не должен удаляться")
	}
	if is.Index().Get(fc.ID) == nil {
		t.Error("сертификат, отсутствовавший в индексе, должен быть добавлен")
	}

	// повторный аудит: временный файл и индекс уже исправлены
	res, _ = svc.RunOnce()
	if res.Summary.OrphanedTmp != 0 || res.Summary.MissingInIndex != 0 {
		t.Errorf("повторный аудит: %+v", res.Summary)
	}
	if res.Summary.HashMismatches != 1 {
		t.Error("подменённый сертификат должен обнаруживаться при каждом аудите")
	}
}

func TestAuditSkipsConcurrentRun(t *testing.T) {
	is := newIssuer(t, t.TempDir(), 0)
	svc := NewAuditService(is, time.Hour, testLogger())

	svc.mu.Lock()
	svc.inProcess = true
	svc.mu.Unlock()

	if !svc.IsInProgress() {
		t.Fatal("IsInProgress() должен вернуть true")
	}
	res, skipped := svc.RunOnce()
	if !skipped || res != nil {
		t.Errorf("ожидался пропуск, получено skipped=%v res=%v", skipped, res)
	}
}

// --- LedgerSync ---

type fakeLedger struct {
	mu       sync.Mutex
	jobs     map[string]model.WipeJob
	certs    map[string]model.Certificate
	upserts  int
	failJobs bool
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{jobs: map[string]model.WipeJob{}, certs: map[string]model.Certificate{}}
}

func (f *fakeLedger) UpsertJob(_ context.Context, job model.WipeJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failJobs {
		return errors.New("реестр недоступен")
	}
	f.upserts++
	f.jobs[job.ID] = job
	return nil
}

func (f *fakeLedger) UpsertCertificate(_ context.Context, c *model.Certificate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts++
	f.certs[c.ID] = *c
	return nil
}

func (f *fakeLedger) GetJob(_ context.Context, id string) (*repository.JobRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &repository.JobRow{ID: j.ID, Status: string(j.Status)}, nil
}

func (f *fakeLedger) GetCertificate(_ context.Context, id string) (*repository.CertificateRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.certs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &repository.CertificateRow{ID: c.ID, Status: string(c.Status)}, nil
}

type stubJobs struct {
	jobs []model.WipeJob
}

func (s *stubJobs) ListJobs() []model.WipeJob {
	return append([]model.WipeJob(nil), s.jobs...)
}

func TestLedgerSync(t *testing.T) {
	is := newIssuer(t, t.TempDir(), 0)
	done := completedJob("job-1", "SN-1")
	cert := issue(t, is, done)
	done.CertificateID = cert.ID

	running := completedJob("job-2", "SN-2")
	running.Status = model.JobRunning
	running.FinishedAt = nil

	jobs := &stubJobs{jobs: []model.WipeJob{done, running}}
	ledger := newFakeLedger()
	ls := NewLedgerSync(ledger, jobs, is, time.Hour, testLogger())
	ctx := context.Background()

	res := ls.RunOnce(ctx)
	if res.Jobs != 1 || res.Certificates != 1 || res.Errors != 0 {
		t.Fatalf("первая выгрузка: %+v", res)
	}
	if _, err := ledger.GetJob(ctx, "job-2"); !errors.Is(err, repository.ErrNotFound) {
		t.Error("незавершённое задание не должно выгружаться")
	}

	// без изменений — повторной записи нет
	before := ledger.upserts
	res = ls.RunOnce(ctx)
	if res.Jobs != 0 || res.Certificates != 0 || ledger.upserts != before {
		t.Errorf("повторная выгрузка без изменений: %+v", res)
	}

	// отзыв сертификата выгружается как изменение
	if _, err := is.Revoke(cert.ID, "ошибка оператора"); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	res = ls.RunOnce(ctx)
	if res.Certificates != 1 {
		t.Errorf("отзыв не выгружен: %+v", res)
	}
	row, err := ledger.GetCertificate(ctx, cert.ID)
	if err != nil || row.Status != string(model.CertRevoked) {
		t.Errorf("статус в реестре: %v, %v", row, err)
	}

	// ошибка реестра — повтор на следующем проходе
	failed := completedJob("job-3", "SN-3")
	failed.Status = model.JobFailed
	failed.Outcome = model.OutcomeFailure
	jobs.jobs = append(jobs.jobs, failed)
	ledger.failJobs = true
	res = ls.RunOnce(ctx)
	if res.Errors != 1 {
		t.Errorf("ожидалась 1 ошибка, получено %+v", res)
	}
	ledger.failJobs = false
	res = ls.RunOnce(ctx)
	if res.Jobs != 1 || res.Errors != 0 {
		t.Errorf("повтор после ошибки: %+v", res)
	}
}
