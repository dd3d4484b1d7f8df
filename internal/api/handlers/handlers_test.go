package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/bigkaa/dzap-backend/internal/api/middleware"
	"github.com/bigkaa/dzap-backend/internal/api/openapi"
	"github.com/bigkaa/dzap-backend/internal/api/routes"
	"github.com/bigkaa/dzap-backend/internal/certificate"
	"github.com/bigkaa/dzap-backend/internal/domain/apperr"
	"github.com/bigkaa/dzap-backend/internal/domain/model"
	"github.com/bigkaa/dzap-backend/internal/events"
	"github.com/bigkaa/dzap-backend/internal/service"
	"github.com/bigkaa/dzap-backend/internal/storage/certindex"
	"github.com/bigkaa/dzap-backend/internal/wipe"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// --- Фейки сервисов ---

type fakeDevices struct {
	list       *model.DeviceList
	devices    map[string]model.Device
	unmountErr error
	unmounted  []string
}

func (f *fakeDevices) ListDevices(context.Context) (*model.DeviceList, error) {
	if f.list == nil {
		return &model.DeviceList{}, nil
	}
	return f.list, nil
}

func (f *fakeDevices) Resolve(_ context.Context, id string) (model.Device, error) {
	if d, ok := f.devices[id]; ok {
		return d, nil
	}
	return nil, apperr.NotFound(id, "устройство не подключено")
}

func (f *fakeDevices) Unmount(_ context.Context, id string) error {
	if f.unmountErr != nil {
		return f.unmountErr
	}
	f.unmounted = append(f.unmounted, id)
	return nil
}

type fakeHealth struct {
	gotID string
	err   error
}

func (f *fakeHealth) GetHealth(_ context.Context, id string) (*model.DriveHealth, error) {
	f.gotID = id
	if f.err != nil {
		return nil, f.err
	}
	return &model.DriveHealth{PredictedStatus: "healthy", SmartStatus: "PASSED"}, nil
}

type fakeEngine struct {
	mu       sync.Mutex
	requests []wipe.Request
	startErr error
	ctrlErr  error
	jobs     map[string]model.WipeJob
}

func (f *fakeEngine) StartWipe(_ context.Context, req wipe.Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return "", f.startErr
	}
	f.requests = append(f.requests, req)
	return uuid.NewString(), nil
}

func (f *fakeEngine) control(deviceID string, status model.JobStatus) (model.WipeJob, error) {
	if f.ctrlErr != nil {
		return model.WipeJob{}, f.ctrlErr
	}
	return model.WipeJob{ID: uuid.NewString(), DeviceID: deviceID, Status: status}, nil
}

func (f *fakeEngine) PauseDevice(id string) (model.WipeJob, error) {
	return f.control(id, model.JobPaused)
}

func (f *fakeEngine) ResumeDevice(id string) (model.WipeJob, error) {
	return f.control(id, model.JobRunning)
}

func (f *fakeEngine) AbortDevice(id string) (model.WipeJob, error) {
	return f.control(id, model.JobAborted)
}

func (f *fakeEngine) ListJobs() []model.WipeJob {
	out := make([]model.WipeJob, 0, len(f.jobs))
	for _, j := range f.jobs {
		out = append(out, j)
	}
	return out
}

func (f *fakeEngine) GetJob(id string) (model.WipeJob, error) {
	if j, ok := f.jobs[id]; ok {
		return j, nil
	}
	return model.WipeJob{}, apperr.NotFound("", "задание %s не найдено", id)
}

type fakeCerts struct {
	certs     map[string]*model.Certificate
	gotFilter certindex.Filter
	generated []string
	// foreign — сертификаты, подписанные ключом другой станции
	foreign map[string]bool
}

func (f *fakeCerts) GenerateFor(_ context.Context, jobID, serial, method string) (*model.Certificate, error) {
	f.generated = append(f.generated, jobID+"|"+serial+"|"+method)
	if jobID == "" && serial == "missing" {
		return nil, apperr.NotFound(serial, "нет заданий затирания для устройства")
	}
	return &model.Certificate{ID: uuid.NewString(), JobID: jobID, Method: method, Status: model.CertValid}, nil
}

func (f *fakeCerts) Get(id string) (*model.Certificate, error) {
	if c, ok := f.certs[id]; ok {
		return c, nil
	}
	return nil, apperr.NotFound("", "сертификат %s не найден", id)
}

func (f *fakeCerts) List(flt certindex.Filter) ([]*model.Certificate, int) {
	f.gotFilter = flt
	out := make([]*model.Certificate, 0, len(f.certs))
	for _, c := range f.certs {
		out = append(out, c)
	}
	return out, 42
}

func (f *fakeCerts) Revoke(id, reason string) (*model.Certificate, error) {
	c, err := f.Get(id)
	if err != nil {
		return nil, err
	}
	if c.Status == model.CertRevoked {
		return nil, apperr.InvalidState("сертификат %s уже отозван", id)
	}
	c.Status = model.CertRevoked
	c.RevocationReason = reason
	return c, nil
}

func (f *fakeCerts) Verify(c *model.Certificate) certificate.VerifyResult {
	return certificate.VerifyResult{HashMatches: true, SignatureValid: true, TrustedKey: !f.foreign[c.ID]}
}

type fakeAuditor struct {
	busy bool
}

func (f *fakeAuditor) RunOnce() (*service.AuditResult, bool) {
	if f.busy {
		return nil, true
	}
	return &service.AuditResult{CertificatesChecked: 3, Summary: service.AuditSummary{OK: 3}}, false
}

type stubDependency struct {
	status string
}

func (s stubDependency) Name() string { return "ledger" }

func (s stubDependency) CheckReady() (string, string) { return s.status, "" }

type readyIndex bool

func (r readyIndex) IsReady() bool { return bool(r) }

// --- Тестовый стенд ---

type testEnv struct {
	devices *fakeDevices
	health  *fakeHealth
	engine  *fakeEngine
	certs   *fakeCerts
	auditor *fakeAuditor
	hub     *events.Hub
	stateOK string
	router  http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		devices: &fakeDevices{devices: map[string]model.Device{
			"/dev/sdb": &model.StorageDevice{Path: "/dev/sdb", Name: "sdb", Type: model.ClassHDD},
			"R58M12345": &model.MobileDevice{Serial: "R58M12345", Type: model.ClassAndroid, Authorized: true},
		}},
		health:  &fakeHealth{},
		engine:  &fakeEngine{jobs: map[string]model.WipeJob{}},
		certs:   &fakeCerts{certs: map[string]*model.Certificate{}},
		auditor: &fakeAuditor{},
		hub:     events.NewHub(testLogger()),
		stateOK: t.TempDir(),
	}
	t.Cleanup(env.hub.Close)

	api := NewAPIHandler(
		NewDrivesHandler(env.devices, env.health),
		NewWipeHandler(env.engine),
		NewCertificatesHandler(env.certs),
		NewMaintenanceHandler(env.auditor),
		NewEventsHandler(env.hub, events.DefaultBuffer, testLogger()),
		NewHealthHandler([]string{env.stateOK}, readyIndex(true)),
		NewMetricsHandler(),
	)

	doc, err := openapi.Load()
	if err != nil {
		t.Fatalf("openapi.Load() ошибка: %v", err)
	}
	validator, err := middleware.OpenAPIValidator(doc, testLogger())
	if err != nil {
		t.Fatalf("OpenAPIValidator() ошибка: %v", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.CORS())
	r.Use(validator)
	routes.HandlerWithOptions(api, routes.ChiServerOptions{
		BaseRouter:       r,
		ErrorHandlerFunc: ParamErrorHandler,
	})
	env.router = r
	return env
}

func (env *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr *bytes.Reader
	switch b := body.(type) {
	case nil:
		rdr = bytes.NewReader(nil)
	case string:
		rdr = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("ошибка сериализации тела: %v", err)
		}
		rdr = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("тело ошибки не JSON: %q", rec.Body.String())
	}
	if body.Error == "" {
		t.Errorf("пустое сообщение об ошибке: %q", rec.Body.String())
	}
	return body.Code
}

// --- Тесты ---

func TestListDrives(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/drives", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("статус = %d, тело: %s", rec.Code, rec.Body.String())
	}
	// пустые списки сериализуются как [], а не null
	if !strings.Contains(rec.Body.String(), `"storage":[]`) || !strings.Contains(rec.Body.String(), `"mobile":[]`) {
		t.Errorf("неожиданное тело: %s", rec.Body.String())
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}

func TestGetDriveHealth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/drive/sdb/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("статус = %d, тело: %s", rec.Code, rec.Body.String())
	}
	if env.health.gotID != "/dev/sdb" {
		t.Errorf("GetHealth получил %q, ожидался /dev/sdb", env.health.gotID)
	}

	env.health.err = apperr.New(apperr.KindUnsupportedDevice, "/dev/sdb", "нет телеметрии")
	rec = env.do(t, http.MethodGet, "/api/drive/sdb/health", nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("статус = %d, ожидался 422", rec.Code)
	}
	if code := errorCode(t, rec); code != "UNSUPPORTED_DEVICE" {
		t.Errorf("code = %q", code)
	}
}

func TestGetWipeMethods(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		path   string
		status int
	}{
		{"накопитель по имени ядра", "/api/drive/sdb/wipe-methods", http.StatusOK},
		{"мобильное устройство по serial", "/api/drive/R58M12345/wipe-methods", http.StatusOK},
		{"неизвестное устройство", "/api/drive/sdz/wipe-methods", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, tt.path, nil)
			if rec.Code != tt.status {
				t.Fatalf("статус = %d, ожидался %d, тело: %s", rec.Code, tt.status, rec.Body.String())
			}
			if tt.status != http.StatusOK {
				return
			}
			var methods []model.WipeMethod
			if err := json.Unmarshal(rec.Body.Bytes(), &methods); err != nil {
				t.Fatalf("некорректный ответ: %v", err)
			}
			if len(methods) == 0 {
				t.Error("список методов пуст")
			}
		})
	}
}

func TestStartWipe(t *testing.T) {
	valid := map[string]any{
		"DevicePath":   "/dev/sdb",
		"Method":       "overwrite_1_pass",
		"DeviceSerial": "WD-123",
		"DeviceType":   "HDD",
		"Verification": "basic",
		"Operator":     "оператор",
	}

	tests := []struct {
		name     string
		body     any
		startErr error
		status   int
		code     string
	}{
		{name: "успешный запуск", body: valid, status: http.StatusAccepted},
		{name: "нет Method", body: map[string]any{"DevicePath": "/dev/sdb"}, status: http.StatusBadRequest, code: "VALIDATION_ERROR"},
		{name: "неизвестный режим верификации", body: map[string]any{"DevicePath": "/dev/sdb", "Method": "m", "Verification": "bogus"}, status: http.StatusBadRequest, code: "VALIDATION_ERROR"},
		{name: "некорректный JSON", body: "{", status: http.StatusBadRequest, code: "VALIDATION_ERROR"},
		{name: "устройство занято", body: valid, startErr: apperr.Busy("/dev/sdb", "занято"), status: http.StatusConflict, code: "DEVICE_BUSY"},
		{name: "устройство смонтировано", body: valid, startErr: apperr.Precondition("/dev/sdb", "смонтировано"), status: http.StatusPreconditionFailed, code: "PRECONDITION_FAILED"},
		{name: "системный диск", body: valid, startErr: apperr.Forbidden("/dev/sda", "системный диск"), status: http.StatusForbidden, code: "FORBIDDEN_OPERATION"},
		{name: "метод недоступен", body: valid, startErr: apperr.New(apperr.KindUnsupportedMethod, "/dev/sdb", "нет"), status: http.StatusUnprocessableEntity, code: "UNSUPPORTED_METHOD"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.engine.startErr = tt.startErr

			rec := env.do(t, http.MethodPost, "/api/wipe", tt.body)
			if rec.Code != tt.status {
				t.Fatalf("статус = %d, ожидался %d, тело: %s", rec.Code, tt.status, rec.Body.String())
			}
			if tt.code != "" {
				if code := errorCode(t, rec); code != tt.code {
					t.Errorf("code = %q, ожидался %q", code, tt.code)
				}
				if len(env.engine.requests) != 0 {
					t.Error("задание не должно создаваться при ошибке допуска")
				}
				return
			}

			var resp jobAccepted
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil || resp.JobID == "" {
				t.Fatalf("в ответе нет jobId: %s", rec.Body.String())
			}
			if len(env.engine.requests) != 1 {
				t.Fatalf("движок получил %d запросов", len(env.engine.requests))
			}
			got := env.engine.requests[0]
			if got.DeviceID != "/dev/sdb" || got.Method != "overwrite_1_pass" || got.DeviceSerial != "WD-123" ||
				got.DeviceType != model.ClassHDD || got.Verification != "basic" || got.Operator != "оператор" {
				t.Errorf("неверный запрос к движку: %+v", got)
			}
		})
	}
}

func TestWipeControl(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		body    any
		ctrlErr error
		status  int
		want    model.JobStatus
	}{
		{name: "пауза", path: "/api/wipe/pause", body: map[string]string{"deviceId": "/dev/sdb"}, status: http.StatusOK, want: model.JobPaused},
		{name: "возобновление", path: "/api/wipe/resume", body: map[string]string{"deviceId": "/dev/sdb"}, status: http.StatusOK, want: model.JobRunning},
		{name: "отмена", path: "/api/wipe/abort", body: map[string]string{"deviceId": "/dev/sdb"}, status: http.StatusOK, want: model.JobAborted},
		{name: "нет активного задания", path: "/api/wipe/abort", body: map[string]string{"deviceId": "/dev/sdc"}, ctrlErr: apperr.NotFound("/dev/sdc", "нет задания"), status: http.StatusNotFound},
		{name: "метод без паузы", path: "/api/wipe/pause", body: map[string]string{"deviceId": "/dev/sdb"}, ctrlErr: apperr.New(apperr.KindUnsupportedOperation, "/dev/sdb", "нет паузы"), status: http.StatusUnprocessableEntity},
		{name: "недопустимое состояние", path: "/api/wipe/resume", body: map[string]string{"deviceId": "/dev/sdb"}, ctrlErr: apperr.InvalidState("не на паузе"), status: http.StatusConflict},
		{name: "пустой deviceId", path: "/api/wipe/pause", body: map[string]string{"deviceId": ""}, status: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.engine.ctrlErr = tt.ctrlErr

			rec := env.do(t, http.MethodPost, tt.path, tt.body)
			if rec.Code != tt.status {
				t.Fatalf("статус = %d, ожидался %d, тело: %s", rec.Code, tt.status, rec.Body.String())
			}
			if tt.status != http.StatusOK {
				return
			}
			var ack ackResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &ack); err != nil {
				t.Fatalf("некорректный ответ: %v", err)
			}
			if ack.Status != string(tt.want) || ack.Job == nil || ack.Job.Status != tt.want {
				t.Errorf("ответ = %+v, ожидался статус %s", ack, tt.want)
			}
		})
	}
}

func TestJobs(t *testing.T) {
	env := newTestEnv(t)
	id := uuid.NewString()
	env.engine.jobs[id] = model.WipeJob{ID: id, DeviceID: "/dev/sdb", Status: model.JobRunning}

	rec := env.do(t, http.MethodGet, "/api/wipe/jobs", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("статус = %d", rec.Code)
	}
	var jobs []model.WipeJob
	if err := json.Unmarshal(rec.Body.Bytes(), &jobs); err != nil || len(jobs) != 1 {
		t.Fatalf("ожидалось одно задание: %s", rec.Body.String())
	}

	rec = env.do(t, http.MethodGet, "/api/wipe/jobs/"+id, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("GET задания: статус = %d", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/api/wipe/jobs/"+uuid.NewString(), nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("неизвестное задание: статус = %d, ожидался 404", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/api/wipe/jobs/not-a-uuid", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("некорректный id: статус = %d, ожидался 400", rec.Code)
	}
}

func TestUnmount(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/unmount", map[string]string{"devicePath": "/dev/sdb"})
	if rec.Code != http.StatusOK {
		t.Fatalf("статус = %d, тело: %s", rec.Code, rec.Body.String())
	}
	if len(env.devices.unmounted) != 1 || env.devices.unmounted[0] != "/dev/sdb" {
		t.Errorf("Unmount вызван с %v", env.devices.unmounted)
	}

	rec = env.do(t, http.MethodPost, "/api/unmount", map[string]string{"devicePath": "sdb"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("путь без /dev/: статус = %d, ожидался 400", rec.Code)
	}

	env.devices.unmountErr = apperr.Busy("/dev/sdb", "занято")
	rec = env.do(t, http.MethodPost, "/api/unmount", map[string]string{"devicePath": "/dev/sdb"})
	if rec.Code != http.StatusConflict {
		t.Errorf("занятое устройство: статус = %d, ожидался 409", rec.Code)
	}
}

func TestCertificates(t *testing.T) {
	env := newTestEnv(t)
	id := uuid.NewString()
	env.certs.certs[id] = &model.Certificate{ID: id, Status: model.CertValid}

	t.Run("выпуск по serial и методу", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/certificate/generate",
			map[string]string{"model": "WDC", "serial": "WD-123", "method": "overwrite_1_pass"})
		if rec.Code != http.StatusCreated {
			t.Fatalf("статус = %d, тело: %s", rec.Code, rec.Body.String())
		}
		if last := env.certs.generated[len(env.certs.generated)-1]; last != "|WD-123|overwrite_1_pass" {
			t.Errorf("GenerateFor получил %q", last)
		}
	})

	t.Run("выпуск без идентификации задания", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/certificate/generate", map[string]string{"model": "WDC"})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("статус = %d, ожидался 400", rec.Code)
		}
	})

	t.Run("нет заданий для устройства", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/certificate/generate",
			map[string]string{"serial": "missing", "method": "overwrite_1_pass"})
		if rec.Code != http.StatusNotFound {
			t.Errorf("статус = %d, ожидался 404", rec.Code)
		}
	})

	t.Run("выборка с фильтром", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/certificates?status=valid&serial=WD-123&limit=5&offset=10", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("статус = %d, тело: %s", rec.Code, rec.Body.String())
		}
		f := env.certs.gotFilter
		if f.Status != model.CertValid || f.Serial != "WD-123" || f.Limit != 5 || f.Offset != 10 {
			t.Errorf("фильтр = %+v", f)
		}
		if got := rec.Header().Get("X-Total-Count"); got != "42" {
			t.Errorf("X-Total-Count = %q", got)
		}
	})

	t.Run("выборка без limit", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/certificates", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("статус = %d", rec.Code)
		}
		if env.certs.gotFilter.Limit != defaultListLimit {
			t.Errorf("Limit = %d, ожидался %d", env.certs.gotFilter.Limit, defaultListLimit)
		}
	})

	t.Run("некорректные параметры выборки", func(t *testing.T) {
		for _, q := range []string{"limit=0", "limit=abc", "offset=-1", "status=lost"} {
			rec := env.do(t, http.MethodGet, "/api/certificates?"+q, nil)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("%s: статус = %d, ожидался 400", q, rec.Code)
			}
		}
	})

	t.Run("проверка подписи", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/certificates/"+id+"/verify", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("статус = %d", rec.Code)
		}
		var resp struct {
			CertificateID  string `json:"certificateId"`
			Valid          bool   `json:"valid"`
			HashMatches    bool   `json:"hashMatches"`
			SignatureValid bool   `json:"signatureValid"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("некорректный ответ: %v", err)
		}
		if resp.CertificateID != id || !resp.Valid || !resp.HashMatches || !resp.SignatureValid {
			t.Errorf("ответ = %+v", resp)
		}
	})

	t.Run("подпись чужим ключом", func(t *testing.T) {
		foreignID := uuid.NewString()
		env.certs.certs[foreignID] = &model.Certificate{ID: foreignID, Status: model.CertValid}
		env.certs.foreign = map[string]bool{foreignID: true}

		rec := env.do(t, http.MethodGet, "/api/certificates/"+foreignID+"/verify", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("статус = %d", rec.Code)
		}
		var resp struct {
			Valid          bool `json:"valid"`
			SignatureValid bool `json:"signatureValid"`
			TrustedKey     bool `json:"trustedKey"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("некорректный ответ: %v", err)
		}
		if resp.Valid || resp.TrustedKey {
			t.Errorf("сертификат чужой станции не должен считаться действительным: %+v", resp)
		}
	})

	t.Run("отзыв", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/certificates/"+id+"/revoke", map[string]string{"reason": ""})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("пустая причина: статус = %d, ожидался 400", rec.Code)
		}

		rec = env.do(t, http.MethodPost, "/api/certificates/"+id+"/revoke", map[string]string{"reason": "ошибка оператора"})
		if rec.Code != http.StatusOK {
			t.Fatalf("статус = %d, тело: %s", rec.Code, rec.Body.String())
		}

		rec = env.do(t, http.MethodPost, "/api/certificates/"+id+"/revoke", map[string]string{"reason": "повтор"})
		if rec.Code != http.StatusConflict {
			t.Errorf("повторный отзыв: статус = %d, ожидался 409", rec.Code)
		}

		rec = env.do(t, http.MethodGet, "/api/certificates/"+uuid.NewString(), nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("неизвестный сертификат: статус = %d, ожидался 404", rec.Code)
		}
	})
}

func TestRunAudit(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/maintenance/audit", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("статус = %d, тело: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"issues":[]`) {
		t.Errorf("ожидался пустой список issues: %s", rec.Body.String())
	}

	env.auditor.busy = true
	rec = env.do(t, http.MethodPost, "/api/maintenance/audit", nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("статус = %d, ожидался 409", rec.Code)
	}
	if code := errorCode(t, rec); code != "AUDIT_IN_PROGRESS" {
		t.Errorf("code = %q", code)
	}
}

func TestHealthReady(t *testing.T) {
	okDir := t.TempDir()
	missing := filepath.Join(t.TempDir(), "нет-такой")

	tests := []struct {
		name   string
		dirs   []string
		ready  bool
		deps   []DependencyChecker
		status int
		want   string
	}{
		{"всё готово", []string{okDir}, true, nil, http.StatusOK, statusOK},
		{"директория недоступна", []string{missing}, true, nil, http.StatusServiceUnavailable, statusFail},
		{"индекс не построен", []string{okDir}, false, nil, http.StatusServiceUnavailable, statusFail},
		{"реестр недоступен", []string{okDir}, true, []DependencyChecker{stubDependency{status: statusFail}}, http.StatusOK, statusDegraded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(tt.dirs, readyIndex(tt.ready), tt.deps...)
			rec := httptest.NewRecorder()
			h.HealthReady(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

			if rec.Code != tt.status {
				t.Errorf("статус = %d, ожидался %d", rec.Code, tt.status)
			}
			var body map[string]any
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("некорректный ответ: %v", err)
			}
			if body["status"] != tt.want {
				t.Errorf("status = %v, ожидался %s", body["status"], tt.want)
			}
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/wipe", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("статус = %d, ожидался 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Methods"); !strings.Contains(got, "POST") {
		t.Errorf("Access-Control-Allow-Methods = %q", got)
	}
}

func TestEventsWebSocket(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("Dial() ошибка: %v", err)
	}
	defer func() { _ = conn.CloseNow() }()

	deadline := time.Now().Add(2 * time.Second)
	for env.hub.Count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("подписчик не зарегистрирован")
		}
		time.Sleep(5 * time.Millisecond)
	}

	env.hub.Publish(events.Error("сбой записи на %s", "/dev/sdb"))
	env.hub.Publish(events.Event{
		Kind:     events.KindProgress,
		JobID:    "job-1",
		Progress: &events.Progress{DeviceID: "/dev/sdb", JobID: "job-1", Progress: 50, CurrentPass: 1, TotalPasses: 3},
	})

	typ, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read() ошибка: %v", err)
	}
	if typ != websocket.MessageText || !strings.HasPrefix(string(data), "ERROR: ") {
		t.Errorf("первое сообщение = %q", data)
	}

	_, data, err = conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read() ошибка: %v", err)
	}
	var p events.Progress
	if err := json.Unmarshal(data, &p); err != nil {
		t.Fatalf("прогресс не JSON: %q", data)
	}
	if p.DeviceID != "/dev/sdb" || p.Progress != 50 || p.TotalPasses != 3 {
		t.Errorf("прогресс = %+v", p)
	}

	// закрытие клиентом снимает подписку
	_ = conn.Close(websocket.StatusNormalClosure, "")
	deadline = time.Now().Add(2 * time.Second)
	for env.hub.Count() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("подписка не снята после закрытия соединения")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
