// health.go — обработчики /health/live и /health/ready.
package handlers

import (
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bigkaa/dzap-backend/internal/config"
)

const (
	statusOK       = "ok"
	statusFail     = "fail"
	statusDegraded = "degraded"
	serviceName    = "dzap-backend"
)

// IndexReadinessChecker — готовность индекса сертификатов.
type IndexReadinessChecker interface {
	IsReady() bool
}

// DependencyChecker — необязательная внешняя зависимость (реестр).
type DependencyChecker interface {
	Name() string
	CheckReady() (status string, message string)
}

// HealthHandler реализует /health/live и /health/ready.
type HealthHandler struct {
	version string
	// dirs — директории состояния, проверяемые на запись
	dirs []string
	idx  IndexReadinessChecker
	deps []DependencyChecker
}

// NewHealthHandler создаёт обработчик health endpoints.
// deps — необязательные зависимости: их отказ даёт статус degraded, а не fail.
func NewHealthHandler(dirs []string, idx IndexReadinessChecker, deps ...DependencyChecker) *HealthHandler {
	return &HealthHandler{
		version: config.Version,
		dirs:    dirs,
		idx:     idx,
		deps:    deps,
	}
}

// HealthLive обрабатывает GET /health/live.
// Возвращает 200, если процесс жив. Зависимости не проверяются.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    statusOK,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
		"service":   serviceName,
	})
}

// HealthReady обрабатывает GET /health/ready.
// Проверяет: запись в директории состояния, готовность индекса
// сертификатов, внешние зависимости.
func (h *HealthHandler) HealthReady(w http.ResponseWriter, _ *http.Request) {
	overallStatus := statusOK
	httpStatus := http.StatusOK
	checks := make(map[string]any)

	for _, dir := range h.dirs {
		check := checkWritable(dir)
		checks[filepath.Base(dir)] = check
		if check["status"] != statusOK {
			overallStatus = statusFail
			httpStatus = http.StatusServiceUnavailable
		}
	}

	indexCheck := map[string]any{"status": statusOK}
	if h.idx != nil && !h.idx.IsReady() {
		indexCheck = map[string]any{
			"status":  statusFail,
			"message": "Индекс сертификатов не построен",
		}
		overallStatus = statusFail
		httpStatus = http.StatusServiceUnavailable
	}
	checks["certificate_index"] = indexCheck

	for _, dep := range h.deps {
		status, message := dep.CheckReady()
		check := map[string]any{"status": status}
		if message != "" {
			check["message"] = message
		}
		checks[dep.Name()] = check
		if status != statusOK && overallStatus != statusFail {
			overallStatus = statusDegraded
		}
	}

	writeJSON(w, httpStatus, map[string]any{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
		"service":   serviceName,
		"checks":    checks,
	})
}

// checkWritable проверяет доступность директории на запись.
func checkWritable(dir string) map[string]any {
	testFile := filepath.Join(dir, ".health_check")
	if err := os.WriteFile(testFile, []byte("ok"), 0o600); err != nil {
		return map[string]any{
			"status":  statusFail,
			"message": "Директория недоступна для записи: " + err.Error(),
		}
	}
	_ = os.Remove(testFile)
	return map[string]any{"status": statusOK}
}

// MetricsHandler — обработчик /metrics, делегирующий в Prometheus.
type MetricsHandler struct {
	handler http.Handler
}

// NewMetricsHandler создаёт обработчик Prometheus метрик.
func NewMetricsHandler() *MetricsHandler {
	return &MetricsHandler{handler: promhttp.Handler()}
}

// GetMetrics обрабатывает GET /metrics.
func (m *MetricsHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	m.handler.ServeHTTP(w, r)
}
