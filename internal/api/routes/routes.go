// Пакет routes — таблица маршрутов HTTP API и разбор параметров.
//
// Форма повторяет chi-server обёртку oapi-codegen: ServerInterface
// с типизированными параметрами, ServerInterfaceWrapper, который
// извлекает и конвертирует параметры пути и query через
// oapi-codegen/runtime, и HandlerFromMux для регистрации маршрутов.
// Маршруты соответствуют документу internal/api/openapi/openapi.yaml.
package routes

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
)

// ListCertificatesParams — параметры GET /api/certificates.
type ListCertificatesParams struct {
	Status *string
	Serial *string
	Method *string
	Limit  *int
	Offset *int
}

// ServerInterface — все операции HTTP API.
type ServerInterface interface {
	// GET /api/drives
	ListDrives(w http.ResponseWriter, r *http.Request)
	// GET /api/drive/{name}/health
	GetDriveHealth(w http.ResponseWriter, r *http.Request, name string)
	// GET /api/drive/{id}/wipe-methods
	GetWipeMethods(w http.ResponseWriter, r *http.Request, id string)
	// POST /api/unmount
	Unmount(w http.ResponseWriter, r *http.Request)

	// POST /api/wipe
	StartWipe(w http.ResponseWriter, r *http.Request)
	// POST /api/wipe/pause
	PauseWipe(w http.ResponseWriter, r *http.Request)
	// POST /api/wipe/resume
	ResumeWipe(w http.ResponseWriter, r *http.Request)
	// POST /api/wipe/abort
	AbortWipe(w http.ResponseWriter, r *http.Request)
	// GET /api/wipe/jobs
	ListJobs(w http.ResponseWriter, r *http.Request)
	// GET /api/wipe/jobs/{jobId}
	GetJob(w http.ResponseWriter, r *http.Request, jobID string)

	// POST /api/certificate/generate
	GenerateCertificate(w http.ResponseWriter, r *http.Request)
	// GET /api/certificates
	ListCertificates(w http.ResponseWriter, r *http.Request, params ListCertificatesParams)
	// GET /api/certificates/{id}
	GetCertificate(w http.ResponseWriter, r *http.Request, id string)
	// POST /api/certificates/{id}/revoke
	RevokeCertificate(w http.ResponseWriter, r *http.Request, id string)
	// GET /api/certificates/{id}/verify
	VerifyCertificate(w http.ResponseWriter, r *http.Request, id string)

	// POST /api/maintenance/audit
	RunAudit(w http.ResponseWriter, r *http.Request)

	// GET /ws
	Events(w http.ResponseWriter, r *http.Request)

	// GET /health/live
	HealthLive(w http.ResponseWriter, r *http.Request)
	// GET /health/ready
	HealthReady(w http.ResponseWriter, r *http.Request)
	// GET /metrics
	GetMetrics(w http.ResponseWriter, r *http.Request)
}

// InvalidParamFormatError — параметр не удалось разобрать.
type InvalidParamFormatError struct {
	ParamName string
	Err       error
}

func (e *InvalidParamFormatError) Error() string {
	return fmt.Sprintf("некорректный формат параметра %s: %s", e.ParamName, e.Err.Error())
}

func (e *InvalidParamFormatError) Unwrap() error {
	return e.Err
}

// ServerInterfaceWrapper разбирает параметры и вызывает ServerInterface.
type ServerInterfaceWrapper struct {
	Handler          ServerInterface
	ErrorHandlerFunc func(w http.ResponseWriter, r *http.Request, err error)
}

func (siw *ServerInterfaceWrapper) pathParam(w http.ResponseWriter, r *http.Request, name string, dest *string) bool {
	err := runtime.BindStyledParameterWithOptions("simple", name, chi.URLParam(r, name), dest,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		siw.ErrorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: name, Err: err})
		return false
	}
	return true
}

// GetDriveHealth разбирает {name}.
func (siw *ServerInterfaceWrapper) GetDriveHealth(w http.ResponseWriter, r *http.Request) {
	var name string
	if !siw.pathParam(w, r, "name", &name) {
		return
	}
	siw.Handler.GetDriveHealth(w, r, name)
}

// GetWipeMethods разбирает {id}.
func (siw *ServerInterfaceWrapper) GetWipeMethods(w http.ResponseWriter, r *http.Request) {
	var id string
	if !siw.pathParam(w, r, "id", &id) {
		return
	}
	siw.Handler.GetWipeMethods(w, r, id)
}

// GetJob разбирает {jobId}.
func (siw *ServerInterfaceWrapper) GetJob(w http.ResponseWriter, r *http.Request) {
	var jobID string
	if !siw.pathParam(w, r, "jobId", &jobID) {
		return
	}
	siw.Handler.GetJob(w, r, jobID)
}

// ListCertificates разбирает query-параметры фильтра.
func (siw *ServerInterfaceWrapper) ListCertificates(w http.ResponseWriter, r *http.Request) {
	var params ListCertificatesParams
	query := r.URL.Query()

	bind := []struct {
		name string
		dest any
	}{
		{"status", &params.Status},
		{"serial", &params.Serial},
		{"method", &params.Method},
		{"limit", &params.Limit},
		{"offset", &params.Offset},
	}
	for _, p := range bind {
		if err := runtime.BindQueryParameter("form", true, false, p.name, query, p.dest); err != nil {
			siw.ErrorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: p.name, Err: err})
			return
		}
	}

	siw.Handler.ListCertificates(w, r, params)
}

// GetCertificate разбирает {id}.
func (siw *ServerInterfaceWrapper) GetCertificate(w http.ResponseWriter, r *http.Request) {
	var id string
	if !siw.pathParam(w, r, "id", &id) {
		return
	}
	siw.Handler.GetCertificate(w, r, id)
}

// RevokeCertificate разбирает {id}.
func (siw *ServerInterfaceWrapper) RevokeCertificate(w http.ResponseWriter, r *http.Request) {
	var id string
	if !siw.pathParam(w, r, "id", &id) {
		return
	}
	siw.Handler.RevokeCertificate(w, r, id)
}

// VerifyCertificate разбирает {id}.
func (siw *ServerInterfaceWrapper) VerifyCertificate(w http.ResponseWriter, r *http.Request) {
	var id string
	if !siw.pathParam(w, r, "id", &id) {
		return
	}
	siw.Handler.VerifyCertificate(w, r, id)
}

// ChiServerOptions — параметры регистрации маршрутов.
type ChiServerOptions struct {
	BaseRouter       chi.Router
	ErrorHandlerFunc func(w http.ResponseWriter, r *http.Request, err error)
}

// HandlerFromMux регистрирует маршруты на переданном роутере.
func HandlerFromMux(si ServerInterface, r chi.Router) http.Handler {
	return HandlerWithOptions(si, ChiServerOptions{BaseRouter: r})
}

// HandlerWithOptions регистрирует маршруты с заданными опциями.
func HandlerWithOptions(si ServerInterface, options ChiServerOptions) http.Handler {
	r := options.BaseRouter
	if r == nil {
		r = chi.NewRouter()
	}
	if options.ErrorHandlerFunc == nil {
		options.ErrorHandlerFunc = func(w http.ResponseWriter, _ *http.Request, err error) {
			http.Error(w, err.Error(), http.StatusBadRequest)
		}
	}
	wrapper := ServerInterfaceWrapper{
		Handler:          si,
		ErrorHandlerFunc: options.ErrorHandlerFunc,
	}

	r.Group(func(r chi.Router) {
		r.Get("/api/drives", si.ListDrives)
		r.Get("/api/drive/{name}/health", wrapper.GetDriveHealth)
		r.Get("/api/drive/{id}/wipe-methods", wrapper.GetWipeMethods)
		r.Post("/api/unmount", si.Unmount)

		r.Post("/api/wipe", si.StartWipe)
		r.Post("/api/wipe/pause", si.PauseWipe)
		r.Post("/api/wipe/resume", si.ResumeWipe)
		r.Post("/api/wipe/abort", si.AbortWipe)
		r.Get("/api/wipe/jobs", si.ListJobs)
		r.Get("/api/wipe/jobs/{jobId}", wrapper.GetJob)

		r.Post("/api/certificate/generate", si.GenerateCertificate)
		r.Get("/api/certificates", wrapper.ListCertificates)
		r.Get("/api/certificates/{id}", wrapper.GetCertificate)
		r.Post("/api/certificates/{id}/revoke", wrapper.RevokeCertificate)
		r.Get("/api/certificates/{id}/verify", wrapper.VerifyCertificate)

		r.Post("/api/maintenance/audit", si.RunAudit)

		r.Get("/ws", si.Events)

		r.Get("/health/live", si.HealthLive)
		r.Get("/health/ready", si.HealthReady)
		r.Get("/metrics", si.GetMetrics)
	})

	return r
}
