// certificates.go — обработчики сертификатов уничтожения:
// выпуск, выборка, отзыв и проверка подписи.
package handlers

import (
	"context"
	"net/http"
	"strconv"

	apierrors "github.com/bigkaa/dzap-backend/internal/api/errors"
	"github.com/bigkaa/dzap-backend/internal/api/routes"
	"github.com/bigkaa/dzap-backend/internal/certificate"
	"github.com/bigkaa/dzap-backend/internal/domain/model"
	"github.com/bigkaa/dzap-backend/internal/storage/certindex"
)

// defaultListLimit — размер страницы, если limit не указан.
const defaultListLimit = 100

// CertificateService — выпуск и хранение сертификатов.
type CertificateService interface {
	GenerateFor(ctx context.Context, jobID, serial, method string) (*model.Certificate, error)
	Get(id string) (*model.Certificate, error)
	List(f certindex.Filter) ([]*model.Certificate, int)
	Revoke(id, reason string) (*model.Certificate, error)
	Verify(cert *model.Certificate) certificate.VerifyResult
}

// CertificatesHandler — обработчики /api/certificate*.
type CertificatesHandler struct {
	certs CertificateService
}

// NewCertificatesHandler создаёт обработчик сертификатов.
func NewCertificatesHandler(certs CertificateService) *CertificatesHandler {
	return &CertificatesHandler{certs: certs}
}

type generateRequest struct {
	Model  string `json:"model"`
	Serial string `json:"serial"`
	Method string `json:"method"`
	JobID  string `json:"jobId"`
}

type revokeRequest struct {
	Reason string `json:"reason"`
}

type verifyResponse struct {
	CertificateID string `json:"certificateId"`
	Valid         bool   `json:"valid"`
	certificate.VerifyResult
}

// GenerateCertificate обрабатывает POST /api/certificate/generate.
// Повторный вызов для того же задания возвращает уже выпущенный сертификат.
func (h *CertificatesHandler) GenerateCertificate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	if req.JobID == "" && (req.Serial == "" || req.Method == "") {
		apierrors.ValidationError(w, "требуется jobId либо serial и method")
		return
	}

	cert, err := h.certs.GenerateFor(r.Context(), req.JobID, req.Serial, req.Method)
	if err != nil {
		apierrors.FromError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, cert)
}

// ListCertificates обрабатывает GET /api/certificates.
// Общее число подходящих сертификатов — в заголовке X-Total-Count.
func (h *CertificatesHandler) ListCertificates(w http.ResponseWriter, _ *http.Request, params routes.ListCertificatesParams) {
	f := certindex.Filter{Limit: defaultListLimit}
	if params.Status != nil {
		switch s := model.CertificateStatus(*params.Status); s {
		case model.CertValid, model.CertExpired, model.CertRevoked:
			f.Status = s
		default:
			apierrors.ValidationError(w, "неизвестный статус сертификата: "+*params.Status)
			return
		}
	}
	if params.Serial != nil {
		f.Serial = *params.Serial
	}
	if params.Method != nil {
		f.Method = *params.Method
	}
	if params.Limit != nil {
		if *params.Limit < 1 {
			apierrors.ValidationError(w, "limit должен быть положительным")
			return
		}
		f.Limit = *params.Limit
	}
	if params.Offset != nil {
		if *params.Offset < 0 {
			apierrors.ValidationError(w, "offset не может быть отрицательным")
			return
		}
		f.Offset = *params.Offset
	}

	certs, total := h.certs.List(f)
	if certs == nil {
		certs = []*model.Certificate{}
	}
	w.Header().Set("X-Total-Count", strconv.Itoa(total))
	writeJSON(w, http.StatusOK, certs)
}

// GetCertificate обрабатывает GET /api/certificates/{id}.
func (h *CertificatesHandler) GetCertificate(w http.ResponseWriter, _ *http.Request, id string) {
	cert, err := h.certs.Get(id)
	if err != nil {
		apierrors.FromError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cert)
}

// RevokeCertificate обрабатывает POST /api/certificates/{id}/revoke.
func (h *CertificatesHandler) RevokeCertificate(w http.ResponseWriter, r *http.Request, id string) {
	var req revokeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	if req.Reason == "" {
		apierrors.ValidationError(w, "reason обязателен")
		return
	}

	cert, err := h.certs.Revoke(id, req.Reason)
	if err != nil {
		apierrors.FromError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cert)
}

// VerifyCertificate обрабатывает GET /api/certificates/{id}/verify.
// Пересчитывает хэш доказательств и проверяет подпись.
// valid=true только для подписи ключом этой станции.
func (h *CertificatesHandler) VerifyCertificate(w http.ResponseWriter, _ *http.Request, id string) {
	cert, err := h.certs.Get(id)
	if err != nil {
		apierrors.FromError(w, err)
		return
	}
	res := h.certs.Verify(cert)
	writeJSON(w, http.StatusOK, verifyResponse{
		CertificateID: cert.ID,
		Valid:         res.Trusted(),
		VerifyResult:  res,
	})
}
