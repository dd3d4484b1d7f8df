package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/gorillamux"

	apierrors "github.com/bigkaa/dzap-backend/internal/api/errors"
)

// OpenAPIValidator проверяет запросы к /api/* по OpenAPI документу:
// параметры пути и query, обязательность и схему тела.
// Пути и методы, не описанные в документе, передаются дальше:
// 404/405 отвечает маршрутизатор chi.
func OpenAPIValidator(doc *openapi3.T, logger *slog.Logger) (func(http.Handler) http.Handler, error) {
	router, err := gorillamux.NewRouter(doc)
	if err != nil {
		return nil, err
	}
	logger = logger.With(slog.String("component", "openapi"))

	opts := &openapi3filter.Options{
		MultiError: false,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !strings.HasPrefix(r.URL.Path, "/api/") {
				next.ServeHTTP(w, r)
				return
			}

			route, pathParams, err := router.FindRoute(r)
			if err != nil {
				if errors.Is(err, routers.ErrPathNotFound) || errors.Is(err, routers.ErrMethodNotAllowed) {
					next.ServeHTTP(w, r)
					return
				}
				apierrors.ValidationError(w, err.Error())
				return
			}

			input := &openapi3filter.RequestValidationInput{
				Request:    r,
				PathParams: pathParams,
				Route:      route,
				Options:    opts,
			}
			if err := openapi3filter.ValidateRequest(r.Context(), input); err != nil {
				logger.Debug("Запрос отклонён валидацией",
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
				apierrors.ValidationError(w, validationMessage(err))
				return
			}

			next.ServeHTTP(w, r)
		})
	}, nil
}

// validationMessage сокращает ошибку валидатора до причины
// без дампа схемы и значения.
func validationMessage(err error) string {
	var reqErr *openapi3filter.RequestError
	if errors.As(err, &reqErr) {
		var schemaErr *openapi3.SchemaError
		if errors.As(reqErr.Err, &schemaErr) {
			field := strings.Join(schemaErr.JSONPointer(), ".")
			if field != "" {
				return "некорректный запрос: " + field + ": " + schemaErr.Reason
			}
			return "некорректный запрос: " + schemaErr.Reason
		}
		if reqErr.Parameter != nil {
			return "некорректный параметр " + reqErr.Parameter.Name + ": " + reqErr.Reason
		}
		if reqErr.Reason != "" {
			return "некорректный запрос: " + reqErr.Reason
		}
	}
	return "некорректный запрос: " + err.Error()
}
