// Пакет openapi — встроенное описание HTTP API сервиса.
// Документ используется middleware валидации запросов.
package openapi

import (
	_ "embed"
	"fmt"

	"github.com/getkin/kin-openapi/openapi3"
)

//go:embed openapi.yaml
var document []byte

func init() {
	// идентификаторы заданий и сертификатов — UUID v4
	openapi3.DefineStringFormatValidator("uuid", openapi3.NewRegexpFormatValidator(openapi3.FormatOfStringForUUIDOfRFC4122))
}

// Raw возвращает исходный YAML документа.
func Raw() []byte {
	return document
}

// Load разбирает и проверяет встроенный документ.
func Load() (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(document)
	if err != nil {
		return nil, fmt.Errorf("ошибка разбора OpenAPI документа: %w", err)
	}
	if err := doc.Validate(loader.Context); err != nil {
		return nil, fmt.Errorf("некорректный OpenAPI документ: %w", err)
	}
	return doc, nil
}
