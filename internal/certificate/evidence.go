package certificate

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bigkaa/dzap-backend/internal/domain/model"
)

// Результат верификации в доказательной записи.
const (
	verificationPassed       = "passed"
	verificationFailed       = "failed"
	verificationNotPerformed = "not_performed"
)

// evidenceRecord строит каноническую запись. Используются map, чтобы
// encoding/json упорядочил ключи; набор полей фиксирован.
func evidenceRecord(c *model.Certificate) map[string]any {
	result := verificationNotPerformed
	if c.Verification.Passed != nil {
		result = verificationFailed
		if *c.Verification.Passed {
			result = verificationPassed
		}
	}
	mode := c.Verification.Mode
	if mode == "" {
		mode = model.VerifyNone
	}

	return map[string]any{
		"jobId": c.JobID,
		"device": map[string]any{
			"id":     c.Device.ID,
			"model":  c.Device.Model,
			"serial": c.Device.Serial,
			"type":   string(c.Device.Type),
			"size":   c.Device.Size,
		},
		"method":     c.Method,
		"startedAt":  c.StartedAt.UTC().Format(time.RFC3339Nano),
		"finishedAt": c.FinishedAt.UTC().Format(time.RFC3339Nano),
		"passes":     c.Passes,
		"verification": map[string]any{
			"mode":   string(mode),
			"result": result,
		},
	}
}

// CanonicalEvidence возвращает каноническую сериализацию доказательной записи.
func CanonicalEvidence(c *model.Certificate) ([]byte, error) {
	data, err := json.Marshal(evidenceRecord(c))
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации доказательной записи: %w", err)
	}
	return data, nil
}

// EvidenceHash возвращает SHA-256 канонической записи.
func EvidenceHash(c *model.Certificate) ([]byte, error) {
	data, err := CanonicalEvidence(c)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(data)
	return sum[:], nil
}

// VerifyResult — результат независимой проверки сертификата.
type VerifyResult struct {
	// HashMatches — пересчитанный хэш совпадает с EvidenceHash
	HashMatches bool `json:"hashMatches"`
	// SignatureValid — подпись верна для ключа из сертификата
	SignatureValid bool `json:"signatureValid"`
	// TrustedKey — ключ сертификата совпадает с ключом станции
	TrustedKey bool `json:"trustedKey"`
	// Reason — описание первой обнаруженной проблемы
	Reason string `json:"reason,omitempty"`
}

// Valid — сертификат целостен и подписан.
func (r VerifyResult) Valid() bool {
	return r.HashMatches && r.SignatureValid
}

// Trusted — сертификат целостен и подписан ключом этой станции.
func (r VerifyResult) Trusted() bool {
	return r.Valid() && r.TrustedKey
}

// Verify пересчитывает хэш и проверяет подпись по ключу из сертификата.
// trusted — ключ станции для TrustedKey (может быть nil).
func Verify(c *model.Certificate, trusted ed25519.PublicKey) VerifyResult {
	var res VerifyResult

	digest, err := EvidenceHash(c)
	if err != nil {
		res.Reason = err.Error()
		return res
	}
	res.HashMatches = hex.EncodeToString(digest) == c.EvidenceHash
	if !res.HashMatches {
		res.Reason = "хэш доказательной записи не совпадает"
	}

	pub, err := ParsePublicKeyPEM(c.PublicKey)
	if err != nil {
		if res.Reason == "" {
			res.Reason = err.Error()
		}
		return res
	}
	res.TrustedKey = trusted != nil && pub.Equal(trusted)

	sig, err := base64.StdEncoding.DecodeString(c.Signature)
	if err != nil {
		if res.Reason == "" {
			res.Reason = "подпись не в формате base64"
		}
		return res
	}
	// подпись ставится над хэшом из сертификата: при несовпадении хэша
	// она всё ещё может быть валидной, но HashMatches=false
	storedDigest, err := hex.DecodeString(c.EvidenceHash)
	if err != nil {
		if res.Reason == "" {
			res.Reason = "хэш не в формате hex"
		}
		return res
	}
	res.SignatureValid = ed25519.Verify(pub, storedDigest, sig)
	if !res.SignatureValid && res.Reason == "" {
		res.Reason = "подпись недействительна"
	}
	return res
}
