package model

import "time"

// CertificateStatus — статус сертификата уничтожения.
type CertificateStatus string

const (
	CertValid   CertificateStatus = "valid"
	CertExpired CertificateStatus = "expired"
	CertRevoked CertificateStatus = "revoked"
)

// DeviceSnapshot — неизменяемый снимок идентичности устройства на момент затирания.
type DeviceSnapshot struct {
	ID     string      `json:"id"`
	Model  string      `json:"model"`
	Serial string      `json:"serial"`
	Type   DeviceClass `json:"type"`
	Size   uint64      `json:"size"`
}

// Certificate — сертификат уничтожения данных. Соответствует
// содержимому {id}.cert.json. После выпуска меняются только поля статуса.
type Certificate struct {
	ID         string         `json:"id"`
	JobID      string         `json:"jobId"`
	Device     DeviceSnapshot `json:"device"`
	Method     string         `json:"method"`
	MethodName string         `json:"methodName"`
	Passes     int            `json:"passes"`
	// Standard — политика/стандарт (например, NIST SP 800-88 Rev.1)
	Standard     string       `json:"standard"`
	Operator     string       `json:"operator"`
	StartedAt    time.Time    `json:"startedAt"`
	FinishedAt   time.Time    `json:"finishedAt"`
	Verification Verification `json:"verification"`

	Status           CertificateStatus `json:"status"`
	IssuedAt         time.Time         `json:"issuedAt"`
	ExpiresAt        *time.Time        `json:"expiresAt,omitempty"`
	RevokedAt        *time.Time        `json:"revokedAt,omitempty"`
	RevocationReason string            `json:"revocationReason,omitempty"`

	// EvidenceHash — SHA-256 (hex) канонической сериализации записи задания
	EvidenceHash string `json:"evidenceHash"`
	// Signature — подпись Ed25519 (base64) над EvidenceHash
	Signature string `json:"signature"`
	// PublicKey — PEM открытого ключа для независимой проверки
	PublicKey string `json:"publicKey"`
	// SignatureValid — результат проверки при чтении, не хранится
	SignatureValid bool `json:"signatureValid"`
}

// IsExpired проверяет, истёк ли срок действия сертификата.
func (c *Certificate) IsExpired(now time.Time) bool {
	if c.ExpiresAt == nil {
		return false
	}
	return now.After(*c.ExpiresAt)
}
