package certificate

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Signer — ключ подписи станции (Ed25519).
type Signer struct {
	priv   ed25519.PrivateKey
	pub    ed25519.PublicKey
	pubPEM string
}

// LoadOrCreate читает ключ PKCS#8 PEM из path; при отсутствии файла
// генерирует новый ключ и сохраняет его с правами 0600.
func LoadOrCreate(path string) (*Signer, bool, error) {
	s, err := Load(path)
	if err == nil {
		return s, false, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, false, err
	}
	s, err = Generate(path)
	if err != nil {
		return nil, false, err
	}
	return s, true, nil
}

// Load читает ключ PKCS#8 PEM.
func Load(path string) (*Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("не удалось прочитать ключ подписи %s: %w", path, err)
	}
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "PRIVATE KEY" {
		return nil, fmt.Errorf("файл %s не содержит PEM-блок PRIVATE KEY", path)
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("не удалось разобрать ключ %s: %w", path, err)
	}
	priv, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("ключ %s не является ключом Ed25519 (%T)", path, key)
	}
	return newSigner(priv)
}

// Generate создаёт новый ключ и записывает его в path.
// Существующий файл не перезаписывается.
func Generate(path string) (*Signer, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("ошибка генерации ключа: %w", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации ключа: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию ключа: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("не удалось создать файл ключа %s: %w", path, err)
	}
	if err := pem.Encode(f, &pem.Block{Type: "PRIVATE KEY", Bytes: der}); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("ошибка записи ключа: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("ошибка fsync ключа: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("ошибка закрытия файла ключа: %w", err)
	}
	return newSigner(priv)
}

func newSigner(priv ed25519.PrivateKey) (*Signer, error) {
	pub := priv.Public().(ed25519.PublicKey)
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации открытого ключа: %w", err)
	}
	return &Signer{
		priv:   priv,
		pub:    pub,
		pubPEM: string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})),
	}, nil
}

// Sign подписывает digest.
func (s *Signer) Sign(digest []byte) []byte {
	return ed25519.Sign(s.priv, digest)
}

// PublicKeyPEM возвращает открытый ключ в PEM (PKIX).
func (s *Signer) PublicKeyPEM() string {
	return s.pubPEM
}

// ParsePublicKeyPEM разбирает открытый ключ Ed25519 из PEM.
func ParsePublicKeyPEM(data string) (ed25519.PublicKey, error) {
	block, _ := pem.Decode([]byte(data))
	if block == nil || block.Type != "PUBLIC KEY" {
		return nil, errors.New("PEM-блок PUBLIC KEY не найден")
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("не удалось разобрать открытый ключ: %w", err)
	}
	pub, ok := key.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("открытый ключ не является ключом Ed25519 (%T)", key)
	}
	return pub, nil
}
