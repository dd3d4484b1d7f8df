package main

import (
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/bigkaa/dzap-backend/internal/certificate"
	"github.com/bigkaa/dzap-backend/internal/domain/model"
)

var (
	keygenOut  string
	verifyKey  string
	verifyJSON bool
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Создать ключ подписи станции",
	Long: `Создаёт ключ Ed25519 в формате PKCS#8 PEM и печатает открытый ключ.
Существующий файл не перезаписывается.`,
	RunE: runKeygen,
}

var certCmd = &cobra.Command{
	Use:   "cert",
	Short: "Операции с файлами сертификатов",
}

var certVerifyCmd = &cobra.Command{
	Use:   "verify <file>",
	Short: "Проверить подпись и хэш сертификата",
	Args:  cobra.ExactArgs(1),
	RunE:  runCertVerify,
}

func init() {
	keygenCmd.Flags().StringVarP(&keygenOut, "out", "o", defaultKeyPath(), "путь к файлу ключа")

	certVerifyCmd.Flags().StringVar(&verifyKey, "key", "", "PEM с открытым ключом станции для проверки доверия")
	certVerifyCmd.Flags().BoolVar(&verifyJSON, "json", false, "вывод результата в JSON")

	certCmd.AddCommand(certVerifyCmd)
	rootCmd.AddCommand(keygenCmd, certCmd)
}

// defaultKeyPath — путь ключа по умолчанию, как у serve.
func defaultKeyPath() string {
	if v := os.Getenv("DZ_SIGNING_KEY"); v != "" {
		return v
	}
	dir := os.Getenv("DZ_STATE_DIR")
	if dir == "" {
		dir = "/var/lib/dzap"
	}
	return filepath.Join(dir, "signing.pem")
}

func runKeygen(cmd *cobra.Command, _ []string) error {
	signer, err := certificate.Generate(keygenOut)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Ключ записан в %s\n", keygenOut)
	fmt.Fprint(cmd.OutOrStdout(), signer.PublicKeyPEM())
	return nil
}

func runCertVerify(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("не удалось прочитать сертификат: %w", err)
	}
	var c model.Certificate
	if err := json.Unmarshal(data, &c); err != nil {
		return fmt.Errorf("файл %s не является сертификатом: %w", args[0], err)
	}

	var trusted ed25519.PublicKey
	if verifyKey != "" {
		pemData, err := os.ReadFile(verifyKey)
		if err != nil {
			return fmt.Errorf("не удалось прочитать открытый ключ: %w", err)
		}
		if trusted, err = certificate.ParsePublicKeyPEM(string(pemData)); err != nil {
			return err
		}
	}

	res := certificate.Verify(&c, trusted)
	out := cmd.OutOrStdout()
	if verifyJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(struct {
			CertificateID string `json:"certificateId"`
			Valid         bool   `json:"valid"`
			certificate.VerifyResult
		}{c.ID, res.Valid(), res}); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(out, "Сертификат:      %s\n", c.ID)
		fmt.Fprintf(out, "Устройство:      %s (%s)\n", c.Device.Serial, c.Device.Model)
		fmt.Fprintf(out, "Метод:           %s\n", c.Method)
		fmt.Fprintf(out, "Хэш совпадает:   %t\n", res.HashMatches)
		fmt.Fprintf(out, "Подпись верна:   %t\n", res.SignatureValid)
		if verifyKey != "" {
			fmt.Fprintf(out, "Ключ доверенный: %t\n", res.TrustedKey)
		}
		if res.Reason != "" {
			fmt.Fprintf(out, "Причина:         %s\n", res.Reason)
		}
	}

	if !res.Valid() {
		return errors.New("сертификат не прошёл проверку")
	}
	if verifyKey != "" && !res.TrustedKey {
		return errors.New("сертификат подписан ключом другой станции")
	}
	return nil
}
