// Точка входа dzap-backend — сервиса затирания носителей станции.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bigkaa/dzap-backend/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "dzap-backend",
	Short: "Сервис гарантированного затирания носителей",
	Long: `dzap-backend обнаруживает накопители и мобильные устройства станции,
выполняет затирание выбранным методом и выпускает подписанные
сертификаты уничтожения данных. Управление через HTTP API и /ws.`,
	Version:       config.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка: %v\n", err)
		os.Exit(1)
	}
}
