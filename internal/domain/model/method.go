package model

// StrategyTag — семейство исполнения метода затирания.
type StrategyTag string

const (
	// StrategyOverwrite — N проходов записи шаблона по всему объёму
	StrategyOverwrite StrategyTag = "overwrite"
	// StrategyFirmwareErase — ATA Security Erase
	StrategyFirmwareErase StrategyTag = "firmware_secure_erase"
	// StrategyNVMeSanitize — NVMe Sanitize / Format
	StrategyNVMeSanitize StrategyTag = "nvme_sanitize"
	// StrategyCryptoErase — уничтожение ключа шифрования носителя
	StrategyCryptoErase StrategyTag = "crypto_erase"
	// StrategyFactoryReset — сброс мобильного устройства к заводским настройкам
	StrategyFactoryReset StrategyTag = "factory_reset"
)

// Pattern — шаблон одного прохода перезаписи.
type Pattern struct {
	// Fill — байт заполнения (игнорируется при Random)
	Fill byte `json:"fill"`
	// Random — псевдослучайный поток
	Random bool `json:"random,omitempty"`
}

// WipeMethod — элемент каталога методов. Неизменяемый.
type WipeMethod struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Strategy    StrategyTag `json:"strategy"`
	// Passes — число проходов (1 для firmware-методов)
	Passes int `json:"passes"`
	// Pausable — метод поддерживает Pause/Resume
	Pausable bool `json:"pausable"`
	// Patterns — шаблоны проходов (только overwrite)
	Patterns []Pattern `json:"-"`
	// Command — вариант firmware-команды (sanitize-crypto, format-user, ...)
	Command string `json:"-"`
	// TypicalSeconds — ожидаемая длительность firmware-команды для синтетического прогресса
	TypicalSeconds int `json:"-"`
}
