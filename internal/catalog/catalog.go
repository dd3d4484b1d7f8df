// Пакет catalog — каталог методов затирания по классам устройств.
// Чистые функции над статической таблицей, без обращения к устройствам.
package catalog

import (
	"github.com/bigkaa/dzap-backend/internal/domain/model"
)

// Идентификаторы методов.
const (
	NVMeSanitize        = "nvme_sanitize"
	NVMeFormat          = "nvme_format"
	CryptoErase         = "crypto_erase"
	SATASecureErase     = "sata_secure_erase"
	Overwrite1Pass      = "overwrite_1_pass"
	Overwrite2Pass      = "overwrite_2_pass"
	Overwrite3Pass      = "overwrite_3_pass"
	AndroidFactoryReset = "android_factory_reset"
	IOSErase            = "ios_erase"
)

// Варианты firmware-команд (WipeMethod.Command).
const (
	CmdNVMeSanitizeCrypto = "nvme-sanitize-crypto"
	CmdNVMeFormatUser     = "nvme-format-user"
	CmdNVMeFormatCrypto   = "nvme-format-crypto"
	CmdATASecurityErase   = "ata-security-erase"
	CmdATACryptoErase     = "ata-crypto-erase"
	CmdAndroidWipeData    = "adb-wipe-data"
	CmdIOSErase           = "ios-erase"
)

var methods = map[string]model.WipeMethod{
	NVMeSanitize: {
		ID:             NVMeSanitize,
		Name:           "NVMe Sanitize",
		Description:    "Команда контроллера NVMe Sanitize (crypto erase со сменой ключа носителя)",
		Strategy:       model.StrategyNVMeSanitize,
		Passes:         1,
		Command:        CmdNVMeSanitizeCrypto,
		TypicalSeconds: 60,
	},
	NVMeFormat: {
		ID:             NVMeFormat,
		Name:           "NVMe Format (User Data Erase)",
		Description:    "NVMe Format NVM с Secure Erase Settings = 1",
		Strategy:       model.StrategyFirmwareErase,
		Passes:         1,
		Command:        CmdNVMeFormatUser,
		TypicalSeconds: 30,
	},
	CryptoErase: {
		ID:             CryptoErase,
		Name:           "Cryptographic Erase",
		Description:    "Уничтожение ключа шифрования носителя (SED)",
		Strategy:       model.StrategyCryptoErase,
		Passes:         1,
		Command:        CmdNVMeFormatCrypto,
		TypicalSeconds: 10,
	},
	SATASecureErase: {
		ID:             SATASecureErase,
		Name:           "ATA Secure Erase",
		Description:    "Встроенная команда ATA Security Erase Unit",
		Strategy:       model.StrategyFirmwareErase,
		Passes:         1,
		Command:        CmdATASecurityErase,
		TypicalSeconds: 120,
	},
	Overwrite1Pass: {
		ID:          Overwrite1Pass,
		Name:        "Overwrite (1 pass, zeros)",
		Description: "Однократная запись нулей по всему объёму (NIST SP 800-88 Clear)",
		Strategy:    model.StrategyOverwrite,
		Passes:      1,
		Pausable:    true,
		Patterns:    []model.Pattern{{Fill: 0x00}},
	},
	Overwrite2Pass: {
		ID:          Overwrite2Pass,
		Name:        "Overwrite (2 passes)",
		Description: "Два прохода: 0x55, затем 0xAA",
		Strategy:    model.StrategyOverwrite,
		Passes:      2,
		Pausable:    true,
		Patterns:    []model.Pattern{{Fill: 0x55}, {Fill: 0xAA}},
	},
	Overwrite3Pass: {
		ID:          Overwrite3Pass,
		Name:        "Overwrite (3 passes)",
		Description: "Три прохода: 0x00, 0xFF, псевдослучайные данные",
		Strategy:    model.StrategyOverwrite,
		Passes:      3,
		Pausable:    true,
		Patterns:    []model.Pattern{{Fill: 0x00}, {Fill: 0xFF}, {Random: true}},
	},
	AndroidFactoryReset: {
		ID:             AndroidFactoryReset,
		Name:           "Android Factory Reset",
		Description:    "Сброс к заводским настройкам через adb (шифрованный userdata)",
		Strategy:       model.StrategyFactoryReset,
		Passes:         1,
		Command:        CmdAndroidWipeData,
		TypicalSeconds: 30,
	},
	IOSErase: {
		ID:             IOSErase,
		Name:           "iOS Erase All Content",
		Description:    "Стирание содержимого через libimobiledevice (смена ключа класса)",
		Strategy:       model.StrategyFactoryReset,
		Passes:         1,
		Command:        CmdIOSErase,
		TypicalSeconds: 60,
	},
}

// byClass — упорядоченные наборы методов для каждого класса.
var byClass = map[model.DeviceClass][]string{
	model.ClassNVMe:    {NVMeSanitize, NVMeFormat, CryptoErase, Overwrite1Pass},
	model.ClassSATASSD: {SATASecureErase, CryptoErase, Overwrite1Pass},
	model.ClassHDD:     {Overwrite1Pass, Overwrite3Pass, SATASecureErase},
	model.ClassUSB:     {Overwrite2Pass},
	model.ClassUnknown: {Overwrite2Pass},
	model.ClassAndroid: {AndroidFactoryReset},
	model.ClassIOS:     {IOSErase},
}

// SATA SSD с crypto_erase исполняет ATA-вариант команды.
var classCommand = map[model.DeviceClass]map[string]string{
	model.ClassSATASSD: {CryptoErase: CmdATACryptoErase},
}

// GetMethods возвращает методы для класса устройства.
// Для нераспознанного класса — общий вариант перезаписи; ошибок не бывает.
func GetMethods(class model.DeviceClass) []model.WipeMethod {
	ids, ok := byClass[class]
	if !ok {
		ids = byClass[model.ClassUnknown]
	}
	result := make([]model.WipeMethod, 0, len(ids))
	for _, id := range ids {
		result = append(result, forClass(class, methods[id]))
	}
	return result
}

// Lookup ищет метод в наборе класса. Используется при допуске задания.
func Lookup(class model.DeviceClass, methodID string) (model.WipeMethod, bool) {
	for _, m := range GetMethods(class) {
		if m.ID == methodID {
			return m, true
		}
	}
	return model.WipeMethod{}, false
}

// Method ищет метод по идентификатору без учёта класса.
func Method(methodID string) (model.WipeMethod, bool) {
	m, ok := methods[methodID]
	if !ok {
		return model.WipeMethod{}, false
	}
	return clone(m), true
}

func forClass(class model.DeviceClass, m model.WipeMethod) model.WipeMethod {
	m = clone(m)
	if cmd, ok := classCommand[class][m.ID]; ok {
		m.Command = cmd
	}
	return m
}

// clone копирует шаблоны, чтобы вызывающий не мог изменить таблицу.
func clone(m model.WipeMethod) model.WipeMethod {
	if m.Patterns != nil {
		p := make([]model.Pattern, len(m.Patterns))
		copy(p, m.Patterns)
		m.Patterns = p
	}
	return m
}
