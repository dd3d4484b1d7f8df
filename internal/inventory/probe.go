package inventory

import (
	"bufio"
	"bytes"
	"strings"

	"github.com/bigkaa/dzap-backend/internal/domain/model"
)

// parseHdparmFrozen ищет в выводе "hdparm -I" блок Security и в нём
// строку "frozen" без предшествующего "not".
func parseHdparmFrozen(out []byte) bool {
	sc := bufio.NewScanner(bytes.NewReader(out))
	inSecurity := false
	for sc.Scan() {
		line := sc.Text()
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, "Security:") {
			inSecurity = true
			// старые версии hdparm печатают состояние в той же строке
			rest := strings.Fields(strings.TrimPrefix(trimmed, "Security:"))
			if isFrozenLine(rest) {
				return true
			}
			continue
		}
		if !inSecurity {
			continue
		}
		// блок закончился: следующий заголовок без отступа
		if line != "" && line[0] != ' ' && line[0] != '\t' {
			inSecurity = false
			continue
		}
		if isFrozenLine(strings.Fields(trimmed)) {
			return true
		}
	}
	return false
}

func isFrozenLine(fields []string) bool {
	for i, f := range fields {
		if f == "frozen" {
			return i == 0 || fields[i-1] != "not"
		}
	}
	return false
}

// parseAdbDevices разбирает вывод "adb devices -l".
//
//	List of devices attached
//	R58M123ABC   device usb:1-1 product:beyond1 model:SM_G973F device:beyond1
//	0123456789   unauthorized usb:1-2 transport_id:2
func parseAdbDevices(out []byte) []model.MobileDevice {
	var result []model.MobileDevice
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 2 || strings.HasPrefix(fields[0], "*") || fields[0] == "List" {
			continue
		}
		state := fields[1]
		if state != "device" && state != "unauthorized" && state != "recovery" {
			continue
		}

		dev := model.MobileDevice{
			Serial:     fields[0],
			Type:       model.ClassAndroid,
			Category:   model.CategoryMobile,
			Authorized: state == "device" || state == "recovery",
			Model:      "Android device",
		}
		for _, kv := range fields[2:] {
			k, v, ok := strings.Cut(kv, ":")
			if !ok {
				continue
			}
			switch k {
			case "model":
				dev.Model = strings.ReplaceAll(v, "_", " ")
			case "device":
				dev.Name = v
			}
		}
		if dev.Name == "" {
			dev.Name = dev.Serial
		}
		dev.State = dev.Status()
		result = append(result, dev)
	}
	return result
}

// parseIdeviceIDs разбирает вывод "idevice_id -l" (по UDID в строке).
func parseIdeviceIDs(out []byte) []string {
	var ids []string
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		ids = append(ids, fields[0])
	}
	return ids
}
