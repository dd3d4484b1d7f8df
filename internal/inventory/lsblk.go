package inventory

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/bigkaa/dzap-backend/internal/domain/model"
)

// lsblkColumns — колонки, запрашиваемые у lsblk.
const lsblkColumns = "NAME,PATH,MODEL,SERIAL,SIZE,ROTA,TYPE,TRAN,RM,MOUNTPOINT"

// osMountPoints — точки монтирования, признак системного диска.
var osMountPoints = map[string]bool{
	"/":         true,
	"/boot":     true,
	"/boot/efi": true,
	"/usr":      true,
	"/var":      true,
	"[SWAP]":    true,
}

// flexUint — число, которое разные версии lsblk отдают числом или строкой.
type flexUint uint64

func (f *flexUint) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return fmt.Errorf("некорректное число %q: %w", s, err)
	}
	*f = flexUint(v)
	return nil
}

// flexBool — признак, который lsblk отдаёт как true/false, "1"/"0" или 1/0.
type flexBool bool

func (f *flexBool) UnmarshalJSON(b []byte) error {
	switch strings.Trim(string(b), `"`) {
	case "true", "1":
		*f = true
	default:
		*f = false
	}
	return nil
}

type lsblkDevice struct {
	Name        string        `json:"name"`
	Path        string        `json:"path"`
	Model       string        `json:"model"`
	Serial      string        `json:"serial"`
	Size        flexUint      `json:"size"`
	Rota        flexBool      `json:"rota"`
	Type        string        `json:"type"`
	Tran        string        `json:"tran"`
	RM          flexBool      `json:"rm"`
	MountPoint  string        `json:"mountpoint"`
	MountPoints []string      `json:"mountpoints"`
	Children    []lsblkDevice `json:"children"`
}

type lsblkOutput struct {
	BlockDevices []lsblkDevice `json:"blockdevices"`
}

// mounts возвращает непустые точки монтирования узла.
func (d *lsblkDevice) mounts() []string {
	var out []string
	if d.MountPoint != "" {
		out = append(out, d.MountPoint)
	}
	for _, mp := range d.MountPoints {
		if mp != "" && mp != d.MountPoint {
			out = append(out, mp)
		}
	}
	return out
}

// allMounts рекурсивно собирает точки монтирования узла и потомков
// (разделы, LVM, dm-crypt).
func (d *lsblkDevice) allMounts() []string {
	out := d.mounts()
	for i := range d.Children {
		out = append(out, d.Children[i].allMounts()...)
	}
	return out
}

// parsedDisk — накопитель и все его точки монтирования (включая вложенные).
type parsedDisk struct {
	device model.StorageDevice
	mounts []string
}

// parseLsblk разбирает JSON-вывод lsblk в список накопителей
// без проверки frozen (она выполняется отдельно).
func parseLsblk(data []byte) ([]parsedDisk, error) {
	var out lsblkOutput
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("ошибка разбора вывода lsblk: %w", err)
	}

	devices := make([]parsedDisk, 0, len(out.BlockDevices))
	for i := range out.BlockDevices {
		bd := &out.BlockDevices[i]
		if bd.Type != "disk" || bd.Size == 0 || isVirtual(bd.Name) {
			continue
		}

		path := bd.Path
		if path == "" {
			path = "/dev/" + bd.Name
		}

		dev := model.StorageDevice{
			Path:       path,
			Name:       bd.Name,
			Model:      strings.TrimSpace(bd.Model),
			Serial:     strings.TrimSpace(bd.Serial),
			Size:       uint64(bd.Size),
			Transport:  bd.Tran,
			Partitions: make([]model.Partition, 0, len(bd.Children)),
			Category:   model.CategoryStorage,
		}
		dev.Type = classify(bd.Name, dev.Model, bd.Tran, bool(bd.Rota), bool(bd.RM))

		mounts := bd.allMounts()
		for _, mp := range mounts {
			dev.IsMounted = true
			if osMountPoints[mp] {
				dev.IsOSDrive = true
			}
		}

		for j := range bd.Children {
			ch := &bd.Children[j]
			mp := ""
			if m := ch.allMounts(); len(m) > 0 {
				mp = m[0]
			}
			dev.Partitions = append(dev.Partitions, model.Partition{
				Name:       ch.Name,
				Size:       uint64(ch.Size),
				Type:       ch.Type,
				MountPoint: mp,
			})
		}

		devices = append(devices, parsedDisk{device: dev, mounts: mounts})
	}
	return devices, nil
}

// classify определяет класс накопителя по имени, модели, транспорту и флагам.
func classify(name, devModel, tran string, rotational, removable bool) model.DeviceClass {
	switch {
	case strings.HasPrefix(name, "nvme"):
		return model.ClassNVMe
	case tran == "usb" || removable || strings.Contains(strings.ToLower(devModel), "usb"):
		return model.ClassUSB
	case tran == "" && !strings.HasPrefix(name, "sd") && !strings.HasPrefix(name, "hd") && !strings.HasPrefix(name, "vd"):
		return model.ClassUnknown
	case rotational:
		return model.ClassHDD
	default:
		return model.ClassSATASSD
	}
}

// isVirtual отсеивает виртуальные диски, которые нельзя затирать.
func isVirtual(name string) bool {
	for _, prefix := range []string{"loop", "zram", "ram", "dm-", "md", "sr"} {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}
