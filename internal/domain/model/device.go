// Пакет model — доменные модели сервиса уничтожения данных.
// Структуры используются и как in-memory представление, и как
// JSON-формат HTTP API и файлов на диске.
package model

// DeviceClass — класс устройства, определяет набор допустимых методов.
type DeviceClass string

const (
	ClassHDD     DeviceClass = "HDD"
	ClassSATASSD DeviceClass = "SATA SSD"
	ClassNVMe    DeviceClass = "NVMe SSD"
	ClassUSB     DeviceClass = "USB Drive"
	ClassUnknown DeviceClass = "Unknown"
	ClassAndroid DeviceClass = "Android"
	ClassIOS     DeviceClass = "iOS"
)

// IsMobile проверяет, относится ли класс к мобильным устройствам.
func (c DeviceClass) IsMobile() bool {
	return c == ClassAndroid || c == ClassIOS
}

// DeviceCategory — категория устройства в ответе /api/drives.
type DeviceCategory string

const (
	CategoryStorage DeviceCategory = "storage"
	CategoryMobile  DeviceCategory = "mobile"
)

// DeviceStatus — готовность устройства к затиранию.
type DeviceStatus string

const (
	DeviceReady    DeviceStatus = "ready"
	DeviceWiping   DeviceStatus = "wiping"
	DeviceNotReady DeviceStatus = "not-ready"
)

// Device — общее поведение накопителей и мобильных устройств.
type Device interface {
	// ID — уникальный в своей категории идентификатор (путь или serial)
	ID() string
	// Class — класс устройства
	Class() DeviceClass
	// Status — готовность к затиранию без учёта активных заданий
	Status() DeviceStatus
}

// Partition — раздел накопителя.
type Partition struct {
	Name       string `json:"name"`
	Size       uint64 `json:"size"`
	Type       string `json:"type"`
	MountPoint string `json:"mountPoint,omitempty"`
}

// StorageDevice — блочное устройство (HDD, SSD, NVMe, USB).
type StorageDevice struct {
	// Path — путь к устройству, идентификатор (/dev/sdb)
	Path string `json:"id"`
	// Name — имя ядра (sdb, nvme0n1)
	Name       string         `json:"name"`
	Model      string         `json:"model"`
	Serial     string         `json:"serial,omitempty"`
	Size       uint64         `json:"size"`
	Type       DeviceClass    `json:"type"`
	Transport  string         `json:"transport,omitempty"`
	Partitions []Partition    `json:"partitions"`
	IsMounted  bool           `json:"isMounted"`
	IsFrozen   bool           `json:"isFrozen"`
	IsOSDrive  bool           `json:"isOSDrive"`
	Category   DeviceCategory `json:"deviceCategory"`
	State      DeviceStatus   `json:"status"`
}

func (d *StorageDevice) ID() string         { return d.Path }
func (d *StorageDevice) Class() DeviceClass { return d.Type }

// Status вычисляет готовность: OS-диск, смонтированный или frozen
// накопитель не готов к затиранию.
func (d *StorageDevice) Status() DeviceStatus {
	if d.IsOSDrive || d.IsMounted || d.IsFrozen {
		return DeviceNotReady
	}
	return DeviceReady
}

// MobileDevice — мобильное устройство, подключённое по USB (adb, libimobiledevice).
type MobileDevice struct {
	Serial   string         `json:"id"`
	Model    string         `json:"model"`
	Name     string         `json:"name"`
	Type     DeviceClass    `json:"type"`
	Category DeviceCategory `json:"deviceCategory"`
	State    DeviceStatus   `json:"status"`
	// Authorized — устройство доверяет хосту (adb "device", а не "unauthorized")
	Authorized bool `json:"authorized"`
}

func (d *MobileDevice) ID() string         { return d.Serial }
func (d *MobileDevice) Class() DeviceClass { return d.Type }

func (d *MobileDevice) Status() DeviceStatus {
	if !d.Authorized {
		return DeviceNotReady
	}
	return DeviceReady
}

// DeviceList — ответ инвентаризации.
type DeviceList struct {
	Storage []StorageDevice `json:"storage"`
	Mobile  []MobileDevice  `json:"mobile"`
}

// Проверка соответствия интерфейсу на этапе компиляции.
var (
	_ Device = (*StorageDevice)(nil)
	_ Device = (*MobileDevice)(nil)
)
