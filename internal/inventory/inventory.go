// Пакет inventory — обнаружение накопителей и мобильных устройств.
//
// Каждый вызов опрашивает ОС заново (lsblk, hdparm, adb, idevice_id),
// результат не кэшируется: устройство может быть отключено в любой момент.
package inventory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/bigkaa/dzap-backend/internal/domain/apperr"
	"github.com/bigkaa/dzap-backend/internal/domain/model"
	"github.com/bigkaa/dzap-backend/internal/sysexec"
)

// frozenProbeLimit — максимум одновременных запусков hdparm.
const frozenProbeLimit = 4

// BusyChecker сообщает, удерживает ли движок затирания устройство.
type BusyChecker interface {
	IsBusy(deviceID string) bool
}

// Inventory — источник сведений о подключённых устройствах.
type Inventory struct {
	runner sysexec.Runner
	logger *slog.Logger

	mu   sync.RWMutex
	busy BusyChecker
}

// New создаёт Inventory.
func New(runner sysexec.Runner, logger *slog.Logger) *Inventory {
	return &Inventory{
		runner: runner,
		logger: logger.With(slog.String("component", "inventory")),
	}
}

// SetBusyChecker подключает движок затирания после его создания.
func (inv *Inventory) SetBusyChecker(b BusyChecker) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.busy = b
}

func (inv *Inventory) isBusy(id string) bool {
	inv.mu.RLock()
	b := inv.busy
	inv.mu.RUnlock()
	return b != nil && b.IsBusy(id)
}

// ListDevices возвращает накопители и мобильные устройства.
// Системные диски идут первыми, остальные — по пути.
func (inv *Inventory) ListDevices(ctx context.Context) (*model.DeviceList, error) {
	disks, err := inv.scanDisks(ctx)
	if err != nil {
		return nil, err
	}

	list := &model.DeviceList{
		Storage: make([]model.StorageDevice, 0, len(disks)),
		Mobile:  inv.scanMobile(ctx),
	}
	for _, d := range disks {
		list.Storage = append(list.Storage, d.device)
	}
	return list, nil
}

// Resolve находит подключённое устройство по идентификатору
// (путь накопителя или serial мобильного устройства).
func (inv *Inventory) Resolve(ctx context.Context, id string) (model.Device, error) {
	if strings.HasPrefix(id, "/dev/") {
		disk, err := inv.findDisk(ctx, id)
		if err != nil {
			return nil, err
		}
		dev := disk.device
		return &dev, nil
	}

	for _, m := range inv.scanMobile(ctx) {
		if m.Serial == id {
			dev := m
			return &dev, nil
		}
	}
	return nil, apperr.NotFound(id, "устройство не подключено")
}

// Unmount размонтирует все разделы накопителя. Системный диск
// и устройство под активным заданием не трогаются.
func (inv *Inventory) Unmount(ctx context.Context, deviceID string) error {
	if inv.isBusy(deviceID) {
		return apperr.Busy(deviceID, "устройство занято активным заданием затирания")
	}

	disk, err := inv.findDisk(ctx, deviceID)
	if err != nil {
		return err
	}
	if disk.device.IsOSDrive {
		return apperr.Forbidden(deviceID, "размонтирование системного диска запрещено")
	}

	// вложенные точки монтирования снимаются первыми
	mounts := make([]string, 0, len(disk.mounts))
	for _, mp := range disk.mounts {
		if mp != "[SWAP]" {
			mounts = append(mounts, mp)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(mounts)))

	for _, mp := range mounts {
		if err := inv.runner.Run(ctx, "umount", mp); err != nil {
			return apperr.Wrap(apperr.KindIO, deviceID, err, "не удалось размонтировать %s", mp)
		}
		inv.logger.Info("Раздел размонтирован",
			slog.String("device", deviceID),
			slog.String("mountpoint", mp),
		)
	}
	return nil
}

func (inv *Inventory) findDisk(ctx context.Context, path string) (*parsedDisk, error) {
	disks, err := inv.scanDisks(ctx)
	if err != nil {
		return nil, err
	}
	for i := range disks {
		if disks[i].device.Path == path {
			return &disks[i], nil
		}
	}
	return nil, apperr.NotFound(path, "устройство не подключено")
}

// scanDisks опрашивает lsblk и параллельно проверяет frozen-состояние.
func (inv *Inventory) scanDisks(ctx context.Context) ([]parsedDisk, error) {
	out, err := inv.runner.Output(ctx, "lsblk", "-J", "-b", "-o", lsblkColumns)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindIO, "", err, "не удалось получить список блочных устройств")
	}
	disks, err := parseLsblk(out)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindIO, "", err, "некорректный вывод lsblk")
	}

	if inv.runner.LookPath("hdparm") {
		if err := inv.probeFrozen(ctx, disks); err != nil {
			return nil, err
		}
	}

	for i := range disks {
		d := &disks[i].device
		d.State = d.Status()
		if inv.isBusy(d.Path) {
			d.State = model.DeviceWiping
		}
	}

	sort.SliceStable(disks, func(i, j int) bool {
		a, b := disks[i].device, disks[j].device
		if a.IsOSDrive != b.IsOSDrive {
			return a.IsOSDrive
		}
		return a.Path < b.Path
	})
	return disks, nil
}

// probeFrozen запускает hdparm -I для SATA-накопителей. Ошибка отдельной
// проверки не считается фатальной: устройство остаётся не-frozen.
func (inv *Inventory) probeFrozen(ctx context.Context, disks []parsedDisk) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(frozenProbeLimit)

	for i := range disks {
		d := &disks[i].device
		if d.Type != model.ClassSATASSD && d.Type != model.ClassHDD {
			continue
		}
		// занятое устройство не опрашиваем: hdparm конкурирует с записью
		if inv.isBusy(d.Path) {
			continue
		}
		g.Go(func() error {
			out, err := inv.runner.Output(gctx, "hdparm", "-I", d.Path)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				inv.logger.Debug("hdparm недоступен для устройства",
					slog.String("device", d.Path),
					slog.String("error", err.Error()),
				)
				return nil
			}
			d.IsFrozen = parseHdparmFrozen(out)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("проверка frozen прервана: %w", err)
	}
	return nil
}

// scanMobile опрашивает adb и libimobiledevice. Отсутствие утилит — не ошибка.
func (inv *Inventory) scanMobile(ctx context.Context) []model.MobileDevice {
	result := make([]model.MobileDevice, 0)

	if inv.runner.LookPath("adb") {
		out, err := inv.runner.Output(ctx, "adb", "devices", "-l")
		if err != nil {
			inv.logger.Warn("Не удалось опросить adb", slog.String("error", err.Error()))
		} else {
			result = append(result, parseAdbDevices(out)...)
		}
	}

	if inv.runner.LookPath("idevice_id") {
		out, err := inv.runner.Output(ctx, "idevice_id", "-l")
		if err != nil {
			inv.logger.Warn("Не удалось опросить idevice_id", slog.String("error", err.Error()))
		} else {
			for _, udid := range parseIdeviceIDs(out) {
				result = append(result, inv.iosDevice(ctx, udid))
			}
		}
	}

	for i := range result {
		if inv.isBusy(result[i].Serial) {
			result[i].State = model.DeviceWiping
		}
	}
	sort.SliceStable(result, func(i, j int) bool { return result[i].Serial < result[j].Serial })
	return result
}

func (inv *Inventory) iosDevice(ctx context.Context, udid string) model.MobileDevice {
	dev := model.MobileDevice{
		Serial:     udid,
		Name:       udid,
		Model:      "iOS device",
		Type:       model.ClassIOS,
		Category:   model.CategoryMobile,
		Authorized: true,
	}
	if inv.runner.LookPath("ideviceinfo") {
		if out, err := inv.runner.Output(ctx, "ideviceinfo", "-u", udid, "-k", "ProductType"); err == nil {
			if pt := strings.TrimSpace(string(out)); pt != "" {
				dev.Model = pt
			}
		}
	}
	dev.State = dev.Status()
	return dev
}
