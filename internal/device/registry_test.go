package device

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
)

// fakeDriver — заглушка драйвера для тестов реестра.
type fakeDriver struct {
	mu     sync.Mutex
	closed bool
}

func (d *fakeDriver) Execute(ctx context.Context, req ExecuteRequest) ([]Sample, error) {
	return nil, nil
}
func (d *fakeDriver) Abort() error { return nil }
func (d *fakeDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}
func (d *fakeDriver) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dev(port string) DiscoveredDevice {
	return DiscoveredDevice{Port: port, Driver: &fakeDriver{}}
}

func TestRescan_AssignsSlotNamesInPortOrder(t *testing.T) {
	r := NewRegistry(testLogger())
	r.Rescan([]DiscoveredDevice{dev("/dev/ttyACM2"), dev("/dev/ttyACM0"), dev("/dev/ttyACM1")})

	list := r.List()
	if len(list) != 3 {
		t.Fatalf("хотели 3 слота, получили %d", len(list))
	}
	wantPorts := []string{"/dev/ttyACM0", "/dev/ttyACM1", "/dev/ttyACM2"}
	wantNames := []string{"slot01", "slot02", "slot03"}
	for i, info := range list {
		if info.Slot != wantNames[i] || info.Port != wantPorts[i] {
			t.Errorf("слот %d: хотели %s/%s, получили %s/%s",
				i, wantNames[i], wantPorts[i], info.Slot, info.Port)
		}
	}
}

func TestRescan_FreeSlotKeepsNameByPort(t *testing.T) {
	r := NewRegistry(testLogger())
	r.Rescan([]DiscoveredDevice{dev("/dev/ttyACM0"), dev("/dev/ttyACM1")})

	// тот же набор портов в другом порядке — имена не меняются
	r.Rescan([]DiscoveredDevice{dev("/dev/ttyACM1"), dev("/dev/ttyACM0")})
	for _, info := range r.List() {
		switch info.Port {
		case "/dev/ttyACM0":
			if info.Slot != "slot01" {
				t.Errorf("порт ACM0: хотели slot01, получили %s", info.Slot)
			}
		case "/dev/ttyACM1":
			if info.Slot != "slot02" {
				t.Errorf("порт ACM1: хотели slot02, получили %s", info.Slot)
			}
		}
	}
}

func TestRescan_BusySlotSurvives(t *testing.T) {
	r := NewRegistry(testLogger())
	busyDrv := &fakeDriver{}
	r.Rescan([]DiscoveredDevice{
		{Port: "/dev/ttyACM0", Driver: busyDrv},
		dev("/dev/ttyACM1"),
	})
	if err := r.Claim("slot01", "run-1"); err != nil {
		t.Fatalf("не удалось занять слот: %v", err)
	}

	// порт занятого слота исчез из скана — слот остаётся
	r.Rescan([]DiscoveredDevice{dev("/dev/ttyACM1")})

	list := r.List()
	if len(list) != 2 {
		t.Fatalf("хотели 2 слота, получили %d: %+v", len(list), list)
	}
	if !list[0].Busy || list[0].Slot != "slot01" || list[0].RunID != "run-1" {
		t.Errorf("занятый слот должен пережить пересканирование: %+v", list[0])
	}
	if busyDrv.isClosed() {
		t.Error("драйвер занятого слота не должен закрываться")
	}
}

func TestRescan_VanishedFreeSlotClosedAndDropped(t *testing.T) {
	r := NewRegistry(testLogger())
	drv := &fakeDriver{}
	r.Rescan([]DiscoveredDevice{{Port: "/dev/ttyACM0", Driver: drv}, dev("/dev/ttyACM1")})
	r.Rescan([]DiscoveredDevice{dev("/dev/ttyACM1")})

	if r.Len() != 1 {
		t.Fatalf("хотели 1 слот, получили %d", r.Len())
	}
	if !drv.isClosed() {
		t.Error("драйвер исчезнувшего слота должен быть закрыт")
	}
	// освободившееся имя получает следующее новое устройство
	r.Rescan([]DiscoveredDevice{dev("/dev/ttyACM1"), dev("/dev/ttyACM5")})
	names := r.Names()
	if len(names) != 2 || names[0] != "slot01" || names[1] != "slot02" {
		t.Errorf("хотели [slot01 slot02], получили %v", names)
	}
}

func TestClaimRelease(t *testing.T) {
	r := NewRegistry(testLogger())
	r.Rescan([]DiscoveredDevice{dev("/dev/ttyACM0")})

	if err := r.Claim("slot01", "run-1"); err != nil {
		t.Fatalf("первый Claim: %v", err)
	}
	if err := r.Claim("slot01", "run-2"); !errors.Is(err, ErrSlotBusy) {
		t.Errorf("повторный Claim: хотели ErrSlotBusy, получили %v", err)
	}
	if err := r.Claim("slot99", "run-2"); !errors.Is(err, ErrSlotUnknown) {
		t.Errorf("незнакомый слот: хотели ErrSlotUnknown, получили %v", err)
	}

	// освобождение чужим запуском игнорируется
	r.Release("slot01", "run-2")
	if err := r.Claim("slot01", "run-3"); !errors.Is(err, ErrSlotBusy) {
		t.Errorf("слот не должен освобождаться чужим запуском: %v", err)
	}
	r.Release("slot01", "run-1")
	if err := r.Claim("slot01", "run-3"); err != nil {
		t.Errorf("слот должен быть свободен после Release владельцем: %v", err)
	}
}

func TestBusyPorts(t *testing.T) {
	r := NewRegistry(testLogger())
	r.Rescan([]DiscoveredDevice{dev("/dev/ttyACM0"), dev("/dev/ttyACM1")})

	if ports := r.BusyPorts(); len(ports) != 0 {
		t.Errorf("без запусков занятых портов нет: %v", ports)
	}

	if err := r.Claim("slot02", "run-1"); err != nil {
		t.Fatal(err)
	}
	ports := r.BusyPorts()
	if len(ports) != 1 || ports[0] != "/dev/ttyACM1" {
		t.Errorf("занятые порты: хотели [/dev/ttyACM1], получили %v", ports)
	}

	r.Release("slot02", "run-1")
	if ports := r.BusyPorts(); len(ports) != 0 {
		t.Errorf("после Release занятых портов нет: %v", ports)
	}
}

func TestClaim_Concurrent(t *testing.T) {
	r := NewRegistry(testLogger())
	r.Rescan([]DiscoveredDevice{dev("/dev/ttyACM0")})

	const n = 32
	var wg sync.WaitGroup
	var okCount int32
	var mu sync.Mutex
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := r.Claim("slot01", "run"); err == nil {
				mu.Lock()
				okCount++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	if okCount != 1 {
		t.Errorf("слот должен достаться ровно одному: получили %d", okCount)
	}
}

func TestDriver(t *testing.T) {
	r := NewRegistry(testLogger())
	drv := &fakeDriver{}
	r.Rescan([]DiscoveredDevice{{Port: "/dev/ttyACM0", Driver: drv}})

	got, ok := r.Driver("slot01")
	if !ok || got != Driver(drv) {
		t.Error("Driver должен вернуть драйвер слота")
	}
	if _, ok := r.Driver("slot09"); ok {
		t.Error("Driver незнакомого слота должен вернуть false")
	}
}
