package device

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

var (
	// ErrSlotUnknown — слот с таким именем не зарегистрирован.
	ErrSlotUnknown = errors.New("неизвестный слот")
	// ErrSlotBusy — слот уже закреплён за другим запуском.
	ErrSlotBusy = errors.New("слот занят")
)

// SlotInfo — снимок состояния слота для ответов API.
type SlotInfo struct {
	Slot   string `json:"slot"`
	Port   string `json:"port"`
	Serial string `json:"sn,omitempty"`
	Busy   bool   `json:"busy"`
	RunID  string `json:"run_id,omitempty"`
}

type slotEntry struct {
	name   string
	port   string
	serial string
	driver Driver
	runID  string // пусто — слот свободен
}

// Registry — реестр слотов измерительных каналов.
//
// Слот именуется slotNN по порядковому номеру порта. Занятые слоты
// переживают пересканирование без изменений; свободные переподвязываются
// к найденным устройствам, исчезнувшие свободные слоты удаляются.
type Registry struct {
	mu    sync.RWMutex
	slots map[string]*slotEntry
	log   *slog.Logger
}

// NewRegistry создаёт пустой реестр.
func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		slots: make(map[string]*slotEntry),
		log:   log,
	}
}

// Rescan обновляет реестр по списку найденных устройств.
//
// Правила: слот, занятый запуском, не трогаем вовсе; свободный слот,
// чей порт найден снова, сохраняет имя и получает свежий драйвер;
// новые порты получают наименьший свободный номер в порядке портов;
// свободные слоты исчезнувших портов закрываются и удаляются.
func (r *Registry) Rescan(found []DiscoveredDevice) {
	r.mu.Lock()
	defer r.mu.Unlock()

	byPort := make(map[string]*slotEntry, len(r.slots))
	used := make(map[string]bool, len(r.slots))
	next := make(map[string]*slotEntry, len(found))

	for _, e := range r.slots {
		byPort[e.port] = e
		if e.runID != "" {
			// занятые слоты переживают пересканирование как есть
			next[e.name] = e
			used[e.name] = true
		}
	}

	sorted := append([]DiscoveredDevice(nil), found...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Port < sorted[j].Port })

	var fresh []DiscoveredDevice
	for _, d := range sorted {
		if prev, ok := byPort[d.Port]; ok {
			if prev.runID != "" {
				// порт принадлежит занятому слоту, новый драйвер не подвязываем
				if d.Driver != nil {
					_ = d.Driver.Close()
				}
				continue
			}
			if prev.driver != nil && prev.driver != d.Driver {
				_ = prev.driver.Close()
			}
			prev.driver = d.Driver
			prev.serial = d.Serial
			next[prev.name] = prev
			used[prev.name] = true
			continue
		}
		fresh = append(fresh, d)
	}

	// новые устройства получают наименьшие свободные номера
	for _, d := range fresh {
		name := ""
		for i := 1; ; i++ {
			cand := fmt.Sprintf("slot%02d", i)
			if !used[cand] {
				name = cand
				break
			}
		}
		used[name] = true
		next[name] = &slotEntry{name: name, port: d.Port, serial: d.Serial, driver: d.Driver}
		r.log.Info("зарегистрирован слот", "slot", name, "port", d.Port, "sn", d.Serial)
	}

	// исчезнувшие свободные слоты закрываем
	for name, e := range r.slots {
		if _, kept := next[name]; !kept {
			if e.driver != nil {
				_ = e.driver.Close()
			}
			r.log.Info("слот удалён из реестра", "slot", name, "port", e.port)
		}
	}

	r.slots = next
}

// BusyPorts возвращает порты слотов, закреплённых за запусками.
// Перечислитель не трогает такие порты: переинициализация tty
// посреди измерения исказила бы его.
func (r *Registry) BusyPorts() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ports []string
	for _, e := range r.slots {
		if e.runID != "" {
			ports = append(ports, e.port)
		}
	}
	sort.Strings(ports)
	return ports
}

// Names возвращает отсортированные имена всех слотов.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.slots))
	for name := range r.slots {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List возвращает снимок состояния всех слотов в порядке имён.
func (r *Registry) List() []SlotInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]SlotInfo, 0, len(r.slots))
	for _, e := range r.slots {
		out = append(out, SlotInfo{
			Slot:   e.name,
			Port:   e.port,
			Serial: e.serial,
			Busy:   e.runID != "",
			RunID:  e.runID,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slot < out[j].Slot })
	return out
}

// Claim закрепляет слот за запуском. Возвращает ErrSlotUnknown или
// ErrSlotBusy; атомарен относительно конкурентных Claim и Rescan.
func (r *Registry) Claim(slot, runID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.slots[slot]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSlotUnknown, slot)
	}
	if e.runID != "" {
		return fmt.Errorf("%w: %s (запуск %s)", ErrSlotBusy, slot, e.runID)
	}
	e.runID = runID
	return nil
}

// Release освобождает слот, если он закреплён за указанным запуском.
func (r *Registry) Release(slot, runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.slots[slot]
	if !ok {
		return
	}
	if e.runID == runID {
		e.runID = ""
	}
}

// Driver возвращает драйвер слота.
func (r *Registry) Driver(slot string) (Driver, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.slots[slot]
	if !ok || e.driver == nil {
		return nil, false
	}
	return e.driver, true
}

// Len возвращает число зарегистрированных слотов.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.slots)
}
