// enumerate.go — перечисление подключённых потенциостатов по
// последовательным портам /dev/ttyACM* и /dev/ttyUSB*.
package device

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DriverFactory открывает драйвер для найденного порта.
type DriverFactory func(port string) (Driver, error)

// TTYEnumerator находит устройства по glob-шаблонам портов.
type TTYEnumerator struct {
	globs   []string
	factory DriverFactory
	busy    func() []string
	log     *slog.Logger
}

// NewTTYEnumerator создаёт перечислитель. Пустой список шаблонов
// заменяется стандартными CDC-ACM и USB-serial портами. busy отдаёт
// порты, занятые измерениями; nil — не пропускать ничего.
func NewTTYEnumerator(globs []string, factory DriverFactory, busy func() []string, log *slog.Logger) *TTYEnumerator {
	if len(globs) == 0 {
		globs = []string{"/dev/ttyACM*", "/dev/ttyUSB*"}
	}
	return &TTYEnumerator{
		globs:   globs,
		factory: factory,
		busy:    busy,
		log:     log.With(slog.String("component", "enumerator")),
	}
}

// Enumerate открывает драйвер на каждом найденном порту. Порт,
// который не удалось открыть, пропускается с предупреждением:
// одно мёртвое устройство не должно прятать остальные. Порты занятых
// слотов не открываются вовсе: переинициализация tty исказила бы
// идущее измерение.
func (e *TTYEnumerator) Enumerate(ctx context.Context) ([]DiscoveredDevice, error) {
	ports := make([]string, 0, 8)
	for _, g := range e.globs {
		matches, err := filepath.Glob(g)
		if err != nil {
			return nil, err
		}
		ports = append(ports, matches...)
	}
	sort.Strings(ports)

	skip := make(map[string]bool)
	if e.busy != nil {
		for _, p := range e.busy() {
			skip[p] = true
		}
	}

	found := make([]DiscoveredDevice, 0, len(ports))
	for _, port := range ports {
		if ctx.Err() != nil {
			return found, ctx.Err()
		}
		if skip[port] {
			e.log.Debug("порт занят измерением, пропущен", "port", port)
			continue
		}
		drv, err := e.factory(port)
		if err != nil {
			e.log.Warn("порт пропущен", "port", port, "error", err)
			continue
		}
		found = append(found, DiscoveredDevice{
			Port:   port,
			Serial: readSerialNumber(port),
			Driver: drv,
		})
	}
	return found, nil
}

// readSerialNumber читает серийный номер USB-устройства из sysfs.
// Отсутствие номера не ошибка: не каждая прошивка его выставляет.
func readSerialNumber(port string) string {
	name := filepath.Base(port)
	raw, err := os.ReadFile(filepath.Join("/sys/class/tty", name, "device", "..", "serial"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(raw))
}
