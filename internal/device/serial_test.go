package device

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestParseSampleLine(t *testing.T) {
	cases := []struct {
		name    string
		line    string
		want    Sample
		wantErr bool
	}{
		{
			name: "обычная строка",
			line: "0.5,0.123,-1.5e-06",
			want: Sample{TimeS: 0.5, PotentialV: 0.123, CurrentA: -1.5e-06},
		},
		{
			name: "пробелы вокруг полей",
			line: " 1.0 , -0.2 , 2e-9 ",
			want: Sample{TimeS: 1.0, PotentialV: -0.2, CurrentA: 2e-9},
		},
		{
			name:    "мало полей",
			line:    "0.5,0.123",
			wantErr: true,
		},
		{
			name:    "не число",
			line:    "0.5,abc,1e-6",
			wantErr: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseSampleLine(tc.line)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("хотели ошибку для %q, получили %+v", tc.line, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("не хотели ошибку: %v", err)
			}
			if got != tc.want {
				t.Errorf("хотели %+v, получили %+v", tc.want, got)
			}
		})
	}
}

// stubDriver — драйвер-заглушка для тестов перечислителя.
type stubDriver struct {
	port string
}

func (d *stubDriver) Execute(context.Context, ExecuteRequest) ([]Sample, error) {
	return nil, nil
}
func (d *stubDriver) Abort() error { return nil }
func (d *stubDriver) Close() error { return nil }

func TestEnumerate(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	dir := t.TempDir()
	for _, name := range []string{"ttyACM1", "ttyACM0", "ttyUSB0"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	factory := func(port string) (Driver, error) {
		if filepath.Base(port) == "ttyACM1" {
			return nil, errors.New("порт занят")
		}
		return &stubDriver{port: port}, nil
	}

	e := NewTTYEnumerator(
		[]string{filepath.Join(dir, "ttyACM*"), filepath.Join(dir, "ttyUSB*")},
		factory, nil, log,
	)
	found, err := e.Enumerate(context.Background())
	if err != nil {
		t.Fatalf("не хотели ошибку: %v", err)
	}

	// ttyACM1 пропущен, остальные отсортированы по имени порта
	if len(found) != 2 {
		t.Fatalf("хотели 2 устройства, получили %d", len(found))
	}
	if filepath.Base(found[0].Port) != "ttyACM0" || filepath.Base(found[1].Port) != "ttyUSB0" {
		t.Errorf("порядок портов: %s, %s", found[0].Port, found[1].Port)
	}
}

func TestEnumerate_Cancelled(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "ttyACM0"), nil, 0o644); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := NewTTYEnumerator(
		[]string{filepath.Join(dir, "ttyACM*")},
		func(port string) (Driver, error) { return &stubDriver{port: port}, nil },
		nil,
		log,
	)
	if _, err := e.Enumerate(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("хотели context.Canceled, получили %v", err)
	}
}

func TestEnumerate_SkipsBusyPorts(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	dir := t.TempDir()
	for _, name := range []string{"ttyACM0", "ttyACM1"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	busyPort := filepath.Join(dir, "ttyACM0")
	var opened []string
	factory := func(port string) (Driver, error) {
		opened = append(opened, port)
		return &stubDriver{port: port}, nil
	}

	e := NewTTYEnumerator(
		[]string{filepath.Join(dir, "ttyACM*")},
		factory,
		func() []string { return []string{busyPort} },
		log,
	)
	found, err := e.Enumerate(context.Background())
	if err != nil {
		t.Fatalf("не хотели ошибку: %v", err)
	}

	// занятый измерением порт не открывается и не переинициализируется
	for _, p := range opened {
		if p == busyPort {
			t.Errorf("занятый порт %s не должен открываться", busyPort)
		}
	}
	if len(found) != 1 || filepath.Base(found[0].Port) != "ttyACM1" {
		t.Errorf("перечисление: %+v", found)
	}
}
