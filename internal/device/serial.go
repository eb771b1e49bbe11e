// serial.go — драйвер потенциостата поверх CDC-ACM последовательного
// порта. Протокол строчный: одна JSON-команда, затем поток точек
// "t,v,i" до завершающей строки "END".
package device

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ErrAborted — измерение прервано по запросу.
var ErrAborted = errors.New("измерение прервано")

// serialCommand — JSON-команда прошивке.
type serialCommand struct {
	Cmd              string         `json:"cmd"`
	Mode             string         `json:"mode,omitempty"`
	Params           map[string]any `json:"params,omitempty"`
	TIAGain          int            `json:"tia_gain,omitempty"`
	SamplingInterval float64        `json:"sampling_interval,omitempty"`
}

// SerialDriver — один измерительный канал на последовательном порту.
type SerialDriver struct {
	port string

	// writeMu сериализует записи в порт: Abort может прийти
	// конкурентно с Execute
	writeMu sync.Mutex
	file    *os.File
	reader  *bufio.Reader

	aborted chan struct{}
	abortMu sync.Mutex
}

// OpenSerial настраивает порт (raw-режим, 115200) и открывает канал.
func OpenSerial(port string) (*SerialDriver, error) {
	if err := exec.Command("stty", "-F", port, "raw", "-echo", "115200").Run(); err != nil {
		return nil, fmt.Errorf("не удалось настроить порт %s: %w", port, err)
	}
	f, err := os.OpenFile(port, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть порт %s: %w", port, err)
	}
	return &SerialDriver{
		port:    port,
		file:    f,
		reader:  bufio.NewReader(f),
		aborted: make(chan struct{}),
	}, nil
}

// Port возвращает системное имя порта.
func (d *SerialDriver) Port() string {
	return d.port
}

func (d *SerialDriver) writeCommand(cmd serialCommand) error {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	_, err = d.file.Write(append(payload, '\n'))
	return err
}

// Execute выполняет измерение и собирает точки до строки END.
// Прерывается через Abort или отмену контекста; чтение идёт
// с периодическим дедлайном, зависание на мёртвом порту невозможно.
func (d *SerialDriver) Execute(ctx context.Context, req ExecuteRequest) ([]Sample, error) {
	d.abortMu.Lock()
	d.aborted = make(chan struct{})
	aborted := d.aborted
	d.abortMu.Unlock()

	err := d.writeCommand(serialCommand{
		Cmd:              "run",
		Mode:             req.Mode,
		Params:           req.Params,
		TIAGain:          req.TIAGain,
		SamplingInterval: req.SamplingInterval,
	})
	if err != nil {
		return nil, fmt.Errorf("не удалось отправить команду: %w", err)
	}

	var samples []Sample
	for {
		select {
		case <-ctx.Done():
			return samples, ctx.Err()
		case <-aborted:
			return samples, ErrAborted
		default:
		}

		if err := d.file.SetReadDeadline(time.Now().Add(time.Second)); err != nil {
			return samples, fmt.Errorf("порт %s: %w", d.port, err)
		}
		line, err := d.reader.ReadString('\n')
		if err != nil {
			if os.IsTimeout(err) {
				continue
			}
			return samples, fmt.Errorf("чтение порта %s: %w", d.port, err)
		}

		line = strings.TrimSpace(line)
		switch {
		case line == "":
			continue
		case line == "END":
			return samples, nil
		case strings.HasPrefix(line, "ERR"):
			return samples, fmt.Errorf("ошибка прошивки: %s", strings.TrimSpace(strings.TrimPrefix(line, "ERR")))
		default:
			s, err := parseSampleLine(line)
			if err != nil {
				// одиночная битая строка не валит измерение
				continue
			}
			samples = append(samples, s)
		}
	}
}

// Abort отправляет команду прерывания и сигналит читающей горутине.
func (d *SerialDriver) Abort() error {
	d.abortMu.Lock()
	select {
	case <-d.aborted:
	default:
		close(d.aborted)
	}
	d.abortMu.Unlock()

	return d.writeCommand(serialCommand{Cmd: "abort"})
}

// Close освобождает порт.
func (d *SerialDriver) Close() error {
	return d.file.Close()
}

// parseSampleLine разбирает строку "t,v,i".
func parseSampleLine(line string) (Sample, error) {
	parts := strings.Split(line, ",")
	if len(parts) != 3 {
		return Sample{}, fmt.Errorf("ожидали 3 поля, получили %d", len(parts))
	}
	t, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return Sample{}, err
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return Sample{}, err
	}
	i, err := strconv.ParseFloat(strings.TrimSpace(parts[2]), 64)
	if err != nil {
		return Sample{}, err
	}
	return Sample{TimeS: t, PotentialV: v, CurrentA: i}, nil
}
