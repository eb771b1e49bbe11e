// plot.go — построение графиков внешним инструментом.
package device

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"
)

// ExecPlotter вызывает внешний построитель графиков:
//
//	<bin> --mode <mode> --params <json> <csv> <png>
//
// Сбой построения не считается сбоем измерения, вызывающая сторона
// только логирует его.
type ExecPlotter struct {
	bin     string
	timeout time.Duration
}

// NewExecPlotter создаёт построитель. Пустое имя бинаря недопустимо.
func NewExecPlotter(bin string, timeout time.Duration) *ExecPlotter {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &ExecPlotter{bin: bin, timeout: timeout}
}

// Render строит PNG по CSV-файлу измерения.
func (p *ExecPlotter) Render(mode string, params map[string]any, csvPath, pngPath string) error {
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("не удалось сериализовать параметры: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.bin,
		"--mode", mode,
		"--params", string(paramsJSON),
		csvPath, pngPath,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := bytes.TrimSpace(stderr.Bytes())
		if len(msg) > 0 {
			return fmt.Errorf("построитель графиков: %w: %s", err, msg)
		}
		return fmt.Errorf("построитель графиков: %w", err)
	}
	return nil
}
