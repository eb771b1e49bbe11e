// Пакет device — драйвер потенциостата и реестр слотов.
package device

import "context"

// Sample — одна точка измерения.
type Sample struct {
	// TimeS — время с начала измерения, сек
	TimeS float64
	// PotentialV — потенциал, В
	PotentialV float64
	// CurrentA — ток, А
	CurrentA float64
}

// ExecuteRequest — задание драйверу на одно измерение.
type ExecuteRequest struct {
	Mode   string
	Params map[string]any
	// TIAGain — усиление трансимпедансного каскада
	TIAGain int
	// SamplingInterval — интервал выборки, сек; 0 — по умолчанию драйвера
	SamplingInterval float64
}

// Driver — подключённый измерительный канал.
//
// Execute блокирует на всё время измерения (возможно минуты) и
// прерывается только через Abort с другой горутины. Реализации
// должны допускать конкурентный вызов Abort во время Execute.
type Driver interface {
	// Execute выполняет измерение и возвращает собранные точки.
	Execute(ctx context.Context, req ExecuteRequest) ([]Sample, error)
	// Abort запрашивает прерывание текущего измерения. Best-effort:
	// Execute завершится с ошибкой или с частичными данными.
	Abort() error
	// Close освобождает аппаратный канал.
	Close() error
}

// DiscoveredDevice — устройство, найденное перечислителем.
type DiscoveredDevice struct {
	// Port — системное имя порта (/dev/ttyACM0)
	Port string
	// Serial — серийный номер, если доступен
	Serial string
	Driver Driver
}

// Enumerator перечисляет подключённые устройства. Вызывается при
// старте сервиса и при ручном пересканировании.
type Enumerator interface {
	Enumerate(ctx context.Context) ([]DiscoveredDevice, error)
}

// Plotter строит изображение по готовому CSV-файлу измерения.
type Plotter interface {
	Render(mode string, params map[string]any, csvPath, pngPath string) error
}
