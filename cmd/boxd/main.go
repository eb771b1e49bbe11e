// Точка входа boxd — сервиса оркестрации электрохимических измерений.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/sevalab/boxd/internal/api/handlers"
	"github.com/sevalab/boxd/internal/api/middleware"
	"github.com/sevalab/boxd/internal/config"
	"github.com/sevalab/boxd/internal/device"
	"github.com/sevalab/boxd/internal/nas"
	"github.com/sevalab/boxd/internal/scheduler"
	"github.com/sevalab/boxd/internal/server"
	"github.com/sevalab/boxd/internal/storage/boxdb"
	"github.com/sevalab/boxd/internal/storage/layout"
)

// Build — идентификатор сборки, задаётся через -ldflags.
var Build = ""

func main() {
	// Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка конфигурации: %v\n", err)
		os.Exit(1)
	}

	// Настройка логгера
	logger := config.SetupLogger(cfg)
	logger.Info("boxd запускается",
		slog.String("box_id", cfg.BoxID),
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("runs_root", cfg.RunsRoot),
	)

	// --- Инициализация компонентов ---

	// 1. База данных: индекс запусков и журнал задач
	db, err := boxdb.Open(cfg.DBPath)
	if err != nil {
		logger.Error("Ошибка открытия базы данных", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer db.Close()

	runIndex := boxdb.NewRunIndex(db)
	jobStore := boxdb.NewJobStore(db)

	// Восстановление: задачи, прерванные перезапуском, помечаются failed
	recovered, err := jobStore.RecoverInterrupted(time.Now().UTC())
	if err != nil {
		logger.Error("Ошибка восстановления журнала задач", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if recovered > 0 {
		logger.Warn("Обнаружены прерванные задачи, помечены как failed",
			slog.Int("count", recovered),
		)
	}

	// 2. Раскладка результатов
	layoutMgr, err := layout.NewManager(cfg.RunsRoot, runIndex, logger)
	if err != nil {
		logger.Error("Ошибка инициализации раскладки результатов", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Сверка индекса с диском: записи удалённых очисткой директорий
	pruned, err := runIndex.PruneMissing(layoutMgr.Root())
	if err != nil {
		logger.Warn("Сверка индекса запусков не удалась", slog.String("error", err.Error()))
	} else if pruned > 0 {
		logger.Info("Индекс запусков сверен с диском", slog.Int("pruned", pruned))
	}

	// 3. Реестр слотов и первичное обнаружение устройств
	registry := device.NewRegistry(logger)
	enumerator := device.NewTTYEnumerator(cfg.PortGlobs, func(port string) (device.Driver, error) {
		return device.OpenSerial(port)
	}, registry.BusyPorts, logger)

	found, err := enumerator.Enumerate(context.Background())
	if err != nil {
		logger.Warn("Первичное обнаружение устройств не удалось", slog.String("error", err.Error()))
	}
	registry.Rescan(found)
	logger.Info("Устройства зарегистрированы", slog.Int("slots", registry.Len()))

	// 4. Менеджер NAS
	nasMgr := nas.NewManager(
		cfg.NASConfigPath,
		cfg.NASCredPath,
		cfg.MountRoot,
		cfg.ProbeTimeout,
		layoutMgr,
		nas.NewCIFSMounter(logger),
		logger,
	)
	if err := nasMgr.StartBackground(cfg.RetentionSchedule); err != nil {
		logger.Error("Ошибка запуска фоновых задач NAS", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 5. Построитель графиков (опционально)
	var plotter device.Plotter
	if cfg.PlotBin != "" {
		plotter = device.NewExecPlotter(cfg.PlotBin, 0)
		logger.Info("Построитель графиков подключён", slog.String("bin", cfg.PlotBin))
	}

	// 6. Шедулер и история прошлых сессий
	sched := scheduler.New(registry, layoutMgr, jobStore, plotter, nasMgr, cfg.CancelGrace, logger)
	history, err := jobStore.LoadAll()
	if err != nil {
		logger.Error("Ошибка чтения журнала запусков", slog.String("error", err.Error()))
		os.Exit(1)
	}
	sched.AdoptPersisted(history)
	logger.Info("Журнал запусков загружен", slog.Int("runs", len(history)))

	// 7. Handlers и middleware
	api := &handlers.API{
		System:  handlers.NewSystemHandler(cfg.BoxID, cfg.RunsRoot, Build, registry),
		Devices: handlers.NewDevicesHandler(registry, enumerator, logger),
		Modes:   handlers.NewModesHandler(registry),
		Jobs:    handlers.NewJobsHandler(sched, logger),
		Runs:    handlers.NewRunsHandler(layoutMgr, nasMgr, logger),
		NAS:     handlers.NewNASHandler(nasMgr, logger),
		Auth:    middleware.NewAPIKeyAuth(cfg.APIKey, logger),
	}
	if cfg.APIKey == "" {
		logger.Warn("BOX_API_KEY не задан, API работает без аутентификации")
	}

	// 8. Создание и запуск HTTP-сервера
	srv := server.New(cfg, logger, api)
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// --- Graceful shutdown фоновых процессов ---
	logger.Info("Остановка фоновых процессов...")

	nasMgr.Stop()
	sched.Wait()

	logger.Info("boxd остановлен")
}
