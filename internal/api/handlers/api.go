// api.go — сборка всех обработчиков в один роутер.
// Публичные endpoints: /version, /health/*, /metrics.
// Всё под /api/v1 защищено API-ключом.
package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sevalab/boxd/internal/api/middleware"
)

// API объединяет доменные обработчики и монтирует маршруты.
type API struct {
	System  *SystemHandler
	Devices *DevicesHandler
	Modes   *ModesHandler
	Jobs    *JobsHandler
	Runs    *RunsHandler
	NAS     *NASHandler

	Auth *middleware.APIKeyAuth
}

// Routes монтирует все endpoints на роутер.
func (a *API) Routes(r chi.Router) {
	// публичные endpoints
	r.Get("/version", a.System.Version)
	r.Get("/health/live", a.System.HealthLive)
	r.Get("/health/ready", a.System.HealthReady)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(a.Auth.Middleware())

		r.Get("/devices", a.Devices.ListDevices)
		r.Post("/devices/rescan", a.Devices.Rescan)

		r.Get("/modes", a.Modes.ListModes)
		r.Get("/modes/{mode}/params", a.Modes.ModeParams)
		r.Post("/modes/{mode}/validate", a.Modes.ValidateMode)

		r.Post("/jobs", a.Jobs.StartJob)
		r.Get("/jobs", a.Jobs.ListJobs)
		r.Post("/jobs/status", a.Jobs.BulkStatus)
		r.Get("/jobs/{run_id}", a.Jobs.JobStatus)
		r.Post("/jobs/{run_id}/cancel", a.Jobs.CancelJob)

		r.Get("/runs/{run_id}/files", a.Runs.ListRunFiles)
		r.Get("/runs/{run_id}/file", a.Runs.GetRunFile)
		r.Get("/runs/{run_id}/zip", a.Runs.GetRunZip)
		r.Post("/runs/{run_id}/upload", a.Runs.UploadRun)
		r.Get("/runs/{run_id}/transfer", a.NAS.Transfer)

		r.Post("/nas/setup", a.NAS.Setup)
		r.Get("/nas/health", a.NAS.Health)
	})
}
