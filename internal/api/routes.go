package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ivlev/animexport/internal/export"
	"github.com/ivlev/animexport/internal/project"
)

const defaultMaxBody = 8 << 20

func NewRouter(cfg ServerConfig) *chi.Mux {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBody
	}
	if cfg.StartTime.IsZero() {
		cfg.StartTime = time.Now()
	}

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))

	r.Get("/health", healthHandler(cfg))
	r.Get("/plugins", pluginsHandler(cfg))
	r.Get("/presets", presetsHandler(cfg))

	r.Route("/exports", func(r chi.Router) {
		r.Post("/", createExportHandler(cfg))
		r.Get("/", listExportsHandler(cfg))
		r.Post("/clear", clearExportsHandler(cfg))
		r.Post("/preflight", preflightHandler(cfg))
		r.Get("/{id}", getExportHandler(cfg))
		r.Get("/{id}/download", downloadExportHandler(cfg))
		r.Delete("/{id}", cancelExportHandler(cfg))
	})

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:      "ok",
			Version:     cfg.Version,
			UptimeS:     int64(time.Since(cfg.StartTime).Seconds()),
			JobsTracked: len(cfg.Service.Registry().Jobs()),
			MaxJobs:     cfg.Service.Registry().MaxConcurrentJobs(),
		})
	}
}

func pluginsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, cfg.Service.Plugins())
	}
}

func presetsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, cfg.Service.Presets())
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, limit int64, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, limit))
	if err := dec.Decode(dst); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body: "+err.Error(), "BAD_REQUEST")
		return false
	}
	return true
}

func createExportHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ExportRequest
		if !decodeBody(w, r, cfg.MaxBodyBytes, &req) {
			return
		}
		if len(req.Project) == 0 {
			WriteError(w, http.StatusBadRequest, "project is required", "BAD_REQUEST")
			return
		}
		p, err := project.ParseProject(req.Project)
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "INVALID_PROJECT")
			return
		}

		presetID := req.Preset
		if req.Platform != "" {
			id, ok := export.QuickPlatforms[req.Platform]
			if !ok {
				WriteError(w, http.StatusBadRequest, fmt.Sprintf("unknown platform %q", req.Platform), "BAD_REQUEST")
				return
			}
			presetID = id
		}

		// The job outlives the request.
		ticket, err := cfg.Service.Export(context.Background(), export.Request{
			Project:   p,
			PresetID:  presetID,
			Overrides: req.Settings,
		})
		if err != nil {
			writeExportError(w, err)
			return
		}

		job, err := cfg.Service.JobStatus(ticket.ID)
		if err != nil {
			writeExportError(w, err)
			return
		}
		w.Header().Set("Location", "/exports/"+job.ID)
		WriteJSON(w, http.StatusAccepted, ExportResponse{ID: job.ID, Status: job.Status, Settings: job.Settings})
	}
}

func writeExportError(w http.ResponseWriter, err error) {
	var ve *export.ValidationError
	switch {
	case errors.As(err, &ve):
		WriteError(w, http.StatusUnprocessableEntity, "invalid export settings", string(export.CodeValidation), ve.Errors...)
	case errors.Is(err, export.ErrUnknownPreset):
		WriteError(w, http.StatusBadRequest, err.Error(), "UNKNOWN_PRESET")
	case errors.Is(err, export.ErrPluginNotFound):
		WriteError(w, http.StatusNotFound, err.Error(), string(export.CodePluginNotFound))
	case errors.Is(err, export.ErrPluginDisabled):
		WriteError(w, http.StatusConflict, err.Error(), string(export.CodeUnsupported))
	case errors.Is(err, export.ErrJobNotFound):
		WriteError(w, http.StatusNotFound, err.Error(), "NOT_FOUND")
	case errors.Is(err, export.ErrInvalidTransition):
		WriteError(w, http.StatusConflict, err.Error(), "CONFLICT")
	case errors.Is(err, export.ErrClosed):
		WriteError(w, http.StatusServiceUnavailable, err.Error(), "SHUTTING_DOWN")
	default:
		WriteError(w, http.StatusInternalServerError, err.Error(), string(export.CodeInternal))
	}
}

func listExportsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobs := cfg.Service.Registry().Jobs()
		if status := r.URL.Query().Get("status"); status != "" {
			filtered := jobs[:0]
			for _, j := range jobs {
				if string(j.Status) == status {
					filtered = append(filtered, j)
				}
			}
			jobs = filtered
		}
		WriteJSON(w, http.StatusOK, jobs)
	}
}

func getExportHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := cfg.Service.JobStatus(chi.URLParam(r, "id"))
		if err != nil {
			writeExportError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, job)
	}
}

func downloadExportHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := cfg.Service.JobStatus(chi.URLParam(r, "id"))
		if err != nil {
			writeExportError(w, err)
			return
		}
		if job.Status != export.StatusCompleted || job.Result == nil {
			WriteError(w, http.StatusConflict, fmt.Sprintf("export is %s", job.Status), "NOT_READY")
			return
		}

		res := job.Result
		w.Header().Set("Content-Type", res.MimeType)
		w.Header().Set("Content-Length", strconv.Itoa(len(res.Data)))
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", res.Filename))
		w.WriteHeader(http.StatusOK)
		w.Write(res.Data)
	}
}

func cancelExportHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := cfg.Service.CancelExport(id); err != nil {
			writeExportError(w, err)
			return
		}
		job, err := cfg.Service.JobStatus(id)
		if err != nil {
			writeExportError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, job)
	}
}

func clearExportsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, ClearResponse{Cleared: cfg.Service.ClearCompleted()})
	}
}

func preflightHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req PreflightRequest
		if !decodeBody(w, r, cfg.MaxBodyBytes, &req) {
			return
		}
		settings, err := cfg.Service.ResolveSettings(req.Preset, req.Settings)
		if err != nil {
			writeExportError(w, err)
			return
		}
		report, err := cfg.Service.Preflight(r.Context(), settings)
		if err != nil {
			writeExportError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, report)
	}
}
