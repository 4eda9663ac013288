package api

import (
	"encoding/json"

	"github.com/ivlev/animexport/internal/export"
)

type ErrorResponse struct {
	Error   string   `json:"error"`
	Code    string   `json:"code"`
	Details []string `json:"details,omitempty"`
}

type HealthResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	UptimeS     int64  `json:"uptime_s"`
	JobsTracked int    `json:"jobs_tracked"`
	MaxJobs     int    `json:"max_concurrent_jobs"`
}

// ExportRequest starts an export. Project is a JSON or YAML document.
type ExportRequest struct {
	Project  json.RawMessage      `json:"project"`
	Preset   string               `json:"preset,omitempty"`
	Platform string               `json:"platform,omitempty"`
	Settings export.SettingsPatch `json:"settings"`
}

type ExportResponse struct {
	ID       string          `json:"id"`
	Status   export.Status   `json:"status"`
	Settings export.Settings `json:"settings"`
}

type PreflightRequest struct {
	Preset   string               `json:"preset,omitempty"`
	Settings export.SettingsPatch `json:"settings"`
}

type ClearResponse struct {
	Cleared int `json:"cleared"`
}
