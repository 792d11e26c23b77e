package model

// BackendStatus describes the tracked health of one storage backend.
type BackendStatus string

const (
	BackendHealthy  BackendStatus = "healthy"
	BackendDegraded BackendStatus = "degraded"
	BackendFailed   BackendStatus = "failed"
	BackendUnknown  BackendStatus = "unknown"
)
