package conf

import "google.golang.org/protobuf/types/known/durationpb"

// Bootstrap is the root configuration for the MsgBridge service.
type Bootstrap struct {
	Server    *Server
	Data      *Data
	Messaging *Messaging
	Log       *Log
}

// Server holds transport configuration.
type Server struct {
	Http *Server_HTTP
}

// Server_HTTP configures the HTTP listener.
type Server_HTTP struct {
	Network string
	Addr    string
	Timeout *durationpb.Duration
}

// Data holds storage backend configuration.
type Data struct {
	Database *Data_Database
	Redis    *Data_Redis
	Cif      *Data_Cif
}

// Data_Database configures the relational message store.
type Data_Database struct {
	Driver string
	Source string
}

// Data_Redis configures the message-list cache.
type Data_Redis struct {
	Network      string
	Addr         string
	ReadTimeout  *durationpb.Duration
	WriteTimeout *durationpb.Duration
}

// Data_Cif configures the legacy file-based message store.
type Data_Cif struct {
	ArchiveDir string
}

// Messaging holds hybrid-routing configuration.
type Messaging struct {
	SiteId string
	// FlagsFile optionally points at a feature-flag override file.
	FlagsFile string
	// FallbackTrigger selects the db-primary fallback generation:
	// "failure" (revised) or "failure_or_latency" (legacy).
	FallbackTrigger string
	// DbLatencyThreshold is the write latency beyond which the legacy
	// fallback generation treats a database write as needing fallback.
	DbLatencyThreshold *durationpb.Duration
	Breaker            *Messaging_Breaker
}

// Messaging_Breaker configures the circuit breaker protecting the
// database backend.
type Messaging_Breaker struct {
	FailureThreshold int32
	RecoveryTimeout  *durationpb.Duration
	SuccessThreshold int32
	Timeout          *durationpb.Duration
}

// Log configures the Zap logger.
type Log struct {
	Level      string
	Format     string
	Env        string
	OutputFile string
}
