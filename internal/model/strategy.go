package model

// Write strategy names, resolved per call from feature flag state.
// Precedence when several strategy flags are enabled: db_only wins over
// db_primary_cif_fallback, which wins over dual_write; cif_only is the
// conservative default.
const (
	StrategyCifOnly      = "cif_only"
	StrategyDbOnly       = "db_only"
	StrategyDualWrite    = "dual_write"
	StrategyDbPrimaryCif = "db_primary_cif_fallback"
)

// FallbackTrigger selects which generation of the db-primary fallback policy
// is active. The legacy generation also fell back when the database write was
// slower than a configured latency threshold; the revised generation falls
// back only on an outright failure.
type FallbackTrigger int

const (
	// TriggerOnFailure falls back to CIF only when the database write fails.
	TriggerOnFailure FallbackTrigger = iota
	// TriggerOnFailureOrLatency additionally falls back when the database
	// write exceeded the configured latency threshold.
	TriggerOnFailureOrLatency
)

// String returns the configuration token for the trigger.
func (t FallbackTrigger) String() string {
	if t == TriggerOnFailureOrLatency {
		return "failure_or_latency"
	}
	return "failure"
}

// ParseFallbackTrigger maps a configuration token to a FallbackTrigger.
// Unknown tokens map to the revised failure-only behavior.
func ParseFallbackTrigger(s string) FallbackTrigger {
	if s == "failure_or_latency" {
		return TriggerOnFailureOrLatency
	}
	return TriggerOnFailure
}
