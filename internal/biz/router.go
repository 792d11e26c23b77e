package biz

import (
	"context"
	"errors"
	"sync"
	"time"

	"MsgBridge/internal/conf"
	"MsgBridge/internal/model"
	"MsgBridge/pkg/breaker"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
)

// recentDepositionCap bounds the set of recently written depositions kept
// for the scheduled consistency sweep.
const recentDepositionCap = 512

// RouterUseCase is the hybrid write-routing orchestrator. Per write it
// resolves a strategy from feature flag state, executes it against the
// backends (database calls pass through the shared circuit breaker),
// records metrics and returns an aggregate success boolean.
//
// Callers see only true/false from the write path; diagnosis goes through
// PerformanceReport and BackendHealth afterwards.
type RouterUseCase struct {
	flags     *FeatureFlagManager
	metrics   *PerformanceMetrics
	validator *ConsistencyValidator
	dbBreaker *breaker.Breaker
	logger    *log.Helper

	siteID           string
	fallbackTrigger  model.FallbackTrigger
	latencyThreshold time.Duration

	cif MessageBackend
	db  MessageBackend

	mu     sync.RWMutex
	health map[string]model.BackendStatus

	recent *lru.Cache[string, time.Time]
}

// NewRouterUseCase wires the router. Either backend may be nil when its
// construction failed upstream; that degrades the router's capability
// (health=failed) instead of preventing its existence.
func NewRouterUseCase(c *conf.Messaging, cif CifStore, db DbStore, flags *FeatureFlagManager, logger log.Logger) *RouterUseCase {
	helper := log.NewHelper(logger)

	breakerCfg := breaker.DatabaseConfig()
	siteID := "RCSB"
	trigger := model.TriggerOnFailure
	latency := 500 * time.Millisecond
	if c != nil {
		if c.SiteId != "" {
			siteID = c.SiteId
		}
		trigger = model.ParseFallbackTrigger(c.FallbackTrigger)
		if c.DbLatencyThreshold != nil && c.DbLatencyThreshold.AsDuration() > 0 {
			latency = c.DbLatencyThreshold.AsDuration()
		}
		if c.Breaker != nil {
			if c.Breaker.FailureThreshold > 0 {
				breakerCfg.FailureThreshold = int(c.Breaker.FailureThreshold)
			}
			if c.Breaker.RecoveryTimeout != nil && c.Breaker.RecoveryTimeout.AsDuration() > 0 {
				breakerCfg.RecoveryTimeout = c.Breaker.RecoveryTimeout.AsDuration()
			}
			if c.Breaker.SuccessThreshold > 0 {
				breakerCfg.SuccessThreshold = int(c.Breaker.SuccessThreshold)
			}
			if c.Breaker.Timeout != nil && c.Breaker.Timeout.AsDuration() > 0 {
				breakerCfg.Timeout = c.Breaker.Timeout.AsDuration()
			}
		}
	}

	recent, _ := lru.New[string, time.Time](recentDepositionCap)

	r := &RouterUseCase{
		flags:            flags,
		metrics:          NewPerformanceMetrics(),
		dbBreaker:        breaker.Get("database", &breakerCfg, logger),
		logger:           helper,
		siteID:           siteID,
		fallbackTrigger:  trigger,
		latencyThreshold: latency,
		cif:              cif,
		db:               db,
		health: map[string]model.BackendStatus{
			model.BackendCIF:      model.BackendUnknown,
			model.BackendDatabase: model.BackendUnknown,
		},
		recent: recent,
	}

	if backendReady(cif) {
		r.setHealth(model.BackendCIF, model.BackendHealthy)
	} else {
		r.setHealth(model.BackendCIF, model.BackendFailed)
		helper.Errorw("msg", "cif backend unavailable", "backend", model.BackendCIF)
	}
	if backendReady(db) {
		r.setHealth(model.BackendDatabase, model.BackendHealthy)
	} else {
		r.setHealth(model.BackendDatabase, model.BackendFailed)
		helper.Warnw("msg", "database backend unavailable", "backend", model.BackendDatabase)
	}

	if cif != nil && db != nil {
		r.validator = NewConsistencyValidator(cif, db, logger)
	}

	helper.Infow("msg", "hybrid router initialized",
		"site_id", siteID,
		"fallback_trigger", trigger.String(),
		"latency_threshold", latency,
		"cif_health", r.Health(model.BackendCIF),
		"db_health", r.Health(model.BackendDatabase))

	return r
}

// backendReady reports whether a backend exists and, if it exposes a
// readiness probe, whether its construction actually succeeded. A backend
// that failed to connect stays wired but is marked failed up front.
func backendReady(b MessageBackend) bool {
	if b == nil {
		return false
	}
	if p, ok := b.(interface{ Ready() bool }); ok {
		return p.Ready()
	}
	return true
}

// AddMessage routes one write according to the currently recommended
// strategy. The returned boolean is the only correctness signal; failed
// attempts are absorbed into metrics and health, never propagated.
func (r *RouterUseCase) AddMessage(ctx context.Context, msg *model.Message) bool {
	if msg.MessageID == "" {
		msg.MessageID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	if msg.MessageType == "" {
		msg.MessageType = "text"
	}
	if msg.SendStatus == "" {
		msg.SendStatus = "Y"
	}

	flagCtx := NewFlagContext().WithDeposition(msg.DepositionID).WithSite(r.siteID)
	strategy := r.flags.RecommendedWriteStrategy(flagCtx)

	if r.flags.IsEnabled(FlagDetailedLogging, flagCtx) {
		r.logger.Infow("msg", "routing write",
			"deposition_id", msg.DepositionID,
			"message_id", msg.MessageID,
			"strategy", strategy)
	}

	r.recent.Add(msg.DepositionID, time.Now())

	switch strategy {
	case model.StrategyDbOnly:
		return r.writeDbOnly(ctx, msg)
	case model.StrategyDualWrite:
		return r.writeDual(ctx, msg)
	case model.StrategyDbPrimaryCif:
		return r.writeDbPrimary(ctx, msg)
	default:
		return r.writeCifOnly(ctx, msg)
	}
}

// writeCifOnly writes to the file backend only.
func (r *RouterUseCase) writeCifOnly(ctx context.Context, msg *model.Message) bool {
	if r.cif == nil {
		r.logger.Errorw("msg", "cif backend not available", "deposition_id", msg.DepositionID)
		return false
	}
	outcome := r.executeWrite(ctx, r.cif, msg, false)
	return outcome.Success
}

// writeDbOnly writes to the database backend only, through the breaker.
func (r *RouterUseCase) writeDbOnly(ctx context.Context, msg *model.Message) bool {
	if r.db == nil {
		r.logger.Errorw("msg", "database backend not available", "deposition_id", msg.DepositionID)
		return false
	}
	outcome := r.executeWrite(ctx, r.db, msg, true)
	return outcome.Success
}

// writeDual writes to both backends sequentially, file first. Success is
// conjunctive: a write that only partially lands is treated as failed, so
// the migration's validation phase gets both-or-neither semantics.
func (r *RouterUseCase) writeDual(ctx context.Context, msg *model.Message) bool {
	start := time.Now()

	var cifOutcome, dbOutcome model.WriteOutcome
	if r.cif != nil {
		cifOutcome = r.executeWrite(ctx, r.cif, msg, false)
	}
	if r.db != nil {
		dbOutcome = r.executeWrite(ctx, r.db, msg, true)
	}

	success := cifOutcome.Success && dbOutcome.Success
	r.metrics.RecordWrite("dual", float64(time.Since(start).Milliseconds()), success)

	if !cifOutcome.Success {
		r.logger.Errorw("msg", "dual-write cif side failed",
			"deposition_id", msg.DepositionID, "error", cifOutcome.Error)
	}
	if !dbOutcome.Success {
		r.logger.Errorw("msg", "dual-write database side failed",
			"deposition_id", msg.DepositionID, "error", dbOutcome.Error)
	}

	return success
}

// writeDbPrimary attempts the database first and falls back to CIF.
// The legacy policy generation also treats a write slower than the latency
// threshold as a fallback trigger; the revised generation falls back only
// on explicit failure.
func (r *RouterUseCase) writeDbPrimary(ctx context.Context, msg *model.Message) bool {
	dbSucceeded := false
	if r.db != nil {
		outcome := r.executeWrite(ctx, r.db, msg, true)
		if outcome.Success {
			dbSucceeded = true
			if r.fallbackTrigger != model.TriggerOnFailureOrLatency ||
				outcome.DurationMs < float64(r.latencyThreshold.Milliseconds()) {
				return true
			}
			r.logger.Warnw("msg", "database write exceeded latency threshold, writing fallback copy",
				"deposition_id", msg.DepositionID,
				"duration_ms", outcome.DurationMs,
				"threshold_ms", r.latencyThreshold.Milliseconds())
		} else {
			r.logger.Warnw("msg", "database write failed, falling back to cif",
				"deposition_id", msg.DepositionID, "error", outcome.Error)
		}
	}

	if r.cif == nil {
		if dbSucceeded {
			return true
		}
		r.logger.Errorw("msg", "both database and cif backends unavailable",
			"deposition_id", msg.DepositionID)
		return false
	}
	outcome := r.executeWrite(ctx, r.cif, msg, false)
	if dbSucceeded && !outcome.Success {
		// The database write already landed; the latency-triggered copy is
		// best effort and must not turn a successful write into a failure.
		r.logger.Warnw("msg", "latency fallback copy failed after successful database write",
			"deposition_id", msg.DepositionID, "error", outcome.Error)
		return true
	}
	return outcome.Success
}

// executeWrite runs one backend write with timing, metrics recording and
// opportunistic health tracking. Database writes pass through the shared
// circuit breaker unless the circuit_breaker flag is off.
func (r *RouterUseCase) executeWrite(ctx context.Context, backend MessageBackend, msg *model.Message, protected bool) model.WriteOutcome {
	start := time.Now()

	var err error
	if protected && r.flags.IsEnabled(FlagCircuitBreaker, nil) {
		err = r.dbBreaker.Call(ctx, func(ctx context.Context) error {
			return backend.WriteMessage(ctx, msg)
		})
	} else {
		err = backend.WriteMessage(ctx, msg)
	}

	durationMs := float64(time.Since(start).Milliseconds())
	outcome := model.WriteOutcome{
		Backend:      backend.Name(),
		Success:      err == nil,
		DurationMs:   durationMs,
		MessageCount: 1,
	}

	if err != nil {
		outcome.Error = err.Error()
		outcome.MessageCount = 0
		switch {
		case errors.Is(err, breaker.ErrOpen):
			// Deliberately not attempted; the backend itself was not hit.
			r.logger.Warnw("msg", "write rejected by open circuit breaker",
				"backend", backend.Name(), "deposition_id", msg.DepositionID)
		case errors.Is(err, breaker.ErrTimeout):
			r.logger.Errorw("msg", "backend write timed out",
				"backend", backend.Name(), "deposition_id", msg.DepositionID)
			r.setHealth(backend.Name(), model.BackendDegraded)
		default:
			r.logger.Errorw("msg", "backend write failed",
				"backend", backend.Name(),
				"deposition_id", msg.DepositionID,
				"error", err)
			r.setHealth(backend.Name(), model.BackendDegraded)
		}
	} else {
		r.setHealth(backend.Name(), model.BackendHealthy)
	}

	r.metrics.RecordWrite(backend.Name(), durationMs, outcome.Success)
	return outcome
}

// FetchMessages reads the message list for a deposition. The database is
// preferred when the read_from_db flag is on and its health is good; any
// read failure degrades to the file backend and finally to an empty slice.
// Read failures never propagate to the caller.
func (r *RouterUseCase) FetchMessages(ctx context.Context, depositionID string) []model.Message {
	flagCtx := NewFlagContext().WithDeposition(depositionID).WithSite(r.siteID)

	if r.flags.IsEnabled(FlagReadFromDb, flagCtx) && r.db != nil && r.Health(model.BackendDatabase) == model.BackendHealthy {
		msgs, err := r.db.ReadMessages(ctx, depositionID)
		if err == nil {
			return msgs
		}
		r.logger.Warnw("msg", "database read failed, falling back to cif",
			"deposition_id", depositionID, "error", err)
		r.setHealth(model.BackendDatabase, model.BackendDegraded)
	}

	if r.cif != nil && r.Health(model.BackendCIF) == model.BackendHealthy {
		msgs, err := r.cif.ReadMessages(ctx, depositionID)
		if err == nil {
			return msgs
		}
		r.logger.Warnw("msg", "cif read failed",
			"deposition_id", depositionID, "error", err)
		r.setHealth(model.BackendCIF, model.BackendDegraded)
	}

	r.logger.Errorw("msg", "no available backend for reading messages",
		"deposition_id", depositionID)
	return []model.Message{}
}

// FetchMessage reads a single message by id with the same priority and
// degradation rules as FetchMessages. A message absent from the database,
// such as one written during the cif-only phase, is still looked up in the
// file backend. A message missing from both returns nil.
func (r *RouterUseCase) FetchMessage(ctx context.Context, messageID string) *model.Message {
	if r.flags.IsEnabled(FlagReadFromDb, nil) && r.db != nil && r.Health(model.BackendDatabase) == model.BackendHealthy {
		msg, err := r.db.ReadMessage(ctx, messageID)
		if err == nil && msg != nil {
			return msg
		}
		if err != nil {
			r.logger.Warnw("msg", "database read failed, falling back to cif",
				"message_id", messageID, "error", err)
		}
	}

	if r.cif != nil && r.Health(model.BackendCIF) == model.BackendHealthy {
		msg, err := r.cif.ReadMessage(ctx, messageID)
		if err == nil {
			return msg
		}
		r.logger.Warnw("msg", "cif read failed", "message_id", messageID, "error", err)
	}

	return nil
}

// ValidateConsistency compares both backends' views of one deposition.
// The consistency_checks flag short-circuits to a trivially consistent
// report; otherwise the outcome is recorded in the metrics collector.
func (r *RouterUseCase) ValidateConsistency(ctx context.Context, depositionID string) *model.ConsistencyReport {
	if !r.flags.IsEnabled(FlagConsistencyChecks, nil) {
		return &model.ConsistencyReport{
			DepositionID: depositionID,
			Consistent:   true,
			Differences:  []string{"consistency checks disabled"},
			CheckedAt:    time.Now(),
		}
	}
	if r.validator == nil {
		return &model.ConsistencyReport{
			DepositionID: depositionID,
			Consistent:   false,
			Differences:  []string{"validation error: one or both backends unavailable"},
			CheckedAt:    time.Now(),
		}
	}

	report := r.validator.ValidateDeposition(ctx, depositionID)
	r.metrics.RecordConsistencyCheck(report.Consistent)

	if !report.Consistent {
		r.logger.Warnw("msg", "consistency check found divergence",
			"deposition_id", depositionID,
			"differences", len(report.Differences))
	}
	return report
}

// SweepRecentDepositions validates every deposition written since the last
// sweep. Invoked by the scheduler, not by the write path.
func (r *RouterUseCase) SweepRecentDepositions(ctx context.Context) (checked, inconsistent int) {
	for _, depositionID := range r.recent.Keys() {
		report := r.ValidateConsistency(ctx, depositionID)
		checked++
		if !report.Consistent {
			inconsistent++
		}
	}
	r.logger.Infow("msg", "consistency sweep completed",
		"checked", checked, "inconsistent", inconsistent)
	return checked, inconsistent
}

// Health returns the tracked health of one backend.
func (r *RouterUseCase) Health(backend string) model.BackendStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.health[backend]; ok {
		return s
	}
	return model.BackendUnknown
}

// BackendHealth returns a copy of the health map.
func (r *RouterUseCase) BackendHealth() map[string]model.BackendStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]model.BackendStatus, len(r.health))
	for k, v := range r.health {
		out[k] = v
	}
	return out
}

func (r *RouterUseCase) setHealth(backend string, status model.BackendStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.health[backend] = status
}

// Flags exposes the flag manager for the service layer's runtime controls.
func (r *RouterUseCase) Flags() *FeatureFlagManager {
	return r.flags
}

// PerformanceReport is the one coherent observability snapshot: timing
// summaries, backend health, breaker counters and current routing flags.
type PerformanceReport struct {
	Metrics        MetricsSummary                 `json:"metrics"`
	BackendHealth  map[string]model.BackendStatus `json:"backend_health"`
	ActiveStrategy string                         `json:"active_strategy"`
	FeatureFlags   map[string]bool                `json:"feature_flags"`
	Breaker        breaker.Metrics                `json:"circuit_breaker"`
}

// PerformanceReport assembles the current snapshot.
func (r *RouterUseCase) PerformanceReport() PerformanceReport {
	return PerformanceReport{
		Metrics:        r.metrics.Summary(),
		BackendHealth:  r.BackendHealth(),
		ActiveStrategy: r.flags.RecommendedWriteStrategy(nil),
		FeatureFlags:   r.flags.StrategyFlags(),
		Breaker:        r.dbBreaker.Metrics(),
	}
}
