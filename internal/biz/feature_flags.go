package biz

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"MsgBridge/internal/conf"
	"MsgBridge/internal/model"

	"github.com/cespare/xxhash/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/spf13/viper"
)

// Well-known flag names. The three strategy flags are consulted on every
// write; the remaining flags gate validation and resilience behavior.
const (
	FlagDualWrite          = "hybrid_dual_write"
	FlagDbPrimary          = "hybrid_db_primary"
	FlagDbOnly             = "hybrid_db_only"
	FlagReadFromDb         = "read_from_db"
	FlagConsistencyChecks  = "consistency_checks"
	FlagPerformanceMetrics = "performance_metrics"
	FlagCircuitBreaker     = "circuit_breaker"
	FlagAutoFailover       = "auto_failover"
	FlagDetailedLogging    = "detailed_logging"
	FlagMigrationMode      = "migration_mode"
	FlagBatchOperations    = "batch_operations"
)

// envFlagPrefix is the environment override prefix: MSGBRIDGE_FLAG_<NAME>
// accepts boolean tokens or a float in [0,100] as rollout percentage.
const envFlagPrefix = "MSGBRIDGE_FLAG_"

// FlagScope defines where a feature flag applies.
type FlagScope string

const (
	ScopeGlobal     FlagScope = "global"
	ScopeSite       FlagScope = "site"
	ScopeDeposition FlagScope = "deposition"
	ScopeUser       FlagScope = "user"
)

// FeatureFlag is a named switch with optional percentage rollout and
// group targeting.
type FeatureFlag struct {
	Name              string
	Enabled           bool
	Scope             FlagScope
	Description       string
	RolloutPercentage float64
	TargetGroups      map[string]bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// FlagContext carries the identity used for rollout hashing and group
// targeting. Build one with the With* methods.
type FlagContext struct {
	DepositionID string
	UserID       string
	SiteID       string
	UserGroups   []string
}

// NewFlagContext returns an empty context.
func NewFlagContext() *FlagContext {
	return &FlagContext{}
}

// WithDeposition sets the deposition id used as the primary rollout key.
func (c *FlagContext) WithDeposition(depositionID string) *FlagContext {
	c.DepositionID = depositionID
	return c
}

// WithUser sets the user id and optional group memberships.
func (c *FlagContext) WithUser(userID string, groups ...string) *FlagContext {
	c.UserID = userID
	c.UserGroups = groups
	return c
}

// WithSite sets the site id.
func (c *FlagContext) WithSite(siteID string) *FlagContext {
	c.SiteID = siteID
	return c
}

// rolloutKey picks the stable hashing key: deposition id, else user id,
// else the literal "default".
func (c *FlagContext) rolloutKey() string {
	if c.DepositionID != "" {
		return c.DepositionID
	}
	if c.UserID != "" {
		return c.UserID
	}
	return "default"
}

// FeatureFlagManager is the single source of truth for routing decisions.
// Flags are seeded from hard-coded defaults, then overridden by an optional
// flags file, then by MSGBRIDGE_FLAG_* environment variables. Runtime
// mutation is supported for operational control; flags are not persisted
// and are re-seeded on restart.
type FeatureFlagManager struct {
	siteID string
	logger *log.Helper

	mu    sync.RWMutex
	flags map[string]*FeatureFlag
}

// flagFileEntry is the on-disk shape of one flag override.
type flagFileEntry struct {
	Enabled           *bool    `mapstructure:"enabled"`
	Scope             string   `mapstructure:"scope"`
	Description       string   `mapstructure:"description"`
	RolloutPercentage *float64 `mapstructure:"rollout_percentage"`
	TargetGroups      []string `mapstructure:"target_groups"`
}

// NewFeatureFlagManager creates a manager seeded with the default flag set.
// Overrides are applied in order: flags file (if configured), then
// environment variables. Environment loading happens once here, not ad hoc
// at call sites.
func NewFeatureFlagManager(c *conf.Messaging, logger log.Logger) *FeatureFlagManager {
	m := &FeatureFlagManager{
		siteID: "RCSB",
		logger: log.NewHelper(logger),
		flags:  defaultFlags(),
	}
	if c != nil && c.SiteId != "" {
		m.siteID = c.SiteId
	}

	if c != nil && c.FlagsFile != "" {
		if err := m.loadFromFile(c.FlagsFile); err != nil {
			m.logger.Errorw("msg", "failed to load feature flags file", "path", c.FlagsFile, "error", err)
		}
	}
	m.loadFromEnvironment()

	m.logger.Infow("msg", "feature flag manager initialized",
		"site_id", m.siteID,
		"flag_count", len(m.flags))
	return m
}

// defaultFlags seeds the conservative defaults: all strategy flags off
// (cif_only routing), validation and resilience on.
func defaultFlags() map[string]*FeatureFlag {
	now := time.Now()
	mk := func(name string, enabled bool, rollout float64, desc string) *FeatureFlag {
		return &FeatureFlag{
			Name:              name,
			Enabled:           enabled,
			Scope:             ScopeGlobal,
			Description:       desc,
			RolloutPercentage: rollout,
			CreatedAt:         now,
		}
	}
	return map[string]*FeatureFlag{
		FlagDualWrite:          mk(FlagDualWrite, false, 0, "write to both CIF and database"),
		FlagDbPrimary:          mk(FlagDbPrimary, false, 0, "database primary with CIF fallback"),
		FlagDbOnly:             mk(FlagDbOnly, false, 0, "write to database only"),
		FlagReadFromDb:         mk(FlagReadFromDb, false, 0, "read messages from database instead of CIF"),
		FlagConsistencyChecks:  mk(FlagConsistencyChecks, true, 100, "validate data consistency between backends"),
		FlagPerformanceMetrics: mk(FlagPerformanceMetrics, true, 100, "collect write timing metrics"),
		FlagCircuitBreaker:     mk(FlagCircuitBreaker, true, 100, "protect database operations with a circuit breaker"),
		FlagAutoFailover:       mk(FlagAutoFailover, true, 100, "automatic failover to CIF on database failures"),
		FlagDetailedLogging:    mk(FlagDetailedLogging, false, 100, "verbose per-operation logging"),
		FlagMigrationMode:      mk(FlagMigrationMode, false, 100, "migration mode for bulk data transition"),
		FlagBatchOperations:    mk(FlagBatchOperations, true, 100, "batch operations on the database backend"),
	}
}

// loadFromFile applies overrides from a YAML/JSON flags file. File values
// win over defaults; unknown names create new flags.
func (m *FeatureFlagManager) loadFromFile(path string) error {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read flags file: %w", err)
	}

	entries := map[string]flagFileEntry{}
	if err := v.UnmarshalKey("flags", &entries); err != nil {
		return fmt.Errorf("parse flags file: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for name, e := range entries {
		flag, ok := m.flags[name]
		if !ok {
			flag = &FeatureFlag{
				Name:              name,
				Scope:             ScopeGlobal,
				RolloutPercentage: 100,
				CreatedAt:         now,
			}
			m.flags[name] = flag
		}
		if e.Enabled != nil {
			flag.Enabled = *e.Enabled
		}
		if e.RolloutPercentage != nil {
			flag.RolloutPercentage = *e.RolloutPercentage
		}
		if e.Scope != "" {
			flag.Scope = FlagScope(e.Scope)
		}
		if e.Description != "" {
			flag.Description = e.Description
		}
		if len(e.TargetGroups) > 0 {
			flag.TargetGroups = make(map[string]bool, len(e.TargetGroups))
			for _, g := range e.TargetGroups {
				flag.TargetGroups[g] = true
			}
		}
		flag.UpdatedAt = now
	}
	m.logger.Infow("msg", "feature flags loaded from file", "path", path, "count", len(entries))
	return nil
}

// loadFromEnvironment applies MSGBRIDGE_FLAG_* overrides: boolean tokens
// toggle the flag, a float in [0,100] sets its rollout percentage. Only
// known flags are touched; env wins over file values.
func (m *FeatureFlagManager) loadFromEnvironment() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, kv := range os.Environ() {
		eq := strings.IndexByte(kv, '=')
		if eq < 0 || !strings.HasPrefix(kv, envFlagPrefix) {
			continue
		}
		name := strings.ToLower(kv[len(envFlagPrefix):eq])
		value := kv[eq+1:]

		flag, ok := m.flags[name]
		if !ok {
			continue
		}

		if b, ok := parseBoolToken(value); ok {
			flag.Enabled = b
		} else if pct, err := strconv.ParseFloat(value, 64); err == nil && pct >= 0 && pct <= 100 {
			flag.RolloutPercentage = pct
		} else {
			m.logger.Warnw("msg", "invalid feature flag environment value",
				"flag", name, "value", value)
			continue
		}
		flag.UpdatedAt = time.Now()
		m.logger.Infow("msg", "feature flag overridden from environment",
			"flag", name, "value", value)
	}
}

// parseBoolToken accepts the usual boolean spellings, case-insensitive.
func parseBoolToken(s string) (value, ok bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes", "on":
		return true, true
	case "false", "0", "no", "off":
		return false, true
	}
	return false, false
}

// IsEnabled reports whether a flag is enabled for the given context.
// Unknown flags degrade to disabled with a warning; they never error.
// Percentage rollout is deterministic per context key, so the same
// deposition always receives the same decision.
func (m *FeatureFlagManager) IsEnabled(name string, ctx *FlagContext) bool {
	m.mu.RLock()
	flag, ok := m.flags[name]
	if !ok {
		m.mu.RUnlock()
		m.logger.Warnw("msg", "unknown feature flag", "flag", name)
		return false
	}
	enabled := flag.Enabled
	rollout := flag.RolloutPercentage
	targets := flag.TargetGroups
	m.mu.RUnlock()

	if !enabled {
		return false
	}

	if rollout < 100 && ctx != nil {
		bucket := float64(xxhash.Sum64String(ctx.rolloutKey()) % 100)
		if bucket >= rollout {
			return false
		}
	}

	if len(targets) > 0 && ctx != nil {
		if !m.contextTargeted(ctx, targets) {
			return false
		}
	}

	return true
}

// contextTargeted checks whether the context's groups or the site itself
// intersect the flag's target set.
func (m *FeatureFlagManager) contextTargeted(ctx *FlagContext, targets map[string]bool) bool {
	if targets[m.siteID] {
		return true
	}
	for _, g := range ctx.UserGroups {
		if targets[g] {
			return true
		}
	}
	return false
}

// SetFlag creates or updates a flag at runtime.
func (m *FeatureFlagManager) SetFlag(name string, enabled bool, rolloutPercentage float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if flag, ok := m.flags[name]; ok {
		flag.Enabled = enabled
		flag.RolloutPercentage = rolloutPercentage
		flag.UpdatedAt = now
	} else {
		m.flags[name] = &FeatureFlag{
			Name:              name,
			Enabled:           enabled,
			Scope:             ScopeGlobal,
			Description:       "dynamically created flag",
			RolloutPercentage: rolloutPercentage,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
	}
	m.logger.Infow("msg", "feature flag updated",
		"flag", name, "enabled", enabled, "rollout", rolloutPercentage)
}

// EnableFlag enables a flag with the given rollout percentage.
func (m *FeatureFlagManager) EnableFlag(name string, rolloutPercentage float64) {
	m.SetFlag(name, true, rolloutPercentage)
}

// DisableFlag disables a flag.
func (m *FeatureFlagManager) DisableFlag(name string) {
	m.SetFlag(name, false, 0)
}

// RecommendedWriteStrategy resolves the active write strategy from flag
// state. Precedence, highest first: db_only, db_primary_cif_fallback,
// dual_write; with nothing enabled the conservative default is cif_only.
// Enabling a higher-precedence flag silently overrides lower ones.
func (m *FeatureFlagManager) RecommendedWriteStrategy(ctx *FlagContext) string {
	switch {
	case m.IsEnabled(FlagDbOnly, ctx):
		return model.StrategyDbOnly
	case m.IsEnabled(FlagDbPrimary, ctx):
		return model.StrategyDbPrimaryCif
	case m.IsEnabled(FlagDualWrite, ctx):
		return model.StrategyDualWrite
	default:
		return model.StrategyCifOnly
	}
}

// StrategyFlags returns the current state of the strategy-related flags.
func (m *FeatureFlagManager) StrategyFlags() map[string]bool {
	return map[string]bool{
		FlagDualWrite:  m.IsEnabled(FlagDualWrite, nil),
		FlagDbPrimary:  m.IsEnabled(FlagDbPrimary, nil),
		FlagDbOnly:     m.IsEnabled(FlagDbOnly, nil),
		FlagReadFromDb: m.IsEnabled(FlagReadFromDb, nil),
	}
}

// Snapshot returns a copy of every flag for the metrics surface.
func (m *FeatureFlagManager) Snapshot() map[string]FeatureFlag {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]FeatureFlag, len(m.flags))
	for name, flag := range m.flags {
		out[name] = *flag
	}
	return out
}
