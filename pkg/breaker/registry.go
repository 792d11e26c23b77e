package breaker

import (
	"sync"

	"github.com/go-kratos/kratos/v2/log"
)

// The registry hands out one shared breaker per name. The database resource
// it usually protects is itself process-wide, so the shared-singleton shape
// is deliberate.
var (
	registryMu sync.Mutex
	registry   = make(map[string]*Breaker)
)

// Get returns the breaker registered under name, creating it on first use.
// The config and logger only apply to a newly created instance; the name
// "database" defaults to DatabaseConfig when no config is supplied.
func Get(name string, config *Config, logger log.Logger) *Breaker {
	registryMu.Lock()
	defer registryMu.Unlock()

	if b, ok := registry[name]; ok {
		return b
	}

	cfg := DefaultConfig()
	if config != nil {
		cfg = *config
	} else if name == "database" {
		cfg = DatabaseConfig()
	}
	b := New(name, cfg, logger)
	registry[name] = b
	return b
}

// GetDatabase returns the shared breaker protecting the relational backend.
func GetDatabase(logger log.Logger) *Breaker {
	return Get("database", nil, logger)
}

// ResetRegistry drops all registered breakers. Intended for tests.
func ResetRegistry() {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = make(map[string]*Breaker)
}
