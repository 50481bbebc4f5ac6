package breaker

import (
	"time"

	"github.com/ppiankov/filedrop/internal/metrics"
)

// Breaker names for the engine's external dependencies.
const (
	NameDatabase   = "database"
	NameFilesystem = "filesystem"
	NameExternal   = "external"
)

// Registry holds the engine's fixed set of breakers.
type Registry struct {
	breakers map[string]*Breaker
}

// NewRegistry creates the three standard breakers with their tuned
// windows and thresholds.
func NewRegistry(reg *metrics.Registry) *Registry {
	r := &Registry{breakers: make(map[string]*Breaker)}

	r.breakers[NameDatabase] = New(Settings{
		Name:              NameDatabase,
		FailureRate:       0.5,
		Window:            10,
		MinCalls:          5,
		OpenWait:          30 * time.Second,
		HalfOpenCalls:     3,
		SlowCallThreshold: 5 * time.Second,
		SlowCallRate:      0.8,
	}, reg)

	r.breakers[NameFilesystem] = New(Settings{
		Name:          NameFilesystem,
		FailureRate:   0.7,
		Window:        20,
		MinCalls:      10,
		OpenWait:      15 * time.Second,
		HalfOpenCalls: 5,
	}, reg)

	r.breakers[NameExternal] = New(Settings{
		Name:          NameExternal,
		FailureRate:   0.6,
		Window:        15,
		MinCalls:      8,
		OpenWait:      20 * time.Second,
		HalfOpenCalls: 4,
	}, reg)

	return r
}

// ByName returns the named breaker, or nil if unknown.
func (r *Registry) ByName(name string) *Breaker {
	return r.breakers[name]
}

// Database returns the database breaker.
func (r *Registry) Database() *Breaker { return r.breakers[NameDatabase] }

// Filesystem returns the filesystem breaker.
func (r *Registry) Filesystem() *Breaker { return r.breakers[NameFilesystem] }

// External returns the external-system breaker.
func (r *Registry) External() *Breaker { return r.breakers[NameExternal] }

// States snapshots the current state of every breaker.
func (r *Registry) States() map[string]State {
	out := make(map[string]State, len(r.breakers))
	for name, b := range r.breakers {
		out[name] = b.State()
	}
	return out
}
