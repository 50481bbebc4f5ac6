package pipeline

import (
	"context"
	"sync"

	"github.com/ppiankov/filedrop/internal/config"
	"github.com/ppiankov/filedrop/internal/faults"
)

// Processor consumes one file and produces a Result. Implementations
// must be safe for concurrent use across configurations; a single
// configuration invokes its processor serially.
type Processor interface {
	// Type is the processor's registry key.
	Type() string
	// Supports reports whether this processor handles the configuration.
	Supports(cfg *config.WatchConfig) bool
	// Process handles the file synchronously, honoring ctx cancellation.
	Process(ctx context.Context, job Job) (Result, error)
}

// Registry maps processor types to processors in registration order.
type Registry struct {
	mu    sync.RWMutex
	procs []Processor
}

// NewRegistry creates an empty processor registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register appends a processor. Later registrations never shadow
// earlier ones; dispatch picks the first supporting processor.
func (r *Registry) Register(p Processor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.procs = append(r.procs, p)
}

// Select returns the first processor supporting cfg, or an APPLICATION
// error when none matches.
func (r *Registry) Select(cfg *config.WatchConfig) (Processor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.procs {
		if p.Supports(cfg) {
			return p, nil
		}
	}
	return nil, faults.New(faults.CategoryApplication,
		"no processor registered for type %q (watch %q)", cfg.ProcessorType, cfg.Name)
}

// Types lists the registered processor types.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.procs))
	for _, p := range r.procs {
		out = append(out, p.Type())
	}
	return out
}
