package breaker

import (
	"sort"
	"sync"
)

// Registry owns one breaker per backend dependency key. Breakers are created
// lazily with the registry's shared config and each carries its own lock, so
// a degraded embedding endpoint never stalls completion admission control.
type Registry struct {
	config        Config
	onStateChange func(name string, from, to State)

	mu       sync.RWMutex
	breakers map[string]*Breaker
}

// NewRegistry creates a registry applying cfg to every breaker it mints
func NewRegistry(cfg Config) *Registry {
	cfg.applyDefaults()
	return &Registry{
		config:   cfg,
		breakers: make(map[string]*Breaker),
	}
}

// OnStateChange registers a transition observer applied to every breaker the
// registry creates. Must be called before the first Get.
func (r *Registry) OnStateChange(fn func(name string, from, to State)) {
	r.onStateChange = fn
}

// Get returns the breaker for key, creating it on first use
func (r *Registry) Get(key string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[key]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[key]; ok {
		return b
	}

	b = New(key, r.config)
	if r.onStateChange != nil {
		b.OnStateChange(r.onStateChange)
	}
	r.breakers[key] = b
	return b
}

// Snapshots returns a point-in-time view of every breaker, sorted by key
func (r *Registry) Snapshots() []Snapshot {
	r.mu.RLock()
	breakers := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		breakers = append(breakers, b)
	}
	r.mu.RUnlock()

	snaps := make([]Snapshot, len(breakers))
	for i, b := range breakers {
		snaps[i] = b.Snapshot()
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Name < snaps[j].Name })
	return snaps
}
