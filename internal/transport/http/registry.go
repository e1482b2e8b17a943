package httptransport

import (
	"sync"
	"time"

	"irisvault/internal/platform/metrics"
)

type flow interface {
	ID() string
	Close()
}

type entry[F flow] struct {
	flow     F
	lastSeen time.Time
}

// registry holds the live flows of one kind. Removing a flow closes it so
// its camera is released. With a non-zero idle TTL, flows no request has
// looked up for that long are removed by sweep.
type registry[F flow] struct {
	mu      sync.Mutex
	kind    string
	flows   map[string]*entry[F]
	idleTTL time.Duration
	now     func() time.Time
	metrics *metrics.Metrics
}

func newRegistry[F flow](kind string, idleTTL time.Duration, m *metrics.Metrics) *registry[F] {
	return &registry[F]{
		kind:    kind,
		flows:   make(map[string]*entry[F]),
		idleTTL: idleTTL,
		now:     time.Now,
		metrics: m,
	}
}

func (r *registry[F]) add(f F) {
	r.mu.Lock()
	r.flows[f.ID()] = &entry[F]{flow: f, lastSeen: r.now()}
	n := len(r.flows)
	r.mu.Unlock()
	r.metrics.SetActiveFlows(r.kind, n)
}

// get returns the flow and marks it as in use.
func (r *registry[F]) get(id string) (F, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.flows[id]
	if !ok {
		var zero F
		return zero, false
	}
	e.lastSeen = r.now()
	return e.flow, true
}

// remove closes and forgets the flow. It reports whether the flow existed.
func (r *registry[F]) remove(id string) bool {
	r.mu.Lock()
	e, ok := r.flows[id]
	delete(r.flows, id)
	n := len(r.flows)
	r.mu.Unlock()
	if !ok {
		return false
	}
	e.flow.Close()
	r.metrics.SetActiveFlows(r.kind, n)
	return true
}

// sweep closes the flows idle for longer than the TTL and returns their IDs.
func (r *registry[F]) sweep() []string {
	if r.idleTTL <= 0 {
		return nil
	}
	r.mu.Lock()
	cutoff := r.now().Add(-r.idleTTL)
	var expired []*entry[F]
	for id, e := range r.flows {
		if e.lastSeen.Before(cutoff) {
			expired = append(expired, e)
			delete(r.flows, id)
		}
	}
	n := len(r.flows)
	r.mu.Unlock()
	if len(expired) == 0 {
		return nil
	}

	ids := make([]string, 0, len(expired))
	for _, e := range expired {
		e.flow.Close()
		ids = append(ids, e.flow.ID())
	}
	r.metrics.SetActiveFlows(r.kind, n)
	return ids
}

// closeAll closes every flow concurrently and empties the registry.
func (r *registry[F]) closeAll() {
	r.mu.Lock()
	flows := r.flows
	r.flows = make(map[string]*entry[F])
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, e := range flows {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.flow.Close()
		}()
	}
	wg.Wait()
	r.metrics.SetActiveFlows(r.kind, 0)
}

func (r *registry[F]) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.flows)
}
