package server

import (
	"sync"

	"github.com/abdul-hamid-achik/hitsuite/packages/core/testrun"
)

// registry keeps recent runs in memory, in start order.
type registry struct {
	mu    sync.Mutex
	runs  map[string]*testrun.Result
	order []string
	max   int
}

func newRegistry(max int) *registry {
	return &registry{runs: make(map[string]*testrun.Result), max: max}
}

func (r *registry) add(res *testrun.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[res.ID] = res
	r.order = append(r.order, res.ID)
	r.evict()
}

// evict drops the oldest finished runs while over capacity. Runs still in
// flight are never dropped.
func (r *registry) evict() {
	for i := 0; len(r.order) > r.max && i < len(r.order); {
		id := r.order[i]
		if !r.runs[id].Closed() {
			i++
			continue
		}
		delete(r.runs, id)
		r.order = append(r.order[:i], r.order[i+1:]...)
	}
}

func (r *registry) get(id string) (*testrun.Result, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.runs[id]
	return res, ok
}

// list returns the runs newest first.
func (r *registry) list() []*testrun.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*testrun.Result, 0, len(r.order))
	for i := len(r.order) - 1; i >= 0; i-- {
		out = append(out, r.runs[r.order[i]])
	}
	return out
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}
