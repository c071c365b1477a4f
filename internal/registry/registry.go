package registry

import (
	"sync"

	"github.com/rignes/walletgate/internal/protocol"
)

// Registry holds requests that are awaiting a decision. An entry leaves the
// map exactly once, via Take, which is what makes settlement at-most-once.
type Registry struct {
	mu      sync.Mutex
	pending map[string]*protocol.Request
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		pending: make(map[string]*protocol.Request),
	}
}

// Add registers a pending request under its id.
func (r *Registry) Add(req *protocol.Request) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending[req.ID] = req
}

// Take removes and returns the request with the given id. A second Take for
// the same id returns false; dismissing is idempotent.
func (r *Registry) Take(id string) (*protocol.Request, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.pending[id]
	if !ok {
		return nil, false
	}
	delete(r.pending, id)
	return req, true
}

// Get returns the request without removing it.
func (r *Registry) Get(id string) (*protocol.Request, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.pending[id]
	return req, ok
}

// List returns a snapshot of all pending requests.
func (r *Registry) List() []*protocol.Request {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*protocol.Request, 0, len(r.pending))
	for _, req := range r.pending {
		out = append(out, req)
	}
	return out
}

// Len returns the number of pending requests.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
