package ports

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Registry tracks which listen ports are currently held by running jobs.
// All operations are atomic with respect to each other; the lock is held
// only for the map mutation, never across I/O.
type Registry struct {
	mu     sync.Mutex
	held   map[uint16]string
	logger *logrus.Entry
}

// NewRegistry creates an empty port registry.
func NewRegistry() *Registry {
	return &Registry{
		held:   make(map[uint16]string),
		logger: logrus.WithField("component", "ports"),
	}
}

// TryReserve claims every requested port for owner as a single atomic
// operation. If any port is already held the whole attempt fails, nothing
// is reserved, and every conflicting port is returned.
func (r *Registry) TryReserve(owner string, ports []uint16) []uint16 {
	r.mu.Lock()
	defer r.mu.Unlock()

	var conflicts []uint16
	for _, p := range ports {
		if _, taken := r.held[p]; taken {
			conflicts = append(conflicts, p)
		}
	}
	if len(conflicts) > 0 {
		return conflicts
	}

	for _, p := range ports {
		r.held[p] = owner
	}
	r.logger.WithField("job_id", owner).Debugf("Reserved ports %v", ports)
	return nil
}

// Release removes the given ports from the registry. Releasing a port that
// is not held is a no-op so error unwinding may release twice.
func (r *Registry) Release(ports []uint16) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, p := range ports {
		delete(r.held, p)
	}
}

// Owner returns the job currently holding a port, if any.
func (r *Registry) Owner(port uint16) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	owner, ok := r.held[port]
	return owner, ok
}

// Count returns the number of ports currently held.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.held)
}
