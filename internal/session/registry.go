package session

import (
	"sync"

	"github.com/rdpengine/core/internal/engineerr"
)

// HostHandleRegistry is the process-wide map from an opaque host handle to
// the command-queue sender for that session (§3 HostHandleRegistry). It is
// safe for concurrent use; the registry itself is immutable once shared,
// only its contents mutate under the guard.
type HostHandleRegistry struct {
	mu   sync.RWMutex
	byID map[uint64]chan<- Command
}

// NewHostHandleRegistry creates an empty registry.
func NewHostHandleRegistry() *HostHandleRegistry {
	return &HostHandleRegistry{byID: make(map[uint64]chan<- Command)}
}

// Register adds hostHandle, failing if it is already registered.
func (r *HostHandleRegistry) Register(hostHandle uint64, commands chan<- Command) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[hostHandle]; exists {
		return engineerr.New(engineerr.KindProgrammer, "host handle already registered")
	}
	r.byID[hostHandle] = commands
	return nil
}

// Remove deletes hostHandle's entry, if present. Called exactly once, when
// the owning session loop exits.
func (r *HostHandleRegistry) Remove(hostHandle uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, hostHandle)
}

// Send best-effort delivers cmd to hostHandle's command queue. Returns an
// error if the handle is unknown; a full queue blocks the caller, matching
// the host-callback-blocking-send suspension point in §5.
func (r *HostHandleRegistry) Send(hostHandle uint64, cmd Command) error {
	r.mu.RLock()
	ch, ok := r.byID[hostHandle]
	r.mu.RUnlock()

	if !ok {
		return engineerr.New(engineerr.KindProgrammer, "unknown host handle")
	}

	ch <- cmd
	return nil
}
