package mesh

import (
	"context"
	"sync"
	"time"

	"github.com/nexusforge/modcache/internal/logging"
)

// sharingMonitorInterval is how often the background monitor sweeps
// active_sessions (§4.7).
const sharingMonitorInterval = 5 * time.Minute

// natRecheckInterval is how often NAT status is refreshed while the
// sharing monitor is alive (§4.7).
const natRecheckInterval = 30 * time.Minute

// SessionRegistry tracks the mesh engine's active_sessions map (§4.7)
// and runs the background sharing monitor that prunes dead sessions
// and refreshes NAT status.
type SessionRegistry struct {
	mu       sync.Mutex
	sessions map[string]Session
	engine   MeshEngine

	natSuccessful bool
	lastNATCheck  time.Time
	listenPort    int

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// NewSessionRegistry builds a registry bound to engine, used to
// refresh NAT status.
func NewSessionRegistry(engine MeshEngine, listenPort int) *SessionRegistry {
	return &SessionRegistry{
		sessions:   make(map[string]Session),
		engine:     engine,
		listenPort: listenPort,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Register adds or replaces the session tracked under hash.
func (r *SessionRegistry) Register(hash string, s Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[hash] = s
}

// Get returns the session tracked under hash, if any.
func (r *SessionRegistry) Get(hash string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[hash]
	return s, ok
}

// Unregister removes the session tracked under hash without stopping
// it; callers that want a clean stop should call StopAsync first.
func (r *SessionRegistry) Unregister(hash string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, hash)
}

// NATSuccessful reports the most recent NAT traversal check result.
func (r *SessionRegistry) NATSuccessful() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.natSuccessful
}

// CheckNAT inspects the engine's port-forwarder mappings and sets
// nat_successful if at least one mapping is active (§4.7).
func (r *SessionRegistry) CheckNAT(ctx context.Context) {
	mappings, err := r.engine.PortMappings(ctx)
	log := logging.Component("mesh")

	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastNATCheck = time.Now()

	if err != nil {
		r.natSuccessful = false
		log.WithField("port", r.listenPort).Warn("NAT traversal check failed: engine unavailable")
		return
	}

	for _, m := range mappings {
		if m.Active {
			r.natSuccessful = true
			return
		}
	}
	r.natSuccessful = false
	log.WithField("port", r.listenPort).Warn("no active NAT port mapping found")
}

// StartMonitor launches the background sharing monitor goroutine,
// waking every 5 minutes to prune dead sessions and every 30 minutes
// to refresh NAT status (§4.7).
func (r *SessionRegistry) StartMonitor(ctx context.Context) {
	go func() {
		defer close(r.done)
		ticker := time.NewTicker(sharingMonitorInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stop:
				return
			case <-ticker.C:
				r.sweep()
				r.mu.Lock()
				elapsed := time.Since(r.lastNATCheck)
				r.mu.Unlock()
				if elapsed >= natRecheckInterval {
					r.CheckNAT(ctx)
				}
			}
		}
	}()
}

// sweep removes sessions in Error or Stopped states. Other sessions
// currently are kept indefinitely, per §4.7's idle/ratio policy note.
func (r *SessionRegistry) sweep() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for hash, s := range r.sessions {
		switch s.State() {
		case StateError, StateStopped:
			delete(r.sessions, hash)
		}
	}
}

// Shutdown cancels the monitor, stops and unregisters every active
// session, and disposes the engine. Must complete without panicking so
// it is safe to call from an application-exit hook (§4.7).
func (r *SessionRegistry) Shutdown(ctx context.Context) {
	r.once.Do(func() { close(r.stop) })

	select {
	case <-r.done:
	case <-time.After(5 * time.Second):
	}

	r.mu.Lock()
	sessions := make(map[string]Session, len(r.sessions))
	for k, v := range r.sessions {
		sessions[k] = v
	}
	r.sessions = make(map[string]Session)
	r.mu.Unlock()

	for _, s := range sessions {
		func() {
			defer func() { recover() }()
			_ = s.StopAsync(ctx)
		}()
	}

	func() {
		defer func() { recover() }()
		_ = r.engine.Close()
	}()
}
