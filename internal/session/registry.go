// ABOUTME: In-memory directory of connected Unity editor instances.
// ABOUTME: Guards all mutation with a single mutex; replace-on-reconnect is atomic.

package session

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Registry is the thread-safe directory of sessions. It maintains a primary
// index by session id, a secondary index from project hash to the current
// live session, and insertion order for stable listing.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session // session id -> session (live and offline placeholders)
	byHash   map[string]string   // project hash -> live session id
	order    []string            // session ids in registration order

	// replaceOnConflict allows a new registration for a hash that already has
	// a live session to atomically retire the old one. This is the default
	// policy; disabling it makes Register fail with ErrDuplicateProject.
	replaceOnConflict bool

	logger *slog.Logger
}

// NewRegistry creates an empty Registry with the default replacement policy.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		sessions:          make(map[string]*Session),
		byHash:            make(map[string]string),
		replaceOnConflict: true,
		logger:            logger,
	}
}

// RegisterParams carries the fields of an incoming register message.
type RegisterParams struct {
	ProjectName  string
	ProjectHash  string
	UnityVersion string
	ProjectPath  string
	KeepAlive    bool
	Endpoint     Endpoint
}

// Register adds a new live session, replacing any prior live session for the
// same project hash. The replaced session's endpoint is closed after the
// registry state has been swapped. A retained offline placeholder for the
// same hash is consumed by the new registration.
func (r *Registry) Register(p RegisterParams) (*Session, error) {
	sess := &Session{
		ID:           uuid.New().String(),
		ProjectName:  p.ProjectName,
		ProjectHash:  p.ProjectHash,
		UnityVersion: p.UnityVersion,
		ProjectPath:  p.ProjectPath,
		KeepAlive:    p.KeepAlive,
		ConnectedAt:  time.Now().UTC(),
		endpoint:     p.Endpoint,
	}

	r.mu.Lock()
	var retired Endpoint
	if oldID, ok := r.byHash[p.ProjectHash]; ok {
		if !r.replaceOnConflict {
			r.mu.Unlock()
			return nil, ErrDuplicateProject
		}
		old := r.sessions[oldID]
		retired = old.detach()
		r.removeLocked(oldID)
	} else {
		// A keep-alive placeholder for this hash is superseded by the reconnect.
		for id, s := range r.sessions {
			if s.ProjectHash == p.ProjectHash && s.Offline() {
				r.removeLocked(id)
				break
			}
		}
	}

	r.sessions[sess.ID] = sess
	r.byHash[sess.ProjectHash] = sess.ID
	r.order = append(r.order, sess.ID)
	total := len(r.byHash)
	r.mu.Unlock()

	if retired != nil {
		_ = retired.Close()
		r.logger.Info("replaced live session for project",
			"project_hash", p.ProjectHash,
			"session_id", sess.ID,
		)
	}

	r.logger.Info("instance registered",
		"session_id", sess.ID,
		"project", sess.Reference(),
		"unity_version", sess.UnityVersion,
		"live_sessions", total,
	)
	return sess, nil
}

// Unregister removes a session. If the session was registered with
// keep_alive_on_disconnect, only its endpoint is dropped and an offline
// placeholder remains listable and addressable by reference.
func (r *Registry) Unregister(sessionID string) {
	r.mu.Lock()
	sess, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return
	}

	if liveID, live := r.byHash[sess.ProjectHash]; live && liveID == sessionID {
		delete(r.byHash, sess.ProjectHash)
	}

	keep := sess.KeepAlive
	if !keep {
		r.removeLocked(sessionID)
	}
	r.mu.Unlock()

	ep := sess.detach()
	if ep != nil {
		_ = ep.Close()
	}

	if keep {
		r.logger.Info("instance disconnected, placeholder retained",
			"session_id", sessionID,
			"project", sess.Reference(),
		)
	} else {
		r.logger.Info("instance disconnected",
			"session_id", sessionID,
			"project", sess.Reference(),
		)
	}
}

// removeLocked drops a session from every index. Caller holds r.mu.
func (r *Registry) removeLocked(sessionID string) {
	delete(r.sessions, sessionID)
	for i, id := range r.order {
		if id == sessionID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Lookup returns the session with the given id, including offline placeholders.
func (r *Registry) Lookup(sessionID string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// List returns all sessions, live and offline, in registration order.
func (r *Registry) List() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.sessions[id])
	}
	return out
}

// Live returns only the currently connected sessions, in registration order.
func (r *Registry) Live() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.byHash))
	for _, id := range r.order {
		sess := r.sessions[id]
		if liveID, ok := r.byHash[sess.ProjectHash]; ok && liveID == id {
			out = append(out, sess)
		}
	}
	return out
}

// FindByReference resolves an instance reference against all sessions.
// A reference is either the full "Name@hash" form or a hash prefix. Multiple
// matches are returned as-is; disambiguation is the selector's job.
func (r *Registry) FindByReference(ref string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matches []*Session
	for _, id := range r.order {
		sess := r.sessions[id]
		if sess.Reference() == ref {
			return []*Session{sess}
		}
		if strings.HasPrefix(sess.ProjectHash, ref) {
			matches = append(matches, sess)
		}
	}
	return matches
}
