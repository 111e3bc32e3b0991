// ABOUTME: Resolves a caller-supplied instance reference to exactly one session.
// ABOUTME: Ambiguity is always surfaced, never silently resolved to a first match.

package session

import "fmt"

// Selector turns a possibly-empty instance reference into a single live
// session, or reports precisely why it cannot.
type Selector struct {
	registry *Registry
}

// NewSelector creates a Selector over the given registry.
func NewSelector(registry *Registry) *Selector {
	return &Selector{registry: registry}
}

// Resolve picks the target session for a dispatch.
//
// An empty reference auto-selects only when exactly one live session exists.
// A non-empty reference must match exactly one session; a session that is an
// offline placeholder cannot be dispatched to and counts as not found.
func (s *Selector) Resolve(ref string) (*Session, error) {
	if ref == "" {
		live := s.registry.Live()
		switch len(live) {
		case 0:
			return nil, ErrNoSession
		case 1:
			return live[0], nil
		default:
			return nil, &SelectionRequiredError{Candidates: references(live)}
		}
	}

	matches := s.registry.FindByReference(ref)
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("instance %q: %w", ref, ErrNoSession)
	case 1:
		if matches[0].Offline() {
			return nil, fmt.Errorf("instance %q is offline: %w", ref, ErrNoSession)
		}
		return matches[0], nil
	default:
		return nil, &SelectionRequiredError{Candidates: references(matches)}
	}
}

func references(sessions []*Session) []string {
	refs := make([]string, len(sessions))
	for i, sess := range sessions {
		refs[i] = sess.Reference()
	}
	return refs
}
