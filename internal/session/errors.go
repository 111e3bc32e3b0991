// ABOUTME: Error values shared by the session registry and selector.
// ABOUTME: Ambiguous references carry the candidate list for the caller.

package session

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoSession indicates no live session matches the given reference.
var ErrNoSession = errors.New("no matching Unity instance connected")

// ErrDuplicateProject indicates a live session for the same project hash
// already exists and the registry policy refuses replacement.
var ErrDuplicateProject = errors.New("project already has a live session")

// ErrSessionNotFound indicates the session id is unknown to the registry.
var ErrSessionNotFound = errors.New("session not found")

// SelectionRequiredError is returned when an instance reference resolves to
// more than one session and the caller must retry with a specific reference.
type SelectionRequiredError struct {
	// Candidates holds the Name@hash references of every matching session.
	Candidates []string
}

func (e *SelectionRequiredError) Error() string {
	return fmt.Sprintf("multiple Unity instances match; specify one of: %s",
		strings.Join(e.Candidates, ", "))
}
