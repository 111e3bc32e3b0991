// ABOUTME: Tests for instance selection: auto-select, prefix match, ambiguity.
// ABOUTME: Every ambiguous outcome must enumerate the candidate references.

package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveAutoSelect(t *testing.T) {
	r := newTestRegistry()
	sel := NewSelector(r)

	t.Run("no sessions", func(t *testing.T) {
		_, err := sel.Resolve("")
		assert.ErrorIs(t, err, ErrNoSession)
	})

	t.Run("exactly one live session", func(t *testing.T) {
		sess, _ := register(t, r, "Proj", "h1", false)
		got, err := sel.Resolve("")
		require.NoError(t, err)
		assert.Equal(t, sess.ID, got.ID)
	})

	t.Run("two live sessions require selection", func(t *testing.T) {
		register(t, r, "Proj2", "h2", false)

		_, err := sel.Resolve("")
		var selErr *SelectionRequiredError
		require.ErrorAs(t, err, &selErr)
		assert.ElementsMatch(t, []string{"Proj@h1", "Proj2@h2"}, selErr.Candidates)
		assert.Contains(t, selErr.Error(), "Proj@h1")
	})
}

func TestResolveByReference(t *testing.T) {
	r := newTestRegistry()
	sel := NewSelector(r)
	register(t, r, "A", "abc123", false)
	register(t, r, "B", "abcdef", false)

	t.Run("unambiguous prefix", func(t *testing.T) {
		got, err := sel.Resolve("abc1")
		require.NoError(t, err)
		assert.Equal(t, "abc123", got.ProjectHash)
	})

	t.Run("ambiguous prefix lists all matches", func(t *testing.T) {
		_, err := sel.Resolve("abc")
		var selErr *SelectionRequiredError
		require.ErrorAs(t, err, &selErr)
		assert.ElementsMatch(t, []string{"A@abc123", "B@abcdef"}, selErr.Candidates)
	})

	t.Run("unknown reference", func(t *testing.T) {
		_, err := sel.Resolve("deadbeef")
		assert.ErrorIs(t, err, ErrNoSession)
	})
}

func TestResolveRefusesOfflinePlaceholder(t *testing.T) {
	r := newTestRegistry()
	sel := NewSelector(r)

	sess, _ := register(t, r, "Proj", "h1", true)
	r.Unregister(sess.ID)

	// Still listed, but not dispatchable.
	require.Len(t, r.List(), 1)
	_, err := sel.Resolve("h1")
	assert.ErrorIs(t, err, ErrNoSession)

	_, err = sel.Resolve("")
	assert.ErrorIs(t, err, ErrNoSession)
}
