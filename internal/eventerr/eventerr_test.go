package eventerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	assert.Equal(t, Kind(0), KindOf(nil))
	assert.Equal(t, KindTransient, KindOf(errors.New("boom")))
	assert.Equal(t, KindPermanent, KindOf(Permanentf("Unsupported event version: %d", 2)))
	assert.Equal(t, KindConflict, KindOf(Conflict("already processed", nil)))

	wrapped := fmt.Errorf("outer: %w", Permanent("bad payload", errors.New("eof")))
	assert.Equal(t, KindPermanent, KindOf(wrapped))
}

func TestWrapDoesNotDoubleWrap(t *testing.T) {
	perm := Permanentf("unknown event type %q", "X")
	assert.Same(t, perm, Wrap(perm))

	tr := Transient("redis down", errors.New("dial tcp"))
	assert.Same(t, tr, Wrap(tr))

	cause := errors.New("nil map")
	got := Wrap(cause)
	assert.True(t, IsTransient(got))
	assert.ErrorIs(t, got, cause)
	assert.Equal(t, "nil map", got.Error())

	assert.NoError(t, Wrap(nil))
}

func TestErrorMessage(t *testing.T) {
	assert.Equal(t, "commit: timeout", Transient("commit", errors.New("timeout")).Error())
	assert.Equal(t, "Unsupported event version: 2", Permanentf("Unsupported event version: %d", 2).Error())
	assert.Equal(t, "permanent", KindPermanent.String())
}

func TestPredicates(t *testing.T) {
	plain := errors.New("connection reset")
	assert.True(t, IsTransient(plain))
	assert.False(t, IsTransient(nil))
	assert.False(t, IsPermanent(nil))
	assert.False(t, IsConflict(nil))

	perm := fmt.Errorf("handler: %w", Permanentf("bad payload"))
	assert.True(t, IsPermanent(perm))
	assert.False(t, IsTransient(perm))

	dup := Conflict("already processed", plain)
	assert.True(t, IsConflict(dup))
	assert.False(t, IsPermanent(dup))
}
