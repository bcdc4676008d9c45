package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrap(t *testing.T) {
	original := New("original")
	wrapped := Wrap(original, "wrapped")

	assert.Contains(t, wrapped.Error(), "wrapped")
	assert.Contains(t, wrapped.Error(), "original")
	assert.True(t, Is(wrapped, original))
}

func TestWithHintAndDetail(t *testing.T) {
	err := New("token rejected")
	err = WithHint(err, "refresh the profile token")
	err = WithDetail(err, "status 401")

	assert.Equal(t, "token rejected", err.Error())
	assert.Contains(t, GetAllHints(err), "refresh the profile token")
	assert.Contains(t, GetAllDetails(err), "status 401")
}

type remoteError struct {
	status int
}

func (e *remoteError) Error() string {
	return fmt.Sprintf("remote status %d", e.status)
}

func TestAs(t *testing.T) {
	wrapped := Wrap(&remoteError{status: 429}, "call failed")

	var target *remoteError
	require.True(t, As(wrapped, &target))
	assert.Equal(t, 429, target.status)
}

func TestSentinelHelpers(t *testing.T) {
	notFound := NewNotFoundError("profile %q", "acme")
	assert.True(t, IsNotFoundError(notFound))
	assert.Contains(t, notFound.Error(), `profile "acme"`)
	assert.False(t, IsNotFoundError(nil))

	invalid := NewInvalidRequestError("concurrency must be >= 1, got %d", 0)
	assert.True(t, IsInvalidRequestError(invalid))
	assert.False(t, IsConflictError(invalid))

	conflict := Wrap(ErrConflict, "job already running")
	assert.True(t, IsConflictError(conflict))
}

func TestUnwrapAll(t *testing.T) {
	root := New("root")
	err := Wrap(Wrap(root, "middle"), "top")
	assert.Equal(t, "root", UnwrapAll(err).Error())
	assert.True(t, Is(err, root))
}

func ExampleWrap() {
	err := Wrap(New("connection refused"), "failed to call remote")
	fmt.Println(err)
	// Output: failed to call remote: connection refused
}
