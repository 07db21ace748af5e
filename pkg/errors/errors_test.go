package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsCode(t *testing.T) {
	err := fmt.Errorf("failed to claim: %w", AlreadyClaimed("a-1"))

	assert.True(t, IsCode(err, ErrAlreadyClaimed))
	assert.False(t, IsCode(err, ErrNotAssigned))
	assert.False(t, IsCode(stderrors.New("plain"), ErrInternal))
	assert.False(t, IsCode(nil, ErrInternal))
}

func TestIsCodeFollowsNestedAppErrors(t *testing.T) {
	inner := NotFound("session", nil)
	outer := StoreUnavailable(inner)

	assert.True(t, IsCode(outer, ErrStoreUnavailable))
	assert.True(t, IsCode(outer, ErrNotFound))
}

func TestCodeOf(t *testing.T) {
	code, ok := CodeOf(fmt.Errorf("wrap: %w", GracePeriodExpired("a-1")))
	assert.True(t, ok)
	assert.Equal(t, ErrGracePeriodExpired, code)
	assert.Equal(t, "GRACE_PERIOD_EXPIRED", code.String())

	_, ok = CodeOf(stderrors.New("plain"))
	assert.False(t, ok)
}

func TestAppErrorMessage(t *testing.T) {
	err := StoreUnavailable(stderrors.New("connection refused"))
	assert.Equal(t, "document store unavailable: connection refused", err.Error())
	assert.Equal(t, "session not found", NotFound("session", nil).Error())
}
