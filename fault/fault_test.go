package fault

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindSurvivesWrapping(t *testing.T) {
	base := New(Conflict, "orders.Replace", "lost the race")
	wrapped := fmt.Errorf("handling event: %w", base)

	assert.True(t, Is(wrapped, Conflict))
	assert.Equal(t, Conflict, KindOf(wrapped))
}

func TestWrapNilIsNil(t *testing.T) {
	assert.NoError(t, Wrap(Transient, "op", nil))
}

func TestUnwrapReachesCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrap(Transient, "store.Get", cause)

	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, err.Error(), "store.Get")
	assert.Contains(t, err.Error(), "connection reset")
}

func TestUnkindedErrorsReportUnknown(t *testing.T) {
	assert.Equal(t, Unknown, KindOf(errors.New("plain")))
	assert.False(t, Is(errors.New("plain"), Transient))
}
