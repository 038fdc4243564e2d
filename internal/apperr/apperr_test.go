package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	base := errors.New("connection refused")

	assert.Equal(t, KindNotFound, KindOf(NotFound("node.remove", "node not found: %s", "n1")))
	assert.Equal(t, KindValidation, KindOf(Validation("dispatch", "empty target list")))
	assert.Equal(t, KindTransient, KindOf(Transient("dispatch", base)))
	assert.Equal(t, KindPartial, KindOf(Partial("dedup", base)))
	assert.Equal(t, KindUnknown, KindOf(base))
	assert.Equal(t, KindUnknown, KindOf(nil))
}

func TestWrappedKindSurvives(t *testing.T) {
	base := errors.New("timeout")
	err := fmt.Errorf("fire entry: %w", Transient("dispatch", base))

	assert.True(t, Is(err, KindTransient))
	assert.False(t, Is(err, KindNotFound))
	assert.ErrorIs(t, err, base)
	assert.Equal(t, "fire entry: dispatch: timeout", err.Error())
}

func TestNilPassthrough(t *testing.T) {
	assert.NoError(t, Transient("op", nil))
	assert.NoError(t, Partial("op", nil))
	assert.False(t, Is(nil, KindTransient))
}
