package tokens

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCount_Empty(t *testing.T) {
	e := NewEstimator()
	assert.Equal(t, 0, e.Count(""))
}

func TestCount_Monotonic(t *testing.T) {
	e := NewEstimator()

	short := e.Count("summarize the deals")
	long := e.Count("summarize the deals and group them by owner, then compute the total amount per group")

	assert.Greater(t, short, 0)
	assert.Greater(t, long, short)
}

func TestCount_Deterministic(t *testing.T) {
	e := NewEstimator()
	text := "classify each row by sentiment"
	assert.Equal(t, e.Count(text), e.Count(text))
}

func TestCountValue(t *testing.T) {
	e := NewEstimator()

	assert.Equal(t, 0, e.CountValue(nil))
	assert.Equal(t, e.Count("hello"), e.CountValue("hello"))

	obj := map[string]any{"name": "Acme", "stage": 4}
	assert.Greater(t, e.CountValue(obj), 0)
}
