package optimization

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBounds(t *testing.T) {
	b := Bounds{Low: 10, High: 50}

	require.NoError(t, b.Validate())
	assert.Error(t, Bounds{Low: 5, High: 4}.Validate())
	assert.Error(t, Bounds{Low: math.MinInt64, High: math.MaxInt64}.Validate())
	assert.NoError(t, Bounds{Low: 0, High: math.MaxInt64}.Validate())

	assert.True(t, b.Contains(10))
	assert.True(t, b.Contains(50))
	assert.False(t, b.Contains(51))

	assert.Equal(t, int64(10), b.Clamp(-3))
	assert.Equal(t, int64(50), b.Clamp(99))
	assert.Equal(t, int64(30), b.Mid())
	assert.Equal(t, int64(2147483648), Bounds{Low: 1, High: 4294967296}.Mid())
	assert.Equal(t, "[10, 50]", b.String())
}

func TestDefaultState(t *testing.T) {
	s := DefaultState(Bounds{Low: 1, High: 100})

	assert.False(t, s.HasBest())
	assert.True(t, math.IsInf(s.BestTime, 1))

	_, ok := s.Best()
	assert.False(t, ok)

	s2 := s.WithBest(42, 3.3)
	v, ok := s2.Best()
	require.True(t, ok)
	assert.Equal(t, int64(42), v)
	assert.Equal(t, 3.3, s2.BestTime)
	assert.False(t, s.HasBest(), "WithBest must not mutate the receiver")
}

type countingObserver struct {
	evaluations int
	progress    int
}

func (c *countingObserver) ObserveEvaluation(Phase, int64, time.Duration, error) { c.evaluations++ }
func (c *countingObserver) ObserveProgress(Progress)                             { c.progress++ }

func TestObserversFanOut(t *testing.T) {
	a, b := &countingObserver{}, &countingObserver{}
	obs := Observers{a, b, NopObserver{}}

	obs.ObserveEvaluation(PhaseSearch, 1, time.Second, nil)
	obs.ObserveProgress(Progress{})
	obs.ObserveProgress(Progress{})

	assert.Equal(t, 1, a.evaluations)
	assert.Equal(t, 2, b.progress)
}
