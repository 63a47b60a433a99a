package stepwise

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/steptune/internal/optimization"
)

func TestCandidates(t *testing.T) {
	tests := []struct {
		name    string
		current int64
		step    int64
		bounds  optimization.Bounds
		want    []int64
	}{
		{"interior", 50, 40, bounds100, []int64{10, 50, 90}},
		{"low edge", 1, 5, optimization.Bounds{Low: 1, High: 10}, []int64{1, 6}},
		{"high edge", 10, 5, optimization.Bounds{Low: 1, High: 10}, []int64{5, 10}},
		{"step wider than bounds", 5, 50, optimization.Bounds{Low: 1, High: 10}, []int64{5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, candidates(tt.current, tt.step, tt.bounds))
		})
	}
}

func TestNewSearch(t *testing.T) {
	s := newSearch(optimization.DefaultState(optimization.Bounds{Low: 1, High: 4294967296}))
	assert.Equal(t, int64(2147483648), s.current)
	assert.Equal(t, int64(1073741823), s.step)
	assert.True(t, math.IsInf(s.state.BestTime, 1))

	s = newSearch(optimization.State{Bounds: optimization.Bounds{Low: 3, High: 4}})
	assert.Equal(t, int64(1), s.step, "step never starts below one")

	s = newSearch(optimization.DefaultState(optimization.Bounds{Low: 10, High: 50}).WithBest(80, 1))
	assert.Equal(t, int64(50), s.current, "stored best outside bounds is clamped")
}

func TestApply_PlateauNarrowsBounds(t *testing.T) {
	s := &search{state: optimization.DefaultState(bounds100), current: 50, step: 40}
	times := []optimization.Measurement{
		{Value: 10, Time: 5.00},
		{Value: 50, Time: 4.95},
		{Value: 90, Time: 7.00},
	}

	assert.Equal(t, outcomePlateau, s.apply(times, 0.02))
	assert.Equal(t, optimization.Bounds{Low: 10, High: 50}, s.state.Bounds)
	assert.Equal(t, int64(30), s.current)
	assert.Equal(t, int64(20), s.step)
	assert.False(t, s.state.HasBest(), "a plateau does not commit a best")
}

func TestApply_ImprovementKeepsStep(t *testing.T) {
	s := &search{state: optimization.DefaultState(bounds100), current: 50, step: 24}
	times := []optimization.Measurement{
		{Value: 26, Time: 2.1},
		{Value: 50, Time: 2.3},
		{Value: 74, Time: 4.7},
	}

	assert.Equal(t, outcomeImprovement, s.apply(times, 0.02))
	require.True(t, s.state.HasBest())
	assert.Equal(t, int64(26), *s.state.BestVal)
	assert.Equal(t, 2.1, s.state.BestTime)
	assert.Equal(t, int64(26), s.current)
	assert.Equal(t, int64(24), s.step)
	assert.Equal(t, bounds100, s.state.Bounds)
}

func TestApply_NoDataHalvesStep(t *testing.T) {
	s := &search{state: optimization.DefaultState(bounds100), current: 50, step: 7}

	assert.Equal(t, outcomeNoData, s.apply(nil, 0.02))
	assert.Equal(t, int64(3), s.step)
	assert.Equal(t, int64(50), s.current)
	assert.Equal(t, bounds100, s.state.Bounds)
}

func TestApply_StagnationHalvesStep(t *testing.T) {
	s := &search{state: optimization.DefaultState(bounds100).WithBest(40, 1.0), current: 40, step: 8}
	times := []optimization.Measurement{
		{Value: 32, Time: 2.0},
		{Value: 40, Time: 1.5},
		{Value: 48, Time: 3.0},
	}

	assert.Equal(t, outcomeStagnation, s.apply(times, 0.02))
	assert.Equal(t, int64(4), s.step)
	assert.Equal(t, int64(40), *s.state.BestVal)
	assert.Equal(t, 1.0, s.state.BestTime)
}

func TestArgminPrefersEarliestOnTies(t *testing.T) {
	m := argmin([]optimization.Measurement{
		{Value: 3, Time: 1},
		{Value: 5, Time: 1},
	})
	assert.Equal(t, int64(3), m.Value)
}

func TestCloseValuesZeroMinimum(t *testing.T) {
	times := []optimization.Measurement{
		{Value: 1, Time: 0},
		{Value: 2, Time: 0},
		{Value: 3, Time: 0.001},
	}
	assert.Equal(t, []int64{1, 2}, closeValues(times, 0, 0.02))
}

func TestApply_ImprovementOverPriorBest(t *testing.T) {
	s := &search{state: optimization.DefaultState(bounds100).WithBest(40, 6.0), current: 40, step: 8}
	times := []optimization.Measurement{
		{Value: 32, Time: 5.5},
		{Value: 40, Time: 6.0},
		{Value: 48, Time: 7.0},
	}

	assert.Equal(t, outcomeImprovement, s.apply(times, 0.02))
	assert.Equal(t, int64(32), *s.state.BestVal)
	assert.Equal(t, 5.5, s.state.BestTime)
	assert.Equal(t, int64(32), s.current)
	assert.Equal(t, int64(8), s.step)

	// The next iteration is centred on the new best with the same step.
	require.Equal(t, []int64{24, 32, 40}, candidates(s.current, s.step, s.state.Bounds))
	times = []optimization.Measurement{
		{Value: 24, Time: 5.0},
		{Value: 32, Time: 5.5},
		{Value: 40, Time: 6.0},
	}
	assert.Equal(t, outcomeImprovement, s.apply(times, 0.02))
	assert.Equal(t, int64(24), *s.state.BestVal)
	assert.Equal(t, int64(8), s.step)
}

func TestApply_PlateauBoundsNeverGrow(t *testing.T) {
	tests := []struct {
		name   string
		bounds optimization.Bounds
		times  []optimization.Measurement
		want   optimization.Bounds
	}{
		{
			name:   "two fastest adjacent",
			bounds: bounds100,
			times:  []optimization.Measurement{{Value: 10, Time: 5.00}, {Value: 50, Time: 4.95}, {Value: 90, Time: 7.00}},
			want:   optimization.Bounds{Low: 10, High: 50},
		},
		{
			name:   "all three close",
			bounds: optimization.Bounds{Low: 20, High: 80},
			times:  []optimization.Measurement{{Value: 30, Time: 2.00}, {Value: 50, Time: 2.01}, {Value: 70, Time: 2.02}},
			want:   optimization.Bounds{Low: 30, High: 70},
		},
		{
			name:   "outer pair close around slow middle",
			bounds: optimization.Bounds{Low: 1, High: 9},
			times:  []optimization.Measurement{{Value: 1, Time: 1.00}, {Value: 5, Time: 3.00}, {Value: 9, Time: 1.01}},
			want:   optimization.Bounds{Low: 1, High: 9},
		},
		{
			name:   "edge clipped pair",
			bounds: optimization.Bounds{Low: 1, High: 10},
			times:  []optimization.Measurement{{Value: 6, Time: 0.500}, {Value: 10, Time: 0.505}},
			want:   optimization.Bounds{Low: 6, High: 10},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &search{state: optimization.DefaultState(tt.bounds), current: tt.bounds.Mid(), step: 4}

			require.Equal(t, outcomePlateau, s.apply(tt.times, 0.02))
			got := s.state.Bounds
			assert.Equal(t, tt.want, got)
			assert.GreaterOrEqual(t, got.Low, tt.bounds.Low)
			assert.LessOrEqual(t, got.High, tt.bounds.High)
			assert.True(t, got.Contains(s.current))
			assert.Equal(t, int64(2), s.step)
		})
	}
}
