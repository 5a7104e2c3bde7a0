package crawl

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPagePlan(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name                 string
		bound, stride, start int
		want                 []int
	}{
		{name: "full", bound: 5, stride: 1, start: 1, want: []int{1, 2, 3, 4, 5}},
		{name: "sampled", bound: 95, stride: 10, start: 1, want: []int{1, 11, 21, 31, 41, 51, 61, 71, 81, 91}},
		{name: "sampled resume keeps grid", bound: 95, stride: 10, start: 35, want: []int{41, 51, 61, 71, 81, 91}},
		{name: "stride beyond bound", bound: 5, stride: 10, start: 1, want: []int{1}},
		{name: "start on bound", bound: 5, stride: 1, start: 5, want: []int{5}},
		{name: "no pages", bound: 0, stride: 1, start: 1, want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, PagePlan(tt.bound, tt.stride, tt.start))
		})
	}
}

func TestResumePage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		bound   int
		density float64
		minID   int64
		want    int
	}{
		{name: "midway", bound: 100, density: 9, minID: 450, want: 50},
		{name: "floors", bound: 10, density: 9, minID: 55, want: 3},
		{name: "zero density falls back", bound: 100, density: 0, minID: 450, want: 50},
		{name: "newest id clamps to first page", bound: 100, density: 9, minID: 900, want: 1},
		{name: "id above estimate clamps to first page", bound: 100, density: 9, minID: 5000, want: 1},
		{name: "missing id restarts", bound: 100, density: 1, minID: -1, want: 1},
		{name: "id one lands near bound", bound: 100, density: 9, minID: 1, want: 99},
		{name: "dense pages", bound: 1000, density: 12.5, minID: 2500, want: 800},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, ResumePage(tt.bound, tt.density, tt.minID))
		})
	}
}

func TestCanTransition(t *testing.T) {
	t.Parallel()

	allowed := [][2]State{
		{StateIdle, StateDeterminingBound},
		{StateDeterminingBound, StateResuming},
		{StateDeterminingBound, StateFetching},
		{StateResuming, StateFetching},
		{StateFetching, StateCheckpointing},
		{StateCheckpointing, StateFetching},
		{StateCheckpointing, StateCompleted},
		{StateIdle, StateFailed},
		{StateFetching, StateFailed},
	}
	for _, edge := range allowed {
		assert.True(t, CanTransition(edge[0], edge[1]), "%s -> %s", edge[0], edge[1])
	}

	denied := [][2]State{
		{StateIdle, StateFetching},
		{StateFetching, StateCompleted},
		{StateResuming, StateCheckpointing},
		{StateCompleted, StateFetching},
		{StateCompleted, StateFailed},
		{StateFailed, StateIdle},
	}
	for _, edge := range denied {
		assert.False(t, CanTransition(edge[0], edge[1]), "%s -> %s", edge[0], edge[1])
		assert.ErrorIs(t, checkTransition(edge[0], edge[1]), ErrInvalidTransition)
	}
	assert.True(t, StateCompleted.Terminal())
	assert.False(t, StateCheckpointing.Terminal())
}
