package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// fakeSizer lets tests drive Size()/Capacity() directly without a real queue.
type fakeSizer struct {
	size, capacity int
}

func (f *fakeSizer) Size() int     { return f.size }
func (f *fakeSizer) Capacity() int { return f.capacity }

func TestBackPressureDisabledNeverThrottles(t *testing.T) {
	fq := &fakeSizer{size: 100, capacity: 100}
	bp := NewBackPressureController(fq, false, 0.8, 0.5)
	assert.False(t, bp.ShouldThrottle())
}

func TestBackPressureHysteresis(t *testing.T) {
	fq := &fakeSizer{capacity: 10}
	bp := NewBackPressureController(fq, true, 0.8, 0.5)

	fq.size = 7
	assert.False(t, bp.ShouldThrottle(), "below high watermark should not throttle")

	fq.size = 8
	assert.True(t, bp.ShouldThrottle(), "at high watermark should engage")

	fq.size = 6
	assert.True(t, bp.ShouldThrottle(), "between watermarks must not release (hysteresis)")

	fq.size = 5
	assert.False(t, bp.ShouldThrottle(), "at low watermark should release")

	fq.size = 6
	assert.False(t, bp.ShouldThrottle(), "between watermarks must not re-engage until high again")

	fq.size = 9
	assert.True(t, bp.ShouldThrottle())
}

func TestBackPressureStartsFalse(t *testing.T) {
	fq := &fakeSizer{size: 0, capacity: 10}
	bp := NewBackPressureController(fq, true, 0.8, 0.5)
	assert.False(t, bp.ShouldThrottle())
}
