package msgsock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff_Schedule(t *testing.T) {
	var b Backoff

	want := []time.Duration{10, 20, 50, 100, 200, 500, 1000, 1000, 1000}
	for i, ms := range want {
		delay, reset := b.Next()
		assert.Equal(t, ms*time.Millisecond, delay, "step %d", i)
		assert.False(t, reset)
	}
}

func TestBackoff_WindowClipsAndResets(t *testing.T) {
	b := Backoff{Window: time.Second}

	// 10+20+50+100+200+500 = 880, the next step is clipped to the remaining 120.
	var total time.Duration
	for i := 0; i < 6; i++ {
		delay, reset := b.Next()
		assert.False(t, reset)
		total += delay
	}
	assert.Equal(t, 880*time.Millisecond, total)

	delay, reset := b.Next()
	assert.Equal(t, 120*time.Millisecond, delay)
	assert.True(t, reset)

	delay, reset = b.Next()
	assert.Equal(t, 10*time.Millisecond, delay)
	assert.False(t, reset)
}

func TestBackoff_Reset(t *testing.T) {
	var b Backoff
	b.Next()
	b.Next()
	b.Reset()

	delay, _ := b.Next()
	assert.Equal(t, 10*time.Millisecond, delay)
}
