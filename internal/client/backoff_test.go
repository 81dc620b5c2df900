package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstantReconnect(t *testing.T) {
	b := ConstantReconnect(3 * time.Second).NewBackoff()
	for i := 0; i < 5; i++ {
		d, stop := b.Next()
		require.False(t, stop)
		assert.Equal(t, 3*time.Second, d)
	}
}

func TestExponentialReconnectIsCappedAndJittered(t *testing.T) {
	policy := ExponentialReconnect(time.Second, 8*time.Second)
	b := policy.NewBackoff()

	within := func(d, want time.Duration) bool {
		slack := want / 10
		return d >= want-slack && d <= want+slack
	}
	for _, want := range []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 8 * time.Second} {
		d, stop := b.Next()
		require.False(t, stop)
		assert.True(t, within(d, want), "got %v, want about %v", d, want)
	}

	d, _ := policy.NewBackoff().Next()
	assert.True(t, within(d, time.Second), "a fresh backoff starts over, got %v", d)
}
