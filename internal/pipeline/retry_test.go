package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryPolicy_ExponentialBackoffCapped(t *testing.T) {
	p := RetryPolicy{MaxRetries: 5, BaseDelay: 2 * time.Second, MaxDelay: 10 * time.Second}

	assert.Equal(t, 2*time.Second, p.Delay(0))
	assert.Equal(t, 4*time.Second, p.Delay(1))
	assert.Equal(t, 8*time.Second, p.Delay(2))
	assert.Equal(t, 10*time.Second, p.Delay(3))
	assert.Equal(t, 10*time.Second, p.Delay(4))
}

func TestRetryPolicy_ZeroBase(t *testing.T) {
	p := RetryPolicy{MaxRetries: 2}
	assert.Equal(t, time.Duration(0), p.Delay(0))
	assert.Equal(t, time.Duration(0), p.Delay(3))
}
