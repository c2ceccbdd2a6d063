package throttle

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLimiter_Hit(t *testing.T) {
	l := NewLimiter(2, time.Minute)

	n, ok := l.Hit("10.0.0.1")
	assert.Equal(t, 1, n)
	assert.True(t, ok)

	n, ok = l.Hit("10.0.0.1")
	assert.Equal(t, 2, n)
	assert.True(t, ok)
	assert.False(t, l.Exceeded("10.0.0.1"))

	n, ok = l.Hit("10.0.0.1")
	assert.Equal(t, 3, n)
	assert.False(t, ok)
	assert.True(t, l.Exceeded("10.0.0.1"))

	t.Run("keys are independent", func(t *testing.T) {
		_, ok := l.Hit("10.0.0.2")
		assert.True(t, ok)
		assert.False(t, l.Exceeded("10.0.0.2"))
	})

	t.Run("reset clears the key", func(t *testing.T) {
		l.Reset("10.0.0.1")
		assert.False(t, l.Exceeded("10.0.0.1"))
		n, ok := l.Hit("10.0.0.1")
		assert.Equal(t, 1, n)
		assert.True(t, ok)
	})
}

func TestLimiter_WindowExpires(t *testing.T) {
	l := NewLimiter(1, 50*time.Millisecond)

	_, ok := l.Hit("k")
	assert.True(t, ok)
	_, ok = l.Hit("k")
	assert.False(t, ok)

	assert.Eventually(t, func() bool { return !l.Exceeded("k") }, time.Second, 10*time.Millisecond)
	n, ok := l.Hit("k")
	assert.Equal(t, 1, n)
	assert.True(t, ok)
}

func TestLimiter_Disabled(t *testing.T) {
	l := NewLimiter(0, time.Minute)
	for range 100 {
		_, ok := l.Hit("k")
		assert.True(t, ok)
	}
	assert.False(t, l.Exceeded("k"))
}

func TestLimiter_Concurrent(t *testing.T) {
	l := NewLimiter(1000, time.Minute)
	const goroutines = 50
	const perGoroutine = 20

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for range goroutines {
		go func() {
			defer wg.Done()
			for range perGoroutine {
				l.Hit("shared")
			}
		}()
	}
	wg.Wait()

	n, _ := l.Hit("shared")
	assert.Equal(t, goroutines*perGoroutine+1, n)
}
