package testutil

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFakeClock_StartsAtGivenTime(t *testing.T) {
	clock := NewFakeClock(DefaultNow)
	assert.Equal(t, DefaultNow, clock.Now())
	assert.Equal(t, DefaultNow, clock.Now(), "reading does not advance")
}

func TestFakeClock_Advance(t *testing.T) {
	clock := NewFakeClock(100)

	assert.Equal(t, int64(130), clock.Advance(30))
	assert.Equal(t, int64(130), clock.Now())
	assert.Equal(t, int64(131), clock.Advance(1))
}

func TestFakeClock_SetAndReset(t *testing.T) {
	clock := NewFakeClock(100)

	clock.Set(50)
	assert.Equal(t, int64(50), clock.Now(), "moving backwards is allowed")

	clock.Advance(10)
	clock.Reset()
	assert.Equal(t, int64(100), clock.Now())
}

func TestFakeClock_ConcurrentAdvance(t *testing.T) {
	clock := NewFakeClock(0)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			clock.Advance(1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(100), clock.Now())
}
