package timeutil

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var epoch = time.Date(2021, 6, 29, 12, 0, 0, 0, time.UTC)

func TestMockClockSleepAdvances(t *testing.T) {
	c := NewMockClock(epoch)
	c.Sleep(10 * time.Millisecond)
	c.Sleep(time.Second)

	assert.Equal(t, epoch.Add(1010*time.Millisecond), c.Now())
	assert.Equal(t, []time.Duration{10 * time.Millisecond, time.Second}, c.Sleeps())
	assert.Equal(t, 1010*time.Millisecond, c.Since(epoch))
}

func TestMockTimerFiresOnAdvance(t *testing.T) {
	c := NewMockClock(epoch)
	timer := c.NewTimer(3 * time.Second)

	c.Advance(2 * time.Second)
	select {
	case <-timer.C():
		t.Fatal("timer fired early")
	default:
	}

	c.Advance(time.Second)
	select {
	case got := <-timer.C():
		assert.Equal(t, epoch.Add(3*time.Second), got)
	default:
		t.Fatal("timer did not fire")
	}
	assert.False(t, timer.Stop())
}

func TestMockTimerStopped(t *testing.T) {
	c := NewMockClock(epoch)
	timer := c.NewTimer(time.Second)
	assert.True(t, timer.Stop())

	c.Advance(time.Minute)
	select {
	case <-timer.C():
		t.Fatal("stopped timer fired")
	default:
	}
}

func TestMockTimerZeroDuration(t *testing.T) {
	c := NewMockClock(epoch)
	timer := c.NewTimer(0)
	select {
	case <-timer.C():
	default:
		t.Fatal("zero duration timer should fire immediately")
	}
}

func TestRealClock(t *testing.T) {
	var c Clock = RealClock{}
	start := c.Now()
	c.Sleep(time.Millisecond)
	assert.GreaterOrEqual(t, c.Since(start), time.Millisecond)

	timer := c.NewTimer(time.Millisecond)
	<-timer.C()
}

func TestRealClockSleepContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := RealClock{}.SleepContext(ctx, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)

	assert.NoError(t, RealClock{}.SleepContext(context.Background(), time.Millisecond))
}

func TestMockClockSleepContext(t *testing.T) {
	c := NewMockClock(epoch)
	assert.NoError(t, c.SleepContext(context.Background(), time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, c.SleepContext(ctx, time.Second), context.Canceled)
	assert.Equal(t, []time.Duration{time.Second, time.Second}, c.Sleeps())
	assert.Equal(t, epoch.Add(2*time.Second), c.Now())
}
