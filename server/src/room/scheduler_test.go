package room

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFakeSchedulerFiresInOrderOnly(t *testing.T) {
	s := NewFakeScheduler()
	var order []int
	s.Schedule(time.Second, func() { order = append(order, 1) })
	s.Schedule(time.Minute, func() { order = append(order, 2) })
	assert.Equal(t, 2, s.Pending())

	s.FireAll()
	assert.Equal(t, []int{1, 2}, order)
	assert.Equal(t, 0, s.Pending())
}

func TestFakeSchedulerDoesNotRunRescheduledTasksSameRound(t *testing.T) {
	s := NewFakeScheduler()
	var fired int32
	var reschedule func()
	reschedule = func() {
		atomic.AddInt32(&fired, 1)
		s.Schedule(time.Second, reschedule)
	}
	s.Schedule(time.Second, reschedule)

	s.FireAll()
	assert.Equal(t, int32(1), atomic.LoadInt32(&fired))
	assert.Equal(t, 1, s.Pending())
}

func TestRealSchedulerFiresAfterDelay(t *testing.T) {
	s := NewRealScheduler()
	done := make(chan struct{})
	s.Schedule(10*time.Millisecond, func() { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduled task never fired")
	}
}

func TestRealSchedulerOrdersByFireTime(t *testing.T) {
	s := NewRealScheduler()
	results := make(chan int, 2)
	s.Schedule(50*time.Millisecond, func() { results <- 2 })
	s.Schedule(10*time.Millisecond, func() { results <- 1 })

	first := <-results
	second := <-results
	assert.Equal(t, 1, first)
	assert.Equal(t, 2, second)
}
