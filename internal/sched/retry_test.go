package sched

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryTaskSucceedsOnThirdAttempt(t *testing.T) {
	sup, clk := newTestSupervisor(t)

	outcomes := []bool{false, false, true}
	var attempts, successes, failures int
	sup.StartRetryTask("connect", func(context.Context) (bool, error) {
		ok := outcomes[attempts]
		attempts++
		return ok, nil
	}, RetryConfig{
		Interval:   10 * time.Millisecond,
		MaxRetries: 5,
		OnSuccess:  func() { successes++ },
		OnFailure:  func() { failures++ },
	})

	// Immediate first attempt, then one per interval.
	assert.Equal(t, 1, attempts)
	clk.Advance(10 * time.Millisecond)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, 0, successes)

	clk.Advance(10 * time.Millisecond)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 1, successes)
	assert.Equal(t, 0, failures)

	clk.Advance(time.Second)
	assert.Equal(t, 3, attempts, "task must cancel itself on success")
	assert.Equal(t, 1, successes)
}

func TestRetryTaskExhaustsAttempts(t *testing.T) {
	sup, clk := newTestSupervisor(t)

	var attempts, successes, failures int
	sup.StartRetryTask("connect", func(context.Context) (bool, error) {
		attempts++
		return false, nil
	}, RetryConfig{
		Interval:   10 * time.Millisecond,
		MaxRetries: 3,
		OnSuccess:  func() { successes++ },
		OnFailure:  func() { failures++ },
	})

	clk.Advance(time.Second)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 0, successes)
	assert.Equal(t, 1, failures)
	assert.Equal(t, 0, sup.Stats().Total)
}

func TestRetryTaskProbeErrorCountsAsAttempt(t *testing.T) {
	sup, clk := newTestSupervisor(t)

	var attempts, failures int
	sup.StartRetryTask("connect", func(context.Context) (bool, error) {
		attempts++
		return false, errors.New("unreachable")
	}, RetryConfig{
		Interval:   10 * time.Millisecond,
		MaxRetries: 2,
		OnFailure:  func() { failures++ },
	})

	clk.Advance(100 * time.Millisecond)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, 1, failures)
}
