package taskdispatch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestReportAttempts_AtLeastOne(t *testing.T) {
	assert.Equal(t, 1, ReportAttempts(0).Policy().MaxAttempts)
	assert.Equal(t, 1, ReportAttempts(-3).Policy().MaxAttempts)
	assert.Equal(t, 4, ReportAttempts(4).Policy().MaxAttempts)
}

func TestReportPolicy_EveryMatchesFixedRetry(t *testing.T) {
	p := ReportAttempts(10).Every(5 * time.Second).Policy()

	assert.Equal(t, FixedRetry(10, 5*time.Second), p)
	for n := 1; n < 10; n++ {
		assert.Equal(t, 5*time.Second, p.Delay(n), "retry %d", n)
	}
}

func TestReportPolicy_Growing(t *testing.T) {
	p := ReportAttempts(10).Growing(50*time.Millisecond, 3, 500*time.Millisecond).Policy()

	assert.Equal(t, 50*time.Millisecond, p.Delay(1))
	assert.Equal(t, 150*time.Millisecond, p.Delay(2))
	assert.Equal(t, 450*time.Millisecond, p.Delay(3))
	assert.Equal(t, 500*time.Millisecond, p.Delay(4))
}

func TestReportPolicy_GrowingDefaultsToDoubling(t *testing.T) {
	p := ReportAttempts(3).Growing(100*time.Millisecond, 0, 0).Policy()

	assert.Equal(t, 2.0, p.BackoffMultiplier)
	assert.Equal(t, 400*time.Millisecond, p.Delay(3))
}

func TestReportPolicy_NoWaitKeepsAttempts(t *testing.T) {
	base := ReportAttempts(7).Growing(time.Second, 2, time.Minute)
	p := base.NoWait().Policy()

	assert.Equal(t, 7, p.MaxAttempts)
	assert.Zero(t, p.Delay(1))
	assert.Equal(t, time.Second, base.Policy().Delay(1), "builder values are copies")
}
