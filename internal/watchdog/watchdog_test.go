package watchdog

import (
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openpane/termhost/internal/shared/id"
)

type attemptLog struct {
	mu       sync.Mutex
	attempts []Attempt
}

func (l *attemptLog) record(_ id.SessionID, a Attempt) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attempts = append(l.attempts, a)
}

func (l *attemptLog) all() []Attempt {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Attempt, len(l.attempts))
	copy(out, l.attempts)
	return out
}

const sid = id.SessionID("sess_test")

func TestWatchdog_BackoffScheduleAndExhaustion(t *testing.T) {
	clk := clock.NewMock()
	log := &attemptLog{}
	w := New(DefaultOptions(), log.record, clk, nil)

	w.Start(sid, "create", Options{})

	// Nothing before the first delay elapses.
	clk.Add(699 * time.Millisecond)
	assert.Empty(t, log.all())

	// Successive delays: 700, 1400, 2800, 5600 (under the 6s ceiling).
	clk.Add(1 * time.Millisecond)
	require.Len(t, log.all(), 1)

	clk.Add(1400 * time.Millisecond)
	require.Len(t, log.all(), 2)

	clk.Add(2800 * time.Millisecond)
	require.Len(t, log.all(), 3)

	clk.Add(5600 * time.Millisecond)
	attempts := log.all()
	require.Len(t, attempts, 4)

	for i, a := range attempts {
		assert.Equal(t, i+1, a.Attempt)
		assert.Equal(t, i == 3, a.IsFinal)
	}

	// Entry discarded after the final attempt: no further fires.
	assert.False(t, w.Active(sid))
	clk.Add(time.Hour)
	assert.Len(t, log.all(), 4)
}

func TestWatchdog_DelayCeiling(t *testing.T) {
	clk := clock.NewMock()
	log := &attemptLog{}
	w := New(Options{
		InitialDelay:  4 * time.Second,
		MaxAttempts:   3,
		BackoffFactor: 2,
		DelayCeiling:  6 * time.Second,
	}, log.record, clk, nil)

	w.Start(sid, "create", Options{})

	clk.Add(4 * time.Second)
	require.Len(t, log.all(), 1)

	// 4s*2 = 8s caps to 6s.
	clk.Add(5 * time.Second)
	assert.Len(t, log.all(), 1)
	clk.Add(1 * time.Second)
	assert.Len(t, log.all(), 2)
}

func TestWatchdog_StartIsIdempotentRestart(t *testing.T) {
	clk := clock.NewMock()
	log := &attemptLog{}
	w := New(DefaultOptions(), log.record, clk, nil)

	w.Start(sid, "create", Options{})
	clk.Add(500 * time.Millisecond)

	// Restart resets the schedule; the half-elapsed timer must not fire.
	w.Start(sid, "reconnect", Options{})
	clk.Add(500 * time.Millisecond)
	assert.Empty(t, log.all())

	clk.Add(200 * time.Millisecond)
	assert.Len(t, log.all(), 1)
}

func TestWatchdog_StopIsIdempotent(t *testing.T) {
	clk := clock.NewMock()
	log := &attemptLog{}
	w := New(DefaultOptions(), log.record, clk, nil)

	w.Stop(sid, "no entry") // no-op

	w.Start(sid, "create", Options{})
	w.Stop(sid, "acknowledged")
	w.Stop(sid, "again")

	clk.Add(time.Hour)
	assert.Empty(t, log.all())
	assert.False(t, w.Active(sid))
}

func TestWatchdog_Overrides(t *testing.T) {
	clk := clock.NewMock()
	log := &attemptLog{}
	w := New(DefaultOptions(), log.record, clk, nil)

	w.Start(sid, "create", Options{InitialDelay: 100 * time.Millisecond, MaxAttempts: 1})

	clk.Add(100 * time.Millisecond)
	attempts := log.all()
	require.Len(t, attempts, 1)
	assert.True(t, attempts[0].IsFinal)
}

func TestWatchdog_IndependentSessions(t *testing.T) {
	clk := clock.NewMock()

	var mu sync.Mutex
	fired := make(map[id.SessionID]int)
	w := New(DefaultOptions(), func(s id.SessionID, _ Attempt) {
		mu.Lock()
		fired[s]++
		mu.Unlock()
	}, clk, nil)

	w.Start("sess_a", "create", Options{})
	w.Start("sess_b", "create", Options{})
	w.Stop("sess_a", "acknowledged")

	clk.Add(700 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 0, fired["sess_a"])
	assert.Equal(t, 1, fired["sess_b"])
}

func TestWatchdog_Dispose(t *testing.T) {
	clk := clock.NewMock()
	log := &attemptLog{}
	w := New(DefaultOptions(), log.record, clk, nil)

	w.Start("sess_a", "create", Options{})
	w.Start("sess_b", "create", Options{})
	w.Dispose()

	clk.Add(time.Hour)
	assert.Empty(t, log.all())

	// Start after dispose is a no-op.
	w.Start("sess_c", "create", Options{})
	clk.Add(time.Hour)
	assert.Empty(t, log.all())
}
