package schedule

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teeksss/modularmind-rag/internal/rag/rerr"
)

func TestParseInterval(t *testing.T) {
	spec, err := Parse("interval:10m")
	require.NoError(t, err)
	assert.Equal(t, KindInterval, spec.Kind)

	now := time.Now()
	assert.Equal(t, now.Add(10*time.Minute), spec.Next(now))
}

func TestParseIntervalRejectsBadUnit(t *testing.T) {
	_, err := Parse("interval:10x")
	require.Error(t, err)
	assert.True(t, rerr.Is(err, rerr.ScheduleInvalid))
}

func TestParseCronRejectsMonthlySchedules(t *testing.T) {
	_, err := Parse("cron:0 9 1 6 *")
	require.Error(t, err)
	assert.True(t, rerr.Is(err, rerr.ScheduleInvalid))
}

func TestParseCronComputesNext(t *testing.T) {
	spec, err := Parse("cron:30 9 * * 1")
	require.NoError(t, err)
	assert.Equal(t, KindCron, spec.Kind)

	from := time.Date(2026, 8, 3, 0, 0, 0, 0, time.UTC) // a Monday
	next := spec.Next(from)
	assert.Equal(t, time.Monday, next.Weekday())
	assert.Equal(t, 9, next.Hour())
	assert.Equal(t, 30, next.Minute())
}

func TestParseDaily(t *testing.T) {
	spec, err := Parse("daily:09:00")
	require.NoError(t, err)
	assert.Equal(t, KindDaily, spec.Kind)

	from := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)
	next := spec.Next(from)
	assert.Equal(t, "2026-08-01 09:00", next.Format("2006-01-02 15:04"))
}

func TestParseRejectsUnknownGrammar(t *testing.T) {
	_, err := Parse("weekly:monday")
	require.Error(t, err)
	assert.True(t, rerr.Is(err, rerr.ScheduleInvalid))
}

func TestRunAgentRejectsReentrantRuns(t *testing.T) {
	release := make(chan struct{})
	var calls int32
	s := New(func(ctx context.Context, agentID string) error {
		atomic.AddInt32(&calls, 1)
		<-release
		return nil
	}, 5)

	_, err := s.RunAgent(context.Background(), "agent-1", false)
	require.NoError(t, err)

	_, err = s.RunAgent(context.Background(), "agent-1", false)
	require.Error(t, err)
	assert.True(t, rerr.Is(err, rerr.AlreadyRunning))

	close(release)
	s.Stop()
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestRunAgentSyncRunsInline(t *testing.T) {
	var ran bool
	var mu sync.Mutex
	s := New(func(ctx context.Context, agentID string) error {
		mu.Lock()
		ran = true
		mu.Unlock()
		return nil
	}, 5)

	_, err := s.RunAgent(context.Background(), "agent-1", true)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, ran)
	assert.False(t, s.IsRunning("agent-1"))
}

func TestStopAgentForgetsRunningHandle(t *testing.T) {
	release := make(chan struct{})
	s := New(func(ctx context.Context, agentID string) error {
		<-release
		return nil
	}, 5)

	_, err := s.RunAgent(context.Background(), "agent-1", false)
	require.NoError(t, err)
	assert.True(t, s.IsRunning("agent-1"))

	assert.True(t, s.StopAgent("agent-1"))
	assert.False(t, s.IsRunning("agent-1"))
	assert.False(t, s.StopAgent("agent-1"))

	close(release)
	s.Stop()
}

func TestTickDispatchesDueAgents(t *testing.T) {
	var calls int32
	done := make(chan struct{}, 1)
	s := New(func(ctx context.Context, agentID string) error {
		atomic.AddInt32(&calls, 1)
		select {
		case done <- struct{}{}:
		default:
		}
		return nil
	}, 5)

	require.NoError(t, s.Schedule("agent-1", "interval:1s"))
	s.mu.Lock()
	s.entries["agent-1"].nextRun = time.Now().Add(-time.Second)
	s.mu.Unlock()

	s.tick(context.Background(), time.Now())

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected due agent to run")
	}
	s.Stop()
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}
