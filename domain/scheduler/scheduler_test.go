package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"

	"github.com/emergent-company/pilgrimops/domain/jobs"
	"github.com/emergent-company/pilgrimops/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestScheduler_StartStop(t *testing.T) {
	s := NewScheduler(testLogger())
	assert.False(t, s.IsRunning())

	require.NoError(t, s.Start(context.Background()))
	assert.True(t, s.IsRunning())
	require.NoError(t, s.Start(context.Background()))

	require.NoError(t, s.Stop(context.Background()))
	assert.False(t, s.IsRunning())
	require.NoError(t, s.Stop(context.Background()))
}

func TestScheduler_AddCronTask(t *testing.T) {
	s := NewScheduler(testLogger())
	noop := func(context.Context) error { return nil }

	assert.Empty(t, s.ListTasks())
	require.NoError(t, s.AddCronTask("b_task", "0 * * * * *", noop))
	require.NoError(t, s.AddCronTask("a_task", "0 0 * * * *", noop))
	assert.Equal(t, []string{"a_task", "b_task"}, s.ListTasks())

	// Same name replaces the entry
	require.NoError(t, s.AddCronTask("a_task", "*/5 * * * * *", noop))
	assert.Len(t, s.ListTasks(), 2)
	assert.Len(t, s.cron.Entries(), 2)

	info := s.GetTaskInfo()
	require.Len(t, info, 2)
	assert.Equal(t, "a_task", info[0].Name)
	assert.Equal(t, "*/5 * * * * *", info[0].Schedule)
	require.False(t, s.IsRunning())
	assert.False(t, info[0].NextRun.IsZero())
	assert.WithinDuration(t, time.Now(), info[0].NextRun, 5*time.Second)
	assert.True(t, info[0].PrevRun.IsZero())
	assert.WithinDuration(t, time.Now(), info[1].NextRun, time.Minute)
}

func TestScheduler_AddCronTask_InvalidSchedule(t *testing.T) {
	s := NewScheduler(testLogger())
	err := s.AddCronTask("bad", "not a schedule", func(context.Context) error { return nil })
	assert.Error(t, err)
	assert.Empty(t, s.ListTasks())
}

func TestScheduler_RunsTasks(t *testing.T) {
	s := NewScheduler(testLogger())
	var runs atomic.Int32
	require.NoError(t, s.AddCronTask("tick", "* * * * * *", func(context.Context) error {
		runs.Add(1)
		return errors.New("failures are logged, not fatal")
	}))
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop(context.Background()) })

	require.Eventually(t, func() bool { return runs.Load() >= 2 }, 5*time.Second, 50*time.Millisecond)
}

type fakeRefresher struct{ calls atomic.Int32 }

func (f *fakeRefresher) RefreshGauges() { f.calls.Add(1) }

func TestQueueGaugesTask(t *testing.T) {
	r := &fakeRefresher{}
	require.NoError(t, QueueGaugesTask(r)(context.Background()))
	assert.Equal(t, int32(1), r.calls.Load())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, QueueGaugesTask(r)(ctx), context.Canceled)
}

type fakePruner struct {
	cutoff time.Time
	n      int64
	err    error
}

func (f *fakePruner) Prune(_ context.Context, cutoff time.Time) (int64, error) {
	f.cutoff = cutoff
	return f.n, f.err
}

func TestArchivePruneTask(t *testing.T) {
	now := time.Date(2026, 6, 1, 3, 30, 0, 0, time.UTC)
	p := &fakePruner{n: 12}
	task := NewArchivePruneTask(p, 720*time.Hour, testLogger())
	task.now = func() time.Time { return now }

	require.NoError(t, task.Run(context.Background()))
	assert.Equal(t, now.Add(-720*time.Hour), p.cutoff)

	p.err = errors.New("connection refused")
	assert.EqualError(t, task.Run(context.Background()), "connection refused")
}

func TestRegisterTasks(t *testing.T) {
	cfg := &config.Config{
		Scheduler: config.SchedulerConfig{
			Enabled:              true,
			QueueGaugesSchedule:  "*/15 * * * * *",
			ArchivePruneSchedule: "0 30 3 * * *",
		},
	}
	s := NewScheduler(testLogger())
	err := RegisterTasks(TaskParams{
		Scheduler: s,
		Broker:    jobs.NewBroker(testLogger()),
		Cfg:       cfg,
		Log:       testLogger(),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{TaskQueueGauges}, s.ListTasks())

	cfg.Scheduler.Enabled = false
	disabled := NewScheduler(testLogger())
	require.NoError(t, RegisterTasks(TaskParams{Scheduler: disabled, Broker: jobs.NewBroker(testLogger()), Cfg: cfg, Log: testLogger()}))
	assert.Empty(t, disabled.ListTasks())
}

func TestModule_Lifecycle(t *testing.T) {
	cfg := &config.Config{
		Scheduler: config.SchedulerConfig{
			Enabled:              true,
			QueueGaugesSchedule:  "*/15 * * * * *",
			ArchivePruneSchedule: "0 30 3 * * *",
		},
	}

	var s *Scheduler
	app := fxtest.New(t,
		fx.Supply(cfg, testLogger(), jobs.NewBroker(testLogger())),
		Module,
		fx.Populate(&s),
	)
	app.RequireStart()
	assert.True(t, s.IsRunning())
	assert.Equal(t, []string{TaskQueueGauges}, s.ListTasks())
	app.RequireStop()
	assert.False(t, s.IsRunning())
}
