package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"doc_syncer/internal/config"
)

type fakeEnqueuer struct {
	mu      sync.Mutex
	sources []string
	err     error
}

func (f *fakeEnqueuer) SubmitScheduled(_ context.Context, sourceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sources = append(f.sources, sourceID)
	return nil
}

func (f *fakeEnqueuer) submitted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sources...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mustEntry(t *testing.T, id string, cfg config.ScheduleConfig) Entry {
	t.Helper()
	sched, spec, err := Parse(cfg, time.UTC)
	require.NoError(t, err)
	require.NotNil(t, sched)
	return Entry{SourceID: id, Spec: spec, Schedule: sched}
}

func at(hour, minute int) time.Time {
	return time.Date(2024, 7, 1, hour, minute, 0, 0, time.UTC) // a Monday
}

func TestExpression(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.ScheduleConfig
		want    string
		wantErr bool
	}{
		{name: "daily", cfg: config.ScheduleConfig{Cadence: "daily", Time: "02:00"}, want: "0 2 * * *"},
		{name: "weekly default monday", cfg: config.ScheduleConfig{Cadence: "weekly", Time: "03:30"}, want: "30 3 * * 1"},
		{name: "weekly friday", cfg: config.ScheduleConfig{Cadence: "weekly", Time: "03:30", Weekday: "Friday"}, want: "30 3 * * 5"},
		{name: "monthly", cfg: config.ScheduleConfig{Cadence: "monthly", Time: "04:00", Day: 15}, want: "0 4 15 * *"},
		{name: "monthly default first", cfg: config.ScheduleConfig{Cadence: "monthly", Time: "04:00"}, want: "0 4 1 * *"},
		{name: "cron", cfg: config.ScheduleConfig{Cadence: "cron", Cron: "*/15 * * * *"}, want: "*/15 * * * *"},
		{name: "manual", cfg: config.ScheduleConfig{Cadence: "manual"}, want: ""},
		{name: "bad time", cfg: config.ScheduleConfig{Cadence: "daily", Time: "25:00"}, wantErr: true},
		{name: "bad weekday", cfg: config.ScheduleConfig{Cadence: "weekly", Time: "01:00", Weekday: "someday"}, wantErr: true},
		{name: "bad day", cfg: config.ScheduleConfig{Cadence: "monthly", Time: "01:00", Day: 40}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Expression(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDailyFiresExactlyOncePerInstant(t *testing.T) {
	enq := &fakeEnqueuer{}
	s := NewScheduler(enq, []Entry{mustEntry(t, "a", config.ScheduleConfig{Cadence: "daily", Time: "02:00"})}, time.Minute, testLogger())
	ctx := context.Background()

	assert.Empty(t, s.Tick(ctx, at(1, 59)))
	assert.Equal(t, []string{"a"}, s.Tick(ctx, at(2, 0)))
	assert.Empty(t, s.Tick(ctx, at(2, 1)))
	assert.Empty(t, s.Tick(ctx, at(2, 0)), "replaying the same instant must not fire again")

	assert.Equal(t, []string{"a"}, enq.submitted())
}

func TestTickJitterStillFiresOnce(t *testing.T) {
	enq := &fakeEnqueuer{}
	s := NewScheduler(enq, []Entry{mustEntry(t, "a", config.ScheduleConfig{Cadence: "daily", Time: "02:00"})}, time.Minute, testLogger())
	ctx := context.Background()

	s.Tick(ctx, at(1, 59).Add(-200*time.Millisecond))
	s.Tick(ctx, at(2, 0).Add(700*time.Millisecond))
	s.Tick(ctx, at(2, 1).Add(700*time.Millisecond))

	assert.Equal(t, []string{"a"}, enq.submitted())
}

func TestMissedInstantsAreNotCaughtUp(t *testing.T) {
	enq := &fakeEnqueuer{}
	s := NewScheduler(enq, []Entry{mustEntry(t, "a", config.ScheduleConfig{Cadence: "daily", Time: "02:00"})}, time.Minute, testLogger())
	ctx := context.Background()

	s.Tick(ctx, at(1, 0))
	s.Tick(ctx, at(5, 0))

	assert.Empty(t, enq.submitted())
}

func TestWeeklyAndMonthlyCadences(t *testing.T) {
	enq := &fakeEnqueuer{}
	entries := []Entry{
		mustEntry(t, "weekly", config.ScheduleConfig{Cadence: "weekly", Time: "02:00", Weekday: "tuesday"}),
		mustEntry(t, "monthly", config.ScheduleConfig{Cadence: "monthly", Time: "02:00", Day: 1}),
	}
	s := NewScheduler(enq, entries, time.Minute, testLogger())
	ctx := context.Background()

	monday := at(2, 0)
	assert.Equal(t, []string{"monthly"}, s.Tick(ctx, monday))
	assert.Equal(t, []string{"weekly"}, s.Tick(ctx, monday.AddDate(0, 0, 1)))
}

func TestEnqueueFailureIsNotReported(t *testing.T) {
	enq := &fakeEnqueuer{err: errors.New("queue closed")}
	s := NewScheduler(enq, []Entry{mustEntry(t, "a", config.ScheduleConfig{Cadence: "daily", Time: "02:00"})}, time.Minute, testLogger())

	assert.Empty(t, s.Tick(context.Background(), at(2, 0)))
}

func TestStartStopIdempotent(t *testing.T) {
	s := NewScheduler(&fakeEnqueuer{}, nil, 10*time.Millisecond, testLogger())
	ctx := context.Background()

	s.Stop()
	assert.False(t, s.Running())

	s.Start(ctx)
	s.Start(ctx)
	assert.True(t, s.Running())

	s.Stop()
	assert.False(t, s.Running())
	s.Stop()

	s.Start(ctx)
	assert.True(t, s.Running())
	s.Stop()
}

func TestNextRuns(t *testing.T) {
	s := NewScheduler(&fakeEnqueuer{}, []Entry{mustEntry(t, "a", config.ScheduleConfig{Cadence: "daily", Time: "02:00"})}, time.Minute, testLogger())

	next := s.NextRuns(at(3, 0))
	assert.True(t, at(2, 0).AddDate(0, 0, 1).Equal(next["a"]))
}
