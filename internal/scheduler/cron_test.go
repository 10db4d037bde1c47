package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCronScheduler_Register(t *testing.T) {
	d := newDispatcher(&fakeJobs{}, &fakeReminders{})
	s := NewCronScheduler(d, d.Logger, time.Minute)

	err := s.Register(
		Entry{Spec: "CRON_TZ=Europe/Paris 5 10 * * *", Payload: Payload{Task: TaskRunDailyJobs}},
		Entry{Spec: "@every 5m", Payload: Payload{Task: TaskProcessReminders}},
	)
	require.NoError(t, err)
	assert.Len(t, s.Next(), 2)
}

func TestCronScheduler_RejectsInvalidSpec(t *testing.T) {
	d := newDispatcher(&fakeJobs{}, &fakeReminders{})
	s := NewCronScheduler(d, d.Logger, 0)

	err := s.Register(Entry{Spec: "every tuesday", Payload: Payload{Task: TaskRunDailyJobs}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run_daily_jobs")
}

func TestCronScheduler_JobDispatches(t *testing.T) {
	j := &fakeJobs{}
	r := &fakeReminders{}
	d := newDispatcher(j, r)
	s := NewCronScheduler(d, d.Logger, time.Minute)

	s.job(Payload{Task: TaskRunDailyJobs})()
	s.job(Payload{Task: TaskProcessReminders})()

	assert.Len(t, j.dailyDates, 1)
	assert.Equal(t, 1, r.calls)
}

func TestCronScheduler_StartStop(t *testing.T) {
	d := newDispatcher(&fakeJobs{}, &fakeReminders{})
	s := NewCronScheduler(d, d.Logger, 0)
	require.NoError(t, s.Register(Entry{Spec: "@every 1h", Payload: Payload{Task: TaskProcessReminders}}))

	s.Start()
	ctx := s.Stop()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}
