package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAttemptTransitions_AreClosed(t *testing.T) {
	// Every target of a transition must itself be a declared state.
	declared := map[AttemptStatus]bool{}
	for _, s := range AttemptStatuses() {
		declared[s] = true
	}
	for _, s := range AttemptStatuses() {
		for _, next := range attemptTransitions[s] {
			assert.True(t, declared[next], "%s -> %s targets an undeclared state", s, next)
		}
	}
	assert.Len(t, declared, 7)
}

func TestAttemptStatus_Lifecycle(t *testing.T) {
	assert.True(t, AttemptScheduled.CanTransitionTo(AttemptInProgress))
	assert.True(t, AttemptInProgress.CanTransitionTo(AttemptSubmitted))
	assert.False(t, AttemptInProgress.CanTransitionTo(AttemptSucceeded))
	assert.False(t, AttemptInProgress.CanTransitionTo(AttemptFailed))
	assert.True(t, AttemptSubmitted.CanTransitionTo(AttemptSucceeded))
	assert.True(t, AttemptSubmitted.CanTransitionTo(AttemptFailed))

	assert.False(t, AttemptSucceeded.CanTransitionTo(AttemptFailed))
	assert.False(t, AttemptSubmitted.CanTransitionTo(AttemptScheduled))
	assert.False(t, AttemptScheduled.CanTransitionTo(AttemptSucceeded))

	for _, s := range []AttemptStatus{AttemptSucceeded, AttemptFailed, AttemptCancelled, AttemptSkipped} {
		assert.True(t, s.IsTerminal(), s)
	}
	assert.False(t, AttemptSubmitted.IsTerminal())
	assert.True(t, AttemptSubmitted.IsPendingConfirmation())
	assert.True(t, AttemptInProgress.IsPendingConfirmation())
	assert.False(t, AttemptScheduled.IsPendingConfirmation())
}

func TestJobStatus_Lifecycle(t *testing.T) {
	assert.True(t, JobPending.CanTransitionTo(JobRunning))
	assert.True(t, JobRunning.CanTransitionTo(JobPartial))
	assert.True(t, JobFailed.CanTransitionTo(JobRunning))
	assert.False(t, JobCompleted.CanTransitionTo(JobRunning))
	assert.False(t, JobPartial.CanTransitionTo(JobRunning))

	assert.True(t, JobFailed.IsFinished())
	assert.True(t, JobPartial.IsFinished())
	assert.False(t, JobRunning.IsFinished())
	assert.Len(t, JobStatuses(), 5)
}

func TestReminderStatus_Lifecycle(t *testing.T) {
	assert.True(t, ReminderPending.CanTransitionTo(ReminderSent))
	assert.True(t, ReminderSent.CanTransitionTo(ReminderDelivered))
	assert.True(t, ReminderDelivered.CanTransitionTo(ReminderOpened))
	assert.True(t, ReminderFailed.CanTransitionTo(ReminderSent))
	assert.False(t, ReminderCancelled.CanTransitionTo(ReminderSent))
	assert.False(t, ReminderClicked.CanTransitionTo(ReminderDelivered))

	assert.True(t, ReminderDelivered.CountsTowardsCaps())
	assert.False(t, ReminderPending.CountsTowardsCaps())
	assert.False(t, ReminderFailed.CountsTowardsCaps())
	assert.Len(t, ReminderStatuses(), 8)
}

func TestEligibility_Valid(t *testing.T) {
	for _, e := range AllEligibilities {
		assert.True(t, e.Valid(), e)
	}
	assert.False(t, Eligibility("MAYBE").Valid())
}
