package lifecycle

import (
	"testing"

	"github.com/cleanroute/cleanroute/libs/apperr"
	"github.com/cleanroute/cleanroute/services/booking-service/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextForwardPath(t *testing.T) {
	path := []struct {
		ev Event
		to model.Status
	}{
		{EventConfirm, model.StatusConfirmed},
		{EventDepart, model.StatusEnRoute},
		{EventStart, model.StatusInProgress},
		{EventFinish, model.StatusAwaitingConfirmation},
		{EventClientConfirm, model.StatusCompleted},
	}
	cur := model.StatusPending
	for _, step := range path {
		next, err := Next(cur, step.ev)
		require.NoError(t, err, "%s on %s", step.ev, cur)
		assert.Equal(t, step.to, next)
		cur = next
	}
}

func TestNextTerminalStates(t *testing.T) {
	for _, from := range []model.Status{model.StatusCompleted, model.StatusCancelled} {
		for _, ev := range []Event{EventConfirm, EventDepart, EventStart, EventFinish, EventComplete, EventClientConfirm, EventCancel, EventReschedule} {
			_, err := Next(from, ev)
			assert.Equal(t, apperr.KindPolicyViolation, apperr.KindOf(err), "%s on %s", ev, from)
		}
	}
}

func TestNextRejectsSkips(t *testing.T) {
	cases := []struct {
		from model.Status
		ev   Event
	}{
		{model.StatusPending, EventDepart},
		{model.StatusPending, EventFinish},
		{model.StatusConfirmed, EventStart},
		{model.StatusEnRoute, EventReschedule},
		{model.StatusInProgress, EventReschedule},
		{model.StatusPending, EventClientConfirm},
	}
	for _, tc := range cases {
		_, err := Next(tc.from, tc.ev)
		assert.Error(t, err, "%s on %s", tc.ev, tc.from)
	}
}

func TestEveryStatusHasARow(t *testing.T) {
	for _, s := range []model.Status{
		model.StatusPending, model.StatusConfirmed, model.StatusEnRoute, model.StatusInProgress,
		model.StatusAwaitingConfirmation, model.StatusCompleted, model.StatusCancelled,
	} {
		_, ok := transitions[s]
		assert.True(t, ok, s)
	}
}

func TestAppendNotes(t *testing.T) {
	assert.Equal(t, "a", appendNotes("", "a"))
	assert.Equal(t, "a\nb", appendNotes("a", " b "))
	assert.Equal(t, "a", appendNotes("a", "  "))
}
