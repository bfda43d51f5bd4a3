package lifecycle

import (
	"fmt"

	"github.com/cleanroute/cleanroute/libs/apperr"
	"github.com/cleanroute/cleanroute/services/booking-service/internal/model"
)

type Event string

const (
	EventConfirm       Event = "confirm"
	EventDepart        Event = "depart"
	EventStart         Event = "start"
	EventFinish        Event = "finish"
	EventComplete      Event = "complete"
	EventClientConfirm Event = "client_confirm"
	EventCancel        Event = "cancel"
	EventReschedule    Event = "reschedule"
)

// transitions is the complete from-state x event table. Anything missing is rejected.
var transitions = map[model.Status]map[Event]model.Status{
	model.StatusPending: {
		EventConfirm:    model.StatusConfirmed,
		EventCancel:     model.StatusCancelled,
		EventReschedule: model.StatusPending,
	},
	model.StatusConfirmed: {
		EventDepart:     model.StatusEnRoute,
		EventCancel:     model.StatusCancelled,
		EventReschedule: model.StatusPending,
	},
	model.StatusEnRoute: {
		EventStart:  model.StatusInProgress,
		EventCancel: model.StatusCancelled,
	},
	model.StatusInProgress: {
		EventFinish:        model.StatusAwaitingConfirmation,
		EventClientConfirm: model.StatusCompleted,
		EventCancel:        model.StatusCancelled,
	},
	model.StatusAwaitingConfirmation: {
		EventComplete:      model.StatusCompleted,
		EventClientConfirm: model.StatusCompleted,
		EventCancel:        model.StatusCancelled,
		EventReschedule:    model.StatusPending,
	},
	model.StatusCompleted: {},
	model.StatusCancelled: {},
}

// advanceEvents maps a staff-requested target status to its event.
var advanceEvents = map[model.Status]Event{
	model.StatusConfirmed:            EventConfirm,
	model.StatusEnRoute:              EventDepart,
	model.StatusInProgress:           EventStart,
	model.StatusAwaitingConfirmation: EventFinish,
	model.StatusCompleted:            EventComplete,
}

// notifyOn lists the target states that produce a customer notification.
var notifyOn = map[model.Status]model.NotificationType{
	model.StatusEnRoute:              model.NotifyEnRoute,
	model.StatusInProgress:           model.NotifyStarted,
	model.StatusAwaitingConfirmation: model.NotifyFinished,
}

// Next returns the state reached from `from` on ev, or a policy violation.
func Next(from model.Status, ev Event) (model.Status, error) {
	to, ok := transitions[from][ev]
	if !ok {
		return "", apperr.PolicyViolation(fmt.Sprintf("cannot %s an appointment that is %s", ev, from))
	}
	return to, nil
}
