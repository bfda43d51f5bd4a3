package dispatch

import (
	"fmt"
	"time"
)

type message struct {
	Subject string
	Body    string
	Short   string
}

func compose(t Target, typ Type) message {
	loc, err := time.LoadLocation(t.Timezone)
	if err != nil || t.Timezone == "" {
		loc = time.UTC
	}
	when := t.StartTime.In(loc).Format("Mon Jan 2 at 15:04")
	name := t.CustomerName
	if name == "" {
		name = "there"
	}
	service := t.ServiceName
	if service == "" {
		service = "cleaning"
	}

	var m message
	switch typ {
	case DayBefore:
		m.Subject = "Reminder: your " + service + " is tomorrow"
		m.Short = fmt.Sprintf("Reminder: your %s is scheduled for %s.", service, when)
	case EnRoute:
		m.Subject = "Your cleaner is on the way"
		m.Short = fmt.Sprintf("Your cleaner is on the way for your %s (%s).", service, when)
	case Started:
		m.Subject = "Your " + service + " has started"
		m.Short = fmt.Sprintf("Your %s has started.", service)
	case Finished:
		m.Subject = "Your " + service + " is finished"
		m.Short = fmt.Sprintf("Your %s is finished. Please confirm the service in your account.", service)
	}
	m.Body = fmt.Sprintf("Hi %s,\n\n%s\n\nCleanRoute", name, m.Short)
	return m
}
