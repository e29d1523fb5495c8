package orders

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusPaid      Status = "PAID"
	StatusShipped   Status = "SHIPPED"
	StatusDelivered Status = "DELIVERED"
	StatusCancelled Status = "CANCELLED"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusPaid, StatusShipped, StatusDelivered, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transition is permitted from s.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// Event is a lifecycle event applied to an order.
type Event string

const (
	EventPay     Event = "pay"
	EventShip    Event = "ship"
	EventDeliver Event = "confirm_delivery"
	EventCancel  Event = "cancel"
)

var validNext = map[Status]map[Event]Status{
	StatusPending: {EventPay: StatusPaid, EventCancel: StatusCancelled},
	StatusPaid:    {EventShip: StatusShipped, EventCancel: StatusCancelled},
	StatusShipped: {EventDeliver: StatusDelivered},
}

// Next applies ev to an order in state from. Pure: no I/O, no mutation.
// Any pair outside the transition table fails with
// InvalidStateTransitionError naming both sides.
func Next(from Status, ev Event) (Status, error) {
	if to, ok := validNext[from][ev]; ok {
		return to, nil
	}
	return "", &InvalidStateTransitionError{From: from, Event: ev}
}

var eventForTarget = map[Status]Event{
	StatusPaid:      EventPay,
	StatusShipped:   EventShip,
	StatusDelivered: EventDeliver,
	StatusCancelled: EventCancel,
}

// EventFor maps a requested target status to the event that produces it.
// PENDING is only ever reached by creation, never by transition.
func EventFor(target Status) (Event, error) {
	ev, ok := eventForTarget[target]
	if !ok {
		return "", &ValidationError{Field: "status"}
	}
	return ev, nil
}
