package orchestrator

import (
	"slotbook/backend/internal/session"
)

// intent is the creation path one submission takes.
type intent interface {
	route() session.Route
}

type singleIntent struct{}

type recurringIntent struct {
	count int
}

type instantIntent struct{}

func (singleIntent) route() session.Route    { return session.RouteSingle }
func (recurringIntent) route() session.Route { return session.RouteRecurring }
func (instantIntent) route() session.Route   { return session.RouteInstant }

// selectIntent applies the routing guards in order: instant mode wins, then
// a recurring series for non-reschedules, else a single booking.
func selectIntent(s *session.Session) intent {
	if s.InstantMode {
		return instantIntent{}
	}
	if s.EventType != nil && s.EventType.HasRecurrence() && s.RecurringCount > 0 && s.RescheduleUID == "" {
		return recurringIntent{count: s.RecurringCount}
	}
	return singleIntent{}
}
