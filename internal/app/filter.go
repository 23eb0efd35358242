package app

import (
	"time"

	"checkin_messenger/internal/domain"
)

// IsCheckinOn reports whether ev checks in exactly on date (YYYY-MM-DD).
// Calendar adapters already express check-in dates in the configured zone.
func IsCheckinOn(ev domain.ReservationEvent, date string) bool {
	return ev.CheckinDate == date
}

// FilterCheckins keeps events checking in on date, preserving feed order.
func FilterCheckins(events []domain.ReservationEvent, date string) []domain.ReservationEvent {
	var out []domain.ReservationEvent
	for _, ev := range events {
		if IsCheckinOn(ev, date) {
			out = append(out, ev)
		}
	}
	return out
}

// Today is the calendar day of now in loc.
func Today(now time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return now.In(loc).Format(domain.DateLayout)
}

func validDate(date string) bool {
	_, err := time.Parse(domain.DateLayout, date)
	return err == nil
}
