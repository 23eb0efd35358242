package app_test

import (
	"testing"
	"time"

	"checkin_messenger/internal/app"
	"checkin_messenger/internal/domain"
)

func TestFilterCheckins(t *testing.T) {
	evs := []domain.ReservationEvent{
		{ReservationID: "a", CheckinDate: "2026-10-15"},
		{ReservationID: "b", CheckinDate: "2026-10-14"},
		{ReservationID: "c", CheckinDate: "2026-10-15"},
		{ReservationID: "d", CheckinDate: ""},
	}
	got := app.FilterCheckins(evs, "2026-10-15")
	if len(got) != 2 || got[0].ReservationID != "a" || got[1].ReservationID != "c" {
		t.Fatalf("unexpected: %+v", got)
	}
	if got := app.FilterCheckins(nil, "2026-10-15"); len(got) != 0 {
		t.Fatalf("expected empty, got %+v", got)
	}
}

func TestToday(t *testing.T) {
	bucharest, err := time.LoadLocation("Europe/Bucharest")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	// 22:30 UTC is already the next day in Bucharest
	now := time.Date(2026, 10, 14, 22, 30, 0, 0, time.UTC)
	if got := app.Today(now, time.UTC); got != "2026-10-14" {
		t.Fatalf("utc: %s", got)
	}
	if got := app.Today(now, bucharest); got != "2026-10-15" {
		t.Fatalf("bucharest: %s", got)
	}
}
