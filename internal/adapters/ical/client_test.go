package ical_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"checkin_messenger/internal/adapters/ical"
)

const feed = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//Booking//EN\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:res-100@booking\r\n" +
	"DTSTART;VALUE=DATE:20261015\r\n" +
	"DTEND;VALUE=DATE:20261018\r\n" +
	"SUMMARY:Reservation\r\n" +
	"DESCRIPTION:First Name: Ana\\nLast Name: Pop\\nPhone: 0722 123 456\\nEmail: ana@example.com\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:res-101@booking\r\n" +
	"DTSTART:20261014T223000Z\r\n" +
	"SUMMARY:CLOSED - [8812] Ion Ionescu (2 guests)\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"DTSTART;VALUE=DATE:20261020\r\n" +
	"SUMMARY:Blocked\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:broken\r\n" +
	"DTSTART:not-a-date\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

func TestGetEvents_ParsesFeed(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/calendar")
		_, _ = w.Write([]byte(feed))
	}))
	defer ts.Close()

	bucharest, err := time.LoadLocation("Europe/Bucharest")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	cl := ical.New(bucharest, 100)
	evs, err := cl.GetEvents(context.Background(), ts.URL+"/room.ics", "2026-10-15")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(evs) != 3 {
		t.Fatalf("expected 3 events (broken one dropped), got %d: %+v", len(evs), evs)
	}

	a := evs[0]
	if a.ReservationID != "res-100@booking" || a.GuestName != "Ana Pop" || a.CheckinDate != "2026-10-15" ||
		a.CheckoutDate != "2026-10-18" || a.Phone != "+40722123456" || a.Email != "ana@example.com" {
		t.Fatalf("unexpected first event: %+v", a)
	}

	// 22:30Z on the 14th is the 15th in Bucharest
	b := evs[1]
	if b.GuestName != "Ion Ionescu" || b.CheckinDate != "2026-10-15" || b.Phone != "" {
		t.Fatalf("unexpected second event: %+v", b)
	}

	c := evs[2]
	if !strings.HasPrefix(c.ReservationID, "ics-") || c.CheckinDate != "2026-10-20" {
		t.Fatalf("unexpected third event: %+v", c)
	}
}

func TestGetEvents_StableFallbackID(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(feed))
	}))
	defer ts.Close()

	cl := ical.New(time.UTC, 100)
	a, _ := cl.GetEvents(context.Background(), ts.URL, "")
	b, _ := cl.GetEvents(context.Background(), ts.URL, "")
	if a[2].ReservationID != b[2].ReservationID {
		t.Fatalf("fallback id not stable: %s vs %s", a[2].ReservationID, b[2].ReservationID)
	}
}

func TestGetEvents_RetriesThenSuccess(t *testing.T) {
	var hits int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(feed))
	}))
	defer ts.Close()

	cl := ical.New(time.UTC, 100)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := cl.GetEvents(ctx, ts.URL, ""); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if atomic.LoadInt32(&hits) != 2 {
		t.Fatalf("expected 2 calls, got %d", hits)
	}
}

func TestGetEvents_Errors(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	defer ts.Close()
	cl := ical.New(time.UTC, 100)

	if _, err := cl.GetEvents(context.Background(), ts.URL, ""); !errors.Is(err, ical.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := cl.GetEvents(context.Background(), "file:///etc/passwd", ""); !errors.Is(err, ical.ErrBadRef) {
		t.Fatalf("expected ErrBadRef, got %v", err)
	}
}

func TestGetEvents_TimeZonesOfStart(t *testing.T) {
	const zoned = "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//Booking//EN\r\n" +
		"BEGIN:VEVENT\r\nUID:ny\r\nDTSTART;TZID=America/New_York:20261014T220000\r\nSUMMARY:Reservation\r\nEND:VEVENT\r\n" +
		"BEGIN:VEVENT\r\nUID:floating\r\nDTSTART:20261014T233000\r\nSUMMARY:Reservation\r\nEND:VEVENT\r\n" +
		"END:VCALENDAR\r\n"
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(zoned))
	}))
	defer ts.Close()

	bucharest, err := time.LoadLocation("Europe/Bucharest")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	evs, err := ical.New(bucharest, 100).GetEvents(context.Background(), ts.URL, "")
	if err != nil || len(evs) != 2 {
		t.Fatalf("evs=%+v err=%v", evs, err)
	}
	// 22:00 in New York is 05:00 next day in Bucharest
	if evs[0].ReservationID != "ny" || evs[0].CheckinDate != "2026-10-15" {
		t.Fatalf("TZID start not converted: %+v", evs[0])
	}
	// floating times are wall clock wherever the guest is
	if evs[1].ReservationID != "floating" || evs[1].CheckinDate != "2026-10-14" {
		t.Fatalf("floating start shifted: %+v", evs[1])
	}
}

func TestGetEvents_FeedTooLarge(t *testing.T) {
	big := strings.Repeat("X-FILLER:"+strings.Repeat("a", 1000)+"\r\n", 8400)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(feed[:len(feed)-len("END:VCALENDAR\r\n")] + big + "END:VCALENDAR\r\n"))
	}))
	defer ts.Close()

	_, err := ical.New(time.UTC, 100).GetEvents(context.Background(), ts.URL, "")
	if !errors.Is(err, ical.ErrFeedTooLarge) {
		t.Fatalf("expected ErrFeedTooLarge, got %v", err)
	}
}

func TestNormalizePhone(t *testing.T) {
	cases := []struct{ in, want string }{
		{"0722 123 456", "+40722123456"},
		{"0040-722-123-456", "+40722123456"},
		{"+40722123456", "+40722123456"},
		{"0049 170 1234567", "+491701234567"},
		{"0170 1234567", "+491701234567"},
		{"+44 (20) 7946 0958", "+442079460958"},
		{"+1234", ""},
		{"12345", ""},
		{"", ""},
	}
	for _, tc := range cases {
		if got := ical.NormalizePhone(tc.in); got != tc.want {
			t.Errorf("NormalizePhone(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
