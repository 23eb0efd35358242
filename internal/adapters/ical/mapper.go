package ical

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"

	ics "github.com/arran4/golang-ical"

	"checkin_messenger/internal/domain"
)

var (
	closedSummary = regexp.MustCompile(`^CLOSED\s*-\s*\[[^\]]*\]\s*(.+)$`)
	nonDigit      = regexp.MustCompile(`\D`)
	phoneNoise    = regexp.MustCompile(`[\s\-()]+`)
)

func mapEvent(ev *ics.VEvent, loc *time.Location) (domain.ReservationEvent, error) {
	start := ev.GetProperty(ics.ComponentPropertyDtStart)
	if start == nil {
		return domain.ReservationEvent{}, fmt.Errorf("event has no DTSTART")
	}
	checkin, err := eventDate(start, loc)
	if err != nil {
		return domain.ReservationEvent{}, err
	}
	summary := propText(ev, ics.ComponentPropertySummary)
	desc := propText(ev, ics.ComponentPropertyDescription)

	out := domain.ReservationEvent{
		ReservationID: strings.TrimSpace(ev.Id()),
		GuestName:     guestName(desc, summary),
		CheckinDate:   checkin,
		Phone:         NormalizePhone(field(desc, "Phone")),
		Email:         field(desc, "Email"),
	}
	if out.ReservationID == "" {
		out.ReservationID = fallbackID(start.Value, summary, desc)
	}
	if end := ev.GetProperty(ics.ComponentPropertyDtEnd); end != nil {
		if d, err := eventDate(end, loc); err == nil {
			out.CheckoutDate = d
		}
	}
	return out, nil
}

// eventDate renders DTSTART/DTEND as YYYY-MM-DD. Date-only and floating values
// are taken literally; UTC and TZID-qualified times are converted to loc.
func eventDate(p *ics.IANAProperty, loc *time.Location) (string, error) {
	v := strings.TrimSpace(p.Value)
	switch {
	case len(v) == 8:
		t, err := time.Parse("20060102", v)
		if err != nil {
			return "", fmt.Errorf("bad date %q: %w", v, err)
		}
		return t.Format(domain.DateLayout), nil

	case strings.HasSuffix(v, "Z"):
		t, err := time.Parse("20060102T150405Z", v)
		if err != nil {
			return "", fmt.Errorf("bad utc time %q: %w", v, err)
		}
		return t.In(loc).Format(domain.DateLayout), nil

	default:
		src := time.UTC
		floating := true
		if tz := p.ICalParameters[string(ics.ParameterTzid)]; len(tz) > 0 {
			if l, err := time.LoadLocation(tz[0]); err == nil {
				src, floating = l, false
			}
		}
		t, err := time.ParseInLocation("20060102T150405", v, src)
		if err != nil {
			return "", fmt.Errorf("bad time %q: %w", v, err)
		}
		if floating {
			return t.Format(domain.DateLayout), nil
		}
		return t.In(loc).Format(domain.DateLayout), nil
	}
}

func propText(ev *ics.VEvent, name ics.ComponentProperty) string {
	p := ev.GetProperty(name)
	if p == nil {
		return ""
	}
	return unescape(p.Value)
}

func unescape(s string) string {
	r := strings.NewReplacer(`\n`, "\n", `\N`, "\n", `\,`, ",", `\;`, ";", `\\`, `\`)
	return r.Replace(s)
}

// field returns the value of a "Label: value" line in a booking description.
func field(desc, label string) string {
	prefix := strings.ToLower(label) + ":"
	for _, line := range strings.Split(desc, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(strings.ToLower(line), prefix) {
			return strings.TrimSpace(line[len(prefix):])
		}
	}
	return ""
}

// guestName prefers the booking description, falling back to summaries of the
// form "CLOSED - [123] First Last".
func guestName(desc, summary string) string {
	first, last := field(desc, "First Name"), field(desc, "Last Name")
	if first != "" && last != "" {
		return first + " " + last
	}
	if m := closedSummary.FindStringSubmatch(strings.TrimSpace(summary)); m != nil {
		if f := strings.Fields(m[1]); len(f) >= 2 {
			return f[0] + " " + f[1]
		} else if len(f) == 1 {
			return f[0]
		}
	}
	return first
}

// NormalizePhone converts local Romanian and German notations to E.164 and
// returns "" for numbers it cannot place.
func NormalizePhone(raw string) string {
	p := phoneNoise.ReplaceAllString(raw, "")
	switch {
	case p == "":
		return ""
	case strings.HasPrefix(p, "+40"), strings.HasPrefix(p, "+49"):
		return p
	case strings.HasPrefix(p, "0040"):
		return "+40" + p[4:]
	case strings.HasPrefix(p, "0") && len(p) == 10 && !strings.HasPrefix(p, "01"):
		return "+40" + p[1:]
	case strings.HasPrefix(p, "0049"):
		return "+49" + p[4:]
	case strings.HasPrefix(p, "01") && len(p) >= 10:
		return "+49" + p[1:]
	case strings.HasPrefix(p, "+") && len(nonDigit.ReplaceAllString(p, "")) >= 10:
		return p
	}
	return ""
}

func fallbackID(start, summary, desc string) string {
	sum := sha1.Sum([]byte(start + "|" + summary + "|" + desc))
	return "ics-" + hex.EncodeToString(sum[:8])
}
