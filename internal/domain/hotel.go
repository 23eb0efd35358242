package domain

import (
	"fmt"
	"strings"
	"time"
)

type Hotel struct {
	ID          int64
	Name        string
	Address     *string
	Phone       *string
	Email       *string
	Description *string
}

type Room struct {
	ID             int64
	HotelID        int64
	Name           string
	CalendarURL    string  // empty -> room is skipped by dispatch
	WhatsAppNumber *string // fallback destination when the reservation carries no phone
	TemplateName   string
}

// RoomSettings drive automated sending for one room.
type RoomSettings struct {
	RoomID       int64   `json:"room_id"`
	AutoSend     bool    `json:"auto_send"`
	SendTime     string  `json:"send_time"` // HH:MM:SS, wall clock in the configured timezone
	TemplateName *string `json:"template_name"`
}

const DefaultSendTime = "11:00:00"

func DefaultRoomSettings(roomID int64) RoomSettings {
	return RoomSettings{RoomID: roomID, AutoSend: true, SendTime: DefaultSendTime}
}

// ParseSendTime accepts HH:MM or HH:MM:SS and returns the offset from midnight.
func ParseSendTime(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if len(s) == 5 {
		s += ":00"
	}
	t, err := time.Parse("15:04:05", s)
	if err != nil {
		return 0, fmt.Errorf("%w: send_time %q must be HH:MM[:SS]", ErrInvalidInput, s)
	}
	return time.Duration(t.Hour())*time.Hour +
		time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second, nil
}

// EffectiveTemplate picks settings override, then the room template, then def.
func EffectiveTemplate(r Room, st RoomSettings, def string) string {
	if st.TemplateName != nil && strings.TrimSpace(*st.TemplateName) != "" {
		return strings.TrimSpace(*st.TemplateName)
	}
	if t := strings.TrimSpace(r.TemplateName); t != "" {
		return t
	}
	return def
}

// FormatSendTime renders an offset from midnight as HH:MM:SS.
func FormatSendTime(d time.Duration) string {
	s := int(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", s/3600, s/60%60, s%60)
}

// Normalize validates the update and rewrites send_time as HH:MM:SS.
func (u SettingsUpdate) Normalize() (SettingsUpdate, error) {
	if u.SendTime != nil {
		d, err := ParseSendTime(*u.SendTime)
		if err != nil {
			return u, err
		}
		st := FormatSendTime(d)
		u.SendTime = &st
	}
	if u.TemplateName != nil {
		t := strings.TrimSpace(*u.TemplateName)
		u.TemplateName = &t
	}
	return u, nil
}
