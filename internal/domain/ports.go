package domain

import (
	"context"
	"time"
)

// RoomRegistry is the read side of hotels, rooms and their automation settings.
type RoomRegistry interface {
	ListHotels(ctx context.Context) ([]Hotel, error)
	ListRooms(ctx context.Context, hotelID int64) ([]Room, error)
	GetRoom(ctx context.Context, roomID int64) (Room, error)
	GetHotelByID(ctx context.Context, hotelID int64) (Hotel, error)
	// GetRoomSettings creates the default settings row on first read.
	GetRoomSettings(ctx context.Context, roomID int64) (RoomSettings, error)
}

type SettingsStore interface {
	UpdateRoomSettings(ctx context.Context, roomID int64, u SettingsUpdate) (RoomSettings, error)
}

type SettingsUpdate struct {
	AutoSend     *bool   `json:"auto_send"`
	SendTime     *string `json:"send_time"`
	TemplateName *string `json:"template_name"`
}

type CalendarSource interface {
	// GetEvents returns the feed's events in feed order; date is a hint for
	// adapters that can narrow the query, callers still filter.
	GetEvents(ctx context.Context, calendarRef string, date string) ([]ReservationEvent, error)
}

type OutboundMessage struct {
	To         string
	Template   string
	Language   string
	Header     HeaderSpec // optional
	BodyParams []string
}

type SendReceipt struct {
	ProviderMessageID string
}

type MessagingGateway interface {
	Send(ctx context.Context, m OutboundMessage) (SendReceipt, error)
}

// Ledger remembers which dispatch keys already produced a successful send.
// TryClaim is atomic: exactly one concurrent caller gets ok=true for a key
// that is neither sent nor currently claimed.
type Ledger interface {
	TryClaim(ctx context.Context, k DispatchKey) (token string, ok bool, err error)
	MarkSent(ctx context.Context, k DispatchKey, token string) error
	Release(ctx context.Context, k DispatchKey, token string) error
}

// MessageLog is the audit trail of sent check-in messages.
type MessageLog interface {
	RecordSent(ctx context.Context, m MessageRecord) error
	ListMessages(ctx context.Context, q MessageQuery) ([]MessageRecord, error)
	MessageStats(ctx context.Context, q MessageQuery) ([]MessageStat, error)
}

type OutcomePublisher interface {
	PublishOutcome(ctx context.Context, ev OutcomeEvent) error
}

type Cache interface {
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, v any, ttlSec int) error
	Del(ctx context.Context, key string) error
}

// Read models & queries

type MessageRecord struct {
	ID            int64  `json:"id"`
	HotelID       int64  `json:"hotel_id"`
	RoomID        int64  `json:"room_id"`
	ReservationID string `json:"reservation_id"`
	SentDate      string `json:"sent_date"`
	TemplateName  string `json:"template_name"`
	Status        string `json:"status"`
	Content       string `json:"content"`
}

type MessageQuery struct {
	HotelID   *int64
	RoomID    *int64
	StartDate *string
	EndDate   *string
}

type MessageStat struct {
	HotelID       int64  `json:"hotel_id"`
	HotelName     string `json:"hotel_name"`
	TotalMessages int    `json:"total_messages"`
}

// OutcomeEvent is published once per dispatched item.
type OutcomeEvent struct {
	RunID         string    `json:"run_id"`
	Flow          string    `json:"flow"`
	HotelID       int64     `json:"hotel_id,omitempty"`
	RoomID        int64     `json:"room_id,omitempty"`
	ReservationID string    `json:"reservation_id,omitempty"`
	Phone         string    `json:"phone,omitempty"`
	Template      string    `json:"template"`
	Status        string    `json:"status"`
	Message       string    `json:"message,omitempty"`
	At            time.Time `json:"at"`
}
