package domain

import (
	"fmt"
	"strings"
)

// DateLayout is the canonical calendar-day form used for target and check-in dates.
const DateLayout = "2006-01-02"

// ReservationEvent is what a calendar feed reports for one booking.
type ReservationEvent struct {
	ReservationID string `json:"reservation_id"`
	GuestName     string `json:"guest_name"`
	CheckinDate   string `json:"checkin_date"`
	CheckoutDate  string `json:"checkout_date,omitempty"`
	Phone         string `json:"phone,omitempty"`
	Email         string `json:"email,omitempty"`
}

// FirstName is the first word of the guest name; templates greet by it.
func (e ReservationEvent) FirstName() string {
	if f := strings.Fields(e.GuestName); len(f) > 0 {
		return f[0]
	}
	return ""
}

// DispatchTarget is the unit of work for one outbound check-in message.
type DispatchTarget struct {
	Hotel    Hotel
	Room     Room
	Settings RoomSettings
	Event    ReservationEvent
	Date     string
}

func (t DispatchTarget) Key() DispatchKey {
	return DispatchKey{RoomID: t.Room.ID, ReservationID: t.Event.ReservationID, Date: t.Date}
}

// DispatchKey identifies one send in the idempotency ledger.
type DispatchKey struct {
	RoomID        int64
	ReservationID string
	Date          string
}

func (k DispatchKey) String() string {
	return fmt.Sprintf("%d:%s:%s", k.RoomID, k.ReservationID, k.Date)
}

type Status string

const (
	StatusSent    Status = "sent"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

type Reason string

const (
	ReasonNone          Reason = ""
	ReasonAlreadySent   Reason = "already_sent"
	ReasonNoCheckin     Reason = "no_checkin"
	ReasonNoPhone       Reason = "no_phone"
	ReasonCalendarError Reason = "calendar_error"
	ReasonLedgerError   Reason = "ledger_error"
	ReasonGatewayError  Reason = "gateway_error"
	ReasonCanceled      Reason = "canceled"
)

// DispatchRecord is the outcome of one target, or of a whole room when the
// room never produced a target (calendar failure, no check-in).
type DispatchRecord struct {
	HotelID           int64  `json:"hotel_id"`
	HotelName         string `json:"hotel"`
	RoomID            int64  `json:"room_id"`
	RoomName          string `json:"room"`
	ReservationID     string `json:"reservation_id,omitempty"`
	GuestName         string `json:"guest,omitempty"`
	Phone             string `json:"phone,omitempty"`
	Template          string `json:"template,omitempty"`
	Status            Status `json:"status"`
	Reason            Reason `json:"reason,omitempty"`
	Message           string `json:"message,omitempty"`
	ProviderMessageID string `json:"provider_message_id,omitempty"`
}

type DispatchSummary struct {
	RunID   string           `json:"run_id"`
	Date    string           `json:"date"`
	Found   int              `json:"found"`
	Sent    int              `json:"sent"`
	Failed  int              `json:"failed"`
	Skipped int              `json:"skipped"`
	Results []DispatchRecord `json:"results"`
}

type BulkStatus string

const (
	BulkSuccess BulkStatus = "success"
	BulkFailure BulkStatus = "failure"
)

type BulkResult struct {
	Phone             string     `json:"phone"`
	Status            BulkStatus `json:"status"`
	Message           string     `json:"message"`
	ProviderMessageID string     `json:"provider_message_id,omitempty"`
}

type BulkSummary struct {
	JobID   string       `json:"job_id"`
	Sent    int          `json:"sent"`
	Failed  int          `json:"failed"`
	Results []BulkResult `json:"results"`
}

// BulkJob is one operator broadcast: phones keep input order and duplicates.
type BulkJob struct {
	Phones   []string
	Template string
	Language string
	Header   HeaderSpec
}
