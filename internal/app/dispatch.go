package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"checkin_messenger/internal/adapters/httpx"
	"checkin_messenger/internal/adapters/observability"
	"checkin_messenger/internal/domain"
)

const (
	FlowDispatch = "dispatch"
	FlowManual   = "manual"
	FlowBulk     = "bulk"
)

const confirmAttempts = 3

type DispatchConfig struct {
	Workers         int
	DefaultTemplate string
	Language        string
	CalendarTimeout time.Duration
	GatewayTimeout  time.Duration
}

func (c DispatchConfig) withDefaults() DispatchConfig {
	if c.Workers <= 0 {
		c.Workers = 8
	}
	if c.DefaultTemplate == "" {
		c.DefaultTemplate = "oberth"
	}
	if c.Language == "" {
		c.Language = "ro"
	}
	if c.CalendarTimeout <= 0 {
		c.CalendarTimeout = 10 * time.Second
	}
	if c.GatewayTimeout <= 0 {
		c.GatewayTimeout = 10 * time.Second
	}
	return c
}

// DispatchDeps wires the orchestrator. Messages and Publisher are optional.
type DispatchDeps struct {
	Registry  domain.RoomRegistry
	Calendar  domain.CalendarSource
	Gateway   domain.MessagingGateway
	Ledger    domain.Ledger
	Messages  domain.MessageLog
	Publisher domain.OutcomePublisher
}

type DispatchService struct {
	registry  domain.RoomRegistry
	calendar  domain.CalendarSource
	gateway   domain.MessagingGateway
	ledger    domain.Ledger
	messages  domain.MessageLog
	publisher domain.OutcomePublisher
	cfg       DispatchConfig
}

func NewDispatchService(d DispatchDeps, cfg DispatchConfig) *DispatchService {
	return &DispatchService{
		registry:  d.Registry,
		calendar:  d.Calendar,
		gateway:   d.Gateway,
		ledger:    d.Ledger,
		messages:  d.Messages,
		publisher: d.Publisher,
		cfg:       cfg.withDefaults(),
	}
}

// DispatchOptions narrows which rooms a run considers.
type DispatchOptions struct {
	OnlyAutoSend bool
	RoomFilter   func(domain.Room, domain.RoomSettings) bool
}

// roomJob is one room of the run's snapshot.
type roomJob struct {
	hotel    domain.Hotel
	room     domain.Room
	settings domain.RoomSettings
}

// RunDispatch sends one check-in message per reservation checking in on date.
// Only a failure to enumerate hotels/rooms is returned as an error without a
// summary. When ctx is canceled mid-run the partial summary is returned along
// with ctx.Err(); rooms and targets not started are recorded as canceled.
func (s *DispatchService) RunDispatch(ctx context.Context, date string, opts DispatchOptions) (domain.DispatchSummary, error) {
	if !validDate(date) {
		return domain.DispatchSummary{}, fmt.Errorf("%w: date %q must be YYYY-MM-DD", domain.ErrInvalidInput, date)
	}
	// 1) Snapshot hotels -> rooms -> settings before any send.
	jobs, err := s.snapshot(ctx, opts)
	if err != nil {
		observability.ObserveRun(FlowDispatch, "error")
		log.Error().Err(err).Str("flow", FlowDispatch).Str("date", date).Msg("enumeration failed")
		return domain.DispatchSummary{}, err
	}
	return s.runJobs(ctx, date, jobs)
}

// runJobs dispatches an already taken snapshot.
func (s *DispatchService) runJobs(ctx context.Context, date string, jobs []roomJob) (domain.DispatchSummary, error) {
	runID := uuid.NewString()
	lg := log.With().Str("run_id", runID).Str("flow", FlowDispatch).Str("date", date).Logger()
	lg.Info().Int("rooms", len(jobs)).Msg("dispatch run starting")

	// 2) Rooms in parallel, bounded; reservations within a room in feed order.
	perRoom := make([][]domain.DispatchRecord, len(jobs))
	sem := semaphore.NewWeighted(int64(s.cfg.Workers))
	var wg sync.WaitGroup
	for i, j := range jobs {
		if err := sem.Acquire(ctx, 1); err != nil {
			perRoom[i] = []domain.DispatchRecord{roomRecord(j, domain.StatusSkipped, domain.ReasonCanceled, "run canceled before room started")}
			continue
		}
		wg.Add(1)
		go func(i int, j roomJob) {
			defer wg.Done()
			defer sem.Release(1)
			perRoom[i] = s.processRoom(ctx, runID, date, j, lg)
		}(i, j)
	}
	wg.Wait()

	var recs []domain.DispatchRecord
	for _, rs := range perRoom {
		recs = append(recs, rs...)
	}
	sum := summarizeDispatch(runID, date, recs)

	lg.Info().Int("found", sum.Found).Int("sent", sum.Sent).Int("failed", sum.Failed).
		Int("skipped", sum.Skipped).Msg("dispatch run finished")
	if err := ctx.Err(); err != nil {
		observability.ObserveRun(FlowDispatch, "canceled")
		return sum, err
	}
	observability.ObserveRun(FlowDispatch, "ok")
	return sum, nil
}

func (s *DispatchService) snapshot(ctx context.Context, opts DispatchOptions) ([]roomJob, error) {
	hotels, err := s.registry.ListHotels(ctx)
	if err != nil {
		return nil, fmt.Errorf("list hotels: %w", err)
	}
	var jobs []roomJob
	for _, h := range hotels {
		rooms, err := s.registry.ListRooms(ctx, h.ID)
		if err != nil {
			return nil, fmt.Errorf("list rooms of hotel %d: %w", h.ID, err)
		}
		for _, r := range rooms {
			// no calendar: nothing to look up, not an error
			if strings.TrimSpace(r.CalendarURL) == "" {
				continue
			}
			st, err := s.registry.GetRoomSettings(ctx, r.ID)
			if err != nil {
				return nil, fmt.Errorf("settings of room %d: %w", r.ID, err)
			}
			if opts.OnlyAutoSend && !st.AutoSend {
				continue
			}
			if opts.RoomFilter != nil && !opts.RoomFilter(r, st) {
				continue
			}
			jobs = append(jobs, roomJob{hotel: h, room: r, settings: st})
		}
	}
	return jobs, nil
}

func (s *DispatchService) processRoom(ctx context.Context, runID, date string, j roomJob, lg zerolog.Logger) []domain.DispatchRecord {
	if ctx.Err() != nil {
		return []domain.DispatchRecord{roomRecord(j, domain.StatusSkipped, domain.ReasonCanceled, "run canceled before room started")}
	}
	rl := lg.With().Int64("hotel_id", j.hotel.ID).Int64("room_id", j.room.ID).Logger()

	events, err := s.fetchEvents(ctx, j.room.CalendarURL, date)
	if err != nil {
		rl.Warn().Err(err).Msg("calendar fetch failed, room skipped")
		observability.ObserveDispatchItem(FlowDispatch, string(domain.StatusSkipped))
		return []domain.DispatchRecord{roomRecord(j, domain.StatusSkipped, domain.ReasonCalendarError, "calendar fetch failed: "+err.Error())}
	}

	matches := FilterCheckins(events, date)
	if len(matches) == 0 {
		rl.Debug().Int("events", len(events)).Msg("no check-in on date")
		observability.ObserveDispatchItem(FlowDispatch, string(domain.StatusSkipped))
		return []domain.DispatchRecord{roomRecord(j, domain.StatusSkipped, domain.ReasonNoCheckin, domain.ErrNoCheckin.Error())}
	}

	out := make([]domain.DispatchRecord, 0, len(matches))
	for _, ev := range matches {
		t := domain.DispatchTarget{Hotel: j.hotel, Room: j.room, Settings: j.settings, Event: ev, Date: date}
		if ctx.Err() != nil {
			rec := targetRecord(t, "", "")
			rec.Status, rec.Reason, rec.Message = domain.StatusSkipped, domain.ReasonCanceled, "run canceled before send"
			out = append(out, rec)
			continue
		}
		out = append(out, s.dispatchTarget(ctx, runID, FlowDispatch, t, "", rl))
	}
	return out
}

func (s *DispatchService) fetchEvents(ctx context.Context, ref, date string) ([]domain.ReservationEvent, error) {
	cctx, cancel := context.WithTimeout(ctx, s.cfg.CalendarTimeout)
	defer cancel()
	return s.calendar.GetEvents(cctx, ref, date)
}

// dispatchTarget claims the target in the ledger, sends, and confirms the
// claim before returning. Once the claim is taken the remaining calls run on
// a context detached from run cancellation so an in-flight send completes and
// is recorded.
func (s *DispatchService) dispatchTarget(ctx context.Context, runID, flow string, t domain.DispatchTarget, templateOverride string, lg zerolog.Logger) domain.DispatchRecord {
	dest := strings.TrimSpace(t.Event.Phone)
	if dest == "" && t.Room.WhatsAppNumber != nil {
		dest = strings.TrimSpace(*t.Room.WhatsAppNumber)
	}
	tmpl := strings.TrimSpace(templateOverride)
	if tmpl == "" {
		tmpl = domain.EffectiveTemplate(t.Room, t.Settings, s.cfg.DefaultTemplate)
	}
	rec := targetRecord(t, dest, tmpl)
	il := lg.With().Str("reservation_id", t.Event.ReservationID).Logger()

	finish := func(r domain.DispatchRecord) domain.DispatchRecord {
		observability.ObserveDispatchItem(flow, string(r.Status))
		s.publish(ctx, runID, flow, r)
		return r
	}

	if dest == "" {
		il.Warn().Msg("no phone in reservation or room, skipped")
		rec.Status, rec.Reason, rec.Message = domain.StatusSkipped, domain.ReasonNoPhone, domain.ErrNoPhone.Error()
		return finish(rec)
	}

	key := t.Key()
	opCtx := context.WithoutCancel(ctx)
	token, ok, err := s.ledger.TryClaim(opCtx, key)
	if err != nil {
		il.Error().Err(err).Msg("ledger claim failed, not sending")
		rec.Status, rec.Reason, rec.Message = domain.StatusFailed, domain.ReasonLedgerError, "ledger unavailable: "+err.Error()
		return finish(rec)
	}
	if !ok {
		il.Info().Msg("already handled")
		rec.Status, rec.Reason, rec.Message = domain.StatusSkipped, domain.ReasonAlreadySent, "already handled"
		return finish(rec)
	}

	msg := domain.OutboundMessage{To: dest, Template: tmpl, Language: s.cfg.Language}
	if fn := t.Event.FirstName(); fn != "" {
		msg.Header = domain.NewTextHeader(fn)
	}
	sctx, cancel := context.WithTimeout(opCtx, s.cfg.GatewayTimeout)
	receipt, err := s.gateway.Send(sctx, msg)
	cancel()
	if err != nil {
		if rerr := s.ledger.Release(opCtx, key, token); rerr != nil {
			il.Error().Err(rerr).Msg("ledger release failed")
		}
		il.Warn().Err(err).Str("phone", dest).Msg("send failed")
		rec.Status, rec.Reason, rec.Message = domain.StatusFailed, domain.ReasonGatewayError, err.Error()
		return finish(rec)
	}
	// confirm before anything else touches this target
	if err := s.confirm(opCtx, key, token); err != nil {
		il.Error().Err(err).Msg("ledger confirm failed after successful send")
	}

	rec.Status = domain.StatusSent
	rec.ProviderMessageID = receipt.ProviderMessageID
	rec.Message = "message sent to " + dest
	il.Info().Str("phone", dest).Str("template", tmpl).Msg("check-in message sent")

	if s.messages != nil {
		err := s.messages.RecordSent(opCtx, domain.MessageRecord{
			HotelID:       t.Hotel.ID,
			RoomID:        t.Room.ID,
			ReservationID: t.Event.ReservationID,
			SentDate:      t.Date,
			TemplateName:  tmpl,
			Status:        string(domain.StatusSent),
			Content:       fmt.Sprintf("Template: %s, first name: %s", tmpl, t.Event.FirstName()),
		})
		if err != nil {
			il.Error().Err(err).Msg("message log write failed")
		}
	}
	return finish(rec)
}

// confirm marks a delivered target as sent, retrying transient ledger errors:
// an unconfirmed lease expires and the next run would send again.
func (s *DispatchService) confirm(ctx context.Context, k domain.DispatchKey, token string) error {
	var err error
	for i := 0; i < confirmAttempts; i++ {
		if err = s.ledger.MarkSent(ctx, k, token); err == nil {
			return nil
		}
		if i < confirmAttempts-1 && !httpx.SleepCtx(ctx, httpx.Backoff(i)) {
			break
		}
	}
	return err
}

func (s *DispatchService) publish(ctx context.Context, runID, flow string, r domain.DispatchRecord) {
	if s.publisher == nil {
		return
	}
	ev := domain.OutcomeEvent{
		RunID:         runID,
		Flow:          flow,
		HotelID:       r.HotelID,
		RoomID:        r.RoomID,
		ReservationID: r.ReservationID,
		Phone:         r.Phone,
		Template:      r.Template,
		Status:        string(r.Status),
		Message:       r.Message,
		At:            time.Now().UTC(),
	}
	if err := s.publisher.PublishOutcome(context.WithoutCancel(ctx), ev); err != nil {
		log.Warn().Err(err).Str("run_id", runID).Msg("publish outcome failed")
	}
}

// ManualRequest targets one room. With an empty ReservationID the room's
// calendar is consulted for the first check-in on Date.
type ManualRequest struct {
	RoomID        int64  `json:"room_id"`
	ReservationID string `json:"reservation_id"`
	GuestName     string `json:"guest_name"`
	Phone         string `json:"phone"`
	TemplateName  string `json:"template_name"`
	Date          string `json:"date"`
}

// SendManual dispatches a single caller-chosen target. It is subject to the
// same ledger check as RunDispatch.
func (s *DispatchService) SendManual(ctx context.Context, req ManualRequest) (domain.DispatchRecord, error) {
	if !validDate(req.Date) {
		return domain.DispatchRecord{}, fmt.Errorf("%w: date %q must be YYYY-MM-DD", domain.ErrInvalidInput, req.Date)
	}
	room, err := s.registry.GetRoom(ctx, req.RoomID)
	if err != nil {
		return domain.DispatchRecord{}, fmt.Errorf("room %d: %w", req.RoomID, err)
	}
	hotel, err := s.registry.GetHotelByID(ctx, room.HotelID)
	if err != nil {
		return domain.DispatchRecord{}, fmt.Errorf("hotel %d: %w", room.HotelID, err)
	}
	st, err := s.registry.GetRoomSettings(ctx, room.ID)
	if err != nil {
		return domain.DispatchRecord{}, fmt.Errorf("settings of room %d: %w", room.ID, err)
	}
	runID := uuid.NewString()
	lg := log.With().Str("run_id", runID).Str("flow", FlowManual).Int64("room_id", room.ID).Logger()
	j := roomJob{hotel: hotel, room: room, settings: st}

	ev := domain.ReservationEvent{
		ReservationID: strings.TrimSpace(req.ReservationID),
		GuestName:     strings.TrimSpace(req.GuestName),
		Phone:         strings.TrimSpace(req.Phone),
		CheckinDate:   req.Date,
	}
	if ev.ReservationID == "" {
		if strings.TrimSpace(room.CalendarURL) == "" {
			return domain.DispatchRecord{}, fmt.Errorf("%w: room %d has no calendar and no reservation was given", domain.ErrInvalidInput, room.ID)
		}
		events, err := s.fetchEvents(ctx, room.CalendarURL, req.Date)
		if err != nil {
			lg.Warn().Err(err).Msg("calendar fetch failed")
			observability.ObserveRun(FlowManual, "ok")
			return roomRecord(j, domain.StatusSkipped, domain.ReasonCalendarError, "calendar fetch failed: "+err.Error()), nil
		}
		matches := FilterCheckins(events, req.Date)
		if len(matches) == 0 {
			observability.ObserveRun(FlowManual, "ok")
			return roomRecord(j, domain.StatusSkipped, domain.ReasonNoCheckin, domain.ErrNoCheckin.Error()), nil
		}
		ev = matches[0]
		if p := strings.TrimSpace(req.Phone); p != "" {
			ev.Phone = p
		}
	}

	t := domain.DispatchTarget{Hotel: hotel, Room: room, Settings: st, Event: ev, Date: req.Date}
	rec := s.dispatchTarget(ctx, runID, FlowManual, t, req.TemplateName, lg)
	observability.ObserveRun(FlowManual, "ok")
	return rec, nil
}

// RoomCheckins lists the reservations of one room checking in on date.
func (s *DispatchService) RoomCheckins(ctx context.Context, roomID int64, date string) ([]domain.ReservationEvent, error) {
	if !validDate(date) {
		return nil, fmt.Errorf("%w: date %q must be YYYY-MM-DD", domain.ErrInvalidInput, date)
	}
	room, err := s.registry.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(room.CalendarURL) == "" {
		return []domain.ReservationEvent{}, nil
	}
	events, err := s.fetchEvents(ctx, room.CalendarURL, date)
	if err != nil {
		return nil, err
	}
	out := FilterCheckins(events, date)
	if out == nil {
		out = []domain.ReservationEvent{}
	}
	return out, nil
}

func roomRecord(j roomJob, st domain.Status, reason domain.Reason, msg string) domain.DispatchRecord {
	return domain.DispatchRecord{
		HotelID:   j.hotel.ID,
		HotelName: j.hotel.Name,
		RoomID:    j.room.ID,
		RoomName:  j.room.Name,
		Status:    st,
		Reason:    reason,
		Message:   msg,
	}
}

func targetRecord(t domain.DispatchTarget, dest, tmpl string) domain.DispatchRecord {
	return domain.DispatchRecord{
		HotelID:       t.Hotel.ID,
		HotelName:     t.Hotel.Name,
		RoomID:        t.Room.ID,
		RoomName:      t.Room.Name,
		ReservationID: t.Event.ReservationID,
		GuestName:     t.Event.GuestName,
		Phone:         dest,
		Template:      tmpl,
	}
}
