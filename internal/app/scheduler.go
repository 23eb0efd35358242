package app

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"checkin_messenger/internal/adapters/observability"
	"checkin_messenger/internal/domain"
)

// Scheduler fires dispatch for rooms whose send_time has passed today.
// Each room completes at most once per local day; rooms whose calendar
// could not be read stay due and are retried on the next tick.
type Scheduler struct {
	Dispatch *DispatchService
	Messages *MessageQueryService // optional; history cache dropped after sends
	Loc      *time.Location
	Interval time.Duration
	Now      func() time.Time

	mu   sync.Mutex
	day  string
	done map[int64]struct{}
}

func (s *Scheduler) Run(ctx context.Context) error {
	if s.Interval <= 0 {
		s.Interval = time.Minute
	}
	t := time.NewTicker(s.Interval)
	defer t.Stop()

	// kick immediately
	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	sum, ran, err := s.Tick(ctx)
	if err != nil {
		log.Error().Err(err).Msg("scheduler: dispatch failed")
		return
	}
	if ran {
		log.Info().Str("date", sum.Date).Int("found", sum.Found).Int("sent", sum.Sent).
			Int("failed", sum.Failed).Msg("scheduler: dispatch done")
	}
}

// Tick runs one scheduling pass. ran is false when no room was due; such a
// pass only reads the registry.
func (s *Scheduler) Tick(ctx context.Context) (domain.DispatchSummary, bool, error) {
	local := s.now().In(s.loc())
	today := local.Format(domain.DateLayout)
	wall := wallClock(local)

	s.mu.Lock()
	if s.day != today || s.done == nil {
		s.day, s.done = today, map[int64]struct{}{}
	}
	s.mu.Unlock()

	opts := DispatchOptions{
		OnlyAutoSend: true,
		RoomFilter: func(r domain.Room, st domain.RoomSettings) bool {
			s.mu.Lock()
			_, handled := s.done[r.ID]
			s.mu.Unlock()
			if handled {
				return false
			}
			at, err := domain.ParseSendTime(st.SendTime)
			if err != nil {
				log.Warn().Err(err).Int64("room_id", r.ID).Msg("scheduler: bad send_time, room ignored")
				return false
			}
			return wall >= at
		},
	}

	jobs, err := s.Dispatch.snapshot(ctx, opts)
	if err != nil {
		observability.ObserveRun(FlowDispatch, "error")
		return domain.DispatchSummary{}, false, err
	}
	if len(jobs) == 0 {
		log.Debug().Str("date", today).Msg("scheduler: no room due")
		return domain.DispatchSummary{}, false, nil
	}

	sum, err := s.Dispatch.runJobs(ctx, today, jobs)

	retry := map[int64]struct{}{}
	for _, r := range sum.Results {
		if r.Reason == domain.ReasonCalendarError || r.Reason == domain.ReasonCanceled || r.Reason == domain.ReasonLedgerError {
			retry[r.RoomID] = struct{}{}
		}
	}
	s.mu.Lock()
	for _, j := range jobs {
		if _, again := retry[j.room.ID]; !again {
			s.done[j.room.ID] = struct{}{}
		}
	}
	s.mu.Unlock()

	if sum.Sent > 0 && s.Messages != nil {
		if ierr := s.Messages.Invalidate(context.WithoutCancel(ctx)); ierr != nil {
			log.Warn().Err(ierr).Msg("scheduler: message cache invalidation failed")
		}
	}
	return sum, true, err
}

// wallClock is the local time of day as shown on a clock. On DST change days
// it differs from the time elapsed since midnight.
func wallClock(t time.Time) time.Duration {
	return time.Duration(t.Hour())*time.Hour +
		time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second
}

func (s *Scheduler) loc() *time.Location {
	if s.Loc == nil {
		return time.UTC
	}
	return s.Loc
}

func (s *Scheduler) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
