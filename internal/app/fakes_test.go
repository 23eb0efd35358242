package app_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"checkin_messenger/internal/app"
	"checkin_messenger/internal/domain"
)

// ---- fakes ----

type fakeRegistry struct {
	hotels   []domain.Hotel
	rooms    map[int64][]domain.Room
	settings map[int64]domain.RoomSettings
	listErr  error
}

func (f *fakeRegistry) ListHotels(ctx context.Context) ([]domain.Hotel, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.hotels, nil
}

func (f *fakeRegistry) ListRooms(ctx context.Context, hotelID int64) ([]domain.Room, error) {
	return f.rooms[hotelID], nil
}

func (f *fakeRegistry) GetRoom(ctx context.Context, roomID int64) (domain.Room, error) {
	for _, rs := range f.rooms {
		for _, r := range rs {
			if r.ID == roomID {
				return r, nil
			}
		}
	}
	return domain.Room{}, domain.ErrNotFound
}

func (f *fakeRegistry) GetHotelByID(ctx context.Context, hotelID int64) (domain.Hotel, error) {
	for _, h := range f.hotels {
		if h.ID == hotelID {
			return h, nil
		}
	}
	return domain.Hotel{}, domain.ErrNotFound
}

func (f *fakeRegistry) GetRoomSettings(ctx context.Context, roomID int64) (domain.RoomSettings, error) {
	if st, ok := f.settings[roomID]; ok {
		return st, nil
	}
	return domain.DefaultRoomSettings(roomID), nil
}

type fakeCalendar struct {
	mu     sync.Mutex
	events map[string][]domain.ReservationEvent
	fail   map[string]error
	calls  []string
}

func (f *fakeCalendar) GetEvents(ctx context.Context, ref, date string) ([]domain.ReservationEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, ref)
	if err := f.fail[ref]; err != nil {
		return nil, err
	}
	return f.events[ref], nil
}

func (f *fakeCalendar) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeGateway struct {
	mu    sync.Mutex
	sent  []domain.OutboundMessage
	fail  map[string]bool // by destination
	block chan struct{}   // when set, Send waits on it
	seq   int
}

func (g *fakeGateway) Send(ctx context.Context, m domain.OutboundMessage) (domain.SendReceipt, error) {
	if g.block != nil {
		<-g.block
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sent = append(g.sent, m)
	if g.fail[m.To] {
		return domain.SendReceipt{}, errors.New("gateway: recipient rejected")
	}
	g.seq++
	return domain.SendReceipt{ProviderMessageID: fmt.Sprintf("wamid.%d", g.seq)}, nil
}

func (g *fakeGateway) calls() []domain.OutboundMessage {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]domain.OutboundMessage(nil), g.sent...)
}

func (g *fakeGateway) sentTo(to string) int {
	n := 0
	for _, m := range g.calls() {
		if m.To == to {
			n++
		}
	}
	return n
}

type fakeMessages struct {
	mu   sync.Mutex
	recs []domain.MessageRecord
}

func (f *fakeMessages) RecordSent(ctx context.Context, m domain.MessageRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recs = append(f.recs, m)
	return nil
}

func (f *fakeMessages) ListMessages(ctx context.Context, q domain.MessageQuery) ([]domain.MessageRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.MessageRecord(nil), f.recs...), nil
}

func (f *fakeMessages) MessageStats(ctx context.Context, q domain.MessageQuery) ([]domain.MessageStat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return []domain.MessageStat{{HotelID: 1, HotelName: "Oberth", TotalMessages: len(f.recs)}}, nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []domain.OutcomeEvent
}

func (p *fakePublisher) PublishOutcome(ctx context.Context, ev domain.OutcomeEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

type erroringLedger struct{}

func (erroringLedger) TryClaim(ctx context.Context, k domain.DispatchKey) (string, bool, error) {
	return "", false, errors.New("ledger down")
}
func (erroringLedger) MarkSent(ctx context.Context, k domain.DispatchKey, token string) error {
	return nil
}
func (erroringLedger) Release(ctx context.Context, k domain.DispatchKey, token string) error {
	return nil
}

// flakyConfirmLedger fails the first confirmFails MarkSent calls.
type flakyConfirmLedger struct {
	*app.MemoryLedger
	mu           sync.Mutex
	confirmFails int
	confirms     int
}

func (l *flakyConfirmLedger) MarkSent(ctx context.Context, k domain.DispatchKey, token string) error {
	l.mu.Lock()
	l.confirms++
	fail := l.confirms <= l.confirmFails
	l.mu.Unlock()
	if fail {
		return errors.New("ledger: connection reset")
	}
	return l.MemoryLedger.MarkSent(ctx, k, token)
}

type fakeCache struct {
	store    map[string]any
	prefixes []string
}

func (c *fakeCache) Get(ctx context.Context, key string, dst any) (bool, error) {
	v, ok := c.store[key]
	if !ok {
		return false, nil
	}
	switch d := dst.(type) {
	case *[]domain.MessageRecord:
		*d = v.([]domain.MessageRecord)
	case *[]domain.MessageStat:
		*d = v.([]domain.MessageStat)
	}
	return true, nil
}

func (c *fakeCache) Set(ctx context.Context, key string, v any, ttlSec int) error {
	if c.store == nil {
		c.store = map[string]any{}
	}
	c.store[key] = v
	return nil
}

func (c *fakeCache) Del(ctx context.Context, key string) error { return nil }

func (c *fakeCache) DelPrefix(ctx context.Context, prefix string) error {
	c.prefixes = append(c.prefixes, prefix)
	for k := range c.store {
		if strings.HasPrefix(k, prefix) {
			delete(c.store, k)
		}
	}
	return nil
}

func ptr[T any](v T) *T { return &v }
