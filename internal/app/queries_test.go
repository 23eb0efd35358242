package app_test

import (
	"context"
	"testing"
	"time"

	"checkin_messenger/internal/app"
	"checkin_messenger/internal/domain"
)

func TestListMessages_CacheMissThenHit(t *testing.T) {
	log := &fakeMessages{recs: []domain.MessageRecord{{ID: 1, HotelID: 1, RoomID: 10, SentDate: day, TemplateName: "oberth"}}}
	cache := &fakeCache{}
	q := app.NewMessageQueryService(log, cache, 5*time.Minute)

	hotel := int64(1)
	out, err := q.ListMessages(context.Background(), domain.MessageQuery{HotelID: &hotel})
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if len(out) != 1 || out[0].TemplateName != "oberth" {
		t.Fatalf("unexpected: %+v", out)
	}

	// served from cache
	log.recs[0].TemplateName = "SHOULD NOT SEE THIS"
	out, _ = q.ListMessages(context.Background(), domain.MessageQuery{HotelID: &hotel})
	if out[0].TemplateName != "oberth" {
		t.Fatalf("expected cached value, got %s", out[0].TemplateName)
	}

	// a different filter is a different key
	out, _ = q.ListMessages(context.Background(), domain.MessageQuery{})
	if out[0].TemplateName != "SHOULD NOT SEE THIS" {
		t.Fatalf("unfiltered query must not reuse filtered entry")
	}
}

func TestStats_WithoutCache(t *testing.T) {
	log := &fakeMessages{recs: make([]domain.MessageRecord, 3)}
	q := app.NewMessageQueryService(log, nil, 0)

	st, err := q.Stats(context.Background(), domain.MessageQuery{})
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if len(st) != 1 || st[0].TotalMessages != 3 {
		t.Fatalf("unexpected: %+v", st)
	}
}
