package app

import (
	"context"
	"fmt"
	"time"

	"checkin_messenger/internal/domain"
)

// MessageQueryService serves the sent-message history with a read-through cache.
type MessageQueryService struct {
	log      domain.MessageLog
	cache    domain.Cache
	cacheTTL time.Duration
}

func NewMessageQueryService(l domain.MessageLog, c domain.Cache, ttl time.Duration) *MessageQueryService {
	return &MessageQueryService{log: l, cache: c, cacheTTL: ttl}
}

func (s *MessageQueryService) ListMessages(ctx context.Context, q domain.MessageQuery) ([]domain.MessageRecord, error) {
	key := "messages:" + queryKey(q)
	var out []domain.MessageRecord
	if s.cache != nil {
		if ok, _ := s.cache.Get(ctx, key, &out); ok {
			return out, nil
		}
	}
	rs, err := s.log.ListMessages(ctx, q)
	if err != nil {
		return nil, err
	}
	// copy so later mutation of the caller's slice can't leak into the cache
	out = make([]domain.MessageRecord, len(rs))
	copy(out, rs)
	if s.cache != nil {
		_ = s.cache.Set(ctx, key, out, int(s.cacheTTL.Seconds()))
	}
	return out, nil
}

func (s *MessageQueryService) Stats(ctx context.Context, q domain.MessageQuery) ([]domain.MessageStat, error) {
	key := "messages:stats:" + queryKey(q)
	var out []domain.MessageStat
	if s.cache != nil {
		if ok, _ := s.cache.Get(ctx, key, &out); ok {
			return out, nil
		}
	}
	out, err := s.log.MessageStats(ctx, q)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		_ = s.cache.Set(ctx, key, out, int(s.cacheTTL.Seconds()))
	}
	return out, nil
}

type prefixDeleter interface {
	DelPrefix(ctx context.Context, prefix string) error
}

// Invalidate drops cached history after new messages were logged. Caches that
// cannot delete by prefix are left to expire.
func (s *MessageQueryService) Invalidate(ctx context.Context) error {
	if pd, ok := s.cache.(prefixDeleter); ok {
		return pd.DelPrefix(ctx, "messages:")
	}
	return nil
}

func queryKey(q domain.MessageQuery) string {
	i := func(p *int64) string {
		if p == nil {
			return "*"
		}
		return fmt.Sprint(*p)
	}
	str := func(p *string) string {
		if p == nil {
			return "*"
		}
		return *p
	}
	return fmt.Sprintf("%s:%s:%s:%s", i(q.HotelID), i(q.RoomID), str(q.StartDate), str(q.EndDate))
}
