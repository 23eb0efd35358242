package redisad

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"checkin_messenger/internal/adapters/observability"
	"checkin_messenger/internal/domain"
)

const (
	ledgerPrefix = "checkin:ledger:"
	sentMark     = "sent"
	leasePrefix  = "lease:"
)

// markSent confirms a send. It succeeds when the caller still holds the lease,
// when the lease already expired unclaimed, or when the key is already sent.
var markSent = redis.NewScript(`
local v = redis.call("GET", KEYS[1])
if v == false or v == ARGV[1] or v == "sent" then
  redis.call("SET", KEYS[1], "sent", "EX", ARGV[2])
  return 1
end
return 0
`)

var release = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// Ledger is the shared idempotency ledger. A claim is a lease key set with
// SET NX; a confirmed send replaces it with a "sent" marker kept for ttl.
type Ledger struct {
	c     *redis.Client
	lease time.Duration
	ttl   time.Duration
}

func NewLedger(c *redis.Client, lease, ttl time.Duration) *Ledger {
	if lease <= 0 {
		lease = time.Minute
	}
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}
	return &Ledger{c: c, lease: lease, ttl: ttl}
}

func ledgerKey(k domain.DispatchKey) string { return ledgerPrefix + k.String() }

func (l *Ledger) TryClaim(ctx context.Context, k domain.DispatchKey) (string, bool, error) {
	tok := uuid.NewString()
	ok, err := l.c.SetNX(ctx, ledgerKey(k), leasePrefix+tok, l.lease).Result()
	if err != nil {
		return "", false, fmt.Errorf("ledger claim %s: %w", k, err)
	}
	if !ok {
		observability.ObserveLedger("redis", "duplicate")
		return "", false, nil
	}
	observability.ObserveLedger("redis", "claim")
	return tok, true, nil
}

func (l *Ledger) MarkSent(ctx context.Context, k domain.DispatchKey, token string) error {
	n, err := markSent.Run(ctx, l.c, []string{ledgerKey(k)}, leasePrefix+token, int(l.ttl.Seconds())).Int()
	if err != nil {
		return fmt.Errorf("ledger confirm %s: %w", k, err)
	}
	if n == 0 {
		return fmt.Errorf("ledger confirm %s: lease held by another claimant", k)
	}
	observability.ObserveLedger("redis", "sent")
	return nil
}

func (l *Ledger) Release(ctx context.Context, k domain.DispatchKey, token string) error {
	if err := release.Run(ctx, l.c, []string{ledgerKey(k)}, leasePrefix+token).Err(); err != nil {
		return fmt.Errorf("ledger release %s: %w", k, err)
	}
	observability.ObserveLedger("redis", "release")
	return nil
}

// Sent reports whether k carries a confirmed send.
func (l *Ledger) Sent(ctx context.Context, k domain.DispatchKey) (bool, error) {
	v, err := l.c.Get(ctx, ledgerKey(k)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return v == sentMark, nil
}
