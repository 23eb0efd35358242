package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"checkin_messenger/internal/domain"
)

type ledgerEntry struct {
	token    string
	sent     bool
	leasedAt time.Time
}

// MemoryLedger is a process-local ledger. It is enough for a single
// dispatcher process and for tests; multi-process setups use the Redis one.
type MemoryLedger struct {
	mu      sync.Mutex
	entries map[domain.DispatchKey]ledgerEntry
	lease   time.Duration
	now     func() time.Time
}

func NewMemoryLedger(lease time.Duration) *MemoryLedger {
	if lease <= 0 {
		lease = time.Minute
	}
	return &MemoryLedger{entries: map[domain.DispatchKey]ledgerEntry{}, lease: lease, now: time.Now}
}

func (l *MemoryLedger) TryClaim(_ context.Context, k domain.DispatchKey) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if e, ok := l.entries[k]; ok {
		if e.sent || now.Sub(e.leasedAt) < l.lease {
			return "", false, nil
		}
		// stale lease from a crashed attempt
	}
	tok := uuid.NewString()
	l.entries[k] = ledgerEntry{token: tok, leasedAt: now}
	return tok, true, nil
}

func (l *MemoryLedger) MarkSent(_ context.Context, k domain.DispatchKey, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[k]
	if !ok || e.token != token {
		return fmt.Errorf("ledger: lease for %s lost", k)
	}
	e.sent = true
	l.entries[k] = e
	return nil
}

func (l *MemoryLedger) Release(_ context.Context, k domain.DispatchKey, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.entries[k]; ok && !e.sent && e.token == token {
		delete(l.entries, k)
	}
	return nil
}

// Sent reports whether k has been confirmed.
func (l *MemoryLedger) Sent(k domain.DispatchKey) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.entries[k].sent
}

func (l *MemoryLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
