package idempotency

import (
	"context"
	"sync"
	"time"
)

type memRecord struct {
	result    *Result
	createdAt time.Time
}

// MemLedger is the in-memory ledger used by tests.
type MemLedger struct {
	mu        sync.Mutex
	records   map[string]*memRecord
	Retention time.Duration
}

func NewMemLedger(retention time.Duration) *MemLedger {
	return &MemLedger{records: make(map[string]*memRecord), Retention: retention}
}

func (l *MemLedger) CheckAndReserve(ctx context.Context, key string) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if rec, ok := l.records[key]; ok {
		if rec.result != nil {
			return Decision{State: SeenCompleted, Result: rec.result}, nil
		}
		return Decision{State: SeenPending}, nil
	}
	l.records[key] = &memRecord{createdAt: time.Now().UTC()}
	return Decision{State: NotSeen}, nil
}

func (l *MemLedger) Complete(ctx context.Context, key string, r Result) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if rec, ok := l.records[key]; ok {
		cp := r
		rec.result = &cp
	}
	return nil
}

func (l *MemLedger) Forget(ctx context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if rec, ok := l.records[key]; ok && rec.result == nil {
		delete(l.records, key)
	}
	return nil
}

func (l *MemLedger) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for k, rec := range l.records {
		if now.Sub(rec.createdAt) > l.Retention {
			delete(l.records, k)
			n++
		}
	}
	return n, nil
}
