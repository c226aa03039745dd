package matcher

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// PairLedger remembers which demand/offer pairs have already been matched,
// so a pair is proposed at most once no matter how often either side is
// re-scanned.
type PairLedger interface {
	// Record marks the pair as matched and reports true when the pair was
	// not recorded before.
	Record(ctx context.Context, demandID, offerID uuid.UUID) (bool, error)
}

// MemoryLedger is an in-process PairLedger for single-node deployments.
type MemoryLedger struct {
	mu    sync.Mutex
	pairs map[string]time.Time
	ttl   time.Duration
}

// NewMemoryLedger creates a memory ledger. Entries older than ttl are
// dropped lazily on access; a zero ttl keeps them forever.
func NewMemoryLedger(ttl time.Duration) *MemoryLedger {
	return &MemoryLedger{
		pairs: make(map[string]time.Time),
		ttl:   ttl,
	}
}

// Record marks the pair as matched.
func (l *MemoryLedger) Record(_ context.Context, demandID, offerID uuid.UUID) (bool, error) {
	key := pairKey(demandID, offerID)
	now := time.Now().UTC()

	l.mu.Lock()
	defer l.mu.Unlock()

	if recordedAt, ok := l.pairs[key]; ok {
		if l.ttl <= 0 || now.Sub(recordedAt) < l.ttl {
			return false, nil
		}
	}

	l.pairs[key] = now
	return true, nil
}

// Len reports how many pairs are recorded.
func (l *MemoryLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pairs)
}

func pairKey(demandID, offerID uuid.UUID) string {
	return demandID.String() + ":" + offerID.String()
}
