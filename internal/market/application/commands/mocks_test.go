package commands

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	marketDomain "github.com/openagora/agora/internal/market/domain"
	sharedDomain "github.com/openagora/agora/internal/shared/domain"
	"github.com/openagora/agora/internal/shared/infrastructure/outbox"
)

// memorySubscriptionRepo is an in-memory marketDomain.SubscriptionRepository.
type memorySubscriptionRepo struct {
	mu   sync.RWMutex
	subs map[uuid.UUID]*marketDomain.Subscription
}

func newMemorySubscriptionRepo() *memorySubscriptionRepo {
	return &memorySubscriptionRepo{subs: make(map[uuid.UUID]*marketDomain.Subscription)}
}

func (r *memorySubscriptionRepo) Save(_ context.Context, sub *marketDomain.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs[sub.ID()] = sub
	return nil
}

func (r *memorySubscriptionRepo) FindByID(_ context.Context, id uuid.UUID) (*marketDomain.Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sub, ok := r.subs[id]
	if !ok {
		return nil, marketDomain.ErrSubscriptionNotFound
	}
	return sub, nil
}

func (r *memorySubscriptionRepo) FindActiveBySide(_ context.Context, side marketDomain.Side) ([]*marketDomain.Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*marketDomain.Subscription
	for _, sub := range r.subs {
		if sub.Side() == side && !sub.IsRemoved() {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (r *memorySubscriptionRepo) FindByOwner(_ context.Context, ownerKey string) ([]*marketDomain.Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*marketDomain.Subscription
	for _, sub := range r.subs {
		if sub.Owner().String() == ownerKey {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (r *memorySubscriptionRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subs, id)
	return nil
}

// memoryProposalRepo is an in-memory marketDomain.ProposalRepository.
type memoryProposalRepo struct {
	mu        sync.RWMutex
	proposals map[uuid.UUID]*marketDomain.Proposal
}

func newMemoryProposalRepo() *memoryProposalRepo {
	return &memoryProposalRepo{proposals: make(map[uuid.UUID]*marketDomain.Proposal)}
}

func (r *memoryProposalRepo) Save(_ context.Context, p *marketDomain.Proposal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.proposals[p.ID()] = p
	return nil
}

func (r *memoryProposalRepo) FindByID(_ context.Context, id uuid.UUID) (*marketDomain.Proposal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.proposals[id]
	if !ok {
		return nil, marketDomain.ErrProposalNotFound
	}
	return p, nil
}

func (r *memoryProposalRepo) FindBySubscription(_ context.Context, subscriptionID uuid.UUID) ([]*marketDomain.Proposal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*marketDomain.Proposal
	for _, p := range r.proposals {
		if p.SubscriptionID() == subscriptionID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *memoryProposalRepo) FindOpenBySubscription(_ context.Context, subscriptionID uuid.UUID) ([]*marketDomain.Proposal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*marketDomain.Proposal
	for _, p := range r.proposals {
		if p.SubscriptionID() == subscriptionID && !p.IsTerminal() {
			out = append(out, p)
		}
	}
	return out, nil
}

// mockOutboxRepo is a mock implementation of outbox.Repository.
type mockOutboxRepo struct {
	mock.Mock
}

func (m *mockOutboxRepo) Save(ctx context.Context, msg *outbox.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *mockOutboxRepo) SaveBatch(ctx context.Context, msgs []*outbox.Message) error {
	args := m.Called(ctx, msgs)
	return args.Error(0)
}

func (m *mockOutboxRepo) GetUnpublished(ctx context.Context, limit int) ([]*outbox.Message, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*outbox.Message), args.Error(1)
}

func (m *mockOutboxRepo) MarkPublished(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockOutboxRepo) MarkFailed(ctx context.Context, id int64, err string, nextRetryAt time.Time) error {
	args := m.Called(ctx, id, err, nextRetryAt)
	return args.Error(0)
}

func (m *mockOutboxRepo) MarkDead(ctx context.Context, id int64, reason string) error {
	args := m.Called(ctx, id, reason)
	return args.Error(0)
}

func (m *mockOutboxRepo) GetFailed(ctx context.Context, maxRetries, limit int) ([]*outbox.Message, error) {
	args := m.Called(ctx, maxRetries, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*outbox.Message), args.Error(1)
}

func (m *mockOutboxRepo) DeleteOld(ctx context.Context, olderThanDays int) (int64, error) {
	args := m.Called(ctx, olderThanDays)
	return args.Get(0).(int64), args.Error(1)
}

// noopUnitOfWork passes the context through without a real transaction.
type noopUnitOfWork struct{}

func (noopUnitOfWork) Begin(ctx context.Context) (context.Context, error) { return ctx, nil }
func (noopUnitOfWork) Commit(context.Context) error                       { return nil }
func (noopUnitOfWork) Rollback(context.Context) error                     { return nil }

// mockSender records remote proposal deliveries.
type mockSender struct {
	mock.Mock
}

func (m *mockSender) SendProposal(ctx context.Context, target sharedDomain.NodeKey, targetSubscriptionID uuid.UUID, proposal *marketDomain.Proposal, reason string) error {
	args := m.Called(ctx, target, targetSubscriptionID, proposal, reason)
	return args.Error(0)
}
