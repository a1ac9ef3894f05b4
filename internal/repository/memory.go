package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"talenttrade/backend/internal/models"

	"github.com/samber/lo"
)

// NewMemoryStore returns process-local repositories for development and tests
func NewMemoryStore() *Store {
	m := &memory{
		users:     make(map[string]models.User),
		exchanges: make(map[string]models.Exchange),
		messages:  make(map[string][]models.Message),
		calls:     make(map[string]models.CallSession),
		now:       time.Now,
	}
	return &Store{
		Users:     memoryUsers{m},
		Exchanges: memoryExchanges{m},
		Messages:  memoryMessages{m},
		Calls:     memoryCalls{m},
	}
}

type memory struct {
	mu        sync.RWMutex
	users     map[string]models.User
	exchanges map[string]models.Exchange
	messages  map[string][]models.Message
	calls     map[string]models.CallSession
	now       func() time.Time
}

type memoryUsers struct{ m *memory }

func (r memoryUsers) GetByID(ctx context.Context, id string) (*models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()

	u, ok := r.m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (r memoryUsers) Create(ctx context.Context, user *models.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	user.EnsureID()
	if user.Role == "" {
		user.Role = models.RoleUser
	}
	now := r.m.now()
	user.CreatedAt, user.UpdatedAt = now, now

	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.users[user.ID] = *user
	return nil
}

type memoryExchanges struct{ m *memory }

func (r memoryExchanges) GetByID(ctx context.Context, id string) (*models.Exchange, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()

	e, ok := r.m.exchanges[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &e, nil
}

func (r memoryExchanges) Create(ctx context.Context, exchange *models.Exchange) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	exchange.EnsureID()
	now := r.m.now()
	exchange.CreatedAt, exchange.UpdatedAt = now, now
	if exchange.LastActivityAt.IsZero() {
		exchange.LastActivityAt = now
	}

	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.exchanges[exchange.ID] = *exchange
	return nil
}

func (r memoryExchanges) RecordMessage(ctx context.Context, id string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	e, ok := r.m.exchanges[id]
	if !ok {
		return ErrNotFound
	}
	e.MessagesCount++
	e.LastActivityAt = at
	e.UpdatedAt = r.m.now()
	r.m.exchanges[id] = e
	return nil
}

type memoryMessages struct{ m *memory }

func (r memoryMessages) Create(ctx context.Context, message *models.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	message.EnsureID()
	if message.CreatedAt.IsZero() {
		message.CreatedAt = r.m.now()
	}
	message.UpdatedAt = message.CreatedAt

	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.messages[message.ExchangeID] = append(r.m.messages[message.ExchangeID], *message)
	return nil
}

func (r memoryMessages) ListByExchange(ctx context.Context, exchangeID string, limit, offset int) ([]models.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.m.mu.RLock()
	all := lo.Reverse(append([]models.Message(nil), r.m.messages[exchangeID]...))
	r.m.mu.RUnlock()

	// insertion order already follows CreatedAt; the stable sort only guards injected timestamps
	sort.SliceStable(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	if offset >= len(all) {
		return []models.Message{}, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

type memoryCalls struct{ m *memory }

func (r memoryCalls) Create(ctx context.Context, call *models.CallSession) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	call.EnsureID()
	now := r.m.now()
	call.CreatedAt, call.UpdatedAt = now, now

	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.calls[call.ID] = *call
	return nil
}

func (r memoryCalls) GetByID(ctx context.Context, id string) (*models.CallSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()

	c, ok := r.m.calls[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (r memoryCalls) Transition(ctx context.Context, id string, from []models.CallStatus, update models.CallUpdate) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	c, ok := r.m.calls[id]
	if !ok {
		return false, ErrNotFound
	}
	if len(from) > 0 && !lo.Contains(from, c.Status) {
		return false, nil
	}

	c.Status = update.Status
	if update.EndedAt != nil {
		t := *update.EndedAt
		c.EndedAt = &t
	}
	if update.DurationSec != nil {
		c.DurationSec = *update.DurationSec
	}
	c.UpdatedAt = r.m.now()
	r.m.calls[id] = c
	return true, nil
}

func (r memoryCalls) ListActiveByParty(ctx context.Context, userID string) ([]models.CallSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()

	out := lo.Filter(lo.Values(r.m.calls), func(c models.CallSession, _ int) bool {
		return c.Status.Active() && c.HasParty(userID)
	})
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}
