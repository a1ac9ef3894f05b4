package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"talenttrade/backend/internal/models"
	"talenttrade/backend/internal/repository"
	"talenttrade/backend/pkg/cache"
	"talenttrade/backend/pkg/jwt"
	"talenttrade/backend/pkg/logger"

	"github.com/stretchr/testify/require"
)

type emitted struct {
	Room    string
	Event   string
	Payload any
	Except  string
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []emitted
}

func (r *recordingEmitter) EmitToRoom(room, event string, payload any, except string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, emitted{room, event, payload, except})
}

func (r *recordingEmitter) named(event string) []emitted {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []emitted
	for _, e := range r.events {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

func (r *recordingEmitter) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

type recordingPublisher struct {
	mu       sync.Mutex
	subjects []string
}

func (p *recordingPublisher) Publish(_ context.Context, subject string, _ any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subjects = append(p.subjects, subject)
	return nil
}

func (p *recordingPublisher) Close() {}

type fixture struct {
	store     *repository.Store
	emitter   *recordingEmitter
	publisher *recordingPublisher
	identity  *IdentityService
	chat      *ChatService
	calls     *CallService
	typing    *TypingRelay
	tokens    *jwt.Service
	alice     *models.User
	bob       *models.User
	mallory   *models.User
	exchange  *models.Exchange
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	log := logger.Discard()

	f := &fixture{
		store:     repository.NewMemoryStore(),
		emitter:   &recordingEmitter{},
		publisher: &recordingPublisher{},
		tokens:    jwt.NewService("test-secret", time.Hour),
	}

	f.alice = &models.User{Name: "Alice", AvatarURL: "https://cdn.example/alice.png"}
	f.bob = &models.User{Name: "Bob"}
	f.mallory = &models.User{Name: "Mallory"}
	for _, u := range []*models.User{f.alice, f.bob, f.mallory} {
		require.NoError(t, f.store.Users.Create(ctx, u))
	}

	f.exchange = &models.Exchange{UserAID: f.alice.ID, UserBID: f.bob.ID, Status: models.ExchangeActive}
	require.NoError(t, f.store.Exchanges.Create(ctx, f.exchange))

	f.identity = NewIdentityService(f.store.Users, f.tokens, cache.New[models.User](cache.Options{TTL: time.Minute}), log)
	f.chat = NewChatService(f.store.Exchanges, f.store.Messages, f.identity, f.emitter, f.publisher,
		ChatConfig{MaxBodyLength: 1000, PreviewLength: 50}, log)
	f.calls = NewCallService(f.store.Exchanges, f.store.Calls, f.emitter, f.publisher, log)
	f.typing = NewTypingRelay(f.emitter)
	return f
}

func (f *fixture) exchangeWith(t *testing.T, status models.ExchangeStatus) *models.Exchange {
	t.Helper()
	ex := &models.Exchange{UserAID: f.alice.ID, UserBID: f.bob.ID, Status: status}
	require.NoError(t, f.store.Exchanges.Create(context.Background(), ex))
	return ex
}

var errStoreDown = errors.New("store unavailable")

// faults lists repository methods, as "repo.Method", that fail with errStoreDown
type faults struct {
	mu      sync.Mutex
	methods map[string]bool
}

func (f *faults) fail(methods ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range methods {
		f.methods[m] = true
	}
}

func (f *faults) check(method string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.methods[method] {
		return errStoreDown
	}
	return nil
}

type faultyExchanges struct {
	repository.ExchangeRepository
	faults *faults
}

func (r faultyExchanges) RecordMessage(ctx context.Context, id string, at time.Time) error {
	if err := r.faults.check("exchanges.RecordMessage"); err != nil {
		return err
	}
	return r.ExchangeRepository.RecordMessage(ctx, id, at)
}

type faultyMessages struct {
	repository.MessageRepository
	faults *faults
}

func (r faultyMessages) Create(ctx context.Context, message *models.Message) error {
	if err := r.faults.check("messages.Create"); err != nil {
		return err
	}
	return r.MessageRepository.Create(ctx, message)
}

type faultyCalls struct {
	repository.CallRepository
	faults *faults
}

func (r faultyCalls) Create(ctx context.Context, call *models.CallSession) error {
	if err := r.faults.check("calls.Create"); err != nil {
		return err
	}
	return r.CallRepository.Create(ctx, call)
}

func (r faultyCalls) GetByID(ctx context.Context, id string) (*models.CallSession, error) {
	if err := r.faults.check("calls.GetByID"); err != nil {
		return nil, err
	}
	return r.CallRepository.GetByID(ctx, id)
}

func (r faultyCalls) Transition(ctx context.Context, id string, from []models.CallStatus, update models.CallUpdate) (bool, error) {
	if err := r.faults.check("calls.Transition"); err != nil {
		return false, err
	}
	return r.CallRepository.Transition(ctx, id, from, update)
}

// withFaults rebuilds the chat and call services over repositories whose
// methods can be made to fail. Nothing fails until faults.fail is called.
func (f *fixture) withFaults() *faults {
	fs := &faults{methods: make(map[string]bool)}
	log := logger.Discard()
	exchanges := faultyExchanges{ExchangeRepository: f.store.Exchanges, faults: fs}

	f.chat = NewChatService(exchanges, faultyMessages{MessageRepository: f.store.Messages, faults: fs},
		f.identity, f.emitter, f.publisher, ChatConfig{MaxBodyLength: 1000, PreviewLength: 50}, log)
	f.calls = NewCallService(exchanges, faultyCalls{CallRepository: f.store.Calls, faults: fs},
		f.emitter, f.publisher, log)
	return fs
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subjects)
}
