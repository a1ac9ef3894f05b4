package service

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"

	"talenttrade/backend/internal/models"
	apperrors "talenttrade/backend/pkg/errors"
	"talenttrade/backend/pkg/events"
	"talenttrade/backend/pkg/logger"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
)

// Emitter delivers an event to every connection in a room. Delivery is fire-and-forget.
// except names a connection id to skip; empty skips nobody.
type Emitter interface {
	EmitToRoom(room, event string, payload any, except string)
}

// UserRoom is the personal room of an identity
func UserRoom(userID string) string {
	return "user_" + userID
}

// ExchangeRoom is the shared room of an exchange
func ExchangeRoom(exchangeID string) string {
	return "exchange_" + exchangeID
}

var tracer = otel.Tracer("talenttrade/backend/internal/service")

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// validateStruct turns tag violations into a single Validation error naming the first bad field
func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return apperrors.Validation(verrs[0].Field() + " is invalid")
	}
	return apperrors.Validation("Invalid payload")
}

// publish hands an event to the broker and only logs failures
func publish(ctx context.Context, p events.Publisher, log *logger.Logger, subject string, payload any) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, subject, payload); err != nil {
		log.Warn("domain event not published", "subject", subject, "error", err.Error())
	}
}

// KeyedMutex serializes work per key. Entries are dropped once nobody holds or waits on them.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyedEntry)}
}

// Lock acquires key and returns its release func
func (k *KeyedMutex) Lock(key string) func() {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// Users resolves display identities for payloads
type Users interface {
	Lookup(ctx context.Context, userID string) (*models.User, error)
}
