package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"talenttrade/backend/internal/models"
	apperrors "talenttrade/backend/pkg/errors"
	"talenttrade/backend/pkg/events"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendMessageRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	body := "  Héllo Bob, ready for the guitar lesson? 🎸  "

	before := time.Now()
	view, err := f.chat.SendMessage(ctx, f.alice, SendMessageRequest{ExchangeID: f.exchange.ID, Body: body})
	after := time.Now()
	require.NoError(t, err)

	assert.Equal(t, body, view.Body)
	assert.Equal(t, f.alice.ID, view.FromUser.ID)
	assert.Equal(t, "Alice", view.FromUser.Name)
	assert.Equal(t, f.bob.ID, view.ToUser)
	assert.Equal(t, models.MessageText, view.Type)

	history, err := f.chat.History(ctx, f.bob.ID, f.exchange.ID, 1, 50)
	require.NoError(t, err)
	require.Len(t, history, 1)
	got := history[0]
	assert.Equal(t, body, got.Body)
	assert.Equal(t, f.alice.ID, got.FromUser.ID)
	assert.Equal(t, f.bob.ID, got.ToUser)
	assert.False(t, got.CreatedAt.Before(before))
	assert.False(t, got.CreatedAt.After(after))

	ex, err := f.store.Exchanges.GetByID(ctx, f.exchange.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, ex.MessagesCount)
	assert.Equal(t, []string{events.SubjectMessageCreated}, f.publisher.subjects)
}

func TestSendMessageFansOut(t *testing.T) {
	f := newFixture(t)
	body := strings.Repeat("é", 60)

	_, err := f.chat.SendMessage(context.Background(), f.bob, SendMessageRequest{ExchangeID: f.exchange.ID, Body: body})
	require.NoError(t, err)

	news := f.emitter.named("message:new")
	require.Len(t, news, 1)
	assert.Equal(t, ExchangeRoom(f.exchange.ID), news[0].Room)
	assert.Empty(t, news[0].Except)

	notes := f.emitter.named("notification:new")
	require.Len(t, notes, 1)
	assert.Equal(t, UserRoom(f.alice.ID), notes[0].Room)
	n := notes[0].Payload.(MessageNotification)
	assert.Equal(t, "message", n.Type)
	assert.Equal(t, f.exchange.ID, n.ExchangeID)
	assert.Equal(t, "Bob", n.FromUser)
	assert.Equal(t, strings.Repeat("é", 50), n.Preview)
}

func TestSendMessageRejectsNonParty(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.chat.SendMessage(ctx, f.mallory, SendMessageRequest{ExchangeID: f.exchange.ID, Body: "hi"})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeAccessDenied))

	msgs, err := f.store.Messages.ListByExchange(ctx, f.exchange.ID, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.Empty(t, f.emitter.events)
}

func TestSendMessageRequiresActiveExchange(t *testing.T) {
	f := newFixture(t)

	for _, status := range []models.ExchangeStatus{models.ExchangePending, models.ExchangeCompleted, models.ExchangeDeclined} {
		ex := f.exchangeWith(t, status)
		_, err := f.chat.SendMessage(context.Background(), f.alice, SendMessageRequest{ExchangeID: ex.ID, Body: "hi"})
		assert.True(t, apperrors.HasCode(err, apperrors.CodeStateConflict), string(status))
	}
	assert.Empty(t, f.emitter.events)
}

func TestSendMessageValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := map[string]SendMessageRequest{
		"empty":       {ExchangeID: f.exchange.ID, Body: ""},
		"blank":       {ExchangeID: f.exchange.ID, Body: " \n\t "},
		"too long":    {ExchangeID: f.exchange.ID, Body: strings.Repeat("a", 1001)},
		"no exchange": {Body: "hi"},
	}
	for name, req := range cases {
		_, err := f.chat.SendMessage(ctx, f.alice, req)
		assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation), name)
	}

	_, err := f.chat.SendMessage(ctx, f.alice, SendMessageRequest{ExchangeID: f.exchange.ID, Body: strings.Repeat("a", 1000)})
	assert.NoError(t, err)
}

func TestSendMessageUnknownExchange(t *testing.T) {
	f := newFixture(t)

	_, err := f.chat.SendMessage(context.Background(), f.alice, SendMessageRequest{ExchangeID: "nope", Body: "hi"})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))
}

func TestSendMessageStoreFailuresBroadcastNothing(t *testing.T) {
	ctx := context.Background()

	t.Run("message write", func(t *testing.T) {
		f := newFixture(t)
		f.withFaults().fail("messages.Create")

		_, err := f.chat.SendMessage(ctx, f.alice, SendMessageRequest{ExchangeID: f.exchange.ID, Body: "hi"})
		require.Error(t, err)
		assert.True(t, apperrors.IsServerSide(err))
		assert.ErrorIs(t, err, errStoreDown)
		assert.Empty(t, f.emitter.events)
		assert.Zero(t, f.publisher.count())

		history, err := f.chat.History(ctx, f.alice.ID, f.exchange.ID, 1, 50)
		require.NoError(t, err)
		assert.Empty(t, history)
	})

	t.Run("counter write", func(t *testing.T) {
		f := newFixture(t)
		f.withFaults().fail("exchanges.RecordMessage")

		_, err := f.chat.SendMessage(ctx, f.alice, SendMessageRequest{ExchangeID: f.exchange.ID, Body: "hi"})
		require.Error(t, err)
		assert.True(t, apperrors.IsServerSide(err))
		assert.Empty(t, f.emitter.events)
		assert.Zero(t, f.publisher.count())

		// the stored message stays behind without its counter bump
		history, err := f.chat.History(ctx, f.alice.ID, f.exchange.ID, 1, 50)
		require.NoError(t, err)
		require.Len(t, history, 1)
		ex, err := f.store.Exchanges.GetByID(ctx, f.exchange.ID)
		require.NoError(t, err)
		assert.Zero(t, ex.MessagesCount)
	})
}

func TestHistoryPagesOldestFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := time.Now()

	for i := 0; i < 5; i++ {
		i := i
		f.chat.now = func() time.Time { return base.Add(time.Duration(i) * time.Second) }
		_, err := f.chat.SendMessage(ctx, f.alice, SendMessageRequest{ExchangeID: f.exchange.ID, Body: string(rune('a' + i))})
		require.NoError(t, err)
	}

	page1, err := f.chat.History(ctx, f.alice.ID, f.exchange.ID, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"d", "e"}, bodies(page1))

	page3, err := f.chat.History(ctx, f.alice.ID, f.exchange.ID, 3, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, bodies(page3))

	_, err = f.chat.History(ctx, f.mallory.ID, f.exchange.ID, 1, 2)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeAccessDenied))
}

func bodies(views []models.MessageView) []string {
	out := make([]string, len(views))
	for i, v := range views {
		out[i] = v.Body
	}
	return out
}
