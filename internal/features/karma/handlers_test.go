package karma

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mymmrac/telego"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/karma-bot/internal/common"
	"serotonyl.ru/karma-bot/internal/delivery"
	"serotonyl.ru/karma-bot/internal/features/abuse"
	"serotonyl.ru/karma-bot/internal/features/ledger"
)

type recordingReplier struct {
	items []delivery.Item
}

func (r *recordingReplier) AddMessage(chatID int64, text string, opts ...delivery.Option) {
	it := delivery.Item{ChatID: chatID, Text: text}
	for _, opt := range opts {
		opt(&it)
	}
	r.items = append(r.items, it)
}

func (r *recordingReplier) last(t *testing.T) delivery.Item {
	t.Helper()
	require.NotEmpty(t, r.items)
	return r.items[len(r.items)-1]
}

func newHandlerFixture() (*fixture, *recordingReplier, *Handler) {
	f := newFixture()
	r := &recordingReplier{}
	h := NewHandler(f.svc, r, clockwork.NewFakeClockAt(t0), HandlerConfig{
		TopLimit:         10,
		HistoryLimit:     10,
		TransfersEnabled: true,
	})
	return f, r, h
}

func groupMessage(text string, reply bool) *telego.Message {
	msg := &telego.Message{
		MessageID: 42,
		Chat:      telego.Chat{ID: -100, Type: telego.ChatTypeSupergroup, Title: "Чат"},
		From:      &telego.User{ID: 1, Username: "alice", FirstName: "Alice"},
		Text:      text,
	}
	if reply {
		msg.ReplyToMessage = &telego.Message{
			MessageID: 41,
			Chat:      msg.Chat,
			From:      &telego.User{ID: 2, Username: "bob", FirstName: "Bob"},
			Text:      "держи ссылку",
		}
	}
	return msg
}

func TestHandler_HandleReaction(t *testing.T) {
	f, r, h := newHandlerFixture()
	f.ledger.grantFn = func(req ledger.GrantRequest) (int64, error) { return 15, nil }

	h.HandleReaction(context.Background(), groupMessage("+1", true), 1)

	item := r.last(t)
	assert.Equal(t, int64(-100), item.ChatID)
	assert.Equal(t, 42, item.ReplyToMessageID)
	assert.Equal(t, telego.ModeHTML, item.ParseMode)
	assert.Contains(t, item.Text, "<b>@alice</b> → <b>@bob</b> (+1)")
	assert.Contains(t, item.Text, "15")

	require.Len(t, f.ledger.grants, 1)
	assert.Equal(t, int64(41), f.ledger.grants[0].Context.MessageID)
	assert.Equal(t, "держи ссылку", f.ledger.grants[0].Context.Text)
}

func TestHandler_HandleReaction_Banned(t *testing.T) {
	f, r, h := newHandlerFixture()
	f.gate.decision = abuse.Decision{Verdict: abuse.Banned, BannedUntil: t0.Add(2*time.Hour + 5*time.Minute)}

	h.HandleReaction(context.Background(), groupMessage("+1", true), 1)

	assert.Contains(t, r.last(t).Text, "Осталось: 2 ч 5 мин")
}

func TestHandler_HandleReaction_Abuse(t *testing.T) {
	f, r, h := newHandlerFixture()
	f.gate.decision = abuse.Decision{Verdict: abuse.Burst}

	h.HandleReaction(context.Background(), groupMessage("+1", true), 1)

	text := r.last(t).Text
	assert.Contains(t, text, "одному участнику")
	assert.Contains(t, text, "теряют по 10 очков")
}

func TestHandler_InfraErrorIsGeneric(t *testing.T) {
	f, r, h := newHandlerFixture()
	f.gate.evalErr = errors.New("connection refused")

	h.HandleReaction(context.Background(), groupMessage("+1", true), 1)

	text := r.last(t).Text
	assert.Contains(t, text, "Что-то пошло не так")
	assert.NotContains(t, text, "connection refused")
}

func TestHandler_HandleKarma(t *testing.T) {
	f, r, h := newHandlerFixture()
	f.ledger.balance = &ledger.Balance{Karma: 21, GivenKarma: 4, GivenHate: 1}

	h.HandleKarma(context.Background(), groupMessage("!карма", false))

	text := r.last(t).Text
	assert.Contains(t, text, "21 очко")
	assert.Contains(t, text, "плюсов: 4")
	assert.Contains(t, text, "минусов: 1")
}

func TestHandler_HandleTop(t *testing.T) {
	f, r, h := newHandlerFixture()
	f.ledger.top = []ledger.LeaderboardRow{
		{Position: 1, Username: "bob", Karma: 1500},
		{Position: 2, FirstName: "<script>", Karma: 3},
	}

	h.HandleTop(context.Background(), groupMessage("!топ", false), nil, ledger.OrderDesc)

	text := r.last(t).Text
	assert.Contains(t, text, "1. @bob — 1 500")
	assert.Contains(t, text, "2. &lt;script&gt; — 3")
	assert.Equal(t, 10, f.ledger.topLimit)

	h.HandleTop(context.Background(), groupMessage("!антитоп 0", false), []string{"0"}, ledger.OrderAsc)
	assert.Zero(t, f.ledger.topLimit)
	assert.Contains(t, r.last(t).Text, "Антитоп")

	h.HandleTop(context.Background(), groupMessage("!топ abc", false), []string{"abc"}, ledger.OrderDesc)
	assert.Contains(t, r.last(t).Text, "числом")
}

func TestHandler_HandleHistory(t *testing.T) {
	f, r, h := newHandlerFixture()
	actorID := int64(7)
	f.ledger.history = []ledger.HistoryEntry{
		{Delta: 1, Reason: ledger.ReasonGrant, ActorUserID: &actorID, ActorUsername: "bob", CreatedAt: t0},
		{Delta: -10, Reason: ledger.ReasonPenalty, CreatedAt: t0},
	}

	h.HandleHistory(context.Background(), groupMessage("!история", false))

	text := r.last(t).Text
	assert.Contains(t, text, "+1 — @bob (реакция)")
	assert.Contains(t, text, "-10 — система (штраф)")
}

func TestHandler_HandleTransfer(t *testing.T) {
	f, r, h := newHandlerFixture()
	f.ledger.transferFn = func(req ledger.TransferRequest) (*ledger.TransferResult, error) {
		return &ledger.TransferResult{SenderBalance: 2, ReceiverBalance: 3}, nil
	}

	h.HandleTransfer(context.Background(), groupMessage("!отсыпать 3", true), []string{"3"})

	text := r.last(t).Text
	assert.Contains(t, text, "отсыпал")
	assert.Contains(t, text, "3 очка")
	require.Len(t, f.ledger.transfers, 1)
}

func TestHandler_HandleTransfer_Insufficient(t *testing.T) {
	f, r, h := newHandlerFixture()
	f.ledger.transferFn = func(req ledger.TransferRequest) (*ledger.TransferResult, error) {
		return nil, &ledger.InsufficientFundsError{Balance: 2}
	}

	h.HandleTransfer(context.Background(), groupMessage("!отсыпать 5", true), []string{"5"})

	assert.Contains(t, r.last(t).Text, "На балансе: 2 очка")
}

func TestHandler_HandleTransfer_UnknownUser(t *testing.T) {
	_, r, h := newHandlerFixture()

	h.HandleTransfer(context.Background(), groupMessage("!отсыпать @ghost 1", false), []string{"@ghost", "1"})

	assert.Contains(t, r.last(t).Text, common.ErrUserNotFound.Error())
}

func TestHandler_HandleTransfer_Disabled(t *testing.T) {
	f := newFixture()
	r := &recordingReplier{}
	h := NewHandler(f.svc, r, clockwork.NewFakeClockAt(t0), HandlerConfig{})

	h.HandleTransfer(context.Background(), groupMessage("!отсыпать 3", true), []string{"3"})

	assert.Empty(t, r.items)
	assert.Empty(t, f.ledger.transfers)
}

func TestParseTransferArgs(t *testing.T) {
	user, qty, err := parseTransferArgs([]string{"5"}, true)
	require.NoError(t, err)
	assert.Empty(t, user)
	assert.Equal(t, int64(5), qty)

	user, qty, err = parseTransferArgs([]string{"@bob", "2"}, false)
	require.NoError(t, err)
	assert.Equal(t, "@bob", user)
	assert.Equal(t, int64(2), qty)

	_, _, err = parseTransferArgs([]string{"bob", "2"}, false)
	assert.ErrorIs(t, err, errTransferUsage)

	_, _, err = parseTransferArgs([]string{"5"}, false)
	assert.ErrorIs(t, err, errTransferUsage)

	_, _, err = parseTransferArgs([]string{"много"}, true)
	assert.ErrorIs(t, err, errTransferUsage)

	_, _, err = parseTransferArgs([]string{"-3"}, true)
	assert.ErrorIs(t, err, common.ErrInvalidQuantity)
}
