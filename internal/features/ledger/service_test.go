package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/karma-bot/internal/common"
)

type fakeStore struct {
	applyGrantFn    func(ctx context.Context, req GrantRequest) (int64, error)
	applyTransferFn func(ctx context.Context, req TransferRequest) (*TransferResult, error)
	getBalanceFn    func(ctx context.Context, userID, groupID int64) (*Balance, error)
	getHistoryFn    func(ctx context.Context, userID, groupID int64, limit int) ([]HistoryEntry, error)
	getTopFn        func(ctx context.Context, groupID int64, order Order, limit int) ([]LeaderboardRow, error)
}

func (f *fakeStore) ApplyGrant(ctx context.Context, req GrantRequest) (int64, error) {
	if f.applyGrantFn != nil {
		return f.applyGrantFn(ctx, req)
	}
	return 0, nil
}

func (f *fakeStore) ApplyTransfer(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	if f.applyTransferFn != nil {
		return f.applyTransferFn(ctx, req)
	}
	return &TransferResult{}, nil
}

func (f *fakeStore) GetBalance(ctx context.Context, userID, groupID int64) (*Balance, error) {
	if f.getBalanceFn != nil {
		return f.getBalanceFn(ctx, userID, groupID)
	}
	return nil, common.ErrBalanceNotFound
}

func (f *fakeStore) GetHistory(ctx context.Context, userID, groupID int64, limit int) ([]HistoryEntry, error) {
	if f.getHistoryFn != nil {
		return f.getHistoryFn(ctx, userID, groupID, limit)
	}
	return nil, nil
}

func (f *fakeStore) GetTop(ctx context.Context, groupID int64, order Order, limit int) ([]LeaderboardRow, error) {
	if f.getTopFn != nil {
		return f.getTopFn(ctx, groupID, order, limit)
	}
	return nil, nil
}

func TestGrant_ZeroDeltaRejected(t *testing.T) {
	called := false
	e := NewEngine(&fakeStore{applyGrantFn: func(ctx context.Context, req GrantRequest) (int64, error) {
		called = true
		return 0, nil
	}})

	_, err := e.Grant(context.Background(), GrantRequest{TargetID: 1, GroupID: 1})
	assert.ErrorIs(t, err, common.ErrInvalidDelta)
	assert.False(t, called)
}

func TestGrant_DefaultsReasonAndReturnsKarma(t *testing.T) {
	var got GrantRequest
	e := NewEngine(&fakeStore{applyGrantFn: func(ctx context.Context, req GrantRequest) (int64, error) {
		got = req
		return 42, nil
	}})

	karma, err := e.Grant(context.Background(), GrantRequest{
		Actor:    &Actor{UserID: 1},
		TargetID: 2,
		GroupID:  3,
		Delta:    1,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(42), karma)
	assert.Equal(t, ReasonGrant, got.Reason)
}

func TestGrant_PropagatesStoreError(t *testing.T) {
	dbErr := errors.New("connection refused")
	e := NewEngine(&fakeStore{applyGrantFn: func(ctx context.Context, req GrantRequest) (int64, error) {
		return 0, dbErr
	}})

	_, err := e.Grant(context.Background(), GrantRequest{TargetID: 2, GroupID: 3, Delta: -10, Reason: ReasonPenalty})
	assert.ErrorIs(t, err, dbErr)
}

func TestTransfer_Validation(t *testing.T) {
	e := NewEngine(&fakeStore{applyTransferFn: func(ctx context.Context, req TransferRequest) (*TransferResult, error) {
		t.Fatal("store must not be called")
		return nil, nil
	}})

	_, err := e.Transfer(context.Background(), TransferRequest{Sender: Actor{UserID: 1}, ReceiverID: 1, GroupID: 1, Quantity: 5})
	assert.ErrorIs(t, err, common.ErrSelfTransfer)

	_, err = e.Transfer(context.Background(), TransferRequest{Sender: Actor{UserID: 1}, ReceiverID: 2, GroupID: 1, Quantity: 0})
	assert.ErrorIs(t, err, common.ErrInvalidQuantity)

	_, err = e.Transfer(context.Background(), TransferRequest{Sender: Actor{UserID: 1}, ReceiverID: 2, GroupID: 1, Quantity: -3})
	assert.ErrorIs(t, err, common.ErrInvalidQuantity)
}

func TestTransfer_InsufficientFunds(t *testing.T) {
	e := NewEngine(&fakeStore{applyTransferFn: func(ctx context.Context, req TransferRequest) (*TransferResult, error) {
		return nil, &InsufficientFundsError{Balance: 2}
	}})

	_, err := e.Transfer(context.Background(), TransferRequest{Sender: Actor{UserID: 1}, ReceiverID: 2, GroupID: 1, Quantity: 5})
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrInsufficientFunds)

	var insufficient *InsufficientFundsError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, int64(2), insufficient.Balance)
}

func TestTransfer_OK(t *testing.T) {
	e := NewEngine(&fakeStore{applyTransferFn: func(ctx context.Context, req TransferRequest) (*TransferResult, error) {
		return &TransferResult{SenderBalance: 2, ReceiverBalance: 3}, nil
	}})

	res, err := e.Transfer(context.Background(), TransferRequest{Sender: Actor{UserID: 1}, ReceiverID: 2, GroupID: 1, Quantity: 3})
	require.NoError(t, err)
	assert.Equal(t, &TransferResult{SenderBalance: 2, ReceiverBalance: 3}, res)
}

func TestBalance_MissingIsZero(t *testing.T) {
	e := NewEngine(&fakeStore{})

	b, err := e.Balance(context.Background(), 7, 9)
	require.NoError(t, err)
	assert.Equal(t, int64(0), b.Karma)
	assert.Equal(t, int64(7), b.UserID)
}

func TestTop_NegativeLimitMeansAll(t *testing.T) {
	var gotLimit = -1
	e := NewEngine(&fakeStore{getTopFn: func(ctx context.Context, groupID int64, order Order, limit int) ([]LeaderboardRow, error) {
		gotLimit = limit
		return nil, nil
	}})

	_, err := e.Top(context.Background(), 1, OrderAsc, -5)
	require.NoError(t, err)
	assert.Equal(t, 0, gotLimit)
}

func TestInsufficientFundsError_Unwrap(t *testing.T) {
	err := error(&InsufficientFundsError{Balance: 0, Err: common.ErrBalanceNotFound})
	assert.ErrorIs(t, err, common.ErrInsufficientFunds)
	assert.ErrorIs(t, err, common.ErrBalanceNotFound)
	assert.Contains(t, err.Error(), "0")
}

func TestLeaderboardRow_DisplayName(t *testing.T) {
	assert.Equal(t, "@vasya", LeaderboardRow{Username: "vasya", FirstName: "Вася"}.DisplayName())
	assert.Equal(t, "Вася Пупкин", LeaderboardRow{FirstName: "Вася", LastName: "Пупкин"}.DisplayName())
}
