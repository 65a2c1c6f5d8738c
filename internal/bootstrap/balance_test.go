package bootstrap

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/spotmm/internal/domain"
	"github.com/betbot/spotmm/internal/ledger"
)

type fetcherFunc func(ctx context.Context) (*domain.AccountSnapshot, error)

func (f fetcherFunc) GetAccount(ctx context.Context) (*domain.AccountSnapshot, error) { return f(ctx) }

func TestSyncQuoteBalance(t *testing.T) {
	quote := ledger.NewQuoteAssetManager("USDT")
	quote.SyncFrom(decimal.NewFromInt(1))

	f := fetcherFunc(func(context.Context) (*domain.AccountSnapshot, error) {
		return &domain.AccountSnapshot{Balances: []domain.AssetBalance{
			{Asset: "BTC", Free: decimal.RequireFromString("0.5")},
			{Asset: "USDT", Free: decimal.RequireFromString("1234.5"), Locked: decimal.NewFromInt(10)},
		}}, nil
	})
	require.NoError(t, SyncQuoteBalance(t.Context(), f, quote))
	assert.True(t, quote.Balance().Equal(decimal.RequireFromString("1234.5")))
}

func TestSyncQuoteBalance_MissingAssetIsZero(t *testing.T) {
	quote := ledger.NewQuoteAssetManager("USDT")
	quote.SyncFrom(decimal.NewFromInt(99))

	f := fetcherFunc(func(context.Context) (*domain.AccountSnapshot, error) {
		return &domain.AccountSnapshot{}, nil
	})
	require.NoError(t, SyncQuoteBalance(t.Context(), f, quote))
	assert.True(t, quote.Balance().IsZero())
}

func TestSyncQuoteBalance_FetchError(t *testing.T) {
	quote := ledger.NewQuoteAssetManager("USDT")
	boom := errors.New("boom")

	err := SyncQuoteBalance(t.Context(), fetcherFunc(func(context.Context) (*domain.AccountSnapshot, error) {
		return nil, boom
	}), quote)
	require.ErrorIs(t, err, boom)

	err = SyncQuoteBalance(t.Context(), fetcherFunc(func(context.Context) (*domain.AccountSnapshot, error) {
		return nil, nil
	}), quote)
	require.Error(t, err)
}
