package simulated

import (
	"context"
	"testing"

	"github.com/alexherrero/sherwood/backend/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	b := New("acct-1", decimal.NewFromInt(10000))
	assert.Equal(t, "simulated", b.Name())
	assert.False(t, b.IsConnected())

	acct, err := b.GetAccountInfo(context.Background())
	require.NoError(t, err)
	assert.True(t, acct.Balance.Equal(decimal.NewFromInt(10000)))
}

func TestConnect(t *testing.T) {
	b := New("acct-1", decimal.NewFromInt(10000))
	ctx := context.Background()

	assert.False(t, b.IsConnected())
	require.NoError(t, b.Connect(ctx))
	assert.True(t, b.IsConnected())
	require.NoError(t, b.Disconnect(ctx))
	assert.False(t, b.IsConnected())
}

func TestExecuteOrder_NotConnected(t *testing.T) {
	b := New("acct-1", decimal.NewFromInt(10000))
	order := &models.Order{
		ID:            uuid.New(),
		ClientOrderID: "c-1",
		Symbol:        "EURUSD",
		Side:          models.OrderSideBuy,
		Type:          models.OrderTypeMarket,
		Quantity:      decimal.NewFromFloat(0.1),
	}

	res, err := b.ExecuteOrder(context.Background(), order)
	require.Error(t, err)
	assert.False(t, res.OK)
}

func TestExecuteOrder_MarketBuyFillsInstantly(t *testing.T) {
	ctx := context.Background()
	b := New("acct-1", decimal.NewFromInt(10000))
	require.NoError(t, b.Connect(ctx))
	b.SetPrice("EURUSD", decimal.NewFromFloat(1.10))

	order := &models.Order{
		ID:            uuid.New(),
		ClientOrderID: "c-1",
		Symbol:        "EURUSD",
		Side:          models.OrderSideBuy,
		Type:          models.OrderTypeMarket,
		Quantity:      decimal.NewFromFloat(0.1),
	}

	res, err := b.ExecuteOrder(ctx, order)
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.True(t, res.Deal)
	assert.NotEmpty(t, res.BrokerOrderID)

	positions, err := b.GetPositions(ctx, "EURUSD")
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.True(t, positions[0].Quantity.Equal(decimal.NewFromFloat(0.1)))
}

func TestExecuteOrder_DuplicateClientOrderID(t *testing.T) {
	ctx := context.Background()
	b := New("acct-1", decimal.NewFromInt(10000))
	require.NoError(t, b.Connect(ctx))
	b.SetPrice("EURUSD", decimal.NewFromFloat(1.10))

	order := &models.Order{
		ID:            uuid.New(),
		ClientOrderID: "dup-1",
		Symbol:        "EURUSD",
		Side:          models.OrderSideBuy,
		Type:          models.OrderTypeMarket,
		Quantity:      decimal.NewFromFloat(0.1),
	}

	first, err := b.ExecuteOrder(ctx, order)
	require.NoError(t, err)
	require.False(t, first.Duplicate)

	second, err := b.ExecuteOrder(ctx, order)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.BrokerOrderID, second.BrokerOrderID)
}

func TestExecuteOrder_InsufficientBuyingPower(t *testing.T) {
	ctx := context.Background()
	b := New("acct-1", decimal.NewFromInt(100))
	require.NoError(t, b.Connect(ctx))
	b.SetPrice("EURUSD", decimal.NewFromFloat(1.10))

	order := &models.Order{
		ID:            uuid.New(),
		ClientOrderID: "c-2",
		Symbol:        "EURUSD",
		Side:          models.OrderSideBuy,
		Type:          models.OrderTypeMarket,
		Quantity:      decimal.NewFromFloat(1000),
	}

	res, err := b.ExecuteOrder(ctx, order)
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Contains(t, res.Error, "insufficient margin")
}
