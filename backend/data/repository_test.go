package data

import (
	"testing"

	"github.com/alexherrero/sherwood/backend/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	return NewRepository(newTestDB(t), zerolog.Nop())
}

func testOrder(clientOrderID string) *models.Order {
	return &models.Order{
		ClientOrderID: clientOrderID,
		AccountID:     "acct-1",
		Symbol:        "EURUSD",
		Side:          models.OrderSideBuy,
		Type:          models.OrderTypeMarket,
		Quantity:      decimal.NewFromInt(1),
		Status:        models.OrderStatusPending,
	}
}

func TestSaveOrder_DuplicateClientOrderIDReturnsExistingWithoutRetrying(t *testing.T) {
	repo := newTestRepository(t)

	first, created, err := repo.SaveOrder(t.Context(), testOrder("idem-1"))
	require.NoError(t, err)
	require.True(t, created)

	second, created, err := repo.SaveOrder(t.Context(), testOrder("idem-1"))
	require.NoError(t, err)
	require.False(t, created, "resubmitting a seen client_order_id must not create a second row")
	require.Equal(t, first.ID, second.ID)
}

func TestSaveOrder_DistinctClientOrderIDsBothCreated(t *testing.T) {
	repo := newTestRepository(t)

	_, created, err := repo.SaveOrder(t.Context(), testOrder("idem-a"))
	require.NoError(t, err)
	require.True(t, created)

	_, created, err = repo.SaveOrder(t.Context(), testOrder("idem-b"))
	require.NoError(t, err)
	require.True(t, created)
}

func TestGetOpenOrders_ExcludesTerminalStatuses(t *testing.T) {
	repo := newTestRepository(t)

	open := testOrder("open-1")
	_, _, err := repo.SaveOrder(t.Context(), open)
	require.NoError(t, err)

	filled := testOrder("filled-1")
	_, _, err = repo.SaveOrder(t.Context(), filled)
	require.NoError(t, err)
	require.NoError(t, repo.UpdateOrderStatus(t.Context(), filled.ID.String(), models.OrderStatusValidated, nil))
	require.NoError(t, repo.UpdateOrderStatus(t.Context(), filled.ID.String(), models.OrderStatusSubmitted, nil))
	require.NoError(t, repo.UpdateOrderStatus(t.Context(), filled.ID.String(), models.OrderStatusFilled, nil))

	orders, err := repo.GetOpenOrders(t.Context(), "acct-1")
	require.NoError(t, err)
	ids := make([]uuid.UUID, 0, len(orders))
	for _, o := range orders {
		ids = append(ids, o.ID)
	}
	require.Contains(t, ids, open.ID)
	require.NotContains(t, ids, filled.ID)
}
