package execution

import (
	"context"
	"testing"
	"time"

	"github.com/alexherrero/sherwood/backend/broker"
	"github.com/alexherrero/sherwood/backend/models"
	"github.com/alexherrero/sherwood/backend/risk"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConnector embeds broker.Connector (nil) so only the methods the
// engine actually calls need overriding for a given test.
type fakeConnector struct {
	broker.Connector
	account       *models.AccountInfo
	positions     []*models.Position
	executeResult *broker.ExecutionResult
	executeErr    error
	orders        []*models.Order
}

func (f *fakeConnector) GetAccountInfo(ctx context.Context) (*models.AccountInfo, error) {
	return f.account, nil
}
func (f *fakeConnector) GetPositions(ctx context.Context, symbol string) ([]*models.Position, error) {
	return f.positions, nil
}
func (f *fakeConnector) ExecuteOrder(ctx context.Context, order *models.Order) (*broker.ExecutionResult, error) {
	return f.executeResult, f.executeErr
}
func (f *fakeConnector) CancelOrder(ctx context.Context, brokerOrderID string) error { return nil }
func (f *fakeConnector) GetOrders(ctx context.Context, symbol string) ([]*models.Order, error) {
	return f.orders, nil
}

type fakeRepo struct {
	orders map[string]*models.Order
}

func newFakeRepo() *fakeRepo { return &fakeRepo{orders: map[string]*models.Order{}} }

func (r *fakeRepo) SaveOrder(ctx context.Context, order *models.Order) (*models.Order, bool, error) {
	if existing, ok := r.orders[order.ClientOrderID]; ok {
		return existing, false, nil
	}
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	order.Version = 1
	r.orders[order.ClientOrderID] = order
	return order, true, nil
}

func (r *fakeRepo) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	for _, o := range r.orders {
		if o.ID.String() == id {
			return o, nil
		}
	}
	return nil, ErrOrderNotFound
}

func (r *fakeRepo) UpdateOrderStatus(ctx context.Context, id string, newStatus models.OrderStatus, fields map[string]interface{}) error {
	o, err := r.GetOrder(ctx, id)
	if err != nil {
		return err
	}
	o.Status = newStatus
	o.Version++
	if v, ok := fields["broker_order_id"]; ok {
		o.BrokerOrderID = v.(string)
	}
	if v, ok := fields["filled_quantity"]; ok {
		o.FilledQuantity = v.(decimal.Decimal)
	}
	if v, ok := fields["rejection_reason"]; ok {
		o.RejectionReason = v.(string)
	}
	return nil
}

func (r *fakeRepo) GetOpenOrders(ctx context.Context, accountID string) ([]*models.Order, error) {
	var out []*models.Order
	for _, o := range r.orders {
		if !o.Status.IsTerminal() {
			out = append(out, o)
		}
	}
	return out, nil
}

type fakeRiskChecker struct {
	approval risk.Approval
}

func (f *fakeRiskChecker) PreTradeCheck(ctx context.Context, order *models.Order, account *models.AccountInfo, positions []*models.Position) (risk.Approval, error) {
	return f.approval, nil
}

func newOrder(clientID string) *models.Order {
	return &models.Order{
		ClientOrderID: clientID,
		AccountID:     "acct-1",
		Symbol:        "EURUSD",
		Side:          models.OrderSideBuy,
		Type:          models.OrderTypeMarket,
		Quantity:      decimal.NewFromFloat(0.1),
		Status:        models.OrderStatusPending,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
}

func TestSubmit_FillsOnDeal(t *testing.T) {
	conn := &fakeConnector{
		account:   &models.AccountInfo{AccountID: "acct-1", Equity: decimal.NewFromInt(10000), FreeMargin: decimal.NewFromInt(10000)},
		positions: nil,
		executeResult: &broker.ExecutionResult{
			OK: true, Retcode: broker.RetcodeRequestOrderClosed, BrokerOrderID: "sim-1", Deal: true,
		},
	}
	repo := newFakeRepo()
	riskChecker := &fakeRiskChecker{approval: risk.Approval{Approved: true}}
	events := NewEventBus(16, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go events.Run(ctx)

	engine := NewEngine(conn, riskChecker, repo, events, zerolog.Nop())
	order := newOrder("c-1")

	result, err := engine.Submit(context.Background(), order)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusFilled, result.Status)
	assert.True(t, result.FilledQuantity.Equal(order.Quantity))
}

func TestSubmit_RejectedOnBrokerError(t *testing.T) {
	conn := &fakeConnector{
		account: &models.AccountInfo{AccountID: "acct-1", Equity: decimal.NewFromInt(10000), FreeMargin: decimal.NewFromInt(10000)},
		executeResult: &broker.ExecutionResult{
			OK: false, Error: "insufficient margin",
		},
	}
	repo := newFakeRepo()
	riskChecker := &fakeRiskChecker{approval: risk.Approval{Approved: true}}
	events := NewEventBus(16, zerolog.Nop())

	engine := NewEngine(conn, riskChecker, repo, events, zerolog.Nop())
	order := newOrder("c-2")

	result, err := engine.Submit(context.Background(), order)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusRejected, result.Status)
	assert.Equal(t, "insufficient margin", result.RejectionReason)
}

func TestSubmit_RejectedOnRiskDenial(t *testing.T) {
	conn := &fakeConnector{
		account: &models.AccountInfo{AccountID: "acct-1", Equity: decimal.NewFromInt(10000), FreeMargin: decimal.NewFromInt(10000)},
	}
	repo := newFakeRepo()
	riskChecker := &fakeRiskChecker{approval: risk.Approval{Approved: false, Reason: "Kill switch active"}}
	events := NewEventBus(16, zerolog.Nop())

	engine := NewEngine(conn, riskChecker, repo, events, zerolog.Nop())
	order := newOrder("c-3")

	result, err := engine.Submit(context.Background(), order)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusRejected, result.Status)
	assert.Equal(t, "Kill switch active", result.RejectionReason)
}

func TestSubmit_DuplicateClientOrderID(t *testing.T) {
	conn := &fakeConnector{
		account: &models.AccountInfo{AccountID: "acct-1", Equity: decimal.NewFromInt(10000), FreeMargin: decimal.NewFromInt(10000)},
		executeResult: &broker.ExecutionResult{
			OK: true, Retcode: broker.RetcodeRequestOrderClosed, BrokerOrderID: "sim-1", Deal: true,
		},
	}
	repo := newFakeRepo()
	riskChecker := &fakeRiskChecker{approval: risk.Approval{Approved: true}}
	events := NewEventBus(16, zerolog.Nop())

	engine := NewEngine(conn, riskChecker, repo, events, zerolog.Nop())
	order1 := newOrder("dup-1")
	order2 := newOrder("dup-1")

	first, err := engine.Submit(context.Background(), order1)
	require.NoError(t, err)
	second, err := engine.Submit(context.Background(), order2)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestCancel_InvalidFromTerminal(t *testing.T) {
	repo := newFakeRepo()
	order := newOrder("c-4")
	order.ID = uuid.New()
	order.Status = models.OrderStatusFilled
	repo.orders[order.ClientOrderID] = order

	engine := NewEngine(&fakeConnector{}, &fakeRiskChecker{}, repo, NewEventBus(8, zerolog.Nop()), zerolog.Nop())
	err := engine.Cancel(context.Background(), order.ID.String())
	assert.ErrorIs(t, err, ErrNotCancelable)
}
