// Package execution orchestrates the order lifecycle: it enforces the
// order state machine, drives risk check -> broker submit -> persistence,
// and emits lifecycle events for the fan-out layer to forward.
package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alexherrero/sherwood/backend/broker"
	"github.com/alexherrero/sherwood/backend/models"
	"github.com/alexherrero/sherwood/backend/risk"
	"github.com/rs/zerolog"
)

// cancelableFrom lists the non-terminal statuses from which an order may
// still be canceled; the full transition matrix itself lives on
// models.OrderStatus.
var cancelableFrom = map[models.OrderStatus]bool{
	models.OrderStatusPending:   true,
	models.OrderStatusValidated: true,
	models.OrderStatusSubmitted: true,
	models.OrderStatusPartial:   true,
}

// Repository is the persistence surface the execution engine depends on;
// satisfied by backend/data.Repository.
type Repository interface {
	SaveOrder(ctx context.Context, order *models.Order) (*models.Order, bool, error)
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	UpdateOrderStatus(ctx context.Context, id string, newStatus models.OrderStatus, fields map[string]interface{}) error
	GetOpenOrders(ctx context.Context, accountID string) ([]*models.Order, error)
}

// RiskChecker is the narrow risk-engine surface the execution engine
// depends on.
type RiskChecker interface {
	PreTradeCheck(ctx context.Context, order *models.Order, account *models.AccountInfo, positions []*models.Position) (risk.Approval, error)
}

// Engine drives orders through the state machine: validate -> risk check
// -> broker submit -> persist -> emit.
type Engine struct {
	connector broker.Connector
	risk      RiskChecker
	repo      Repository
	events    *EventBus
	log       zerolog.Logger

	// mu serializes Submit per engine instance to guarantee atomic
	// precondition-read + transition; different instances coordinate
	// through the repository's optimistic version.
	mu sync.Mutex
}

// NewEngine constructs an execution engine. riskChecker may be nil and
// supplied later via SetRiskChecker, since risk.NewEngine itself depends
// on this Engine as its OrderCancelingCapability.
func NewEngine(connector broker.Connector, riskChecker RiskChecker, repo Repository, events *EventBus, log zerolog.Logger) *Engine {
	return &Engine{connector: connector, risk: riskChecker, repo: repo, events: events, log: log}
}

// SetRiskChecker wires the risk engine after construction, breaking the
// Engine <-> risk.Engine initialization cycle (risk.NewEngine takes this
// Engine as its OrderCancelingCapability). Call once during startup wiring,
// before Submit is ever invoked.
func (e *Engine) SetRiskChecker(riskChecker RiskChecker) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.risk = riskChecker
}

// Submit runs an order through validate -> risk check -> broker submit ->
// persist.
func (e *Engine) Submit(ctx context.Context, order *models.Order) (*models.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if order.Status != models.OrderStatusPending {
		return nil, fmt.Errorf("%w: order must start PENDING", ErrInvalidTransition)
	}
	if order.Quantity.Sign() <= 0 {
		order.Status = models.OrderStatusRejected
		order.RejectionReason = ErrQuantityNotPositive.Error()
		return order, nil
	}

	saved, created, err := e.repo.SaveOrder(ctx, order)
	if err != nil {
		return nil, fmt.Errorf("persist order: %w", err)
	}
	if !created {
		// Idempotent resubmission by client_order_id: return the
		// existing row unchanged.
		return saved, nil
	}
	order = saved
	e.events.Emit(ctx, EventOrderCreated, order)

	e.log.Info().
		Str("order_id", order.ID.String()).
		Str("symbol", order.Symbol).
		Str("side", string(order.Side)).
		Str("type", string(order.Type)).
		Str("quantity", order.Quantity.String()).
		Str("user_ip", auditIPFromCtx(ctx)).
		Str("api_key_id", auditKeyIDFromCtx(ctx)).
		Msg("order submitted")

	account, err := e.connector.GetAccountInfo(ctx)
	if err != nil {
		return e.reject(ctx, order, fmt.Sprintf("broker unavailable: %v", err))
	}
	positions, err := e.connector.GetPositions(ctx, order.Symbol)
	if err != nil {
		return e.reject(ctx, order, fmt.Sprintf("broker unavailable: %v", err))
	}

	approval, err := e.risk.PreTradeCheck(ctx, order, account, positions)
	if err != nil {
		return nil, fmt.Errorf("risk check: %w", err)
	}
	if !approval.Approved {
		return e.reject(ctx, order, approval.Reason)
	}

	if err := e.transition(ctx, order, models.OrderStatusValidated, nil); err != nil {
		return nil, err
	}

	result, err := e.connector.ExecuteOrder(ctx, order)
	if err != nil || result == nil || !result.OK {
		reason := "broker unavailable"
		if result != nil && result.Error != "" {
			reason = result.Error
		} else if err != nil {
			reason = err.Error()
		}
		return e.reject(ctx, order, reason)
	}

	now := time.Now()
	fields := map[string]interface{}{
		"broker_order_id": result.BrokerOrderID,
		"opened_at":       now,
	}
	if err := e.transition(ctx, order, models.OrderStatusSubmitted, fields); err != nil {
		return nil, err
	}

	if result.Deal {
		fillFields := map[string]interface{}{
			"filled_quantity": order.Quantity,
			"closed_at":       time.Now(),
		}
		if err := e.transition(ctx, order, models.OrderStatusFilled, fillFields); err != nil {
			return nil, err
		}
		e.events.Emit(ctx, EventOrderFilled, order)
	}

	return order, nil
}

// reject transitions order to REJECTED; transition itself emits both
// order_updated and order_rejected.
func (e *Engine) reject(ctx context.Context, order *models.Order, reason string) (*models.Order, error) {
	order.RejectionReason = reason
	if err := e.transition(ctx, order, models.OrderStatusRejected, map[string]interface{}{"rejection_reason": reason}); err != nil {
		return nil, err
	}
	return order, nil
}

// Cancel cancels an order; legal only from PENDING, VALIDATED, SUBMITTED,
// PARTIAL.
func (e *Engine) Cancel(ctx context.Context, orderID string) error {
	order, err := e.repo.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if !cancelableFrom[order.Status] {
		return ErrNotCancelable
	}
	if order.BrokerOrderID != "" {
		if err := e.connector.CancelOrder(ctx, order.BrokerOrderID); err != nil {
			return fmt.Errorf("broker cancel: %w", err)
		}
	}
	if err := e.transition(ctx, order, models.OrderStatusCanceled, nil); err != nil {
		return err
	}
	e.events.Emit(ctx, EventOrderCanceled, order)
	return nil
}

// CancelAllOrders implements risk.OrderCancelingCapability, used by the
// risk engine's kill switch.
func (e *Engine) CancelAllOrders(ctx context.Context, accountID string) error {
	orders, err := e.repo.GetOpenOrders(ctx, accountID)
	if err != nil {
		return err
	}
	var firstErr error
	for _, order := range orders {
		if err := e.Cancel(ctx, order.ID.String()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// UpdateStatus validates the transition, updates mutable fields, persists
// (incrementing version), and emits order_updated (and order_rejected for
// REJECTED transitions).
func (e *Engine) UpdateStatus(ctx context.Context, orderID string, newStatus models.OrderStatus, fields map[string]interface{}) error {
	order, err := e.repo.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	return e.transition(ctx, order, newStatus, fields)
}

func (e *Engine) transition(ctx context.Context, order *models.Order, newStatus models.OrderStatus, fields map[string]interface{}) error {
	if order.Status.IsTerminal() {
		return ErrOrderTerminal
	}
	if !order.Status.CanTransition(newStatus) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, order.Status, newStatus)
	}
	if err := e.repo.UpdateOrderStatus(ctx, order.ID.String(), newStatus, fields); err != nil {
		return fmt.Errorf("persist transition: %w", err)
	}
	order.Status = newStatus
	order.UpdatedAt = time.Now()
	e.events.Emit(ctx, EventOrderUpdated, order)
	if newStatus == models.OrderStatusRejected {
		e.events.Emit(ctx, EventOrderRejected, order)
	}
	return nil
}
