package execution

import (
	"context"
	"time"

	"github.com/alexherrero/sherwood/backend/models"
)

// Reconciler periodically reads broker orders by client_order_id and
// re-applies any transitions the repository is missing, resolving the
// "submit succeeded at broker but persistence failed" partial-failure
// scenario. Only a transition the order state machine allows directly from
// the local status is applied; any other difference is skipped.
type Reconciler struct {
	engine   *Engine
	interval time.Duration
}

// NewReconciler builds a reconciler polling at interval.
func NewReconciler(engine *Engine, interval time.Duration) *Reconciler {
	return &Reconciler{engine: engine, interval: interval}
}

// Run blocks in a cancellable loop until ctx is canceled.
func (r *Reconciler) Run(ctx context.Context, accountID string) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.reconcileOnce(NewEngineContextWithTrace(ctx), accountID)
		}
	}
}

func (r *Reconciler) reconcileOnce(ctx context.Context, accountID string) {
	openOrders, err := r.engine.repo.GetOpenOrders(ctx, accountID)
	if err != nil {
		r.engine.log.Warn().Err(err).Msg("reconcile: failed to load open orders")
		return
	}
	if len(openOrders) == 0 {
		return
	}

	brokerOrders, err := r.engine.connector.GetOrders(ctx, "")
	if err != nil {
		r.engine.log.Warn().Err(err).Msg("reconcile: failed to load broker orders")
		return
	}
	byClientID := make(map[string]*models.Order, len(brokerOrders))
	for _, bo := range brokerOrders {
		if bo.ClientOrderID != "" {
			byClientID[bo.ClientOrderID] = bo
		}
	}

	for _, local := range openOrders {
		remote, ok := byClientID[local.ClientOrderID]
		if !ok {
			continue
		}
		if remote.Status == local.Status {
			continue
		}
		if !local.Status.CanTransition(remote.Status) {
			continue
		}
		fields := map[string]interface{}{
			"filled_quantity": remote.FilledQuantity,
		}
		if local.BrokerOrderID == "" && remote.BrokerOrderID != "" {
			fields["broker_order_id"] = remote.BrokerOrderID
		}
		if remote.Status.IsTerminal() {
			now := time.Now()
			fields["closed_at"] = now
		}
		if err := r.engine.transition(ctx, local, remote.Status, fields); err != nil {
			r.engine.log.Error().Err(err).Str("order_id", local.ID.String()).Msg("reconcile: failed to apply missed transition")
		}
	}
}
