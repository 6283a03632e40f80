package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alexherrero/sherwood/backend/execution"
	"github.com/alexherrero/sherwood/backend/models"
	"github.com/google/uuid"
	"github.com/jpillora/backoff"
	"github.com/rs/zerolog"
)

// retryableBackoff mirrors the broker reconnector's shape: delays doubling
// from 200ms (jittered, capped at 2s) between withRetry's up to 3 attempts.
// withRetry retries every error except one wrapped in errStopRetry; it does
// not check whether an error is a transient busy/locked or connection error.
func retryableBackoff() *backoff.Backoff {
	return &backoff.Backoff{Min: 200 * time.Millisecond, Max: 2 * time.Second, Factor: 2, Jitter: true}
}

// errStopRetry wraps an error that withRetry should surface on the first
// attempt, for failures (constraint violations, bad input) that retrying
// will never resolve.
type errStopRetry struct{ err error }

func (e *errStopRetry) Error() string { return e.err.Error() }
func (e *errStopRetry) Unwrap() error { return e.err }

func withRetry(log zerolog.Logger, label string, fn func() error) error {
	b := retryableBackoff()
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		var stop *errStopRetry
		if errors.As(err, &stop) {
			return stop.err
		}
		log.Warn().Err(err).Str("op", label).Int("attempt", attempt+1).Msg("transient storage failure, retrying")
		time.Sleep(b.Duration())
	}
	return err
}

// Repository implements execution.Repository and risk.IncidentStore over
// the SQLite schema defined in database.go. Orders are addressed by
// client_order_id for idempotent insert, and mutated under an
// optimistic-concurrency version column.
type Repository struct {
	db  *DB
	log zerolog.Logger
}

// NewRepository builds a Repository.
func NewRepository(db *DB, log zerolog.Logger) *Repository {
	return &Repository{db: db, log: log}
}

var _ execution.Repository = (*Repository)(nil)

// SaveOrder inserts order if its client_order_id has not been seen before;
// otherwise it returns the existing row with created=false, making
// resubmission of the same client_order_id a no-op.
func (r *Repository) SaveOrder(ctx context.Context, order *models.Order) (*models.Order, bool, error) {
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	now := time.Now()
	order.CreatedAt, order.UpdatedAt = now, now
	order.Version = 1

	const insert = `
		INSERT INTO orders (
			id, client_order_id, account_id, strategy_id, model_id, symbol, side, type,
			quantity, filled_quantity, price, stop_price, limit_price, status,
			rejection_reason, broker_order_id, commission, swap, realized_profit,
			created_at, updated_at, opened_at, closed_at, version
		) VALUES (
			:id, :client_order_id, :account_id, :strategy_id, :model_id, :symbol, :side, :type,
			:quantity, :filled_quantity, :price, :stop_price, :limit_price, :status,
			:rejection_reason, :broker_order_id, :commission, :swap, :realized_profit,
			:created_at, :updated_at, :opened_at, :closed_at, :version
		)`

	err := withRetry(r.log, "SaveOrder", func() error {
		_, execErr := r.db.NamedExecContext(ctx, insert, order)
		if execErr != nil && isUniqueViolation(execErr) {
			return &errStopRetry{err: execErr}
		}
		return execErr
	})
	if err == nil {
		return order, true, nil
	}
	if !isUniqueViolation(err) {
		return nil, false, fmt.Errorf("insert order: %w", err)
	}

	existing, getErr := r.GetOrderByClientID(ctx, order.ClientOrderID)
	if getErr != nil {
		return nil, false, fmt.Errorf("load existing order after conflict: %w", getErr)
	}
	return existing, false, nil
}

// isUniqueViolation matches SQLite's unique-constraint error text; the
// sqlite driver does not expose a typed error for this.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return containsAny(msg, "UNIQUE constraint failed", "constraint failed: UNIQUE")
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if len(s) >= len(sub) {
			for i := 0; i+len(sub) <= len(s); i++ {
				if s[i:i+len(sub)] == sub {
					return true
				}
			}
		}
	}
	return false
}

// GetOrder retrieves an order by its internal id.
func (r *Repository) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	const query = `SELECT * FROM orders WHERE id = ?`
	if err := r.db.GetContext(ctx, &order, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, execution.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	return &order, nil
}

// GetOrderByClientID retrieves an order by its idempotency key.
func (r *Repository) GetOrderByClientID(ctx context.Context, clientOrderID string) (*models.Order, error) {
	var order models.Order
	const query = `SELECT * FROM orders WHERE client_order_id = ?`
	if err := r.db.GetContext(ctx, &order, query, clientOrderID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, execution.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order by client id: %w", err)
	}
	return &order, nil
}

// UpdateOrderStatus performs an optimistic-concurrency update: it reads the
// current version, then writes status and the mutable fields conditioned on
// that version, incrementing it by one. A zero rows-affected result after a
// successful read means a concurrent writer won the race, surfaced as
// ErrOrderNotFound to the caller (the retry/reconcile path re-reads).
func (r *Repository) UpdateOrderStatus(ctx context.Context, id string, newStatus models.OrderStatus, fields map[string]interface{}) error {
	current, err := r.GetOrder(ctx, id)
	if err != nil {
		return err
	}

	set := map[string]interface{}{
		"status":     string(newStatus),
		"updated_at": time.Now(),
	}
	for k, v := range fields {
		set[k] = v
	}

	columns := ""
	args := []interface{}{}
	for col, val := range set {
		columns += fmt.Sprintf("%s = ?, ", col)
		args = append(args, val)
	}
	columns += "version = version + 1"
	args = append(args, id, current.Version)

	query := fmt.Sprintf("UPDATE orders SET %s WHERE id = ? AND version = ?", columns)

	var result sql.Result
	err = withRetry(r.log, "UpdateOrderStatus", func() error {
		var execErr error
		result, execErr = r.db.ExecContext(ctx, query, args...)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("%w: version conflict on order %s", execution.ErrOrderNotFound, id)
	}
	return nil
}

// GetOpenOrders returns every non-terminal order for accountID.
func (r *Repository) GetOpenOrders(ctx context.Context, accountID string) ([]*models.Order, error) {
	const query = `
		SELECT * FROM orders
		WHERE account_id = ? AND status NOT IN ('FILLED', 'REJECTED', 'CANCELED', 'EXPIRED')
		ORDER BY created_at ASC`
	var orders []*models.Order
	if err := r.db.SelectContext(ctx, &orders, query, accountID); err != nil {
		return nil, fmt.Errorf("get open orders: %w", err)
	}
	return orders, nil
}

// SaveTrade records a fill against an order.
func (r *Repository) SaveTrade(ctx context.Context, trade *models.Trade) error {
	if trade.ID == uuid.Nil {
		trade.ID = uuid.New()
	}
	const insert = `
		INSERT INTO trades (id, order_id, symbol, side, quantity, price, commission, broker_trade_id, executed_at)
		VALUES (:id, :order_id, :symbol, :side, :quantity, :price, :commission, :broker_trade_id, :executed_at)`
	return withRetry(r.log, "SaveTrade", func() error {
		_, err := r.db.NamedExecContext(ctx, insert, trade)
		return err
	})
}

// GetPosition retrieves the open position for account+symbol, if any.
func (r *Repository) GetPosition(ctx context.Context, accountID, symbol string) (*models.Position, error) {
	var pos models.Position
	const query = `SELECT * FROM positions WHERE account_id = ? AND symbol = ? AND closed_at IS NULL`
	if err := r.db.GetContext(ctx, &pos, query, accountID, symbol); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get position: %w", err)
	}
	return &pos, nil
}

// GetOpenPositions returns every open position for accountID.
func (r *Repository) GetOpenPositions(ctx context.Context, accountID string) ([]*models.Position, error) {
	const query = `SELECT * FROM positions WHERE account_id = ? AND closed_at IS NULL`
	var positions []*models.Position
	if err := r.db.SelectContext(ctx, &positions, query, accountID); err != nil {
		return nil, fmt.Errorf("get open positions: %w", err)
	}
	return positions, nil
}

// UpsertPosition inserts a new open position or updates an existing one
// under optimistic concurrency, keyed by id.
func (r *Repository) UpsertPosition(ctx context.Context, pos *models.Position) error {
	if pos.ID == uuid.Nil {
		pos.ID = uuid.New()
		pos.Version = 1
		const insert = `
			INSERT INTO positions (id, account_id, symbol, side, quantity, entry_price, current_price, unrealized_pl, realized_pl, opened_at, closed_at, version)
			VALUES (:id, :account_id, :symbol, :side, :quantity, :entry_price, :current_price, :unrealized_pl, :realized_pl, :opened_at, :closed_at, :version)`
		return withRetry(r.log, "UpsertPosition/insert", func() error {
			_, err := r.db.NamedExecContext(ctx, insert, pos)
			return err
		})
	}

	const update = `
		UPDATE positions
		SET quantity = ?, current_price = ?, unrealized_pl = ?, realized_pl = ?, closed_at = ?, version = version + 1
		WHERE id = ? AND version = ?`
	var result sql.Result
	err := withRetry(r.log, "UpsertPosition/update", func() error {
		var execErr error
		result, execErr = r.db.ExecContext(ctx, update, pos.Quantity, pos.CurrentPrice, pos.UnrealizedPL, pos.RealizedPL, pos.ClosedAt, pos.ID, pos.Version)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("update position: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("position %s: version conflict", pos.ID)
	}
	pos.Version++
	return nil
}

// GetAccountState aggregates open positions into a coarse balance snapshot.
// Callers needing live broker equity/margin should prefer the broker
// connector's GetAccountInfo; this is the durable, last-known view.
func (r *Repository) GetAccountState(ctx context.Context, accountID string) (*models.Balance, error) {
	positions, err := r.GetOpenPositions(ctx, accountID)
	if err != nil {
		return nil, err
	}
	bal := &models.Balance{AccountID: accountID, UpdatedAt: time.Now()}
	for _, p := range positions {
		bal.PortfolioValue = bal.PortfolioValue.Add(p.Quantity.Mul(p.CurrentPrice))
	}
	return bal, nil
}

// SaveRiskIncident implements risk.IncidentStore.
func (r *Repository) SaveRiskIncident(ctx context.Context, incident *models.RiskIncident) error {
	if incident.ID == uuid.Nil {
		incident.ID = uuid.New()
	}
	if incident.Timestamp.IsZero() {
		incident.Timestamp = time.Now()
	}
	const insert = `
		INSERT INTO risk_incidents (id, rule_type, rule_params, observed, threshold, account_id, order_id, action_taken, triggered_by, timestamp)
		VALUES (:id, :rule_type, :rule_params, :observed, :threshold, :account_id, :order_id, :action_taken, :triggered_by, :timestamp)`
	return withRetry(r.log, "SaveRiskIncident", func() error {
		_, err := r.db.NamedExecContext(ctx, insert, incident)
		return err
	})
}

// AuditEntry is a single audit-log row.
type AuditEntry struct {
	ID           uuid.UUID `db:"id"`
	Actor        string    `db:"actor"`
	Action       string    `db:"action"`
	ResourceType string    `db:"resource_type"`
	ResourceID   string    `db:"resource_id"`
	Detail       string    `db:"detail"`
	IPAddress    string    `db:"ip_address"`
	Timestamp    time.Time `db:"timestamp"`
}

// SaveAuditLog persists a request-level audit entry; detail is pre-serialized
// by the caller (typically a JSON object of changed fields).
func (r *Repository) SaveAuditLog(ctx context.Context, entry *AuditEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	const insert = `
		INSERT INTO audit_log (id, actor, action, resource_type, resource_id, detail, ip_address, timestamp)
		VALUES (:id, :actor, :action, :resource_type, :resource_id, :detail, :ip_address, :timestamp)`
	return withRetry(r.log, "SaveAuditLog", func() error {
		_, err := r.db.NamedExecContext(ctx, insert, entry)
		return err
	})
}

// MarshalDetail is a small convenience for handlers building AuditEntry.Detail
// from an arbitrary payload.
func MarshalDetail(v interface{}) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(raw)
}
