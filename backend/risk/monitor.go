package risk

import (
	"context"
	"time"

	"github.com/alexherrero/sherwood/backend/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PositionReader is the narrow connector surface the monitor needs to read
// the live book.
type PositionReader interface {
	GetPositions(ctx context.Context, symbol string) ([]*models.Position, error)
	GetAccountInfo(ctx context.Context) (*models.AccountInfo, error)
}

// Monitor periodically inspects open positions, updates the daily-loss
// accumulator, and enforces MAX_EXPOSURE by flattening the book.
type Monitor struct {
	engine     *Engine
	reader     PositionReader
	closer     PositionClosingCapability
	interval   time.Duration
	maxExposure decimal.Decimal
}

// NewMonitor builds a position monitor polling every ~2s per spec default.
func NewMonitor(engine *Engine, reader PositionReader, closer PositionClosingCapability, maxExposure decimal.Decimal) *Monitor {
	return &Monitor{
		engine:      engine,
		reader:      reader,
		closer:      closer,
		interval:    2 * time.Second,
		maxExposure: maxExposure,
	}
}

// Run blocks in a cancellable loop, matching the long-lived-goroutine
// shape the fan-out layer's Run() uses.
func (m *Monitor) Run(ctx context.Context, accountID string) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(ctx, accountID)
		}
	}
}

func (m *Monitor) tick(ctx context.Context, accountID string) {
	positions, err := m.reader.GetPositions(ctx, "")
	if err != nil {
		m.engine.log.Warn().Err(err).Msg("position monitor: failed to read positions")
		return
	}
	account, err := m.reader.GetAccountInfo(ctx)
	if err != nil {
		m.engine.log.Warn().Err(err).Msg("position monitor: failed to read account info")
		return
	}
	m.engine.UpdateDailyPnL(account.DailyPnL)

	exposure := decimal.Zero
	for _, pos := range positions {
		exposure = exposure.Add(pos.Quantity.Mul(pos.CurrentPrice))
	}

	if m.engine.notifier != nil {
		dailyPnL := account.DailyPnL
		if !dailyPnL.IsZero() {
			incident := models.RiskIncident{
				ID:          uuid.New(),
				AccountID:   accountID,
				ActionTaken: models.RiskActionWarning,
				Observed:    dailyPnL.String(),
				Timestamp:   time.Now(),
			}
			if err := m.engine.notifier.Notify(ctx, incident); err != nil {
				m.engine.log.Warn().Err(err).Msg("position monitor: notifier ping failed")
			}
		}
	}

	if !m.maxExposure.IsZero() && exposure.GreaterThan(m.maxExposure) {
		if err := m.closer.CloseAllPositions(ctx, ""); err != nil {
			m.engine.log.Error().Err(err).Msg("position monitor: failed to close positions on exposure breach")
			return
		}
		incident := &models.RiskIncident{
			ID:          uuid.New(),
			RuleType:    string(models.RuleMaxExposure),
			AccountID:   accountID,
			Observed:    exposure.String(),
			Threshold:   m.maxExposure.String(),
			ActionTaken: models.RiskActionPositionReduced,
			Timestamp:   time.Now(),
		}
		if err := m.engine.store.SaveRiskIncident(ctx, incident); err != nil {
			m.engine.log.Error().Err(err).Msg("position monitor: failed to persist exposure incident")
		}
	}
}
