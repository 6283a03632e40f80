// Package observability exposes Prometheus metrics and health/readiness
// endpoints for the execution platform: order throughput and latency, risk
// incidents, broker connectivity, and realtime fan-out, all scraped off a
// dedicated port separate from the API's own listener.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
)

var (
	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sherwood_orders_total",
		Help: "Orders submitted, labeled by symbol, side, and resulting status.",
	}, []string{"symbol", "side", "status"})

	OrderRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sherwood_order_rejections_total",
		Help: "Orders rejected, labeled by reason.",
	}, []string{"reason"})

	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sherwood_trades_total",
		Help: "Fills recorded, labeled by symbol and side.",
	}, []string{"symbol", "side"})

	OpenPositions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sherwood_open_positions",
		Help: "Currently open positions per symbol.",
	}, []string{"symbol"})

	PortfolioValue = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sherwood_portfolio_value",
		Help: "Aggregate account portfolio value (cash plus open position notional).",
	}, []string{"account_id"})

	RiskIncidentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sherwood_risk_incidents_total",
		Help: "Risk engine incidents, labeled by rule and action taken.",
	}, []string{"rule", "action"})

	KillSwitchActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sherwood_kill_switch_active",
		Help: "1 if the kill switch is currently engaged, 0 otherwise.",
	})

	BrokerConnected = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sherwood_broker_connected",
		Help: "1 if the named broker connection is up, 0 otherwise.",
	}, []string{"broker"})

	BrokerReconnectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sherwood_broker_reconnects_total",
		Help: "Broker reconnect attempts, labeled by broker and outcome.",
	}, []string{"broker", "outcome"})

	OrderLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sherwood_order_latency_seconds",
		Help:    "Time from order submission to a terminal or broker-acknowledged status.",
		Buckets: prometheus.DefBuckets,
	})

	RiskCheckLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sherwood_risk_check_latency_seconds",
		Help:    "Time spent evaluating pre-trade risk rules for a single order.",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 10),
	})

	WebsocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sherwood_websocket_connections",
		Help: "WebSocket connections currently held by this process instance.",
	})

	WebsocketMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sherwood_websocket_messages_total",
		Help: "WebSocket frames processed, labeled by type and direction.",
	}, []string{"type", "direction"})

	AuthTokensIssuedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sherwood_auth_tokens_issued_total",
		Help: "Access/refresh tokens issued, labeled by token type.",
	}, []string{"token_type"})

	AuthTokenRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sherwood_auth_token_rejections_total",
		Help: "Token verification failures, labeled by reason.",
	}, []string{"reason"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sherwood_http_requests_total",
		Help: "HTTP requests handled, labeled by route, method, and status class.",
	}, []string{"route", "method", "status"})

	HTTPRequestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sherwood_http_request_latency_seconds",
		Help:    "HTTP request latency, labeled by route and method.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "method"})

	ErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sherwood_errors_total",
		Help: "Unexpected errors, labeled by component.",
	}, []string{"component"})

	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sherwood_build_info",
		Help: "Build metadata; value is always 1, the labels carry the information.",
	}, []string{"version", "commit", "built_at"})
)

// SetBuildInfo records the running binary's build metadata once at startup.
func SetBuildInfo(version, commit, builtAt string) {
	BuildInfo.Reset()
	BuildInfo.WithLabelValues(version, commit, builtAt).Set(1)
}

// Recorder is the domain-facing wrapper the execution, risk, and realtime
// packages call into, so callers never touch prometheus types directly.
type Recorder struct{}

// NewRecorder builds a Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// RecordOrder records an order reaching status.
func (r *Recorder) RecordOrder(symbol, side, status string) {
	OrdersTotal.WithLabelValues(symbol, side, status).Inc()
}

// RecordRejection records an order rejected for reason.
func (r *Recorder) RecordRejection(reason string) {
	OrderRejectionsTotal.WithLabelValues(reason).Inc()
}

// RecordTrade records a fill.
func (r *Recorder) RecordTrade(symbol, side string) {
	TradesTotal.WithLabelValues(symbol, side).Inc()
}

// RecordPositionOpened increments the open-position gauge for symbol.
func (r *Recorder) RecordPositionOpened(symbol string) {
	OpenPositions.WithLabelValues(symbol).Inc()
}

// RecordPositionClosed decrements the open-position gauge for symbol.
func (r *Recorder) RecordPositionClosed(symbol string) {
	OpenPositions.WithLabelValues(symbol).Dec()
}

// RecordPortfolioValue sets the current portfolio value for an account.
func (r *Recorder) RecordPortfolioValue(accountID string, value decimal.Decimal) {
	PortfolioValue.WithLabelValues(accountID).Set(value.InexactFloat64())
}

// RecordRiskIncident records a risk rule firing.
func (r *Recorder) RecordRiskIncident(rule, action string) {
	RiskIncidentsTotal.WithLabelValues(rule, action).Inc()
}

// RecordKillSwitch records the current kill-switch state.
func (r *Recorder) RecordKillSwitch(active bool) {
	if active {
		KillSwitchActive.Set(1)
	} else {
		KillSwitchActive.Set(0)
	}
}

// RecordBrokerStatus records whether broker's connection is currently up.
func (r *Recorder) RecordBrokerStatus(broker string, connected bool) {
	if connected {
		BrokerConnected.WithLabelValues(broker).Set(1)
	} else {
		BrokerConnected.WithLabelValues(broker).Set(0)
	}
}

// RecordBrokerReconnect records a reconnect attempt's outcome ("ok" or
// "failed").
func (r *Recorder) RecordBrokerReconnect(broker, outcome string) {
	BrokerReconnectsTotal.WithLabelValues(broker, outcome).Inc()
}

// RecordOrderLatency observes the elapsed time from submission to terminal
// or broker-acknowledged status.
func (r *Recorder) RecordOrderLatency(d time.Duration) {
	OrderLatency.Observe(d.Seconds())
}

// RecordRiskCheckLatency observes the elapsed time spent in pre-trade risk
// evaluation for one order.
func (r *Recorder) RecordRiskCheckLatency(d time.Duration) {
	RiskCheckLatency.Observe(d.Seconds())
}

// RecordWebsocketConnect/Disconnect adjust the live connection gauge.
func (r *Recorder) RecordWebsocketConnect() {
	WebsocketConnections.Inc()
}

func (r *Recorder) RecordWebsocketDisconnect() {
	WebsocketConnections.Dec()
}

// RecordWebsocketMessage records a frame processed in direction "in" or
// "out".
func (r *Recorder) RecordWebsocketMessage(msgType, direction string) {
	WebsocketMessagesTotal.WithLabelValues(msgType, direction).Inc()
}

// RecordTokenIssued records an access or refresh token minted.
func (r *Recorder) RecordTokenIssued(tokenType string) {
	AuthTokensIssuedTotal.WithLabelValues(tokenType).Inc()
}

// RecordTokenRejection records a token verification failure.
func (r *Recorder) RecordTokenRejection(reason string) {
	AuthTokenRejectionsTotal.WithLabelValues(reason).Inc()
}

// RecordHTTPRequest records a completed HTTP request.
func (r *Recorder) RecordHTTPRequest(route, method, statusClass string, d time.Duration) {
	HTTPRequestsTotal.WithLabelValues(route, method, statusClass).Inc()
	HTTPRequestLatency.WithLabelValues(route, method).Observe(d.Seconds())
}

// RecordError records an unexpected error against component.
func (r *Recorder) RecordError(component string) {
	ErrorsTotal.WithLabelValues(component).Inc()
}

// Timer measures elapsed wall time for a single operation.
type Timer struct {
	start time.Time
}

// NewTimer starts a Timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Elapsed returns the time since the Timer was created.
func (t *Timer) Elapsed() time.Duration {
	return time.Since(t.start)
}

// ObserveOrder records Elapsed() as order latency.
func (t *Timer) ObserveOrder(r *Recorder) {
	r.RecordOrderLatency(t.Elapsed())
}

// ObserveRiskCheck records Elapsed() as risk-check latency.
func (t *Timer) ObserveRiskCheck(r *Recorder) {
	r.RecordRiskCheckLatency(t.Elapsed())
}
