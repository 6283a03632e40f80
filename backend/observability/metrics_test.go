package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

func TestRecorder_RecordOrder(t *testing.T) {
	r := NewRecorder()
	r.RecordOrder("AAPL", "buy", "filled")
	r.RecordOrder("AAPL", "sell", "rejected")
}

func TestRecorder_RecordRejection(t *testing.T) {
	r := NewRecorder()
	r.RecordRejection("insufficient_buying_power")
}

func TestRecorder_RecordTrade(t *testing.T) {
	r := NewRecorder()
	r.RecordTrade("AAPL", "buy")
}

func TestRecorder_RecordPosition(t *testing.T) {
	r := NewRecorder()
	r.RecordPositionOpened("AAPL")
	r.RecordPositionClosed("AAPL")
}

func TestRecorder_RecordPortfolioValue(t *testing.T) {
	r := NewRecorder()
	r.RecordPortfolioValue("acct-1", decimal.NewFromInt(100000))
}

func TestRecorder_RecordRiskIncident(t *testing.T) {
	r := NewRecorder()
	r.RecordRiskIncident("max_position_size", "reject")
	r.RecordKillSwitch(true)
	r.RecordKillSwitch(false)
}

func TestRecorder_RecordBroker(t *testing.T) {
	r := NewRecorder()
	r.RecordBrokerStatus("simulated", true)
	r.RecordBrokerStatus("simulated", false)
	r.RecordBrokerReconnect("simulated", "ok")
}

func TestRecorder_RecordLatency(t *testing.T) {
	r := NewRecorder()
	r.RecordOrderLatency(10 * time.Millisecond)
	r.RecordRiskCheckLatency(500 * time.Microsecond)
}

func TestRecorder_RecordWebsocket(t *testing.T) {
	r := NewRecorder()
	r.RecordWebsocketConnect()
	r.RecordWebsocketMessage("subscribe", "in")
	r.RecordWebsocketDisconnect()
}

func TestRecorder_RecordAuth(t *testing.T) {
	r := NewRecorder()
	r.RecordTokenIssued("access")
	r.RecordTokenRejection("expired")
}

func TestRecorder_RecordHTTPRequest(t *testing.T) {
	r := NewRecorder()
	r.RecordHTTPRequest("/orders", "POST", "2xx", 20*time.Millisecond)
}

func TestRecorder_RecordError(t *testing.T) {
	r := NewRecorder()
	r.RecordError("bus")
}

func TestTimer(t *testing.T) {
	timer := NewTimer()
	time.Sleep(5 * time.Millisecond)
	if timer.Elapsed() < 5*time.Millisecond {
		t.Errorf("elapsed = %v, expected >= 5ms", timer.Elapsed())
	}
	timer.ObserveOrder(NewRecorder())
	timer.ObserveRiskCheck(NewRecorder())
}

func TestSetBuildInfo(t *testing.T) {
	SetBuildInfo("1.0.0", "abc123", "2026-08-01")
}

func TestMetricsRegistered(t *testing.T) {
	collectors := []prometheus.Collector{
		OrdersTotal,
		OrderRejectionsTotal,
		TradesTotal,
		OpenPositions,
		PortfolioValue,
		RiskIncidentsTotal,
		KillSwitchActive,
		BrokerConnected,
		BrokerReconnectsTotal,
		OrderLatency,
		RiskCheckLatency,
		WebsocketConnections,
		WebsocketMessagesTotal,
		AuthTokensIssuedTotal,
		AuthTokenRejectionsTotal,
		HTTPRequestsTotal,
		HTTPRequestLatency,
		ErrorsTotal,
		BuildInfo,
	}
	for _, c := range collectors {
		if c == nil {
			t.Error("metric is nil")
		}
	}
}
