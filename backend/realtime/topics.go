package realtime

import "strings"

// Topic prefixes a client may subscribe to. Each one except market_data and
// calendar_updates is scoped to a specific subject id (the authenticated
// user's own account, by convention the JWT subject) appended after a
// colon; ACL enforcement below requires that suffix to match the caller.
const (
	TopicUser             = "user"
	TopicAccountUpdates   = "account_updates"
	TopicPositionUpdates  = "position_updates"
	TopicOrderUpdates     = "order_updates"
	TopicMarketData       = "market_data"
	TopicCalendarUpdates  = "calendar_updates"
	TopicStrategySignals  = "strategy_signals"
)

// scopedTopics must be suffixed with ":{subject}" and only that subject (or
// an id it owns, e.g. its own account id) may subscribe.
var scopedTopics = map[string]bool{
	TopicUser:            true,
	TopicAccountUpdates:  true,
	TopicPositionUpdates: true,
	TopicOrderUpdates:    true,
	TopicStrategySignals: true,
}

// unscopedTopics require no suffix and are open to any authenticated
// connection.
var unscopedTopics = map[string]bool{
	TopicMarketData:      true,
	TopicCalendarUpdates: true,
}

// Authorized reports whether subject may subscribe to topic. Scoped topics
// ("account_updates:123") are authorized only when the suffix equals
// subject; unscoped topics ("market_data", or "market_data:EURUSD") are
// always authorized for any authenticated connection.
func Authorized(topic, subject string) bool {
	prefix, suffix, hasSuffix := strings.Cut(topic, ":")
	if unscopedTopics[prefix] {
		return true
	}
	if !scopedTopics[prefix] {
		return false
	}
	if !hasSuffix {
		return false
	}
	return suffix == subject
}
