package models

import "time"

// ConnectionPresence is a live WebSocket connection's record, mirrored to
// the shared bus so every instance can see it.
type ConnectionPresence struct {
	ConnectionID  string    `json:"connection_id"`
	UserID        string    `json:"user_id"`
	SessionID     string    `json:"session_id"`
	InstanceID    string    `json:"instance_id"`
	ConnectedAt   time.Time `json:"connected_at"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

// SubscriptionSet is the union, across a user's live connections, of topic
// strings they are subscribed to.
type SubscriptionSet struct {
	UserID string   `json:"user_id"`
	Topics []string `json:"topics"`
}

// TokenPair is an access+refresh JWT pair sharing a family id, used by the
// fan-out layer's authentication handshake.
type TokenPair struct {
	FamilyID          string    `json:"family_id"`
	AccessJTI         string    `json:"access_jti"`
	RefreshJTI        string    `json:"refresh_jti"`
	Subject           string    `json:"sub"`
	IssuedAt          time.Time `json:"iat"`
	AccessExpiresAt   time.Time `json:"access_exp"`
	RefreshExpiresAt  time.Time `json:"refresh_exp"`
	FingerprintSHA256 string    `json:"fp"`
}
