// Package events defines the durable Event Bus payload shape and the
// topic names published across the lifecycle of a session.
package events

import "time"

type Topic string

const (
	TopicConnecting    Topic = "session.connecting"
	TopicQR            Topic = "session.qr"
	TopicConnected     Topic = "session.connected"
	TopicDisconnected  Topic = "session.disconnected"
	TopicLoggedOut     Topic = "session.logged_out"
	TopicReconnecting  Topic = "session.reconnecting"
	TopicMessage       Topic = "session.message"
	TopicSyncCompleted Topic = "session.sync_completed"
	TopicFailed        Topic = "session.failed"
	TopicPersistFailed Topic = "session.persist_failed"
)

// Envelope is the payload written to every Event Bus stream entry,
// grounded on the teacher's WebhookPayload shape
// (sessionId/event/timestamp/data) generalized from an HTTP push to a
// durable stream record.
type Envelope struct {
	SessionKey string         `json:"sessionKey"`
	Topic      Topic          `json:"topic"`
	Timestamp  time.Time      `json:"timestamp"`
	Data       map[string]any `json:"data,omitempty"`
}
