package models

import "time"

// Security event types published on the events stream.
const (
	EventPluginCreated  = "plugin.created"
	EventPluginUpdated  = "plugin.updated"
	EventPluginDeleted  = "plugin.deleted"
	EventLoginSuccess   = "auth.login"
	EventLoginFailure   = "auth.failure"
	EventSessionRevoked = "session.revoked"
)

// SecurityEvent is one entry on the admin events stream.
type SecurityEvent struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Plugin    string            `json:"plugin,omitempty"`
	Principal string            `json:"principal,omitempty"`
	Message   string            `json:"message"`
	Details   map[string]string `json:"details,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}
