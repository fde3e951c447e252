package types

import (
	"time"

	"github.com/google/uuid"
)

// SystemSender is the sender id on server-originated envelopes.
const SystemSender = "system"

// NewEnvelope builds a server-originated envelope with a fresh message id.
// Client-provided ids are always discarded; the server controls them.
func NewEnvelope(msgType MessageType, senderID string, data map[string]interface{}) *Envelope {
	return &Envelope{
		MessageID: uuid.New().String(),
		Type:      msgType,
		SenderID:  senderID,
		Timestamp: time.Now(),
		Data:      data,
	}
}

// NewErrorEnvelope builds an ERROR envelope with a machine-readable code and
// a human-readable message.
func NewErrorEnvelope(code, message string) *Envelope {
	return NewEnvelope(MessageTypeError, SystemSender, map[string]interface{}{
		"code":    code,
		"message": message,
	})
}
