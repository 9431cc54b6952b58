package amqp

import (
	"encoding/json"
	"time"
)

// LedgerChangeMessage tells the backup worker that the ledger changed.
// It carries only the entity, the operation, and the id; the worker reads
// the full state from the store when it builds the next backup.
type LedgerChangeMessage struct {
	Entity    string    `json:"entity"`
	Op        string    `json:"op"`
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
}

// NewLedgerChangeMessage creates a change message stamped with the current time.
func NewLedgerChangeMessage(entity, op string, id int64) *LedgerChangeMessage {
	return &LedgerChangeMessage{
		Entity:    entity,
		Op:        op,
		ID:        id,
		Timestamp: time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *LedgerChangeMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// FromJSON creates a message from JSON bytes
func LedgerChangeMessageFromJSON(data []byte) (*LedgerChangeMessage, error) {
	var msg LedgerChangeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
