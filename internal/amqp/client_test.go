package amqp

import (
	"testing"
	"time"
)

func TestNewLedgerChangeMessage(t *testing.T) {
	msg := NewLedgerChangeMessage("friend", "upsert", 42)

	if msg.Entity != "friend" {
		t.Errorf("NewLedgerChangeMessage() Entity = %v, want friend", msg.Entity)
	}
	if msg.Op != "upsert" {
		t.Errorf("NewLedgerChangeMessage() Op = %v, want upsert", msg.Op)
	}
	if msg.ID != 42 {
		t.Errorf("NewLedgerChangeMessage() ID = %v, want 42", msg.ID)
	}
	if msg.Timestamp.IsZero() {
		t.Error("NewLedgerChangeMessage() Timestamp should not be zero")
	}
	if time.Since(msg.Timestamp) > time.Second {
		t.Error("NewLedgerChangeMessage() Timestamp should be recent")
	}
}

func TestLedgerChangeMessage_JSON(t *testing.T) {
	timestamp := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	msg := &LedgerChangeMessage{
		Entity:    "transaction",
		Op:        "delete",
		ID:        12345,
		Timestamp: timestamp,
	}

	jsonBytes, err := msg.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON() error = %v", err)
	}

	parsedMsg, err := LedgerChangeMessageFromJSON(jsonBytes)
	if err != nil {
		t.Fatalf("LedgerChangeMessageFromJSON() error = %v", err)
	}

	if parsedMsg.Entity != msg.Entity {
		t.Errorf("Parsed Entity = %v, want %v", parsedMsg.Entity, msg.Entity)
	}
	if parsedMsg.Op != msg.Op {
		t.Errorf("Parsed Op = %v, want %v", parsedMsg.Op, msg.Op)
	}
	if parsedMsg.ID != msg.ID {
		t.Errorf("Parsed ID = %v, want %v", parsedMsg.ID, msg.ID)
	}
	if !parsedMsg.Timestamp.Equal(msg.Timestamp) {
		t.Errorf("Parsed Timestamp = %v, want %v", parsedMsg.Timestamp, msg.Timestamp)
	}
}

func TestLedgerChangeMessage_InvalidJSON(t *testing.T) {
	invalidJSON := []byte(`{"id": "not_a_number", "op": "upsert"}`)

	_, err := LedgerChangeMessageFromJSON(invalidJSON)
	if err == nil {
		t.Error("LedgerChangeMessageFromJSON() should fail with invalid JSON")
	}
}
