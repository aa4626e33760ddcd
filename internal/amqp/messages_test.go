package amqp

import "testing"

func TestClaimSyncMessageRoundTrip(t *testing.T) {
	msg := NewClaimSyncMessage(42)
	body, err := msg.ToJSON()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	decoded, err := ClaimSyncMessageFromJSON(body)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.ID != 42 {
		t.Fatalf("expected id 42, got %d", decoded.ID)
	}
	if decoded.Timestamp.IsZero() {
		t.Fatal("expected timestamp to be set")
	}
}

func TestClaimSyncMessageFromJSONInvalid(t *testing.T) {
	if _, err := ClaimSyncMessageFromJSON([]byte("not json")); err == nil {
		t.Fatal("expected error for invalid payload")
	}
}
