package amqp

import (
	"encoding/json"
	"time"
)

// ClaimSyncMessage asks the worker to mirror one claim to the shared
// spreadsheet. It carries only the id; the worker fetches the full
// claim from the database.
type ClaimSyncMessage struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
}

func NewClaimSyncMessage(id int64) *ClaimSyncMessage {
	return &ClaimSyncMessage{
		ID:        id,
		Timestamp: time.Now(),
	}
}

func (m *ClaimSyncMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func ClaimSyncMessageFromJSON(data []byte) (*ClaimSyncMessage, error) {
	var msg ClaimSyncMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
