package amqp

import (
	"encoding/json"
	"time"
)

// BatchSyncMessage is a lightweight notification that a transfer batch was
// applied. It carries only the batch ID; the worker fetches the batch and its
// transfers from the database before exporting them to the ledger.
type BatchSyncMessage struct {
	BatchID   int64     `json:"batch_id"`
	Transfers int       `json:"transfers"`
	Timestamp time.Time `json:"timestamp"`
}

func NewBatchSyncMessage(batchID int64, transfers int) *BatchSyncMessage {
	return &BatchSyncMessage{
		BatchID:   batchID,
		Transfers: transfers,
		Timestamp: time.Now(),
	}
}

func (m *BatchSyncMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func BatchSyncMessageFromJSON(data []byte) (*BatchSyncMessage, error) {
	var msg BatchSyncMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
