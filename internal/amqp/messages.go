package amqp

import (
	"encoding/json"
	"time"
)

// TransactionCreatedMessage announces a new bank transaction to the
// allocator worker. Only the id travels on the wire; the worker loads
// the full transaction from the database.
type TransactionCreatedMessage struct {
	TransactionID int64     `json:"transaction_id"`
	Timestamp     time.Time `json:"timestamp"`
}

func NewTransactionCreatedMessage(transactionID int64) *TransactionCreatedMessage {
	return &TransactionCreatedMessage{
		TransactionID: transactionID,
		Timestamp:     time.Now(),
	}
}

func (m *TransactionCreatedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func TransactionCreatedMessageFromJSON(data []byte) (*TransactionCreatedMessage, error) {
	var msg TransactionCreatedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// AllocationPostedMessage notifies downstream consumers that a
// transaction's allocations were committed to the ledger.
type AllocationPostedMessage struct {
	TransactionID  int64     `json:"transaction_id"`
	IncomeSourceID int64     `json:"income_source_id"`
	Postings       int       `json:"postings"`
	Total          string    `json:"total"`
	Timestamp      time.Time `json:"timestamp"`
}

func NewAllocationPostedMessage(transactionID, sourceID int64, postings int, total string) *AllocationPostedMessage {
	return &AllocationPostedMessage{
		TransactionID:  transactionID,
		IncomeSourceID: sourceID,
		Postings:       postings,
		Total:          total,
		Timestamp:      time.Now(),
	}
}

func (m *AllocationPostedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func AllocationPostedMessageFromJSON(data []byte) (*AllocationPostedMessage, error) {
	var msg AllocationPostedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
