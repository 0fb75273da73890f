package models

import (
	"encoding/json"
	"time"
)

const ActivityOrderSettled = "order_settled"

// Activity is a row of the activity feed. It is written after a settlement
// commits and later relayed to Kafka by the outbox poller.
type Activity struct {
	ID          int64
	EventID     string
	Type        string
	Description string
	AccountID   int64
	RelatedID   int64
	Payload     json.RawMessage
	CreatedAt   time.Time
	PublishedAt *time.Time
}
