package domain

import "time"

const (
	EventAccountOpened     = "account.opened"
	EventAccountDeposited  = "account.deposited"
	EventAccountWithdrawn  = "account.withdrawn"
	EventTransferCompleted = "transfer.completed"
)

// OutboxEvent is written in the same transaction as the change it describes
// and relayed to a publisher afterwards.
type OutboxEvent struct {
	ID          int64
	Type        string
	AggregateID string
	Payload     []byte
	CreatedAt   time.Time
	PublishedAt *time.Time
}
