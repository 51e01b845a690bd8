package domain

import (
	"time"

	"github.com/google/uuid"
)

// IntentStatus is the lifecycle state of a promo unlock intent.
type IntentStatus string

const (
	IntentPending   IntentStatus = "pending"
	IntentDebited   IntentStatus = "debited"
	IntentCompleted IntentStatus = "completed"
	IntentRefunded  IntentStatus = "refunded"
)

// UnlockIntent records a promo unlock in flight. The fee debit and the
// membership add are writes to two different documents with no shared
// transaction, so the intent is persisted first and keyed by an idempotency
// token; a reconciliation pass completes or refunds intents that debited but
// never reached the membership set.
type UnlockIntent struct {
	ID        uuid.UUID    `json:"id"`
	Subject   string       `json:"subject"`
	FeeMinor  int64        `json:"fee_minor"`
	Status    IntentStatus `json:"status"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}
