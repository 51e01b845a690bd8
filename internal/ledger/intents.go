package ledger

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"balance-service/internal/domain"
	"balance-service/internal/errors"
)

// Intents is the promo unlock intent log. Each unlock persists an intent
// before touching the balance book, so a crash between the fee debit and the
// membership add leaves a "debited" intent behind for the reconciler to
// complete or refund.
type Intents struct {
	store  domain.VersionedStore
	key    string
	logger *slog.Logger
	now    func() time.Time
}

func NewIntents(store domain.VersionedStore, key string, logger *slog.Logger) *Intents {
	return &Intents{store: store, key: key, logger: logger, now: time.Now}
}

type intentDoc map[string]domain.UnlockIntent

// Create records a new pending intent keyed by a fresh idempotency token.
func (i *Intents) Create(ctx context.Context, subject string, feeMinor int64) (domain.UnlockIntent, error) {
	intent := domain.UnlockIntent{
		ID:        uuid.New(),
		Subject:   subject,
		FeeMinor:  feeMinor,
		Status:    domain.IntentPending,
		CreatedAt: i.now().UTC(),
		UpdatedAt: i.now().UTC(),
	}
	err := i.update(ctx, "Create unlock intent "+intent.ID.String(), func(intents intentDoc) error {
		intents[intent.ID.String()] = intent
		return nil
	})
	if err != nil {
		return domain.UnlockIntent{}, err
	}
	return intent, nil
}

// SetStatus advances an intent through its lifecycle.
func (i *Intents) SetStatus(ctx context.Context, id uuid.UUID, status domain.IntentStatus) error {
	return i.update(ctx, "Unlock intent "+id.String()+" -> "+string(status), func(intents intentDoc) error {
		intent, ok := intents[id.String()]
		if !ok {
			return errors.NewAppError(errors.InternalError, "unlock intent not found")
		}
		intent.Status = status
		intent.UpdatedAt = i.now().UTC()
		intents[id.String()] = intent
		return nil
	})
}

// Delete removes an intent that never reached the debit step.
func (i *Intents) Delete(ctx context.Context, id uuid.UUID) error {
	return i.update(ctx, "Drop unlock intent "+id.String(), func(intents intentDoc) error {
		delete(intents, id.String())
		return nil
	})
}

// ListByStatus returns intents in the given state, oldest first.
func (i *Intents) ListByStatus(ctx context.Context, status domain.IntentStatus) ([]domain.UnlockIntent, error) {
	doc, _, err := i.store.Read(ctx, i.key)
	if err != nil {
		return nil, err
	}
	intents, err := decodeIntents(doc)
	if err != nil {
		return nil, err
	}
	var out []domain.UnlockIntent
	for _, intent := range intents {
		if intent.Status == status {
			out = append(out, intent)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.Before(out[b].CreatedAt) })
	return out, nil
}

func (i *Intents) update(ctx context.Context, note string, mutate func(intentDoc) error) error {
	return casUpdate(ctx, i.store, i.key, note, i.logger, func(doc []byte) ([]byte, error) {
		intents, err := decodeIntents(doc)
		if err != nil {
			return nil, err
		}
		if err := mutate(intents); err != nil {
			return nil, err
		}
		return json.MarshalIndent(intents, "", "  ")
	})
}

func decodeIntents(doc []byte) (intentDoc, error) {
	intents := make(intentDoc)
	if len(doc) == 0 {
		return intents, nil
	}
	if err := json.Unmarshal(doc, &intents); err != nil {
		return nil, errors.NewAppError(errors.InternalError, "intent document is corrupt").WithDetails(err.Error())
	}
	return intents, nil
}
