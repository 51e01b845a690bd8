package ledger

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"time"

	"balance-service/internal/domain"
	"balance-service/internal/errors"
)

// Members is the promo membership set, stored under its own document key with
// the same CAS discipline as the balance book. It is a different document
// from the balances, so a balance debit and a membership add are two
// independent writes; the unlock intent log papers over that gap.
type Members struct {
	store  domain.VersionedStore
	key    string
	logger *slog.Logger
	now    func() time.Time
}

func NewMembers(store domain.VersionedStore, key string, logger *slog.Logger) *Members {
	return &Members{store: store, key: key, logger: logger, now: time.Now}
}

type memberDoc map[string]time.Time

// Contains reports whether subject is in the membership set.
func (m *Members) Contains(ctx context.Context, subject string) (bool, error) {
	doc, _, err := m.store.Read(ctx, m.key)
	if err != nil {
		return false, err
	}
	members, err := decodeMembers(doc)
	if err != nil {
		return false, err
	}
	_, ok := members[subject]
	return ok, nil
}

// Add inserts subject into the set. Adding an existing member is a no-op so
// that a retried unlock completion stays idempotent.
func (m *Members) Add(ctx context.Context, subject string, note string) error {
	return m.update(ctx, note, func(members memberDoc) error {
		if _, ok := members[subject]; !ok {
			members[subject] = m.now().UTC()
		}
		return nil
	})
}

// Remove deletes subject from the set, failing with MemberNotFound when the
// subject was never a member.
func (m *Members) Remove(ctx context.Context, subject string, note string) error {
	return m.update(ctx, note, func(members memberDoc) error {
		if _, ok := members[subject]; !ok {
			return errors.ErrMemberNotFound
		}
		delete(members, subject)
		return nil
	})
}

// List returns the membership set sorted by subject.
func (m *Members) List(ctx context.Context) ([]string, error) {
	doc, _, err := m.store.Read(ctx, m.key)
	if err != nil {
		return nil, err
	}
	members, err := decodeMembers(doc)
	if err != nil {
		return nil, err
	}
	subjects := make([]string, 0, len(members))
	for subject := range members {
		subjects = append(subjects, subject)
	}
	sort.Strings(subjects)
	return subjects, nil
}

func (m *Members) update(ctx context.Context, note string, mutate func(memberDoc) error) error {
	return casUpdate(ctx, m.store, m.key, note, m.logger, func(doc []byte) ([]byte, error) {
		members, err := decodeMembers(doc)
		if err != nil {
			return nil, err
		}
		if err := mutate(members); err != nil {
			return nil, err
		}
		return json.MarshalIndent(members, "", "  ")
	})
}

func decodeMembers(doc []byte) (memberDoc, error) {
	members := make(memberDoc)
	if len(doc) == 0 {
		return members, nil
	}
	if err := json.Unmarshal(doc, &members); err != nil {
		return nil, errors.NewAppError(errors.InternalError, "membership document is corrupt").WithDetails(err.Error())
	}
	return members, nil
}
