// Package ledger implements the balance domain model on top of a versioned
// object store. The store offers only single-key compare-and-swap writes, so
// every mutation re-reads the full document, re-validates business invariants
// against the fresh snapshot, and retries a bounded number of times before
// surfacing a conflict.
package ledger

import (
	"context"
	"encoding/json"
	"log/slog"

	"balance-service/internal/domain"
	"balance-service/internal/errors"
)

// casAttempts bounds the read-validate-write retry loop on every commit.
const casAttempts = 3

// Ledger owns the balance book document.
type Ledger struct {
	store  domain.VersionedStore
	key    string
	logger *slog.Logger
}

func New(store domain.VersionedStore, key string, logger *slog.Logger) *Ledger {
	return &Ledger{store: store, key: key, logger: logger}
}

// GetBalance reads the current balance for subject. A missing subject reads
// as zero; this call alone never persists anything.
func (l *Ledger) GetBalance(ctx context.Context, subject string) (int64, error) {
	doc, _, err := l.store.Read(ctx, l.key)
	if err != nil {
		return 0, err
	}
	book, err := decodeBook(doc)
	if err != nil {
		return 0, err
	}
	return book.Balance(subject), nil
}

// ApplyAdjustment moves subject's balance by delta and commits. A negative
// result is rejected with InsufficientFunds before any write. The returned
// balance is the committed one.
func (l *Ledger) ApplyAdjustment(ctx context.Context, subject string, delta int64, note string) (int64, error) {
	var newBalance int64
	err := l.update(ctx, note, func(book domain.BalanceBook) error {
		have := book.Balance(subject)
		next := have + delta
		if next < 0 {
			return errors.NewInsufficientFunds(-delta, have)
		}
		book[subject] = domain.Account{BalanceMinor: next}
		newBalance = next
		return nil
	})
	if err != nil {
		return 0, err
	}
	return newBalance, nil
}

// ApplySplit debits one subject and credits another from the same snapshot,
// committing both in a single store write. The credit is skipped when
// creditSubject is empty or equal to debitSubject, which makes the operation
// deliberately not a closed transfer: the undistributed remainder is consumed
// by the platform.
func (l *Ledger) ApplySplit(ctx context.Context, debitSubject string, debitAmount int64, creditSubject string, creditAmount int64, note string) (newDebitBalance, newCreditBalance int64, err error) {
	err = l.update(ctx, note, func(book domain.BalanceBook) error {
		have := book.Balance(debitSubject)
		if have < debitAmount {
			return errors.NewInsufficientFunds(debitAmount, have)
		}
		book[debitSubject] = domain.Account{BalanceMinor: have - debitAmount}
		newDebitBalance = have - debitAmount

		if creditSubject != "" && creditSubject != debitSubject {
			newCreditBalance = book.Balance(creditSubject) + creditAmount
			book[creditSubject] = domain.Account{BalanceMinor: newCreditBalance}
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return newDebitBalance, newCreditBalance, nil
}

// update runs the bounded CAS loop: read, mutate a fresh decode, write with
// the observed version. mutate sees a new snapshot on every attempt, so
// business checks such as sufficient funds are re-validated after a conflict.
func (l *Ledger) update(ctx context.Context, note string, mutate func(domain.BalanceBook) error) error {
	return casUpdate(ctx, l.store, l.key, note, l.logger, func(doc []byte) ([]byte, error) {
		book, err := decodeBook(doc)
		if err != nil {
			return nil, err
		}
		if err := mutate(book); err != nil {
			return nil, err
		}
		return json.MarshalIndent(book, "", "  ")
	})
}

// casUpdate is the shared retry loop for all documents owned by this package.
func casUpdate(ctx context.Context, store domain.VersionedStore, key, note string, logger *slog.Logger, mutate func(doc []byte) ([]byte, error)) error {
	var lastErr error
	for attempt := 1; attempt <= casAttempts; attempt++ {
		doc, version, err := store.Read(ctx, key)
		if err != nil {
			return err
		}

		out, err := mutate(doc)
		if err != nil {
			return err
		}

		err = store.Write(ctx, key, out, version, note)
		if err == nil {
			return nil
		}
		if errors.Code(err) != errors.StoreConflict {
			return err
		}

		logger.Warn("Version conflict on commit, retrying",
			"key", key, "attempt", attempt)
		lastErr = err
	}
	return lastErr
}

// decodeBook parses the stored balance document strictly; the document is
// data, never code.
func decodeBook(doc []byte) (domain.BalanceBook, error) {
	book := make(domain.BalanceBook)
	if len(doc) == 0 {
		return book, nil
	}
	if err := json.Unmarshal(doc, &book); err != nil {
		return nil, errors.NewAppError(errors.InternalError, "balance document is corrupt").WithDetails(err.Error())
	}
	return book, nil
}
