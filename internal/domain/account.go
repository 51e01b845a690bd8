package domain

import "context"

// Account holds a single user balance in local-currency minor units.
// Accounts are created lazily on first access and never deleted.
type Account struct {
	BalanceMinor int64 `json:"minor"`
}

// BalanceBook is the full subject -> account map. The canonical copy is a
// single document in the versioned store, so every mutation rewrites the
// whole book under one CAS token.
type BalanceBook map[string]Account

// Balance returns the balance for subject, treating a missing entry as zero.
func (b BalanceBook) Balance(subject string) int64 {
	return b[subject].BalanceMinor
}

// VersionedStore is a key -> document store with optimistic concurrency.
// Read returns the document together with an opaque version token; Write is
// accepted only if expectedVersion still matches the stored version. Keys
// that do not exist yet read as an empty document with an empty version, and
// writing with an empty expectedVersion creates the key.
type VersionedStore interface {
	Read(ctx context.Context, key string) (doc []byte, version string, err error)
	Write(ctx context.Context, key string, doc []byte, expectedVersion string, note string) error
}
