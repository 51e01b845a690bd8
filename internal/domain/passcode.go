package domain

import (
	"context"
	"time"
)

// PasscodePurpose identifies which operation a passcode may authorize.
// A code issued for one purpose is never valid for another.
type PasscodePurpose string

const (
	PurposeWithdraw PasscodePurpose = "withdraw"
	PurposePremium  PasscodePurpose = "premium"
	PurposePromo    PasscodePurpose = "promo"
)

// Valid reports whether p is one of the known purposes.
func (p PasscodePurpose) Valid() bool {
	switch p {
	case PurposeWithdraw, PurposePremium, PurposePromo:
		return true
	}
	return false
}

// PasscodeRecord is the single outstanding one-time code for a subject.
// Issuing a new code silently replaces any prior record.
type PasscodeRecord struct {
	Subject   string          `json:"subject"`
	Code      string          `json:"code"`
	Purpose   PasscodePurpose `json:"purpose"`
	IssuedAt  time.Time       `json:"issued_at"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// PasscodeOutcome is the result of validating a submitted code.
type PasscodeOutcome string

const (
	PasscodeAccepted  PasscodeOutcome = "accepted"
	PasscodeNotFound  PasscodeOutcome = "not_found"
	PasscodeWrongCode PasscodeOutcome = "wrong_code"
	PasscodeExpired   PasscodeOutcome = "expired"
	PasscodeLockedOut PasscodeOutcome = "locked_out"
)

// PasscodeStore persists passcode records and their attempt counters. Records
// carry their own expiry; implementations may additionally evict entries some
// time after ExpiresAt. State is keyed per subject only.
type PasscodeStore interface {
	// Put stores rec as the subject's only record, replacing any prior one,
	// and resets the subject's attempt counter.
	Put(ctx context.Context, rec PasscodeRecord) error
	// Get returns the subject's record, reporting whether one exists.
	Get(ctx context.Context, subject string) (PasscodeRecord, bool, error)
	// Delete removes the subject's record and attempt counter.
	Delete(ctx context.Context, subject string) error
	// IncrementAttempts bumps the subject's failure counter and returns the
	// new count.
	IncrementAttempts(ctx context.Context, subject string) (int, error)
}
