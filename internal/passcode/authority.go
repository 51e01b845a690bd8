// Package passcode issues and validates the one-time codes that gate
// sensitive balance operations.
package passcode

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"balance-service/internal/domain"
	"balance-service/internal/errors"
)

const (
	// TTL is how long an issued code stays valid.
	TTL = 5 * time.Minute
	// maxAttempts failed validations in a row burn the outstanding record.
	maxAttempts = 3

	codeSpan = 900000 // codes are 100000..999999
	codeBase = 100000

	issueEvery = 30 * time.Second
	issueBurst = 2
)

// Authority owns passcode issuance, validation, expiry and brute-force
// lockout. State is keyed per subject only: distinct subjects never
// interfere, while a re-issue for the same subject silently replaces the
// outstanding code.
type Authority struct {
	store    domain.PasscodeStore
	notifier domain.Notifier
	logger   *slog.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter

	now func() time.Time
}

func NewAuthority(store domain.PasscodeStore, notifier domain.Notifier, logger *slog.Logger) *Authority {
	return &Authority{
		store:    store,
		notifier: notifier,
		logger:   logger,
		limiters: make(map[string]*rate.Limiter),
		now:      time.Now,
	}
}

// Issue generates a uniformly random 6-digit code for subject, replaces any
// outstanding record, resets the attempt counter, and delivers the code over
// the notification channel. Delivery failure fails the issuance: the caller
// has no other way to learn the code. Issuance is rate limited per subject.
func (a *Authority) Issue(ctx context.Context, subject string, purpose domain.PasscodePurpose) (string, error) {
	if subject == "" {
		return "", errors.NewAppError(errors.InvalidInput, "missing subject")
	}
	if !purpose.Valid() {
		return "", errors.NewAppErrorf(errors.InvalidInput, "unknown passcode purpose %q", purpose)
	}
	if !a.limiter(subject).Allow() {
		return "", errors.ErrRateLimited
	}

	code, err := generateCode()
	if err != nil {
		return "", errors.NewAppError(errors.InternalError, "failed to generate passcode").WithDetails(err.Error())
	}

	issuedAt := a.now()
	rec := domain.PasscodeRecord{
		Subject:   subject,
		Code:      code,
		Purpose:   purpose,
		IssuedAt:  issuedAt,
		ExpiresAt: issuedAt.Add(TTL),
	}
	if err := a.store.Put(ctx, rec); err != nil {
		return "", err
	}

	text := fmt.Sprintf(
		"Your passcode is: %s\n\nNever share this code with anyone.\nIt expires in %d minutes.",
		code, int(TTL.Minutes()))
	if err := a.notifier.SendText(ctx, subject, text); err != nil {
		a.logger.Error("Failed to deliver passcode", "subject", subject, "error", err)
		if delErr := a.store.Delete(ctx, subject); delErr != nil {
			a.logger.Error("Failed to discard undelivered passcode", "subject", subject, "error", delErr)
		}
		return "", errors.NewAppError(errors.InternalError, "failed to deliver passcode").WithDetails(err.Error())
	}

	a.logger.Info("Passcode issued", "subject", subject, "purpose", purpose)
	return code, nil
}

// Validate checks a submitted code against the subject's outstanding record.
// A code is single-use: acceptance deletes the record, so replaying it yields
// NotFound. The purpose must match the one the code was issued for; a
// mismatch counts as a wrong code and feeds the attempt counter. The third
// consecutive failure deletes the record and reports LockedOut.
func (a *Authority) Validate(ctx context.Context, subject, code string, purpose domain.PasscodePurpose) (domain.PasscodeOutcome, error) {
	rec, ok, err := a.store.Get(ctx, subject)
	if err != nil {
		return "", err
	}
	if !ok {
		return domain.PasscodeNotFound, nil
	}
	if a.now().After(rec.ExpiresAt) {
		return domain.PasscodeExpired, nil
	}

	codeMatches := subtle.ConstantTimeCompare([]byte(rec.Code), []byte(code)) == 1
	if !codeMatches || rec.Purpose != purpose {
		count, err := a.store.IncrementAttempts(ctx, subject)
		if err != nil {
			return "", err
		}
		if count >= maxAttempts {
			if err := a.store.Delete(ctx, subject); err != nil {
				return "", err
			}
			a.logger.Warn("Passcode locked out", "subject", subject, "attempts", count)
			return domain.PasscodeLockedOut, nil
		}
		return domain.PasscodeWrongCode, nil
	}

	if err := a.store.Delete(ctx, subject); err != nil {
		return "", err
	}
	a.logger.Info("Passcode accepted", "subject", subject, "purpose", purpose)
	return domain.PasscodeAccepted, nil
}

func (a *Authority) limiter(subject string) *rate.Limiter {
	a.mu.Lock()
	defer a.mu.Unlock()

	lim, ok := a.limiters[subject]
	if !ok {
		lim = rate.NewLimiter(rate.Every(issueEvery), issueBurst)
		a.limiters[subject] = lim
	}
	return lim
}

func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(codeSpan))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()+codeBase), nil
}
