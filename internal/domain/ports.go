package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// Notifier pushes best-effort messages to a subject's chat. Callers on the
// transaction path treat send failures as log-only; they never roll back a
// committed ledger change.
type Notifier interface {
	SendText(ctx context.Context, subject string, text string) error
	SendPhoto(ctx context.Context, subject string, photo string, caption string) error
}

// RateProvider returns the current local-currency-minor-units-per-USD rate.
// Implementations degrade to a fixed fallback on failure and never return an
// error to the caller.
type RateProvider interface {
	MinorPerUSD(ctx context.Context) decimal.Decimal
}
