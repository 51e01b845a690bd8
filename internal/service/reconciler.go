package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"balance-service/internal/domain"
	"balance-service/internal/ledger"
)

const (
	// reconcileGrace leaves very fresh intents alone; the originating
	// request is likely still in flight.
	reconcileGrace = time.Minute
	// refundAfter is how long a debited intent may keep failing completion
	// before the fee goes back.
	refundAfter = 15 * time.Minute
)

// Reconciler sweeps the unlock intent log for intents that debited the fee
// but never reached the membership set. It first retries completion; once an
// intent is stale it refunds the fee instead. Scheduled periodically from
// the server process.
type Reconciler struct {
	ledger   *ledger.Ledger
	members  *ledger.Members
	intents  *ledger.Intents
	notifier domain.Notifier
	logger   *slog.Logger
	now      func() time.Time
}

func NewReconciler(l *ledger.Ledger, members *ledger.Members, intents *ledger.Intents, notifier domain.Notifier, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		ledger:   l,
		members:  members,
		intents:  intents,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// Run performs one reconciliation pass.
func (r *Reconciler) Run(ctx context.Context) error {
	debited, err := r.intents.ListByStatus(ctx, domain.IntentDebited)
	if err != nil {
		return err
	}

	for _, intent := range debited {
		age := r.now().Sub(intent.UpdatedAt)
		if age < reconcileGrace {
			continue
		}
		if err := r.complete(ctx, intent); err == nil {
			continue
		} else if age > refundAfter {
			r.refund(ctx, intent)
		}
	}

	// Pending intents should only exist for the duration of a request. An
	// old one means the status update after the debit was lost, and whether
	// the fee was taken cannot be decided from here.
	pending, err := r.intents.ListByStatus(ctx, domain.IntentPending)
	if err != nil {
		return err
	}
	for _, intent := range pending {
		if r.now().Sub(intent.CreatedAt) > refundAfter {
			r.logger.Error("Stale pending unlock intent needs manual review",
				"intent", intent.ID, "subject", intent.Subject, "created_at", intent.CreatedAt)
		}
	}
	return nil
}

func (r *Reconciler) complete(ctx context.Context, intent domain.UnlockIntent) error {
	// Add is idempotent, so re-completing after a lost status update is safe.
	if err := r.members.Add(ctx, intent.Subject, "Reconcile unlock "+intent.ID.String()); err != nil {
		r.logger.Warn("Reconciler could not complete unlock",
			"intent", intent.ID, "subject", intent.Subject, "error", err)
		return err
	}
	if err := r.intents.SetStatus(ctx, intent.ID, domain.IntentCompleted); err != nil {
		r.logger.Warn("Reconciler could not mark intent completed", "intent", intent.ID, "error", err)
		return err
	}
	r.logger.Info("Reconciler completed unlock", "intent", intent.ID, "subject", intent.Subject)
	r.send(ctx, intent.Subject, "Your promo unlock has been completed.")
	return nil
}

func (r *Reconciler) refund(ctx context.Context, intent domain.UnlockIntent) {
	// Mark refunded before crediting so a crash cannot double-refund; a
	// failed credit flips the intent back for the next pass.
	if err := r.intents.SetStatus(ctx, intent.ID, domain.IntentRefunded); err != nil {
		r.logger.Warn("Reconciler could not mark intent refunded", "intent", intent.ID, "error", err)
		return
	}
	newBalance, err := r.ledger.ApplyAdjustment(ctx, intent.Subject, intent.FeeMinor,
		"Refund unlock intent "+intent.ID.String())
	if err != nil {
		r.logger.Error("Refund failed, reverting intent to debited", "intent", intent.ID, "error", err)
		if revertErr := r.intents.SetStatus(ctx, intent.ID, domain.IntentDebited); revertErr != nil {
			r.logger.Error("Could not revert intent, manual review required",
				"intent", intent.ID, "error", revertErr)
		}
		return
	}
	r.logger.Info("Reconciler refunded unlock",
		"intent", intent.ID, "subject", intent.Subject, "new_balance", newBalance)
	r.send(ctx, intent.Subject, fmt.Sprintf(
		"Your promo unlock could not be completed. %d has been refunded.\nNew balance: %d",
		intent.FeeMinor, newBalance))
}

func (r *Reconciler) send(ctx context.Context, subject, text string) {
	if err := r.notifier.SendText(ctx, subject, text); err != nil {
		r.logger.Warn("Notification failed", "subject", subject, "error", err)
	}
}
