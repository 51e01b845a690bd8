package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"balance-service/internal/domain"
	"balance-service/internal/errors"
	"balance-service/internal/ledger"
	"balance-service/internal/passcode"
	"balance-service/internal/rates"
)

// Fixed price table. The premium split is deliberately not a closed
// transfer: the cost minus the owner share is consumed by the platform.
const (
	PremiumCostMinor int64 = 5000
	OwnerShareMinor  int64 = 2500
	PromoFeeMinor    int64 = 1000
)

// AdjustmentDirection is the operator's choice on a manual adjustment.
type AdjustmentDirection string

const (
	DirectionCredit AdjustmentDirection = "credit"
	DirectionDebit  AdjustmentDirection = "debit"
)

// Engine orchestrates the ledger, passcode authority, rate provider and
// notification channel into the user-facing operations. Every operation is
// single-shot: validate, authorize, read, compute, commit, then best-effort
// notifications.
type Engine struct {
	ledger    *ledger.Ledger
	members   *ledger.Members
	intents   *ledger.Intents
	passcodes *passcode.Authority
	rates     domain.RateProvider
	notifier  domain.Notifier
	operator  string
	logger    *slog.Logger
}

func NewEngine(
	l *ledger.Ledger,
	members *ledger.Members,
	intents *ledger.Intents,
	passcodes *passcode.Authority,
	rateProvider domain.RateProvider,
	notifier domain.Notifier,
	operator string,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		ledger:    l,
		members:   members,
		intents:   intents,
		passcodes: passcodes,
		rates:     rateProvider,
		notifier:  notifier,
		operator:  operator,
		logger:    logger,
	}
}

// BalanceInfo is a balance in minor units plus its USD conversion at the
// rate that was used.
type BalanceInfo struct {
	Subject string          `json:"subject"`
	Minor   int64           `json:"minor"`
	USD     decimal.Decimal `json:"usd"`
	Rate    decimal.Decimal `json:"rate"`
}

func (e *Engine) balanceInfo(subject string, minor int64, rate decimal.Decimal) BalanceInfo {
	return BalanceInfo{
		Subject: subject,
		Minor:   minor,
		USD:     rates.ToUSD(minor, rate),
		Rate:    rate,
	}
}

// GetBalance returns the subject's balance; a subject that was never seen
// before reads as zero.
func (e *Engine) GetBalance(ctx context.Context, subject string) (BalanceInfo, error) {
	if subject == "" {
		return BalanceInfo{}, errors.NewAppError(errors.InvalidInput, "missing subject")
	}
	minor, err := e.ledger.GetBalance(ctx, subject)
	if err != nil {
		return BalanceInfo{}, err
	}
	return e.balanceInfo(subject, minor, e.rates.MinorPerUSD(ctx)), nil
}

// IssuePasscode requests a one-time code for the given purpose. The code is
// delivered to the subject's chat, never returned to the caller.
func (e *Engine) IssuePasscode(ctx context.Context, subject string, purpose domain.PasscodePurpose) error {
	_, err := e.passcodes.Issue(ctx, subject, purpose)
	return err
}

// WithdrawRequest describes a withdrawal of amount minor units to an
// external destination. Destination details are opaque to the ledger; they
// are only relayed to the operator.
type WithdrawRequest struct {
	Subject     string
	AmountMinor int64
	Method      string
	Destination map[string]string
	Passcode    string
}

// Withdraw debits the subject after passcode authorization and reports the
// request to the operator for manual payout.
func (e *Engine) Withdraw(ctx context.Context, req WithdrawRequest) (BalanceInfo, error) {
	if req.Subject == "" {
		return BalanceInfo{}, errors.NewAppError(errors.InvalidInput, "missing subject")
	}
	if req.AmountMinor <= 0 {
		return BalanceInfo{}, errors.ErrInvalidAmount
	}
	if err := e.requirePasscode(ctx, req.Subject, req.Passcode, domain.PurposeWithdraw); err != nil {
		return BalanceInfo{}, err
	}

	before, _ := e.ledger.GetBalance(ctx, req.Subject)
	newBalance, err := e.ledger.ApplyAdjustment(ctx, req.Subject, -req.AmountMinor,
		fmt.Sprintf("Withdraw %s", req.Subject))
	if err != nil {
		return BalanceInfo{}, err
	}

	rate := e.rates.MinorPerUSD(ctx)
	info := e.balanceInfo(req.Subject, newBalance, rate)

	e.notify(ctx, e.operator, fmt.Sprintf(
		"WITHDRAW REQUEST\nUser: %s\nMethod: %s\nAmount: %d ($%s)\nBefore: %d\nAfter: %d\nDetails: %v",
		req.Subject, req.Method, req.AmountMinor, rates.ToUSD(req.AmountMinor, rate), before, newBalance, req.Destination))
	e.notify(ctx, req.Subject, fmt.Sprintf(
		"Withdrawal request received.\nAmount: %d ($%s)\nNew balance: %d",
		req.AmountMinor, rates.ToUSD(req.AmountMinor, rate), newBalance))

	e.logger.Info("Withdrawal committed", "subject", req.Subject, "amount", req.AmountMinor, "new_balance", newBalance)
	return info, nil
}

// PremiumPurchaseRequest is a premium unlock by buyer, optionally referred
// by a group owner who earns a fixed share of the cost.
type PremiumPurchaseRequest struct {
	Buyer     string
	BuyerName string
	Owner     string
	OwnerName string
	GroupName string
	Passcode  string
}

// PremiumPurchaseResult is the cost breakdown after a successful purchase.
type PremiumPurchaseResult struct {
	Buyer         BalanceInfo     `json:"buyer"`
	Owner         *BalanceInfo    `json:"owner,omitempty"`
	CostMinor     int64           `json:"cost_minor"`
	CostUSD       decimal.Decimal `json:"cost_usd"`
	OwnerShare    int64           `json:"owner_share_minor"`
	OwnerCredited bool            `json:"owner_credited"`
}

// PremiumPurchase debits the fixed premium cost from the buyer and credits
// the owner share to the referring group owner, both from one snapshot in
// one store write. The owner is eligible only when present and distinct
// from the buyer.
func (e *Engine) PremiumPurchase(ctx context.Context, req PremiumPurchaseRequest) (PremiumPurchaseResult, error) {
	if req.Buyer == "" {
		return PremiumPurchaseResult{}, errors.NewAppError(errors.InvalidInput, "missing buyer")
	}
	if err := e.requirePasscode(ctx, req.Buyer, req.Passcode, domain.PurposePremium); err != nil {
		return PremiumPurchaseResult{}, err
	}

	creditSubject := ""
	if req.Owner != "" && req.Owner != req.Buyer {
		creditSubject = req.Owner
	}

	note := fmt.Sprintf("Premium purchase: buyer=%s", req.Buyer)
	if creditSubject != "" {
		note += " owner=" + creditSubject
	}
	newBuyerBalance, newOwnerBalance, err := e.ledger.ApplySplit(
		ctx, req.Buyer, PremiumCostMinor, creditSubject, OwnerShareMinor, note)
	if err != nil {
		return PremiumPurchaseResult{}, err
	}

	rate := e.rates.MinorPerUSD(ctx)
	result := PremiumPurchaseResult{
		Buyer:         e.balanceInfo(req.Buyer, newBuyerBalance, rate),
		CostMinor:     PremiumCostMinor,
		CostUSD:       rates.ToUSD(PremiumCostMinor, rate),
		OwnerShare:    OwnerShareMinor,
		OwnerCredited: creditSubject != "",
	}

	e.notify(ctx, req.Buyer, fmt.Sprintf(
		"You are now Premium!\n%d deducted.\nNew balance: %d ($%s)",
		PremiumCostMinor, newBuyerBalance, result.Buyer.USD))

	if creditSubject != "" {
		ownerInfo := e.balanceInfo(creditSubject, newOwnerBalance, rate)
		result.Owner = &ownerInfo
		group := req.GroupName
		if group == "" {
			group = "a group"
		}
		e.notify(ctx, creditSubject, fmt.Sprintf(
			"Earnings alert: %s bought Premium in %s.\nYou earned %d.\nNew balance: %d ($%s)",
			req.BuyerName, group, OwnerShareMinor, newOwnerBalance, ownerInfo.USD))
	}

	operatorText := fmt.Sprintf(
		"PREMIUM PURCHASE\nBuyer: %s (%s)\nPaid: %d ($%s)\nBuyer balance: %d",
		req.BuyerName, req.Buyer, PremiumCostMinor, result.CostUSD, newBuyerBalance)
	if creditSubject != "" {
		operatorText += fmt.Sprintf("\nOwner: %s (%s)\nOwner earned: %d\nOwner balance: %d",
			req.OwnerName, creditSubject, OwnerShareMinor, newOwnerBalance)
	} else {
		operatorText += "\nDirect purchase (no group)"
	}
	e.notify(ctx, e.operator, operatorText)

	e.logger.Info("Premium purchase committed",
		"buyer", req.Buyer, "owner", creditSubject, "buyer_balance", newBuyerBalance)
	return result, nil
}

// PromoUnlockResult carries the post-debit balance and the intent token that
// keys the unlock across both stores.
type PromoUnlockResult struct {
	Balance         BalanceInfo `json:"balance"`
	MembershipToken uuid.UUID   `json:"membership_token"`
}

// PromoUnlock debits the promo fee and adds the subject to the membership
// set. The two writes go to different documents with no shared transaction,
// so the unlock is recorded as an intent first: if the membership add fails
// after the debit committed, the reconciler completes (or eventually
// refunds) the intent.
func (e *Engine) PromoUnlock(ctx context.Context, subject, code string) (PromoUnlockResult, error) {
	if subject == "" {
		return PromoUnlockResult{}, errors.NewAppError(errors.InvalidInput, "missing subject")
	}

	member, err := e.members.Contains(ctx, subject)
	if err != nil {
		return PromoUnlockResult{}, err
	}
	if member {
		return PromoUnlockResult{}, errors.ErrAlreadyUnlocked
	}

	if err := e.requirePasscode(ctx, subject, code, domain.PurposePromo); err != nil {
		return PromoUnlockResult{}, err
	}

	intent, err := e.intents.Create(ctx, subject, PromoFeeMinor)
	if err != nil {
		return PromoUnlockResult{}, err
	}

	newBalance, err := e.ledger.ApplyAdjustment(ctx, subject, -PromoFeeMinor,
		fmt.Sprintf("Promo unlock %s intent %s", subject, intent.ID))
	if err != nil {
		if delErr := e.intents.Delete(ctx, intent.ID); delErr != nil {
			e.logger.Error("Failed to drop unlock intent after failed debit",
				"intent", intent.ID, "error", delErr)
		}
		return PromoUnlockResult{}, err
	}

	if err := e.intents.SetStatus(ctx, intent.ID, domain.IntentDebited); err != nil {
		// The fee is taken but the intent still reads pending; flag loudly,
		// this needs operator review if the next step also fails.
		e.logger.Error("Failed to mark unlock intent debited",
			"intent", intent.ID, "subject", subject, "error", err)
	}

	if err := e.members.Add(ctx, subject, "Promo unlock "+intent.ID.String()); err != nil {
		e.logger.Error("Membership add failed after debit, leaving intent for reconciler",
			"intent", intent.ID, "subject", subject, "error", err)
		return PromoUnlockResult{}, err
	}

	if err := e.intents.SetStatus(ctx, intent.ID, domain.IntentCompleted); err != nil {
		// Member is unlocked and paid; the reconciler will re-complete the
		// intent, and the membership add is idempotent.
		e.logger.Error("Failed to mark unlock intent completed", "intent", intent.ID, "error", err)
	}

	rate := e.rates.MinorPerUSD(ctx)
	e.notify(ctx, subject, fmt.Sprintf(
		"Promo unlocked!\n%d deducted.\nNew balance: %d", PromoFeeMinor, newBalance))
	e.notify(ctx, e.operator, fmt.Sprintf(
		"PROMO UNLOCK\nUser: %s\nFee: %d\nNew balance: %d", subject, PromoFeeMinor, newBalance))

	e.logger.Info("Promo unlock committed", "subject", subject, "intent", intent.ID)
	return PromoUnlockResult{
		Balance:         e.balanceInfo(subject, newBalance, rate),
		MembershipToken: intent.ID,
	}, nil
}

// AdminAdjust applies a manual credit or debit. Operator authentication
// happens at the transport boundary; no passcode is involved.
func (e *Engine) AdminAdjust(ctx context.Context, subject string, amountMinor int64, direction AdjustmentDirection) (BalanceInfo, error) {
	if subject == "" {
		return BalanceInfo{}, errors.NewAppError(errors.InvalidInput, "missing subject")
	}
	if amountMinor <= 0 {
		return BalanceInfo{}, errors.ErrInvalidAmount
	}

	delta := amountMinor
	switch direction {
	case DirectionCredit:
	case DirectionDebit:
		delta = -amountMinor
	default:
		return BalanceInfo{}, errors.NewAppErrorf(errors.InvalidInput, "unknown direction %q", direction)
	}

	newBalance, err := e.ledger.ApplyAdjustment(ctx, subject, delta,
		fmt.Sprintf("Admin %s for %s", direction, subject))
	if err != nil {
		return BalanceInfo{}, err
	}

	rate := e.rates.MinorPerUSD(ctx)
	info := e.balanceInfo(subject, newBalance, rate)

	e.notify(ctx, e.operator, fmt.Sprintf(
		"ADMIN ACTION\nUser: %s\nAction: %s\nAmount: %d\nAfter: %d ($%s)",
		subject, direction, amountMinor, newBalance, info.USD))
	if direction == DirectionCredit {
		e.notify(ctx, subject, fmt.Sprintf(
			"Deposit received: %d credited.\nNew balance: %d ($%s)", amountMinor, newBalance, info.USD))
	} else {
		e.notify(ctx, subject, fmt.Sprintf(
			"Balance updated: %d deducted.\nNew balance: %d ($%s)", amountMinor, newBalance, info.USD))
	}

	e.logger.Info("Admin adjustment committed",
		"subject", subject, "direction", direction, "amount", amountMinor, "new_balance", newBalance)
	return info, nil
}

// AdminAddMember adds a subject to the promo membership set directly and
// returns the updated set.
func (e *Engine) AdminAddMember(ctx context.Context, subject string) ([]string, error) {
	if subject == "" {
		return nil, errors.NewAppError(errors.InvalidInput, "missing subject")
	}
	if err := e.members.Add(ctx, subject, "Admin add member "+subject); err != nil {
		return nil, err
	}
	return e.members.List(ctx)
}

// AdminRemoveMember removes a subject from the promo membership set and
// returns the updated set.
func (e *Engine) AdminRemoveMember(ctx context.Context, subject string) ([]string, error) {
	if subject == "" {
		return nil, errors.NewAppError(errors.InvalidInput, "missing subject")
	}
	if err := e.members.Remove(ctx, subject, "Admin remove member "+subject); err != nil {
		return nil, err
	}
	return e.members.List(ctx)
}

// PromoSubmission is a task or payment proof a subject submits for manual
// review. It never touches the ledger.
type PromoSubmission struct {
	Subject  string
	Name     string
	Username string
	Method   string
	Contact  string
	Image    string
	Kind     string
}

// SubmitPromoProof forwards the proof photo to the operator and confirms
// receipt to the subject. The operator send is the whole point, so its
// failure fails the operation; the subject confirmation is best effort.
func (e *Engine) SubmitPromoProof(ctx context.Context, sub PromoSubmission) error {
	if sub.Subject == "" || sub.Image == "" {
		return errors.NewAppError(errors.InvalidInput, "missing subject or image")
	}

	kind := "Payment"
	if sub.Kind == "task" {
		kind = "Task"
	}
	caption := fmt.Sprintf(
		"PROMO %s SUBMISSION\nName: %s\nUsername: %s\nID: %s\nMethod: %s\nContact: %s\nStatus: Pending review",
		kind, sub.Name, sub.Username, sub.Subject, orDash(sub.Method), orDash(sub.Contact))

	if err := e.notifier.SendPhoto(ctx, e.operator, sub.Image, caption); err != nil {
		e.logger.Error("Failed to forward promo submission", "subject", sub.Subject, "error", err)
		return errors.NewAppError(errors.InternalError, "failed to forward submission").WithDetails(err.Error())
	}

	e.notify(ctx, sub.Subject,
		fmt.Sprintf("Your %s submission has been received. The admin will review it shortly.", sub.Kind))
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// requirePasscode maps a validation outcome to the specific authorization
// error the caller sees. Lockout takes priority over the underlying reason.
func (e *Engine) requirePasscode(ctx context.Context, subject, code string, purpose domain.PasscodePurpose) error {
	outcome, err := e.passcodes.Validate(ctx, subject, code, purpose)
	if err != nil {
		return err
	}
	switch outcome {
	case domain.PasscodeAccepted:
		return nil
	case domain.PasscodeNotFound:
		return errors.NewAppError(errors.PasscodeNotFound, "no passcode outstanding, request a new code")
	case domain.PasscodeExpired:
		return errors.NewAppError(errors.PasscodeExpired, "passcode expired, request a new code")
	case domain.PasscodeLockedOut:
		return errors.NewAppError(errors.PasscodeLockedOut, "too many failed attempts, request a new code")
	default:
		return errors.NewAppError(errors.PasscodeInvalid, "invalid passcode")
	}
}

// notify is fire-and-forget: a failed send is logged and never affects the
// outcome of an already-committed operation.
func (e *Engine) notify(ctx context.Context, subject, text string) {
	if subject == "" {
		return
	}
	if err := e.notifier.SendText(ctx, subject, text); err != nil {
		e.logger.Warn("Notification failed", "subject", subject, "error", err)
	}
}
