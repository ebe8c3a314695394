package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/fjod/go_food/internal/domain"
	"github.com/fjod/go_food/internal/payment"
	"github.com/fjod/go_food/internal/repository"
	"github.com/fjod/go_food/pkg/metrics"
	"github.com/google/uuid"
)

type Outcome string

const (
	OutcomeSuccess          Outcome = "success"
	OutcomeAlreadyProcessed Outcome = "already_processed"
	OutcomeFailure          Outcome = "failure"
)

// Failure reasons recorded on intents that were paid but could not become an
// order. Such intents stay Failed until a later notification retries them.
const (
	FailureCartEmpty       = "cart_empty"
	FailureCartChanged     = "cart_changed"
	FailureInvalidMetadata = "invalid_metadata"
)

type ReconcileResult struct {
	Outcome Outcome
	TxRef   string
	OrderID *uuid.UUID
}

// Reconciler settles payment intents from gateway notifications. The
// reported status of a notification is never trusted; every unsettled
// intent is verified with the gateway.
type Reconciler struct {
	store         repository.Store
	verifier      payment.Verifier
	verifyTimeout time.Duration
	log           *slog.Logger
	metrics       *metrics.Metrics
	now           func() time.Time
}

func NewReconciler(store repository.Store, verifier payment.Verifier, verifyTimeout time.Duration, log *slog.Logger, m *metrics.Metrics) *Reconciler {
	return &Reconciler{
		store:         store,
		verifier:      verifier,
		verifyTimeout: verifyTimeout,
		log:           log,
		metrics:       m,
		now:           time.Now,
	}
}

// Reconcile processes one notification for txRef. It is safe to call any
// number of times: once the intent is settled it returns the stored order
// without side effects. The order is built from the cart at confirmation
// time and its total must equal the intent amount. When no order can be
// created the intent is marked Failed and the error is returned together
// with the result.
func (r *Reconciler) Reconcile(ctx context.Context, txRef, reportedStatus string) (*ReconcileResult, error) {
	txRef = strings.TrimSpace(txRef)
	if txRef == "" {
		r.metrics.ReconcileOutcome(string(KindMissingReference))
		return nil, ErrMissingReference
	}

	result := &ReconcileResult{TxRef: txRef}
	var settleErr error // why the intent was marked Failed
	err := r.store.WithTx(ctx, func(tx repository.Tx) error {
		intent, err := tx.LockIntent(ctx, txRef)
		if err != nil {
			return storeError("lock payment intent", err)
		}
		if intent.IsSettled() {
			result.Outcome = OutcomeAlreadyProcessed
			result.OrderID = intent.OrderID
			return nil
		}

		fail := func(reason string, cause error) error {
			intent.Status = domain.IntentStatusFailed
			intent.FailureReason = reason
			result.Outcome = OutcomeFailure
			settleErr = cause
			if err := tx.UpdateIntent(ctx, intent); err != nil {
				return storeError("record payment failure", err)
			}
			return nil
		}

		v, err := r.verify(ctx, txRef)
		if err != nil {
			return &Error{Kind: KindVerificationUnavailable, Message: "payment verification unavailable", Err: err}
		}
		if reason := deniedReason(intent, v); reason != "" {
			r.log.DebugContext(ctx, "gateway verification response", "tx_ref", txRef, "raw", string(v.Raw))
			return fail(reason, &Error{Kind: KindVerificationFailed, Message: ErrVerificationFailed.Message + ": " + reason})
		}

		lines, err := tx.LockCart(ctx, intent.UserID)
		if err != nil {
			return storeError("lock cart", err)
		}
		if len(lines) == 0 {
			return fail(FailureCartEmpty, ErrCartEmptyAtFinalization)
		}

		now := r.now()
		if total := domain.PriceLines(lines, now).TotalAmount; !total.Equal(intent.Amount) {
			msg := "cart total " + total.StringFixed(2) + " does not match paid amount " + intent.Amount.StringFixed(2)
			return fail(FailureCartChanged+": "+msg, &Error{Kind: KindAmountMismatch, Message: msg})
		}
		delivery, err := intent.Metadata.Normalize(now)
		if err != nil {
			return fail(FailureInvalidMetadata+": "+err.Error(), invalidDelivery(err))
		}
		order, err := finalize(ctx, tx, finalization{
			userID:   intent.UserID,
			lines:    lines,
			delivery: delivery,
			txRef:    txRef,
			at:       now,
		})
		if err != nil {
			return err
		}

		intent.Status = domain.IntentStatusSuccess
		intent.OrderID = &order.ID
		intent.FailureReason = ""
		if err := tx.UpdateIntent(ctx, intent); err != nil {
			return storeError("record payment success", err)
		}
		result.Outcome = OutcomeSuccess
		result.OrderID = &order.ID
		return nil
	})
	if err != nil {
		r.metrics.ReconcileOutcome(outcomeLabel(err))
		r.log.WarnContext(ctx, "reconciliation failed", "tx_ref", txRef, "reported_status", reportedStatus, "error", err)
		return nil, err
	}

	if settleErr != nil {
		r.metrics.ReconcileOutcome(outcomeLabel(settleErr))
		r.log.WarnContext(ctx, "payment intent marked failed", "tx_ref", txRef, "reported_status", reportedStatus, "kind", KindOf(settleErr), "error", settleErr)
		return result, settleErr
	}
	r.metrics.ReconcileOutcome(string(result.Outcome))
	r.log.InfoContext(ctx, "payment reconciled", "tx_ref", txRef, "outcome", result.Outcome, "order_id", result.OrderID)
	return result, nil
}

func (r *Reconciler) verify(ctx context.Context, txRef string) (*payment.Verification, error) {
	if r.verifyTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.verifyTimeout)
		defer cancel()
	}
	return r.verifier.Verify(ctx, txRef)
}

// deniedReason returns why v does not confirm intent, or "" when it does.
func deniedReason(intent *domain.PaymentIntent, v *payment.Verification) string {
	if !v.Success {
		if v.Status != "" {
			return "gateway status " + v.Status
		}
		return "gateway denied payment"
	}
	if !v.Amount.IsZero() && !v.Amount.Equal(intent.Amount) {
		return "amount mismatch: paid " + v.Amount.StringFixed(2) + ", expected " + intent.Amount.StringFixed(2)
	}
	return ""
}
