package ledger

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/levantcash/bursar/pkg/config"
	"github.com/levantcash/bursar/pkg/kafka"
	"github.com/levantcash/bursar/pkg/logging"
	"github.com/levantcash/bursar/pkg/models"
)

// Coordinator drives the transaction lifecycle end to end: submission,
// operator or automatic decisions, and delivery. Every money movement and
// its status change commit in one database transaction; notifications and
// events fire only after the commit.
type Coordinator struct {
	db       *sql.DB
	balances *BalanceStore
	ledger   *TransactionLedger
	codes    *CodeAllocator
	notifier Notifier
	producer *kafka.Producer
	limits   config.Limits

	// codeMethods names the payment methods whose deposits consume
	// payment code capacity.
	codeMethods map[string]bool

	logger logging.Entry
}

// CoordinatorDeps collects the coordinator's collaborators. Producer may
// be nil; a nil Notifier is replaced with NopNotifier.
type CoordinatorDeps struct {
	DB          *sql.DB
	Balances    *BalanceStore
	Ledger      *TransactionLedger
	Codes       *CodeAllocator
	Notifier    Notifier
	Producer    *kafka.Producer
	Limits      config.Limits
	CodeMethods []string
}

// NewCoordinator wires the reconciliation coordinator.
func NewCoordinator(deps CoordinatorDeps, logger logging.Logger) *Coordinator {
	if deps.Notifier == nil {
		deps.Notifier = NopNotifier{}
	}
	methods := make(map[string]bool, len(deps.CodeMethods))
	for _, m := range deps.CodeMethods {
		methods[m] = true
	}
	return &Coordinator{
		db:          deps.DB,
		balances:    deps.Balances,
		ledger:      deps.Ledger,
		codes:       deps.Codes,
		notifier:    deps.Notifier,
		producer:    deps.Producer,
		limits:      deps.Limits,
		codeMethods: methods,
		logger:      logging.WithComponent(logger, "coordinator"),
	}
}

// Limits exposes the configured business bounds.
func (c *Coordinator) Limits() config.Limits { return c.limits }

// UsesCodes reports whether the payment method consumes code capacity.
func (c *Coordinator) UsesCodes(paymentMethod string) bool {
	return c.codeMethods[paymentMethod]
}

func (c *Coordinator) requireActiveUser(ctx context.Context, userID int64) error {
	user, err := c.balances.GetUser(ctx, userID)
	if err != nil {
		if IsNotFound(err) {
			// First contact; the row is created on submission.
			return nil
		}
		return err
	}
	if user.IsBanned {
		return &ValidationError{Field: "user_id", Reason: "account is suspended"}
	}
	return nil
}

// SubmitCharge records a deposit claim. For code-backed methods the amount
// is booked against a payment code in the same transaction as the insert,
// so a claim either holds capacity or does not exist.
func (c *Coordinator) SubmitCharge(ctx context.Context, userID int64, amount int, paymentMethod, externalRef string) (*models.CreateReceipt, *models.PaymentCode, error) {
	if amount < c.limits.MinDeposit || amount > c.limits.MaxDeposit {
		return nil, nil, &ValidationError{
			Field:  "amount",
			Reason: fmt.Sprintf("must be between %d and %d", c.limits.MinDeposit, c.limits.MaxDeposit),
		}
	}
	if paymentMethod == "" {
		return nil, nil, &ValidationError{Field: "payment_method", Reason: "must not be empty"}
	}
	if err := c.requireActiveUser(ctx, userID); err != nil {
		return nil, nil, err
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO users (user_id) VALUES ($1)
		ON CONFLICT (user_id) DO NOTHING
	`, userID); err != nil {
		return nil, nil, fmt.Errorf("failed to ensure user: %w", err)
	}

	var code *models.PaymentCode
	accountNumber := ""
	if c.UsesCodes(paymentMethod) {
		code, err = c.codes.allocateAndCommitTx(ctx, tx, amount)
		if err != nil {
			if IsCapacityExhausted(err) {
				c.notifier.LogToAudit(ctx, fmt.Sprintf(
					"Payment code capacity exhausted: deposit of %d via %s turned away", amount, paymentMethod))
			}
			return nil, nil, err
		}
		accountNumber = code.Code
	}

	receipt, err := c.ledger.createTx(ctx, tx, CreateParams{
		UserID:        userID,
		Type:          models.TypeCharge,
		Amount:        amount,
		PaymentMethod: paymentMethod,
		ExternalRef:   externalRef,
		AccountNumber: accountNumber,
	})
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("failed to commit charge submission: %w", err)
	}

	if code != nil {
		c.codes.invalidateAvailability(ctx)
	}
	c.publish(ctx, &kafka.LedgerEvent{
		EventType:     kafka.EventTransactionCreated,
		TransactionID: receipt.ID,
		UserID:        userID,
		Amount:        amount,
		PaymentMethod: paymentMethod,
		Status:        string(models.StatusPending),
	})

	c.logger.WithFields(logging.Fields{
		"transaction_id": receipt.ID,
		"user_id":        userID,
		"amount":         amount,
		"payment_method": paymentMethod,
	}).Info("Charge submitted")

	return receipt, code, nil
}

// SubmitWithdraw records a withdrawal request and debits the amount
// immediately. The reservation style means a pending withdrawal cannot be
// double-spent; a rejection refunds it.
func (c *Coordinator) SubmitWithdraw(ctx context.Context, userID int64, amount int, paymentMethod, accountNumber string) (*models.CreateReceipt, int, error) {
	if amount < c.limits.MinWithdraw || amount > c.limits.MaxWithdraw {
		return nil, 0, &ValidationError{
			Field:  "amount",
			Reason: fmt.Sprintf("must be between %d and %d", c.limits.MinWithdraw, c.limits.MaxWithdraw),
		}
	}
	if paymentMethod == "" {
		return nil, 0, &ValidationError{Field: "payment_method", Reason: "must not be empty"}
	}
	if accountNumber == "" {
		return nil, 0, &ValidationError{Field: "account_number", Reason: "must not be empty"}
	}
	if err := c.requireActiveUser(ctx, userID); err != nil {
		return nil, 0, err
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, newBalance, err := c.balances.debitTx(ctx, tx, userID, amount)
	if err != nil {
		return nil, 0, err
	}

	receipt, err := c.ledger.createTx(ctx, tx, CreateParams{
		UserID:        userID,
		Type:          models.TypeWithdraw,
		Amount:        amount,
		PaymentMethod: paymentMethod,
		ExternalRef:   uuid.NewString(),
		AccountNumber: accountNumber,
	})
	if err != nil {
		return nil, 0, err
	}

	if err := tx.Commit(); err != nil {
		return nil, 0, fmt.Errorf("failed to commit withdrawal submission: %w", err)
	}

	c.balances.invalidate(ctx, userID)
	c.publish(ctx, &kafka.LedgerEvent{
		EventType:     kafka.EventTransactionCreated,
		TransactionID: receipt.ID,
		UserID:        userID,
		Amount:        amount,
		PaymentMethod: paymentMethod,
		Status:        string(models.StatusPending),
	})

	c.logger.WithFields(logging.Fields{
		"transaction_id": receipt.ID,
		"user_id":        userID,
		"amount":         amount,
		"new_balance":    newBalance,
	}).Info("Withdrawal submitted")

	return receipt, newBalance, nil
}

// Approve settles a pending transaction. A charge credits the user's
// balance in the same transaction as the status change; a withdrawal was
// already debited at submission, so only the status moves. A non-empty
// notes value is recorded on the row alongside the decision; automatic
// approvals additionally land in the audit channel.
func (c *Coordinator) Approve(ctx context.Context, txID int64, actor string, verifiedAuto bool, notes string) (*models.Transaction, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	t, err := c.ledger.getForUpdateTx(ctx, tx, txID)
	if err != nil {
		return nil, err
	}
	if err := c.ledger.updateStatusTx(ctx, tx, t, models.StatusApproved, verifiedAuto, notes); err != nil {
		return nil, err
	}

	if t.Type == models.TypeCharge {
		if _, _, err := c.balances.adjustTx(ctx, tx, t.UserID, t.Amount, OpAdd); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit approval: %w", err)
	}

	t.Status = models.StatusApproved
	t.VerifiedAuto = verifiedAuto
	if notes != "" {
		t.Notes = notes
	}
	c.afterDecision(ctx, t, actor, kafka.EventTransactionApproved)

	if verifiedAuto {
		audit := fmt.Sprintf("Auto-approved %s #%d: %d for user %d (tx %d)",
			t.Type, t.OrderNumber, t.Amount, t.UserID, t.ID)
		if notes != "" {
			audit += ". " + notes
		}
		c.notifier.LogToAudit(ctx, audit)
	}

	if t.Type == models.TypeCharge {
		c.notifier.Notify(ctx, t.UserID, fmt.Sprintf(
			"Your deposit #%d of %d was approved and credited.", t.OrderNumber, t.Amount))
	} else {
		c.notifier.Notify(ctx, t.UserID, fmt.Sprintf(
			"Your withdrawal #%d of %d was approved and is being processed.", t.OrderNumber, t.Amount))
	}
	return t, nil
}

// Reject declines a pending transaction. A rejected withdrawal refunds the
// amount debited at submission in the same transaction as the status
// change. Booked code capacity stays booked; operators release it
// explicitly if the funds never arrived.
func (c *Coordinator) Reject(ctx context.Context, txID int64, actor, reason string) (*models.Transaction, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	t, err := c.ledger.getForUpdateTx(ctx, tx, txID)
	if err != nil {
		return nil, err
	}
	if err := c.ledger.updateStatusTx(ctx, tx, t, models.StatusRejected, false, reason); err != nil {
		return nil, err
	}
	if reason != "" {
		t.Notes = reason
	}

	if t.Type == models.TypeWithdraw {
		if _, _, err := c.balances.adjustTx(ctx, tx, t.UserID, t.Amount, OpAdd); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit rejection: %w", err)
	}

	t.Status = models.StatusRejected
	c.afterDecision(ctx, t, actor, kafka.EventTransactionRejected)

	msg := fmt.Sprintf("Your %s #%d of %d was declined.", t.Type, t.OrderNumber, t.Amount)
	if t.Type == models.TypeWithdraw {
		msg += " The amount was returned to your balance."
	}
	if reason != "" {
		msg += " Reason: " + reason
	}
	c.notifier.Notify(ctx, t.UserID, msg)
	return t, nil
}

// Deliver marks an approved withdrawal as paid out.
func (c *Coordinator) Deliver(ctx context.Context, txID int64, actor string) (*models.Transaction, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	t, err := c.ledger.getForUpdateTx(ctx, tx, txID)
	if err != nil {
		return nil, err
	}
	if t.Type != models.TypeWithdraw {
		return nil, fmt.Errorf("%s cannot be delivered: %w", t.Type, ErrInvalidTransition)
	}
	if err := c.ledger.updateStatusTx(ctx, tx, t, models.StatusCompleted, t.VerifiedAuto, ""); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit delivery: %w", err)
	}

	t.Status = models.StatusCompleted
	c.afterDecision(ctx, t, actor, kafka.EventTransactionDelivered)
	c.notifier.Notify(ctx, t.UserID, fmt.Sprintf(
		"Your withdrawal #%d of %d was delivered to %s.", t.OrderNumber, t.Amount, t.AccountNumber))
	return t, nil
}

// AdminAdjust mutates a balance directly and records the movement as a
// settled admin_adjust transaction in the same database transaction. A
// set that lands on the current balance records nothing.
func (c *Coordinator) AdminAdjust(ctx context.Context, userID int64, amount int, op BalanceOp, actor, reason string) (int, int, error) {
	if err := validateAdjust(amount, op); err != nil {
		return 0, 0, err
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	oldBalance, newBalance, err := c.balances.adjustTx(ctx, tx, userID, amount, op)
	if err != nil {
		return 0, 0, err
	}

	delta := newBalance - oldBalance
	if delta != 0 {
		recorded := delta
		if recorded < 0 {
			recorded = -recorded
		}
		notes := fmt.Sprintf("%s by %s", op, actor)
		if reason != "" {
			notes += ": " + reason
		}
		if _, err := c.ledger.createTx(ctx, tx, CreateParams{
			UserID:        userID,
			Type:          models.TypeAdminAdjust,
			Amount:        recorded,
			PaymentMethod: "admin",
			Status:        models.StatusApproved,
			Notes:         notes,
		}); err != nil {
			return 0, 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("failed to commit balance adjustment: %w", err)
	}

	c.balances.invalidate(ctx, userID)
	c.publish(ctx, &kafka.LedgerEvent{
		EventType: kafka.EventBalanceAdjusted,
		UserID:    userID,
		Amount:    delta,
		Actor:     actor,
	})
	c.notifier.LogToAudit(ctx, fmt.Sprintf(
		"Balance of user %d adjusted by %s: %d -> %d (%s)", userID, actor, oldBalance, newBalance, reason))

	c.logger.WithFields(logging.Fields{
		"user_id":     userID,
		"op":          op,
		"actor":       actor,
		"old_balance": oldBalance,
		"new_balance": newBalance,
	}).Info("Admin balance adjustment")

	return oldBalance, newBalance, nil
}

func (c *Coordinator) afterDecision(ctx context.Context, t *models.Transaction, actor, eventType string) {
	if t.Type == models.TypeCharge && t.Status == models.StatusApproved {
		c.balances.invalidate(ctx, t.UserID)
	}
	if t.Type == models.TypeWithdraw && t.Status == models.StatusRejected {
		c.balances.invalidate(ctx, t.UserID)
	}
	c.publish(ctx, &kafka.LedgerEvent{
		EventType:     eventType,
		TransactionID: t.ID,
		UserID:        t.UserID,
		Amount:        t.Amount,
		PaymentMethod: t.PaymentMethod,
		Status:        string(t.Status),
		VerifiedAuto:  t.VerifiedAuto,
		Actor:         actor,
	})
	c.logger.WithFields(logging.Fields{
		"transaction_id": t.ID,
		"status":         t.Status,
		"actor":          actor,
		"verified_auto":  t.VerifiedAuto,
	}).Info("Transaction decided")
}

func (c *Coordinator) publish(ctx context.Context, event *kafka.LedgerEvent) {
	c.producer.PublishLedgerEvent(ctx, event)
}
