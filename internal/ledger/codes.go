package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/levantcash/bursar/pkg/logging"
	"github.com/levantcash/bursar/pkg/models"
	"github.com/levantcash/bursar/pkg/redis"
)

const (
	codeAvailabilityTTL        = 60 * time.Second
	codeAvailabilityKeyPattern = "code_available:*"

	// codeSelectAttempts bounds the re-selection loop in
	// allocateAndCommitTx.
	codeSelectAttempts = 3
)

// CodeAllocator manages the shared pool of capacity-limited payment codes.
// Allocation picks the least-filled active code that still has room, which
// keeps utilization even across the pool.
type CodeAllocator struct {
	db     *sql.DB
	cache  *redis.Cache
	logger logging.Entry
}

// NewCodeAllocator creates the allocator. cache may be nil.
func NewCodeAllocator(db *sql.DB, cache *redis.Cache, logger logging.Logger) *CodeAllocator {
	return &CodeAllocator{
		db:     db,
		cache:  cache,
		logger: logging.WithComponent(logger, "code_allocator"),
	}
}

func codeAvailabilityKey(amount int) string {
	return fmt.Sprintf("code_available:%d", amount)
}

// invalidateAvailability drops all cached availability answers. Called
// after any mutation of the pool.
func (a *CodeAllocator) invalidateAvailability(ctx context.Context) {
	a.cache.DeletePattern(ctx, codeAvailabilityKeyPattern)
}

// Peek reports whether some active code could absorb the given amount,
// without reserving anything. Used for pre-flight UX checks; the cached
// answer can be briefly stale, which is safe because AllocateAndCommit
// re-verifies under a lock.
func (a *CodeAllocator) Peek(ctx context.Context, amount int) (bool, error) {
	key := codeAvailabilityKey(amount)
	var available bool
	if a.cache.GetJSON(ctx, key, &available) {
		return available, nil
	}

	var exists bool
	err := a.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM payment_codes
			WHERE is_active = TRUE AND current_amount + $1 <= max_amount
		)
	`, amount).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check code availability: %w", err)
	}

	a.cache.SetJSON(ctx, key, exists, codeAvailabilityTTL)
	return exists, nil
}

// allocateAndCommitTx reserves the least-filled code with room for amount
// and books the amount against it, all under the caller's transaction. The
// selection and the increment share one row lock, so two concurrent
// deposits can never oversubscribe a code past its cap.
func (a *CodeAllocator) allocateAndCommitTx(ctx context.Context, tx *sql.Tx, amount int) (*models.PaymentCode, error) {
	if amount <= 0 {
		return nil, &ValidationError{Field: "amount", Reason: "must be positive"}
	}

	// Under read committed, waiting on the lock of the least-filled
	// candidate can disqualify it after the wait, surfacing zero rows even
	// though another code still has room. Re-running the selection sees a
	// fresh snapshot, so retry a few times before declaring exhaustion.
	var code models.PaymentCode
	found := false
	for attempt := 0; attempt < codeSelectAttempts && !found; attempt++ {
		err := tx.QueryRowContext(ctx, `
			SELECT id, code, current_amount, max_amount
			FROM payment_codes
			WHERE is_active = TRUE AND current_amount + $1 <= max_amount
			ORDER BY current_amount ASC, id ASC
			LIMIT 1
			FOR UPDATE
		`, amount).Scan(&code.ID, &code.Code, &code.CurrentAmount, &code.MaxAmount)
		if err == nil {
			found = true
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("failed to select payment code: %w", err)
		}
	}
	if !found {
		return nil, fmt.Errorf("no code can absorb %d: %w", amount, ErrCapacityExhausted)
	}

	code.CurrentAmount += amount
	if _, err := tx.ExecContext(ctx, `
		UPDATE payment_codes
		SET current_amount = current_amount + $1, last_used = NOW()
		WHERE id = $2
	`, amount, code.ID); err != nil {
		return nil, fmt.Errorf("failed to book amount against code: %w", err)
	}

	code.IsActive = true
	return &code, nil
}

// AllocateAndCommit reserves capacity in its own transaction and returns
// the chosen code with its updated fill level.
func (a *CodeAllocator) AllocateAndCommit(ctx context.Context, amount int) (*models.PaymentCode, error) {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	code, err := a.allocateAndCommitTx(ctx, tx, amount)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit code allocation: %w", err)
	}

	a.invalidateAvailability(ctx)

	a.logger.WithFields(logging.Fields{
		"code_id":        code.ID,
		"code":           code.Code,
		"amount":         amount,
		"current_amount": code.CurrentAmount,
		"max_amount":     code.MaxAmount,
	}).Info("Payment code allocated")

	return code, nil
}

// Release returns previously booked capacity, clamped at zero. Used when a
// deposit that reserved capacity is rejected.
func (a *CodeAllocator) Release(ctx context.Context, codeID int64, amount int) error {
	if amount <= 0 {
		return &ValidationError{Field: "amount", Reason: "must be positive"}
	}
	res, err := a.db.ExecContext(ctx, `
		UPDATE payment_codes
		SET current_amount = GREATEST(0, current_amount - $1)
		WHERE id = $2
	`, amount, codeID)
	if err != nil {
		return fmt.Errorf("failed to release code capacity: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return fmt.Errorf("payment code %d: %w", codeID, ErrNotFound)
	}
	a.invalidateAvailability(ctx)
	return nil
}

// DailyReset zeroes the fill level of every code that opted into daily
// resets and returns how many were reset.
func (a *CodeAllocator) DailyReset(ctx context.Context) (int, error) {
	res, err := a.db.ExecContext(ctx, `
		UPDATE payment_codes
		SET current_amount = 0
		WHERE daily_reset = TRUE AND current_amount > 0
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to reset payment codes: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read reset result: %w", err)
	}
	a.invalidateAvailability(ctx)

	a.logger.WithFields(logging.Fields{"codes_reset": rows}).Info("Daily payment code reset completed")
	return int(rows), nil
}

// Add registers a new payment code. maxAmount zero falls back to the
// pool default enforced by the caller.
func (a *CodeAllocator) Add(ctx context.Context, code string, maxAmount int, dailyReset bool) (*models.PaymentCode, error) {
	if code == "" {
		return nil, &ValidationError{Field: "code", Reason: "must not be empty"}
	}
	if maxAmount <= 0 {
		return nil, &ValidationError{Field: "max_amount", Reason: "must be positive"}
	}

	var created models.PaymentCode
	err := a.db.QueryRowContext(ctx, `
		INSERT INTO payment_codes (code, max_amount, daily_reset)
		VALUES ($1, $2, $3)
		RETURNING id, code, current_amount, max_amount, is_active, daily_reset, created_at
	`, code, maxAmount, dailyReset).Scan(
		&created.ID, &created.Code, &created.CurrentAmount, &created.MaxAmount,
		&created.IsActive, &created.DailyReset, &created.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to add payment code: %w", err)
	}

	a.invalidateAvailability(ctx)
	a.logger.WithFields(logging.Fields{"code_id": created.ID, "code": created.Code}).Info("Payment code added")
	return &created, nil
}

// Remove retires a code. Codes already referenced by transaction history
// are only deactivated so exports stay resolvable; unreferenced codes are
// deleted outright. Returns true when the row was deleted.
func (a *CodeAllocator) Remove(ctx context.Context, codeID int64) (bool, error) {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var code string
	err = tx.QueryRowContext(ctx, `
		SELECT code FROM payment_codes WHERE id = $1 FOR UPDATE
	`, codeID).Scan(&code)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, fmt.Errorf("payment code %d: %w", codeID, ErrNotFound)
		}
		return false, fmt.Errorf("failed to lock payment code: %w", err)
	}

	var referenced bool
	err = tx.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM transactions WHERE account_number = $1)
	`, code).Scan(&referenced)
	if err != nil {
		return false, fmt.Errorf("failed to check code references: %w", err)
	}

	if referenced {
		if _, err := tx.ExecContext(ctx, `
			UPDATE payment_codes SET is_active = FALSE WHERE id = $1
		`, codeID); err != nil {
			return false, fmt.Errorf("failed to deactivate payment code: %w", err)
		}
	} else {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM payment_codes WHERE id = $1
		`, codeID); err != nil {
			return false, fmt.Errorf("failed to delete payment code: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit code removal: %w", err)
	}

	a.invalidateAvailability(ctx)
	a.logger.WithFields(logging.Fields{"code_id": codeID, "deleted": !referenced}).Info("Payment code removed")
	return !referenced, nil
}

// SetActive enables or disables a code for allocation. Disabling does not
// touch its booked capacity.
func (a *CodeAllocator) SetActive(ctx context.Context, codeID int64, active bool) error {
	res, err := a.db.ExecContext(ctx, `
		UPDATE payment_codes SET is_active = $1 WHERE id = $2
	`, active, codeID)
	if err != nil {
		return fmt.Errorf("failed to update code state: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return fmt.Errorf("payment code %d: %w", codeID, ErrNotFound)
	}
	a.invalidateAvailability(ctx)
	return nil
}

// List returns all payment codes, fullest first.
func (a *CodeAllocator) List(ctx context.Context) ([]models.PaymentCode, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT id, code, current_amount, max_amount, is_active, daily_reset, last_used, created_at
		FROM payment_codes
		ORDER BY current_amount DESC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list payment codes: %w", err)
	}
	defer rows.Close()

	var out []models.PaymentCode
	for rows.Next() {
		var c models.PaymentCode
		if err := rows.Scan(&c.ID, &c.Code, &c.CurrentAmount, &c.MaxAmount,
			&c.IsActive, &c.DailyReset, &c.LastUsed, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan payment code: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate payment codes: %w", err)
	}
	return out, nil
}

// Stats summarizes the pool's utilization.
func (a *CodeAllocator) Stats(ctx context.Context) (*models.CodeStats, error) {
	var s models.CodeStats
	err := a.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE is_active),
			COUNT(*) FILTER (WHERE is_active AND current_amount >= max_amount),
			COALESCE(SUM(current_amount), 0),
			COALESCE(SUM(max_amount) FILTER (WHERE is_active), 0)
		FROM payment_codes
	`).Scan(&s.TotalCodes, &s.ActiveCodes, &s.FullCodes, &s.TotalUsed, &s.TotalCapacity)
	if err != nil {
		return nil, fmt.Errorf("failed to compute code stats: %w", err)
	}
	return &s, nil
}
