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

// BalanceOp selects the balance mutation semantics.
type BalanceOp string

const (
	// OpAdd credits: new = old + amount.
	OpAdd BalanceOp = "add"
	// OpSubtract debits with a floor at zero: new = max(0, old - amount).
	// The clamp is policy, not a silent failure.
	OpSubtract BalanceOp = "subtract"
	// OpSet overwrites: new = amount. Amount zero is a full reset.
	OpSet BalanceOp = "set"
)

const userCacheTTL = 10 * time.Minute

// BalanceStore owns each user's running balance. All mutations serialize on
// a row lock; users are created lazily on first touch. The cache in front
// is read-through and never authoritative.
type BalanceStore struct {
	db     *sql.DB
	cache  *redis.Cache
	logger logging.Entry
}

// NewBalanceStore creates a balance store. cache may be nil.
func NewBalanceStore(db *sql.DB, cache *redis.Cache, logger logging.Logger) *BalanceStore {
	return &BalanceStore{
		db:     db,
		cache:  cache,
		logger: logging.WithComponent(logger, "balance_store"),
	}
}

func userCacheKey(userID int64) string {
	return fmt.Sprintf("user:%d", userID)
}

func validateAdjust(amount int, op BalanceOp) error {
	switch op {
	case OpAdd, OpSubtract:
		if amount <= 0 {
			return &ValidationError{Field: "amount", Reason: "must be positive"}
		}
	case OpSet:
		if amount < 0 {
			return &ValidationError{Field: "amount", Reason: "must not be negative"}
		}
	default:
		return &ValidationError{Field: "op", Reason: fmt.Sprintf("unknown operation %q", op)}
	}
	return nil
}

// Adjust applies one balance mutation atomically and returns the balance
// before and after. Two concurrent adds are both reflected; subtract never
// drives the balance below zero.
func (s *BalanceStore) Adjust(ctx context.Context, userID int64, amount int, op BalanceOp) (int, int, error) {
	if err := validateAdjust(amount, op); err != nil {
		return 0, 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback is best-effort

	oldBalance, newBalance, err := s.adjustTx(ctx, tx, userID, amount, op)
	if err != nil {
		return 0, 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("failed to commit balance adjustment: %w", err)
	}

	s.invalidate(ctx, userID)

	s.logger.WithFields(logging.Fields{
		"user_id":     userID,
		"op":          op,
		"amount":      amount,
		"old_balance": oldBalance,
		"new_balance": newBalance,
	}).Info("Balance adjusted")

	return oldBalance, newBalance, nil
}

// adjustTx performs the mutation inside an existing transaction. The caller
// owns commit/rollback and must invalidate the cache after a successful
// commit.
func (s *BalanceStore) adjustTx(ctx context.Context, tx *sql.Tx, userID int64, amount int, op BalanceOp) (int, int, error) {
	// Lazy user creation on first touch.
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO users (user_id) VALUES ($1)
		ON CONFLICT (user_id) DO NOTHING
	`, userID); err != nil {
		return 0, 0, fmt.Errorf("failed to ensure user: %w", err)
	}

	var oldBalance int
	err := tx.QueryRowContext(ctx, `
		SELECT balance FROM users WHERE user_id = $1 FOR UPDATE
	`, userID).Scan(&oldBalance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, 0, fmt.Errorf("user %d: %w", userID, ErrNotFound)
		}
		return 0, 0, fmt.Errorf("failed to lock user balance: %w", err)
	}

	newBalance := oldBalance
	switch op {
	case OpAdd:
		newBalance = oldBalance + amount
	case OpSubtract:
		newBalance = oldBalance - amount
		if newBalance < 0 {
			newBalance = 0
		}
	case OpSet:
		newBalance = amount
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE users SET balance = $1, updated_at = NOW() WHERE user_id = $2
	`, newBalance, userID); err != nil {
		return 0, 0, fmt.Errorf("failed to update balance: %w", err)
	}

	return oldBalance, newBalance, nil
}

// debitTx debits exactly amount under a row lock, failing instead of
// clamping when the balance cannot cover it. Withdrawal reservations use
// this; administrative subtracts use adjustTx with its zero floor.
func (s *BalanceStore) debitTx(ctx context.Context, tx *sql.Tx, userID int64, amount int) (int, int, error) {
	if amount <= 0 {
		return 0, 0, &ValidationError{Field: "amount", Reason: "must be positive"}
	}

	var oldBalance int
	err := tx.QueryRowContext(ctx, `
		SELECT balance FROM users WHERE user_id = $1 FOR UPDATE
	`, userID).Scan(&oldBalance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, 0, fmt.Errorf("user %d: %w", userID, ErrNotFound)
		}
		return 0, 0, fmt.Errorf("failed to lock user balance: %w", err)
	}

	if oldBalance < amount {
		return 0, 0, &ValidationError{Field: "amount", Reason: "insufficient balance"}
	}

	newBalance := oldBalance - amount
	if _, err := tx.ExecContext(ctx, `
		UPDATE users SET balance = $1, updated_at = NOW() WHERE user_id = $2
	`, newBalance, userID); err != nil {
		return 0, 0, fmt.Errorf("failed to update balance: %w", err)
	}

	return oldBalance, newBalance, nil
}

// GetUser fetches a user through the cache. A cache hit never feeds a
// mutating path; mutators read under a row lock instead.
func (s *BalanceStore) GetUser(ctx context.Context, userID int64) (*models.User, error) {
	var cached models.User
	if s.cache.GetJSON(ctx, userCacheKey(userID), &cached) {
		return &cached, nil
	}

	var user models.User
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, balance, is_banned, created_at, updated_at
		FROM users WHERE user_id = $1
	`, userID).Scan(&user.UserID, &user.Balance, &user.IsBanned, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user %d: %w", userID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to fetch user: %w", err)
	}

	s.cache.SetJSON(ctx, userCacheKey(userID), &user, userCacheTTL)
	return &user, nil
}

// EnsureUser creates the user row if absent and returns the current state.
func (s *BalanceStore) EnsureUser(ctx context.Context, userID int64) (*models.User, error) {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO users (user_id) VALUES ($1)
		ON CONFLICT (user_id) DO NOTHING
	`, userID); err != nil {
		return nil, fmt.Errorf("failed to ensure user: %w", err)
	}
	s.invalidate(ctx, userID)
	return s.GetUser(ctx, userID)
}

// SetBanned flips the banned flag.
func (s *BalanceStore) SetBanned(ctx context.Context, userID int64, banned bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET is_banned = $1, updated_at = NOW() WHERE user_id = $2
	`, banned, userID)
	if err != nil {
		return fmt.Errorf("failed to update banned flag: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return fmt.Errorf("user %d: %w", userID, ErrNotFound)
	}
	s.invalidate(ctx, userID)
	return nil
}

func (s *BalanceStore) invalidate(ctx context.Context, userID int64) {
	s.cache.Delete(ctx, userCacheKey(userID))
}
