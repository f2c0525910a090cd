package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/levantcash/bursar/pkg/logging"
	"github.com/levantcash/bursar/pkg/models"
)

// validTransitions maps the allowed status edges per transaction type.
// Charges are two-phase (pending to a terminal decision); withdrawals add
// a delivery step after approval.
var validTransitions = map[models.TransactionType]map[models.TransactionStatus][]models.TransactionStatus{
	models.TypeCharge: {
		models.StatusPending: {models.StatusApproved, models.StatusRejected},
	},
	models.TypeWithdraw: {
		models.StatusPending:  {models.StatusApproved, models.StatusRejected},
		models.StatusApproved: {models.StatusCompleted},
	},
	models.TypeAdminAdjust: {},
}

func transitionAllowed(txType models.TransactionType, from, to models.TransactionStatus) bool {
	for _, next := range validTransitions[txType][from] {
		if next == to {
			return true
		}
	}
	return false
}

// TransactionLedger is the append-only transaction log. Rows are only ever
// inserted or status-advanced; amounts and ownership never change after
// creation.
type TransactionLedger struct {
	db     *sql.DB
	logger logging.Entry
}

// NewTransactionLedger creates the ledger over an open database handle.
func NewTransactionLedger(db *sql.DB, logger logging.Logger) *TransactionLedger {
	return &TransactionLedger{
		db:     db,
		logger: logging.WithComponent(logger, "transaction_ledger"),
	}
}

const transactionColumns = `
	id, user_id, type, amount, payment_method, external_ref,
	account_number, status, verified_auto, notes, order_number, created_at`

func scanTransaction(row interface{ Scan(...any) error }) (*models.Transaction, error) {
	var t models.Transaction
	err := row.Scan(
		&t.ID, &t.UserID, &t.Type, &t.Amount, &t.PaymentMethod, &t.ExternalRef,
		&t.AccountNumber, &t.Status, &t.VerifiedAuto, &t.Notes, &t.OrderNumber, &t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// CreateParams carries the caller-supplied fields of a new transaction.
type CreateParams struct {
	UserID        int64
	Type          models.TransactionType
	Amount        int
	PaymentMethod string
	ExternalRef   string
	AccountNumber string
	Status        models.TransactionStatus
	Notes         string
}

// Create inserts a transaction in its own database transaction.
func (l *TransactionLedger) Create(ctx context.Context, p CreateParams) (*models.CreateReceipt, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	receipt, err := l.createTx(ctx, tx, p)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction insert: %w", err)
	}
	return receipt, nil
}

// createTx inserts the row and claims the next per-period order number in
// one atomic step. The counter upsert and the insert share the caller's
// database transaction, so an aborted insert never burns a number.
func (l *TransactionLedger) createTx(ctx context.Context, tx *sql.Tx, p CreateParams) (*models.CreateReceipt, error) {
	if p.Amount <= 0 {
		return nil, &ValidationError{Field: "amount", Reason: "must be positive"}
	}
	if p.Status == "" {
		p.Status = models.StatusPending
	}

	now := time.Now()
	var orderNumber int
	err := tx.QueryRowContext(ctx, `
		INSERT INTO monthly_counters (month, year, payment_method, counter)
		VALUES ($1, $2, $3, 1)
		ON CONFLICT (month, year, payment_method)
		DO UPDATE SET counter = monthly_counters.counter + 1
		RETURNING counter
	`, int(now.Month()), now.Year(), p.PaymentMethod).Scan(&orderNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to claim order number: %w", err)
	}

	var receipt models.CreateReceipt
	receipt.OrderNumber = orderNumber
	err = tx.QueryRowContext(ctx, `
		INSERT INTO transactions
			(user_id, type, amount, payment_method, external_ref,
			 account_number, status, notes, order_number)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at
	`, p.UserID, p.Type, p.Amount, p.PaymentMethod, p.ExternalRef,
		p.AccountNumber, p.Status, p.Notes, orderNumber,
	).Scan(&receipt.ID, &receipt.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert transaction: %w", err)
	}

	l.logger.WithFields(logging.Fields{
		"transaction_id": receipt.ID,
		"user_id":        p.UserID,
		"type":           p.Type,
		"amount":         p.Amount,
		"order_number":   orderNumber,
	}).Info("Transaction created")

	return &receipt, nil
}

// Get fetches one transaction by id.
func (l *TransactionLedger) Get(ctx context.Context, id int64) (*models.Transaction, error) {
	row := l.db.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id)
	t, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("transaction %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to fetch transaction: %w", err)
	}
	return t, nil
}

// updateStatusTx advances the status with a guard on the expected current
// status. When a concurrent actor already moved the row, zero rows match
// and the caller gets ErrInvalidTransition without having changed anything.
// A non-empty notes value lands in the same guarded update, so a decision
// and its annotation cannot diverge.
func (l *TransactionLedger) updateStatusTx(ctx context.Context, tx *sql.Tx, t *models.Transaction, to models.TransactionStatus, verifiedAuto bool, notes string) error {
	if !transitionAllowed(t.Type, t.Status, to) {
		return fmt.Errorf("%s %s -> %s: %w", t.Type, t.Status, to, ErrInvalidTransition)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE transactions
		SET status = $1, verified_auto = $2, notes = COALESCE(NULLIF($3, ''), notes)
		WHERE id = $4 AND status = $5
	`, to, verifiedAuto, notes, t.ID, t.Status)
	if err != nil {
		return fmt.Errorf("failed to update transaction status: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if rows == 0 {
		// Lost the race: someone else decided first.
		return fmt.Errorf("transaction %d already moved past %s: %w", t.ID, t.Status, ErrInvalidTransition)
	}
	return nil
}

// getForUpdateTx loads a transaction under a row lock.
func (l *TransactionLedger) getForUpdateTx(ctx context.Context, tx *sql.Tx, id int64) (*models.Transaction, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = $1 FOR UPDATE`, id)
	t, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("transaction %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to lock transaction: %w", err)
	}
	return t, nil
}

// ListPending returns pending transactions, oldest first. txType and
// paymentMethod filter when non-empty.
func (l *TransactionLedger) ListPending(ctx context.Context, txType models.TransactionType, paymentMethod string, limit int) ([]models.Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE status = 'pending'
		  AND ($1 = '' OR type = $1)
		  AND ($2 = '' OR payment_method = $2)
		ORDER BY created_at ASC
		LIMIT $3
	`, string(txType), paymentMethod, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending transactions: %w", err)
	}
	defer rows.Close()
	return collectTransactions(rows)
}

// ListByUser returns a user's most recent transactions. txType filters
// when non-empty; offset pages through history.
func (l *TransactionLedger) ListByUser(ctx context.Context, userID int64, txType models.TransactionType, limit, offset int) ([]models.Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE user_id = $1
		  AND ($2 = '' OR type = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`, userID, string(txType), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list user transactions: %w", err)
	}
	defer rows.Close()
	return collectTransactions(rows)
}

func collectTransactions(rows *sql.Rows) ([]models.Transaction, error) {
	var out []models.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		out = append(out, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transactions: %w", err)
	}
	return out, nil
}

// LatestChargeByRef finds the most recent charge carrying the given
// external reference. With onlyPending set, decided charges are skipped so
// a replayed confirmation cannot re-approve.
func (l *TransactionLedger) LatestChargeByRef(ctx context.Context, externalRef string, onlyPending bool) (*models.Transaction, error) {
	row := l.db.QueryRowContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE type = 'charge'
		  AND external_ref = $1
		  AND ($2 = FALSE OR status = 'pending')
		ORDER BY created_at DESC
		LIMIT 1
	`, externalRef, onlyPending)
	t, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("charge with ref %q: %w", externalRef, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to look up charge by ref: %w", err)
	}
	return t, nil
}

// DailyStats aggregates approved and completed volume for one calendar day.
func (l *TransactionLedger) DailyStats(ctx context.Context, day time.Time) (*models.DailyStats, error) {
	stats := &models.DailyStats{
		Date:           day.Format("2006-01-02"),
		ChargeTotals:   map[string]int{},
		WithdrawTotals: map[string]int{},
		Counts:         map[string]int{},
	}

	rows, err := l.db.QueryContext(ctx, `
		SELECT type, payment_method, status, COUNT(*), COALESCE(SUM(amount), 0)
		FROM transactions
		WHERE created_at >= $1::date AND created_at < $1::date + INTERVAL '1 day'
		GROUP BY type, payment_method, status
	`, stats.Date)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate daily stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var txType, method, status string
		var count, total int
		if err := rows.Scan(&txType, &method, &status, &count, &total); err != nil {
			return nil, fmt.Errorf("failed to scan daily stats row: %w", err)
		}
		stats.Counts[status] += count
		settled := status == string(models.StatusApproved) || status == string(models.StatusCompleted)
		if !settled {
			continue
		}
		switch models.TransactionType(txType) {
		case models.TypeCharge:
			stats.ChargeTotals[method] += total
		case models.TypeWithdraw:
			stats.WithdrawTotals[method] += total
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate daily stats: %w", err)
	}
	return stats, nil
}

// ExportRows streams transactions in a date range for CSV export, oldest
// first. from and to are inclusive day bounds; zero values mean unbounded.
func (l *TransactionLedger) ExportRows(ctx context.Context, from, to time.Time) ([]models.Transaction, error) {
	if from.IsZero() {
		from = time.Unix(0, 0)
	}
	if to.IsZero() {
		to = time.Now().AddDate(100, 0, 0)
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at ASC
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query export rows: %w", err)
	}
	defer rows.Close()
	return collectTransactions(rows)
}
