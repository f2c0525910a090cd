package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/levantcash/bursar/pkg/logging"
	"github.com/levantcash/bursar/pkg/models"
)

func newMockLedger(t *testing.T) (*TransactionLedger, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewTransactionLedger(db, logging.NewLogger()), mock
}

func TestCreateClaimsOrderNumberAtomically(t *testing.T) {
	l, mock := newMockLedger(t)
	created := time.Date(2026, time.September, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO monthly_counters").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "syriatel_cash").
		WillReturnRows(sqlmock.NewRows([]string{"counter"}).AddRow(17))
	mock.ExpectQuery("INSERT INTO transactions").
		WithArgs(int64(7), "charge", 5000, "syriatel_cash", "123456", "55555", "pending", "", 17).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(42), created))
	mock.ExpectCommit()

	receipt, err := l.Create(context.Background(), CreateParams{
		UserID:        7,
		Type:          models.TypeCharge,
		Amount:        5000,
		PaymentMethod: "syriatel_cash",
		ExternalRef:   "123456",
		AccountNumber: "55555",
	})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if receipt.ID != 42 || receipt.OrderNumber != 17 {
		t.Fatalf("unexpected receipt: %+v", receipt)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

// Two claims in a row each pair their counter upsert with their insert
// inside one database transaction, so the per-period sequence stays
// gapless: the second insert must carry exactly the counter claimed in
// its own transaction.
func TestCreateSequenceSurvivesConsecutiveClaims(t *testing.T) {
	l, mock := newMockLedger(t)
	created := time.Date(2026, time.September, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO monthly_counters").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "syriatel_cash").
		WillReturnRows(sqlmock.NewRows([]string{"counter"}).AddRow(7))
	mock.ExpectQuery("INSERT INTO transactions").
		WithArgs(int64(1), "charge", 5000, "syriatel_cash", "111111", "", "pending", "", 7).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(50), created))
	mock.ExpectCommit()

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO monthly_counters").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "syriatel_cash").
		WillReturnRows(sqlmock.NewRows([]string{"counter"}).AddRow(8))
	mock.ExpectQuery("INSERT INTO transactions").
		WithArgs(int64(2), "charge", 3000, "syriatel_cash", "222222", "", "pending", "", 8).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(51), created))
	mock.ExpectCommit()

	first, err := l.Create(context.Background(), CreateParams{
		UserID: 1, Type: models.TypeCharge, Amount: 5000,
		PaymentMethod: "syriatel_cash", ExternalRef: "111111",
	})
	if err != nil {
		t.Fatalf("first Create returned error: %v", err)
	}
	second, err := l.Create(context.Background(), CreateParams{
		UserID: 2, Type: models.TypeCharge, Amount: 3000,
		PaymentMethod: "syriatel_cash", ExternalRef: "222222",
	})
	if err != nil {
		t.Fatalf("second Create returned error: %v", err)
	}
	if first.OrderNumber != 7 || second.OrderNumber != 8 {
		t.Fatalf("expected order numbers 7 and 8, got %d and %d", first.OrderNumber, second.OrderNumber)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCreateRejectsNonPositiveAmount(t *testing.T) {
	l, mock := newMockLedger(t)

	mock.ExpectBegin()
	mock.ExpectRollback()

	if _, err := l.Create(context.Background(), CreateParams{
		UserID: 7,
		Type:   models.TypeCharge,
		Amount: 0,
	}); !IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestTransitionTable(t *testing.T) {
	cases := []struct {
		txType  models.TransactionType
		from    models.TransactionStatus
		to      models.TransactionStatus
		allowed bool
	}{
		{models.TypeCharge, models.StatusPending, models.StatusApproved, true},
		{models.TypeCharge, models.StatusPending, models.StatusRejected, true},
		{models.TypeCharge, models.StatusApproved, models.StatusCompleted, false},
		{models.TypeCharge, models.StatusRejected, models.StatusApproved, false},
		{models.TypeWithdraw, models.StatusPending, models.StatusApproved, true},
		{models.TypeWithdraw, models.StatusApproved, models.StatusCompleted, true},
		{models.TypeWithdraw, models.StatusPending, models.StatusCompleted, false},
		{models.TypeWithdraw, models.StatusCompleted, models.StatusApproved, false},
		{models.TypeAdminAdjust, models.StatusApproved, models.StatusRejected, false},
	}
	for _, tc := range cases {
		if got := transitionAllowed(tc.txType, tc.from, tc.to); got != tc.allowed {
			t.Errorf("%s %s -> %s: got %v, want %v", tc.txType, tc.from, tc.to, got, tc.allowed)
		}
	}
}

func TestLatestChargeByRefOnlyPending(t *testing.T) {
	l, mock := newMockLedger(t)
	created := time.Now()

	mock.ExpectQuery("FROM transactions").
		WithArgs("123456", true).
		WillReturnRows(transactionRows().
			AddRow(int64(10), int64(7), "charge", 5000, "syriatel_cash", "123456", "55555", "pending", false, "", 3, created))

	tx, err := l.LatestChargeByRef(context.Background(), "123456", true)
	if err != nil {
		t.Fatalf("LatestChargeByRef returned error: %v", err)
	}
	if tx.ID != 10 || tx.Status != models.StatusPending {
		t.Fatalf("unexpected transaction: %+v", tx)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func transactionRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "user_id", "type", "amount", "payment_method", "external_ref",
		"account_number", "status", "verified_auto", "notes", "order_number", "created_at",
	})
}

func TestDailyStatsAggregatesSettledOnly(t *testing.T) {
	l, mock := newMockLedger(t)

	mock.ExpectQuery("GROUP BY type, payment_method, status").
		WithArgs("2026-09-01").
		WillReturnRows(sqlmock.NewRows([]string{"type", "payment_method", "status", "count", "sum"}).
			AddRow("charge", "syriatel_cash", "approved", 3, 15000).
			AddRow("charge", "syriatel_cash", "pending", 2, 7000).
			AddRow("withdraw", "bank", "completed", 1, 4000).
			AddRow("withdraw", "bank", "rejected", 1, 2000))

	stats, err := l.DailyStats(context.Background(), time.Date(2026, time.September, 1, 10, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("DailyStats returned error: %v", err)
	}
	if stats.ChargeTotals["syriatel_cash"] != 15000 {
		t.Fatalf("pending charges leaked into totals: %+v", stats.ChargeTotals)
	}
	if stats.WithdrawTotals["bank"] != 4000 {
		t.Fatalf("rejected withdrawals leaked into totals: %+v", stats.WithdrawTotals)
	}
	if stats.Counts["pending"] != 2 || stats.Counts["approved"] != 3 {
		t.Fatalf("unexpected counts: %+v", stats.Counts)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
