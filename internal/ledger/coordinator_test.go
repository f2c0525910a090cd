package ledger

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/levantcash/bursar/pkg/config"
	"github.com/levantcash/bursar/pkg/logging"
	"github.com/levantcash/bursar/pkg/models"
)

func newTestCoordinator(t *testing.T) (*Coordinator, sqlmock.Sqlmock) {
	return newTestCoordinatorWithNotifier(t, nil)
}

func newTestCoordinatorWithNotifier(t *testing.T, n Notifier) (*Coordinator, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := logging.NewLogger()
	c := NewCoordinator(CoordinatorDeps{
		DB:       db,
		Balances: NewBalanceStore(db, nil, logger),
		Ledger:   NewTransactionLedger(db, logger),
		Codes:    NewCodeAllocator(db, nil, logger),
		Notifier: n,
		Limits: config.Limits{
			MinDeposit:  500,
			MaxDeposit:  100000,
			MinWithdraw: 1000,
			MaxWithdraw: 50000,
		},
		CodeMethods: []string{"syriatel_cash"},
	}, logger)
	return c, mock
}

// recordingNotifier captures user and audit messages for assertions.
type recordingNotifier struct {
	notices []string
	audits  []string
}

func (n *recordingNotifier) Notify(ctx context.Context, userID int64, text string) {
	n.notices = append(n.notices, text)
}

func (n *recordingNotifier) LogToAudit(ctx context.Context, text string) {
	n.audits = append(n.audits, text)
}

func expectActiveUser(mock sqlmock.Sqlmock, userID int64, balance int) {
	mock.ExpectQuery("SELECT user_id, balance, is_banned").
		WithArgs(userID).
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "balance", "is_banned", "created_at", "updated_at"}).
			AddRow(userID, balance, false, time.Now(), time.Now()))
}

// A withdrawal reserves the amount at submission and a rejection returns
// it: 5000 -> submit 3000 -> 2000 -> reject -> 5000.
func TestWithdrawReserveAndRefund(t *testing.T) {
	c, mock := newTestCoordinator(t)
	ctx := context.Background()
	created := time.Now()

	expectActiveUser(mock, 7, 5000)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT balance FROM users").
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(5000))
	mock.ExpectExec("UPDATE users SET balance").
		WithArgs(2000, int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("INSERT INTO monthly_counters").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "bank").
		WillReturnRows(sqlmock.NewRows([]string{"counter"}).AddRow(4))
	mock.ExpectQuery("INSERT INTO transactions").
		WithArgs(int64(7), "withdraw", 3000, "bank", sqlmock.AnyArg(), "0999123456", "pending", "", 4).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(10), created))
	mock.ExpectCommit()

	receipt, newBalance, err := c.SubmitWithdraw(ctx, 7, 3000, "bank", "0999123456")
	if err != nil {
		t.Fatalf("SubmitWithdraw returned error: %v", err)
	}
	if newBalance != 2000 {
		t.Fatalf("expected balance 2000 after reservation, got %d", newBalance)
	}

	// Rejection refunds the reserved amount.
	mock.ExpectBegin()
	mock.ExpectQuery("FROM transactions WHERE id").
		WithArgs(receipt.ID).
		WillReturnRows(transactionRows().
			AddRow(receipt.ID, int64(7), "withdraw", 3000, "bank", "ref", "0999123456", "pending", false, "", 4, created))
	mock.ExpectExec("SET status").
		WithArgs("rejected", false, "funds unavailable", receipt.ID, "pending").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO users").
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT balance FROM users").
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(2000))
	mock.ExpectExec("UPDATE users SET balance").
		WithArgs(5000, int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	rejected, err := c.Reject(ctx, receipt.ID, "op-1", "funds unavailable")
	if err != nil {
		t.Fatalf("Reject returned error: %v", err)
	}
	if rejected.Status != models.StatusRejected {
		t.Fatalf("expected rejected, got %s", rejected.Status)
	}
	if rejected.Notes != "funds unavailable" {
		t.Fatalf("expected rejection reason on the row, got %q", rejected.Notes)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSubmitWithdrawInsufficientBalance(t *testing.T) {
	c, mock := newTestCoordinator(t)

	expectActiveUser(mock, 7, 500)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT balance FROM users").
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(500))
	mock.ExpectRollback()

	if _, _, err := c.SubmitWithdraw(context.Background(), 7, 1000, "bank", "0999"); !IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSubmitWithdrawOutOfBounds(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()

	if _, _, err := c.SubmitWithdraw(ctx, 7, 999, "bank", "0999"); !IsValidation(err) {
		t.Fatalf("expected validation error below minimum, got %v", err)
	}
	if _, _, err := c.SubmitWithdraw(ctx, 7, 50001, "bank", "0999"); !IsValidation(err) {
		t.Fatalf("expected validation error above maximum, got %v", err)
	}
}

func TestApproveChargeCreditsBalance(t *testing.T) {
	c, mock := newTestCoordinator(t)
	created := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery("FROM transactions WHERE id").
		WithArgs(int64(5)).
		WillReturnRows(transactionRows().
			AddRow(int64(5), int64(7), "charge", 5000, "syriatel_cash", "123456", "55555", "pending", false, "", 3, created))
	mock.ExpectExec("SET status").
		WithArgs("approved", false, "receipt checked", int64(5), "pending").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO users").
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT balance FROM users").
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(100))
	mock.ExpectExec("UPDATE users SET balance").
		WithArgs(5100, int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	approved, err := c.Approve(context.Background(), 5, "op-1", false, "receipt checked")
	if err != nil {
		t.Fatalf("Approve returned error: %v", err)
	}
	if approved.Status != models.StatusApproved {
		t.Fatalf("unexpected transaction state: %+v", approved)
	}
	if approved.Notes != "receipt checked" {
		t.Fatalf("expected approval notes on the row, got %q", approved.Notes)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

// An automatic approval must leave a trace in the audit channel alongside
// the user notification.
func TestAutoApproveChargeWritesAuditEntry(t *testing.T) {
	recorder := &recordingNotifier{}
	c, mock := newTestCoordinatorWithNotifier(t, recorder)
	created := time.Now()
	note := "Verified automatically via SMS from SyriatelCash"

	mock.ExpectBegin()
	mock.ExpectQuery("FROM transactions WHERE id").
		WithArgs(int64(5)).
		WillReturnRows(transactionRows().
			AddRow(int64(5), int64(7), "charge", 5000, "syriatel_cash", "123456", "55555", "pending", false, "", 3, created))
	mock.ExpectExec("SET status").
		WithArgs("approved", true, note, int64(5), "pending").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO users").
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT balance FROM users").
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(100))
	mock.ExpectExec("UPDATE users SET balance").
		WithArgs(5100, int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	approved, err := c.Approve(context.Background(), 5, "sms-verifier", true, note)
	if err != nil {
		t.Fatalf("Approve returned error: %v", err)
	}
	if !approved.VerifiedAuto || approved.Notes != note {
		t.Fatalf("unexpected transaction state: %+v", approved)
	}
	if len(recorder.audits) != 1 {
		t.Fatalf("expected one audit entry, got %v", recorder.audits)
	}
	if !strings.Contains(recorder.audits[0], "tx 5") ||
		!strings.Contains(recorder.audits[0], "user 7") ||
		!strings.Contains(recorder.audits[0], note) {
		t.Fatalf("audit entry missing details: %q", recorder.audits[0])
	}
	if len(recorder.notices) != 1 {
		t.Fatalf("expected one user notification, got %v", recorder.notices)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

// The loser of a decision race gets ErrInvalidTransition and no balance
// mutation happens.
func TestApproveLostRaceLeavesStateUntouched(t *testing.T) {
	c, mock := newTestCoordinator(t)
	created := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery("FROM transactions WHERE id").
		WithArgs(int64(5)).
		WillReturnRows(transactionRows().
			AddRow(int64(5), int64(7), "charge", 5000, "syriatel_cash", "123456", "55555", "pending", false, "", 3, created))
	mock.ExpectExec("SET status").
		WithArgs("approved", false, "", int64(5), "pending").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	if _, err := c.Approve(context.Background(), 5, "op-1", false, ""); !IsInvalidTransition(err) {
		t.Fatalf("expected invalid transition, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestApproveDecidedTransaction(t *testing.T) {
	c, mock := newTestCoordinator(t)
	created := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery("FROM transactions WHERE id").
		WithArgs(int64(5)).
		WillReturnRows(transactionRows().
			AddRow(int64(5), int64(7), "charge", 5000, "syriatel_cash", "123456", "55555", "rejected", false, "", 3, created))
	mock.ExpectRollback()

	if _, err := c.Approve(context.Background(), 5, "op-1", false, ""); !IsInvalidTransition(err) {
		t.Fatalf("expected invalid transition, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSubmitChargeBooksCodeCapacity(t *testing.T) {
	c, mock := newTestCoordinator(t)
	created := time.Now()

	expectActiveUser(mock, 7, 0)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO users").
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("FROM payment_codes").
		WithArgs(5000).
		WillReturnRows(sqlmock.NewRows([]string{"id", "code", "current_amount", "max_amount"}).
			AddRow(int64(2), "55555", 0, 5400))
	mock.ExpectExec("UPDATE payment_codes").
		WithArgs(5000, int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("INSERT INTO monthly_counters").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "syriatel_cash").
		WillReturnRows(sqlmock.NewRows([]string{"counter"}).AddRow(1))
	mock.ExpectQuery("INSERT INTO transactions").
		WithArgs(int64(7), "charge", 5000, "syriatel_cash", "123456", "55555", "pending", "", 1).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(20), created))
	mock.ExpectCommit()

	receipt, code, err := c.SubmitCharge(context.Background(), 7, 5000, "syriatel_cash", "123456")
	if err != nil {
		t.Fatalf("SubmitCharge returned error: %v", err)
	}
	if receipt.ID != 20 || code == nil || code.Code != "55555" {
		t.Fatalf("unexpected result: receipt=%+v code=%+v", receipt, code)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

// When the pool is exhausted nothing is inserted; the pool and ledger are
// untouched.
func TestSubmitChargeCapacityExhausted(t *testing.T) {
	c, mock := newTestCoordinator(t)

	expectActiveUser(mock, 7, 0)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO users").
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	for i := 0; i < 3; i++ {
		mock.ExpectQuery("FROM payment_codes").
			WithArgs(5000).
			WillReturnRows(sqlmock.NewRows([]string{"id", "code", "current_amount", "max_amount"}))
	}
	mock.ExpectRollback()

	if _, _, err := c.SubmitCharge(context.Background(), 7, 5000, "syriatel_cash", "123456"); !IsCapacityExhausted(err) {
		t.Fatalf("expected capacity exhausted, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSubmitChargeBannedUser(t *testing.T) {
	c, mock := newTestCoordinator(t)

	mock.ExpectQuery("SELECT user_id, balance, is_banned").
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "balance", "is_banned", "created_at", "updated_at"}).
			AddRow(int64(7), 0, true, time.Now(), time.Now()))

	if _, _, err := c.SubmitCharge(context.Background(), 7, 5000, "syriatel_cash", "123456"); !IsValidation(err) {
		t.Fatalf("expected validation error for banned user, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDeliverApprovedWithdrawal(t *testing.T) {
	c, mock := newTestCoordinator(t)
	created := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery("FROM transactions WHERE id").
		WithArgs(int64(10)).
		WillReturnRows(transactionRows().
			AddRow(int64(10), int64(7), "withdraw", 3000, "bank", "ref", "0999", "approved", false, "", 4, created))
	mock.ExpectExec("SET status").
		WithArgs("completed", false, "", int64(10), "approved").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	delivered, err := c.Deliver(context.Background(), 10, "op-1")
	if err != nil {
		t.Fatalf("Deliver returned error: %v", err)
	}
	if delivered.Status != models.StatusCompleted {
		t.Fatalf("expected completed, got %s", delivered.Status)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDeliverRejectsCharges(t *testing.T) {
	c, mock := newTestCoordinator(t)
	created := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery("FROM transactions WHERE id").
		WithArgs(int64(5)).
		WillReturnRows(transactionRows().
			AddRow(int64(5), int64(7), "charge", 5000, "syriatel_cash", "123456", "55555", "approved", false, "", 3, created))
	mock.ExpectRollback()

	if _, err := c.Deliver(context.Background(), 5, "op-1"); !IsInvalidTransition(err) {
		t.Fatalf("expected invalid transition, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestAdminAdjustRecordsTransaction(t *testing.T) {
	c, mock := newTestCoordinator(t)
	created := time.Now()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO users").
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT balance FROM users").
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(1000))
	mock.ExpectExec("UPDATE users SET balance").
		WithArgs(1500, int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("INSERT INTO monthly_counters").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "admin").
		WillReturnRows(sqlmock.NewRows([]string{"counter"}).AddRow(2))
	mock.ExpectQuery("INSERT INTO transactions").
		WithArgs(int64(7), "admin_adjust", 500, "admin", "", "", "approved", "add by op-1: promo credit", 2).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(30), created))
	mock.ExpectCommit()

	oldBalance, newBalance, err := c.AdminAdjust(context.Background(), 7, 500, OpAdd, "op-1", "promo credit")
	if err != nil {
		t.Fatalf("AdminAdjust returned error: %v", err)
	}
	if oldBalance != 1000 || newBalance != 1500 {
		t.Fatalf("expected 1000 -> 1500, got %d -> %d", oldBalance, newBalance)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
