package sms

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/levantcash/bursar/internal/ledger"
	"github.com/levantcash/bursar/pkg/config"
	"github.com/levantcash/bursar/pkg/logging"
	"github.com/levantcash/bursar/pkg/models"
)

func newTestVerifier(t *testing.T) (*Verifier, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := logging.NewLogger()
	txLedger := ledger.NewTransactionLedger(db, logger)
	coordinator := ledger.NewCoordinator(ledger.CoordinatorDeps{
		DB:       db,
		Balances: ledger.NewBalanceStore(db, nil, logger),
		Ledger:   txLedger,
		Codes:    ledger.NewCodeAllocator(db, nil, logger),
		Limits:   config.Limits{MinDeposit: 500, MaxDeposit: 100000, MinWithdraw: 1000, MaxWithdraw: 50000},
	}, logger)
	return NewVerifier(txLedger, coordinator, logger), mock
}

func chargeRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "user_id", "type", "amount", "payment_method", "external_ref",
		"account_number", "status", "verified_auto", "notes", "order_number", "created_at",
	})
}

const confirmationSMS = "تم استلام مبلغ 5,000 ليرة من 0991234567. رقم العملية: 123456. الرصيد الجديد: 20,000"

func TestProcessAutoApprovesMatchingCharge(t *testing.T) {
	v, mock := newTestVerifier(t)
	created := time.Now()

	mock.ExpectQuery("FROM transactions").
		WithArgs("123456", true).
		WillReturnRows(chargeRows().
			AddRow(int64(5), int64(7), "charge", 5000, "syriatel_cash", "123456", "55555", "pending", false, "", 3, created))

	// Approval credits the balance in the same database transaction.
	mock.ExpectBegin()
	mock.ExpectQuery("FROM transactions WHERE id").
		WithArgs(int64(5)).
		WillReturnRows(chargeRows().
			AddRow(int64(5), int64(7), "charge", 5000, "syriatel_cash", "123456", "55555", "pending", false, "", 3, created))
	mock.ExpectExec("SET status").
		WithArgs("approved", true, "Verified automatically via SMS from SyriatelCash", int64(5), "pending").
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

	resp := v.Process(context.Background(), &models.SMSWebhookRequest{
		Sender:  "SyriatelCash",
		Message: confirmationSMS,
	})
	if !resp.Success {
		t.Fatalf("expected success, got %+v", resp)
	}
	if resp.TransactionID == nil || *resp.TransactionID != 5 {
		t.Fatalf("unexpected transaction id: %v", resp.TransactionID)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

// A replayed confirmation finds no pending charge, only the decided one,
// and reports a duplicate without approving anything again.
func TestProcessDuplicateDeliveryApprovesOnce(t *testing.T) {
	v, mock := newTestVerifier(t)
	created := time.Now()

	mock.ExpectQuery("FROM transactions").
		WithArgs("123456", true).
		WillReturnRows(chargeRows())
	mock.ExpectQuery("FROM transactions").
		WithArgs("123456", false).
		WillReturnRows(chargeRows().
			AddRow(int64(5), int64(7), "charge", 5000, "syriatel_cash", "123456", "55555", "approved", true, "", 3, created))

	resp := v.Process(context.Background(), &models.SMSWebhookRequest{
		Sender:  "SyriatelCash",
		Message: confirmationSMS,
	})
	if resp.Success {
		t.Fatal("replayed confirmation must not succeed")
	}
	if !resp.Duplicate {
		t.Fatalf("expected duplicate flag, got %+v", resp)
	}
	if resp.TransactionID == nil || *resp.TransactionID != 5 {
		t.Fatalf("unexpected transaction id: %v", resp.TransactionID)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestProcessAmountMismatch(t *testing.T) {
	v, mock := newTestVerifier(t)
	created := time.Now()

	mock.ExpectQuery("FROM transactions").
		WithArgs("123456", true).
		WillReturnRows(chargeRows().
			AddRow(int64(5), int64(7), "charge", 9999, "syriatel_cash", "123456", "55555", "pending", false, "", 3, created))

	resp := v.Process(context.Background(), &models.SMSWebhookRequest{
		Sender:  "SyriatelCash",
		Message: confirmationSMS,
	})
	if resp.Success || resp.Duplicate {
		t.Fatalf("mismatched amount must not approve: %+v", resp)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestProcessNoMatchingClaim(t *testing.T) {
	v, mock := newTestVerifier(t)

	mock.ExpectQuery("FROM transactions").
		WithArgs("123456", true).
		WillReturnRows(chargeRows())
	mock.ExpectQuery("FROM transactions").
		WithArgs("123456", false).
		WillReturnRows(chargeRows())

	resp := v.Process(context.Background(), &models.SMSWebhookRequest{
		Sender:  "SyriatelCash",
		Message: confirmationSMS,
	})
	if resp.Success || resp.Duplicate {
		t.Fatalf("unmatched confirmation must not approve: %+v", resp)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestProcessUnparseableMessage(t *testing.T) {
	v, _ := newTestVerifier(t)

	resp := v.Process(context.Background(), &models.SMSWebhookRequest{
		Sender:  "SyriatelCash",
		Message: "Your verification code is 4242",
	})
	if resp.Success {
		t.Fatalf("unparseable message must not succeed: %+v", resp)
	}
	if resp.ParsedData.Success {
		t.Fatal("parsed data must report failure")
	}
}

func TestProcessMissingFields(t *testing.T) {
	v, _ := newTestVerifier(t)

	resp := v.Process(context.Background(), &models.SMSWebhookRequest{Sender: "", Message: ""})
	if resp.Success {
		t.Fatalf("empty request must not succeed: %+v", resp)
	}
}
