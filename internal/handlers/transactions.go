package handlers

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/levantcash/bursar/pkg/middleware"
	"github.com/levantcash/bursar/pkg/models"
)

func intParam(c middleware.Context, name string) (int64, error) {
	return strconv.ParseInt(c.Param(name), 10, 64)
}

func intQuery(c middleware.Context, name string) (int, error) {
	return strconv.Atoi(c.Query(name))
}

// ListPendingTransactions returns the review queue, oldest first. Optional
// query filters: type, payment_method, limit.
func ListPendingTransactions(c middleware.Context) {
	limit := 50
	if n, err := intQuery(c, "limit"); err == nil && n > 0 {
		limit = n
	}

	txType := models.TransactionType(c.Query("type"))
	list, err := txLedger.ListPending(c.Request.Context(), txType, c.Query("payment_method"), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.TransactionListResponse{Transactions: list, Count: len(list)})
}

// GetTransaction returns one transaction by id.
func GetTransaction(c middleware.Context) {
	id, err := intParam(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid transaction id"})
		return
	}
	t, err := txLedger.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

// ApproveTransaction settles a pending transaction on behalf of the
// authenticated operator. An optional JSON body {"notes": "..."} is
// recorded on the row.
func ApproveTransaction(c middleware.Context) {
	id, err := intParam(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid transaction id"})
		return
	}

	var body struct {
		Notes string `json:"notes"`
	}
	_ = c.ShouldBindJSON(&body) // body is optional

	t, err := coordinator.Approve(c.Request.Context(), id, actorFrom(c), false, body.Notes)
	if err != nil {
		respondError(c, err)
		return
	}
	metrics.TransactionsDecided.WithLabelValues(string(t.Type), "approved", "false").Inc()
	c.JSON(http.StatusOK, t)
}

// RejectTransaction declines a pending transaction. An optional JSON body
// {"reason": "..."} is recorded on the row and relayed to the user.
func RejectTransaction(c middleware.Context) {
	id, err := intParam(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid transaction id"})
		return
	}

	var body struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&body) // body is optional

	t, err := coordinator.Reject(c.Request.Context(), id, actorFrom(c), body.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	metrics.TransactionsDecided.WithLabelValues(string(t.Type), "rejected", "false").Inc()
	c.JSON(http.StatusOK, t)
}

// DeliverTransaction marks an approved withdrawal as paid out.
func DeliverTransaction(c middleware.Context) {
	id, err := intParam(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid transaction id"})
		return
	}

	t, err := coordinator.Deliver(c.Request.Context(), id, actorFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	metrics.TransactionsDecided.WithLabelValues(string(t.Type), "completed", "false").Inc()
	c.JSON(http.StatusOK, t)
}

// GetDailyStats aggregates one day's volume. Defaults to today; override
// with ?date=YYYY-MM-DD.
func GetDailyStats(c middleware.Context) {
	day := time.Now()
	if q := c.Query("date"); q != "" {
		parsed, err := time.Parse("2006-01-02", q)
		if err != nil {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "date must be YYYY-MM-DD"})
			return
		}
		day = parsed
	}

	stats, err := txLedger.DailyStats(c.Request.Context(), day)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// csvHeader is the fixed export column order consumed by the back-office
// spreadsheets. Do not reorder.
var csvHeader = []string{
	"ID", "User ID", "Type", "Amount", "Payment Method",
	"Transaction ID", "Account Number", "Status", "Created At", "Notes",
}

// ExportTransactionsCSV streams transactions as CSV. Optional ?from and
// ?to bound the range by day, inclusive.
func ExportTransactionsCSV(c middleware.Context) {
	var from, to time.Time
	if q := c.Query("from"); q != "" {
		parsed, err := time.Parse("2006-01-02", q)
		if err != nil {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "from must be YYYY-MM-DD"})
			return
		}
		from = parsed
	}
	if q := c.Query("to"); q != "" {
		parsed, err := time.Parse("2006-01-02", q)
		if err != nil {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "to must be YYYY-MM-DD"})
			return
		}
		to = parsed.AddDate(0, 0, 1)
	}

	rows, err := txLedger.ExportRows(c.Request.Context(), from, to)
	if err != nil {
		respondError(c, err)
		return
	}

	filename := fmt.Sprintf("transactions_%s.csv", time.Now().Format("20060102_150405"))
	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Status(http.StatusOK)

	w := csv.NewWriter(c.Writer)
	if err := w.Write(csvHeader); err != nil {
		logger.WithError(err).Error("Failed to write CSV header")
		return
	}
	for _, t := range rows {
		record := []string{
			strconv.FormatInt(t.ID, 10),
			strconv.FormatInt(t.UserID, 10),
			string(t.Type),
			strconv.Itoa(t.Amount),
			t.PaymentMethod,
			t.ExternalRef,
			t.AccountNumber,
			string(t.Status),
			t.CreatedAt.Format("2006-01-02 15:04:05"),
			t.Notes,
		}
		if err := w.Write(record); err != nil {
			logger.WithError(err).Error("Failed to write CSV row")
			return
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		logger.WithError(err).Error("Failed to flush CSV export")
	}
}
