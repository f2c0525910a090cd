package handlers

import (
	"database/sql"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/levantcash/bursar/internal/ledger"
	"github.com/levantcash/bursar/internal/sms"
	"github.com/levantcash/bursar/pkg/logging"
	"github.com/levantcash/bursar/pkg/middleware"
	"github.com/levantcash/bursar/pkg/models"
	"github.com/levantcash/bursar/pkg/monitoring"
)

var (
	db          *sql.DB
	logger      logging.Logger
	metrics     *BursarMetrics
	balances    *ledger.BalanceStore
	txLedger    *ledger.TransactionLedger
	codes       *ledger.CodeAllocator
	coordinator *ledger.Coordinator
	verifier    *sms.Verifier
)

// BursarMetrics holds the Prometheus metrics for the reconciliation
// service.
type BursarMetrics struct {
	TransactionsSubmitted *prometheus.CounterVec
	TransactionsDecided   *prometheus.CounterVec
	SMSWebhooks           *prometheus.CounterVec
	BalanceAdjustments    *prometheus.CounterVec
	CodePoolUsed          prometheus.Gauge
	CodePoolCapacity      prometheus.Gauge
}

// NewBursarMetrics registers the service metrics on the shared collector.
func NewBursarMetrics(mc *monitoring.MetricsCollector) *BursarMetrics {
	return &BursarMetrics{
		TransactionsSubmitted: mc.NewCounter("bursar_transactions_submitted_total",
			"Transactions submitted", []string{"type", "payment_method"}),
		TransactionsDecided: mc.NewCounter("bursar_transactions_decided_total",
			"Transaction decisions", []string{"type", "status", "auto"}),
		SMSWebhooks: mc.NewCounter("bursar_sms_webhooks_total",
			"Inbound SMS webhook outcomes", []string{"outcome"}),
		BalanceAdjustments: mc.NewCounter("bursar_balance_adjustments_total",
			"Operator balance adjustments", []string{"op"}),
		CodePoolUsed: mc.NewGauge("bursar_code_pool_used",
			"Total amount booked across active payment codes", nil).WithLabelValues(),
		CodePoolCapacity: mc.NewGauge("bursar_code_pool_capacity",
			"Total capacity across active payment codes", nil).WithLabelValues(),
	}
}

// Init wires the handler package. Called once from main before routes are
// registered.
func Init(database *sql.DB, log logging.Logger, m *BursarMetrics,
	b *ledger.BalanceStore, l *ledger.TransactionLedger, a *ledger.CodeAllocator,
	c *ledger.Coordinator, v *sms.Verifier) {
	db = database
	logger = log
	metrics = m
	balances = b
	txLedger = l
	codes = a
	coordinator = c
	verifier = v
}

// respondError maps engine errors onto HTTP statuses.
func respondError(c middleware.Context, err error) {
	switch {
	case ledger.IsValidation(err):
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
	case ledger.IsNotFound(err):
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: err.Error()})
	case ledger.IsInvalidTransition(err):
		c.JSON(http.StatusConflict, models.ErrorResponse{Error: err.Error()})
	case ledger.IsCapacityExhausted(err):
		c.JSON(http.StatusConflict, models.ErrorResponse{Error: err.Error()})
	case errors.Is(err, ledger.ErrConcurrencyConflict):
		c.JSON(http.StatusConflict, models.ErrorResponse{Error: err.Error()})
	default:
		logger.WithError(err).Error("Request failed")
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "internal error"})
	}
}

// actorFrom returns the authenticated operator id set by the JWT
// middleware.
func actorFrom(c middleware.Context) string {
	if v, ok := c.Get("operator_id"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return "unknown"
}
