package handlers

import (
	"net/http"

	"github.com/levantcash/bursar/internal/ledger"
	"github.com/levantcash/bursar/pkg/logging"
	"github.com/levantcash/bursar/pkg/middleware"
	"github.com/levantcash/bursar/pkg/models"
)

// GetUser returns one account with its current balance.
func GetUser(c middleware.Context) {
	id, err := intParam(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid user id"})
		return
	}
	user, err := balances.GetUser(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

// AdjustUserBalance applies an operator balance mutation and records it in
// the transaction log.
func AdjustUserBalance(c middleware.Context) {
	id, err := intParam(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid user id"})
		return
	}
	var req models.AdjustBalanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
		return
	}

	var reason string
	if v := c.Query("reason"); v != "" {
		reason = v
	}

	oldBalance, newBalance, err := coordinator.AdminAdjust(c.Request.Context(),
		id, req.Amount, ledger.BalanceOp(req.Op), actorFrom(c), reason)
	if err != nil {
		respondError(c, err)
		return
	}
	metrics.BalanceAdjustments.WithLabelValues(req.Op).Inc()

	c.JSON(http.StatusOK, models.AdjustBalanceResponse{
		OldBalance: oldBalance,
		NewBalance: newBalance,
	})
}

// SetUserBanned suspends or restores an account. Suspended accounts cannot
// submit new transactions; existing ones still settle.
func SetUserBanned(c middleware.Context) {
	id, err := intParam(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid user id"})
		return
	}
	var body struct {
		Banned *bool `json:"banned" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
		return
	}

	if err := balances.SetBanned(c.Request.Context(), id, *body.Banned); err != nil {
		respondError(c, err)
		return
	}

	logger.WithFields(logging.Fields{
		"user_id":     id,
		"banned":      *body.Banned,
		"operator_id": actorFrom(c),
	}).Info("User ban state changed")
	c.JSON(http.StatusOK, map[string]any{"user_id": id, "banned": *body.Banned})
}

// ListUserTransactions returns a user's recent transaction history.
func ListUserTransactions(c middleware.Context) {
	id, err := intParam(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid user id"})
		return
	}
	limit := 50
	if n, err := intQuery(c, "limit"); err == nil && n > 0 {
		limit = n
	}
	offset := 0
	if n, err := intQuery(c, "offset"); err == nil && n > 0 {
		offset = n
	}

	txType := models.TransactionType(c.Query("type"))
	list, err := txLedger.ListByUser(c.Request.Context(), id, txType, limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.TransactionListResponse{Transactions: list, Count: len(list)})
}
