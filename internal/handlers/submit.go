package handlers

import (
	"net/http"

	"github.com/levantcash/bursar/pkg/middleware"
	"github.com/levantcash/bursar/pkg/models"
)

// SubmitCharge creates a pending deposit claim. For code-backed methods
// the response carries the payment code the user must transfer to.
func SubmitCharge(c middleware.Context) {
	var req models.SubmitChargeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
		return
	}

	receipt, code, err := coordinator.SubmitCharge(c.Request.Context(),
		req.UserID, req.Amount, req.PaymentMethod, req.ExternalRef)
	if err != nil {
		respondError(c, err)
		return
	}

	metrics.TransactionsSubmitted.WithLabelValues("charge", req.PaymentMethod).Inc()

	resp := models.SubmitChargeResponse{Receipt: *receipt}
	if code != nil {
		resp.Code = code.Code
	}
	c.JSON(http.StatusCreated, resp)
}

// SubmitWithdraw creates a pending payout. The amount leaves the balance
// immediately; a later rejection returns it.
func SubmitWithdraw(c middleware.Context) {
	var req models.SubmitWithdrawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
		return
	}

	receipt, newBalance, err := coordinator.SubmitWithdraw(c.Request.Context(),
		req.UserID, req.Amount, req.PaymentMethod, req.AccountNumber)
	if err != nil {
		respondError(c, err)
		return
	}

	metrics.TransactionsSubmitted.WithLabelValues("withdraw", req.PaymentMethod).Inc()

	c.JSON(http.StatusCreated, models.SubmitWithdrawResponse{
		Receipt:    *receipt,
		NewBalance: newBalance,
	})
}

// CheckDepositCapacity reports whether the code pool can currently absorb
// an amount. Pre-flight only; submission re-checks under a lock.
func CheckDepositCapacity(c middleware.Context) {
	amount, err := intQuery(c, "amount")
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "amount must be a positive integer"})
		return
	}
	if amount <= 0 {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "amount must be a positive integer"})
		return
	}

	available, err := codes.Peek(c.Request.Context(), amount)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, map[string]any{"amount": amount, "available": available})
}
