package handlers

import (
	"net/http"

	"github.com/levantcash/bursar/pkg/config"
	"github.com/levantcash/bursar/pkg/middleware"
	"github.com/levantcash/bursar/pkg/models"
)

// ListCodes returns the payment code pool with its utilization stats, and
// refreshes the pool gauges as a side effect.
func ListCodes(c middleware.Context) {
	ctx := c.Request.Context()
	list, err := codes.List(ctx)
	if err != nil {
		respondError(c, err)
		return
	}
	stats, err := codes.Stats(ctx)
	if err != nil {
		respondError(c, err)
		return
	}

	metrics.CodePoolUsed.Set(float64(stats.TotalUsed))
	metrics.CodePoolCapacity.Set(float64(stats.TotalCapacity))

	c.JSON(http.StatusOK, models.CodeListResponse{Codes: list, Stats: *stats})
}

// AddCode registers a new payment code. max_amount defaults to the
// configured pool cap; daily_reset defaults to true.
func AddCode(c middleware.Context) {
	var req models.AddCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
		return
	}
	if req.MaxAmount <= 0 {
		req.MaxAmount = config.LoadLimits().DefaultCodeCap
	}
	dailyReset := true
	if req.DailyReset != nil {
		dailyReset = *req.DailyReset
	}

	created, err := codes.Add(c.Request.Context(), req.Code, req.MaxAmount, dailyReset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

// SetCodeActive enables or disables a code for allocation.
func SetCodeActive(c middleware.Context) {
	id, err := intParam(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid code id"})
		return
	}
	var body struct {
		Active *bool `json:"active" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
		return
	}

	if err := codes.SetActive(c.Request.Context(), id, *body.Active); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, map[string]any{"id": id, "active": *body.Active})
}

// ReleaseCodeCapacity returns booked capacity to a code. Used by operators
// after rejecting a deposit whose funds never arrived.
func ReleaseCodeCapacity(c middleware.Context) {
	id, err := intParam(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid code id"})
		return
	}
	var body struct {
		Amount int `json:"amount" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
		return
	}

	if err := codes.Release(c.Request.Context(), id, body.Amount); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, map[string]any{"id": id, "released": body.Amount})
}

// RemoveCode retires a payment code. Responds with whether the row was
// deleted or merely deactivated because history references it.
func RemoveCode(c middleware.Context) {
	id, err := intParam(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid code id"})
		return
	}

	deleted, err := codes.Remove(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, map[string]any{"id": id, "deleted": deleted, "deactivated": !deleted})
}

// ResetCodes zeroes daily-reset codes immediately instead of waiting for
// the midnight job.
func ResetCodes(c middleware.Context) {
	count, err := codes.DailyReset(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	logger.WithField("operator_id", actorFrom(c)).Info("Manual payment code reset")
	c.JSON(http.StatusOK, map[string]any{"codes_reset": count})
}
