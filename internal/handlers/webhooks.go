package handlers

import (
	"net/http"

	"github.com/levantcash/bursar/pkg/middleware"
	"github.com/levantcash/bursar/pkg/models"
)

// HandleSMSWebhook processes one inbound carrier SMS from the forwarding
// agent. The response always echoes the parsed fields so the agent side
// can be debugged from its own logs.
func HandleSMSWebhook(c middleware.Context) {
	var req models.SMSWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		metrics.SMSWebhooks.WithLabelValues("malformed").Inc()
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
		return
	}

	resp := verifier.Process(c.Request.Context(), &req)

	switch {
	case resp.Success:
		metrics.SMSWebhooks.WithLabelValues("approved").Inc()
		metrics.TransactionsDecided.WithLabelValues("charge", "approved", "true").Inc()
		c.JSON(http.StatusOK, resp)
	case resp.Duplicate:
		metrics.SMSWebhooks.WithLabelValues("duplicate").Inc()
		c.JSON(http.StatusOK, resp)
	case resp.Error == "internal error":
		metrics.SMSWebhooks.WithLabelValues("error").Inc()
		c.JSON(http.StatusInternalServerError, resp)
	default:
		// Unparseable or unmatched messages are expected traffic; the
		// agent should not retry them.
		metrics.SMSWebhooks.WithLabelValues("unmatched").Inc()
		c.JSON(http.StatusOK, resp)
	}
}
