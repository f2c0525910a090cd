package sms

import (
	"context"
	"fmt"

	"github.com/levantcash/bursar/internal/ledger"
	"github.com/levantcash/bursar/pkg/logging"
	"github.com/levantcash/bursar/pkg/models"
)

// verifierActor is recorded as the deciding actor on auto-approved charges.
const verifierActor = "sms-verifier"

// Verifier matches parsed carrier confirmations against pending deposits
// and approves them without operator involvement. Matching requires both
// the external reference and the exact amount; a reference whose charge was
// already decided is reported as a duplicate, so replayed webhook
// deliveries approve at most once.
type Verifier struct {
	ledger      *ledger.TransactionLedger
	coordinator *ledger.Coordinator
	logger      logging.Entry
}

// NewVerifier wires the auto-verifier.
func NewVerifier(l *ledger.TransactionLedger, c *ledger.Coordinator, logger logging.Logger) *Verifier {
	return &Verifier{
		ledger:      l,
		coordinator: c,
		logger:      logging.WithComponent(logger, "sms_verifier"),
	}
}

// Process handles one inbound SMS notification end to end: parse, match,
// auto-approve. It always returns a response; the transport maps Success
// onto the HTTP status.
func (v *Verifier) Process(ctx context.Context, req *models.SMSWebhookRequest) models.SMSWebhookResponse {
	if req.Sender == "" || req.Message == "" {
		return models.SMSWebhookResponse{Success: false, Error: "sender and message are required"}
	}

	parsed := Parse(req.Message, req.Sender)
	if !parsed.Success {
		return models.SMSWebhookResponse{
			Success:    false,
			Error:      "unrecognized message format",
			ParsedData: parsed,
		}
	}

	log := v.logger.WithFields(logging.Fields{
		"external_ref": parsed.ExternalRef,
		"amount":       parsed.Amount,
		"pattern":      parsed.Pattern,
	})

	pending, err := v.ledger.LatestChargeByRef(ctx, parsed.ExternalRef, true)
	if err != nil {
		if !ledger.IsNotFound(err) {
			log.WithError(err).Error("Failed to look up pending charge")
			return models.SMSWebhookResponse{Success: false, Error: "internal error", ParsedData: parsed}
		}

		// No pending charge. A decided one with the same reference means
		// this confirmation was already consumed.
		if decided, derr := v.ledger.LatestChargeByRef(ctx, parsed.ExternalRef, false); derr == nil {
			log.WithFields(logging.Fields{"transaction_id": decided.ID, "status": decided.Status}).
				Info("Duplicate SMS confirmation ignored")
			return models.SMSWebhookResponse{
				Success:       false,
				Error:         "transaction already decided",
				Duplicate:     true,
				TransactionID: &decided.ID,
				ParsedData:    parsed,
			}
		}
		return models.SMSWebhookResponse{
			Success:    false,
			Error:      "no matching pending transaction",
			ParsedData: parsed,
		}
	}

	if pending.Amount != parsed.Amount {
		log.WithFields(logging.Fields{
			"transaction_id":  pending.ID,
			"expected_amount": pending.Amount,
		}).Warn("SMS amount does not match pending charge")
		return models.SMSWebhookResponse{
			Success: false,
			Error: fmt.Sprintf("amount mismatch: claimed %d, confirmed %d",
				pending.Amount, parsed.Amount),
			ParsedData: parsed,
		}
	}

	note := fmt.Sprintf("Verified automatically via SMS from %s", req.Sender)
	approved, err := v.coordinator.Approve(ctx, pending.ID, verifierActor, true, note)
	if err != nil {
		if ledger.IsInvalidTransition(err) {
			// A concurrent delivery or an operator decided first.
			log.WithField("transaction_id", pending.ID).Info("Charge already decided during auto-approval")
			return models.SMSWebhookResponse{
				Success:       false,
				Error:         "transaction already decided",
				Duplicate:     true,
				TransactionID: &pending.ID,
				ParsedData:    parsed,
			}
		}
		log.WithError(err).Error("Auto-approval failed")
		return models.SMSWebhookResponse{Success: false, Error: "internal error", ParsedData: parsed}
	}

	log.WithField("transaction_id", approved.ID).Info("Charge auto-approved from SMS")
	return models.SMSWebhookResponse{
		Success:       true,
		TransactionID: &approved.ID,
		ParsedData:    parsed,
	}
}
