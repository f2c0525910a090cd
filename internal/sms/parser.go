// Package sms parses carrier confirmation messages and auto-verifies the
// pending deposits they confirm.
package sms

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/levantcash/bursar/pkg/models"
)

// field names the role a capture group plays in a pattern.
type field int

const (
	fieldAmount field = iota
	fieldFrom
	fieldRef
	fieldBalance
)

// extractor is one recognized message shape. Capture groups map
// positionally onto fields.
type extractor struct {
	name   string
	re     *regexp.Regexp
	fields []field
}

// extractors lists the recognized carrier message shapes, tried in order.
// First match wins. The Arabic shapes come first because they are the
// carrier's default locale; the English shape covers roaming handsets.
var extractors = []extractor{
	{
		name:   "received-with-balance",
		re:     regexp.MustCompile(`(?is)تم استلام مبلغ (\d+(?:,\d+)*) ليرة من (\d+).*?رقم العملية[:\s]*(\d+).*?الرصيد الجديد[:\s]*(\d+(?:,\d+)*)`),
		fields: []field{fieldAmount, fieldFrom, fieldRef, fieldBalance},
	},
	{
		name:   "transfer-to-account",
		re:     regexp.MustCompile(`(?is)تم تحويل مبلغ (\d+(?:,\d+)*) ليرة إلى حسابك.*?رقم العملية[:\s]*(\d+)`),
		fields: []field{fieldAmount, fieldRef},
	},
	{
		name:   "received-english",
		re:     regexp.MustCompile(`(?is)received (\d+(?:,\d+)*) SP from (\d+).*?Transaction ID[:\s]*(\d+).*?New balance[:\s]*(\d+(?:,\d+)*)`),
		fields: []field{fieldAmount, fieldFrom, fieldRef, fieldBalance},
	},
	{
		name:   "deposit-operation",
		re:     regexp.MustCompile(`(?is)عملية إيداع[:\s]*(\d+(?:,\d+)*) ليرة.*?رقم العملية[:\s]*(\d+)`),
		fields: []field{fieldAmount, fieldRef},
	},
	{
		name:   "deposited-with-balance",
		re:     regexp.MustCompile(`(?is)تم إيداع (\d+(?:,\d+)*) ليرة.*?رقم العملية[:\s]*(\d+).*?الرصيد[:\s]*(\d+(?:,\d+)*)`),
		fields: []field{fieldAmount, fieldRef, fieldBalance},
	},
}

func parseNumber(s string) (int, error) {
	return strconv.Atoi(strings.ReplaceAll(s, ",", ""))
}

// Parse extracts the transfer details from a carrier message. When no
// shape has a sender group, the transport-level sender stands in. An
// unrecognized message returns Success false with zero extractions, never
// an error: unparseable traffic is an expected input.
func Parse(message, sender string) models.ParsedSMS {
	message = strings.TrimSpace(message)

	for _, ex := range extractors {
		m := ex.re.FindStringSubmatch(message)
		if m == nil {
			continue
		}

		parsed := models.ParsedSMS{
			Success:    true,
			FromNumber: sender,
			Pattern:    ex.name,
		}
		ok := true
		for i, f := range ex.fields {
			val := strings.TrimSpace(m[i+1])
			switch f {
			case fieldAmount:
				n, err := parseNumber(val)
				if err != nil {
					ok = false
				}
				parsed.Amount = n
			case fieldFrom:
				parsed.FromNumber = val
			case fieldRef:
				parsed.ExternalRef = val
			case fieldBalance:
				n, err := parseNumber(val)
				if err != nil {
					ok = false
				}
				parsed.ReportedBalance = &n
			}
		}
		if !ok {
			// A shape matched but a number group overflowed or was
			// malformed; try the next shape.
			continue
		}
		return parsed
	}

	return models.ParsedSMS{Success: false}
}
