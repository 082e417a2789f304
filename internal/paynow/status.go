package paynow

import (
	"strings"

	"estate-backend/internal/models"
)

var statusMap = map[string]models.PaymentStatus{
	"paid":              models.PaymentPaid,
	"awaiting delivery": models.PaymentPaid,
	"delivered":         models.PaymentPaid,
	"cancelled":         models.PaymentCancelled,
	"failed":            models.PaymentFailed,
	"disputed":          models.PaymentFailed,
	"refunded":          models.PaymentRefunded,
	"created":           models.PaymentSent,
	"sent":              models.PaymentSent,
}

// MapStatus translates a gateway status string into a local payment status.
func MapStatus(gateway string) (models.PaymentStatus, bool) {
	s, ok := statusMap[strings.ToLower(strings.TrimSpace(gateway))]
	return s, ok
}
