package gateway

import "strings"

// Status is the normalized payment status shared by all rails.
type Status string

const (
	StatusPending Status = "pending"
	StatusPaid    Status = "paid"
	StatusExpired Status = "expired"
	StatusFailed  Status = "failed"
	StatusUnknown Status = "unknown"
)

// NormalizeStatus maps a rail's status vocabulary onto Status.
func NormalizeStatus(raw string) Status {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "paid", "success", "succeeded", "completed", "2":
		return StatusPaid
	case "pending", "waiting", "created", "1":
		return StatusPending
	case "expired", "timeout", "3":
		return StatusExpired
	case "failed", "fail", "cancelled", "canceled", "closed":
		return StatusFailed
	}
	return StatusUnknown
}

func (s Status) Terminal() bool {
	return s == StatusPaid || s == StatusExpired || s == StatusFailed
}
