package app

import "github.com/hashicorp/go-metrics"

var (
	MetricBroadcastSent     = []string{"session", "broadcast", "sent"}
	MetricBroadcastFailed   = []string{"session", "broadcast", "failed"}
	MetricGuestConnected    = []string{"session", "guest", "connected"}
	MetricGuestDisconnected = []string{"session", "guest", "disconnected"}
	MetricLeave             = []string{"session", "leave"}
	MetricIdentityRotated   = []string{"session", "identity", "rotated"}
	MetricRegisterFailed    = []string{"session", "identity", "register", "failed"}
)

type TelemetryLabel string

var (
	LabelRole   TelemetryLabel = "role"
	LabelReason TelemetryLabel = "reason"
)

func (lab TelemetryLabel) M(val string) metrics.Label {
	return metrics.Label{Name: string(lab), Value: val}
}
