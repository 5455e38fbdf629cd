package satp

import (
	"github.com/cuemby/relay/pkg/log"
)

// Operation tags the lifecycle stage of a protocol step in the transfer log.
type Operation string

const (
	OpInit   Operation = "init"
	OpExec   Operation = "exec"
	OpDone   Operation = "done"
	OpFailed Operation = "failed"
)

// logStep emits one structured transfer-log entry. Every inbound endpoint
// logs init on arrival, exec before firing the next step, and done or
// failed on completion.
func logStep(sessionID, stepID string, op Operation, gatewayID, details string) {
	logger := log.ForSession("satp", sessionID)
	event := logger.Info()
	if op == OpFailed {
		event = logger.Error()
	}
	event.
		Str("step_id", stepID).
		Str("operation", string(op)).
		Str("gateway_id", gatewayID)
	if details != "" {
		event.Str("details", details)
	}
	event.Msg("asset transfer step")
}
