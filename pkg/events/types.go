// Package events defines report events and publisher interfaces for non-fatal agent errors.
package events

import (
	"errors"
	"time"

	"github.com/morezero/agent-router/pkg/agenterr"
)

// ReportEvent is emitted when routing, dispatch, or registration degrades to "no-op and report".
type ReportEvent struct {
	Agent     string      `json:"agent"`
	Code      string      `json:"code"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
	Timestamp string      `json:"timestamp"`
}

// FromError builds a ReportEvent from err. Errors without a domain code are reported
// as HANDLER_FAILURE.
func FromError(agent string, err error) *ReportEvent {
	ev := &ReportEvent{
		Agent:     agent,
		Code:      string(agenterr.CodeHandlerFailure),
		Message:   err.Error(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	var ae *agenterr.Error
	if errors.As(err, &ae) {
		ev.Code = string(ae.Code)
		ev.Message = ae.Message
		ev.Details = ae.Details
	}
	return ev
}
