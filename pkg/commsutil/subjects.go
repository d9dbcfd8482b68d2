package commsutil

import (
	"fmt"
	"strings"
)

// Default COMMS subjects.
const (
	SubjectAlmanac = "almanac.v1"
	SubjectEvents  = "agent.events"
	InboxPrefix    = "agent.inbox"
)

// BuildEventSubject builds a granular report event subject for an agent and error code.
// Codes are lower-cased so subscribers can use agent.events.<agent>.* wildcards.
func BuildEventSubject(agent, code string) string {
	return fmt.Sprintf("%s.%s.%s", SubjectEvents, sanitizeToken(agent), strings.ToLower(sanitizeToken(code)))
}

// BuildInboxSubject builds the COMMS inbox subject an agent subscribes to for envelopes.
func BuildInboxSubject(address string) string {
	return fmt.Sprintf("%s.%s", InboxPrefix, sanitizeToken(address))
}

// sanitizeToken replaces characters that split or wildcard NATS subjects.
func sanitizeToken(s string) string {
	if s == "" {
		return "_"
	}
	return strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_").Replace(s)
}
