package server

import (
	"github.com/morezero/agent-router/pkg/protocol"
)

// PingProtocolName names the built-in liveness protocol every agent-router serves.
const PingProtocolName = "agent-router-ping"

// Ping asks an agent to answer with a Pong.
type Ping struct {
	Text string `json:"text"`
}

// Pong answers a Ping.
type Pong struct {
	Text    string `json:"text"`
	Address string `json:"address"`
}

// PingProtocol returns the built-in liveness protocol. Unsigned pings are accepted.
func PingProtocol() *protocol.Protocol {
	p := protocol.MustNew(PingProtocolName, "1.0.0")
	protocol.On(p, func(ctx *protocol.Context, sender string, msg Ping) error {
		return ctx.Send(sender, Pong{Text: msg.Text, Address: ctx.Address})
	}, protocol.Replies(Pong{}), protocol.AllowUnsigned())
	return p
}
