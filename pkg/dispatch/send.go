package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/morezero/agent-router/pkg/agenterr"
	"github.com/morezero/agent-router/pkg/digest"
	"github.com/morezero/agent-router/pkg/envelope"
)

const sendLogPrefix = "dispatch:send"

// engineSender exposes the engine as a protocol.Sender for handler contexts.
type engineSender struct{ e *Engine }

func (s engineSender) Send(ctx context.Context, destination string, session uuid.UUID, msg interface{}) error {
	return s.e.send(ctx, destination, session, msg)
}

// Send delivers msg to destination in a new session.
func (e *Engine) Send(ctx context.Context, destination string, msg interface{}) error {
	return e.send(ctx, destination, uuid.New(), msg)
}

// SendInSession delivers msg to destination within session.
func (e *Engine) SendInSession(ctx context.Context, destination string, session uuid.UUID, msg interface{}) error {
	return e.send(ctx, destination, session, msg)
}

// send resolves destination, seals msg in a signed envelope and tries each resolved
// endpoint in order until one accepts it.
func (e *Engine) send(ctx context.Context, destination string, session uuid.UUID, msg interface{}) error {
	final, eps := e.resolver.Resolve(ctx, destination)
	if len(eps) == 0 {
		return e.report(ctx, agenterr.New(agenterr.CodeUnroutable, "no endpoints for %s", destination).
			WithDetails(map[string]interface{}{"destination": destination}))
	}
	if e.transport == nil {
		return e.report(ctx, agenterr.New(agenterr.CodeUnroutable, "no transport configured for %s", final))
	}

	env := envelope.New(envelope.Params{
		Sender:       e.address,
		Target:       final,
		Session:      session,
		SchemaDigest: string(digest.Of(msg)),
		Timeout:      e.timeout,
		Nonce:        e.nonce.Add(1),
		Now:          e.clock,
	})
	if err := env.EncodePayload(msg); err != nil {
		return e.report(ctx, agenterr.Wrap(agenterr.CodeInvalidEnvelope, err, "encode message for %s", final))
	}
	if e.signer != nil {
		if err := env.Sign(e.signer); err != nil {
			return e.report(ctx, err)
		}
	}

	var errs []error
	for _, ep := range eps {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		err := e.transport.Deliver(ctx, ep, env)
		if err == nil {
			slog.Debug(fmt.Sprintf("%s - Delivered %s to %s via %s", sendLogPrefix, env.SchemaDigest, final, ep.URL))
			return nil
		}
		slog.Warn(fmt.Sprintf("%s - Delivery to %s via %s failed: %v", sendLogPrefix, final, ep.URL, err))
		errs = append(errs, err)
	}
	return e.report(ctx, agenterr.Wrap(agenterr.CodeUnroutable, errors.Join(errs...),
		"delivery to %s failed on %d endpoints", final, len(errs)).
		WithDetails(map[string]interface{}{"destination": destination, "address": final, "attempts": len(errs)}))
}
