package dispatch

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/morezero/agent-router/pkg/agenterr"
	"github.com/morezero/agent-router/pkg/digest"
	"github.com/morezero/agent-router/pkg/envelope"
	"github.com/morezero/agent-router/pkg/protocol"
)

// Result describes one completed handler invocation.
type Result struct {
	Digest   digest.Digest
	Protocol string
	Sent     []protocol.SentMessage
	// Violations holds one INVALID_REPLY error per send outside the declared set.
	// The sends were still made.
	Violations []*agenterr.Error
}

// Dispatch validates env, invokes its handler and checks the handler's sends against
// the declared replies. Rejections and handler failures are reported and returned;
// they never panic.
func (e *Engine) Dispatch(ctx context.Context, env *envelope.Envelope) (*Result, error) {
	if err := env.Validate(); err != nil {
		return nil, e.report(ctx, err)
	}
	if env.Expired(e.clock()) {
		return nil, e.report(ctx, agenterr.New(agenterr.CodeExpiredEnvelope,
			"envelope from %s expired at %d", env.Sender, env.Expires).WithDetails(envelopeDetails(env)))
	}
	if e.address != "" && env.Target != e.address {
		return nil, e.report(ctx, agenterr.New(agenterr.CodeInvalidEnvelope,
			"envelope for %s delivered to %s", env.Target, e.address).WithDetails(envelopeDetails(env)))
	}

	d := digest.Digest(env.SchemaDigest)
	e.mu.RLock()
	rt, ok := e.routes[d]
	e.mu.RUnlock()
	if !ok {
		return nil, e.report(ctx, agenterr.New(agenterr.CodeUndeliverable,
			"no handler for schema %s from %s", d, env.Sender).WithDetails(envelopeDetails(env)))
	}

	switch {
	case env.Signed() && e.verifier != nil:
		if err := env.Verify(e.verifier); err != nil {
			return nil, e.report(ctx, err)
		}
	case rt.handler.AllowUnsigned:
	case env.Signed():
		return nil, e.report(ctx, agenterr.New(agenterr.CodeInvalidEnvelope,
			"no verifier configured to check the signature from %s", env.Sender).WithDetails(envelopeDetails(env)))
	default:
		return nil, e.report(ctx, agenterr.New(agenterr.CodeInvalidEnvelope,
			"handler for %s requires a signed envelope", d).WithDetails(envelopeDetails(env)))
	}

	data, err := env.PayloadJSON()
	if err != nil {
		return nil, e.report(ctx, err)
	}
	msg, err := rt.handler.Decode(data)
	if err != nil {
		return nil, e.report(ctx, agenterr.Wrap(agenterr.CodeInvalidEnvelope, err,
			"payload does not match schema %s", d).WithDetails(envelopeDetails(env)))
	}

	hctx := e.newContext(ctx, env.Session)
	herr := invoke(func() error { return rt.handler.Handle(hctx, env.Sender, msg) })

	res := &Result{Digest: d, Protocol: rt.protocol.Ref(), Sent: hctx.Sent()}
	if len(rt.handler.Replies) > 0 {
		for _, s := range res.Sent {
			if _, ok := rt.handler.Replies[s.Digest]; ok {
				continue
			}
			v := agenterr.New(agenterr.CodeInvalidReply,
				"handler for %s sent %s to %s outside its declared replies", d, s.Digest, s.Destination).
				WithDetails(map[string]interface{}{
					"schema_digest": string(d),
					"reply_digest":  string(s.Digest),
					"destination":   s.Destination,
					"protocol":      rt.protocol.Ref(),
				})
			e.report(ctx, v)
			res.Violations = append(res.Violations, v)
		}
	}

	if herr != nil {
		details := envelopeDetails(env)
		details["protocol"] = rt.protocol.Ref()
		return res, e.report(ctx, agenterr.Wrap(agenterr.CodeHandlerFailure, herr,
			"handler for %s failed", d).WithDetails(details))
	}
	return res, nil
}

// RunInterval invokes one interval handler of p with a fresh session and checks its
// sends against p's interval message set.
func (e *Engine) RunInterval(ctx context.Context, p *protocol.Protocol, iv protocol.Interval) (*Result, error) {
	hctx := e.newContext(ctx, uuid.Nil)
	herr := invoke(func() error { return iv.Handle(hctx) })

	res := &Result{Protocol: p.Ref(), Sent: hctx.Sent()}
	for _, s := range res.Sent {
		if p.AllowsIntervalMessage(s.Digest) {
			continue
		}
		v := agenterr.New(agenterr.CodeInvalidReply,
			"interval %s sent %s outside the protocol's interval messages", iv.Name, s.Digest).
			WithDetails(map[string]interface{}{
				"interval":     iv.Name,
				"reply_digest": string(s.Digest),
				"destination":  s.Destination,
				"protocol":     p.Ref(),
			})
		e.report(ctx, v)
		res.Violations = append(res.Violations, v)
	}

	if herr != nil {
		return res, e.report(ctx, agenterr.Wrap(agenterr.CodeHandlerFailure, herr,
			"interval %s of %s failed", iv.Name, p.Ref()).
			WithDetails(map[string]interface{}{"interval": iv.Name, "protocol": p.Ref()}))
	}
	return res, nil
}

func (e *Engine) newContext(ctx context.Context, session uuid.UUID) *protocol.Context {
	return protocol.NewContext(ctx, protocol.ContextParams{
		Address: e.address,
		Session: session,
		Storage: e.storage,
		Logger:  e.logger.With(slog.String("agent", e.address)),
		Sender:  engineSender{e},
	})
}

func envelopeDetails(env *envelope.Envelope) map[string]interface{} {
	return map[string]interface{}{
		"sender":        env.Sender,
		"target":        env.Target,
		"session":       env.Session.String(),
		"schema_digest": env.SchemaDigest,
	}
}
