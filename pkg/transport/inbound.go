package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	comms "github.com/nats-io/nats.go"

	"github.com/morezero/agent-router/pkg/commsutil"
	"github.com/morezero/agent-router/pkg/envelope"
)

const inboundLogPrefix = "transport:inbound"

// SubmitPath is where agents POST envelopes.
const SubmitPath = "/submit"

// MaxEnvelopeBytes bounds an inbound envelope body.
const MaxEnvelopeBytes = 1 << 20

// SubmitTimeout bounds how long an inbound COMMS envelope waits for queue space.
const SubmitTimeout = 5 * time.Second

// Submitter accepts decoded envelopes for dispatch. *dispatch.Engine implements it.
type Submitter interface {
	Submit(ctx context.Context, env *envelope.Envelope) error
}

type submitResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// RegisterRoutes mounts POST /submit on router.
func RegisterRoutes(router *httprouter.Router, s Submitter) {
	router.POST(SubmitPath, SubmitHandler(s))
}

// SubmitHandler decodes a JSON envelope from the request body and submits it.
func SubmitHandler(s Submitter) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		data, err := io.ReadAll(io.LimitReader(r.Body, MaxEnvelopeBytes+1))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, &submitResponse{Status: "rejected", Error: "failed to read body"})
			return
		}
		if len(data) > MaxEnvelopeBytes {
			writeJSON(w, http.StatusRequestEntityTooLarge, &submitResponse{Status: "rejected", Error: "envelope too large"})
			return
		}
		env, err := envelope.Unmarshal(data)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, &submitResponse{Status: "rejected", Error: err.Error()})
			return
		}
		if err := s.Submit(r.Context(), env); err != nil {
			slog.Warn(fmt.Sprintf("%s - submit from %s failed: %v", inboundLogPrefix, env.Sender, err))
			writeJSON(w, http.StatusServiceUnavailable, &submitResponse{Status: "rejected", Error: "agent is busy"})
			return
		}
		writeJSON(w, http.StatusOK, &submitResponse{Status: "accepted"})
	}
}

// SubscribeInbox subscribes to the COMMS inbox of address and submits every decoded
// envelope. Requests with a reply subject get a submitResponse.
func SubscribeInbox(ctx context.Context, nc *comms.Conn, address string, s Submitter) (*comms.Subscription, error) {
	subject := commsutil.BuildInboxSubject(address)
	sub, err := nc.Subscribe(subject, func(msg *comms.Msg) {
		resp := &submitResponse{Status: "accepted"}
		env, err := envelope.Unmarshal(msg.Data)
		if err != nil {
			slog.Warn(fmt.Sprintf("%s - dropping malformed envelope on %s: %v", inboundLogPrefix, subject, err))
			resp = &submitResponse{Status: "rejected", Error: err.Error()}
		} else {
			subCtx, cancel := context.WithTimeout(ctx, SubmitTimeout)
			err = s.Submit(subCtx, env)
			cancel()
			if err != nil {
				slog.Warn(fmt.Sprintf("%s - submit from %s failed: %v", inboundLogPrefix, env.Sender, err))
				resp = &submitResponse{Status: "rejected", Error: "agent is busy"}
			}
		}
		if msg.Reply != "" {
			data, _ := commsutil.EncodePayload(resp)
			msg.Respond(data)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("%s - failed to subscribe to %s: %w", inboundLogPrefix, subject, err)
	}
	slog.Info(fmt.Sprintf("%s - Subscribed to %s", inboundLogPrefix, subject))
	return sub, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
