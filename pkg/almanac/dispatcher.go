package almanac

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/agent-router/pkg/agenterr"
	"github.com/morezero/agent-router/pkg/commsutil"
)

const dispatcherLogPrefix = "almanac:dispatcher"

// Dispatcher routes COMMS requests to almanac Service methods.
type Dispatcher struct {
	service *Service
}

// NewDispatcher creates a new Dispatcher.
func NewDispatcher(svc *Service) *Dispatcher {
	return &Dispatcher{service: svc}
}

// Dispatch routes a request to the appropriate service method and returns a response.
func (d *Dispatcher) Dispatch(ctx context.Context, req *Request) *Response {
	slog.Debug(fmt.Sprintf("%s - method=%s id=%s", dispatcherLogPrefix, req.Method, req.ID))

	switch req.Method {
	case MethodQueryRecord:
		return d.handleQueryRecord(ctx, req)
	case MethodRegister:
		return d.handleRegister(ctx, req)
	case MethodLookupName:
		return d.handleLookupName(ctx, req)
	case MethodRegisterName:
		return d.handleRegisterName(ctx, req)
	case MethodHealth:
		return &Response{ID: req.ID, Ok: true, Result: d.service.Health(ctx)}
	default:
		return errorResponse(req.ID, "METHOD_NOT_FOUND", fmt.Sprintf("Unknown method: %s", req.Method), false)
	}
}

// Subscribe serves the almanac on subject until the returned subscription is drained.
func (d *Dispatcher) Subscribe(ctx context.Context, nc *comms.Conn, subject string) (*comms.Subscription, error) {
	slog.Info(fmt.Sprintf("%s - Serving almanac on %s", dispatcherLogPrefix, subject))
	return nc.QueueSubscribe(subject, "almanac", func(msg *comms.Msg) {
		var req Request
		var resp *Response
		if err := commsutil.DecodePayload(msg.Data, &req); err != nil {
			resp = errorResponse("", "INVALID_REQUEST", "Failed to parse request envelope", false)
		} else {
			resp = d.Dispatch(ctx, &req)
		}
		data, err := commsutil.EncodePayload(resp)
		if err != nil {
			slog.Error(fmt.Sprintf("%s - encode response failed: %v", dispatcherLogPrefix, err))
			return
		}
		if err := msg.Respond(data); err != nil {
			slog.Warn(fmt.Sprintf("%s - respond failed: %v", dispatcherLogPrefix, err))
		}
	})
}

func (d *Dispatcher) handleQueryRecord(ctx context.Context, req *Request) *Response {
	var input QueryRecordInput
	if err := commsutil.DecodeStrict(req.Params, &input); err != nil {
		return errorResponse(req.ID, "INVALID_ARGUMENT", "Failed to parse queryRecord params", false)
	}
	rec, err := d.service.QueryRecord(ctx, input.Address)
	if err != nil {
		return serviceErrorToResponse(req.ID, err)
	}
	return &Response{ID: req.ID, Ok: true, Result: &QueryRecordOutput{Record: rec}}
}

func (d *Dispatcher) handleRegister(ctx context.Context, req *Request) *Response {
	var input RegisterRequest
	if err := json.Unmarshal(req.Params, &input); err != nil {
		return errorResponse(req.ID, "INVALID_ARGUMENT", "Failed to parse register params", false)
	}
	result, err := d.service.Register(ctx, input)
	if err != nil {
		return serviceErrorToResponse(req.ID, err)
	}
	return &Response{ID: req.ID, Ok: true, Result: result}
}

func (d *Dispatcher) handleLookupName(ctx context.Context, req *Request) *Response {
	var input LookupNameInput
	if err := commsutil.DecodeStrict(req.Params, &input); err != nil {
		return errorResponse(req.ID, "INVALID_ARGUMENT", "Failed to parse lookupName params", false)
	}
	addr, err := d.service.LookupName(ctx, input.Name)
	if err != nil {
		return serviceErrorToResponse(req.ID, err)
	}
	return &Response{ID: req.ID, Ok: true, Result: &LookupNameOutput{Address: addr}}
}

func (d *Dispatcher) handleRegisterName(ctx context.Context, req *Request) *Response {
	var input RegisterNameRequest
	if err := json.Unmarshal(req.Params, &input); err != nil {
		return errorResponse(req.ID, "INVALID_ARGUMENT", "Failed to parse registerName params", false)
	}
	if err := d.service.RegisterName(ctx, input); err != nil {
		return serviceErrorToResponse(req.ID, err)
	}
	return &Response{ID: req.ID, Ok: true, Result: map[string]bool{"bound": true}}
}

// --- helpers ---

func errorResponse(id, code, message string, retryable bool) *Response {
	return &Response{
		ID: id,
		Ok: false,
		Error: &ErrorDetail{
			Code:      code,
			Message:   message,
			Retryable: retryable,
		},
	}
}

func serviceErrorToResponse(id string, err error) *Response {
	var ae *agenterr.Error
	if errors.As(err, &ae) {
		// Store failures carry a cause and may succeed on retry.
		return &Response{
			ID: id,
			Ok: false,
			Error: &ErrorDetail{
				Code:      string(ae.Code),
				Message:   ae.Message,
				Details:   ae.Details,
				Retryable: ae.Err != nil,
			},
		}
	}
	return errorResponse(id, "INTERNAL_ERROR", err.Error(), true)
}
