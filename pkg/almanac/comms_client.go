package almanac

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/agent-router/pkg/agenterr"
	"github.com/morezero/agent-router/pkg/commsutil"
)

const commsClientLogPrefix = "almanac:comms_client"

// CommsClient calls a remote almanac over COMMS request/reply.
type CommsClient struct {
	nc      *comms.Conn
	subject string
	sender  string
	timeout time.Duration
	seq     atomic.Uint64
}

// CommsClientOpts configures CommsClient. Zero values use defaults.
type CommsClientOpts struct {
	Subject string
	// Sender is stamped on every request.
	Sender string
	// Timeout bounds each request when the caller's context has no deadline.
	Timeout time.Duration
}

// NewCommsClient creates a CommsClient on nc.
func NewCommsClient(nc *comms.Conn, opts CommsClientOpts) *CommsClient {
	subject := opts.Subject
	if subject == "" {
		subject = commsutil.SubjectAlmanac
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &CommsClient{nc: nc, subject: subject, sender: opts.Sender, timeout: timeout}
}

// QueryRecord returns the live record for addr, or nil when absent.
func (c *CommsClient) QueryRecord(ctx context.Context, addr string) (*Record, error) {
	var out QueryRecordOutput
	if err := c.call(ctx, MethodQueryRecord, QueryRecordInput{Address: addr}, &out); err != nil {
		return nil, err
	}
	return out.Record, nil
}

// Register publishes a record through the remote almanac.
func (c *CommsClient) Register(ctx context.Context, req RegisterRequest) (*RegisterResult, error) {
	var out RegisterResult
	if err := c.call(ctx, MethodRegister, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// LookupName returns the address bound to name, or "" when unbound.
func (c *CommsClient) LookupName(ctx context.Context, name string) (string, error) {
	var out LookupNameOutput
	if err := c.call(ctx, MethodLookupName, LookupNameInput{Name: name}, &out); err != nil {
		return "", err
	}
	return out.Address, nil
}

// RegisterName binds name to an address through the remote almanac.
func (c *CommsClient) RegisterName(ctx context.Context, req RegisterNameRequest) error {
	return c.call(ctx, MethodRegisterName, req, nil)
}

// Health returns the remote almanac health.
func (c *CommsClient) Health(ctx context.Context) (*HealthOutput, error) {
	var out HealthOutput
	if err := c.call(ctx, MethodHealth, struct{}{}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *CommsClient) call(ctx context.Context, method string, params, out interface{}) error {
	rawParams, err := commsutil.EncodePayload(params)
	if err != nil {
		return fmt.Errorf("%s - encode %s params: %w", commsClientLogPrefix, method, err)
	}
	req := Request{
		ID:     fmt.Sprintf("alm-%d-%d", time.Now().UnixNano(), c.seq.Add(1)),
		Type:   "invoke",
		Method: method,
		Params: rawParams,
		Sender: c.sender,
	}
	payload, err := commsutil.EncodePayload(req)
	if err != nil {
		return fmt.Errorf("%s - encode request: %w", commsClientLogPrefix, err)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	slog.Debug(fmt.Sprintf("%s - %s id=%s subject=%s", commsClientLogPrefix, method, req.ID, c.subject))
	msg, err := c.nc.RequestWithContext(ctx, c.subject, payload)
	if err != nil {
		return fmt.Errorf("%s - almanac did not respond to %s: %w", commsClientLogPrefix, method, err)
	}

	var resp struct {
		ID     string          `json:"id"`
		Ok     bool            `json:"ok"`
		Result json.RawMessage `json:"result"`
		Error  *ErrorDetail    `json:"error,omitempty"`
	}
	if err := commsutil.DecodePayload(msg.Data, &resp); err != nil {
		return fmt.Errorf("%s - decode %s response: %w", commsClientLogPrefix, method, err)
	}
	if !resp.Ok {
		if resp.Error == nil {
			return fmt.Errorf("%s - %s failed without error detail", commsClientLogPrefix, method)
		}
		return &agenterr.Error{
			Code:    agenterr.Code(resp.Error.Code),
			Message: resp.Error.Message,
			Details: resp.Error.Details,
		}
	}
	if out == nil || len(resp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return fmt.Errorf("%s - decode %s result: %w", commsClientLogPrefix, method, err)
	}
	return nil
}
