package protocol

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/morezero/agent-router/pkg/digest"
	"github.com/morezero/agent-router/pkg/storage"
)

// Sender delivers one outbound message on behalf of a handler.
type Sender interface {
	Send(ctx context.Context, destination string, session uuid.UUID, msg interface{}) error
}

// SentMessage is one send issued during a handler invocation.
type SentMessage struct {
	Destination string
	Digest      digest.Digest
	Err         error
}

// Context is handed to a handler for one invocation. It embeds the invocation's
// context.Context; handlers that need cancellation check it themselves.
type Context struct {
	context.Context

	// Address is the receiving agent.
	Address string
	// Session identifies the conversation. Replies keep it.
	Session uuid.UUID
	Storage storage.KV
	Logger  *slog.Logger

	sender Sender
	mu     sync.Mutex
	sent   []SentMessage
}

// ContextParams holds the fields for NewContext.
type ContextParams struct {
	Address string
	Session uuid.UUID
	Storage storage.KV
	Logger  *slog.Logger
	Sender  Sender
}

// NewContext creates a handler context. A zero Session starts a new one.
func NewContext(parent context.Context, p ContextParams) *Context {
	session := p.Session
	if session == uuid.Nil {
		session = uuid.New()
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Context{
		Context: parent,
		Address: p.Address,
		Session: session,
		Storage: p.Storage,
		Logger:  logger,
		sender:  p.Sender,
	}
}

// Send delivers msg to destination within the current session. Every call is recorded
// for reply validation, whether or not delivery succeeded.
func (c *Context) Send(destination string, msg interface{}) error {
	var err error
	if c.sender == nil {
		err = errNoSender
	} else {
		err = c.sender.Send(c.Context, destination, c.Session, msg)
	}
	c.mu.Lock()
	c.sent = append(c.sent, SentMessage{Destination: destination, Digest: digest.Of(msg), Err: err})
	c.mu.Unlock()
	return err
}

// Sent returns the sends issued so far.
func (c *Context) Sent() []SentMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]SentMessage(nil), c.sent...)
}
