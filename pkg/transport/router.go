// Package transport moves envelopes between agents over HTTP and COMMS.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/morezero/agent-router/pkg/commsutil"
	"github.com/morezero/agent-router/pkg/endpoint"
	"github.com/morezero/agent-router/pkg/envelope"
)

const routerLogPrefix = "transport:router"

// DefaultTimeout bounds one delivery when the caller's context has no deadline.
const DefaultTimeout = 10 * time.Second

// Router delivers envelopes by endpoint scheme: http(s) endpoints receive a JSON POST,
// nats endpoints a publish on the target's inbox subject.
type Router struct {
	client *http.Client
	pool   *Pool
}

// RouterParams holds the collaborators for NewRouter.
type RouterParams struct {
	HTTPClient *http.Client
	// Pool is used for nats endpoints. Nil disables COMMS delivery.
	Pool *Pool
}

// NewRouter creates a Router.
func NewRouter(p RouterParams) *Router {
	client := p.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	return &Router{client: client, pool: p.Pool}
}

// Deliver sends env to ep.
func (r *Router) Deliver(ctx context.Context, ep endpoint.Endpoint, env *envelope.Envelope) error {
	u, err := url.Parse(ep.URL)
	if err != nil {
		return fmt.Errorf("%s - invalid endpoint %q: %w", routerLogPrefix, ep.URL, err)
	}
	data, err := env.Marshal()
	if err != nil {
		return fmt.Errorf("%s - encode envelope: %w", routerLogPrefix, err)
	}

	switch u.Scheme {
	case "http", "https":
		return r.deliverHTTP(ctx, ep.URL, data)
	case "nats", "tls":
		return r.deliverComms(ctx, u, env.Target, data)
	default:
		return fmt.Errorf("%s - unsupported endpoint scheme %q", routerLogPrefix, u.Scheme)
	}
}

func (r *Router) deliverHTTP(ctx context.Context, target string, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%s - build request: %w", routerLogPrefix, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s - POST %s: %w", routerLogPrefix, target, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s - POST %s: status %d: %s", routerLogPrefix, target, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	slog.Debug(fmt.Sprintf("%s - Delivered to %s", routerLogPrefix, target))
	return nil
}

// deliverComms publishes to the endpoint path when it names a subject, otherwise to
// the target's inbox subject.
func (r *Router) deliverComms(ctx context.Context, u *url.URL, target string, data []byte) error {
	if r.pool == nil {
		return fmt.Errorf("%s - COMMS delivery is not configured", routerLogPrefix)
	}
	subject := strings.Trim(u.Path, "/")
	if subject == "" {
		subject = commsutil.BuildInboxSubject(target)
	}
	server := u.Scheme + "://" + u.Host
	if u.User != nil {
		server = u.Scheme + "://" + u.User.String() + "@" + u.Host
	}

	nc, err := r.pool.getOrConnect(server)
	if err != nil {
		return fmt.Errorf("%s - connect %s: %w", routerLogPrefix, u.Host, err)
	}
	if err := nc.Publish(subject, data); err != nil {
		return fmt.Errorf("%s - publish %s: %w", routerLogPrefix, subject, err)
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultTimeout)
		defer cancel()
	}
	if err := nc.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("%s - flush %s: %w", routerLogPrefix, subject, err)
	}
	slog.Debug(fmt.Sprintf("%s - Published to %s on %s", routerLogPrefix, subject, u.Host))
	return nil
}
