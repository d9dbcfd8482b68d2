package events

import "context"

// Publisher is the interface for publishing report events.
type Publisher interface {
	PublishReport(ctx context.Context, event *ReportEvent) error
}

// NoOpPublisher is a Publisher that does nothing (for in-process usage without events).
type NoOpPublisher struct{}

// PublishReport is a no-op.
func (p *NoOpPublisher) PublishReport(_ context.Context, _ *ReportEvent) error {
	return nil
}

// CallbackPublisher is a Publisher that calls a callback function (for testing).
type CallbackPublisher struct {
	callback func(ctx context.Context, event *ReportEvent) error
}

// NewCallbackPublisher creates a new CallbackPublisher.
func NewCallbackPublisher(cb func(ctx context.Context, event *ReportEvent) error) *CallbackPublisher {
	return &CallbackPublisher{callback: cb}
}

// PublishReport calls the callback.
func (p *CallbackPublisher) PublishReport(ctx context.Context, event *ReportEvent) error {
	return p.callback(ctx, event)
}

// MultiPublisher fans a report out to several publishers. The first error is returned
// after every publisher has been called.
type MultiPublisher []Publisher

// PublishReport calls every publisher in order.
func (m MultiPublisher) PublishReport(ctx context.Context, event *ReportEvent) error {
	var first error
	for _, p := range m {
		if err := p.PublishReport(ctx, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}
