package almanac

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/morezero/agent-router/pkg/address"
	"github.com/morezero/agent-router/pkg/agenterr"
	"github.com/morezero/agent-router/pkg/endpoint"
)

const serviceLogPrefix = "almanac:service"

// Params holds the dependencies and settings for NewService. Zero values use defaults.
type Params struct {
	Store Store
	// Fee is the minimum registration fee.
	Fee Coin
	// RecordTTL is how long a registration stays resolvable.
	RecordTTL time.Duration
	// MaxEndpoints caps the endpoints accepted per record; 0 means no cap.
	MaxEndpoints int
	Clock        func() time.Time
}

// Service is the almanac registry containing the record and name business logic.
type Service struct {
	store        Store
	fee          Coin
	ttl          time.Duration
	maxEndpoints int
	now          func() time.Time
}

// NewService creates a new Service.
func NewService(params Params) *Service {
	store := params.Store
	if store == nil {
		store = NewMemoryStore()
	}
	fee := params.Fee
	if fee.Denom == "" {
		fee = Coin{Amount: DefaultFeeAmount, Denom: DefaultFeeDenom}
	}
	ttl := params.RecordTTL
	if ttl <= 0 {
		ttl = DefaultRecordTTLBlocks * DefaultAverageBlockInterval
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{store: store, fee: fee, ttl: ttl, maxEndpoints: params.MaxEndpoints, now: clock}
}

// QueryRecord returns the live record for addr. Absent and expired records both yield nil.
func (s *Service) QueryRecord(ctx context.Context, addr string) (*Record, error) {
	rec, err := s.store.GetRecord(ctx, addr)
	if err != nil {
		return nil, err
	}
	if rec == nil || rec.Expired(s.now()) {
		return nil, nil
	}
	return rec, nil
}

// Register publishes or refreshes a record. The fee must meet the configured minimum in the
// configured denomination and the sequence must exceed the stored one.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*RegisterResult, error) {
	slog.Info(fmt.Sprintf("%s - Register address=%s endpoints=%d sequence=%d", serviceLogPrefix, req.Address, len(req.Endpoints), req.Sequence))

	if err := address.Validate(req.Address); err != nil {
		return nil, agenterr.New(agenterr.CodeRegistrationFailure, "invalid agent address: %v", err).
			WithDetails(map[string]string{"reason": "invalid_address"})
	}
	if len(req.Endpoints) == 0 {
		return nil, agenterr.New(agenterr.CodeRegistrationFailure, "at least one endpoint is required").
			WithDetails(map[string]string{"reason": "no_endpoints"})
	}
	if s.maxEndpoints > 0 && len(req.Endpoints) > s.maxEndpoints {
		return nil, agenterr.New(agenterr.CodeRegistrationFailure, "%d endpoints exceeds the limit of %d", len(req.Endpoints), s.maxEndpoints).
			WithDetails(map[string]string{"reason": "too_many_endpoints"})
	}
	for _, ep := range req.Endpoints {
		if strings.TrimSpace(ep.URL) == "" {
			return nil, agenterr.New(agenterr.CodeRegistrationFailure, "endpoint url must not be empty").
				WithDetails(map[string]string{"reason": "invalid_endpoint"})
		}
	}
	if req.Fee.Denom != s.fee.Denom || req.Fee.Amount < s.fee.Amount {
		return nil, agenterr.New(agenterr.CodeRegistrationFailure, "insufficient fee: got %d%s, need %d%s",
			req.Fee.Amount, req.Fee.Denom, s.fee.Amount, s.fee.Denom).
			WithDetails(map[string]string{"reason": "insufficient_fee"})
	}

	now := s.now().UTC()
	eps := make([]endpoint.Endpoint, len(req.Endpoints))
	for i, ep := range req.Endpoints {
		eps[i] = endpoint.Endpoint{URL: ep.URL, Weight: normalizeWeight(ep.Weight)}
	}
	rec := &Record{
		Address:   req.Address,
		Endpoints: eps,
		Protocols: req.Protocols,
		Sequence:  req.Sequence,
		Expiry:    now.Add(s.ttl),
		Updated:   now,
	}

	stored, applied, err := s.store.PutRecord(ctx, rec)
	if err != nil {
		return nil, agenterr.Wrap(agenterr.CodeRegistrationFailure, err, "store record")
	}
	if !applied {
		cur := int64(0)
		if stored != nil {
			cur = stored.Sequence
		}
		return nil, agenterr.New(agenterr.CodeRegistrationFailure, "sequence %d is not greater than stored sequence %d", req.Sequence, cur).
			WithDetails(map[string]string{"reason": "stale_sequence"})
	}
	return &RegisterResult{Record: stored, Applied: true}, nil
}

// LookupName returns the address bound to name, or "" when unbound.
func (s *Service) LookupName(ctx context.Context, name string) (string, error) {
	return s.store.GetName(ctx, name)
}

// RegisterName binds name to an agent address, replacing any previous binding.
func (s *Service) RegisterName(ctx context.Context, req RegisterNameRequest) error {
	slog.Info(fmt.Sprintf("%s - RegisterName name=%s address=%s", serviceLogPrefix, req.Name, req.Address))

	if strings.TrimSpace(req.Name) == "" {
		return agenterr.New(agenterr.CodeRegistrationFailure, "name must not be empty").
			WithDetails(map[string]string{"reason": "invalid_name"})
	}
	if err := address.Validate(req.Address); err != nil {
		return agenterr.New(agenterr.CodeRegistrationFailure, "invalid agent address: %v", err).
			WithDetails(map[string]string{"reason": "invalid_address"})
	}
	if err := s.store.PutName(ctx, req); err != nil {
		return agenterr.Wrap(agenterr.CodeRegistrationFailure, err, "store name")
	}
	return nil
}

// Health checks the almanac store.
func (s *Service) Health(ctx context.Context) *HealthOutput {
	storeOk := s.store.Ping(ctx) == nil
	status := "healthy"
	if !storeOk {
		status = "unhealthy"
	}
	return &HealthOutput{
		Status:    status,
		Checks:    HealthChecks{Store: storeOk},
		Timestamp: s.now().UTC().Format(time.RFC3339),
	}
}

func normalizeWeight(w int) int {
	if w < 1 {
		return endpoint.DefaultWeight
	}
	return w
}
