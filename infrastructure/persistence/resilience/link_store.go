package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/aws/smithy-go"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/demonfiddler/evidence-engine-sub000/application/ports"
	"github.com/demonfiddler/evidence-engine-sub000/domain/core/entities"
	vo "github.com/demonfiddler/evidence-engine-sub000/domain/core/valueobjects"
	pkgerrors "github.com/demonfiddler/evidence-engine-sub000/pkg/errors"
)

// BreakerConfig holds configuration for the store circuit breaker
type BreakerConfig struct {
	Name             string
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold float64
	MinRequests      uint32
}

// DefaultBreakerConfig returns the settings used in production
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:             name,
		MaxRequests:      5,
		Interval:         30 * time.Second,
		Timeout:          60 * time.Second,
		FailureThreshold: 0.8,
		MinRequests:      5,
	}
}

// LinkStore guards another LinkStore with a circuit breaker. Domain outcomes
// (not found, duplicate, validation) count as successes; only backend faults
// move the breaker.
type LinkStore struct {
	next   ports.LinkStore
	cb     *gobreaker.CircuitBreaker
	logger *zap.Logger
}

var _ ports.LinkStore = (*LinkStore)(nil)

// NewLinkStore wraps next
func NewLinkStore(next ports.LinkStore, cfg BreakerConfig, logger *zap.Logger) *LinkStore {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
		IsSuccessful: isBackendHealthy,
	})
	return &LinkStore{next: next, cb: cb, logger: logger}
}

// State reports the breaker state
func (s *LinkStore) State() gobreaker.State {
	return s.cb.State()
}

// CreateLink implements LinkStore
func (s *LinkStore) CreateLink(ctx context.Context, in entities.LinkInput, userID string) (*entities.EntityLink, error) {
	return execute(s, func() (*entities.EntityLink, error) { return s.next.CreateLink(ctx, in, userID) })
}

// UpdateLink implements LinkStore
func (s *LinkStore) UpdateLink(ctx context.Context, in entities.LinkInput, userID string) (*entities.EntityLink, error) {
	return execute(s, func() (*entities.EntityLink, error) { return s.next.UpdateLink(ctx, in, userID) })
}

// DeleteLink implements LinkStore
func (s *LinkStore) DeleteLink(ctx context.Context, id string, userID string) error {
	_, err := execute(s, func() (struct{}, error) { return struct{}{}, s.next.DeleteLink(ctx, id, userID) })
	return err
}

// GetLink implements LinkStore
func (s *LinkStore) GetLink(ctx context.Context, id string) (*entities.EntityLink, error) {
	return execute(s, func() (*entities.EntityLink, error) { return s.next.GetLink(ctx, id) })
}

// ReadLinksForRecord implements LinkStore
func (s *LinkStore) ReadLinksForRecord(ctx context.Context, ref vo.RecordRef) (entities.RecordLinks, error) {
	return execute(s, func() (entities.RecordLinks, error) { return s.next.ReadLinksForRecord(ctx, ref) })
}

func execute[T any](s *LinkStore, fn func() (T, error)) (T, error) {
	var zero T
	res, err := s.cb.Execute(func() (interface{}, error) {
		v, err := fn()
		return v, err
	})
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		s.logger.Warn("Link store call rejected by circuit breaker", zap.Error(err))
		return zero, pkgerrors.NewUnavailableError("link store").WithCause(err)
	case err != nil:
		if v, ok := res.(T); ok {
			return v, err
		}
		return zero, err
	}
	return res.(T), nil
}

func isBackendHealthy(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	if pkgerrors.IsNotFound(err) || pkgerrors.IsConflict(err) || pkgerrors.IsValidation(err) {
		return true
	}
	// A malformed request is our fault, not the backend's; throttling is not
	var ae smithy.APIError
	if errors.As(err, &ae) {
		switch ae.ErrorCode() {
		case "ProvisionedThroughputExceededException", "RequestLimitExceeded", "ThrottlingException":
			return false
		}
		return ae.ErrorFault() == smithy.FaultClient
	}
	return false
}
