package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/smithy-go"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/demonfiddler/evidence-engine-sub000/domain/core/entities"
	vo "github.com/demonfiddler/evidence-engine-sub000/domain/core/valueobjects"
	"github.com/demonfiddler/evidence-engine-sub000/infrastructure/persistence/memory"
	pkgerrors "github.com/demonfiddler/evidence-engine-sub000/pkg/errors"
)

type flakyStore struct {
	*memory.Store
	err   error
	calls int
}

func (f *flakyStore) GetLink(ctx context.Context, id string) (*entities.EntityLink, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.Store.GetLink(ctx, id)
}

func testConfig() BreakerConfig {
	cfg := DefaultBreakerConfig("links")
	cfg.MinRequests = 3
	cfg.FailureThreshold = 0.5
	cfg.Timeout = time.Hour
	return cfg
}

func TestLinkStore_DomainErrorsDoNotTrip(t *testing.T) {
	ctx := context.Background()
	store := NewLinkStore(memory.NewStore(), testConfig(), zap.NewNop())

	for i := 0; i < 10; i++ {
		_, err := store.GetLink(ctx, "missing")
		assert.True(t, pkgerrors.IsNotFound(err))
	}
	assert.Equal(t, gobreaker.StateClosed, store.State())

	in := entities.LinkInput{
		From: vo.RecordRef{Kind: vo.KindClaim, ID: "1"},
		To:   vo.RecordRef{Kind: vo.KindTopic, ID: "5"},
	}
	link, err := store.CreateLink(ctx, in, "alice")
	require.NoError(t, err)
	_, err = store.CreateLink(ctx, in, "alice")
	assert.ErrorIs(t, err, pkgerrors.ErrDuplicateLink)

	got, err := store.GetLink(ctx, link.ID)
	require.NoError(t, err)
	assert.Equal(t, link.ID, got.ID)
	assert.Equal(t, gobreaker.StateClosed, store.State())
}

func TestLinkStore_BackendFaultsOpenTheBreaker(t *testing.T) {
	ctx := context.Background()
	flaky := &flakyStore{Store: memory.NewStore(), err: errors.New("connection reset")}
	store := NewLinkStore(flaky, testConfig(), zap.NewNop())

	for i := 0; i < 3; i++ {
		_, err := store.GetLink(ctx, "x")
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, store.State())

	_, err := store.GetLink(ctx, "x")
	assert.True(t, pkgerrors.IsType(err, pkgerrors.ErrorTypeUnavailable))
	assert.Equal(t, 3, flaky.calls)
}

func TestIsBackendHealthy_AWSFaults(t *testing.T) {
	clientFault := &smithy.GenericAPIError{Code: "ValidationException", Fault: smithy.FaultClient}
	throttled := &smithy.GenericAPIError{Code: "ProvisionedThroughputExceededException", Fault: smithy.FaultClient}
	serverFault := &smithy.GenericAPIError{Code: "InternalServerError", Fault: smithy.FaultServer}

	assert.True(t, isBackendHealthy(nil))
	assert.True(t, isBackendHealthy(context.Canceled))
	assert.True(t, isBackendHealthy(clientFault))
	assert.False(t, isBackendHealthy(throttled))
	assert.False(t, isBackendHealthy(serverFault))
	assert.False(t, isBackendHealthy(errors.New("connection reset")))
}
