package observability

import (
	"context"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"go.uber.org/zap"
)

// CloudWatchAPI is the subset of the CloudWatch client used by the sink
type CloudWatchAPI interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

const maxDatumsPerPut = 20

// CloudWatchSink buffers datums and ships them with PutMetricData. Record
// never blocks on the network.
type CloudWatchSink struct {
	client    CloudWatchAPI
	namespace string
	interval  time.Duration
	logger    *zap.Logger

	mu      sync.Mutex
	pending []types.MetricDatum

	stopCh chan struct{}
	done   chan struct{}
	once   sync.Once
}

// NewCloudWatchSink creates a sink flushing every interval
func NewCloudWatchSink(client CloudWatchAPI, namespace string, interval time.Duration, logger *zap.Logger) *CloudWatchSink {
	return &CloudWatchSink{
		client:    client,
		namespace: namespace,
		interval:  interval,
		logger:    logger,
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Record queues a datum
func (s *CloudWatchSink) Record(name string, value float64, unit string, dimensions map[string]string) {
	dims := make([]types.Dimension, 0, len(dimensions))
	for k, v := range dimensions {
		dims = append(dims, types.Dimension{Name: aws.String(k), Value: aws.String(v)})
	}
	datum := types.MetricDatum{
		MetricName: aws.String(name),
		Dimensions: dims,
		Value:      aws.Float64(value),
		Unit:       types.StandardUnit(unit),
		Timestamp:  aws.Time(time.Now()),
	}
	s.mu.Lock()
	s.pending = append(s.pending, datum)
	s.mu.Unlock()
}

// Start runs the flush loop
func (s *CloudWatchSink) Start() {
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Flush(context.Background())
			case <-s.stopCh:
				s.Flush(context.Background())
				return
			}
		}
	}()
}

// Close flushes what is left and stops the loop
func (s *CloudWatchSink) Close() {
	s.once.Do(func() {
		close(s.stopCh)
		<-s.done
	})
}

// Flush sends every queued datum
func (s *CloudWatchSink) Flush(ctx context.Context) {
	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	for len(pending) > 0 {
		n := len(pending)
		if n > maxDatumsPerPut {
			n = maxDatumsPerPut
		}
		_, err := s.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
			Namespace:  aws.String(s.namespace),
			MetricData: pending[:n],
		})
		if err != nil {
			s.logger.Warn("Failed to send metrics", zap.Error(err), zap.Int("dropped", n))
		}
		pending = pending[n:]
	}
}
