package observability

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeCloudWatch struct {
	puts []*cloudwatch.PutMetricDataInput
}

func (f *fakeCloudWatch) PutMetricData(ctx context.Context, in *cloudwatch.PutMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	f.puts = append(f.puts, in)
	return &cloudwatch.PutMetricDataOutput{}, nil
}

func TestCollector_Counters(t *testing.T) {
	c := NewCollector("links", nil)

	c.LinkMutation("create", "success")
	c.LinkMutation("create", "success")
	c.LinkMutation("delete", "conflict")
	c.AuditComputed("CLA", false)
	c.LinkAnomaly("wrong_kind")
	c.CommandHandled("CreateLinkCommand", errors.New("x"), time.Millisecond)
	c.ObserveHTTP("GET", "/api/v1/links/{id}", 200, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.LinkMutations.WithLabelValues("create", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Audits.WithLabelValues("CLA", "false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Commands.WithLabelValues("CreateLinkCommand", "failure")))

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.True(t, strings.Contains(rec.Body.String(), "links_link_anomalies_total"))
}

func TestCollector_MirrorsToCloudWatch(t *testing.T) {
	cw := &fakeCloudWatch{}
	sink := NewCloudWatchSink(cw, "EvidenceEngine/test", time.Hour, zap.NewNop())
	c := NewCollector("links", sink)

	for i := 0; i < 25; i++ {
		c.LinkMutation("create", "success")
	}
	sink.Flush(context.Background())

	require.Len(t, cw.puts, 2)
	assert.Len(t, cw.puts[0].MetricData, 20)
	assert.Len(t, cw.puts[1].MetricData, 5)
	assert.Equal(t, "EvidenceEngine/test", aws.ToString(cw.puts[0].Namespace))
	assert.Equal(t, "LinkMutation", aws.ToString(cw.puts[0].MetricData[0].MetricName))

	sink.Start()
	c.LinkAnomaly("x")
	sink.Close()
	assert.Len(t, cw.puts, 3)
}

func TestTracer_DisabledRunsUntraced(t *testing.T) {
	tr := NewTracer("links", false)
	ctx, seg := tr.StartSegment(context.Background(), "op")
	assert.Nil(t, seg)

	called := false
	err := tr.TraceFunction(ctx, "inner", func(context.Context) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
	Close(seg, nil)

	// enabled, but no parent segment
	tr = NewTracer("links", true)
	_, sub := tr.StartSubsegment(context.Background(), "orphan")
	assert.Nil(t, sub)
}
