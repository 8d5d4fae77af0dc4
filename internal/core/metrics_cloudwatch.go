package core

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// Request metric and dimension names.
const (
	MetricAPIRequests = "APIRequests"
	MetricAPILatency  = "APILatency"
	DimMethod         = "Method"
	DimEndpoint       = "Endpoint"
	DimStatus         = "Status"
)

// PutMetricData accepts at most 1000 datums per call.
const maxDatumsPerCall = 1000

// CloudWatchClient abstracts the CloudWatch PutMetricData operation.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

type requestKey struct {
	method, endpoint, status string
}

type requestAgg struct {
	count int
	sum   time.Duration
	min   time.Duration
	max   time.Duration
}

// CloudWatchRequestMetrics aggregates request counts and latency in memory and
// publishes them as statistic sets on Flush. RecordRequest never blocks on
// the network.
type CloudWatchRequestMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger

	mu   sync.Mutex
	aggs map[requestKey]*requestAgg
}

var _ MetricsCollector = (*CloudWatchRequestMetrics)(nil)

// NewCloudWatchRequestMetrics creates a collector publishing to namespace.
func NewCloudWatchRequestMetrics(client CloudWatchClient, namespace string, logger *slog.Logger) *CloudWatchRequestMetrics {
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudWatchRequestMetrics{
		client:    client,
		namespace: namespace,
		logger:    logger,
		aggs:      make(map[requestKey]*requestAgg),
	}
}

func (m *CloudWatchRequestMetrics) RecordRequest(method, endpoint, status string, duration time.Duration) {
	k := requestKey{method: method, endpoint: endpoint, status: status}

	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.aggs[k]
	if !ok {
		m.aggs[k] = &requestAgg{count: 1, sum: duration, min: duration, max: duration}
		return
	}
	a.count++
	a.sum += duration
	if duration < a.min {
		a.min = duration
	}
	if duration > a.max {
		a.max = duration
	}
}

// Flush publishes and resets the aggregates. Publish failures are logged and
// the batch is dropped.
func (m *CloudWatchRequestMetrics) Flush(ctx context.Context) {
	m.mu.Lock()
	aggs := m.aggs
	m.aggs = make(map[requestKey]*requestAgg)
	m.mu.Unlock()

	if len(aggs) == 0 {
		return
	}

	keys := make([]requestKey, 0, len(aggs))
	for k := range aggs {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].endpoint != keys[j].endpoint {
			return keys[i].endpoint < keys[j].endpoint
		}
		if keys[i].method != keys[j].method {
			return keys[i].method < keys[j].method
		}
		return keys[i].status < keys[j].status
	})

	data := make([]cwtypes.MetricDatum, 0, 2*len(keys))
	for _, k := range keys {
		a := aggs[k]
		dims := []cwtypes.Dimension{
			{Name: aws.String(DimMethod), Value: aws.String(k.method)},
			{Name: aws.String(DimEndpoint), Value: aws.String(k.endpoint)},
			{Name: aws.String(DimStatus), Value: aws.String(k.status)},
		}
		data = append(data,
			cwtypes.MetricDatum{
				MetricName: aws.String(MetricAPIRequests),
				Value:      aws.Float64(float64(a.count)),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: dims,
			},
			cwtypes.MetricDatum{
				MetricName: aws.String(MetricAPILatency),
				Unit:       cwtypes.StandardUnitMilliseconds,
				Dimensions: dims,
				StatisticValues: &cwtypes.StatisticSet{
					SampleCount: aws.Float64(float64(a.count)),
					Sum:         aws.Float64(millis(a.sum)),
					Minimum:     aws.Float64(millis(a.min)),
					Maximum:     aws.Float64(millis(a.max)),
				},
			},
		)
	}

	for start := 0; start < len(data); start += maxDatumsPerCall {
		end := min(start+maxDatumsPerCall, len(data))
		_, err := m.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
			Namespace:  aws.String(m.namespace),
			MetricData: data[start:end],
		})
		if err != nil {
			m.logger.ErrorContext(ctx, "failed to publish request metrics",
				"error", err,
				"datums", end-start,
			)
		}
	}
}

// Run flushes every interval until ctx is done, then flushes once more.
func (m *CloudWatchRequestMetrics) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			m.Flush(flushCtx)
			cancel()
			return
		case <-ticker.C:
			m.Flush(ctx)
		}
	}
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
