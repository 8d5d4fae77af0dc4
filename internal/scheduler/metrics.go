package scheduler

import (
	"context"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"eventbell/internal/types"
)

// Metric and dimension names.
const (
	MetricDispatchOutcome = "DispatchOutcome"
	MetricDueBacklog      = "DueBacklog"
	DimCategory           = "Category"
	DimOutcome            = "Outcome"
)

// Dispatch outcomes reported per category.
const (
	OutcomeSent       = "sent"
	OutcomeSuppressed = "suppressed"
	OutcomeReleased   = "released"
	OutcomeFailed     = "failed"
	OutcomeDeferred   = "deferred"
	OutcomeClaimLost  = "claim_lost"
	OutcomeError      = "error"
)

// Metrics receives the outcome counts of a dispatch run.
type Metrics interface {
	RecordDispatch(ctx context.Context, result DispatchResult)
}

// NoopMetrics discards everything. Used when metrics are disabled.
type NoopMetrics struct{}

func (NoopMetrics) RecordDispatch(context.Context, DispatchResult) {}

// CloudWatchClient abstracts the CloudWatch PutMetricData operation.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchMetrics publishes dispatch outcomes as one PutMetricData call per
// run:
//   - DispatchOutcome: Dims {Category, Outcome}, one datum per non-zero count
//   - DueBacklog: Dims {Category}, records selected as due
type CloudWatchMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
}

var _ Metrics = (*CloudWatchMetrics)(nil)

// NewCloudWatchMetrics creates a CloudWatchMetrics publishing to namespace.
func NewCloudWatchMetrics(client CloudWatchClient, namespace string, logger *slog.Logger) *CloudWatchMetrics {
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudWatchMetrics{client: client, namespace: namespace, logger: logger}
}

// RecordDispatch emits the run's counts. Publish failures are logged only.
func (m *CloudWatchMetrics) RecordDispatch(ctx context.Context, result DispatchResult) {
	var data []cwtypes.MetricDatum
	for _, category := range types.DeliveryCategories {
		cr, ok := result.Categories[category]
		if !ok {
			continue
		}
		data = append(data, cwtypes.MetricDatum{
			MetricName: aws.String(MetricDueBacklog),
			Value:      aws.Float64(float64(cr.Due)),
			Unit:       cwtypes.StandardUnitCount,
			Dimensions: []cwtypes.Dimension{
				{Name: aws.String(DimCategory), Value: aws.String(string(category))},
			},
		})
		for _, oc := range []struct {
			name  string
			count int
		}{
			{OutcomeSent, cr.Sent},
			{OutcomeSuppressed, cr.Suppressed},
			{OutcomeReleased, cr.Released},
			{OutcomeFailed, cr.Failed},
			{OutcomeDeferred, cr.Deferred},
			{OutcomeClaimLost, cr.ClaimLost},
			{OutcomeError, cr.Errors},
		} {
			if oc.count == 0 {
				continue
			}
			data = append(data, cwtypes.MetricDatum{
				MetricName: aws.String(MetricDispatchOutcome),
				Value:      aws.Float64(float64(oc.count)),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{
					{Name: aws.String(DimCategory), Value: aws.String(string(category))},
					{Name: aws.String(DimOutcome), Value: aws.String(oc.name)},
				},
			})
		}
	}
	if len(data) == 0 {
		return
	}

	_, err := m.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: data,
	})
	if err != nil {
		m.logger.ErrorContext(ctx, "failed to publish dispatch metrics",
			"error", err,
			"datums", len(data),
		)
	}
}
