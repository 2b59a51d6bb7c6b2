package aws

import (
	"context"
	"log"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// Metrics emits operational counters to CloudWatch. All emission is
// best-effort: a metrics failure is logged and never surfaced to callers.
// A nil *Metrics is valid and drops everything, so tests and local runs
// can skip CloudWatch entirely.
type Metrics struct {
	client    CloudWatchAPI
	namespace string
}

// NewMetrics returns a Metrics bound to a namespace, or nil when no client is configured.
func NewMetrics(client CloudWatchAPI, namespace string) *Metrics {
	if client == nil {
		return nil
	}
	return &Metrics{client: client, namespace: namespace}
}

// Count publishes a single Count-unit datum with optional dimensions.
func (m *Metrics) Count(ctx context.Context, name string, value float64, dims map[string]string) {
	if m == nil {
		return
	}
	datum := cwtypes.MetricDatum{
		MetricName: &name,
		Value:      &value,
		Unit:       cwtypes.StandardUnitCount,
	}
	for k, v := range dims {
		k, v := k, v
		datum.Dimensions = append(datum.Dimensions, cwtypes.Dimension{Name: &k, Value: &v})
	}
	_, err := m.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  &m.namespace,
		MetricData: []cwtypes.MetricDatum{datum},
	})
	if err != nil {
		log.Printf("metrics: put %s failed: %v", name, err)
	}
}
