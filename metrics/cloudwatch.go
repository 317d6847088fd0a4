package metrics

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	appconfig "cryptolens/config"
	"cryptolens/logger"
)

// CloudWatchPublisher periodically pushes counter snapshots to CloudWatch.
// Publishing is best effort; failures are logged and never affect request
// handling.
type CloudWatchPublisher struct {
	client    *cloudwatch.Client
	namespace string
	interval  time.Duration
	metrics   *Metrics
	log       *logger.Log
}

// NewCloudWatchPublisher builds a publisher from configuration. It returns
// nil (without error) when publishing is disabled.
func NewCloudWatchPublisher(cfg appconfig.CloudWatchConfig, m *Metrics, log *logger.Log) (*CloudWatchPublisher, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, err
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Minute
	}

	return &CloudWatchPublisher{
		client:    cloudwatch.NewFromConfig(awsCfg),
		namespace: cfg.Namespace,
		interval:  interval,
		metrics:   m,
		log:       log,
	}, nil
}

// Run publishes snapshots until the context is cancelled.
func (p *CloudWatchPublisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.publish(ctx)
		}
	}
}

func (p *CloudWatchPublisher) publish(ctx context.Context) {
	snapshot := p.metrics.Snapshot()
	data := make([]cwtypes.MetricDatum, 0, len(snapshot))
	for name, value := range snapshot {
		data = append(data, cwtypes.MetricDatum{
			MetricName: aws.String(name),
			Unit:       cwtypes.StandardUnitCount,
			Value:      aws.Float64(float64(value)),
		})
	}

	if _, err := p.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(p.namespace),
		MetricData: data,
	}); err != nil {
		p.log.WithComponent("cloudwatch").WithError(err).Warn("failed to publish metrics")
	}
}
