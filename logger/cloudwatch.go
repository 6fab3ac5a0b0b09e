package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

var cwClient *cloudwatch.Client
var cwNamespace = "CoincapFlow"
var cwDashboard = "CoincapFlow"

// InitCloudWatch initialises the CloudWatch client. An empty region falls back
// to AWS_REGION. When the AWS configuration cannot be loaded publishing stays
// disabled and a warning is logged.
func InitCloudWatch(ctx context.Context, region, namespace, dashboard string) {
	log := GetLogger().WithComponent("cloudwatch")

	if region == "" {
		region = os.Getenv("AWS_REGION")
	}

	opts := []func(*config.LoadOptions) error{}
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		log.WithError(err).Warn("failed to load AWS configuration; CloudWatch metrics disabled")
		return
	}

	cwClient = cloudwatch.NewFromConfig(cfg)

	if namespace != "" {
		cwNamespace = namespace
	}
	if dashboard != "" {
		cwDashboard = dashboard
	}

	log.WithFields(Fields{"region": region, "namespace": cwNamespace}).Info("initialized CloudWatch client")

	CreateDefaultDashboard(ctx)
}

func publishMetrics(ctx context.Context, data []cwtypes.MetricDatum) {
	log := GetLogger().WithComponent("cloudwatch")
	if cwClient == nil {
		log.Debug("CloudWatch client not initialized; skipping metric publish")
		return
	}
	if len(data) == 0 {
		return
	}

	if _, err := cwClient.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(cwNamespace),
		MetricData: data,
	}); err != nil {
		log.WithError(err).Warn("failed to publish CloudWatch metrics")
		return
	}

	names := make([]string, 0, len(data))
	for _, datum := range data {
		if datum.MetricName != nil {
			names = append(names, *datum.MetricName)
		}
	}
	log.WithFields(Fields{"metrics": strings.Join(names, ",")}).Debug("published metrics to CloudWatch")
}

// CreateDefaultDashboard puts a dashboard with the pipeline counters. Failures
// are logged and otherwise ignored.
func CreateDefaultDashboard(ctx context.Context) {
	if cwClient == nil {
		return
	}

	body, err := dashboardBody(cwNamespace, cwClient.Options().Region)
	if err != nil {
		GetLogger().WithComponent("cloudwatch").WithError(err).Warn("failed to build CloudWatch dashboard")
		return
	}

	if _, err := cwClient.PutDashboard(ctx, &cloudwatch.PutDashboardInput{
		DashboardName: aws.String(cwDashboard),
		DashboardBody: aws.String(body),
	}); err != nil {
		GetLogger().WithComponent("cloudwatch").WithError(err).Warn("failed to create CloudWatch dashboard")
	}
}

type dashboardWidget struct {
	Type       string           `json:"type"`
	Width      int              `json:"width"`
	Height     int              `json:"height"`
	Properties widgetProperties `json:"properties"`
}

type widgetProperties struct {
	Metrics []any  `json:"metrics"`
	Period  int    `json:"period"`
	Stat    string `json:"stat"`
	Region  string `json:"region,omitempty"`
	Title   string `json:"title"`
}

// search matches every dimension combination of metric under dims.
func search(namespace, dims, metric, stat, id string) []any {
	expr := fmt.Sprintf(`SEARCH('{%s,%s} MetricName="%s"', '%s', 300)`, namespace, dims, metric, stat)
	return []any{map[string]string{"expression": expr, "id": id, "label": metric}}
}

// dashboardBody plots the running totals published by the runtime report
// with Maximum, and the per-run metrics with Sum.
func dashboardBody(namespace, region string) (string, error) {
	widget := func(title, stat string, metrics ...[]any) dashboardWidget {
		props := widgetProperties{Period: 300, Stat: stat, Region: region, Title: title}
		for _, m := range metrics {
			props.Metrics = append(props.Metrics, m)
		}
		return dashboardWidget{Type: "metric", Width: 12, Height: 6, Properties: props}
	}

	body := map[string][]dashboardWidget{
		"widgets": {
			widget("CoincapFlow fetches (running total)", "Maximum",
				[]any{namespace, MetricFetches},
				[]any{namespace, MetricFetchErrors},
			),
			widget("CoincapFlow rows (running total)", "Maximum",
				search(namespace, "Table", MetricRowsAppended, "Maximum", "rows"),
				search(namespace, "Table", MetricAppendErrors, "Maximum", "append_errors"),
			),
			widget("CoincapFlow runs", "Sum",
				search(namespace, "component,table", MetricRunRowsAppended, "Sum", "run_rows"),
				search(namespace, "component", MetricRunFailures, "Sum", "run_failures"),
			),
		},
	}
	data, err := json.Marshal(body)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
