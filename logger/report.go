package logger

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// CloudWatch metric names. The report publishes running totals; the
// Run* metrics are per seed or snapshot run.
const (
	MetricCPUPercent      = "CPUPercent"
	MetricMemoryMB        = "MemoryMB"
	MetricFetches         = "Fetches"
	MetricFetchErrors     = "FetchErrors"
	MetricRowsAppended    = "RowsAppended"
	MetricAppendErrors    = "AppendErrors"
	MetricRunRowsAppended = "RunRowsAppended"
	MetricRunFailures     = "RunFailures"
)

type tableStat struct {
	rows   int64
	errors int64
}

var (
	warnsTotal  int64
	errorsTotal int64
	fetches     int64
	fetchErrors int64
	tables      sync.Map // map[string]*tableStat
)

// Stats is a point-in-time copy of the process counters.
type Stats struct {
	Warns        int64
	Errors       int64
	Fetches      int64
	FetchErrors  int64
	RowsAppended map[string]int64
	AppendErrors map[string]int64
}

func recordWarn(string) {
	atomic.AddInt64(&warnsTotal, 1)
}

func recordError(string) {
	atomic.AddInt64(&errorsTotal, 1)
}

// IncrementFetch counts one upstream request and whether it failed.
func IncrementFetch(failed bool) {
	atomic.AddInt64(&fetches, 1)
	if failed {
		atomic.AddInt64(&fetchErrors, 1)
	}
}

// IncrementRowsAppended counts rows committed to table.
func IncrementRowsAppended(table string, n int) {
	atomic.AddInt64(&tableStatFor(table).rows, int64(n))
}

// IncrementAppendError counts a rolled back append to table.
func IncrementAppendError(table string) {
	atomic.AddInt64(&tableStatFor(table).errors, 1)
}

func tableStatFor(name string) *tableStat {
	v, _ := tables.LoadOrStore(name, &tableStat{})
	return v.(*tableStat)
}

// CurrentStats returns the counters accumulated since process start.
func CurrentStats() Stats {
	s := Stats{
		Warns:        atomic.LoadInt64(&warnsTotal),
		Errors:       atomic.LoadInt64(&errorsTotal),
		Fetches:      atomic.LoadInt64(&fetches),
		FetchErrors:  atomic.LoadInt64(&fetchErrors),
		RowsAppended: map[string]int64{},
		AppendErrors: map[string]int64{},
	}
	tables.Range(func(k, v any) bool {
		ts := v.(*tableStat)
		s.RowsAppended[k.(string)] = atomic.LoadInt64(&ts.rows)
		s.AppendErrors[k.(string)] = atomic.LoadInt64(&ts.errors)
		return true
	})
	return s
}

// StartReport begins periodic logging of runtime and pipeline statistics
// until ctx is done.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

func logReport(ctx context.Context, log *Log) {
	cpuPercent, _ := cpu.Percent(0, false)
	cpuPct := 0.0
	if len(cpuPercent) > 0 {
		cpuPct = cpuPercent[0]
	}
	memoryMB := 0.0
	if memStats, err := mem.VirtualMemory(); err == nil {
		memoryMB = float64(memStats.Used) / 1024 / 1024
	}

	stats := CurrentStats()
	fields := Fields{
		"warns":         stats.Warns,
		"errors":        stats.Errors,
		"fetches":       stats.Fetches,
		"fetch_errors":  stats.FetchErrors,
		"rows_appended": stats.RowsAppended,
		"append_errors": stats.AppendErrors,
		"goroutines":    runtime.NumGoroutine(),
		"cpu_percent":   cpuPct,
		"memory_mb":     int64(memoryMB),
	}
	log.WithComponent("report").WithFields(fields).Info("runtime report")

	data := []cwtypes.MetricDatum{
		{MetricName: aws.String(MetricCPUPercent), Unit: cwtypes.StandardUnitPercent, Value: aws.Float64(cpuPct)},
		{MetricName: aws.String(MetricMemoryMB), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(memoryMB)},
		{MetricName: aws.String(MetricFetches), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(stats.Fetches))},
		{MetricName: aws.String(MetricFetchErrors), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(stats.FetchErrors))},
	}
	for table, rows := range stats.RowsAppended {
		dims := []cwtypes.Dimension{{Name: aws.String("Table"), Value: aws.String(table)}}
		data = append(data,
			cwtypes.MetricDatum{MetricName: aws.String(MetricRowsAppended), Unit: cwtypes.StandardUnitCount, Dimensions: dims, Value: aws.Float64(float64(rows))},
			cwtypes.MetricDatum{MetricName: aws.String(MetricAppendErrors), Unit: cwtypes.StandardUnitCount, Dimensions: dims, Value: aws.Float64(float64(stats.AppendErrors[table]))},
		)
	}

	publishMetrics(ctx, data)
}
