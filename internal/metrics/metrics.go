// Registers:
//
//	#coincapflow_fetch_total{resource,outcome}
//	#coincapflow_rows_appended_total{table}
//	#coincapflow_append_errors_total{table}
//	#go_* and process_* system metrics
//
// in a private registry. Push sends them to a Pushgateway after a command,
// Serve exposes them for scraping while the scheduler runs.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

var (
	once         sync.Once
	registry     *prometheus.Registry
	fetchTotal   *prometheus.CounterVec
	rowsAppended *prometheus.CounterVec
	appendErrors *prometheus.CounterVec
)

// Init creates the registry and counters. It is safe to call more than once.
func Init() {
	once.Do(func() {
		registry = prometheus.NewRegistry()

		fetchTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coincapflow_fetch_total",
				Help: "Number of upstream requests by resource and outcome",
			},
			[]string{"resource", "outcome"},
		)
		rowsAppended = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coincapflow_rows_appended_total",
				Help: "Number of rows committed per table",
			},
			[]string{"table"},
		)
		appendErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coincapflow_append_errors_total",
				Help: "Number of rolled back appends per table",
			},
			[]string{"table"},
		)

		registry.MustRegister(fetchTotal, rowsAppended, appendErrors)
		registry.MustRegister(collectors.NewGoCollector())
		registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

// Registry returns the private registry, initialising it on first use.
func Registry() *prometheus.Registry {
	Init()
	return registry
}

// ObserveFetch counts one request against resource ("assets", "exchanges", "markets", ...).
func ObserveFetch(resource string, err error) {
	if fetchTotal == nil {
		return
	}
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeError
	}
	fetchTotal.WithLabelValues(resource, outcome).Inc()
}

// AddRowsAppended counts n rows committed to table.
func AddRowsAppended(table string, n int) {
	if rowsAppended != nil && n > 0 {
		rowsAppended.WithLabelValues(table).Add(float64(n))
	}
}

// IncrementAppendError counts a rolled back append to table.
func IncrementAppendError(table string) {
	if appendErrors != nil {
		appendErrors.WithLabelValues(table).Inc()
	}
}

// Push sends the current values to the Pushgateway at url under job.
func Push(ctx context.Context, url, job string) error {
	if url == "" {
		return errors.New("pushgateway url is empty")
	}
	return push.New(url, job).Gatherer(Registry()).PushContext(ctx)
}

// Serve exposes the registry on addr at /metrics until ctx is done.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(Registry(), promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
