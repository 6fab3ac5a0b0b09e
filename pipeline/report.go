package pipeline

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"coincapflow/logger"
)

// ErrorKind classifies a failure for the operator.
type ErrorKind string

const (
	// KindUpstream covers network errors, non-2xx responses and undecodable payloads.
	KindUpstream ErrorKind = "upstream"
	// KindPersistence covers a rolled back append or a failed read.
	KindPersistence ErrorKind = "persistence"
	// KindArchive covers a failed parquet export; committed rows are kept.
	KindArchive ErrorKind = "archive"
)

// Failure is one recorded error of a run. Processing continued past it.
type Failure struct {
	Kind      ErrorKind
	Procedure string
	Key       string
	Err       error
}

func (f Failure) Error() string {
	if f.Key == "" {
		return fmt.Sprintf("%s: %s: %v", f.Procedure, f.Kind, f.Err)
	}
	return fmt.Sprintf("%s[%s]: %s: %v", f.Procedure, f.Key, f.Kind, f.Err)
}

func (f Failure) Unwrap() error {
	return f.Err
}

// Report summarises a seed or snapshot run.
type Report struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	Appended   map[string]int64
	Skipped    []string
	Failures   []Failure
}

func newReport(runID string, started time.Time) *Report {
	return &Report{RunID: runID, StartedAt: started, Appended: map[string]int64{}}
}

func (r *Report) fail(kind ErrorKind, procedure, key string, err error) {
	r.Failures = append(r.Failures, Failure{Kind: kind, Procedure: procedure, Key: key, Err: err})
}

func (r *Report) appended(table string, n int64) {
	r.Appended[table] += n
}

// Err joins every failure, or returns nil when the run was clean.
func (r *Report) Err() error {
	if r == nil || len(r.Failures) == 0 {
		return nil
	}
	errs := make([]error, len(r.Failures))
	for i, f := range r.Failures {
		errs[i] = f
	}
	return errors.Join(errs...)
}

// FailuresOf returns the failures of the given kind.
func (r *Report) FailuresOf(kind ErrorKind) []Failure {
	var out []Failure
	for _, f := range r.Failures {
		if f.Kind == kind {
			out = append(out, f)
		}
	}
	return out
}

// Total returns the number of rows appended across all tables.
func (r *Report) Total() int64 {
	var n int64
	for _, v := range r.Appended {
		n += v
	}
	return n
}

// publish emits the run's appended rows per table and its failure count as
// metrics, which reach CloudWatch when it is initialised.
func (r *Report) publish(log *logger.Entry, component string) {
	tables := make([]string, 0, len(r.Appended))
	for table := range r.Appended {
		tables = append(tables, table)
	}
	sort.Strings(tables)
	for _, table := range tables {
		log.LogMetric(component, logger.MetricRunRowsAppended, r.Appended[table], "counter", logger.Fields{"table": table})
	}
	log.LogMetric(component, logger.MetricRunFailures, len(r.Failures), "counter", nil)
}
