package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveFetch(t *testing.T) {
	Init()
	before := testutil.ToFloat64(fetchTotal.WithLabelValues("assets", OutcomeError))

	ObserveFetch("assets", nil)
	ObserveFetch("assets", errors.New("boom"))

	assert.Equal(t, before+1, testutil.ToFloat64(fetchTotal.WithLabelValues("assets", OutcomeError)))
	assert.GreaterOrEqual(t, testutil.ToFloat64(fetchTotal.WithLabelValues("assets", OutcomeSuccess)), 1.0)
}

func TestAppendCounters(t *testing.T) {
	Init()
	rows := testutil.ToFloat64(rowsAppended.WithLabelValues("coins"))
	errs := testutil.ToFloat64(appendErrors.WithLabelValues("coins"))

	AddRowsAppended("coins", 3)
	AddRowsAppended("coins", 0)
	IncrementAppendError("coins")

	assert.Equal(t, rows+3, testutil.ToFloat64(rowsAppended.WithLabelValues("coins")))
	assert.Equal(t, errs+1, testutil.ToFloat64(appendErrors.WithLabelValues("coins")))
}

func TestPush(t *testing.T) {
	Init()
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	require.NoError(t, Push(context.Background(), srv.URL, "coincapflow"))
	assert.Equal(t, "/metrics/job/coincapflow", gotPath)
}

func TestPushWithoutURL(t *testing.T) {
	if err := Push(context.Background(), "", "coincapflow"); err == nil {
		t.Fatal("expected error for empty url")
	}
}
