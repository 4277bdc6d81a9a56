package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	m := New()

	m.Anomaly(AnomalyPrepaidRemainder)
	m.Anomaly(AnomalyPrepaidRemainder)
	m.Anomaly(AnomalyNonPositiveInterest)
	m.PeriodsCreatedAdd(12)
	m.PeriodsCreatedAdd(0)
	m.PeriodPosted()
	m.CheckpointRejected()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Anomalies.WithLabelValues(AnomalyPrepaidRemainder)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Anomalies.WithLabelValues(AnomalyNonPositiveInterest)))
	assert.Equal(t, 12.0, testutil.ToFloat64(m.PeriodsCreated))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PeriodsPosted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CheckpointRejections))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Anomaly(AnomalyPrepaidRemainder)
		m.PeriodsCreatedAdd(3)
		m.PeriodPosted()
		m.CheckpointRejected()
	})
}

func TestHandlerExposesLedgerCounters(t *testing.T) {
	m := New()
	m.Anomaly(AnomalyPrepaidRemainder)

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `loanledger_reconciliation_anomalies_total{kind="prepaid_remainder"} 1`)
}
