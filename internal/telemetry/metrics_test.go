package telemetry

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestMetrics_AllRegistered(t *testing.T) {
	cases := []struct {
		name string
		c    prometheus.Collector
	}{
		{"http_requests_total", HTTPRequestsTotal},
		{"http_request_duration_seconds", HTTPRequestDuration},
		{"xero_flows_started_total", FlowsStartedTotal},
		{"xero_flows_completed_total", FlowsCompletedTotal},
		{"xero_pending_flows_swept_total", PendingFlowsSweptTotal},
		{"xero_session_gate_decisions_total", SessionGateDecisionsTotal},
		{"xero_provider_requests_total", ProviderRequestsTotal},
		{"xero_provider_request_duration_seconds", ProviderRequestDuration},
		{"db_open_connections", DBOpenConnections},
		{"xero_account_links", AccountLinks},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ch := make(chan *prometheus.Desc, 10)
			tc.c.Describe(ch)
			close(ch)
			for desc := range ch {
				if strings.Contains(desc.String(), `"`+tc.name+`"`) {
					return
				}
			}
			t.Errorf("metric %q: Describe() returned no descriptor with this fqName", tc.name)
		})
	}
}

func TestMetrics_FlowCounters(t *testing.T) {
	labels := prometheus.Labels{"result": "ok"}
	before := counterValue(t, FlowsStartedTotal, labels)
	FlowsStartedTotal.WithLabelValues("ok").Inc()
	if after := counterValue(t, FlowsStartedTotal, labels); after-before < 1 {
		t.Errorf("FlowsStartedTotal did not increase (before=%.0f after=%.0f)", before, after)
	}
}

func TestObserveProviderRequest(t *testing.T) {
	labels := prometheus.Labels{"api": "accounting", "outcome": "http_error"}
	before := counterValue(t, ProviderRequestsTotal, labels)
	ObserveProviderRequest("accounting", "http_error", time.Now().Add(-50*time.Millisecond))
	if after := counterValue(t, ProviderRequestsTotal, labels); after-before != 1 {
		t.Errorf("ProviderRequestsTotal delta = %.0f, want 1", after-before)
	}
}

// counterValue reads the current value of a CounterVec for the given label set.
func counterValue(t *testing.T, cv *prometheus.CounterVec, labels prometheus.Labels) float64 {
	t.Helper()
	ch := make(chan prometheus.Metric, 20)
	cv.Collect(ch)
	close(ch)
	for m := range ch {
		var dm dto.Metric
		if err := m.Write(&dm); err != nil {
			continue
		}
		if labelsMatch(dm.GetLabel(), labels) {
			return dm.GetCounter().GetValue()
		}
	}
	return 0
}

// labelsMatch returns true when all entries in want appear in got.
func labelsMatch(got []*dto.LabelPair, want prometheus.Labels) bool {
	for k, v := range want {
		found := false
		for _, lp := range got {
			if lp.GetName() == k && lp.GetValue() == v {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
