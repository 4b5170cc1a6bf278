package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// findMetric は指定名・ラベルのメトリクスを取得する。
func findMetric(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) *dto.Metric {
	t.Helper()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if labelsMatch(m, labels) {
				return m
			}
		}
	}
	return nil
}

func labelsMatch(m *dto.Metric, labels map[string]string) bool {
	matched := 0
	for _, lp := range m.GetLabel() {
		if v, ok := labels[lp.GetName()]; ok && v == lp.GetValue() {
			matched++
		}
	}
	return matched == len(labels)
}

// TestNewCollector_ReturnsNonNil はCollectorが正常に生成されることを検証する。
func TestNewCollector_ReturnsNonNil(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	if c == nil {
		t.Fatal("expected non-nil Collector")
	}
}

// TestRecordSignIn_LabelsMethodAndResult はサインインがmethodとresultで集計されることを検証する。
func TestRecordSignIn_LabelsMethodAndResult(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordSignIn("callback", true)
	c.RecordSignIn("callback", true)
	c.RecordSignIn("password", false)

	m := findMetric(t, reg, "billdash_signin_total", map[string]string{"method": "callback", "result": "success"})
	if m == nil {
		t.Fatal("callback/success metric not found")
	}
	if v := m.GetCounter().GetValue(); v != 2 {
		t.Errorf("callback/success = %v, want 2", v)
	}

	m = findMetric(t, reg, "billdash_signin_total", map[string]string{"method": "password", "result": "failure"})
	if m == nil {
		t.Fatal("password/failure metric not found")
	}
	if v := m.GetCounter().GetValue(); v != 1 {
		t.Errorf("password/failure = %v, want 1", v)
	}
}

// TestRecordRefresh_IncrementsCounter はリフレッシュ結果カウンタが増加することを検証する。
func TestRecordRefresh_IncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordRefresh(true)
	c.RecordRefresh(false)
	c.RecordRefresh(false)

	m := findMetric(t, reg, "billdash_token_refresh_total", map[string]string{"result": "failure"})
	if m == nil {
		t.Fatal("refresh failure metric not found")
	}
	if v := m.GetCounter().GetValue(); v != 2 {
		t.Errorf("refresh failure = %v, want 2", v)
	}
}

// TestRecordSignOut_LabelsGlobalSignOutResult はグローバルサインアウトの成否がラベルになることを検証する。
func TestRecordSignOut_LabelsGlobalSignOutResult(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordSignOut(true)

	m := findMetric(t, reg, "billdash_signout_total", map[string]string{"global_signout": "failure"})
	if m == nil {
		t.Fatal("signout metric not found")
	}
	if v := m.GetCounter().GetValue(); v != 1 {
		t.Errorf("signout failure = %v, want 1", v)
	}
}

// TestRecordBackendStatus_IncrementsCounterWithLabel はステータスコード別に集計されることを検証する。
func TestRecordBackendStatus_IncrementsCounterWithLabel(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordBackendStatus(200)
	c.RecordBackendStatus(200)
	c.RecordBackendStatus(404)

	tests := []struct {
		code string
		want float64
	}{
		{"200", 2},
		{"404", 1},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			m := findMetric(t, reg, "billdash_backend_status_total", map[string]string{"status_code": tt.code})
			if m == nil {
				t.Fatalf("status %s not found", tt.code)
			}
			if v := m.GetCounter().GetValue(); v != tt.want {
				t.Errorf("status %s = %v, want %v", tt.code, v, tt.want)
			}
		})
	}
}

// TestRecordBackendLatency_ObservesHistogram はレイテンシがヒストグラムに記録されることを検証する。
func TestRecordBackendLatency_ObservesHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordBackendLatency(150 * time.Millisecond)
	c.RecordBackendLatency(2 * time.Second)

	m := findMetric(t, reg, "billdash_backend_latency_seconds", nil)
	if m == nil {
		t.Fatal("latency metric not found")
	}
	h := m.GetHistogram()
	if h.GetSampleCount() != 2 {
		t.Errorf("sample count = %d, want 2", h.GetSampleCount())
	}
	if h.GetSampleSum() < 2.1 || h.GetSampleSum() > 2.2 {
		t.Errorf("sample sum = %v, want ~2.15", h.GetSampleSum())
	}
}

// TestRecordStoragePurged_AddsCount は削除件数が加算されることを検証する。
func TestRecordStoragePurged_AddsCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordStoragePurged(5)
	c.RecordStoragePurged(3)

	m := findMetric(t, reg, "billdash_storage_purged_total", nil)
	if m == nil {
		t.Fatal("purged metric not found")
	}
	if v := m.GetCounter().GetValue(); v != 8 {
		t.Errorf("purged = %v, want 8", v)
	}
}

// TestSetLiveSessions_SetsGauge はゲージが上書きされることを検証する。
func TestSetLiveSessions_SetsGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.SetLiveSessions(4)
	c.SetLiveSessions(2)

	m := findMetric(t, reg, "billdash_live_sessions", nil)
	if m == nil {
		t.Fatal("live sessions metric not found")
	}
	if v := m.GetGauge().GetValue(); v != 2 {
		t.Errorf("live sessions = %v, want 2", v)
	}
}

// TestCollector_ImplementsMetricsCollectorInterface はインターフェース実装を検証する。
func TestCollector_ImplementsMetricsCollectorInterface(t *testing.T) {
	var _ MetricsCollector = (*Collector)(nil)
	var _ MetricsCollector = Nop{}
}

// TestMultipleCollectors_IndependentRegistries は独立したレジストリで複数生成できることを検証する。
func TestMultipleCollectors_IndependentRegistries(t *testing.T) {
	reg1 := prometheus.NewRegistry()
	reg2 := prometheus.NewRegistry()

	c1 := NewCollector(reg1)
	c2 := NewCollector(reg2)

	c1.RecordRefresh(true)

	if m := findMetric(t, reg1, "billdash_token_refresh_total", map[string]string{"result": "success"}); m == nil {
		t.Error("reg1 should contain refresh metric")
	}
	if m := findMetric(t, reg2, "billdash_token_refresh_total", map[string]string{"result": "success"}); m != nil {
		t.Error("reg2 should not contain refresh metric recorded on c1")
	}
	_ = c2
}
