package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// debugSessions 开始的调试会话数，按结果区分
	debugSessions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "debug_playground_sessions_total",
			Help: "Total debug sessions started by result",
		},
		[]string{"result"},
	)

	// debugEvents 解释器推送的调试事件数
	debugEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "debug_playground_debug_events_total",
			Help: "Total debug events received from the interpreter by reason",
		},
		[]string{"reason"},
	)

	// interpreterErrors 解释器调用失败的次数
	interpreterErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "debug_playground_interpreter_errors_total",
			Help: "Total failed interpreter calls by operation",
		},
		[]string{"operation"},
	)

	// breakpointToggles 断点切换次数
	breakpointToggles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "debug_playground_breakpoint_toggles_total",
			Help: "Total breakpoint toggles by result",
		},
		[]string{"result"},
	)

	// activeConnections 当前的前端连接数
	activeConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "debug_playground_active_connections",
			Help: "Number of currently connected front ends",
		},
	)
)

func RecordSession(result string) {
	debugSessions.WithLabelValues(result).Inc()
}

func RecordEvent(reason string) {
	debugEvents.WithLabelValues(reason).Inc()
}

func RecordInterpreterError(operation string) {
	interpreterErrors.WithLabelValues(operation).Inc()
}

func RecordToggle(result string) {
	breakpointToggles.WithLabelValues(result).Inc()
}

func ConnectionOpened() {
	activeConnections.Inc()
}

func ConnectionClosed() {
	activeConnections.Dec()
}

// Handler 暴露 /metrics
func Handler() http.Handler {
	return promhttp.Handler()
}
