package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============================================================
// Prometheus метрики мониторинга
// ============================================================

// ============ Опрос ============

// PollLatency - время получения снимка аккаунта с биржи
var PollLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "riskwatch",
		Subsystem: "monitor",
		Name:      "poll_latency_ms",
		Help:      "Account snapshot fetch latency in milliseconds",
		Buckets:   []float64{50, 100, 200, 300, 500, 1000, 2000, 5000, 10000},
	},
	[]string{"result"},
)

// PollsTotal - циклы опроса по результату
var PollsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "riskwatch",
		Subsystem: "monitor",
		Name:      "polls_total",
		Help:      "Total number of live polls",
	},
	[]string{"result"}, // ok, error, auth, rate_limited, stale, skipped
)

// PausedPollers - пуллеры, остановленные из-за ключей
var PausedPollers = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "riskwatch",
		Subsystem: "monitor",
		Name:      "paused_pollers",
		Help:      "Pollers paused until credentials are reconfigured",
	},
)

// ActivePollers - работающие пуллеры
var ActivePollers = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "riskwatch",
		Subsystem: "monitor",
		Name:      "active_pollers",
		Help:      "Number of running live pollers",
	},
)

// ============ Алерты ============

// AlertsTotal - результаты записи алертов
var AlertsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "riskwatch",
		Subsystem: "alerts",
		Name:      "records_total",
		Help:      "Alert record attempts by outcome",
	},
	[]string{"type", "outcome"}, // outcome: created, deduped, failed
)

// ActiveAlarms - поднятые сирены
var ActiveAlarms = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "riskwatch",
		Subsystem: "alerts",
		Name:      "active_alarms",
		Help:      "Alarms currently triggered or playing",
	},
)

// ============ Kill-switch ============

// KillSwitchOrders - ордера закрытия позиций
var KillSwitchOrders = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "riskwatch",
		Subsystem: "killswitch",
		Name:      "orders_total",
		Help:      "Kill-switch close orders by result",
	},
	[]string{"result"},
)

// ============ Фоновые задачи ============

// ReconcileDays - дни сверки по результату
var ReconcileDays = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "riskwatch",
		Subsystem: "reconcile",
		Name:      "days_total",
		Help:      "Daily PnL reconciliation jobs by result",
	},
	[]string{"market", "result"},
)

// ReconcileProgress - прогресс текущей сверки
var ReconcileProgress = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "riskwatch",
		Subsystem: "reconcile",
		Name:      "progress",
		Help:      "Current reconciliation run progress",
	},
	[]string{"kind"}, // completed, failed, total
)

// RenewalNotices - напоминания о подписке
var RenewalNotices = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "riskwatch",
		Subsystem: "renewal",
		Name:      "notices_total",
		Help:      "Renewal notices by outcome",
	},
	[]string{"outcome"}, // sent, deduped, failed
)

// ============ Хелперы ============

// RecordPoll записывает результат цикла опроса
func RecordPoll(result string, latencyMs float64) {
	PollsTotal.WithLabelValues(result).Inc()
	if latencyMs > 0 {
		PollLatency.WithLabelValues(result).Observe(latencyMs)
	}
}

// RecordAlert записывает результат RecordIfAbsent
func RecordAlert(alertType, outcome string) {
	AlertsTotal.WithLabelValues(alertType, outcome).Inc()
}

// UpdateReconcileProgress выставляет гейджи прогресса
func UpdateReconcileProgress(p Progress) {
	ReconcileProgress.WithLabelValues("completed").Set(float64(p.Completed))
	ReconcileProgress.WithLabelValues("failed").Set(float64(p.Failed))
	ReconcileProgress.WithLabelValues("total").Set(float64(p.Total))
}
