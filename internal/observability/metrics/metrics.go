package metrics

import "github.com/prometheus/client_golang/prometheus"

// DialogueMetrics exposes counters/histograms for assessment dialogues.
type DialogueMetrics struct {
	sessionsStarted *prometheus.CounterVec
	sessionsEnded   *prometheus.CounterVec
	turns           *prometheus.CounterVec
	turnLatency     *prometheus.HistogramVec
	retries         *prometheus.CounterVec
	skips           *prometheus.CounterVec
	templateHits    *prometheus.CounterVec
	redAlerts       *prometheus.CounterVec
	deferredReports prometheus.Counter
	replayedReports *prometheus.CounterVec
}

func NewDialogueMetrics(reg prometheus.Registerer) *DialogueMetrics {
	m := &DialogueMetrics{
		sessionsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "symptom",
			Subsystem: "dialogue",
			Name:      "sessions_started_total",
			Help:      "Assessment sessions started",
		}, []string{"channel"}),
		sessionsEnded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "symptom",
			Subsystem: "dialogue",
			Name:      "sessions_ended_total",
			Help:      "Assessment sessions that reached a terminal state",
		}, []string{"channel", "completion_type", "alert_level"}),
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "symptom",
			Subsystem: "dialogue",
			Name:      "turns_total",
			Help:      "Patient turns processed",
		}, []string{"channel", "event_type", "status"}),
		turnLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "symptom",
			Subsystem: "dialogue",
			Name:      "turn_latency_seconds",
			Help:      "Latency of one load-apply-persist turn",
			Buckets:   prometheus.DefBuckets,
		}, []string{"channel"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "symptom",
			Subsystem: "dialogue",
			Name:      "retries_total",
			Help:      "Steps re-asked after no or ambiguous input",
		}, []string{"channel", "step"}),
		skips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "symptom",
			Subsystem: "dialogue",
			Name:      "skips_total",
			Help:      "Steps recorded as no_response after the retry budget",
		}, []string{"channel", "step"}),
		templateHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "symptom",
			Subsystem: "templates",
			Name:      "used_total",
			Help:      "Expert templates used in replies",
		}, []string{"template_id"}),
		redAlerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "symptom",
			Subsystem: "alerts",
			Name:      "red_total",
			Help:      "Red alerts raised to the care team",
		}, []string{"channel", "status"}),
		deferredReports: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "symptom",
			Subsystem: "reports",
			Name:      "deferred_total",
			Help:      "Reports whose persistence failed at completion and were queued for replay",
		}),
		replayedReports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "symptom",
			Subsystem: "reports",
			Name:      "replayed_total",
			Help:      "Deferred report replay attempts",
		}, []string{"status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.sessionsStarted, m.sessionsEnded, m.turns, m.turnLatency, m.retries,
		m.skips, m.templateHits, m.redAlerts, m.deferredReports, m.replayedReports)
	return m
}

func (m *DialogueMetrics) ObserveSessionStarted(channel string) {
	if m == nil {
		return
	}
	m.sessionsStarted.WithLabelValues(channel).Inc()
}

func (m *DialogueMetrics) ObserveSessionEnded(channel, completionType, alertLevel string) {
	if m == nil {
		return
	}
	m.sessionsEnded.WithLabelValues(channel, completionType, alertLevel).Inc()
}

func (m *DialogueMetrics) ObserveTurn(channel, eventType, status string, seconds float64) {
	if m == nil {
		return
	}
	m.turns.WithLabelValues(channel, eventType, status).Inc()
	m.turnLatency.WithLabelValues(channel).Observe(seconds)
}

func (m *DialogueMetrics) ObserveRetry(channel, step string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(channel, stepKind(step)).Inc()
}

func (m *DialogueMetrics) ObserveSkip(channel, step string) {
	if m == nil {
		return
	}
	m.skips.WithLabelValues(channel, stepKind(step)).Inc()
}

func (m *DialogueMetrics) ObserveTemplateUsed(templateID string) {
	if m == nil {
		return
	}
	m.templateHits.WithLabelValues(templateID).Inc()
}

func (m *DialogueMetrics) ObserveRedAlert(channel string, delivered bool) {
	if m == nil {
		return
	}
	status := "delivered"
	if !delivered {
		status = "failed"
	}
	m.redAlerts.WithLabelValues(channel, status).Inc()
}

func (m *DialogueMetrics) ObserveReportDeferred() {
	if m == nil {
		return
	}
	m.deferredReports.Inc()
}

func (m *DialogueMetrics) ObserveReportReplayed(ok bool) {
	if m == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "error"
	}
	m.replayedReports.WithLabelValues(status).Inc()
}

// Step ids come from the catalog, so the label set stays small.
func stepKind(step string) string {
	if step == "" {
		return "unknown"
	}
	return step
}
