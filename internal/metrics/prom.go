package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// register 注册 collector，已经注册过时复用已有的那个
func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// EditorRecorder 记录编辑会话的自动保存情况
type EditorRecorder struct {
	saves        *prometheus.CounterVec
	saveDuration *prometheus.HistogramVec
	batchSize    prometheus.Histogram
	lockReapply  *prometheus.CounterVec
	dropped      prometheus.Counter
}

// NewEditorRecorder 在 reg 上注册指标，reg 为 nil 时使用默认的 registerer
func NewEditorRecorder(reg prometheus.Registerer) (*EditorRecorder, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	r := &EditorRecorder{}
	var err error

	if r.saves, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "editor_saves_total",
		Help: "Number of finished autosaves by outcome",
	}, []string{"outcome"})); err != nil {
		return nil, err
	}
	if r.saveDuration, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "editor_save_duration_seconds",
		Help:    "Time from dispatching a save until its result is folded in",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})); err != nil {
		return nil, err
	}
	if r.batchSize, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "editor_save_batch_size",
		Help:    "Number of pending changes sent in one batch",
		Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
	})); err != nil {
		return nil, err
	}
	if r.lockReapply, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "editor_lock_reapply_total",
		Help: "Follow-up lock toggles issued after a save",
	}, []string{"ok"})); err != nil {
		return nil, err
	}
	if r.dropped, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "editor_updates_dropped_total",
		Help: "Pending changes given up after too many failed attempts",
	})); err != nil {
		return nil, err
	}

	return r, nil
}

func (r *EditorRecorder) SaveStarted(updates int) {
	r.batchSize.Observe(float64(updates))
}

func (r *EditorRecorder) SaveFinished(outcome string, d time.Duration) {
	r.saves.WithLabelValues(outcome).Inc()
	r.saveDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

func (r *EditorRecorder) LockReapplied(ok bool) {
	r.lockReapply.WithLabelValues(strconv.FormatBool(ok)).Inc()
}

func (r *EditorRecorder) UpdatesDropped(n int) {
	r.dropped.Add(float64(n))
}

// ServerMetrics 记录服务端接口的请求和批量修改结果
type ServerMetrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	updates  *prometheus.CounterVec
	locks    prometheus.Counter
}

func NewServerMetrics(reg prometheus.Registerer) (*ServerMetrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &ServerMetrics{}
	var err error

	if m.requests, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "HTTP requests by route and status code",
	}, []string{"method", "route", "status"})); err != nil {
		return nil, err
	}
	if m.latency, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency by route",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})); err != nil {
		return nil, err
	}
	if m.updates, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "schedule_updates_total",
		Help: "Shift edits processed by the batch endpoint",
	}, []string{"result"})); err != nil {
		return nil, err
	}
	if m.locks, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "schedule_lock_toggles_total",
		Help: "Lock state changes applied by the lock endpoint",
	})); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *ServerMetrics) ObserveRequest(method, route string, status int, d time.Duration) {
	m.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.latency.WithLabelValues(method, route).Observe(d.Seconds())
}

func (m *ServerMetrics) BatchApplied(applied, failed int) {
	m.updates.WithLabelValues("applied").Add(float64(applied))
	m.updates.WithLabelValues("failed").Add(float64(failed))
}

func (m *ServerMetrics) LockToggled() {
	m.locks.Inc()
}

// Handler 暴露 g 中的指标，g 为 nil 时使用默认的 gatherer
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
