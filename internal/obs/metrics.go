package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects HTTP and shop domain metrics.
type Metrics struct {
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	requestInFlight prometheus.Gauge

	CheckoutTotal     *prometheus.CounterVec
	DiscountApplyTotal *prometheus.CounterVec
	PriceComputeSeconds prometheus.Histogram
	CartMutationTotal  *prometheus.CounterVec
}

// NewMetrics registers the shop metrics against the given registerer,
// reusing previously registered collectors when the function runs twice.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "shop_http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shop_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "route", "status"}),
		requestInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shop_http_requests_in_flight",
			Help: "Number of in-flight HTTP requests.",
		}),
		CheckoutTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shop_checkout_total",
			Help: "Checkout attempts partitioned by stage and outcome.",
		}, []string{"stage", "outcome"}),
		DiscountApplyTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shop_discount_apply_total",
			Help: "Discount applications partitioned by discount type and outcome.",
		}, []string{"type", "outcome"}),
		PriceComputeSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "shop_price_compute_seconds",
			Help:    "Latency of cart price computations.",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25},
		}),
		CartMutationTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shop_cart_mutation_total",
			Help: "Cart tree mutations partitioned by operation.",
		}, []string{"operation"}),
	}

	m.requestDuration = registerHistogramVec(reg, m.requestDuration)
	m.requestTotal = registerCounterVec(reg, m.requestTotal)
	m.requestInFlight = registerGauge(reg, m.requestInFlight)
	m.CheckoutTotal = registerCounterVec(reg, m.CheckoutTotal)
	m.DiscountApplyTotal = registerCounterVec(reg, m.DiscountApplyTotal)
	m.PriceComputeSeconds = registerHistogram(reg, m.PriceComputeSeconds)
	m.CartMutationTotal = registerCounterVec(reg, m.CartMutationTotal)
	return m
}

// Middleware instruments HTTP handlers with duration, count, and in-flight metrics.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		recorder := NewStatusRecorder(w)
		start := time.Now()
		next.ServeHTTP(recorder, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := strconv.Itoa(recorder.Status())
		m.requestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
		m.requestTotal.WithLabelValues(r.Method, route, status).Inc()
	})
}

// ObservePriceCompute records the latency of a single price computation.
func (m *Metrics) ObservePriceCompute(d time.Duration) {
	m.PriceComputeSeconds.Observe(d.Seconds())
}

func registerCounterVec(reg prometheus.Registerer, c *prometheus.CounterVec) *prometheus.CounterVec {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if ok := asAlreadyRegistered(err, &are); ok {
			return are.ExistingCollector.(*prometheus.CounterVec)
		}
		panic(err)
	}
	return c
}

func registerHistogramVec(reg prometheus.Registerer, h *prometheus.HistogramVec) *prometheus.HistogramVec {
	if err := reg.Register(h); err != nil {
		var are prometheus.AlreadyRegisteredError
		if ok := asAlreadyRegistered(err, &are); ok {
			return are.ExistingCollector.(*prometheus.HistogramVec)
		}
		panic(err)
	}
	return h
}

func registerHistogram(reg prometheus.Registerer, h prometheus.Histogram) prometheus.Histogram {
	if err := reg.Register(h); err != nil {
		var are prometheus.AlreadyRegisteredError
		if ok := asAlreadyRegistered(err, &are); ok {
			return are.ExistingCollector.(prometheus.Histogram)
		}
		panic(err)
	}
	return h
}

func registerGauge(reg prometheus.Registerer, g prometheus.Gauge) prometheus.Gauge {
	if err := reg.Register(g); err != nil {
		var are prometheus.AlreadyRegisteredError
		if ok := asAlreadyRegistered(err, &are); ok {
			return are.ExistingCollector.(prometheus.Gauge)
		}
		panic(err)
	}
	return g
}

func asAlreadyRegistered(err error, target *prometheus.AlreadyRegisteredError) bool {
	if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
		*target = are
		return true
	}
	return false
}
