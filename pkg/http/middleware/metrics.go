package middleware

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type httpMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inFlight prometheus.Gauge
}

// Metrics records request counts and latency on reg, labelled by route
// template to keep cardinality bounded.
func Metrics(reg prometheus.Registerer) echo.MiddlewareFunc {
	f := promauto.With(reg)
	m := &httpMetrics{
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "quantsim_http_requests_total",
			Help: "HTTP requests by route, method and status class",
		}, []string{"route", "method", "class"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "quantsim_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: []float64{0.005, 0.025, 0.1, 0.5, 1, 5, 30, 120},
		}, []string{"route", "method"}),
		inFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "quantsim_http_in_flight_requests",
			Help: "Requests currently being served",
		}),
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			m.inFlight.Inc()
			defer m.inFlight.Dec()
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				}
			}
			route, method := routeOf(c), c.Request().Method
			m.requests.WithLabelValues(route, method, statusClass(status)).Inc()
			m.duration.WithLabelValues(route, method).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

func statusClass(code int) string {
	if code < 100 || code > 599 {
		return "5xx"
	}
	return strconv.Itoa(code/100) + "xx"
}
