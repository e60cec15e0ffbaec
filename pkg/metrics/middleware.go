package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"
)

// RouteFunc maps a request to a low-cardinality route label, such as the
// matched route pattern. Raw URL paths must not be used as labels.
type RouteFunc func(r *http.Request) string

var durationBuckets = []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

var sizeBuckets = []float64{100, 1_000, 10_000, 100_000, 1_000_000, 10_000_000}

type httpCollectors struct {
	duration *Histogram
	requests *Counter
	reqSize  *Histogram
	respSize *Histogram
}

var (
	httpOnce sync.Once
	httpSet  *httpCollectors
	httpErr  error
)

func initHTTPCollectors(namespace string) (*httpCollectors, error) {
	httpOnce.Do(func() {
		set := &httpCollectors{}
		labels := []string{"method", "route", "status"}

		if set.duration, httpErr = NewHistogram(Opts{
			Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
			Help: "Request latency by route", Labels: labels, Buckets: durationBuckets,
		}); httpErr != nil {
			return
		}
		if set.requests, httpErr = NewCounter(Opts{
			Namespace: namespace, Subsystem: "http", Name: "requests_total",
			Help: "Requests served by route", Labels: labels,
		}); httpErr != nil {
			return
		}
		if set.reqSize, httpErr = NewHistogram(Opts{
			Namespace: namespace, Subsystem: "http", Name: "request_size_bytes",
			Help: "Approximate request size", Labels: []string{"method", "route"}, Buckets: sizeBuckets,
		}); httpErr != nil {
			return
		}
		if set.respSize, httpErr = NewHistogram(Opts{
			Namespace: namespace, Subsystem: "http", Name: "response_size_bytes",
			Help: "Response body size", Labels: labels, Buckets: sizeBuckets,
		}); httpErr != nil {
			return
		}
		httpSet = set
	})
	return httpSet, httpErr
}

// HTTPMiddleware records latency, count and sizes of every request, labelled
// by method, route and status. A nil route labels every request "all".
// When the collectors cannot be registered requests pass through unrecorded.
func HTTPMiddleware(namespace string, route RouteFunc) func(http.Handler) http.Handler {
	set, err := initHTTPCollectors(namespace)
	if err != nil {
		logger.Warn().Err(err).Msg("http metrics disabled")
	}
	if route == nil {
		route = func(*http.Request) string { return "all" }
	}

	return func(next http.Handler) http.Handler {
		if set == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			label := route(r)
			set.reqSize.Observe(float64(computeRequestSize(r)), r.Method, label)

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			status := strconv.Itoa(rec.status)
			set.duration.Observe(time.Since(start).Seconds(), r.Method, label, status)
			set.requests.Inc(r.Method, label, status)
			set.respSize.Observe(float64(rec.bytes), r.Method, label, status)
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	bytes       int
	wroteHeader bool
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.wroteHeader {
		return
	}
	s.status = code
	s.wroteHeader = true
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	s.WriteHeader(http.StatusOK)
	n, err := s.ResponseWriter.Write(b)
	s.bytes += n
	return n, err
}

func (s *statusRecorder) Unwrap() http.ResponseWriter { return s.ResponseWriter }

// computeRequestSize approximates the wire size of r: request line, headers
// and declared body length.
func computeRequestSize(r *http.Request) int64 {
	n := len(r.Method) + len(r.URL.String()) + len(r.Proto)
	for name, values := range r.Header {
		n += len(name)
		for _, v := range values {
			n += len(v)
		}
	}
	size := int64(n)
	if r.ContentLength > 0 {
		size += r.ContentLength
	}
	return size
}
