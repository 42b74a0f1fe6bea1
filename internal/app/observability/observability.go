package observability

import (
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

type key struct {
	Method string
	Path   string
	Status int
}

type stat struct {
	Count     int64
	LatencyMS float64
}

// GaugeFunc reports a point-in-time value at scrape time.
type GaugeFunc func() float64

type Collector struct {
	db     *sql.DB
	logger *slog.Logger

	mu           sync.RWMutex
	requestStats map[key]stat
	gauges       map[string]GaugeFunc
	startedAt    time.Time
}

func NewCollector(db *sql.DB, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{
		db:           db,
		logger:       logger,
		requestStats: make(map[key]stat),
		gauges:       make(map[string]GaugeFunc),
		startedAt:    time.Now(),
	}
}

// RegisterGauge exposes fn as cbtengine_<name> on the metrics endpoint.
func (c *Collector) RegisterGauge(name string, fn GaugeFunc) {
	c.mu.Lock()
	c.gauges[name] = fn
	c.mu.Unlock()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		latencyMS := float64(time.Since(start).Microseconds()) / 1000.0
		path := normalizedPath(r.URL.Path)

		c.mu.Lock()
		k := key{Method: r.Method, Path: path, Status: rec.status}
		s := c.requestStats[k]
		s.Count++
		s.LatencyMS += latencyMS
		c.requestStats[k] = s
		c.mu.Unlock()

		level := slog.LevelInfo
		if rec.status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		c.logger.LogAttrs(r.Context(), level, "http request",
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.String("session_id", extractSessionID(r.URL.Path)),
			slog.String("method", r.Method),
			slog.String("path", path),
			slog.Int("status", rec.status),
			slog.Float64("latency_ms", latencyMS),
			slog.String("remote_ip", strings.TrimSpace(r.RemoteAddr)),
		)
	})
}

func (c *Collector) MetricsHandler(w http.ResponseWriter, r *http.Request) {
	c.mu.RLock()
	statsCopy := make(map[key]stat, len(c.requestStats))
	for k, v := range c.requestStats {
		statsCopy[k] = v
	}
	gauges := make(map[string]GaugeFunc, len(c.gauges))
	for k, v := range c.gauges {
		gauges[k] = v
	}
	startedAt := c.startedAt
	c.mu.RUnlock()

	keys := make([]key, 0, len(statsCopy))
	for k := range statsCopy {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Method != keys[j].Method {
			return keys[i].Method < keys[j].Method
		}
		if keys[i].Path != keys[j].Path {
			return keys[i].Path < keys[j].Path
		}
		return keys[i].Status < keys[j].Status
	})

	var sb strings.Builder
	sb.WriteString("# cbtengine observability metrics\n")
	sb.WriteString("# TYPE cbtengine_uptime_seconds gauge\n")
	sb.WriteString(fmt.Sprintf("cbtengine_uptime_seconds %.0f\n", time.Since(startedAt).Seconds()))

	sb.WriteString("# TYPE cbtengine_http_requests_total counter\n")
	sb.WriteString("# TYPE cbtengine_http_request_latency_ms_sum counter\n")
	sb.WriteString("# TYPE cbtengine_http_request_latency_ms_avg gauge\n")
	for _, k := range keys {
		s := statsCopy[k]
		labels := fmt.Sprintf("method=\"%s\",path=\"%s\",status=\"%d\"", k.Method, k.Path, k.Status)
		sb.WriteString(fmt.Sprintf("cbtengine_http_requests_total{%s} %d\n", labels, s.Count))
		sb.WriteString(fmt.Sprintf("cbtengine_http_request_latency_ms_sum{%s} %.3f\n", labels, s.LatencyMS))
		avg := 0.0
		if s.Count > 0 {
			avg = s.LatencyMS / float64(s.Count)
		}
		sb.WriteString(fmt.Sprintf("cbtengine_http_request_latency_ms_avg{%s} %.3f\n", labels, avg))
	}

	names := make([]string, 0, len(gauges))
	for name := range gauges {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		sb.WriteString(fmt.Sprintf("# TYPE cbtengine_%s gauge\n", name))
		sb.WriteString(fmt.Sprintf("cbtengine_%s %g\n", name, gauges[name]()))
	}

	if c.db != nil {
		dbs := c.db.Stats()
		sb.WriteString("# TYPE cbtengine_db_open_connections gauge\n")
		sb.WriteString(fmt.Sprintf("cbtengine_db_open_connections %d\n", dbs.OpenConnections))
		sb.WriteString("# TYPE cbtengine_db_in_use_connections gauge\n")
		sb.WriteString(fmt.Sprintf("cbtengine_db_in_use_connections %d\n", dbs.InUse))
		sb.WriteString("# TYPE cbtengine_db_idle_connections gauge\n")
		sb.WriteString(fmt.Sprintf("cbtengine_db_idle_connections %d\n", dbs.Idle))
		sb.WriteString("# TYPE cbtengine_db_wait_count counter\n")
		sb.WriteString(fmt.Sprintf("cbtengine_db_wait_count %d\n", dbs.WaitCount))
		sb.WriteString("# TYPE cbtengine_db_wait_duration_ms counter\n")
		sb.WriteString(fmt.Sprintf("cbtengine_db_wait_duration_ms %.3f\n", float64(dbs.WaitDuration.Microseconds())/1000.0))
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(sb.String()))
}

// Segments after these collection names are identifiers.
var idCollections = map[string]bool{
	"sessions": true,
	"exams":    true,
	"answers":  true,
}

func normalizedPath(path string) string {
	if path == "" {
		return "/"
	}
	parts := strings.Split(path, "/")
	for i, p := range parts {
		if p == "" {
			continue
		}
		if i > 0 && idCollections[parts[i-1]] {
			parts[i] = "{id}"
			continue
		}
		if isIdentifier(p) {
			parts[i] = "{id}"
		}
	}
	return strings.Join(parts, "/")
}

func isIdentifier(p string) bool {
	if _, err := strconv.ParseInt(p, 10, 64); err == nil {
		return true
	}
	_, err := uuid.Parse(p)
	return err == nil
}

func extractSessionID(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	for i := 0; i < len(parts)-1; i++ {
		if parts[i] == "sessions" && parts[i+1] != "" {
			return parts[i+1]
		}
	}
	return ""
}
