package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func value(t *testing.T, m prometheus.Metric) float64 {
	t.Helper()
	var out dto.Metric
	if err := m.Write(&out); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	switch {
	case out.Counter != nil:
		return out.Counter.GetValue()
	case out.Gauge != nil:
		return out.Gauge.GetValue()
	default:
		t.Fatalf("unsupported metric %v", &out)
		return 0
	}
}

func TestGinMiddleware_LabelsByRouteAndSkipsPaths(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(GinMiddleware("/health"))
	router.GET("/v1/items/:id", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	router.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	before := value(t, requestTotal.WithLabelValues(http.MethodGet, "/v1/items/:id", "204"))
	for _, path := range []string{"/v1/items/1", "/v1/items/2", "/health"} {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	if got := value(t, requestTotal.WithLabelValues(http.MethodGet, "/v1/items/:id", "204")) - before; got != 2 {
		t.Fatalf("expected 2 requests on the route label, got %v", got)
	}
	if got := value(t, requestTotal.WithLabelValues(http.MethodGet, "/health", "200")); got != 0 {
		t.Fatalf("skipped path must not be counted, got %v", got)
	}
}

func TestAsynqMetricsMiddleware_CountsOutcome(t *testing.T) {
	failing := AsynqMetricsMiddleware()(asynq.HandlerFunc(func(context.Context, *asynq.Task) error {
		return errors.New("boom")
	}))
	ok := AsynqMetricsMiddleware()(asynq.HandlerFunc(func(context.Context, *asynq.Task) error { return nil }))

	task := asynq.NewTask("test:metrics", nil)
	_ = failing.ProcessTask(context.Background(), task)
	_ = ok.ProcessTask(context.Background(), task)
	_ = ok.ProcessTask(context.Background(), task)

	if got := value(t, taskProcessedTotal.WithLabelValues("test:metrics", "error")); got != 1 {
		t.Fatalf("expected 1 failed task, got %v", got)
	}
	if got := value(t, taskProcessedTotal.WithLabelValues("test:metrics", "ok")); got != 2 {
		t.Fatalf("expected 2 successful tasks, got %v", got)
	}
	if got := value(t, taskInProgress.WithLabelValues("test:metrics")); got != 0 {
		t.Fatalf("in-progress gauge should return to zero, got %v", got)
	}
}
