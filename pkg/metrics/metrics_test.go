package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestServer_Probes(t *testing.T) {
	tests := []struct {
		name       string
		check      ReadinessChecker
		path       string
		wantCode   int
		wantStatus string
	}{
		{"liveness", nil, "/healthz", http.StatusOK, `{"status":"alive"}`},
		{"готов без проверки", nil, "/readyz", http.StatusOK, `{"status":"ready"}`},
		{
			"готов",
			func(context.Context) error { return nil },
			"/readyz", http.StatusOK, `{"status":"ready"}`,
		},
		{
			"зависимость недоступна",
			func(context.Context) error { return errors.New("mysql down") },
			"/readyz", http.StatusServiceUnavailable, `{"status":"not_ready"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var opts []Option
			if tt.check != nil {
				opts = append(opts, WithReadinessCheck(tt.check))
			}
			srv := NewServer(":0", "test", opts...)

			w := httptest.NewRecorder()
			srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))

			assert.Equal(t, tt.wantCode, w.Code)
			assert.JSONEq(t, tt.wantStatus, w.Body.String())
		})
	}
}

func TestGinMetricsMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(GinMetricsMiddleware("metrics-test"))
	r.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/bad", func(c *gin.Context) { c.Status(http.StatusBadRequest) })

	before := testutil.ToFloat64(RequestsTotal.WithLabelValues("metrics-test", "/ok", "success"))

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ok", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/bad", nil))

	assert.Equal(t, before+1, testutil.ToFloat64(RequestsTotal.WithLabelValues("metrics-test", "/ok", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(RequestsTotal.WithLabelValues("metrics-test", "/bad", "error")))
}
