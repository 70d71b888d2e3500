package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"messaging-gateway/internal/platform/config"

	"github.com/gin-gonic/gin"
)

func serve(h *Handler) map[string]interface{} {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/health", h.HealthCheck)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	var body map[string]interface{}
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	return body
}

func TestHealthCheck_AllHealthy(t *testing.T) {
	h := NewHealthHandler(config.AppConfig{Name: "mgw", Version: "1.0.0"}, config.DriverMemory,
		WithCheck("database", func(context.Context) error { return nil }),
		WithRealtimeStats(func() interface{} { return map[string]int{"connections": 2} }),
	)

	body := serve(h)
	if body["status"] != statusHealthy {
		t.Errorf("期望 healthy, got %v", body["status"])
	}
	if _, ok := body["realtime"]; !ok {
		t.Error("應包含推送統計")
	}
	if !h.Healthy(context.Background()) {
		t.Error("Healthy 應返回 true")
	}
}

func TestHealthCheck_DegradedOnFailure(t *testing.T) {
	h := NewHealthHandler(config.AppConfig{Name: "mgw", Version: "1.0.0"}, config.DriverMongo,
		WithCheck("database", func(context.Context) error { return nil }),
		WithCheck("redis", func(context.Context) error { return errors.New("dial tcp: refused") }),
	)

	body := serve(h)
	if body["status"] != statusDegraded {
		t.Errorf("依賴失敗時應為 degraded, got %v", body["status"])
	}
	deps, _ := body["dependencies"].(map[string]interface{})
	redis, _ := deps["redis"].(map[string]interface{})
	if redis["status"] != statusUnhealthy {
		t.Errorf("redis 應為 unhealthy, got %v", redis["status"])
	}
	if h.Healthy(context.Background()) {
		t.Error("Healthy 應返回 false")
	}
}
