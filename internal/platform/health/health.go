package health

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"sort"
	"time"

	"messaging-gateway/internal/platform/config"
	"messaging-gateway/internal/platform/logger"

	"github.com/gin-gonic/gin"
)

const (
	// 健康狀態常數.
	statusHealthy   = "healthy"
	statusUnhealthy = "unhealthy"
	statusWarning   = "warning"
	statusDegraded  = "degraded"

	// 記憶體相關常數.
	memoryMB        = 1024 * 1024
	memoryThreshold = 1024 // 1GB

	// 超時常數.
	checkTimeout = 5 * time.Second
)

// Check 依賴檢查函數.
type Check func(ctx context.Context) error

// Handler 健康檢查處理器.
type Handler struct {
	app      config.AppConfig
	driver   string
	checks   map[string]Check
	realtime func() interface{}
}

// Option 處理器選項.
type Option func(*Handler)

// WithCheck 註冊依賴檢查，例如 database、redis.
func WithCheck(name string, check Check) Option {
	return func(h *Handler) {
		h.checks[name] = check
	}
}

// WithRealtimeStats 在回應中附加推送網關統計.
func WithRealtimeStats(stats func() interface{}) Option {
	return func(h *Handler) {
		h.realtime = stats
	}
}

// NewHealthHandler 創建新的健康檢查處理器.
func NewHealthHandler(app config.AppConfig, driver string, opts ...Option) *Handler {
	h := &Handler{
		app:    app,
		driver: driver,
		checks: make(map[string]Check),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// DependencyStatus 單個依賴的狀態.
type DependencyStatus struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// CheckDependencies 執行所有依賴檢查.
func (h *Handler) CheckDependencies(ctx context.Context) (map[string]DependencyStatus, bool) {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	healthy := true
	result := make(map[string]DependencyStatus, len(names))
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			healthy = false
			result[name] = DependencyStatus{Status: statusUnhealthy, Error: err.Error()}
			logger.LogErrorf("健康檢查 - %s 失敗: %v", name, err)
			continue
		}
		result[name] = DependencyStatus{Status: statusHealthy}
	}
	return result, healthy
}

// Healthy 所有依賴是否可用.
func (h *Handler) Healthy(ctx context.Context) bool {
	_, ok := h.CheckDependencies(ctx)
	return ok
}

// HealthCheck 健康檢查端點.
func (h *Handler) HealthCheck(c *gin.Context) {
	deps, healthy := h.CheckDependencies(c.Request.Context())

	// 檢查系統資源.
	systemStatus := h.checkSystemResources()

	// 從環境變數讀取版本，沒有則用配置
	appVersion := os.Getenv("APP_VERSION")
	if appVersion == "" {
		appVersion = h.app.Version
	}

	response := gin.H{
		"status":    statusHealthy,
		"timestamp": time.Now().Unix(),
		"app": gin.H{
			"name":    h.app.Name,
			"version": appVersion,
			"debug":   h.app.Debug,
			"driver":  h.driver,
		},
		"dependencies": deps,
		"system": gin.H{
			"status":  systemStatus.Status,
			"details": systemStatus.Details,
			"uptime":  time.Since(startTime).String(),
		},
	}
	if h.realtime != nil {
		response["realtime"] = h.realtime()
	}

	if !healthy {
		response["status"] = statusDegraded
	}

	// 即使依賴不健康，也回傳 200 狀態碼，讓監控系統知道服務本身是正常的.
	c.JSON(http.StatusOK, response)
}

// SystemStatus 系統狀態.
type SystemStatus struct {
	Status  string                 `json:"status"`
	Details map[string]interface{} `json:"details"`
}

// checkSystemResources 檢查系統資源.
func (h *Handler) checkSystemResources() SystemStatus {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	details := map[string]interface{}{
		"goroutines": runtime.NumGoroutine(),
		"memory": gin.H{
			"alloc":       fmt.Sprintf("%.2f MB", float64(m.Alloc)/memoryMB),
			"total_alloc": fmt.Sprintf("%.2f MB", float64(m.TotalAlloc)/memoryMB),
			"sys":         fmt.Sprintf("%.2f MB", float64(m.Sys)/memoryMB),
			"num_gc":      m.NumGC,
		},
		"cpu": gin.H{
			"num_cpu": runtime.NumCPU(),
		},
	}

	// 檢查記憶體使用是否過高（超過 1GB 視為警告）
	memoryUsage := m.Sys / memoryMB
	status := statusHealthy
	if memoryUsage > memoryThreshold {
		status = statusWarning
		details["memory_warning"] = "Memory usage is high"
	}

	return SystemStatus{
		Status:  status,
		Details: details,
	}
}

// 記錄服務啟動時間.
var startTime = time.Now()
