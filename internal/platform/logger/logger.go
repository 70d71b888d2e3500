package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"messaging-gateway/internal/platform/config"

	"github.com/google/uuid"
	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
)

// Severity GCP Cloud Logging 嚴重級別
type Severity string

const (
	SeverityDebug   Severity = "DEBUG"
	SeverityInfo    Severity = "INFO"
	SeverityNotice  Severity = "NOTICE"
	SeverityWarning Severity = "WARNING"
	SeverityError   Severity = "ERROR"
)

var severityRank = map[Severity]int{
	SeverityDebug:   0,
	SeverityInfo:    1,
	SeverityNotice:  2,
	SeverityWarning: 3,
	SeverityError:   4,
}

// LogEntry GCP Cloud Logging 格式的日誌條目，自定義欄位對應會話與推送
type LogEntry struct {
	Severity       Severity          `json:"severity"`
	Message        string            `json:"message"`
	Timestamp      string            `json:"timestamp"`
	TraceID        string            `json:"logging.googleapis.com/trace,omitempty"`
	HTTPRequest    *HTTPRequest      `json:"httpRequest,omitempty"`
	SourceLocation *SourceLocation   `json:"logging.googleapis.com/sourceLocation,omitempty"`
	Labels         map[string]string `json:"logging.googleapis.com/labels,omitempty"`
	InsertID       string            `json:"logging.googleapis.com/insertId,omitempty"`

	UserID         string                 `json:"userId,omitempty"`
	ConversationID string                 `json:"conversationId,omitempty"`
	MessageID      string                 `json:"messageId,omitempty"`
	NotificationID string                 `json:"notificationId,omitempty"`
	ConnectionID   string                 `json:"connectionId,omitempty"`
	Action         string                 `json:"action,omitempty"`
	Details        map[string]interface{} `json:"details,omitempty"`
}

// HTTPRequest 訪問日誌中的請求信息
type HTTPRequest struct {
	RequestMethod string `json:"requestMethod,omitempty"`
	RequestURL    string `json:"requestUrl,omitempty"`
	RequestSize   int64  `json:"requestSize,omitempty"`
	Status        int    `json:"status,omitempty"`
	ResponseSize  int64  `json:"responseSize,omitempty"`
	UserAgent     string `json:"userAgent,omitempty"`
	RemoteIP      string `json:"remoteIp,omitempty"`
	Latency       string `json:"latency,omitempty"` // 格式: "0.012s"
	Protocol      string `json:"protocol,omitempty"`
}

// SourceLocation 源代碼位置
type SourceLocation struct {
	File     string `json:"file,omitempty"`
	Line     int64  `json:"line,omitempty"`
	Function string `json:"function,omitempty"`
}

var (
	mu          sync.Mutex
	fileWriter  io.Writer
	stdout      io.Writer = os.Stdout
	minSeverity           = SeverityDebug
	projectID             = "local-dev"
	serviceName           = "messaging-gateway"
)

// InitLogger 按日誌配置開啟輪轉檔案，LOG_PATH 優先於配置目錄
func InitLogger(cfg config.LogConfig, service string) error {
	logDir := os.Getenv("LOG_PATH")
	if logDir == "" {
		logDir = cfg.Dir
	}
	if logDir == "" {
		logDir = "./logs"
	}
	if err := os.MkdirAll(logDir, 0o750); err != nil {
		return err
	}

	logFileName := filepath.Join(logDir, "gateway.log")
	writer, err := rotatelogs.New(
		logFileName+".%Y%m%d",
		rotatelogs.WithLinkName(logFileName),
		rotatelogs.WithRotationTime(time.Duration(cfg.RotationTimeHours)*time.Hour),
		rotatelogs.WithMaxAge(time.Duration(cfg.MaxAgeDays)*24*time.Hour),
		rotatelogs.WithRotationSize(int64(cfg.MaxSizeMB)*1024*1024),
	)
	if err != nil {
		return err
	}

	mu.Lock()
	defer mu.Unlock()
	fileWriter = writer
	minSeverity = ParseSeverity(cfg.Level)
	if service != "" {
		serviceName = service
	}
	if id := os.Getenv("GCP_PROJECT_ID"); id != "" {
		projectID = id
	}
	return nil
}

// ParseSeverity 配置中的級別名稱，無法識別時為 INFO
func ParseSeverity(level string) Severity {
	switch level {
	case "debug":
		return SeverityDebug
	case "warning":
		return SeverityWarning
	case "error":
		return SeverityError
	}
	return SeverityInfo
}

// SetLevel 調整最低輸出級別
func SetLevel(s Severity) {
	mu.Lock()
	minSeverity = s
	mu.Unlock()
}

// CloseLogger 關閉日誌檔案
func CloseLogger() {
	mu.Lock()
	defer mu.Unlock()
	if closer, ok := fileWriter.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to close logger: %v\n", err)
		}
	}
	fileWriter = nil
}

// SetOutput 替換所有輸出（測試用），傳入 nil 恢復 stdout
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	fileWriter = nil
	if w == nil {
		w = os.Stdout
	}
	stdout = w
}

func writeLog(entry *LogEntry) {
	line, err := json.Marshal(entry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to marshal log entry: %v\n", err)
		return
	}
	line = append(line, '\n')

	mu.Lock()
	defer mu.Unlock()
	if fileWriter != nil {
		_, _ = fileWriter.Write(line)
	}
	_, _ = stdout.Write(line)
}

func getSourceLocation(skip int) *SourceLocation {
	pc, file, line, ok := runtime.Caller(skip)
	if !ok {
		return nil
	}
	funcName := "unknown"
	if fn := runtime.FuncForPC(pc); fn != nil {
		funcName = fn.Name()
	}
	return &SourceLocation{
		File:     filepath.Base(file),
		Line:     int64(line),
		Function: funcName,
	}
}

type traceKey struct{}

// WithTraceID 將 trace ID（請求 ID）放入 context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceKey{}, traceID)
}

// traceOf 取出 trace ID 並格式化為 projects/<id>/traces/<trace>
func traceOf(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	traceID, _ := ctx.Value(traceKey{}).(string)
	if traceID == "" {
		return ""
	}
	return "projects/" + projectID + "/traces/" + traceID
}

func enabled(severity Severity) bool {
	mu.Lock()
	defer mu.Unlock()
	return severityRank[severity] >= severityRank[minSeverity]
}

// Log 通用日誌方法
func Log(ctx context.Context, severity Severity, message string, opts ...LogOption) {
	logAt(ctx, 3, severity, message, opts...)
}

func logAt(ctx context.Context, skip int, severity Severity, message string, opts ...LogOption) {
	if !enabled(severity) {
		return
	}
	entry := &LogEntry{
		Severity:       severity,
		Message:        message,
		Timestamp:      time.Now().UTC().Format(time.RFC3339Nano),
		TraceID:        traceOf(ctx),
		SourceLocation: getSourceLocation(skip),
		InsertID:       uuid.NewString(),
		Labels:         map[string]string{"service": serviceName},
	}
	for _, opt := range opts {
		opt(entry)
	}
	writeLog(entry)
}

// LogOption 日誌選項
type LogOption func(*LogEntry)

// WithUserID 添加用戶 ID
func WithUserID(userID string) LogOption {
	return func(e *LogEntry) { e.UserID = userID }
}

// WithConversationID 添加會話 ID
func WithConversationID(conversationID string) LogOption {
	return func(e *LogEntry) { e.ConversationID = conversationID }
}

// WithMessageID 添加訊息 ID
func WithMessageID(messageID string) LogOption {
	return func(e *LogEntry) { e.MessageID = messageID }
}

// WithNotificationID 添加通知 ID
func WithNotificationID(notificationID string) LogOption {
	return func(e *LogEntry) { e.NotificationID = notificationID }
}

// WithConnectionID 添加 WebSocket 連接 ID
func WithConnectionID(connectionID string) LogOption {
	return func(e *LogEntry) { e.ConnectionID = connectionID }
}

// WithAction 添加操作
func WithAction(action string) LogOption {
	return func(e *LogEntry) { e.Action = action }
}

// WithDetails 添加詳細信息
func WithDetails(details map[string]interface{}) LogOption {
	return func(e *LogEntry) { e.Details = details }
}

// WithHTTPRequest 添加 HTTP 請求信息
func WithHTTPRequest(req *HTTPRequest) LogOption {
	return func(e *LogEntry) { e.HTTPRequest = req }
}

// WithLabels 合併標籤
func WithLabels(labels map[string]string) LogOption {
	return func(e *LogEntry) {
		if e.Labels == nil {
			e.Labels = make(map[string]string, len(labels))
		}
		for k, v := range labels {
			e.Labels[k] = v
		}
	}
}

func Debug(ctx context.Context, message string, opts ...LogOption) {
	logAt(ctx, 3, SeverityDebug, message, opts...)
}

func Info(ctx context.Context, message string, opts ...LogOption) {
	logAt(ctx, 3, SeverityInfo, message, opts...)
}

// Notice 審計事件使用
func Notice(ctx context.Context, message string, opts ...LogOption) {
	logAt(ctx, 3, SeverityNotice, message, opts...)
}

func Warning(ctx context.Context, message string, opts ...LogOption) {
	logAt(ctx, 3, SeverityWarning, message, opts...)
}

func Error(ctx context.Context, message string, opts ...LogOption) {
	logAt(ctx, 3, SeverityError, message, opts...)
}

func Infof(ctx context.Context, format string, args ...interface{}) {
	logAt(ctx, 3, SeverityInfo, fmt.Sprintf(format, args...))
}

func Errorf(ctx context.Context, format string, args ...interface{}) {
	logAt(ctx, 3, SeverityError, fmt.Sprintf(format, args...))
}

// LogInfof 無請求上下文的啟動日誌
func LogInfof(format string, v ...interface{}) {
	logAt(context.Background(), 3, SeverityInfo, fmt.Sprintf(format, v...))
}

func LogWarnf(format string, v ...interface{}) {
	logAt(context.Background(), 3, SeverityWarning, fmt.Sprintf(format, v...))
}

func LogErrorf(format string, v ...interface{}) {
	logAt(context.Background(), 3, SeverityError, fmt.Sprintf(format, v...))
}
