package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func capture(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() {
		SetOutput(nil)
		SetLevel(SeverityDebug)
	})
	return &buf
}

func TestLog_EntryFields(t *testing.T) {
	buf := capture(t)

	ctx := WithTraceID(context.Background(), "req-1")
	Info(ctx, "訊息已發送",
		WithUserID("alice"),
		WithConversationID("c1"),
		WithAction("send_message"),
		WithLabels(map[string]string{"audit": "true"}))

	var entry LogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("應輸出單行 JSON: %v (%s)", err, buf.String())
	}
	if entry.Severity != SeverityInfo || entry.UserID != "alice" || entry.ConversationID != "c1" {
		t.Errorf("欄位錯誤: %+v", entry)
	}
	if !strings.HasSuffix(entry.TraceID, "/traces/req-1") {
		t.Errorf("trace 格式錯誤: %s", entry.TraceID)
	}
	if entry.Labels["service"] == "" || entry.Labels["audit"] != "true" {
		t.Errorf("標籤應合併: %v", entry.Labels)
	}
	if entry.SourceLocation == nil || entry.SourceLocation.File != "logger_test.go" {
		t.Errorf("源位置應指向呼叫者: %+v", entry.SourceLocation)
	}
	if entry.InsertID == "" {
		t.Error("缺少 insertId")
	}
}

func TestLog_LevelFilter(t *testing.T) {
	buf := capture(t)
	SetLevel(ParseSeverity("warning"))

	Debug(context.Background(), "debug")
	Info(context.Background(), "info")
	if buf.Len() != 0 {
		t.Fatalf("低於 WARNING 的日誌應被過濾: %s", buf.String())
	}
	Error(context.Background(), "boom")
	if !strings.Contains(buf.String(), `"severity":"ERROR"`) {
		t.Errorf("ERROR 應輸出: %s", buf.String())
	}
}

func TestParseSeverity(t *testing.T) {
	cases := map[string]Severity{
		"debug":   SeverityDebug,
		"info":    SeverityInfo,
		"warning": SeverityWarning,
		"error":   SeverityError,
		"":        SeverityInfo,
	}
	for in, want := range cases {
		if got := ParseSeverity(in); got != want {
			t.Errorf("%q: 期望 %s, got %s", in, want, got)
		}
	}
}
