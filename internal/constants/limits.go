package constants

// HTTP 請求相關常數
const (
	// 默認值（可被配置覆蓋）
	DefaultMaxRequestBodySize = 1 << 20 // 1MB
	DefaultRequestTimeout     = 30      // 秒
)

// 分頁相關常數
const (
	DefaultPageSize    = 50
	DefaultMaxPageSize = 100
	MinPageSize        = 1
)

// 會話相關常數
const (
	DefaultMaxGroupMembers    = 200
	DefaultMaxGroupNameLength = 100
	MinGroupMembers           = 2
)

// 訊息相關常數
const (
	DefaultMaxMessageLength = 5000
	MaxFileURLLength        = 2048
)

// 通知相關常數
const (
	DefaultNotificationPageSize    = 20
	DefaultNotificationMaxPageSize = 100
	DefaultMaxNotificationTitle    = 200
	NotificationTitlePrefix        = "New message from "
)

// Rate Limiting 默認值
const (
	DefaultRateLimitPerMinute   = 100
	DefaultMessageRateLimit     = 30
	RateLimitCleanupIntervalMin = 5 // 分鐘
)

// WebSocket 連接相關常數
const (
	DefaultMaxConnectionsPerUser = 5
	DefaultMaxTotalConnections   = 10000
	DefaultSendBuffer            = 64
	DefaultDispatchQueue         = 1024
	DefaultWriteTimeout          = 10 // 秒
	DefaultPingInterval          = 30 // 秒
	DefaultMaxWSMessageBytes     = 4096
)

// 用戶 ID 相關常數
const (
	MaxUserIDLength = 100
)

// 加密相關常數
const (
	MasterKeyLength = 32 // 256 bits
)
