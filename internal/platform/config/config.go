package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"messaging-gateway/internal/constants"

	"github.com/spf13/viper"
)

// 環境變數前綴，例如 MGW_DATABASE_MONGO_URL 覆蓋 database.mongo.url.
const envPrefix = "MGW"

// 存儲驅動.
const (
	DriverMongo  = "mongo"
	DriverMemory = "memory"
)

// 推送中繼.
const (
	BrokerLocal = "local"
	BrokerRedis = "redis"
)

// Config 應用程式配置結構.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Server   ServerConfig   `mapstructure:"server"`
	GRPC     GRPCConfig     `mapstructure:"grpc"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Realtime RealtimeConfig `mapstructure:"realtime"`
	Log      LogConfig      `mapstructure:"log"`
	Security SecurityConfig `mapstructure:"security"`
	Limits   LimitsConfig   `mapstructure:"limits"`
}

// AppConfig 應用程式基本配置.
type AppConfig struct {
	Name    string `mapstructure:"name"`
	Version string `mapstructure:"version"`
	Debug   bool   `mapstructure:"debug"`
}

// ServerConfig 伺服器配置.
type ServerConfig struct {
	Host           string   `mapstructure:"host"`
	Port           string   `mapstructure:"port"`
	Timeout        int      `mapstructure:"timeout"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	TrustedProxies []string `mapstructure:"trusted_proxies"` // 可信反向代理 IP 或 CIDR，空表示不信任轉發標頭.
}

// GRPCConfig gRPC 健康檢查服務配置.
type GRPCConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    string `mapstructure:"port"`
}

// DatabaseConfig 資料庫配置.
type DatabaseConfig struct {
	Driver string      `mapstructure:"driver"`
	Mongo  MongoConfig `mapstructure:"mongo"`
}

// MongoConfig MongoDB 配置.
type MongoConfig struct {
	URL                    string `mapstructure:"url"`
	Database               string `mapstructure:"database"`
	Username               string `mapstructure:"username"`
	Password               string `mapstructure:"password"`
	MaxPoolSize            uint64 `mapstructure:"max_pool_size"`
	MinPoolSize            uint64 `mapstructure:"min_pool_size"`
	MaxConnIdleTime        int    `mapstructure:"max_conn_idle_time"`
	ConnectTimeout         int    `mapstructure:"connect_timeout"`
	ServerSelectionTimeout int    `mapstructure:"server_selection_timeout"`
	TLSEnabled             bool   `mapstructure:"tls_enabled"`
	TLSCAFile              string `mapstructure:"tls_ca_file"`
	TLSCertFile            string `mapstructure:"tls_cert_file"`
	TLSKeyFile             string `mapstructure:"tls_key_file"`
	TLSInsecureSkipVerify  bool   `mapstructure:"tls_insecure_skip_verify"`
}

// RedisConfig Redis 配置，僅在 realtime.broker 為 redis 時使用.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

// RealtimeConfig 即時推送配置.
type RealtimeConfig struct {
	Broker              string `mapstructure:"broker"`
	SendBuffer          int    `mapstructure:"send_buffer"`
	DispatchQueue       int    `mapstructure:"dispatch_queue"`
	WriteTimeoutSeconds int    `mapstructure:"write_timeout_seconds"`
	PingIntervalSeconds int    `mapstructure:"ping_interval_seconds"`
	MaxMessageBytes     int64  `mapstructure:"max_message_bytes"`
}

// LogConfig 日誌配置.
type LogConfig struct {
	Dir               string `mapstructure:"dir"`                 // 日誌目錄.
	RotationTimeHours int    `mapstructure:"rotation_time_hours"` // 日誌輪轉時間 (小時).
	MaxAgeDays        int    `mapstructure:"max_age_days"`        // 日誌保留天數.
	MaxSizeMB         int    `mapstructure:"max_size_mb"`         // 單個日誌檔案最大大小 (MB).
	Level             string `mapstructure:"level"`               // debug | info | warning | error.
}

// SecurityConfig 安全配置.
type SecurityConfig struct {
	TLS            TLSConfig            `mapstructure:"tls"`
	Authentication AuthenticationConfig `mapstructure:"authentication"`
	Encryption     EncryptionConfig     `mapstructure:"encryption"`
	Audit          AuditConfig          `mapstructure:"audit"`
}

// TLSConfig TLS 配置.
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
	CAFile   string `mapstructure:"ca_file"`
}

// AuthenticationConfig 認證配置.
type AuthenticationConfig struct {
	JWTEnabled bool   `mapstructure:"jwt_enabled"`
	JWTSecret  string `mapstructure:"jwt_secret"`
}

// EncryptionConfig 靜態加密配置.
type EncryptionConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// MasterKey base64 編碼的 32 字節主密鑰，可由 MGW_SECURITY_ENCRYPTION_MASTER_KEY 提供.
	MasterKey string `mapstructure:"master_key"`
}

// AuditConfig 審計配置.
type AuditConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// LimitsConfig 限制配置.
type LimitsConfig struct {
	Request      RequestLimitsConfig      `mapstructure:"request"`
	RateLimiting RateLimitingConfig       `mapstructure:"rate_limiting"`
	Connections  ConnectionLimitsConfig   `mapstructure:"connections"`
	Pagination   PaginationLimitsConfig   `mapstructure:"pagination"`
	Conversation ConversationLimitsConfig `mapstructure:"conversation"`
	Message      MessageLimitsConfig      `mapstructure:"message"`
	Notification NotificationLimitsConfig `mapstructure:"notification"`
}

// RequestLimitsConfig 請求限制配置.
type RequestLimitsConfig struct {
	MaxBodySize int64 `mapstructure:"max_body_size"`
}

// RateLimitingConfig Rate Limiting 配置.
type RateLimitingConfig struct {
	Enabled          bool `mapstructure:"enabled"`
	DefaultPerMinute int  `mapstructure:"default_per_minute"`
	MessagesPerMin   int  `mapstructure:"messages_per_minute"`
	CleanupInterval  int  `mapstructure:"cleanup_interval_minutes"`
}

// ConnectionLimitsConfig WebSocket 連接限制配置.
type ConnectionLimitsConfig struct {
	MaxPerUser            int `mapstructure:"max_per_user"`
	MaxTotal              int `mapstructure:"max_total"`
	MinConnectionInterval int `mapstructure:"min_connection_interval_seconds"`
}

// PaginationLimitsConfig 分頁限制配置.
type PaginationLimitsConfig struct {
	DefaultPageSize int `mapstructure:"default_page_size"`
	MaxPageSize     int `mapstructure:"max_page_size"`
}

// ConversationLimitsConfig 會話限制配置.
type ConversationLimitsConfig struct {
	MaxMembers    int `mapstructure:"max_members"`
	MaxNameLength int `mapstructure:"max_name_length"`
}

// MessageLimitsConfig 訊息限制配置.
type MessageLimitsConfig struct {
	MaxLength int `mapstructure:"max_length"`
}

// NotificationLimitsConfig 通知限制配置.
type NotificationLimitsConfig struct {
	DefaultPageSize int `mapstructure:"default_page_size"`
	MaxPageSize     int `mapstructure:"max_page_size"`
	MaxTitleLength  int `mapstructure:"max_title_length"`
}

var (
	config *Config
	// ENV 當前環境變數.
	ENV string = "local"
)

// Load 載入設定檔.
func Load(testCfg ...*Config) error {
	// 如果直接傳入配置（主要用於測試），設定並驗證
	if len(testCfg) > 0 && testCfg[0] != nil {
		applyDefaults(testCfg[0])
		if err := validateConfig(testCfg[0]); err != nil {
			return fmt.Errorf("配置驗證失敗: %w", err)
		}
		config = testCfg[0]
		return nil
	}

	// 初始化 Viper
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 檢查是否有 CONFIG_PATH 環境變數
	if configPath := os.Getenv("CONFIG_PATH"); configPath != "" {
		v.SetConfigFile(configPath)
		// 從檔案名稱推斷環境
		baseName := filepath.Base(configPath)
		ENV = strings.TrimSuffix(baseName, filepath.Ext(baseName))
	} else {
		v.SetConfigName(ENV)
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
	}

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("讀取配置檔案失敗: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return fmt.Errorf("解析配置失敗: %w", err)
	}
	applyDefaults(cfg)

	if err := validateConfig(cfg); err != nil {
		return fmt.Errorf("配置驗證失敗: %w", err)
	}

	config = cfg
	return nil
}

// setDefaults 註冊預設值，讓環境變數在檔案缺少該鍵時也能生效.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.timeout", constants.DefaultRequestTimeout)
	v.SetDefault("grpc.host", "0.0.0.0")
	v.SetDefault("grpc.port", "8081")
	v.SetDefault("database.driver", DriverMongo)
	v.SetDefault("database.mongo.url", "")
	v.SetDefault("database.mongo.database", "")
	v.SetDefault("database.mongo.username", "")
	v.SetDefault("database.mongo.password", "")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("realtime.broker", BrokerLocal)
	v.SetDefault("security.authentication.jwt_secret", "")
	v.SetDefault("security.encryption.master_key", "")
}

// applyDefaults 填補未設定的數值型限制.
func applyDefaults(cfg *Config) {
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = DriverMongo
	}
	if cfg.Realtime.Broker == "" {
		cfg.Realtime.Broker = BrokerLocal
	}
	if cfg.Redis.Channel == "" {
		cfg.Redis.Channel = "messaging-gateway:events"
	}
	if cfg.Realtime.SendBuffer <= 0 {
		cfg.Realtime.SendBuffer = constants.DefaultSendBuffer
	}
	if cfg.Realtime.DispatchQueue <= 0 {
		cfg.Realtime.DispatchQueue = constants.DefaultDispatchQueue
	}
	if cfg.Realtime.WriteTimeoutSeconds <= 0 {
		cfg.Realtime.WriteTimeoutSeconds = constants.DefaultWriteTimeout
	}
	if cfg.Realtime.PingIntervalSeconds <= 0 {
		cfg.Realtime.PingIntervalSeconds = constants.DefaultPingInterval
	}
	if cfg.Realtime.MaxMessageBytes <= 0 {
		cfg.Realtime.MaxMessageBytes = constants.DefaultMaxWSMessageBytes
	}
	if cfg.Log.Dir == "" {
		cfg.Log.Dir = "logs"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
		if cfg.App.Debug {
			cfg.Log.Level = "debug"
		}
	}

	limits := &cfg.Limits
	if limits.Request.MaxBodySize <= 0 {
		limits.Request.MaxBodySize = constants.DefaultMaxRequestBodySize
	}
	if limits.Pagination.DefaultPageSize <= 0 {
		limits.Pagination.DefaultPageSize = constants.DefaultPageSize
	}
	if limits.Pagination.MaxPageSize <= 0 {
		limits.Pagination.MaxPageSize = constants.DefaultMaxPageSize
	}
	if limits.Conversation.MaxMembers <= 0 {
		limits.Conversation.MaxMembers = constants.DefaultMaxGroupMembers
	}
	if limits.Conversation.MaxNameLength <= 0 {
		limits.Conversation.MaxNameLength = constants.DefaultMaxGroupNameLength
	}
	if limits.Message.MaxLength <= 0 {
		limits.Message.MaxLength = constants.DefaultMaxMessageLength
	}
	if limits.Notification.DefaultPageSize <= 0 {
		limits.Notification.DefaultPageSize = constants.DefaultNotificationPageSize
	}
	if limits.Notification.MaxPageSize <= 0 {
		limits.Notification.MaxPageSize = constants.DefaultNotificationMaxPageSize
	}
	if limits.Notification.MaxTitleLength <= 0 {
		limits.Notification.MaxTitleLength = constants.DefaultMaxNotificationTitle
	}
	if limits.Connections.MaxPerUser <= 0 {
		limits.Connections.MaxPerUser = constants.DefaultMaxConnectionsPerUser
	}
	if limits.Connections.MaxTotal <= 0 {
		limits.Connections.MaxTotal = constants.DefaultMaxTotalConnections
	}
	if limits.RateLimiting.CleanupInterval <= 0 {
		limits.RateLimiting.CleanupInterval = constants.RateLimitCleanupIntervalMin
	}
}

// Get 取得設定.
func Get() *Config {
	return config
}

// SetEnv 設定環境.
func SetEnv(env string) {
	ENV = env
}

// GetEnv 取得當前環境.
func GetEnv() string {
	return ENV
}

// validateConfig 驗證配置的有效性
func validateConfig(cfg *Config) error {
	if cfg.App.Name == "" {
		return fmt.Errorf("應用程式名稱不能為空")
	}
	if cfg.App.Version == "" {
		return fmt.Errorf("應用程式版本不能為空")
	}

	if cfg.Server.Host == "" {
		return fmt.Errorf("伺服器主機不能為空")
	}
	if cfg.Server.Port == "" {
		return fmt.Errorf("伺服器端口不能為空")
	}
	if cfg.Server.Timeout <= 0 {
		return fmt.Errorf("伺服器超時時間必須大於 0")
	}

	switch cfg.Database.Driver {
	case DriverMemory:
	case DriverMongo:
		if cfg.Database.Mongo.URL == "" {
			return fmt.Errorf("MongoDB URL 不能為空")
		}
		if cfg.Database.Mongo.Database == "" {
			return fmt.Errorf("MongoDB 資料庫名稱不能為空")
		}
		if cfg.Database.Mongo.MaxPoolSize == 0 {
			return fmt.Errorf("MongoDB 最大連接池大小必須大於 0")
		}
		if cfg.Database.Mongo.MinPoolSize > cfg.Database.Mongo.MaxPoolSize {
			return fmt.Errorf("MongoDB 最小連接池大小不能大於最大連接池大小")
		}
	default:
		return fmt.Errorf("不支援的存儲驅動: %s", cfg.Database.Driver)
	}

	switch cfg.Realtime.Broker {
	case BrokerLocal:
	case BrokerRedis:
		if cfg.Redis.Addr == "" {
			return fmt.Errorf("redis 中繼需要設定 redis.addr")
		}
	default:
		return fmt.Errorf("不支援的推送中繼: %s", cfg.Realtime.Broker)
	}

	if cfg.Security.Authentication.JWTEnabled && cfg.Security.Authentication.JWTSecret == "" {
		return fmt.Errorf("啟用 JWT 時必須設定 jwt_secret")
	}
	if cfg.Security.Encryption.Enabled && cfg.Security.Encryption.MasterKey == "" {
		return fmt.Errorf("啟用加密時必須設定 master_key")
	}

	if cfg.Limits.Pagination.DefaultPageSize > cfg.Limits.Pagination.MaxPageSize {
		return fmt.Errorf("預設分頁大小不能大於最大分頁大小")
	}

	if cfg.Log.RotationTimeHours <= 0 {
		return fmt.Errorf("日誌輪轉時間必須大於 0")
	}
	if cfg.Log.MaxAgeDays <= 0 {
		return fmt.Errorf("日誌保留天數必須大於 0")
	}
	if cfg.Log.MaxSizeMB <= 0 {
		return fmt.Errorf("日誌檔案最大大小必須大於 0")
	}
	for _, proxy := range cfg.Server.TrustedProxies {
		if net.ParseIP(proxy) == nil {
			if _, _, err := net.ParseCIDR(proxy); err != nil {
				return fmt.Errorf("無效的可信代理: %s", proxy)
			}
		}
	}

	switch cfg.Log.Level {
	case "debug", "info", "warning", "error":
	default:
		return fmt.Errorf("不支援的日誌級別: %s", cfg.Log.Level)
	}

	return nil
}

// IsDebug 檢查是否為除錯模式
func IsDebug() bool {
	if config != nil {
		return config.App.Debug
	}
	return false
}

// GetServerAddr 取得伺服器地址
func GetServerAddr() string {
	if config != nil {
		return fmt.Sprintf("%s:%s", config.Server.Host, config.Server.Port)
	}
	return "localhost:8080"
}

// GetGRPCAddr 取得 gRPC 服務地址
func GetGRPCAddr() string {
	if config != nil {
		return fmt.Sprintf("%s:%s", config.GRPC.Host, config.GRPC.Port)
	}
	return "localhost:8081"
}
