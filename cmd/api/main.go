package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"messaging-gateway/internal/chat"
	"messaging-gateway/internal/notification"
	"messaging-gateway/internal/platform/config"
	"messaging-gateway/internal/platform/driver"
	"messaging-gateway/internal/platform/health"
	"messaging-gateway/internal/platform/logger"
	"messaging-gateway/internal/platform/middleware"
	"messaging-gateway/internal/platform/server"
	"messaging-gateway/internal/realtime"
	"messaging-gateway/internal/security/audit"
	"messaging-gateway/internal/security/encryption"
	"messaging-gateway/internal/storage/database"
	"messaging-gateway/internal/storage/database/messaging"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	if err := mainNoExit(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// mainNoExit 分離主要邏輯以避免 exitAfterDefer 問題，確保 defer 函數正常執行.
func mainNoExit() error {
	// .env 不存在時直接使用環境變數
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("載入 .env 失敗: %w", err)
	}

	// 載入配置.
	if err := config.Load(); err != nil {
		return err
	}
	cfg := config.Get()

	// 初始化日誌.
	if err := logger.InitLogger(cfg.Log, cfg.App.Name); err != nil {
		return err
	}
	defer logger.CloseLogger()

	if !cfg.App.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info(ctx, "正在啟動 messaging-gateway",
		logger.WithDetails(map[string]interface{}{
			"env":    config.GetEnv(),
			"driver": cfg.Database.Driver,
			"broker": cfg.Realtime.Broker,
		}))

	checks := []health.Option{}

	// 連接資料庫.
	if cfg.Database.Driver == config.DriverMongo {
		if err := driver.ConnectMongo(ctx, cfg.Database.Mongo, cfg.App.Name); err != nil {
			return err
		}
		defer func() {
			if err := driver.CloseMongo(); err != nil {
				logger.Errorf(ctx, "關閉 MongoDB 連接失敗: %v", err)
			}
		}()
		checks = append(checks, health.WithCheck("database", driver.PingMongo))
	}

	cipher, err := newCipher(cfg.Security.Encryption)
	if err != nil {
		logger.Error(ctx, "加密初始化失敗", logger.WithDetails(map[string]interface{}{"error": err.Error()}))
		return fmt.Errorf("encryption initialization failed")
	}

	repos, err := database.NewRepositories(ctx, cfg, driver.GetMongoDatabase(), cipher)
	if err != nil {
		return err
	}

	auditor := audit.NewAuditService(cfg.Security.Audit.Enabled)

	notifications := notification.NewService(repos, notification.Limits{
		DefaultPageSize: cfg.Limits.Notification.DefaultPageSize,
		MaxPageSize:     cfg.Limits.Notification.MaxPageSize,
		MaxTitleLength:  cfg.Limits.Notification.MaxTitleLength,
	}, nil, auditor)

	chatSvc := chat.NewService(repos, chat.Limits{
		DefaultPageSize:    cfg.Limits.Pagination.DefaultPageSize,
		MaxPageSize:        cfg.Limits.Pagination.MaxPageSize,
		MaxMessageLength:   cfg.Limits.Message.MaxLength,
		MaxGroupMembers:    cfg.Limits.Conversation.MaxMembers,
		MaxGroupNameLength: cfg.Limits.Conversation.MaxNameLength,
	}, notifications, nil, auditor)

	// 推送中繼.
	var broker realtime.Broker
	if cfg.Realtime.Broker == config.BrokerRedis {
		if err := driver.InitRedis(cfg.Redis); err != nil {
			return err
		}
		defer func() {
			if err := driver.CloseRedis(); err != nil {
				logger.Errorf(ctx, "關閉 Redis 連接失敗: %v", err)
			}
		}()
		broker = realtime.NewRedisBroker(driver.GetRedisClient(), cfg.Redis.Channel)
		checks = append(checks, health.WithCheck("redis", driver.PingRedis))
	}

	gateway := realtime.NewGateway(chatSvc, broker, realtime.Options{
		SendBuffer:      cfg.Realtime.SendBuffer,
		DispatchQueue:   cfg.Realtime.DispatchQueue,
		WriteTimeout:    time.Duration(cfg.Realtime.WriteTimeoutSeconds) * time.Second,
		PingInterval:    time.Duration(cfg.Realtime.PingIntervalSeconds) * time.Second,
		MaxMessageBytes: cfg.Realtime.MaxMessageBytes,
	})
	chatSvc.SetPublisher(gateway)
	notifications.SetPublisher(gateway)

	gatewayDone := make(chan struct{})
	go func() {
		defer close(gatewayDone)
		if err := gateway.Run(ctx); err != nil {
			logger.Errorf(ctx, "推送網關異常退出: %v", err)
		}
	}()

	checks = append(checks, health.WithRealtimeStats(func() interface{} { return gateway.Stats() }))
	healthHandler := health.NewHealthHandler(cfg.App, cfg.Database.Driver, checks...)

	srv, err := server.New(server.Deps{
		Config:        cfg,
		Chat:          chatSvc,
		Notifications: notifications,
		Gateway:       gateway,
		Auth:          middleware.NewAuthenticator(cfg.Security.Authentication.JWTEnabled, cfg.Security.Authentication.JWTSecret, auditor),
		Audit:         auditor,
		Health:        healthHandler,
	})
	if err != nil {
		logger.Error(ctx, "服務器創建失敗", logger.WithDetails(map[string]interface{}{"error": err.Error()}))
		return fmt.Errorf("server initialization failed")
	}

	logger.Infof(ctx, "[System] 服務器啟動 - 加密: %v, 審計: %v, TLS: %v, JWT: %v",
		cfg.Security.Encryption.Enabled, cfg.Security.Audit.Enabled,
		cfg.Security.TLS.Enabled, cfg.Security.Authentication.JWTEnabled)

	runErr := srv.Run(ctx)

	// Run 因服務器失敗返回時 ctx 尚未取消
	stop()
	<-gatewayDone
	return runErr
}

// newCipher 按配置創建訊息加密器，未啟用時返回 nil
func newCipher(cfg config.EncryptionConfig) (messaging.BodyCipher, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	enc, err := encryption.NewMessageEncryption(cfg.MasterKey)
	if err != nil {
		return nil, err
	}
	return enc, nil
}
