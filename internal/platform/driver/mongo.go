package driver

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"time"

	"messaging-gateway/internal/platform/config"
	"messaging-gateway/internal/platform/logger"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/writeconcern"
)

var (
	mongoClient *mongo.Client
	mongoDB     *mongo.Database
)

// ErrNoTransactions 部署不支持多文檔事務（單機 mongod）
var ErrNoTransactions = errors.New("mongo deployment does not support transactions: run a replica set or mongos")

// helloReply hello 命令中判斷拓撲所需的字段
type helloReply struct {
	SetName string `bson:"setName"`
	Msg     string `bson:"msg"`
}

// supportsTransactions 副本集成員或 mongos 才能執行事務
func (r helloReply) supportsTransactions() bool {
	return r.SetName != "" || r.Msg == "isdbgrid"
}

// ConnectMongo 建立連接並確認部署支持事務.
// 會話、訊息與通知的多行寫入都依賴事務，因此單機部署直接拒絕啟動.
func ConnectMongo(ctx context.Context, cfg config.MongoConfig, appName string) error {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(cfg.ConnectTimeout)*time.Second)
	defer cancel()

	clientOptions, err := mongoClientOptions(cfg, appName)
	if err != nil {
		return err
	}

	client, err := mongo.Connect(clientOptions)
	if err != nil {
		return fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	var reply helloReply
	if err := client.Database("admin").RunCommand(ctx, bson.D{{Key: "hello", Value: 1}}).Decode(&reply); err != nil {
		_ = client.Disconnect(context.Background())
		return fmt.Errorf("failed to reach MongoDB: %w", err)
	}
	if !reply.supportsTransactions() {
		_ = client.Disconnect(context.Background())
		return ErrNoTransactions
	}

	mongoClient = client
	mongoDB = client.Database(cfg.Database)

	logger.Info(ctx, "MongoDB 已連接",
		logger.WithDetails(map[string]interface{}{
			"database":    cfg.Database,
			"replica_set": reply.SetName,
			"tls":         cfg.TLSEnabled,
		}))
	return nil
}

// mongoClientOptions 組裝連接選項，認證信息優先取配置文件，其次環境變量
func mongoClientOptions(cfg config.MongoConfig, appName string) (*options.ClientOptions, error) {
	opts := options.Client().
		ApplyURI(cfg.URL).
		SetAppName(appName).
		SetRetryWrites(true).
		SetWriteConcern(writeconcern.Majority()).
		SetMaxPoolSize(cfg.MaxPoolSize).
		SetMinPoolSize(cfg.MinPoolSize).
		SetMaxConnIdleTime(time.Duration(cfg.MaxConnIdleTime) * time.Second).
		SetServerSelectionTimeout(time.Duration(cfg.ServerSelectionTimeout) * time.Second)

	username, password := cfg.Username, cfg.Password
	if username == "" {
		username = os.Getenv("MONGO_USERNAME")
	}
	if password == "" {
		password = os.Getenv("MONGO_PASSWORD")
	}
	if username != "" && password != "" {
		opts.SetAuth(options.Credential{Username: username, Password: password})
	}

	if cfg.TLSEnabled {
		tlsConfig, err := loadMongoTLSConfig(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to load MongoDB TLS config: %w", err)
		}
		opts.SetTLSConfig(tlsConfig)
	}
	return opts, nil
}

// GetMongoDatabase 獲取訊息庫實例，未連接時為 nil.
func GetMongoDatabase() *mongo.Database {
	return mongoDB
}

// PingMongo 健康檢查用.
func PingMongo(ctx context.Context) error {
	if mongoClient == nil {
		return fmt.Errorf("database connection not available")
	}
	return mongoClient.Ping(ctx, nil)
}

// CloseMongo 關閉 MongoDB 連接.
func CloseMongo() error {
	if mongoClient == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := mongoClient.Disconnect(ctx)
	mongoClient = nil
	mongoDB = nil
	return err
}

func loadMongoTLSConfig(cfg config.MongoConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

	if cfg.TLSInsecureSkipVerify {
		tlsConfig.InsecureSkipVerify = true
		logger.LogWarnf("MongoDB TLS 證書驗證已跳過，僅限開發環境")
		return tlsConfig, nil
	}

	if cfg.TLSCAFile != "" {
		caCert, err := os.ReadFile(cfg.TLSCAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to append CA certs")
		}
		tlsConfig.RootCAs = pool
	}

	if cfg.TLSCertFile != "" && cfg.TLSKeyFile != "" {
		clientCert, err := tls.LoadX509KeyPair(cfg.TLSCertFile, cfg.TLSKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{clientCert}
	}
	return tlsConfig, nil
}
