package server

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"messaging-gateway/internal/platform/config"

	"google.golang.org/grpc/credentials"
)

// LoadTLSCredentials 載入 gRPC TLS 憑證，未啟用時返回 nil
func LoadTLSCredentials(cfg config.TLSConfig) (credentials.TransportCredentials, error) {
	tlsConfig, err := LoadTLSConfig(cfg)
	if err != nil || tlsConfig == nil {
		return nil, err
	}
	return credentials.NewTLS(tlsConfig), nil
}

// LoadTLSConfig 構建服務端 TLS 配置，設定 CA 時要求客戶端憑證
func LoadTLSConfig(cfg config.TLSConfig) (*tls.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	// 載入服務器憑證和私鑰
	serverCert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load server certificate: %w", err)
	}

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{serverCert},
		ClientAuth:   tls.NoClientCert,
		MinVersion:   tls.VersionTLS13, // 只接受 TLS 1.3
	}

	if cfg.CAFile != "" {
		ca, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}
		certPool := x509.NewCertPool()
		if !certPool.AppendCertsFromPEM(ca) {
			return nil, fmt.Errorf("failed to append CA certificate")
		}
		tlsConfig.ClientCAs = certPool
		tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
	}

	return tlsConfig, nil
}
