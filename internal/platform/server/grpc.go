package server

import (
	"context"
	"fmt"
	"net"
	"time"

	"messaging-gateway/internal/platform/config"
	"messaging-gateway/internal/platform/logger"
	"messaging-gateway/internal/platform/middleware"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// GRPCServer 運維用 gRPC 服務，提供標準健康檢查
type GRPCServer struct {
	server  *grpc.Server
	health  *health.Server
	healthy func(ctx context.Context) bool
}

// NewGRPCServer 創建 gRPC 服務器，healthy 決定 SERVING 或 NOT_SERVING
func NewGRPCServer(tlsCfg config.TLSConfig, auth *middleware.Authenticator, healthy func(ctx context.Context) bool) (*GRPCServer, error) {
	ctx := context.Background()
	opts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(unaryLogger(), auth.GRPCUnaryInterceptor()),
	}

	creds, err := LoadTLSCredentials(tlsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load TLS credentials: %w", err)
	}
	if creds != nil {
		opts = append(opts, grpc.Creds(creds))
		logger.Info(ctx, "gRPC TLS 已啟用")
	} else {
		logger.Info(ctx, "gRPC 以非加密模式運行（開發環境）")
	}

	s := &GRPCServer{
		server:  grpc.NewServer(opts...),
		health:  health.NewServer(),
		healthy: healthy,
	}
	healthpb.RegisterHealthServer(s.server, s.health)
	s.refresh(ctx)
	return s, nil
}

// refresh 按依賴狀態更新整體服務狀態
func (s *GRPCServer) refresh(ctx context.Context) {
	state := healthpb.HealthCheckResponse_SERVING
	if s.healthy != nil && !s.healthy(ctx) {
		state = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", state)
}

// Watch 定期刷新健康狀態，直到 ctx 結束
func (s *GRPCServer) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.refresh(ctx)
		}
	}
}

// Serve 在指定監聽器上提供服務
func (s *GRPCServer) Serve(lis net.Listener) error {
	return s.server.Serve(lis)
}

// Start 監聽地址並提供服務
func (s *GRPCServer) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	logger.Infof(context.Background(), "gRPC 服務器啟動在 %s", addr)
	return s.Serve(lis)
}

// Stop 標記為 NOT_SERVING 後優雅停止
func (s *GRPCServer) Stop() {
	s.health.Shutdown()
	s.server.GracefulStop()
}

// unaryLogger 記錄每次調用的方法、狀態碼與耗時
func unaryLogger() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		details := map[string]interface{}{
			"method":   info.FullMethod,
			"code":     status.Code(err).String(),
			"duration": time.Since(start).String(),
		}
		if err != nil {
			logger.Warning(ctx, "gRPC 調用失敗", logger.WithAction("grpc"), logger.WithDetails(details))
		} else {
			logger.Debug(ctx, "gRPC 調用", logger.WithAction("grpc"), logger.WithDetails(details))
		}
		return resp, err
	}
}
