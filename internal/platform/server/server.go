package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"messaging-gateway/internal/platform/config"
	"messaging-gateway/internal/platform/logger"
)

const (
	shutdownTimeout     = 30 * time.Second
	healthWatchInterval = 10 * time.Second
)

// Server HTTP 與 gRPC 服務器的生命週期
type Server struct {
	cfg  *config.Config
	http *http.Server
	grpc *GRPCServer
}

// New 組裝服務器，gRPC 未啟用時只提供 HTTP
func New(deps Deps) (*Server, error) {
	cfg := deps.Config
	s := &Server{
		cfg: cfg,
		http: &http.Server{
			Addr:        config.GetServerAddr(),
			Handler:     NewHandler(deps),
			ReadTimeout: time.Duration(cfg.Server.Timeout) * time.Second,
			// WebSocket 需要長連接，設為 0 表示不超時
			WriteTimeout: 0,
			IdleTimeout:  120 * time.Second,
		},
	}

	if cfg.GRPC.Enabled {
		var healthy func(ctx context.Context) bool
		if deps.Health != nil {
			healthy = deps.Health.Healthy
		}
		grpcServer, err := NewGRPCServer(cfg.Security.TLS, deps.Auth, healthy)
		if err != nil {
			return nil, err
		}
		s.grpc = grpcServer
	}
	return s, nil
}

// Run 啟動所有服務器並阻塞到 ctx 結束或任一服務器失敗，返回前優雅關閉
func (s *Server) Run(ctx context.Context) error {
	// 連接上下文在關閉時取消，讓長連接隨之結束
	connCtx, cancelConns := context.WithCancel(context.Background())
	defer cancelConns()
	s.http.BaseContext = func(net.Listener) context.Context { return connCtx }

	errCh := make(chan error, 2)
	go func() {
		logger.LogInfof("伺服器正在監聽: %s", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	if s.grpc != nil {
		go s.grpc.Watch(connCtx, healthWatchInterval)
		go func() {
			if err := s.grpc.Start(config.GetGRPCAddr()); err != nil {
				errCh <- err
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.LogInfof("收到關閉信號，正在優雅關閉伺服器...")
	case runErr = <-errCh:
		logger.LogErrorf("伺服器啟動失敗: %v", runErr)
	}

	cancelConns()
	if err := s.shutdown(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if s.grpc != nil {
		s.grpc.Stop()
	}
	if err := s.http.Shutdown(ctx); err != nil {
		logger.LogErrorf("伺服器關閉失敗: %v", err)
		return err
	}
	logger.LogInfof("伺服器已優雅關閉")
	return nil
}
