// Package grpcclient 提供 gRPC 客户端工厂，支持重试、keepalive 与 trace 透传
package grpcclient

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/wyfcoding/riskguard/pkg/logger"
	"google.golang.org/grpc"
	"google.golang.org/grpc/backoff"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// ClientConfig gRPC 客户端配置
type ClientConfig struct {
	// 目标地址
	Target string
	// 建连超时
	ConnTimeout time.Duration
	// 请求超时，0 表示由调用方 ctx 决定
	RequestTimeout time.Duration
	// 最大重试次数
	MaxRetries int
	// 重试延迟
	RetryDelay time.Duration
	// Keepalive 间隔，0 表示关闭
	KeepaliveInterval time.Duration
}

// NewClient 创建 gRPC 客户端连接，连接在首次调用时建立
func NewClient(cfg ClientConfig) (*grpc.ClientConn, error) {
	if cfg.Target == "" {
		return nil, errors.New("grpc target is required")
	}

	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithChainUnaryInterceptor(unaryClientInterceptor(cfg)),
	}

	if cfg.ConnTimeout > 0 {
		opts = append(opts, grpc.WithConnectParams(grpc.ConnectParams{
			Backoff: backoff.Config{
				BaseDelay:  100 * time.Millisecond,
				MaxDelay:   cfg.ConnTimeout,
				Multiplier: 1.6,
				Jitter:     0.2,
			},
			MinConnectTimeout: cfg.ConnTimeout,
		}))
	}

	if cfg.KeepaliveInterval > 0 {
		opts = append(opts, grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                cfg.KeepaliveInterval,
			Timeout:             10 * time.Second,
			PermitWithoutStream: true,
		}))
	}

	conn, err := grpc.NewClient(cfg.Target, opts...)
	if err != nil {
		logger.Error(context.Background(), "Failed to create gRPC client", "target", cfg.Target, "error", err)
		return nil, err
	}

	logger.Info(context.Background(), "gRPC client created successfully", "target", cfg.Target)
	return conn, nil
}

// unaryClientInterceptor 一元 RPC 拦截器：超时、trace 透传与有限重试
func unaryClientInterceptor(cfg ClientConfig) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		if cfg.RequestTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, cfg.RequestTimeout)
			defer cancel()
		}
		if traceID, ok := ctx.Value(logger.TraceIDKey).(string); ok && traceID != "" {
			ctx = metadata.AppendToOutgoingContext(ctx, "x-trace-id", traceID)
		}

		start := time.Now()
		var lastErr error
		for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
			err := invoker(ctx, method, req, reply, cc, opts...)
			if err == nil {
				logger.Debug(ctx, "gRPC request succeeded", "method", method, "duration", time.Since(start))
				return nil
			}

			lastErr = err
			st, ok := status.FromError(err)
			if !ok || !shouldRetry(st.Code()) || attempt >= cfg.MaxRetries {
				break
			}

			select {
			case <-time.After(cfg.RetryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		logger.Debug(ctx, "gRPC request failed",
			"method", method,
			"duration", time.Since(start),
			"error", lastErr,
		)
		return lastErr
	}
}

// shouldRetry 判断是否应该重试
func shouldRetry(code codes.Code) bool {
	switch code {
	case codes.Unavailable, codes.ResourceExhausted:
		return true
	default:
		return false
	}
}

// ClientPool 按名称管理的 gRPC 连接池
type ClientPool struct {
	mu    sync.RWMutex
	conns map[string]*grpc.ClientConn
}

// NewClientPool 创建客户端连接池
func NewClientPool() *ClientPool {
	return &ClientPool{
		conns: make(map[string]*grpc.ClientConn),
	}
}

// GetOrCreate 获取或创建客户端连接
func (cp *ClientPool) GetOrCreate(name string, cfg ClientConfig) (*grpc.ClientConn, error) {
	cp.mu.Lock()
	defer cp.mu.Unlock()

	if conn, ok := cp.conns[name]; ok {
		return conn, nil
	}

	conn, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}

	cp.conns[name] = conn
	return conn, nil
}

// Snapshot 返回当前全部连接的拷贝
func (cp *ClientPool) Snapshot() map[string]*grpc.ClientConn {
	cp.mu.RLock()
	defer cp.mu.RUnlock()

	out := make(map[string]*grpc.ClientConn, len(cp.conns))
	for k, v := range cp.conns {
		out[k] = v
	}
	return out
}

// Close 关闭所有连接
func (cp *ClientPool) Close() error {
	cp.mu.Lock()
	defer cp.mu.Unlock()

	var errs []error
	for name, conn := range cp.conns {
		if err := conn.Close(); err != nil {
			logger.Error(context.Background(), "Failed to close gRPC connection", "name", name, "error", err)
			errs = append(errs, err)
		}
	}
	cp.conns = make(map[string]*grpc.ClientConn)
	return errors.Join(errs...)
}
