// Package middleware 提供 Gin 与 gRPC 的通用中间件（日志、trace、panic recover、指标、限流）
package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/wyfcoding/riskguard/pkg/logger"
	"github.com/wyfcoding/riskguard/pkg/metrics"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// TraceHeader 上游透传的 trace ID 请求头
const TraceHeader = "X-Trace-ID"

// RequestIDHeader 响应中返回的 request ID
const RequestIDHeader = "X-Request-ID"

func withTrace(ctx context.Context, traceID, spanID, requestID string) context.Context {
	ctx = context.WithValue(ctx, logger.TraceIDKey, traceID)
	ctx = context.WithValue(ctx, logger.SpanIDKey, spanID)
	return context.WithValue(ctx, logger.RequestIDKey, requestID)
}

// GinLoggingMiddleware Gin 日志中间件，将 trace 信息写入 request context
func GinLoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := uuid.NewString()
		traceID := c.GetHeader(TraceHeader)
		if traceID == "" {
			traceID = uuid.NewString()
		}
		spanID := uuid.NewString()

		ctx := withTrace(c.Request.Context(), traceID, spanID, requestID)
		c.Request = c.Request.WithContext(ctx)
		c.Header(RequestIDHeader, requestID)

		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		logger.Debug(ctx, "HTTP request started",
			"method", method,
			"path", path,
			"client_ip", c.ClientIP(),
		)

		c.Next()

		logger.Info(ctx, "HTTP request completed",
			"method", method,
			"path", path,
			"status_code", c.Writer.Status(),
			"response_size", c.Writer.Size(),
			"duration", time.Since(start),
		)
	}
}

// GinRecoveryMiddleware Gin panic 恢复中间件
func GinRecoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				ctx := c.Request.Context()
				requestID, _ := ctx.Value(logger.RequestIDKey).(string)

				logger.Error(ctx, "HTTP request panicked", "panic", err)

				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error":      "Internal server error",
					"request_id": requestID,
				})
			}
		}()
		c.Next()
	}
}

// GinMetricsMiddleware 记录请求计数与耗时，path 使用路由模板避免高基数
func GinMetricsMiddleware(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.RecordHTTPRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}

// GRPCLoggingInterceptor gRPC 日志拦截器
func GRPCLoggingInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		requestID := uuid.NewString()
		traceID := extractTraceID(ctx)
		if traceID == "" {
			traceID = uuid.NewString()
		}
		ctx = withTrace(ctx, traceID, uuid.NewString(), requestID)

		start := time.Now()
		method := info.FullMethod

		resp, err := handler(ctx, req)

		duration := time.Since(start)
		if err != nil {
			st, _ := status.FromError(err)
			logger.Error(ctx, "gRPC request failed",
				"method", method,
				"error_code", st.Code().String(),
				"error_message", st.Message(),
				"duration", duration,
			)
		} else {
			logger.Debug(ctx, "gRPC request completed",
				"method", method,
				"duration", duration,
			)
		}

		return resp, err
	}
}

// GRPCRecoveryInterceptor gRPC panic 恢复拦截器
func GRPCRecoveryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp interface{}, err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error(ctx, "gRPC request panicked",
					"method", info.FullMethod,
					"panic", r,
				)
				err = status.Error(codes.Internal, "internal error")
			}
		}()
		return handler(ctx, req)
	}
}

// extractTraceID 从 context 或 incoming metadata 中提取 trace ID
func extractTraceID(ctx context.Context) string {
	if traceID, ok := ctx.Value(logger.TraceIDKey).(string); ok {
		return traceID
	}
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if v := md.Get("x-trace-id"); len(v) > 0 {
			return v[0]
		}
	}
	return ""
}
