package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

func healthStatus(t *testing.T, hs *health.Server, service string) grpc_health_v1.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := hs.Check(context.Background(), &grpc_health_v1.HealthCheckRequest{Service: service})
	require.NoError(t, err)
	return resp.Status
}

func TestServeReturnsErrorWhenHTTPServerFails(t *testing.T) {
	// 占用端口，使 HTTP 服务监听失败
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer taken.Close()

	hs := health.NewServer()
	hs.SetServingStatus(serviceHealthName, grpc_health_v1.HealthCheckResponse_SERVING)
	var stopped atomic.Bool

	done := make(chan error, 1)
	go func() {
		done <- serve(context.Background(), make(chan os.Signal), "127.0.0.1:0",
			grpc.NewServer(), hs, &http.Server{Addr: taken.Addr().String()},
			func() error { stopped.Store(true); return nil })
	}()

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after the HTTP server failed")
	}
	assert.True(t, stopped.Load(), "monitoring and alerts are stopped on failure")
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_NOT_SERVING, healthStatus(t, hs, serviceHealthName))
}

func TestServeStopsCleanlyOnSignal(t *testing.T) {
	hs := health.NewServer()
	quit := make(chan os.Signal, 1)
	var stopped atomic.Bool

	done := make(chan error, 1)
	go func() {
		done <- serve(context.Background(), quit, "127.0.0.1:0",
			grpc.NewServer(), hs, &http.Server{Addr: "127.0.0.1:0"},
			func() error { stopped.Store(true); return nil })
	}()
	quit <- syscall.SIGTERM

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after the shutdown signal")
	}
	assert.True(t, stopped.Load())
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_NOT_SERVING, healthStatus(t, hs, ""))
}
