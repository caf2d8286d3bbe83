package client

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/riskguard/internal/risk/domain"
	"github.com/wyfcoding/riskguard/pkg/grpcclient"
	"github.com/wyfcoding/riskguard/pkg/logger"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// Probe 本地依赖探测，Check 返回 nil 表示健康
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

// HealthClientsFromPool 为每个目标建立 gRPC 连接并返回健康检查客户端
func HealthClientsFromPool(pool *grpcclient.ClientPool, targets map[string]string, timeout time.Duration) (map[string]grpc_health_v1.HealthClient, error) {
	out := make(map[string]grpc_health_v1.HealthClient, len(targets))
	for name, addr := range targets {
		conn, err := pool.GetOrCreate(name, grpcclient.ClientConfig{
			Target:         addr,
			ConnTimeout:    timeout,
			RequestTimeout: timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("health client %s: %w", name, err)
		}
		out[name] = grpc_health_v1.NewHealthClient(conn)
	}
	return out, nil
}

// HealthOperationalMonitor 以下游健康状况衡量运营风险：
// SystemHealth 为健康依赖占比，OverallScore = 1 - SystemHealth。
type HealthOperationalMonitor struct {
	clients map[string]grpc_health_v1.HealthClient
	probes  []Probe
	timeout time.Duration

	mu   sync.RWMutex
	last map[string]string
}

// NewHealthOperationalMonitor 创建运营风险监控
func NewHealthOperationalMonitor(clients map[string]grpc_health_v1.HealthClient, probes []Probe, timeout time.Duration) *HealthOperationalMonitor {
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	return &HealthOperationalMonitor{
		clients: clients,
		probes:  probes,
		timeout: timeout,
		last:    map[string]string{},
	}
}

// AddProbe 追加本地探测，须在开始监控前调用
func (m *HealthOperationalMonitor) AddProbe(p Probe) {
	m.probes = append(m.probes, p)
}

// AssessOperationalRisk 并发执行全部探测。没有任何探测时视为完全健康。
func (m *HealthOperationalMonitor) AssessOperationalRisk(ctx context.Context) (domain.OperationalRisk, error) {
	total := len(m.clients) + len(m.probes)
	if total == 0 {
		return domain.OperationalRisk{OverallScore: decimal.Zero, SystemHealth: decimal.NewFromInt(1)}, nil
	}

	var mu sync.Mutex
	status := make(map[string]string, total)
	record := func(name string, err error) {
		s := "SERVING"
		if err != nil {
			s = err.Error()
		}
		mu.Lock()
		status[name] = s
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	for name, hc := range m.clients {
		g.Go(func() error {
			record(name, m.checkGRPC(gctx, hc))
			return nil
		})
	}
	for _, p := range m.probes {
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(gctx, m.timeout)
			defer cancel()
			record(p.Name, p.Check(pctx))
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return domain.OperationalRisk{}, err
	}

	healthy := 0
	var down []string
	for name, s := range status {
		if s == "SERVING" {
			healthy++
		} else {
			down = append(down, name)
		}
	}
	sort.Strings(down)
	if len(down) > 0 {
		logger.Warn(ctx, "Dependencies unhealthy", "unhealthy", down, "total", total)
	}

	m.mu.Lock()
	m.last = status
	m.mu.Unlock()

	health := decimal.NewFromInt(int64(healthy)).Div(decimal.NewFromInt(int64(total)))
	return domain.OperationalRisk{
		OverallScore: decimal.NewFromInt(1).Sub(health),
		SystemHealth: health,
	}, nil
}

func (m *HealthOperationalMonitor) checkGRPC(ctx context.Context, hc grpc_health_v1.HealthClient) error {
	cctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	resp, err := hc.Check(cctx, &grpc_health_v1.HealthCheckRequest{})
	if err != nil {
		return err
	}
	if resp.GetStatus() != grpc_health_v1.HealthCheckResponse_SERVING {
		return fmt.Errorf("status %s", resp.GetStatus())
	}
	return nil
}

// LastStatus 最近一次探测结果，name -> SERVING 或错误信息
func (m *HealthOperationalMonitor) LastStatus() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.last))
	for k, v := range m.last {
		out[k] = v
	}
	return out
}
