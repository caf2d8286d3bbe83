package mysql

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/riskguard/internal/risk/domain"
	"github.com/wyfcoding/riskguard/pkg/db"
)

var base = time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

func newTestRepo(t *testing.T) domain.RiskRepository {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	database, err := db.Init(db.Config{
		Driver: "sqlite",
		DSN:    fmt.Sprintf("file:%s?mode=memory&cache=shared", name),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	require.NoError(t, AutoMigrate(database))
	return NewRiskRepository(database)
}

func violation(asset string, at time.Time) domain.RiskViolation {
	return domain.RiskViolation{
		Type:          domain.ViolationConcentrationExceeded,
		CurrentValue:  decimal.RequireFromString("0.3"),
		LimitValue:    decimal.RequireFromString("0.25"),
		Severity:      domain.SeverityMedium,
		AssetAffected: asset,
		Timestamp:     at,
	}
}

func TestRiskRepository_AlertLifecycle(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	first := domain.NewRiskAlert(violation("BTC-USD", base), base)
	second := domain.NewRiskAlert(violation("ETH-USD", base), base.Add(time.Second))
	require.NoError(t, repo.SaveAlert(ctx, first))
	require.NoError(t, repo.SaveAlert(ctx, second))

	active, err := repo.ListActiveAlerts(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, first.AlertID, active[0].AlertID)
	assert.Equal(t, "BTC-USD", active[0].Violation.AssetAffected)
	assert.True(t, active[0].Violation.CurrentValue.Equal(decimal.RequireFromString("0.3")))

	require.NoError(t, first.Acknowledge("alice", base.Add(time.Minute)))
	require.NoError(t, repo.UpdateAlert(ctx, first))
	require.NoError(t, first.Resolve("alice", base.Add(2*time.Minute)))
	require.NoError(t, repo.UpdateAlert(ctx, first))

	active, err = repo.ListActiveAlerts(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, second.AlertID, active[0].AlertID)

	// 已解决的告警不能被旧状态覆盖
	stale := first.Clone()
	stale.Status = domain.AlertStatusAcknowledged
	assert.ErrorIs(t, repo.UpdateAlert(ctx, stale), domain.ErrInvalidAlertTransition)
}

func TestRiskRepository_ViolationsNewestFirst(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	for i, asset := range []string{"A", "B", "C"} {
		require.NoError(t, repo.SaveViolation(ctx, violation(asset, base.Add(time.Duration(i)*time.Minute))))
	}

	got, err := repo.ListViolations(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "C", got[0].AssetAffected)
	assert.Equal(t, "B", got[1].AssetAffected)
	assert.Equal(t, domain.SeverityMedium, got[0].Severity)
}

func TestRiskRepository_BreakerAuditTrail(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	breaker := domain.NewCircuitBreaker(repo, nil, nil)
	now := base
	breaker.SetClock(func() time.Time { now = now.Add(time.Second); return now })

	v := violation("BTC-USD", base)
	v.Severity = domain.SeverityCritical
	_, err := breaker.TriggerEmergencyHalt(ctx, v.Describe(), &v)
	require.NoError(t, err)
	_, err = breaker.ResumeTrading(ctx, "ops")
	require.NoError(t, err)

	events, err := repo.ListBreakerEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, domain.BreakerActionResume, events[0].Action)
	assert.Equal(t, "ops", events[0].Actor)
	assert.True(t, events[0].From.IsHalted)
	assert.False(t, events[0].To.IsHalted)

	halt := events[1]
	assert.Equal(t, domain.BreakerActionHalt, halt.Action)
	assert.Equal(t, domain.SystemActor, halt.Actor)
	assert.Equal(t, domain.ViolationConcentrationExceeded, halt.ViolationType)
	assert.Equal(t, domain.SeverityCritical, halt.Severity)
	assert.Equal(t, domain.BreakerHalted, halt.To.State)
}
