package domain

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// BreakerState 熔断器状态
type BreakerState string

const (
	BreakerNormal BreakerState = "NORMAL"
	BreakerHalted BreakerState = "HALTED"
)

// BreakerAction 熔断器动作
type BreakerAction string

const (
	BreakerActionHalt           BreakerAction = "HALT"
	BreakerActionReduce         BreakerAction = "REDUCE_POSITIONS"
	BreakerActionClearReduction BreakerAction = "CLEAR_REDUCTION"
	BreakerActionResume         BreakerAction = "RESUME"
)

// BreakerStatus 熔断器状态视图
type BreakerStatus struct {
	State                   BreakerState `json:"state"`
	IsHalted                bool         `json:"is_halted"`
	HaltReason              string       `json:"halt_reason,omitempty"`
	HaltTimestamp           *time.Time   `json:"halt_timestamp,omitempty"`
	PositionReductionActive bool         `json:"position_reduction_active"`
}

// BreakerAuditRecord 熔断器状态变更的审计记录，写入后不可修改
type BreakerAuditRecord struct {
	ID            string        `json:"id"`
	Action        BreakerAction `json:"action"`
	Reason        string        `json:"reason"`
	Actor         string        `json:"actor"`
	ViolationType ViolationType `json:"violation_type,omitempty"`
	Severity      Severity      `json:"severity,omitempty"`
	From          BreakerStatus `json:"from"`
	To            BreakerStatus `json:"to"`
	Timestamp     time.Time     `json:"timestamp"`
}

// BreakerAuditSink 审计日志落地
type BreakerAuditSink interface {
	RecordBreakerEvent(ctx context.Context, record BreakerAuditRecord) error
}

// OrderCanceller 熔断时撤销全部挂单
type OrderCanceller interface {
	CancelAllOrders(ctx context.Context, reason string) error
}

// BreakerNotifier 熔断状态变更通知
type BreakerNotifier interface {
	BreakerChanged(ctx context.Context, record BreakerAuditRecord) error
}

// SystemActor 自动触发动作时记录的操作人
const SystemActor = "risk-monitor"

// CircuitBreaker 交易熔断状态机：NORMAL 与 HALTED 两个状态，外加正交的减仓标记。
// 状态字段由 mu 保护；IsTradingHalted 只读原子镜像，任何路径调用都不会阻塞。
// transition 串行化整个状态变更及其副作用，保证通知、镜像与审计的顺序和状态变更顺序一致。
type CircuitBreaker struct {
	transition sync.Mutex

	mu        sync.Mutex
	halted    bool
	reason    string
	haltedAt  time.Time
	reduction bool

	haltedFlag    atomic.Bool
	reductionFlag atomic.Bool

	audit     BreakerAuditSink
	canceller OrderCanceller
	notifier  BreakerNotifier
	now       func() time.Time
}

// NewCircuitBreaker 创建熔断器，副作用依赖均可为 nil
func NewCircuitBreaker(audit BreakerAuditSink, canceller OrderCanceller, notifier BreakerNotifier) *CircuitBreaker {
	return &CircuitBreaker{
		audit:     audit,
		canceller: canceller,
		notifier:  notifier,
		now:       time.Now,
	}
}

// SetClock 替换时钟，供测试使用
func (cb *CircuitBreaker) SetClock(now func() time.Time) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.now = now
}

// Restore 启动时从镜像恢复状态，不产生审计与副作用。只能在开始处理事件前调用。
func (cb *CircuitBreaker) Restore(s BreakerStatus) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.halted = s.IsHalted
	cb.reason = ""
	cb.haltedAt = time.Time{}
	if s.IsHalted {
		cb.reason = s.HaltReason
		if s.HaltTimestamp != nil {
			cb.haltedAt = *s.HaltTimestamp
		}
	}
	cb.reduction = s.PositionReductionActive
	cb.haltedFlag.Store(cb.halted)
	cb.reductionFlag.Store(cb.reduction)
}

// IsTradingHalted 是否处于熔断状态
func (cb *CircuitBreaker) IsTradingHalted() bool {
	return cb.haltedFlag.Load()
}

// PositionReductionActive 是否处于减仓模式
func (cb *CircuitBreaker) PositionReductionActive() bool {
	return cb.reductionFlag.Load()
}

// Status 返回当前状态的一致视图
func (cb *CircuitBreaker) Status() BreakerStatus {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.statusLocked()
}

func (cb *CircuitBreaker) statusLocked() BreakerStatus {
	s := BreakerStatus{
		State:                   BreakerNormal,
		IsHalted:                cb.halted,
		HaltReason:              cb.reason,
		PositionReductionActive: cb.reduction,
	}
	if cb.halted {
		s.State = BreakerHalted
		at := cb.haltedAt
		s.HaltTimestamp = &at
	}
	return s
}

// TriggerEmergencyHalt NORMAL -> HALTED。已熔断时返回 applied=false，不覆盖首次的原因与时间。
// 状态切换完成后依次执行撤单、通知、审计，副作用失败会合并返回，但熔断状态保持不变。
func (cb *CircuitBreaker) TriggerEmergencyHalt(ctx context.Context, reason string, violation *RiskViolation) (applied bool, err error) {
	cb.transition.Lock()
	defer cb.transition.Unlock()

	cb.mu.Lock()
	if cb.halted {
		cb.mu.Unlock()
		return false, nil
	}
	from := cb.statusLocked()
	cb.halted = true
	cb.reason = reason
	cb.haltedAt = cb.now()
	cb.haltedFlag.Store(true)
	to := cb.statusLocked()
	at := cb.haltedAt
	cb.mu.Unlock()

	record := newAuditRecord(BreakerActionHalt, reason, SystemActor, violation, from, to, at)
	var errs []error
	if cb.canceller != nil {
		if cerr := cb.canceller.CancelAllOrders(ctx, reason); cerr != nil {
			errs = append(errs, fmt.Errorf("cancel orders: %w", cerr))
		}
	}
	errs = append(errs, cb.emit(ctx, record)...)
	return true, errors.Join(errs...)
}

// TriggerPositionReduction 在 NORMAL 状态下开启减仓标记，不暂停交易。
// 已熔断或已在减仓模式时返回 applied=false。
func (cb *CircuitBreaker) TriggerPositionReduction(ctx context.Context, violation RiskViolation) (applied bool, err error) {
	cb.transition.Lock()
	defer cb.transition.Unlock()

	cb.mu.Lock()
	if cb.halted || cb.reduction {
		cb.mu.Unlock()
		return false, nil
	}
	from := cb.statusLocked()
	cb.reduction = true
	cb.reductionFlag.Store(true)
	to := cb.statusLocked()
	at := cb.now()
	cb.mu.Unlock()

	record := newAuditRecord(BreakerActionReduce, violation.Describe(), SystemActor, &violation, from, to, at)
	return true, errors.Join(cb.emit(ctx, record)...)
}

// ClearPositionReduction 人工解除减仓模式，未处于减仓模式时返回 applied=false
func (cb *CircuitBreaker) ClearPositionReduction(ctx context.Context, authorizedBy string) (applied bool, err error) {
	if authorizedBy == "" {
		return false, ErrMissingAuthorizer
	}
	cb.transition.Lock()
	defer cb.transition.Unlock()

	cb.mu.Lock()
	if !cb.reduction {
		cb.mu.Unlock()
		return false, nil
	}
	from := cb.statusLocked()
	cb.reduction = false
	cb.reductionFlag.Store(false)
	to := cb.statusLocked()
	at := cb.now()
	cb.mu.Unlock()

	record := newAuditRecord(BreakerActionClearReduction, "cleared by operator", authorizedBy, nil, from, to, at)
	return true, errors.Join(cb.emit(ctx, record)...)
}

// ResumeTrading HALTED -> NORMAL，必须提供授权人。未熔断时返回 applied=false。
// 恢复时清除熔断原因、时间与减仓标记。
func (cb *CircuitBreaker) ResumeTrading(ctx context.Context, authorizedBy string) (applied bool, err error) {
	if authorizedBy == "" {
		return false, ErrMissingAuthorizer
	}
	cb.transition.Lock()
	defer cb.transition.Unlock()

	cb.mu.Lock()
	if !cb.halted {
		cb.mu.Unlock()
		return false, nil
	}
	from := cb.statusLocked()
	cb.halted = false
	cb.reason = ""
	cb.haltedAt = time.Time{}
	cb.reduction = false
	cb.haltedFlag.Store(false)
	cb.reductionFlag.Store(false)
	to := cb.statusLocked()
	at := cb.now()
	cb.mu.Unlock()

	record := newAuditRecord(BreakerActionResume, "resumed by operator", authorizedBy, nil, from, to, at)
	return true, errors.Join(cb.emit(ctx, record)...)
}

func (cb *CircuitBreaker) emit(ctx context.Context, record BreakerAuditRecord) []error {
	var errs []error
	if cb.notifier != nil {
		if err := cb.notifier.BreakerChanged(ctx, record); err != nil {
			errs = append(errs, fmt.Errorf("notify: %w", err))
		}
	}
	if cb.audit != nil {
		if err := cb.audit.RecordBreakerEvent(ctx, record); err != nil {
			errs = append(errs, fmt.Errorf("audit: %w", err))
		}
	}
	return errs
}

func newAuditRecord(action BreakerAction, reason, actor string, v *RiskViolation, from, to BreakerStatus, at time.Time) BreakerAuditRecord {
	r := BreakerAuditRecord{
		ID:        uuid.NewString(),
		Action:    action,
		Reason:    reason,
		Actor:     actor,
		From:      from,
		To:        to,
		Timestamp: at,
	}
	if v != nil {
		r.ViolationType = v.Type
		r.Severity = v.Severity
	}
	return r
}
