package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingAuthorizer 恢复交易时未提供授权人
	ErrMissingAuthorizer = errors.New("resume requires a non-empty authorizer")
	// ErrAlertNotFound 告警不存在
	ErrAlertNotFound = errors.New("alert not found")
	// ErrNoSnapshot 尚未计算出任何风险快照
	ErrNoSnapshot = errors.New("no risk snapshot available")
	// ErrInvalidAlertTransition 告警状态流转非法
	ErrInvalidAlertTransition = errors.New("invalid alert status transition")
)

// ConfigurationError 风控限额配置非法，构造阶段直接失败
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid risk configuration %s: %s", e.Field, e.Reason)
}

// StartupError 监控启动时订阅失败
type StartupError struct {
	Topic string
	Err   error
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("risk monitoring startup failed subscribing to %s: %v", e.Topic, e.Err)
}

func (e *StartupError) Unwrap() error { return e.Err }

// CalculationError 子计算器失败，调用方以保守的高风险快照替代
type CalculationError struct {
	Source string
	Err    error
}

func (e *CalculationError) Error() string {
	return fmt.Sprintf("risk calculation failed in %s: %v", e.Source, e.Err)
}

func (e *CalculationError) Unwrap() error { return e.Err }

// ViolationHandlingError 违规处置过程中的某一步失败，已经生效的熔断动作不会回滚
type ViolationHandlingError struct {
	ViolationType ViolationType
	Step          string
	Err           error
}

func (e *ViolationHandlingError) Error() string {
	return fmt.Sprintf("handling %s violation failed at %s: %v", e.ViolationType, e.Step, e.Err)
}

func (e *ViolationHandlingError) Unwrap() error { return e.Err }
