package application

import (
	"sync"

	"github.com/wyfcoding/riskguard/internal/risk/domain"
)

// ViolationHistory 定长违规历史环
type ViolationHistory struct {
	mu   sync.Mutex
	buf  []domain.RiskViolation
	next int
	full bool
}

// NewViolationHistory 创建容量为 size 的历史环
func NewViolationHistory(size int) *ViolationHistory {
	if size <= 0 {
		size = 1
	}
	return &ViolationHistory{buf: make([]domain.RiskViolation, size)}
}

// Add 追加一条违规，满后覆盖最旧的
func (h *ViolationHistory) Add(v domain.RiskViolation) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.buf[h.next] = v
	h.next = (h.next + 1) % len(h.buf)
	if h.next == 0 {
		h.full = true
	}
}

// Recent 返回最近 n 条，最新的在前
func (h *ViolationHistory) Recent(n int) []domain.RiskViolation {
	h.mu.Lock()
	defer h.mu.Unlock()

	size := h.next
	if h.full {
		size = len(h.buf)
	}
	if n <= 0 || n > size {
		n = size
	}
	out := make([]domain.RiskViolation, 0, n)
	for i := 1; i <= n; i++ {
		idx := (h.next - i + len(h.buf)) % len(h.buf)
		out = append(out, h.buf[idx])
	}
	return out
}
