package automation

import (
	"strings"
	"sync"

	"cdpstealth/internal/metrics"

	"github.com/google/uuid"
)

// markerPrefix 标记属性名前缀，完整属性名为前缀加 32 位十六进制
const markerPrefix = "data-cdps-"

// Markers 文本查找使用的标记属性分配器。
// 每次查找取得一个全局唯一的属性名，并发查找之间不会互相命中或清理对方的标记。
type Markers struct {
	mu      sync.Mutex
	live    map[string]struct{}
	metrics *metrics.Collector
}

// NewMarkers 创建分配器，m 可为 nil
func NewMarkers(m *metrics.Collector) *Markers {
	return &Markers{live: make(map[string]struct{}), metrics: m}
}

// Acquire 分配一个新的标记属性名
func (m *Markers) Acquire() string {
	tok := markerPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
	m.mu.Lock()
	m.live[tok] = struct{}{}
	m.mu.Unlock()
	m.metrics.MarkerAllocated()
	return tok
}

// Release 归还标记，重复归还无副作用
func (m *Markers) Release(tok string) {
	m.mu.Lock()
	_, ok := m.live[tok]
	delete(m.live, tok)
	m.mu.Unlock()
	if ok {
		m.metrics.MarkerReleased()
	}
}

// Live 当前未归还的标记
func (m *Markers) Live() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.live))
	for tok := range m.live {
		out = append(out, tok)
	}
	return out
}
