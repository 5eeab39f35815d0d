// Package stealth 定义外部协作者接口：启动器、规避脚本、鼠标轨迹与打字节奏，
// 并提供最小可用的默认实现。
package stealth

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"cdpstealth/pkg/domain"

	"github.com/mafredri/cdp/devtool"
)

// Launcher 返回已启动、已修补浏览器的调试端点
type Launcher interface {
	Launch(ctx context.Context) (endpoint string, err error)
}

// EvasionSource 返回在每个文档脚本执行前注入的拼接脚本
type EvasionSource interface {
	Script() string
}

// MotionPlanner 生成从 from 到 to 的有序中间坐标
type MotionPlanner interface {
	Path(from, to domain.Point) []domain.Point
}

// TypingCadence 为每个字符生成输入间隔
type TypingCadence interface {
	Delays(text string) []time.Duration
}

// StaticEndpoint 直接返回已知端点
type StaticEndpoint string

func (s StaticEndpoint) Launch(context.Context) (string, error) {
	if s == "" {
		return "", errors.New("empty endpoint")
	}
	return string(s), nil
}

// DevToolsLauncher 通过 /json/version 发现已运行浏览器的 websocket 地址
type DevToolsLauncher struct {
	URL string
}

func (d DevToolsLauncher) Launch(ctx context.Context) (string, error) {
	v, err := devtool.New(d.URL).Version(ctx)
	if err != nil {
		return "", fmt.Errorf("query devtools version at %s: %w", d.URL, err)
	}
	if v.WebSocketDebuggerURL == "" {
		return "", fmt.Errorf("devtools at %s returned no websocket url", d.URL)
	}
	return v.WebSocketDebuggerURL, nil
}

// DefaultEvasions 最小规避脚本
var DefaultEvasions = []string{
	`Object.defineProperty(Navigator.prototype, 'webdriver', {get: () => undefined, configurable: true});`,
	`if (!window.chrome) { window.chrome = {runtime: {}}; }`,
	`(() => { const q = navigator.permissions && navigator.permissions.query; if (!q) return;
  navigator.permissions.query = (p) => p && p.name === 'notifications'
    ? Promise.resolve({state: Notification.permission}) : q.call(navigator.permissions, p); })();`,
}

// Scripts 静态脚本列表
type Scripts []string

func (s Scripts) Script() string {
	parts := make([]string, 0, len(s))
	for _, p := range s {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, "try {\n"+p+"\n} catch (e) {}")
		}
	}
	return strings.Join(parts, "\n")
}

// EaseMotion 带缓动与轻微抖动的直线轨迹
type EaseMotion struct {
	Steps  int
	Jitter float64
	rng    *lockedRand
}

// NewEaseMotion seed 为 0 时使用当前时间
func NewEaseMotion(steps int, jitter float64, seed int64) *EaseMotion {
	return &EaseMotion{Steps: steps, Jitter: jitter, rng: newLockedRand(seed)}
}

func (m *EaseMotion) Path(from, to domain.Point) []domain.Point {
	steps := m.Steps
	if steps <= 0 {
		dist := math.Hypot(to.X-from.X, to.Y-from.Y)
		steps = int(math.Max(5, math.Min(40, dist/15)))
	}
	pts := make([]domain.Point, 0, steps)
	for i := 1; i <= steps; i++ {
		t := float64(i) / float64(steps)
		e := t * t * (3 - 2*t)
		p := domain.Point{X: from.X + (to.X-from.X)*e, Y: from.Y + (to.Y-from.Y)*e}
		if i < steps && m.Jitter > 0 && m.rng != nil {
			p.X += (m.rng.Float64()*2 - 1) * m.Jitter
			p.Y += (m.rng.Float64()*2 - 1) * m.Jitter
		}
		pts = append(pts, p)
	}
	return pts
}

// UniformCadence 在 [Min, Max] 内均匀分布的字符间隔
type UniformCadence struct {
	Min, Max time.Duration
	rng      *lockedRand
}

// NewUniformCadence seed 为 0 时使用当前时间
func NewUniformCadence(lo, hi time.Duration, seed int64) *UniformCadence {
	if hi < lo {
		lo, hi = hi, lo
	}
	return &UniformCadence{Min: lo, Max: hi, rng: newLockedRand(seed)}
}

func (c *UniformCadence) Delays(text string) []time.Duration {
	runes := []rune(text)
	out := make([]time.Duration, len(runes))
	span := int64(c.Max - c.Min)
	for i := range runes {
		d := c.Min
		if span > 0 && c.rng != nil {
			d += time.Duration(c.rng.Int63n(span + 1))
		}
		out[i] = d
	}
	return out
}

type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

func newLockedRand(seed int64) *lockedRand {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &lockedRand{r: rand.New(rand.NewSource(seed))}
}

func (l *lockedRand) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}

func (l *lockedRand) Int63n(n int64) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Int63n(n)
}
