package rules

import (
	"strings"

	"github.com/tidwall/match"
)

// Action 过滤动作
type Action int

const (
	Allow Action = iota
	Block
)

// Mode 方法名匹配方式
type Mode string

const (
	ModeExact  Mode = "exact"
	ModePrefix Mode = "prefix"
	ModeGlob   Mode = "glob"
	ModeRegex  Mode = "regex"
)

// Rule 单条命令过滤规则
type Rule struct {
	Pattern string
	Mode    Mode
	Action  Action
	Reason  string
	// Fail 为 true 时返回 FilteredCommand 错误，否则合成空结果
	Fail bool
	// Warn 仅记录告警，不拦截
	Warn bool
}

// Decision 过滤结果
type Decision struct {
	Rule   *Rule
	Action Action
}

// Blocked 是否拦截
func (d Decision) Blocked() bool { return d.Action == Block }

// Warned 是否需要告警
func (d Decision) Warned() bool { return d.Rule != nil && d.Rule.Warn }

// Engine 命令过滤表，构造后不可变，可并发读取
type Engine struct {
	rules []Rule
}

// New 创建过滤表，规则按顺序匹配，先命中者生效
func New(rs []Rule) *Engine {
	cp := make([]Rule, len(rs))
	copy(cp, rs)
	return &Engine{rules: cp}
}

// Default 默认过滤表
func Default() *Engine { return New(DefaultRules()) }

// DefaultRules 会暴露自动化特征的命令
func DefaultRules() []Rule {
	return []Rule{
		{Pattern: "Runtime.enable", Mode: ModeExact, Action: Block, Reason: "Runtime.enable 会触发可检测的执行上下文通知"},
		{Pattern: "Debugger.enable", Mode: ModeExact, Action: Block, Reason: "调试器启用可被页面感知"},
		{Pattern: "HeapProfiler.*", Mode: ModeGlob, Action: Block, Reason: "堆分析器会暴露调试会话"},
		{Pattern: "Console.enable", Mode: ModeExact, Action: Block, Reason: "Console.enable 会改变 console 行为"},
		{Pattern: "Emulation.setUserAgentOverride", Mode: ModeExact, Action: Allow, Warn: true, Reason: "UA 覆盖与指纹不一致时容易被识别"},
		{Pattern: "Emulation.setTimezoneOverride", Mode: ModeExact, Action: Allow, Warn: true, Reason: "时区覆盖需与出口 IP 一致"},
		{Pattern: "Emulation.setDeviceMetricsOverride", Mode: ModeExact, Action: Allow, Warn: true, Reason: "视口覆盖可能与屏幕尺寸矛盾"},
		{Pattern: "Page.setBypassCSP", Mode: ModeExact, Action: Allow, Warn: true, Reason: "绕过 CSP 可被页面探测"},
	}
}

// Eval 查询方法名对应的动作
func (e *Engine) Eval(method string) Decision {
	for i := range e.rules {
		r := &e.rules[i]
		if Match(method, r.Pattern, r.Mode) {
			return Decision{Rule: r, Action: r.Action}
		}
	}
	return Decision{Action: Allow}
}

// Rules 返回规则副本
func (e *Engine) Rules() []Rule {
	cp := make([]Rule, len(e.rules))
	copy(cp, e.rules)
	return cp
}

// Match 按模式匹配字符串，URL 等待也复用此函数
func Match(s, pattern string, mode Mode) bool {
	switch mode {
	case ModeExact:
		return s == pattern
	case ModePrefix:
		return strings.HasPrefix(s, pattern)
	case ModeRegex:
		return matchRegex(s, pattern)
	default:
		return glob(s, pattern)
	}
}

// glob 语法与 Fetch.enable 的 urlPattern 相同，* 与 ? 可出现在任意位置
func glob(s, pattern string) bool {
	return match.Match(s, pattern)
}
