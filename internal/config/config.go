package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 配置文件结构体
type Config struct {
	Version    string     `yaml:"version"`
	Browser    Browser    `yaml:"browser"`
	Transport  Transport  `yaml:"transport"`
	Automation Automation `yaml:"automation"`
	Capture    Capture    `yaml:"capture"`
	Block      Block      `yaml:"block"`
	Sqlite     Sqlite     `yaml:"sqlite"`
	Log        Log        `yaml:"log"`
}

// Browser 浏览器连接配置
type Browser struct {
	// DevToolsURL 形如 http://127.0.0.1:9222，用于发现 websocket 地址
	DevToolsURL string `yaml:"devtools_url"`
	// Endpoint 直接指定 ws:// 地址时优先使用
	Endpoint string `yaml:"endpoint"`
}

// Transport 传输层配置
type Transport struct {
	CommandTimeoutMS  int  `yaml:"command_timeout_ms"`
	SynthesizeBlocked bool `yaml:"synthesize_blocked"`
}

// Automation 自动化引擎配置
type Automation struct {
	PollIntervalMS   int  `yaml:"poll_interval_ms"`
	WaitTimeoutMS    int  `yaml:"wait_timeout_ms"`
	RetryAttempts    int  `yaml:"retry_attempts"`
	RetryDelayMS     int  `yaml:"retry_delay_ms"`
	NetworkIdleMS    int  `yaml:"network_idle_ms"`
	HumanInput       bool `yaml:"human_input"`
	MouseMovesPerSec int  `yaml:"mouse_moves_per_sec"`
}

// Capture 网络捕获配置
type Capture struct {
	Enabled        bool `yaml:"enabled"`
	Persist        bool `yaml:"persist"`
	MaxPostDataLen int  `yaml:"max_post_data_len"`
}

// Block 请求拦截配置，两项都为空时不启用 Fetch 域
type Block struct {
	// URLPatterns 通配符模式，如 *.doubleclick.net/*
	URLPatterns   []string `yaml:"url_patterns"`
	// ResourceTypes 资源类型，如 Image、Font、Media
	ResourceTypes []string `yaml:"resource_types"`
}

// Enabled 是否配置了拦截规则
func (b Block) Enabled() bool { return len(b.URLPatterns) > 0 || len(b.ResourceTypes) > 0 }

// Sqlite 存储配置
type Sqlite struct {
	Dsn    string `yaml:"dsn"`
	Prefix string `yaml:"prefix"`
}

// Log 日志配置
type Log struct {
	Level  string   `yaml:"level"`
	Writer []string `yaml:"writer"`
	File   string   `yaml:"file"`
}

// NewConfig 创建默认配置
func NewConfig() *Config {
	return &Config{
		Version: "1.0.0",
		Browser: Browser{
			DevToolsURL: "http://127.0.0.1:9222",
		},
		Transport: Transport{
			CommandTimeoutMS:  30000,
			SynthesizeBlocked: true,
		},
		Automation: Automation{
			PollIntervalMS:   100,
			WaitTimeoutMS:    30000,
			RetryAttempts:    3,
			RetryDelayMS:     500,
			NetworkIdleMS:    500,
			HumanInput:       true,
			MouseMovesPerSec: 120,
		},
		Capture: Capture{
			Enabled:        true,
			MaxPostDataLen: 65536,
		},
		Sqlite: Sqlite{
			Dsn:    "db.sqlite3",
			Prefix: "cdpstealth_",
		},
		Log: Log{
			Level:  "debug",
			Writer: []string{"console", "file"},
		},
	}
}

// Load 读取 YAML 文件并覆盖默认值
func Load(path string) (*Config, error) {
	cfg := NewConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	var errs []error
	if c.Browser.DevToolsURL == "" && c.Browser.Endpoint == "" {
		errs = append(errs, errors.New("browser: devtools_url or endpoint is required"))
	}
	if c.Transport.CommandTimeoutMS <= 0 {
		errs = append(errs, errors.New("transport: command_timeout_ms must be positive"))
	}
	if c.Automation.PollIntervalMS <= 0 {
		errs = append(errs, errors.New("automation: poll_interval_ms must be positive"))
	}
	if c.Automation.RetryAttempts < 1 {
		errs = append(errs, errors.New("automation: retry_attempts must be at least 1"))
	}
	if c.Automation.RetryDelayMS < 0 || c.Automation.NetworkIdleMS < 0 || c.Automation.WaitTimeoutMS < 0 {
		errs = append(errs, errors.New("automation: durations must not be negative"))
	}
	for _, p := range c.Block.URLPatterns {
		if p == "" {
			errs = append(errs, errors.New("block: url_patterns must not contain empty patterns"))
			break
		}
	}
	return errors.Join(errs...)
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

// CommandTimeout 单条命令超时
func (t Transport) CommandTimeout() time.Duration { return ms(t.CommandTimeoutMS) }

// PollInterval 轮询间隔
func (a Automation) PollInterval() time.Duration { return ms(a.PollIntervalMS) }

// WaitTimeout 默认等待超时
func (a Automation) WaitTimeout() time.Duration { return ms(a.WaitTimeoutMS) }

// RetryDelay 重试间隔
func (a Automation) RetryDelay() time.Duration { return ms(a.RetryDelayMS) }

// NetworkIdle 网络空闲窗口
func (a Automation) NetworkIdle() time.Duration { return ms(a.NetworkIdleMS) }
