package api

import (
	"context"

	"cdpstealth/internal/automation"
	"cdpstealth/internal/config"
	"cdpstealth/internal/logger"
	"cdpstealth/internal/service"
	"cdpstealth/internal/stealth"
	"cdpstealth/pkg/domain"
)

type (
	// Page 页面自动化句柄
	Page = automation.Page
	// Element 页面元素句柄
	Element = automation.Element
	// Config 运行配置
	Config = config.Config
	// Option 连接选项
	Option = service.Option
)

// Browser 浏览器接口
type Browser interface {
	// NewPage 打开隐身初始化后的新页面
	NewPage(ctx context.Context, url string) (*Page, error)

	// Pages 列出已打开的页面
	Pages() []*Page

	// ClosePage 关闭页面
	ClosePage(ctx context.Context, p *Page) error

	// Targets 列出浏览器目标
	Targets(ctx context.Context) ([]domain.TargetInfo, error)

	// Version 浏览器版本
	Version(ctx context.Context) (domain.VersionInfo, error)

	// Done 连接断开时关闭
	Done() <-chan struct{}

	// Disconnect 断开连接但保留浏览器进程
	Disconnect() error

	// Close 关闭浏览器
	Close(ctx context.Context) error
}

var _ Browser = (*service.Browser)(nil)

// DefaultConfig 默认配置
func DefaultConfig() *Config { return config.NewConfig() }

// LoadConfig 从 YAML 文件加载配置
func LoadConfig(path string) (*Config, error) { return config.Load(path) }

// Connect 按配置连接浏览器
func Connect(ctx context.Context, cfg *Config, l logger.Logger, opts ...Option) (Browser, error) {
	b, err := service.Connect(ctx, cfg, l, opts...)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// Launch 由启动器提供调试端点后连接浏览器
func Launch(ctx context.Context, launcher stealth.Launcher, cfg *Config, l logger.Logger, opts ...Option) (Browser, error) {
	b, err := service.Launch(ctx, launcher, cfg, l, opts...)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// ClarifyError 把底层错误改写为面向脚本作者的说明
func ClarifyError(err error, selector string) error { return domain.Clarify(err, selector) }
