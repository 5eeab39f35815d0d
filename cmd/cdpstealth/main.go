// cdpstealth 命令行入口
//
// 使用方法:
//
//	cdpstealth version  [--config config.yaml]            # 浏览器版本
//	cdpstealth targets  [--config config.yaml]            # 列出目标
//	cdpstealth snapshot [--config config.yaml] [--out page.png] <url>
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cdpstealth/internal/config"
	"cdpstealth/internal/logger"
	"cdpstealth/internal/service"
	"cdpstealth/pkg/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "version":
		err = runVersion(ctx, os.Args[2:])
	case "targets":
		err = runTargets(ctx, os.Args[2:])
	case "snapshot":
		err = runSnapshot(ctx, os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Usage: cdpstealth <command> [flags]

Commands:
  version    Print the connected browser's version
  targets    List browser targets
  snapshot   Open a page, wait for the network to settle and save a screenshot`)
}

type common struct {
	configPath  string
	endpoint    string
	metricsAddr string
}

func (c *common) bind(fs *flag.FlagSet) {
	fs.StringVar(&c.configPath, "config", "", "Path to config file")
	fs.StringVar(&c.endpoint, "endpoint", "", "Browser websocket endpoint, overrides config")
	fs.StringVar(&c.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
}

// connect 加载配置、初始化日志并连接浏览器
func (c *common) connect(ctx context.Context) (*service.Browser, logger.Logger, error) {
	cfg := config.NewConfig()
	if c.configPath != "" {
		var err error
		if cfg, err = config.Load(c.configPath); err != nil {
			return nil, nil, err
		}
	}
	if c.endpoint != "" {
		cfg.Browser.Endpoint = c.endpoint
	}
	l := logger.New(logger.Options{Level: cfg.Log.Level, Writers: cfg.Log.Writer, File: cfg.Log.File})

	reg := prometheus.NewRegistry()
	if c.metricsAddr != "" {
		srv := &http.Server{
			Addr:              c.metricsAddr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				l.Err(err, "指标服务退出")
			}
		}()
		go func() {
			<-ctx.Done()
			_ = srv.Close()
		}()
	}

	b, err := service.Connect(ctx, cfg, l, service.WithRegisterer(reg))
	if err != nil {
		return nil, nil, err
	}
	return b, l, nil
}

func runVersion(ctx context.Context, args []string) error {
	var c common
	fs := flag.NewFlagSet("version", flag.ExitOnError)
	c.bind(fs)
	_ = fs.Parse(args)

	b, _, err := c.connect(ctx)
	if err != nil {
		return err
	}
	defer b.Disconnect()

	v, err := b.Version(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("%s (protocol %s)\n%s\n", v.Product, v.ProtocolVersion, v.UserAgent)
	return nil
}

func runTargets(ctx context.Context, args []string) error {
	var c common
	fs := flag.NewFlagSet("targets", flag.ExitOnError)
	c.bind(fs)
	_ = fs.Parse(args)

	b, _, err := c.connect(ctx)
	if err != nil {
		return err
	}
	defer b.Disconnect()

	ts, err := b.Targets(ctx)
	if err != nil {
		return err
	}
	for _, t := range ts {
		fmt.Printf("%s\t%-14s\t%s\t%s\n", t.ID, t.Type, t.Title, t.URL)
	}
	return nil
}

func runSnapshot(ctx context.Context, args []string) error {
	var c common
	fs := flag.NewFlagSet("snapshot", flag.ExitOnError)
	c.bind(fs)
	out := fs.String("out", "snapshot.png", "Screenshot output file")
	wait := fs.String("wait", "", "CSS selector to wait for before capturing")
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		return errors.New("expected exactly one url")
	}

	b, l, err := c.connect(ctx)
	if err != nil {
		return err
	}
	defer b.Disconnect()

	p, err := b.NewPage(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	defer func() { _ = b.ClosePage(context.WithoutCancel(ctx), p) }()

	if *wait != "" {
		if _, err := p.WaitForVisible(ctx, *wait); err != nil {
			return domain.Clarify(err, *wait)
		}
	}
	if p.Watcher() != nil {
		if err := p.WaitForNetworkIdle(ctx); err != nil {
			l.Warn("等待网络空闲超时，继续截图", "error", err.Error())
		}
	}

	shot, err := p.DebugScreenshot(ctx)
	if err != nil {
		return err
	}
	if err := os.WriteFile(*out, shot.Screenshot, 0o644); err != nil {
		return err
	}
	fmt.Printf("%s\n%s\n%d elements -> %s\n", shot.URL, shot.Title, shot.ElementCount, *out)
	return nil
}
