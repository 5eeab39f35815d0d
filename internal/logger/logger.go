package logger

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger 结构化日志接口，kv 为交替的键值对
type Logger interface {
	Debug(msg string, kv ...any)
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
	Error(msg string, kv ...any)
	Err(err error, msg string, kv ...any)
	With(kv ...any) Logger
}

// Options 日志选项
type Options struct {
	Level      string
	Writers    []string // console / file
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

type zlog struct {
	z zerolog.Logger
}

// New 按选项创建 zerolog 日志器
func New(opts Options) Logger {
	var writers []io.Writer
	for _, w := range opts.Writers {
		switch strings.ToLower(w) {
		case "console":
			writers = append(writers, zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.DateTime})
		case "file":
			writers = append(writers, fileWriter(opts))
		}
	}
	if len(writers) == 0 {
		return NewNop()
	}
	return NewWriter(zerolog.MultiLevelWriter(writers...), opts.Level)
}

// NewWriter 输出 JSON 到任意 writer
func NewWriter(w io.Writer, level string) Logger {
	z := zerolog.New(w).Level(parseLevel(level)).With().Timestamp().Logger()
	return &zlog{z: z}
}

// NewNop 丢弃所有日志
func NewNop() Logger {
	return &zlog{z: zerolog.Nop()}
}

func fileWriter(opts Options) io.Writer {
	name := opts.File
	if name == "" {
		name = filepath.Join("logs", "cdpstealth.log")
	}
	return &lumberjack.Logger{
		Filename:   name,
		MaxSize:    orDefault(opts.MaxSizeMB, 50),
		MaxBackups: orDefault(opts.MaxBackups, 5),
		MaxAge:     orDefault(opts.MaxAgeDays, 14),
		Compress:   true,
	}
}

func orDefault(v, d int) int {
	if v <= 0 {
		return d
	}
	return v
}

func parseLevel(s string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(s))
	if err != nil || s == "" {
		return zerolog.InfoLevel
	}
	return lvl
}

func (l *zlog) Debug(msg string, kv ...any) { l.z.Debug().Fields(kv).Msg(msg) }
func (l *zlog) Info(msg string, kv ...any)  { l.z.Info().Fields(kv).Msg(msg) }
func (l *zlog) Warn(msg string, kv ...any)  { l.z.Warn().Fields(kv).Msg(msg) }
func (l *zlog) Error(msg string, kv ...any) { l.z.Error().Fields(kv).Msg(msg) }

func (l *zlog) Err(err error, msg string, kv ...any) {
	l.z.Error().Err(err).Fields(kv).Msg(msg)
}

func (l *zlog) With(kv ...any) Logger {
	return &zlog{z: l.z.With().Fields(kv).Logger()}
}
