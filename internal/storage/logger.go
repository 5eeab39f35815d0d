package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cdpstealth/internal/ctxkeys"
	"cdpstealth/internal/logger"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// slowQuery 超过该耗时的语句按警告记录
const slowQuery = 200 * time.Millisecond

// sqlLogger 把 GORM 日志转发到项目日志器，并附带上下文中的追踪ID
type sqlLogger struct {
	log   logger.Logger
	level gormlogger.LogLevel
	slow  time.Duration
}

func newSQLLogger(l logger.Logger) *sqlLogger {
	return &sqlLogger{log: l, level: gormlogger.Warn, slow: slowQuery}
}

func (s *sqlLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	cp := *s
	cp.level = level
	return &cp
}

func (s *sqlLogger) Info(ctx context.Context, msg string, data ...any) {
	if s.level >= gormlogger.Info {
		s.log.Info(fmt.Sprintf(msg, data...), "traceId", ctxkeys.TraceID(ctx))
	}
}

func (s *sqlLogger) Warn(ctx context.Context, msg string, data ...any) {
	if s.level >= gormlogger.Warn {
		s.log.Warn(fmt.Sprintf(msg, data...), "traceId", ctxkeys.TraceID(ctx))
	}
}

func (s *sqlLogger) Error(ctx context.Context, msg string, data ...any) {
	if s.level >= gormlogger.Error {
		s.log.Error(fmt.Sprintf(msg, data...), "traceId", ctxkeys.TraceID(ctx))
	}
}

// Trace 每条语句执行后回调；未找到记录不算错误
func (s *sqlLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if s.level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	kv := func() []any {
		stmt, rows := fc()
		return []any{"traceId", ctxkeys.TraceID(ctx), "sql", stmt, "rows", rows, "elapsed", elapsed}
	}
	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && s.level >= gormlogger.Error:
		s.log.Err(err, "SQL执行错误", kv()...)
	case elapsed > s.slow && s.level >= gormlogger.Warn:
		s.log.Warn("慢SQL查询", kv()...)
	case s.level >= gormlogger.Info:
		s.log.Debug("SQL执行", kv()...)
	}
}
